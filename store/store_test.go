package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/internal/profile"
	"github.com/gryagbot/gryag/store"
	"github.com/gryagbot/gryag/store/db/sqlite"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{Mode: "dev", DSN: "file::memory:"}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	s := store.New(driver, p)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSummaryUpdateInvalidatesProfileCache(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p, err := s.UpsertUserProfile(ctx, &store.UpsertUserProfile{
		UserID:      100,
		ChatID:      -42,
		DisplayName: "Олена",
		SeenTs:      1000,
	})
	require.NoError(t, err)

	// Warm the cache.
	cached, err := s.GetUserProfile(ctx, 100, -42)
	require.NoError(t, err)
	require.Empty(t, cached.Summary)

	require.NoError(t, s.UpdateUserProfileSummary(ctx, &store.UpdateUserProfileSummary{
		ID:        p.ID,
		UserID:    p.UserID,
		ChatID:    p.ChatID,
		Summary:   "любить каву і велосипеди",
		UpdatedTs: time.Now().Unix(),
	}))

	// The very next read must see the new summary, not the cached row.
	fresh, err := s.GetUserProfile(ctx, 100, -42)
	require.NoError(t, err)
	assert.Equal(t, "любить каву і велосипеди", fresh.Summary)
}
