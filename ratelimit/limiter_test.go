package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store for limiter tests.
type fakeStore struct {
	mu        sync.Mutex
	rates     map[string]int64
	cooldowns map[string]int64
	quotas    map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rates:     make(map[string]int64),
		cooldowns: make(map[string]int64),
		quotas:    make(map[string]int64),
	}
}

func rateFakeKey(userID int64, feature string, windowStart int64) string {
	return fmt.Sprintf("%d:%s:%d", userID, feature, windowStart)
}

func (f *fakeStore) IncrRateLimit(_ context.Context, userID int64, feature string, windowStart int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := rateFakeKey(userID, feature, windowStart)
	f.rates[k]++
	return f.rates[k], nil
}

func (f *fakeStore) GetRateLimit(_ context.Context, userID int64, feature string, windowStart int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rates[rateFakeKey(userID, feature, windowStart)], nil
}

func (f *fakeStore) ResetRateLimits(_ context.Context, _ *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates = make(map[string]int64)
	return nil
}

func (f *fakeStore) GetCooldown(_ context.Context, userID int64, feature string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cooldowns[fmt.Sprintf("%d:%s", userID, feature)], nil
}

func (f *fakeStore) SetCooldown(_ context.Context, userID int64, feature string, ts int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cooldowns[fmt.Sprintf("%d:%s", userID, feature)] = ts
	return nil
}

func (f *fakeStore) IncrImageQuota(_ context.Context, userID, chatID int64, date string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := fmt.Sprintf("%d:%d:%s", userID, chatID, date)
	f.quotas[k]++
	return f.quotas[k], nil
}

func (f *fakeStore) GetImageQuota(_ context.Context, userID, chatID int64, date string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotas[fmt.Sprintf("%d:%d:%s", userID, chatID, date)], nil
}

func (f *fakeStore) ResetImageQuota(_ context.Context, _ int64, _ *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotas = make(map[string]int64)
	return nil
}

func newTestLimiter(t *testing.T, limit int, admins ...int64) (*Limiter, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := New(Config{
		PerUserPerHour: limit,
		FeatureLimits:  map[string]int{"weather": 2},
		CooldownSeconds: map[string]int{
			"weather": 30,
		},
		ImageDailyLimit: 2,
		IsAdmin: func(userID int64) bool {
			for _, a := range admins {
				if a == userID {
					return true
				}
			}
			return false
		},
	}, newFakeStore(), nil)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllowMonotonicity(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, 3)

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, 100, "chat")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should pass", i+1)
		assert.Equal(t, int64(3-i-1), d.Remaining)
	}

	d, err := l.Allow(ctx, 100, "chat")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Hour)
}

func TestAdminBypass(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, 1, 777)

	for i := 0; i < 10; i++ {
		d, err := l.Allow(ctx, 777, "chat")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	onCooldown, _, err := l.OnCooldown(ctx, 777, "weather")
	require.NoError(t, err)
	assert.False(t, onCooldown)
}

func TestWindowReset(t *testing.T) {
	ctx := context.Background()
	l, now := newTestLimiter(t, 1)

	d, err := l.Allow(ctx, 5, "chat")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, 5, "chat")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// Next hour starts a fresh bucket.
	*now = now.Add(time.Hour)
	d, err = l.Allow(ctx, 5, "chat")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestUnlimitedFeature(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, 0)

	for i := 0; i < 100; i++ {
		d, err := l.Allow(ctx, 9, "chat")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

func TestCooldown(t *testing.T) {
	ctx := context.Background()
	l, now := newTestLimiter(t, 5)

	onCooldown, _, err := l.OnCooldown(ctx, 3, "weather")
	require.NoError(t, err)
	assert.False(t, onCooldown)

	require.NoError(t, l.MarkUsed(ctx, 3, "weather"))

	onCooldown, retry, err := l.OnCooldown(ctx, 3, "weather")
	require.NoError(t, err)
	assert.True(t, onCooldown)
	assert.Equal(t, 30*time.Second, retry)

	*now = now.Add(31 * time.Second)
	onCooldown, _, err = l.OnCooldown(ctx, 3, "weather")
	require.NoError(t, err)
	assert.False(t, onCooldown)
}

func TestImageQuota(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, 5)

	for i := 0; i < 2; i++ {
		d, err := l.AllowImage(ctx, 4, 10)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := l.AllowImage(ctx, 4, 10)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestNoticeSuppression(t *testing.T) {
	l, now := newTestLimiter(t, 1)

	assert.True(t, l.ShouldNotify(1, 100))
	assert.False(t, l.ShouldNotify(1, 100))
	assert.False(t, l.ShouldNotify(1, 100))

	// Another user in the same chat is tracked independently.
	assert.True(t, l.ShouldNotify(1, 200))

	// After the suppression window a new notice is allowed.
	*now = now.Add(601 * time.Second)
	assert.True(t, l.ShouldNotify(1, 100))
}
