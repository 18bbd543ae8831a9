package bot

import (
	"context"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func albumMsg(groupID string, messageID int) *tgbotapi.Message {
	return &tgbotapi.Message{MessageID: messageID, MediaGroupID: groupID}
}

func TestAlbumFirstMessageCollects(t *testing.T) {
	a := newAlbumAggregator()

	assert.True(t, a.add(albumMsg("g1", 1)))
	assert.False(t, a.add(albumMsg("g1", 2)))
	assert.False(t, a.add(albumMsg("g1", 3)))

	// A second group is independent.
	assert.True(t, a.add(albumMsg("g2", 4)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // skip the aggregation wait
	msgs := a.collect(ctx, "g1")
	require.Len(t, msgs, 3)
	assert.Equal(t, 1, msgs[0].MessageID)
	assert.Equal(t, 3, msgs[2].MessageID)

	// Collected groups are gone.
	assert.Nil(t, a.collect(ctx, "g1"))
}

func TestAlbumStaleEntryRestarts(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := newAlbumAggregator()
	a.now = func() time.Time { return now }

	assert.True(t, a.add(albumMsg("g1", 1)))

	// Past albumMaxAge a new message with the same group id starts over.
	now = now.Add(albumMaxAge + time.Second)
	assert.True(t, a.add(albumMsg("g1", 2)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	msgs := a.collect(ctx, "g1")
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, msgs[0].MessageID)
}

func TestAlbumCollectUnknownGroup(t *testing.T) {
	a := newAlbumAggregator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, a.collect(ctx, "missing"))
}
