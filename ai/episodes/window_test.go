package episodes

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/store"
)

func TestSnapshotIsDetachedFromLiveWindow(t *testing.T) {
	tr := NewTracker()
	tr.Track(&store.Message{ChatID: 1, UserID: 10, Ts: 1000, Text: "перше"})
	tr.Track(&store.Message{ChatID: 1, UserID: 11, Ts: 1010, Text: "друге"})

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	require.Len(t, snap[0].Messages, 2)

	// Later activity must not show up in the already-taken snapshot.
	tr.Track(&store.Message{ChatID: 1, UserID: 12, Ts: 2000, Text: "третє"})
	assert.Len(t, snap[0].Messages, 2)
	assert.Len(t, snap[0].Participants, 2)
	assert.Equal(t, time.Unix(1010, 0), snap[0].LastActivity)
}

func TestTrackReturnsDetachedCopy(t *testing.T) {
	tr := NewTracker()
	w, size := tr.Track(&store.Message{ChatID: 1, UserID: 10, Ts: 1000, Text: "перше"})
	require.Equal(t, 1, size)

	tr.Track(&store.Message{ChatID: 1, UserID: 11, Ts: 1010, Text: "друге"})
	assert.Len(t, w.Messages, 1)
}

func TestTrackerConcurrentTrackAndSnapshot(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			tr.Track(&store.Message{ChatID: 1, UserID: int64(10 + i%3), Ts: int64(1000 + i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			for _, w := range tr.Snapshot() {
				_ = w.LastActivity
				for _, m := range w.Messages {
					_ = m.Ts
				}
			}
		}
	}()
	wg.Wait()

	ws := tr.Snapshot()
	require.Len(t, ws, 1)
	assert.Len(t, ws[0].Messages, 2000)
}
