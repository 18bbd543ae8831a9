package bot

import (
	"context"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	// albumWait is how long the first message of a media group waits for its
	// siblings before processing.
	albumWait = 1500 * time.Millisecond
	// albumMaxAge bounds how long album entries stay cached.
	albumMaxAge = 30 * time.Second
	// albumSweepInterval is the best-effort cleanup cadence.
	albumSweepInterval = 60 * time.Second
)

type albumEntry struct {
	messages  []*tgbotapi.Message
	createdAt time.Time
	claimed   bool
}

// albumAggregator groups messages sharing a media_group_id so a photo album
// is handled as one logical message.
type albumAggregator struct {
	mu      sync.Mutex
	entries map[string]*albumEntry
	now     func() time.Time
}

func newAlbumAggregator() *albumAggregator {
	return &albumAggregator{
		entries: make(map[string]*albumEntry),
		now:     time.Now,
	}
}

// add registers an album message. The first caller per group becomes the
// collector: it should wait albumWait and then call collect. Later siblings
// return false and are otherwise dropped; their media rides along with the
// collector.
func (a *albumAggregator) add(msg *tgbotapi.Message) (collector bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[msg.MediaGroupID]
	if !ok || a.now().Sub(e.createdAt) > albumMaxAge {
		a.entries[msg.MediaGroupID] = &albumEntry{
			messages:  []*tgbotapi.Message{msg},
			createdAt: a.now(),
		}
		return true
	}
	e.messages = append(e.messages, msg)
	return false
}

// collect waits the aggregation window (unless the context ends first) and
// returns every message of the group in arrival order.
func (a *albumAggregator) collect(ctx context.Context, mediaGroupID string) []*tgbotapi.Message {
	select {
	case <-ctx.Done():
	case <-time.After(albumWait):
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[mediaGroupID]
	if !ok || e.claimed {
		return nil
	}
	e.claimed = true
	delete(a.entries, mediaGroupID)
	return e.messages
}

// startSweeper evicts stale entries until the context is canceled.
func (a *albumAggregator) startSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(albumSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.mu.Lock()
				for id, e := range a.entries {
					if a.now().Sub(e.createdAt) > albumMaxAge {
						delete(a.entries, id)
					}
				}
				a.mu.Unlock()
			}
		}
	}()
}
