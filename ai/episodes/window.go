// Package episodes implements episodic memory: in-memory conversation
// windows, boundary detection over temporal, topic-marker and semantic
// signals, and episode creation and retrieval.
package episodes

import (
	"sync"
	"time"

	"github.com/gryagbot/gryag/store"
)

// windowKey identifies one conversation window.
type windowKey struct {
	chatID   int64
	threadID int64
}

// Window is the in-memory buffer from which episodes are carved. At most one
// exists per (chat, thread) at any time.
type Window struct {
	ChatID       int64
	ThreadID     int64
	Messages     []*store.Message
	Participants map[int64]struct{}
	CreatedAt    time.Time
	LastActivity time.Time
}

func (w *Window) addMessage(m *store.Message) {
	w.Messages = append(w.Messages, m)
	if m.UserID != 0 {
		w.Participants[m.UserID] = struct{}{}
	}
	w.LastActivity = time.Unix(m.Ts, 0)
}

// ParticipantIDs returns the participant set as a sorted-insensitive slice.
func (w *Window) ParticipantIDs() []int64 {
	ids := make([]int64, 0, len(w.Participants))
	for id := range w.Participants {
		ids = append(ids, id)
	}
	return ids
}

// Tracker owns the live windows. All methods are safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	windows map[windowKey]*Window
	now     func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		windows: make(map[windowKey]*Window),
		now:     time.Now,
	}
}

// Track appends a message to the chat's window, creating it when absent, and
// returns a copy of the window plus its current size.
func (t *Tracker) Track(m *store.Message) (*Window, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := windowKey{chatID: m.ChatID, threadID: m.ThreadID}
	w, ok := t.windows[key]
	if !ok {
		w = &Window{
			ChatID:       m.ChatID,
			ThreadID:     m.ThreadID,
			Participants: make(map[int64]struct{}),
			CreatedAt:    t.now(),
		}
		t.windows[key] = w
	}
	w.addMessage(m)
	return w.clone(), len(w.Messages)
}

// Close removes and returns a window. Nil when none exists.
func (t *Tracker) Close(chatID, threadID int64) *Window {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := windowKey{chatID: chatID, threadID: threadID}
	w := t.windows[key]
	delete(t.windows, key)
	return w
}

// clone copies a window so readers never share state with the pipeline
// goroutine that keeps appending to the original.
func (w *Window) clone() *Window {
	c := &Window{
		ChatID:       w.ChatID,
		ThreadID:     w.ThreadID,
		Messages:     append([]*store.Message(nil), w.Messages...),
		Participants: make(map[int64]struct{}, len(w.Participants)),
		CreatedAt:    w.CreatedAt,
		LastActivity: w.LastActivity,
	}
	for id := range w.Participants {
		c.Participants[id] = struct{}{}
	}
	return c
}

// Snapshot returns point-in-time copies of the live windows, taken under the
// tracker lock. Track keeps mutating the originals concurrently.
func (t *Tracker) Snapshot() []*Window {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Window, 0, len(t.windows))
	for _, w := range t.windows {
		out = append(out, w.clone())
	}
	return out
}

// Len returns the number of live windows.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}
