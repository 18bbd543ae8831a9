package bot

import (
	"sync"
	"time"
)

// lockTTL is the safety bound after which a stuck lock self-releases.
const lockTTL = 300 * time.Second

type lockKey struct {
	chatID int64
	userID int64
}

// processingLocks serializes addressed-message handling per (chat, user). A
// second addressed message arriving while the first is being generated is
// dropped, not queued.
type processingLocks struct {
	mu    sync.Mutex
	held  map[lockKey]time.Time
	now   func() time.Time
	drops int64
}

func newProcessingLocks() *processingLocks {
	return &processingLocks{
		held: make(map[lockKey]time.Time),
		now:  time.Now,
	}
}

// tryAcquire takes the lock when free or expired. Returns false when held.
func (p *processingLocks) tryAcquire(chatID, userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := lockKey{chatID: chatID, userID: userID}
	if acquired, ok := p.held[key]; ok && p.now().Sub(acquired) < lockTTL {
		p.drops++
		return false
	}
	p.held[key] = p.now()
	return true
}

// release frees the lock.
func (p *processingLocks) release(chatID, userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.held, lockKey{chatID: chatID, userID: userID})
}

// dropCount returns how many messages were dropped on held locks.
func (p *processingLocks) dropCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drops
}
