package gemini

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/genai"
)

// ErrAllKeysBlocked is returned when every key in the pool is quota-blocked.
var ErrAllKeysBlocked = errors.New("gemini: all API keys are quota-blocked")

type apiKey struct {
	client       *genai.Client
	blockedUntil time.Time
}

// keyPool holds an ordered set of API keys, each with its own client. On a
// quota error the current key is blocked for blockSeconds and the next
// available key is tried.
type keyPool struct {
	mu           sync.Mutex
	keys         []*apiKey
	blockSeconds int
	now          func() time.Time
}

func newKeyPool(ctx context.Context, apiKeys []string, blockSeconds int) (*keyPool, error) {
	if len(apiKeys) == 0 {
		return nil, errors.New("gemini: at least one API key required")
	}
	if blockSeconds <= 0 {
		blockSeconds = 300
	}
	pool := &keyPool{blockSeconds: blockSeconds, now: time.Now}
	for _, key := range apiKeys {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  key,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create genai client")
		}
		pool.keys = append(pool.keys, &apiKey{client: client})
	}
	return pool, nil
}

// next returns the first key that is not blocked, preserving pool order so
// the primary key is always preferred once its block expires.
func (p *keyPool) next() (*apiKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for _, k := range p.keys {
		if !now.Before(k.blockedUntil) {
			return k, nil
		}
	}
	return nil, ErrAllKeysBlocked
}

// block marks a key quota-blocked.
func (p *keyPool) block(k *apiKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k.blockedUntil = p.now().Add(time.Duration(p.blockSeconds) * time.Second)
}

func (p *keyPool) size() int {
	return len(p.keys)
}
