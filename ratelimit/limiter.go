// Package ratelimit enforces per-user hourly request limits, per-feature
// cooldowns and the daily image quota. Counters live in Redis when a client
// is configured and fall back to the persistent store otherwise, so limits
// survive restarts either way.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowSeconds is the fixed rate-limit bucket size.
const windowSeconds = 3600

// noticeSuppression is how long repeated throttle notices to the same user in
// the same chat stay silent.
const noticeSuppression = 600 * time.Second

// Store is the persistent counter backend. The sqlite driver satisfies it.
type Store interface {
	IncrRateLimit(ctx context.Context, userID int64, feature string, windowStart int64) (int64, error)
	GetRateLimit(ctx context.Context, userID int64, feature string, windowStart int64) (int64, error)
	ResetRateLimits(ctx context.Context, userID *int64) error
	GetCooldown(ctx context.Context, userID int64, feature string) (int64, error)
	SetCooldown(ctx context.Context, userID int64, feature string, ts int64) error
	IncrImageQuota(ctx context.Context, userID, chatID int64, date string) (int64, error)
	GetImageQuota(ctx context.Context, userID, chatID int64, date string) (int64, error)
	ResetImageQuota(ctx context.Context, chatID int64, userID *int64) error
}

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Config carries the limits. A limit of zero or below means unlimited.
type Config struct {
	PerUserPerHour  int
	FeatureLimits   map[string]int
	CooldownSeconds map[string]int
	ImageDailyLimit int
	IsAdmin         func(userID int64) bool
}

// Limiter is the combined rate limit, cooldown and quota gate.
type Limiter struct {
	cfg   Config
	store Store
	rdb   *redis.Client
	now   func() time.Time

	mu          sync.Mutex
	lastNotice  map[noticeKey]time.Time
	redisBroken bool
}

type noticeKey struct {
	chatID int64
	userID int64
}

// New creates a Limiter. rdb may be nil; the store is then the only backend.
func New(cfg Config, store Store, rdb *redis.Client) *Limiter {
	return &Limiter{
		cfg:        cfg,
		store:      store,
		rdb:        rdb,
		now:        time.Now,
		lastNotice: make(map[noticeKey]time.Time),
	}
}

// limitFor resolves the hourly limit for a feature, defaulting to the global
// per-user limit when the feature has no dedicated one.
func (l *Limiter) limitFor(feature string) int {
	if limit, ok := l.cfg.FeatureLimits[feature]; ok {
		return limit
	}
	return l.cfg.PerUserPerHour
}

// Allow counts one use of a feature and reports whether it is within the
// hourly limit. Admins always pass without consuming a slot.
func (l *Limiter) Allow(ctx context.Context, userID int64, feature string) (Decision, error) {
	if l.cfg.IsAdmin != nil && l.cfg.IsAdmin(userID) {
		return Decision{Allowed: true, Remaining: -1}, nil
	}
	limit := l.limitFor(feature)
	if limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	now := l.now().Unix()
	windowStart := now - now%windowSeconds
	count, err := l.incr(ctx, userID, feature, windowStart)
	if err != nil {
		return Decision{}, err
	}

	if count > int64(limit) {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: time.Duration(windowStart+windowSeconds-now) * time.Second,
		}, nil
	}
	return Decision{Allowed: true, Remaining: int64(limit) - count}, nil
}

// Peek reports the current count without consuming a slot.
func (l *Limiter) Peek(ctx context.Context, userID int64, feature string) (int64, error) {
	now := l.now().Unix()
	windowStart := now - now%windowSeconds
	if l.rdb != nil && !l.redisDown() {
		count, err := l.rdb.Get(ctx, rateKey(userID, feature, windowStart)).Int64()
		if err == nil {
			return count, nil
		}
		if err == redis.Nil {
			return 0, nil
		}
		l.markRedisDown(err)
	}
	return l.store.GetRateLimit(ctx, userID, feature, windowStart)
}

func (l *Limiter) incr(ctx context.Context, userID int64, feature string, windowStart int64) (int64, error) {
	if l.rdb != nil && !l.redisDown() {
		key := rateKey(userID, feature, windowStart)
		count, err := l.rdb.Incr(ctx, key).Result()
		if err == nil {
			if count == 1 {
				l.rdb.Expire(ctx, key, windowSeconds*time.Second)
			}
			return count, nil
		}
		l.markRedisDown(err)
	}
	return l.store.IncrRateLimit(ctx, userID, feature, windowStart)
}

// OnCooldown reports whether a feature is still cooling down for a user and
// how long remains.
func (l *Limiter) OnCooldown(ctx context.Context, userID int64, feature string) (bool, time.Duration, error) {
	if l.cfg.IsAdmin != nil && l.cfg.IsAdmin(userID) {
		return false, 0, nil
	}
	seconds, ok := l.cfg.CooldownSeconds[feature]
	if !ok || seconds <= 0 {
		return false, 0, nil
	}
	lastUsed, err := l.store.GetCooldown(ctx, userID, feature)
	if err != nil {
		return false, 0, err
	}
	if lastUsed == 0 {
		return false, 0, nil
	}
	elapsed := l.now().Unix() - lastUsed
	if elapsed >= int64(seconds) {
		return false, 0, nil
	}
	return true, time.Duration(int64(seconds)-elapsed) * time.Second, nil
}

// MarkUsed records the cooldown timestamp for a feature.
func (l *Limiter) MarkUsed(ctx context.Context, userID int64, feature string) error {
	if _, ok := l.cfg.CooldownSeconds[feature]; !ok {
		return nil
	}
	return l.store.SetCooldown(ctx, userID, feature, l.now().Unix())
}

// AllowImage counts one image generation against the daily per-user quota.
func (l *Limiter) AllowImage(ctx context.Context, userID, chatID int64) (Decision, error) {
	if l.cfg.IsAdmin != nil && l.cfg.IsAdmin(userID) {
		return Decision{Allowed: true, Remaining: -1}, nil
	}
	if l.cfg.ImageDailyLimit <= 0 {
		return Decision{Allowed: true, Remaining: -1}, nil
	}
	date := l.now().UTC().Format("2006-01-02")
	count, err := l.store.IncrImageQuota(ctx, userID, chatID, date)
	if err != nil {
		return Decision{}, err
	}
	if count > int64(l.cfg.ImageDailyLimit) {
		midnight := l.now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
		return Decision{Allowed: false, RetryAfter: midnight.Sub(l.now().UTC())}, nil
	}
	return Decision{Allowed: true, Remaining: int64(l.cfg.ImageDailyLimit) - count}, nil
}

// ImageQuotaUsed returns today's image count without consuming the quota.
func (l *Limiter) ImageQuotaUsed(ctx context.Context, userID, chatID int64) (int64, error) {
	date := l.now().UTC().Format("2006-01-02")
	return l.store.GetImageQuota(ctx, userID, chatID, date)
}

// Reset clears rate-limit buckets. userID nil clears everyone.
func (l *Limiter) Reset(ctx context.Context, userID *int64) error {
	if l.rdb != nil && !l.redisDown() {
		// Redis keys expire within the hour anyway; only the persistent rows
		// need an explicit reset.
		if userID != nil {
			iter := l.rdb.Scan(ctx, 0, fmt.Sprintf("rl:%d:*", *userID), 100).Iterator()
			for iter.Next(ctx) {
				l.rdb.Del(ctx, iter.Val())
			}
		}
	}
	return l.store.ResetRateLimits(ctx, userID)
}

// ResetImageQuota clears image quota counters for a chat, optionally for one
// user only.
func (l *Limiter) ResetImageQuota(ctx context.Context, chatID int64, userID *int64) error {
	return l.store.ResetImageQuota(ctx, chatID, userID)
}

// ShouldNotify reports whether a throttle notice may be sent to this user in
// this chat, and records the notice when it may. Repeats within the
// suppression window stay silent.
func (l *Limiter) ShouldNotify(chatID, userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := noticeKey{chatID: chatID, userID: userID}
	now := l.now()
	if last, ok := l.lastNotice[key]; ok && now.Sub(last) < noticeSuppression {
		return false
	}
	l.lastNotice[key] = now
	return true
}

func (l *Limiter) redisDown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.redisBroken
}

func (l *Limiter) markRedisDown(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.redisBroken {
		slog.Warn("redis rate-limit backend unavailable, falling back to store", "error", err)
		l.redisBroken = true
	}
}

func rateKey(userID int64, feature string, windowStart int64) string {
	return fmt.Sprintf("rl:%d:%s:%d", userID, feature, windowStart)
}
