package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gryagbot/gryag/internal/profile"
	"github.com/gryagbot/gryag/store/cache"
)

const (
	writeRetries    = 3
	writeRetryDelay = 100 * time.Millisecond
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// Caches
	profileCache *cache.Cache // (user, chat) -> *UserProfile
	promptCache  *cache.Cache // (scope, chat) -> *SystemPrompt
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	cacheConfig := cache.Config{
		DefaultTTL:      10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		MaxItems:        1000,
	}

	return &Store{
		driver:       driver,
		profile:      profile,
		profileCache: cache.New(cacheConfig),
		promptCache:  cache.New(cache.Config{DefaultTTL: time.Minute, CleanupInterval: time.Minute, MaxItems: 100}),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	s.profileCache.Close()
	s.promptCache.Close()
	return s.driver.Close()
}

// retryWrite retries a transient write failure with bounded backoff.
func retryWrite(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < writeRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		select {
		case <-time.After(writeRetryDelay << attempt):
		case <-ctx.Done():
			return err
		}
	}
	return err
}

// Message model.

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	var msg *Message
	err := retryWrite(ctx, func() error {
		var err error
		msg, err = s.driver.CreateMessage(ctx, create)
		return err
	})
	return msg, err
}

func (s *Store) ListRecentMessages(ctx context.Context, chatID, threadID int64, limit int) ([]*Message, error) {
	return s.driver.ListRecentMessages(ctx, chatID, threadID, limit)
}

func (s *Store) GetMessageByTGID(ctx context.Context, chatID int64, tgMessageID int) (*Message, error) {
	return s.driver.GetMessageByTGID(ctx, chatID, tgMessageID)
}

func (s *Store) ListEmbeddedMessages(ctx context.Context, chatID int64, threadID *int64, limit int) ([]*Message, error) {
	return s.driver.ListEmbeddedMessages(ctx, chatID, threadID, limit)
}

func (s *Store) SearchMessagesFTS(ctx context.Context, chatID int64, threadID *int64, query string, limit int) ([]*ScoredMessage, error) {
	return s.driver.SearchMessagesFTS(ctx, chatID, threadID, query, limit)
}

func (s *Store) BackfillEmbedding(ctx context.Context, id int64, vec []float32) error {
	return retryWrite(ctx, func() error {
		return s.driver.BackfillEmbedding(ctx, id, vec)
	})
}

func (s *Store) PruneMessages(ctx context.Context, beforeTs int64, batch int) (int64, error) {
	return s.driver.PruneMessages(ctx, beforeTs, batch)
}

func (s *Store) UserMessageCounts(ctx context.Context, chatID int64) (map[int64]int64, error) {
	return s.driver.UserMessageCounts(ctx, chatID)
}

// User profile model.

func profileCacheKey(userID, chatID int64) string {
	return fmt.Sprintf("%d:%d", userID, chatID)
}

func (s *Store) UpsertUserProfile(ctx context.Context, upsert *UpsertUserProfile) (*UserProfile, error) {
	p, err := s.driver.UpsertUserProfile(ctx, upsert)
	if err != nil {
		return nil, err
	}
	s.profileCache.Set(profileCacheKey(p.UserID, p.ChatID), p)
	return p, nil
}

func (s *Store) GetUserProfile(ctx context.Context, userID, chatID int64) (*UserProfile, error) {
	if v, ok := s.profileCache.Get(profileCacheKey(userID, chatID)); ok {
		if p, ok := v.(*UserProfile); ok {
			return p, nil
		}
	}
	p, err := s.driver.GetUserProfile(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		s.profileCache.Set(profileCacheKey(userID, chatID), p)
	}
	return p, nil
}

func (s *Store) ListUserProfiles(ctx context.Context, find *FindUserProfile) ([]*UserProfile, error) {
	return s.driver.ListUserProfiles(ctx, find)
}

func (s *Store) ListProfilesNeedingSummary(ctx context.Context, staleBefore int64, limit int) ([]*UserProfile, error) {
	return s.driver.ListProfilesNeedingSummary(ctx, staleBefore, limit)
}

func (s *Store) UpdateUserProfileSummary(ctx context.Context, update *UpdateUserProfileSummary) error {
	err := s.driver.UpdateUserProfileSummary(ctx, update)
	if err == nil {
		// The cached row is stale now; drop it and let the next read reload.
		s.profileCache.Delete(profileCacheKey(update.UserID, update.ChatID))
	}
	return err
}

// Fact model.

func (s *Store) CreateFact(ctx context.Context, create *Fact) (*Fact, error) {
	var fact *Fact
	err := retryWrite(ctx, func() error {
		var err error
		fact, err = s.driver.CreateFact(ctx, create)
		return err
	})
	return fact, err
}

func (s *Store) ListFacts(ctx context.Context, find *FindFact) ([]*Fact, error) {
	return s.driver.ListFacts(ctx, find)
}

func (s *Store) ReinforceFact(ctx context.Context, update *ReinforceFact) error {
	return retryWrite(ctx, func() error {
		return s.driver.ReinforceFact(ctx, update)
	})
}

func (s *Store) DeactivateFact(ctx context.Context, id int64) error {
	return s.driver.DeactivateFact(ctx, id)
}

func (s *Store) DeleteFact(ctx context.Context, id int64) error {
	return s.driver.DeleteFact(ctx, id)
}

func (s *Store) DeleteFactsByEntity(ctx context.Context, entityType FactEntity, entityID int64) (int64, error) {
	return s.driver.DeleteFactsByEntity(ctx, entityType, entityID)
}

// Episode model.

func (s *Store) CreateEpisode(ctx context.Context, create *Episode) (*Episode, error) {
	var ep *Episode
	err := retryWrite(ctx, func() error {
		var err error
		ep, err = s.driver.CreateEpisode(ctx, create)
		return err
	})
	return ep, err
}

func (s *Store) ListEpisodes(ctx context.Context, find *FindEpisode) ([]*Episode, error) {
	return s.driver.ListEpisodes(ctx, find)
}

func (s *Store) RecordEpisodeAccess(ctx context.Context, id, ts int64) error {
	return s.driver.RecordEpisodeAccess(ctx, id, ts)
}

// System prompt model.

func promptCacheKey(scope PromptScope, chatID int64) string {
	return fmt.Sprintf("%s:%d", scope, chatID)
}

func (s *Store) CreateSystemPrompt(ctx context.Context, create *SystemPrompt) (*SystemPrompt, error) {
	p, err := s.driver.CreateSystemPrompt(ctx, create)
	if err == nil {
		s.promptCache.Delete(promptCacheKey(p.Scope, p.ChatID))
	}
	return p, err
}

func (s *Store) ListSystemPrompts(ctx context.Context, find *FindSystemPrompt) ([]*SystemPrompt, error) {
	return s.driver.ListSystemPrompts(ctx, find)
}

// GetActiveSystemPrompt returns the active prompt for (scope, chat), or nil.
func (s *Store) GetActiveSystemPrompt(ctx context.Context, scope PromptScope, chatID int64) (*SystemPrompt, error) {
	key := promptCacheKey(scope, chatID)
	if v, ok := s.promptCache.Get(key); ok {
		if p, ok := v.(*SystemPrompt); ok {
			return p, nil
		}
	}
	prompts, err := s.driver.ListSystemPrompts(ctx, &FindSystemPrompt{
		Scope:      &scope,
		ChatID:     &chatID,
		OnlyActive: true,
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(prompts) == 0 {
		return nil, nil
	}
	s.promptCache.Set(key, prompts[0])
	return prompts[0], nil
}

func (s *Store) ActivateSystemPrompt(ctx context.Context, scope PromptScope, chatID int64, version int) error {
	err := s.driver.ActivateSystemPrompt(ctx, scope, chatID, version)
	if err == nil {
		s.promptCache.Delete(promptCacheKey(scope, chatID))
	}
	return err
}

// Rate limit model.

func (s *Store) IncrRateLimit(ctx context.Context, userID int64, feature string, windowStart int64) (int64, error) {
	return s.driver.IncrRateLimit(ctx, userID, feature, windowStart)
}

func (s *Store) GetRateLimit(ctx context.Context, userID int64, feature string, windowStart int64) (int64, error) {
	return s.driver.GetRateLimit(ctx, userID, feature, windowStart)
}

func (s *Store) ResetRateLimits(ctx context.Context, userID *int64) error {
	return s.driver.ResetRateLimits(ctx, userID)
}

func (s *Store) GetCooldown(ctx context.Context, userID int64, feature string) (int64, error) {
	return s.driver.GetCooldown(ctx, userID, feature)
}

func (s *Store) SetCooldown(ctx context.Context, userID int64, feature string, ts int64) error {
	return s.driver.SetCooldown(ctx, userID, feature, ts)
}

func (s *Store) IncrImageQuota(ctx context.Context, userID, chatID int64, date string) (int64, error) {
	return s.driver.IncrImageQuota(ctx, userID, chatID, date)
}

func (s *Store) GetImageQuota(ctx context.Context, userID, chatID int64, date string) (int64, error) {
	return s.driver.GetImageQuota(ctx, userID, chatID, date)
}

func (s *Store) ResetImageQuota(ctx context.Context, chatID int64, userID *int64) error {
	return s.driver.ResetImageQuota(ctx, chatID, userID)
}

// Self-learning model.

func (s *Store) CreateInteractionOutcome(ctx context.Context, create *InteractionOutcome) (*InteractionOutcome, error) {
	var out *InteractionOutcome
	err := retryWrite(ctx, func() error {
		var err error
		out, err = s.driver.CreateInteractionOutcome(ctx, create)
		return err
	})
	return out, err
}

func (s *Store) ListInteractionOutcomes(ctx context.Context, find *FindInteractionOutcome) ([]*InteractionOutcome, error) {
	return s.driver.ListInteractionOutcomes(ctx, find)
}

func (s *Store) CreateInsight(ctx context.Context, create *Insight) (*Insight, error) {
	return s.driver.CreateInsight(ctx, create)
}

func (s *Store) ListInsights(ctx context.Context, limit int) ([]*Insight, error) {
	return s.driver.ListInsights(ctx, limit)
}

// Ban model.

func (s *Store) CreateBan(ctx context.Context, create *Ban) error {
	return s.driver.CreateBan(ctx, create)
}

func (s *Store) DeleteBan(ctx context.Context, chatID, userID int64) error {
	return s.driver.DeleteBan(ctx, chatID, userID)
}

func (s *Store) IsBanned(ctx context.Context, chatID, userID int64) (bool, error) {
	return s.driver.IsBanned(ctx, chatID, userID)
}

func (s *Store) Vacuum(ctx context.Context) error {
	return s.driver.Vacuum(ctx)
}
