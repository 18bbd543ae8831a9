package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all the methods that the store needs to implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate applies the schema idempotently. Safe to call at every startup.
	Migrate(ctx context.Context) error

	// Message model.
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListRecentMessages(ctx context.Context, chatID, threadID int64, limit int) ([]*Message, error)
	GetMessageByTGID(ctx context.Context, chatID int64, tgMessageID int) (*Message, error)
	ListEmbeddedMessages(ctx context.Context, chatID int64, threadID *int64, limit int) ([]*Message, error)
	SearchMessagesFTS(ctx context.Context, chatID int64, threadID *int64, query string, limit int) ([]*ScoredMessage, error)
	BackfillEmbedding(ctx context.Context, id int64, vec []float32) error
	PruneMessages(ctx context.Context, beforeTs int64, batch int) (int64, error)
	UserMessageCounts(ctx context.Context, chatID int64) (map[int64]int64, error)

	// User profile model.
	UpsertUserProfile(ctx context.Context, upsert *UpsertUserProfile) (*UserProfile, error)
	GetUserProfile(ctx context.Context, userID, chatID int64) (*UserProfile, error)
	ListUserProfiles(ctx context.Context, find *FindUserProfile) ([]*UserProfile, error)
	ListProfilesNeedingSummary(ctx context.Context, staleBefore int64, limit int) ([]*UserProfile, error)
	UpdateUserProfileSummary(ctx context.Context, update *UpdateUserProfileSummary) error

	// Fact model.
	CreateFact(ctx context.Context, create *Fact) (*Fact, error)
	ListFacts(ctx context.Context, find *FindFact) ([]*Fact, error)
	ReinforceFact(ctx context.Context, update *ReinforceFact) error
	DeactivateFact(ctx context.Context, id int64) error
	DeleteFact(ctx context.Context, id int64) error
	DeleteFactsByEntity(ctx context.Context, entityType FactEntity, entityID int64) (int64, error)

	// Episode model.
	CreateEpisode(ctx context.Context, create *Episode) (*Episode, error)
	ListEpisodes(ctx context.Context, find *FindEpisode) ([]*Episode, error)
	RecordEpisodeAccess(ctx context.Context, id, ts int64) error

	// System prompt model. CreateSystemPrompt assigns the next version for
	// the scope and, when the new row is active, deactivates the previous
	// active row in the same transaction.
	CreateSystemPrompt(ctx context.Context, create *SystemPrompt) (*SystemPrompt, error)
	ListSystemPrompts(ctx context.Context, find *FindSystemPrompt) ([]*SystemPrompt, error)
	ActivateSystemPrompt(ctx context.Context, scope PromptScope, chatID int64, version int) error

	// Rate limit model (persistent fallback of the shared-cache fast path).
	IncrRateLimit(ctx context.Context, userID int64, feature string, windowStart int64) (int64, error)
	GetRateLimit(ctx context.Context, userID int64, feature string, windowStart int64) (int64, error)
	ResetRateLimits(ctx context.Context, userID *int64) error
	GetCooldown(ctx context.Context, userID int64, feature string) (int64, error)
	SetCooldown(ctx context.Context, userID int64, feature string, ts int64) error
	IncrImageQuota(ctx context.Context, userID, chatID int64, date string) (int64, error)
	GetImageQuota(ctx context.Context, userID, chatID int64, date string) (int64, error)
	ResetImageQuota(ctx context.Context, chatID int64, userID *int64) error

	// Self-learning model.
	CreateInteractionOutcome(ctx context.Context, create *InteractionOutcome) (*InteractionOutcome, error)
	ListInteractionOutcomes(ctx context.Context, find *FindInteractionOutcome) ([]*InteractionOutcome, error)
	CreateInsight(ctx context.Context, create *Insight) (*Insight, error)
	ListInsights(ctx context.Context, limit int) ([]*Insight, error)

	// Ban model.
	CreateBan(ctx context.Context, create *Ban) error
	DeleteBan(ctx context.Context, chatID, userID int64) error
	IsBanned(ctx context.Context, chatID, userID int64) (bool, error)

	Vacuum(ctx context.Context) error
}
