package store

import "math"

// FactEntity is the kind of subject a fact is about.
type FactEntity string

const (
	FactEntityUser FactEntity = "user"
	FactEntityChat FactEntity = "chat"
	FactEntityBot  FactEntity = "bot"
)

// ChatFactCategories is the closed category set for chat-level facts.
var ChatFactCategories = []string{
	"language", "culture", "norms", "preferences",
	"traditions", "rules", "style", "topics",
}

// BotFactCategories is the closed category set for bot self-learning facts.
var BotFactCategories = []string{
	"communication_style", "knowledge_domain", "tool_effectiveness",
	"user_interaction", "mistake_pattern", "temporal_pattern",
	"performance_metric",
}

// Fact is one extracted, confidence-weighted statement about a user, a chat
// or the bot itself.
type Fact struct {
	ID             int64
	EntityType     FactEntity
	EntityID       int64 // profile id for users, chat id for chats, bot profile id for the bot
	Category       string
	Key            string
	Value          string
	Confidence     float64
	EvidenceCount  int
	SourceType     string
	ContextTags    []string
	Embedding      []float32
	DecayRate      float64
	LastReinforced int64
	IsActive       bool
	CreatedTs      int64
	UpdatedTs      int64
}

// EffectiveConfidence applies exponential temporal decay to the raw
// confidence: confidence * exp(-decay_rate * age_days).
func (f *Fact) EffectiveConfidence(nowTs int64) float64 {
	if f.DecayRate <= 0 {
		return f.Confidence
	}
	ageDays := float64(nowTs-f.LastReinforced) / 86400.0
	if ageDays < 0 {
		ageDays = 0
	}
	return f.Confidence * math.Exp(-f.DecayRate*ageDays)
}

// FindFact specifies conditions for listing facts.
type FindFact struct {
	EntityType *FactEntity
	EntityID   *int64
	Category   *string
	Key        *string
	OnlyActive bool
	Limit      int
}

// ReinforceFact carries a dedup-merge update for an existing fact.
type ReinforceFact struct {
	ID             int64
	Confidence     float64
	EvidenceCount  int
	Value          string
	LastReinforced int64
}
