package store

// InteractionType distinguishes the two outcome rows per exchange.
type InteractionType string

const (
	InteractionResponse     InteractionType = "response"
	InteractionUserReaction InteractionType = "user_reaction"
)

// Outcome is the observed quality of a bot reply.
type Outcome string

const (
	OutcomePraised   Outcome = "praised"
	OutcomePositive  Outcome = "positive"
	OutcomeNeutral   Outcome = "neutral"
	OutcomeNegative  Outcome = "negative"
	OutcomeCorrected Outcome = "corrected"
	OutcomeIgnored   Outcome = "ignored"
)

// InteractionOutcome records one bot reply or one detected user reaction.
type InteractionOutcome struct {
	ID              int64
	BotProfileID    int64
	ChatID          int64
	ThreadID        int64
	MessageID       int64
	InteractionType InteractionType
	Outcome         Outcome
	SentimentScore  float64
	ResponseTimeMs  int64
	TokenCount      int
	ToolsUsed       []string
	UserReaction    string
	ReactionDelayS  int64
	ContextSnapshot string
	EpisodeID       int64
	CreatedTs       int64
}

// FindInteractionOutcome specifies conditions for listing outcomes.
type FindInteractionOutcome struct {
	ChatID          *int64
	InteractionType *InteractionType
	SinceTs         *int64
	Limit           int
}

// Insight is a self-reflection statement generated from outcome history.
type Insight struct {
	ID         int64
	Type       string
	Text       string
	Confidence float64
	Actionable bool
	CreatedTs  int64
}
