package store

// EmotionalValence is the closed valence set of an episode.
type EmotionalValence string

const (
	ValencePositive EmotionalValence = "positive"
	ValenceNegative EmotionalValence = "negative"
	ValenceNeutral  EmotionalValence = "neutral"
	ValenceMixed    EmotionalValence = "mixed"
)

// Episode is a persisted, summarized slice of consecutive conversation.
// Immutable after creation except for access tracking.
type Episode struct {
	ID               int64
	ChatID           int64
	ThreadID         int64
	Topic            string
	Summary          string
	SummaryEmbedding []float32
	Importance       float64
	Valence          EmotionalValence
	MessageIDs       []int64
	ParticipantIDs   []int64
	Tags             []string
	CreatedTs        int64
	LastAccessedTs   int64
	AccessCount      int64
}

// FindEpisode specifies conditions for listing episodes.
type FindEpisode struct {
	ChatID        *int64
	ThreadID      *int64
	ParticipantID *int64
	MinImportance float64
	Limit         int
}
