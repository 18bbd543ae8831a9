package store

// Role identifies the author side of a persisted message.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

// Message is one persisted conversation turn. Immutable after insert except
// for embedding backfill.
type Message struct {
	ID       int64
	ChatID   int64
	ThreadID int64
	UserID   int64
	Role     Role
	Text     string
	// MediaJSON is a JSON array describing attached media, empty when none.
	MediaJSON string
	// Embedding is the semantic vector of Text. Nil until backfilled.
	Embedding []float32
	// Ts is the message timestamp in unix seconds.
	Ts int64

	// Telegram-side metadata.
	TGMessageID      int
	Addressed        bool
	ReplyToMessageID int
}

// FindMessage specifies conditions for listing messages.
type FindMessage struct {
	ChatID   int64
	ThreadID *int64
	UserID   *int64
	Role     *Role
	BeforeTs *int64
	Limit    int
}

// ScoredMessage is a message with a retrieval score attached.
type ScoredMessage struct {
	Message *Message
	Score   float64
}
