package store

// PromptScope is the closed scope set of a system prompt.
type PromptScope string

const (
	PromptScopeGlobal   PromptScope = "global"
	PromptScopeChat     PromptScope = "chat"
	PromptScopePersonal PromptScope = "personal"
)

// SystemPrompt is one versioned prompt. At most one row per (scope, chat) is
// active at a time; activation flips the previous active row in the same
// transaction.
type SystemPrompt struct {
	ID        int64
	Scope     PromptScope
	ChatID    int64
	UserID    int64
	Version   int
	Text      string
	IsActive  bool
	CreatedBy int64
	CreatedTs int64
}

// FindSystemPrompt specifies conditions for listing system prompts.
type FindSystemPrompt struct {
	Scope      *PromptScope
	ChatID     *int64
	UserID     *int64
	OnlyActive bool
	Limit      int
}
