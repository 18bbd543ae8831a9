package store

// UserProfile describes one user as observed in one chat.
type UserProfile struct {
	ID               int64
	UserID           int64
	ChatID           int64
	DisplayName      string
	Username         string
	InteractionCount int64
	LastSeenTs       int64
	Summary          string
	SummaryUpdatedTs int64
	ProfileVersion   int
	MembershipStatus string
	CreatedTs        int64
	UpdatedTs        int64
}

// FindUserProfile specifies conditions for finding user profiles.
type FindUserProfile struct {
	UserID *int64
	ChatID *int64
	Limit  int
}

// UpsertUserProfile carries the per-message profile touch. Interaction count
// and last-seen are maintained by the driver.
type UpsertUserProfile struct {
	UserID      int64
	ChatID      int64
	DisplayName string
	Username    string
	SeenTs      int64
}

// UpdateUserProfileSummary replaces the background-generated summary. UserID
// and ChatID identify the cached row to invalidate.
type UpdateUserProfileSummary struct {
	ID        int64
	UserID    int64
	ChatID    int64
	Summary   string
	UpdatedTs int64
}
