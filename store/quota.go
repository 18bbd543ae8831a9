package store

// RateLimitRecord is one sliding-window bucket for a (user, feature) pair.
type RateLimitRecord struct {
	UserID      int64
	Feature     string
	WindowStart int64
	Count       int64
}

// FeatureCooldown records the last use of a feature by a user.
type FeatureCooldown struct {
	UserID   int64
	Feature  string
	LastUsed int64
}

// ImageQuota is the per-day image generation counter.
type ImageQuota struct {
	UserID int64
	ChatID int64
	// Date is the UTC day in YYYY-MM-DD form.
	Date  string
	Count int64
}

// Ban marks a user as banned in a chat. Banned users are dropped at the chat
// gate before any processing.
type Ban struct {
	ChatID    int64
	UserID    int64
	BannedBy  int64
	CreatedTs int64
}
