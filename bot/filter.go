package bot

import (
	"context"
	"log/slog"
)

// Filter modes.
const (
	FilterGlobal    = "global"
	FilterWhitelist = "whitelist"
	FilterBlacklist = "blacklist"
)

// BanChecker answers whether a user is banned in a chat.
type BanChecker interface {
	IsBanned(ctx context.Context, chatID, userID int64) (bool, error)
}

// chatFilter gates incoming updates by chat ID lists and per-chat bans.
type chatFilter struct {
	mode    string
	allowed map[int64]struct{}
	blocked map[int64]struct{}
	isAdmin func(userID int64) bool
	bans    BanChecker
}

func newChatFilter(mode string, allowedIDs, blockedIDs []int64, isAdmin func(int64) bool, bans BanChecker) *chatFilter {
	f := &chatFilter{
		mode:    mode,
		allowed: make(map[int64]struct{}, len(allowedIDs)),
		blocked: make(map[int64]struct{}, len(blockedIDs)),
		isAdmin: isAdmin,
		bans:    bans,
	}
	for _, id := range allowedIDs {
		f.allowed[id] = struct{}{}
	}
	for _, id := range blockedIDs {
		f.blocked[id] = struct{}{}
	}
	return f
}

// gateVerdict is the outcome of the incoming-update gate. Filtered chats are
// dropped silently; a ban can carry a user-facing notice.
type gateVerdict int

const (
	gateAllow gateVerdict = iota
	gateDrop
	gateBanned
)

// check gates one update. isPrivate marks one-on-one chats; admin private
// chats are always allowed so admins can always reach the bot.
func (f *chatFilter) check(ctx context.Context, chatID, userID int64, isPrivate bool) gateVerdict {
	if isPrivate && f.isAdmin != nil && f.isAdmin(userID) {
		return gateAllow
	}

	switch f.mode {
	case FilterWhitelist:
		if _, ok := f.allowed[chatID]; !ok {
			return gateDrop
		}
	case FilterBlacklist:
		if _, ok := f.blocked[chatID]; ok {
			return gateDrop
		}
	}

	if f.bans != nil && userID != 0 {
		banned, err := f.bans.IsBanned(ctx, chatID, userID)
		if err != nil {
			// Fail open: a store hiccup must not mute the whole chat.
			slog.Warn("ban check failed", "chat_id", chatID, "user_id", userID, "error", err)
			return gateAllow
		}
		if banned {
			return gateBanned
		}
	}
	return gateAllow
}

func (f *chatFilter) allow(ctx context.Context, chatID, userID int64, isPrivate bool) bool {
	return f.check(ctx, chatID, userID, isPrivate) == gateAllow
}
