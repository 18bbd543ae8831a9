package bot

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type fakeBans struct {
	banned map[int64]bool
	err    error
}

func (f *fakeBans) IsBanned(_ context.Context, _, userID int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.banned[userID], nil
}

func TestFilterWhitelist(t *testing.T) {
	ctx := context.Background()
	f := newChatFilter(FilterWhitelist, []int64{-100}, nil, nil, nil)

	assert.True(t, f.allow(ctx, -100, 1, false))
	assert.False(t, f.allow(ctx, -200, 1, false))
}

func TestFilterBlacklist(t *testing.T) {
	ctx := context.Background()
	f := newChatFilter(FilterBlacklist, nil, []int64{-200}, nil, nil)

	assert.True(t, f.allow(ctx, -100, 1, false))
	assert.False(t, f.allow(ctx, -200, 1, false))
}

func TestFilterGlobalAllowsAll(t *testing.T) {
	ctx := context.Background()
	f := newChatFilter(FilterGlobal, nil, nil, nil, nil)

	assert.True(t, f.allow(ctx, -100, 1, false))
	assert.True(t, f.allow(ctx, 55, 1, true))
}

func TestFilterAdminPrivateBypassesWhitelist(t *testing.T) {
	ctx := context.Background()
	isAdmin := func(userID int64) bool { return userID == 777 }
	f := newChatFilter(FilterWhitelist, nil, nil, isAdmin, nil)

	assert.True(t, f.allow(ctx, 777, 777, true))
	assert.False(t, f.allow(ctx, 888, 888, true))
	// Group chats still obey the whitelist even for admins.
	assert.False(t, f.allow(ctx, -100, 777, false))
}

func TestFilterBans(t *testing.T) {
	ctx := context.Background()
	bans := &fakeBans{banned: map[int64]bool{13: true}}
	f := newChatFilter(FilterGlobal, nil, nil, nil, bans)

	assert.False(t, f.allow(ctx, -100, 13, false))
	assert.True(t, f.allow(ctx, -100, 14, false))
}

func TestFilterVerdicts(t *testing.T) {
	ctx := context.Background()
	bans := &fakeBans{banned: map[int64]bool{13: true}}
	f := newChatFilter(FilterWhitelist, []int64{-100}, nil, nil, bans)

	// A ban is distinguishable from a silent chat-filter drop so the caller
	// can notify the banned user.
	assert.Equal(t, gateBanned, f.check(ctx, -100, 13, false))
	assert.Equal(t, gateDrop, f.check(ctx, -200, 13, false))
	assert.Equal(t, gateAllow, f.check(ctx, -100, 14, false))
}

func TestFilterBanCheckFailsOpen(t *testing.T) {
	ctx := context.Background()
	bans := &fakeBans{err: errors.New("store offline")}
	f := newChatFilter(FilterGlobal, nil, nil, nil, bans)

	assert.True(t, f.allow(ctx, -100, 13, false))
}
