package sqlite

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gryagbot/gryag/store"
)

func (d *DB) CreateBan(ctx context.Context, create *store.Ban) error {
	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO ban (chat_id, user_id, banned_by, created_ts)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (chat_id, user_id) DO NOTHING`,
		create.ChatID, create.UserID, create.BannedBy, create.CreatedTs,
	); err != nil {
		return errors.Wrap(err, "failed to insert ban")
	}
	return nil
}

func (d *DB) DeleteBan(ctx context.Context, chatID, userID int64) error {
	if _, err := d.db.ExecContext(ctx,
		"DELETE FROM ban WHERE chat_id = ? AND user_id = ?", chatID, userID); err != nil {
		return errors.Wrap(err, "failed to delete ban")
	}
	return nil
}

func (d *DB) IsBanned(ctx context.Context, chatID, userID int64) (bool, error) {
	var exists bool
	if err := d.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM ban WHERE chat_id = ? AND user_id = ?)",
		chatID, userID).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "failed to check ban")
	}
	return exists, nil
}
