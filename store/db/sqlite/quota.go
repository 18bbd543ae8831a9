package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// IncrRateLimit bumps the sliding-window bucket and returns the new count.
// This is the persistent fallback of the shared-cache fast path; both apply
// the same fixed-bucket arithmetic.
func (d *DB) IncrRateLimit(ctx context.Context, userID int64, feature string, windowStart int64) (int64, error) {
	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO rate_limit (user_id, feature, window_start, count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (user_id, feature, window_start) DO UPDATE SET count = count + 1`,
		userID, feature, windowStart,
	); err != nil {
		return 0, errors.Wrap(err, "failed to increment rate limit")
	}
	return d.GetRateLimit(ctx, userID, feature, windowStart)
}

func (d *DB) GetRateLimit(ctx context.Context, userID int64, feature string, windowStart int64) (int64, error) {
	var count int64
	err := d.db.QueryRowContext(ctx,
		"SELECT count FROM rate_limit WHERE user_id = ? AND feature = ? AND window_start = ?",
		userID, feature, windowStart).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rate limit")
	}
	return count, nil
}

// ResetRateLimits deletes matching buckets. Idempotent.
func (d *DB) ResetRateLimits(ctx context.Context, userID *int64) error {
	query := "DELETE FROM rate_limit"
	var args []any
	if userID != nil {
		query += " WHERE user_id = ?"
		args = append(args, *userID)
	}
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "failed to reset rate limits")
	}
	return nil
}

func (d *DB) GetCooldown(ctx context.Context, userID int64, feature string) (int64, error) {
	var lastUsed int64
	err := d.db.QueryRowContext(ctx,
		"SELECT last_used FROM feature_cooldown WHERE user_id = ? AND feature = ?",
		userID, feature).Scan(&lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to get cooldown")
	}
	return lastUsed, nil
}

func (d *DB) SetCooldown(ctx context.Context, userID int64, feature string, ts int64) error {
	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO feature_cooldown (user_id, feature, last_used)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, feature) DO UPDATE SET last_used = excluded.last_used`,
		userID, feature, ts,
	); err != nil {
		return errors.Wrap(err, "failed to set cooldown")
	}
	return nil
}

func (d *DB) IncrImageQuota(ctx context.Context, userID, chatID int64, date string) (int64, error) {
	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO image_quota (user_id, chat_id, quota_date, count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (user_id, chat_id, quota_date) DO UPDATE SET count = count + 1`,
		userID, chatID, date,
	); err != nil {
		return 0, errors.Wrap(err, "failed to increment image quota")
	}
	return d.GetImageQuota(ctx, userID, chatID, date)
}

func (d *DB) GetImageQuota(ctx context.Context, userID, chatID int64, date string) (int64, error) {
	var count int64
	err := d.db.QueryRowContext(ctx,
		"SELECT count FROM image_quota WHERE user_id = ? AND chat_id = ? AND quota_date = ?",
		userID, chatID, date).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to get image quota")
	}
	return count, nil
}

func (d *DB) ResetImageQuota(ctx context.Context, chatID int64, userID *int64) error {
	query := "DELETE FROM image_quota WHERE chat_id = ?"
	args := []any{chatID}
	if userID != nil {
		query += " AND user_id = ?"
		args = append(args, *userID)
	}
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "failed to reset image quota")
	}
	return nil
}
