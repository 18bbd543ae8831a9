package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/gryagbot/gryag/store"
)

const userProfileFields = `id, user_id, chat_id, display_name, username, interaction_count, last_seen_ts, summary, summary_updated_ts, profile_version, membership_status, created_ts, updated_ts`

func scanUserProfile(scanner interface{ Scan(dest ...any) error }) (*store.UserProfile, error) {
	var p store.UserProfile
	if err := scanner.Scan(
		&p.ID, &p.UserID, &p.ChatID, &p.DisplayName, &p.Username,
		&p.InteractionCount, &p.LastSeenTs, &p.Summary, &p.SummaryUpdatedTs,
		&p.ProfileVersion, &p.MembershipStatus, &p.CreatedTs, &p.UpdatedTs,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertUserProfile creates the profile lazily on first sight and touches
// interaction count and last-seen on every observed message.
func (d *DB) UpsertUserProfile(ctx context.Context, upsert *store.UpsertUserProfile) (*store.UserProfile, error) {
	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO user_profile (user_id, chat_id, display_name, username, interaction_count, last_seen_ts, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (user_id, chat_id) DO UPDATE SET
			display_name = excluded.display_name,
			username = excluded.username,
			interaction_count = interaction_count + 1,
			last_seen_ts = excluded.last_seen_ts,
			updated_ts = excluded.updated_ts`,
		upsert.UserID, upsert.ChatID, upsert.DisplayName, upsert.Username,
		upsert.SeenTs, upsert.SeenTs, upsert.SeenTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert user profile")
	}
	return d.GetUserProfile(ctx, upsert.UserID, upsert.ChatID)
}

func (d *DB) GetUserProfile(ctx context.Context, userID, chatID int64) (*store.UserProfile, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT "+userProfileFields+" FROM user_profile WHERE user_id = ? AND chat_id = ?",
		userID, chatID,
	)
	p, err := scanUserProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user profile")
	}
	return p, nil
}

func (d *DB) ListUserProfiles(ctx context.Context, find *store.FindUserProfile) ([]*store.UserProfile, error) {
	query := "SELECT " + userProfileFields + " FROM user_profile WHERE 1 = 1"
	var args []any
	if find.UserID != nil {
		query += " AND user_id = ?"
		args = append(args, *find.UserID)
	}
	if find.ChatID != nil {
		query += " AND chat_id = ?"
		args = append(args, *find.ChatID)
	}
	query += " ORDER BY last_seen_ts DESC"
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list user profiles")
	}
	defer rows.Close()

	var list []*store.UserProfile
	for rows.Next() {
		p, err := scanUserProfile(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// ListProfilesNeedingSummary returns active profiles whose summary is older
// than staleBefore, most active first.
func (d *DB) ListProfilesNeedingSummary(ctx context.Context, staleBefore int64, limit int) ([]*store.UserProfile, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+userProfileFields+` FROM user_profile
		WHERE summary_updated_ts < ? AND interaction_count > 0
		ORDER BY interaction_count DESC LIMIT ?`,
		staleBefore, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stale profiles")
	}
	defer rows.Close()

	var list []*store.UserProfile
	for rows.Next() {
		p, err := scanUserProfile(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (d *DB) UpdateUserProfileSummary(ctx context.Context, update *store.UpdateUserProfileSummary) error {
	if _, err := d.db.ExecContext(ctx, `
		UPDATE user_profile
		SET summary = ?, summary_updated_ts = ?, profile_version = profile_version + 1, updated_ts = ?
		WHERE id = ?`,
		update.Summary, update.UpdatedTs, update.UpdatedTs, update.ID,
	); err != nil {
		return errors.Wrap(err, "failed to update profile summary")
	}
	return nil
}
