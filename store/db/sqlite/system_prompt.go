package sqlite

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gryagbot/gryag/store"
)

const systemPromptFields = `id, scope, chat_id, user_id, version, prompt_text, is_active, created_by, created_ts`

func scanSystemPrompt(scanner interface{ Scan(dest ...any) error }) (*store.SystemPrompt, error) {
	var p store.SystemPrompt
	var active int
	if err := scanner.Scan(
		&p.ID, &p.Scope, &p.ChatID, &p.UserID, &p.Version, &p.Text,
		&active, &p.CreatedBy, &p.CreatedTs,
	); err != nil {
		return nil, err
	}
	p.IsActive = active != 0
	return &p, nil
}

// CreateSystemPrompt assigns the next version for the (scope, chat) pair. If
// the new prompt is active, the previous active row is flipped to inactive in
// the same transaction, preserving the at-most-one-active invariant.
func (d *DB) CreateSystemPrompt(ctx context.Context, create *store.SystemPrompt) (*store.SystemPrompt, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	var maxVersion int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM system_prompt WHERE scope = ? AND chat_id = ?",
		string(create.Scope), create.ChatID).Scan(&maxVersion); err != nil {
		return nil, errors.Wrap(err, "failed to find max version")
	}
	version := maxVersion + 1

	active := 0
	if create.IsActive {
		active = 1
		if _, err := tx.ExecContext(ctx,
			"UPDATE system_prompt SET is_active = 0 WHERE scope = ? AND chat_id = ? AND is_active = 1",
			string(create.Scope), create.ChatID); err != nil {
			return nil, errors.Wrap(err, "failed to deactivate prior prompt")
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO system_prompt (scope, chat_id, user_id, version, prompt_text, is_active, created_by, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(create.Scope), create.ChatID, create.UserID, version,
		create.Text, active, create.CreatedBy, create.CreatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert system prompt")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get prompt id")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit prompt")
	}

	p := *create
	p.ID = id
	p.Version = version
	return &p, nil
}

func (d *DB) ListSystemPrompts(ctx context.Context, find *store.FindSystemPrompt) ([]*store.SystemPrompt, error) {
	query := "SELECT " + systemPromptFields + " FROM system_prompt WHERE 1 = 1"
	var args []any
	if find.Scope != nil {
		query += " AND scope = ?"
		args = append(args, string(*find.Scope))
	}
	if find.ChatID != nil {
		query += " AND chat_id = ?"
		args = append(args, *find.ChatID)
	}
	if find.UserID != nil {
		query += " AND user_id = ?"
		args = append(args, *find.UserID)
	}
	if find.OnlyActive {
		query += " AND is_active = 1"
	}
	query += " ORDER BY version DESC"
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list system prompts")
	}
	defer rows.Close()

	var list []*store.SystemPrompt
	for rows.Next() {
		p, err := scanSystemPrompt(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// ActivateSystemPrompt is the rollback path: reactivate an older version and
// deactivate the current active row in the same transaction.
func (d *DB) ActivateSystemPrompt(ctx context.Context, scope store.PromptScope, chatID int64, version int) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE system_prompt SET is_active = 1 WHERE scope = ? AND chat_id = ? AND version = ?",
		string(scope), chatID, version)
	if err != nil {
		return errors.Wrap(err, "failed to activate prompt")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.Errorf("prompt version %d not found", version)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE system_prompt SET is_active = 0 WHERE scope = ? AND chat_id = ? AND version != ? AND is_active = 1",
		string(scope), chatID, version); err != nil {
		return errors.Wrap(err, "failed to deactivate prior prompt")
	}
	return tx.Commit()
}
