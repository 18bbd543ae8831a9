package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/gryagbot/gryag/store"
)

const messageFields = `id, chat_id, thread_id, user_id, role, text, media_json, embedding_json, ts, tg_message_id, addressed, reply_to_message_id`

func scanMessage(scanner interface{ Scan(dest ...any) error }) (*store.Message, error) {
	var msg store.Message
	var embedding sql.NullString
	var addressed int
	if err := scanner.Scan(
		&msg.ID, &msg.ChatID, &msg.ThreadID, &msg.UserID, &msg.Role,
		&msg.Text, &msg.MediaJSON, &embedding, &msg.Ts,
		&msg.TGMessageID, &addressed, &msg.ReplyToMessageID,
	); err != nil {
		return nil, err
	}
	msg.Addressed = addressed != 0
	vec, err := vectorFromJSON(embedding)
	if err != nil {
		return nil, err
	}
	msg.Embedding = vec
	return &msg, nil
}

// CreateMessage inserts a message and its FTS row in one transaction so the
// full-text index never drifts from the message table.
func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	embedding, err := vectorToJSON(create.Embedding)
	if err != nil {
		return nil, err
	}
	addressed := 0
	if create.Addressed {
		addressed = 1
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO message (chat_id, thread_id, user_id, role, text, media_json, embedding_json, ts, tg_message_id, addressed, reply_to_message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		create.ChatID, create.ThreadID, create.UserID, string(create.Role),
		create.Text, create.MediaJSON, embedding, create.Ts,
		create.TGMessageID, addressed, create.ReplyToMessageID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get message id")
	}

	if create.Text != "" {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO message_fts (rowid, text) VALUES (?, ?)", id, create.Text); err != nil {
			return nil, errors.Wrap(err, "failed to index message")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit message")
	}

	msg := *create
	msg.ID = id
	return &msg, nil
}

// ListRecentMessages returns the newest limit messages in chronological order.
func (d *DB) ListRecentMessages(ctx context.Context, chatID, threadID int64, limit int) ([]*store.Message, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+messageFields+` FROM message
		WHERE chat_id = ? AND thread_id = ?
		ORDER BY id DESC LIMIT ?`,
		chatID, threadID, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recent messages")
	}
	defer rows.Close()

	var list []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		list = append(list, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; callers expect chronological.
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

func (d *DB) GetMessageByTGID(ctx context.Context, chatID int64, tgMessageID int) (*store.Message, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+messageFields+` FROM message
		WHERE chat_id = ? AND tg_message_id = ?
		ORDER BY id DESC LIMIT 1`,
		chatID, tgMessageID,
	)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get message")
	}
	return msg, nil
}

// ListEmbeddedMessages returns the newest candidate messages that carry an
// embedding, capped by limit. Similarity is scored by the caller.
func (d *DB) ListEmbeddedMessages(ctx context.Context, chatID int64, threadID *int64, limit int) ([]*store.Message, error) {
	query := `SELECT ` + messageFields + ` FROM message WHERE chat_id = ? AND embedding_json IS NOT NULL`
	args := []any{chatID}
	if threadID != nil {
		query += " AND thread_id = ?"
		args = append(args, *threadID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list embedded messages")
	}
	defer rows.Close()

	var list []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		list = append(list, msg)
	}
	return list, rows.Err()
}

// SearchMessagesFTS runs a bm25-ranked full-text query. Score carries the raw
// bm25 rank (lower is better); normalization is the retrieval layer's job.
func (d *DB) SearchMessagesFTS(ctx context.Context, chatID int64, threadID *int64, query string, limit int) ([]*store.ScoredMessage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	sqlQuery := `
		SELECT ` + prefixedMessageFields("m") + `, bm25(message_fts) AS rank
		FROM message_fts
		JOIN message m ON m.id = message_fts.rowid
		WHERE message_fts MATCH ? AND m.chat_id = ?`
	args := []any{query, chatID}
	if threadID != nil {
		sqlQuery += " AND m.thread_id = ?"
		args = append(args, *threadID)
	}
	sqlQuery += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search messages")
	}
	defer rows.Close()

	var list []*store.ScoredMessage
	for rows.Next() {
		var msg store.Message
		var embedding sql.NullString
		var addressed int
		var rank float64
		if err := rows.Scan(
			&msg.ID, &msg.ChatID, &msg.ThreadID, &msg.UserID, &msg.Role,
			&msg.Text, &msg.MediaJSON, &embedding, &msg.Ts,
			&msg.TGMessageID, &addressed, &msg.ReplyToMessageID, &rank,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan search result")
		}
		msg.Addressed = addressed != 0
		vec, err := vectorFromJSON(embedding)
		if err != nil {
			return nil, err
		}
		msg.Embedding = vec
		list = append(list, &store.ScoredMessage{Message: &msg, Score: rank})
	}
	return list, rows.Err()
}

func prefixedMessageFields(alias string) string {
	fields := strings.Split(messageFields, ", ")
	for i, f := range fields {
		fields[i] = alias + "." + f
	}
	return strings.Join(fields, ", ")
}

func (d *DB) BackfillEmbedding(ctx context.Context, id int64, vec []float32) error {
	embedding, err := vectorToJSON(vec)
	if err != nil {
		return err
	}
	if _, err := d.db.ExecContext(ctx,
		"UPDATE message SET embedding_json = ? WHERE id = ?", embedding, id); err != nil {
		return errors.Wrap(err, "failed to backfill embedding")
	}
	return nil
}

// PruneMessages deletes up to batch messages older than beforeTs and returns
// the number deleted. FTS rows are removed in the same transaction.
func (d *DB) PruneMessages(ctx context.Context, beforeTs int64, batch int) (int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT id FROM message WHERE ts < ? ORDER BY id LIMIT ?", beforeTs, batch)
	if err != nil {
		return 0, errors.Wrap(err, "failed to select prune candidates")
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, tx.Commit()
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM message_fts WHERE rowid = ?", id); err != nil {
			return 0, errors.Wrap(err, "failed to drop fts row")
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM message WHERE id = ?", id); err != nil {
			return 0, errors.Wrap(err, "failed to delete message")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit prune")
	}
	return int64(len(ids)), nil
}

// UserMessageCounts returns per-sender message counts in a chat, used by the
// retrieval importance factor.
func (d *DB) UserMessageCounts(ctx context.Context, chatID int64) (map[int64]int64, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT user_id, COUNT(*) FROM message
		WHERE chat_id = ? AND role = 'user'
		GROUP BY user_id`,
		chatID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count user messages")
	}
	defer rows.Close()

	counts := make(map[int64]int64)
	for rows.Next() {
		var userID, count int64
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, err
		}
		counts[userID] = count
	}
	return counts, rows.Err()
}
