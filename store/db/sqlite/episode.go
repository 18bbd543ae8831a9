package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/gryagbot/gryag/store"
)

const episodeFields = `id, chat_id, thread_id, topic, summary, summary_embedding_json, importance, valence, message_ids, participant_ids, tags, created_ts, last_accessed_ts, access_count`

func scanEpisode(scanner interface{ Scan(dest ...any) error }) (*store.Episode, error) {
	var e store.Episode
	var embedding sql.NullString
	var messageIDs, participantIDs, tags string
	if err := scanner.Scan(
		&e.ID, &e.ChatID, &e.ThreadID, &e.Topic, &e.Summary, &embedding,
		&e.Importance, &e.Valence, &messageIDs, &participantIDs, &tags,
		&e.CreatedTs, &e.LastAccessedTs, &e.AccessCount,
	); err != nil {
		return nil, err
	}
	vec, err := vectorFromJSON(embedding)
	if err != nil {
		return nil, err
	}
	e.SummaryEmbedding = vec
	e.MessageIDs = int64sFromJSON(messageIDs)
	e.ParticipantIDs = int64sFromJSON(participantIDs)
	e.Tags = stringsFromJSON(tags)
	return &e, nil
}

func (d *DB) CreateEpisode(ctx context.Context, create *store.Episode) (*store.Episode, error) {
	embedding, err := vectorToJSON(create.SummaryEmbedding)
	if err != nil {
		return nil, err
	}
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO episode (chat_id, thread_id, topic, summary, summary_embedding_json, importance, valence, message_ids, participant_ids, tags, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		create.ChatID, create.ThreadID, create.Topic, create.Summary, embedding,
		create.Importance, string(create.Valence),
		int64sToJSON(create.MessageIDs), int64sToJSON(create.ParticipantIDs),
		stringsToJSON(create.Tags), create.CreatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert episode")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get episode id")
	}
	ep := *create
	ep.ID = id
	return &ep, nil
}

func (d *DB) ListEpisodes(ctx context.Context, find *store.FindEpisode) ([]*store.Episode, error) {
	query := "SELECT " + episodeFields + " FROM episode WHERE 1 = 1"
	var args []any
	if find.ChatID != nil {
		query += " AND chat_id = ?"
		args = append(args, *find.ChatID)
	}
	if find.ThreadID != nil {
		query += " AND thread_id = ?"
		args = append(args, *find.ThreadID)
	}
	if find.MinImportance > 0 {
		query += " AND importance >= ?"
		args = append(args, find.MinImportance)
	}
	if find.ParticipantID != nil {
		// participant_ids is a JSON array of integers; a string-encoded list
		// match is enough for membership.
		query += " AND (participant_ids LIKE ? OR participant_ids LIKE ? OR participant_ids LIKE ? OR participant_ids = ?)"
		id := *find.ParticipantID
		args = append(args,
			fmt.Sprintf("[%d,%%", id),
			fmt.Sprintf("%%,%d,%%", id),
			fmt.Sprintf("%%,%d]", id),
			fmt.Sprintf("[%d]", id),
		)
	}
	query += " ORDER BY created_ts DESC"
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list episodes")
	}
	defer rows.Close()

	var list []*store.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// RecordEpisodeAccess bumps the access counters and logs the access row.
func (d *DB) RecordEpisodeAccess(ctx context.Context, id, ts int64) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE episode SET access_count = access_count + 1, last_accessed_ts = ? WHERE id = ?",
		ts, id); err != nil {
		return errors.Wrap(err, "failed to update episode access")
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO episode_access (episode_id, accessed_ts) VALUES (?, ?)",
		id, ts); err != nil {
		return errors.Wrap(err, "failed to insert episode access")
	}
	return tx.Commit()
}
