package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/gryagbot/gryag/store"
)

const factFields = `id, entity_type, entity_id, category, fact_key, fact_value, confidence, evidence_count, source_type, context_tags, embedding_json, decay_rate, last_reinforced, is_active, created_ts, updated_ts`

func scanFact(scanner interface{ Scan(dest ...any) error }) (*store.Fact, error) {
	var f store.Fact
	var tags string
	var embedding sql.NullString
	var active int
	if err := scanner.Scan(
		&f.ID, &f.EntityType, &f.EntityID, &f.Category, &f.Key, &f.Value,
		&f.Confidence, &f.EvidenceCount, &f.SourceType, &tags, &embedding,
		&f.DecayRate, &f.LastReinforced, &active, &f.CreatedTs, &f.UpdatedTs,
	); err != nil {
		return nil, err
	}
	f.ContextTags = stringsFromJSON(tags)
	f.IsActive = active != 0
	vec, err := vectorFromJSON(embedding)
	if err != nil {
		return nil, err
	}
	f.Embedding = vec
	return &f, nil
}

func (d *DB) CreateFact(ctx context.Context, create *store.Fact) (*store.Fact, error) {
	embedding, err := vectorToJSON(create.Embedding)
	if err != nil {
		return nil, err
	}
	if create.EvidenceCount < 1 {
		create.EvidenceCount = 1
	}
	// New facts always start active; only DeactivateFact flips them off.
	const active = 1
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO fact (entity_type, entity_id, category, fact_key, fact_value, confidence, evidence_count, source_type, context_tags, embedding_json, decay_rate, last_reinforced, is_active, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(create.EntityType), create.EntityID, create.Category, create.Key,
		create.Value, create.Confidence, create.EvidenceCount, create.SourceType,
		stringsToJSON(create.ContextTags), embedding, create.DecayRate,
		create.LastReinforced, active, create.CreatedTs, create.UpdatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert fact")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get fact id")
	}
	fact := *create
	fact.ID = id
	fact.IsActive = true
	return &fact, nil
}

func (d *DB) ListFacts(ctx context.Context, find *store.FindFact) ([]*store.Fact, error) {
	query := "SELECT " + factFields + " FROM fact WHERE 1 = 1"
	var args []any
	if find.EntityType != nil {
		query += " AND entity_type = ?"
		args = append(args, string(*find.EntityType))
	}
	if find.EntityID != nil {
		query += " AND entity_id = ?"
		args = append(args, *find.EntityID)
	}
	if find.Category != nil {
		query += " AND category = ?"
		args = append(args, *find.Category)
	}
	if find.Key != nil {
		query += " AND fact_key = ?"
		args = append(args, *find.Key)
	}
	if find.OnlyActive {
		query += " AND is_active = 1"
	}
	query += " ORDER BY confidence DESC, evidence_count DESC"
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list facts")
	}
	defer rows.Close()

	var list []*store.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, f)
	}
	return list, rows.Err()
}

// ReinforceFact applies a dedup merge. Evidence count only ever grows.
func (d *DB) ReinforceFact(ctx context.Context, update *store.ReinforceFact) error {
	if _, err := d.db.ExecContext(ctx, `
		UPDATE fact
		SET confidence = ?, evidence_count = MAX(evidence_count, ?), fact_value = ?, last_reinforced = ?, updated_ts = ?
		WHERE id = ?`,
		update.Confidence, update.EvidenceCount, update.Value,
		update.LastReinforced, update.LastReinforced, update.ID,
	); err != nil {
		return errors.Wrap(err, "failed to reinforce fact")
	}
	return nil
}

func (d *DB) DeactivateFact(ctx context.Context, id int64) error {
	if _, err := d.db.ExecContext(ctx,
		"UPDATE fact SET is_active = 0 WHERE id = ?", id); err != nil {
		return errors.Wrap(err, "failed to deactivate fact")
	}
	return nil
}

func (d *DB) DeleteFact(ctx context.Context, id int64) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM fact WHERE id = ?", id); err != nil {
		return errors.Wrap(err, "failed to delete fact")
	}
	return nil
}

func (d *DB) DeleteFactsByEntity(ctx context.Context, entityType store.FactEntity, entityID int64) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		"DELETE FROM fact WHERE entity_type = ? AND entity_id = ?",
		string(entityType), entityID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete facts")
	}
	return res.RowsAffected()
}
