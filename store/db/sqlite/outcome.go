package sqlite

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gryagbot/gryag/store"
)

const outcomeFields = `id, bot_profile_id, chat_id, thread_id, message_id, interaction_type, outcome, sentiment_score, response_time_ms, token_count, tools_used, user_reaction, reaction_delay_s, context_snapshot, episode_id, created_ts`

func (d *DB) CreateInteractionOutcome(ctx context.Context, create *store.InteractionOutcome) (*store.InteractionOutcome, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO interaction_outcome (bot_profile_id, chat_id, thread_id, message_id, interaction_type, outcome, sentiment_score, response_time_ms, token_count, tools_used, user_reaction, reaction_delay_s, context_snapshot, episode_id, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		create.BotProfileID, create.ChatID, create.ThreadID, create.MessageID,
		string(create.InteractionType), string(create.Outcome),
		create.SentimentScore, create.ResponseTimeMs, create.TokenCount,
		stringsToJSON(create.ToolsUsed), create.UserReaction,
		create.ReactionDelayS, create.ContextSnapshot, create.EpisodeID,
		create.CreatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert interaction outcome")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get outcome id")
	}
	out := *create
	out.ID = id
	return &out, nil
}

func (d *DB) ListInteractionOutcomes(ctx context.Context, find *store.FindInteractionOutcome) ([]*store.InteractionOutcome, error) {
	query := "SELECT " + outcomeFields + " FROM interaction_outcome WHERE 1 = 1"
	var args []any
	if find.ChatID != nil {
		query += " AND chat_id = ?"
		args = append(args, *find.ChatID)
	}
	if find.InteractionType != nil {
		query += " AND interaction_type = ?"
		args = append(args, string(*find.InteractionType))
	}
	if find.SinceTs != nil {
		query += " AND created_ts >= ?"
		args = append(args, *find.SinceTs)
	}
	query += " ORDER BY created_ts DESC"
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list interaction outcomes")
	}
	defer rows.Close()

	var list []*store.InteractionOutcome
	for rows.Next() {
		var o store.InteractionOutcome
		var tools string
		if err := rows.Scan(
			&o.ID, &o.BotProfileID, &o.ChatID, &o.ThreadID, &o.MessageID,
			&o.InteractionType, &o.Outcome, &o.SentimentScore,
			&o.ResponseTimeMs, &o.TokenCount, &tools, &o.UserReaction,
			&o.ReactionDelayS, &o.ContextSnapshot, &o.EpisodeID, &o.CreatedTs,
		); err != nil {
			return nil, err
		}
		o.ToolsUsed = stringsFromJSON(tools)
		list = append(list, &o)
	}
	return list, rows.Err()
}

func (d *DB) CreateInsight(ctx context.Context, create *store.Insight) (*store.Insight, error) {
	actionable := 0
	if create.Actionable {
		actionable = 1
	}
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO insight (insight_type, insight_text, confidence, actionable, created_ts)
		VALUES (?, ?, ?, ?, ?)`,
		create.Type, create.Text, create.Confidence, actionable, create.CreatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert insight")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get insight id")
	}
	ins := *create
	ins.ID = id
	return &ins, nil
}

func (d *DB) ListInsights(ctx context.Context, limit int) ([]*store.Insight, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, insight_type, insight_text, confidence, actionable, created_ts
		FROM insight ORDER BY created_ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list insights")
	}
	defer rows.Close()

	var list []*store.Insight
	for rows.Next() {
		var ins store.Insight
		var actionable int
		if err := rows.Scan(&ins.ID, &ins.Type, &ins.Text, &ins.Confidence, &actionable, &ins.CreatedTs); err != nil {
			return nil, err
		}
		ins.Actionable = actionable != 0
		list = append(list, &ins)
	}
	return list, rows.Err()
}
