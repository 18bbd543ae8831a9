package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/gryagbot/gryag/ai"
	"github.com/gryagbot/gryag/store"
)

// insightPayload is the strict JSON contract for generated insights. Any
// deviation discards the whole response.
type insightPayload struct {
	Insights []struct {
		Type       string  `json:"type"`
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
		Actionable bool    `json:"actionable"`
	} `json:"insights"`
}

// InsightGenerator produces reflection insights from outcome history and bot
// facts.
type InsightGenerator struct {
	backend   OutcomeBackend
	tracker   *Tracker
	generator ai.Generator
	botFacts  func(ctx context.Context, limit int) ([]*store.Fact, error)
}

// NewInsightGenerator creates an InsightGenerator. botFacts supplies the top
// self-facts for the prompt.
func NewInsightGenerator(backend OutcomeBackend, tracker *Tracker, generator ai.Generator,
	botFacts func(ctx context.Context, limit int) ([]*store.Fact, error)) *InsightGenerator {
	return &InsightGenerator{
		backend:   backend,
		tracker:   tracker,
		generator: generator,
		botFacts:  botFacts,
	}
}

// Generate prompts the LLM with the effectiveness summary and top bot facts,
// validates the JSON strictly and stores the accepted insights.
func (g *InsightGenerator) Generate(ctx context.Context, days int) ([]*store.Insight, error) {
	eff, err := g.tracker.RecentEffectiveness(ctx, days)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute effectiveness")
	}
	facts, err := g.botFacts(ctx, 20)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load bot facts")
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Effectiveness over the last %d days: score %.2f across %d outcomes (%d reactions).\n",
		eff.Days, eff.Score, eff.TotalOutcomes, eff.Reactions)
	for outcome, n := range eff.ByOutcome {
		fmt.Fprintf(&prompt, "- %s: %d\n", outcome, n)
	}
	if len(facts) > 0 {
		prompt.WriteString("\nKnown self-facts:\n")
		for _, f := range facts {
			fmt.Fprintf(&prompt, "- [%s] %s: %s (confidence %.2f)\n", f.Category, f.Key, f.Value, f.Confidence)
		}
	}

	result, err := g.generator.Generate(ctx, &ai.GenerateRequest{
		SystemPrompt: "You analyze a chat bot's interaction outcomes and produce improvement insights. " +
			`Reply with exactly one JSON object: {"insights": [{"type": "...", "text": "...", ` +
			`"confidence": 0.0, "actionable": true}]}. No prose outside the JSON.`,
		UserParts: []ai.Part{ai.TextPart(prompt.String())},
	})
	if err != nil {
		return nil, errors.Wrap(err, "insight generation failed")
	}

	var payload insightPayload
	decoder := json.NewDecoder(strings.NewReader(stripFences(result.Text)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "malformed insight payload, discarding")
	}

	now := time.Now().Unix()
	var stored []*store.Insight
	for _, in := range payload.Insights {
		if in.Type == "" || in.Text == "" || in.Confidence < 0 || in.Confidence > 1 {
			continue
		}
		created, err := g.backend.CreateInsight(ctx, &store.Insight{
			Type:       in.Type,
			Text:       in.Text,
			Confidence: in.Confidence,
			Actionable: in.Actionable,
			CreatedTs:  now,
		})
		if err != nil {
			return stored, errors.Wrap(err, "failed to store insight")
		}
		stored = append(stored, created)
	}
	return stored, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}
