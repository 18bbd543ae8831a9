package learning

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gryagbot/gryag/store"
)

// slowResponseMs marks a reply as slow for the performance reinforcement
// rule.
const slowResponseMs = 5000

// OutcomeBackend is the persistence surface for outcomes and insights.
type OutcomeBackend interface {
	CreateInteractionOutcome(ctx context.Context, create *store.InteractionOutcome) (*store.InteractionOutcome, error)
	ListInteractionOutcomes(ctx context.Context, find *store.FindInteractionOutcome) ([]*store.InteractionOutcome, error)
	CreateInsight(ctx context.Context, create *store.Insight) (*store.Insight, error)
	ListInsights(ctx context.Context, limit int) ([]*store.Insight, error)
}

// BotFactStore is the slice of the fact store self-learning writes through.
type BotFactStore interface {
	AddFact(ctx context.Context, fact *store.Fact) (*store.Fact, bool, error)
}

// Reply describes one sent bot reply for outcome tracking.
type Reply struct {
	ChatID         int64
	ThreadID       int64
	MessageID      int64
	ResponseTimeMs int64
	TokenCount     int
	ToolsUsed      []string
	ContextExcerpt string
}

// pendingReply is the last bot reply per chat, awaiting a possible user
// reaction.
type pendingReply struct {
	reply   Reply
	sentAt  time.Time
	handled bool
}

// TrackerConfig tunes reaction attribution.
type TrackerConfig struct {
	BotProfileID    int64
	ReactionTimeout time.Duration
}

// Tracker records interaction outcomes and feeds detected reactions back into
// bot facts.
type Tracker struct {
	cfg     TrackerConfig
	backend OutcomeBackend
	facts   BotFactStore
	now     func() time.Time

	mu      sync.Mutex
	pending map[int64]*pendingReply // keyed by chat id
}

// NewTracker creates a self-learning tracker.
func NewTracker(cfg TrackerConfig, backend OutcomeBackend, facts BotFactStore) *Tracker {
	if cfg.ReactionTimeout <= 0 {
		cfg.ReactionTimeout = 300 * time.Second
	}
	return &Tracker{
		cfg:     cfg,
		backend: backend,
		facts:   facts,
		now:     time.Now,
		pending: make(map[int64]*pendingReply),
	}
}

// RecordReply writes the initial neutral outcome for a bot reply and arms the
// reaction window for its chat.
func (t *Tracker) RecordReply(ctx context.Context, r Reply) error {
	_, err := t.backend.CreateInteractionOutcome(ctx, &store.InteractionOutcome{
		BotProfileID:    t.cfg.BotProfileID,
		ChatID:          r.ChatID,
		ThreadID:        r.ThreadID,
		MessageID:       r.MessageID,
		InteractionType: store.InteractionResponse,
		Outcome:         store.OutcomeNeutral,
		ResponseTimeMs:  r.ResponseTimeMs,
		TokenCount:      r.TokenCount,
		ToolsUsed:       r.ToolsUsed,
		ContextSnapshot: r.ContextExcerpt,
		CreatedTs:       t.now().Unix(),
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.pending[r.ChatID] = &pendingReply{reply: r, sentAt: t.now()}
	t.mu.Unlock()
	return nil
}

// OnUserMessage inspects an addressed user message as a possible reaction to
// the last bot reply in the chat. Returns the detected sentiment when the
// message was treated as a reaction.
func (t *Tracker) OnUserMessage(ctx context.Context, chatID int64, text string) (*Sentiment, error) {
	t.mu.Lock()
	p, ok := t.pending[chatID]
	if !ok || p.handled {
		t.mu.Unlock()
		return nil, nil
	}
	delay := t.now().Sub(p.sentAt)
	if delay > t.cfg.ReactionTimeout {
		delete(t.pending, chatID)
		t.mu.Unlock()
		return nil, nil
	}
	p.handled = true
	t.mu.Unlock()

	sentiment := DetectSentiment(text)
	_, err := t.backend.CreateInteractionOutcome(ctx, &store.InteractionOutcome{
		BotProfileID:    t.cfg.BotProfileID,
		ChatID:          chatID,
		ThreadID:        p.reply.ThreadID,
		MessageID:       p.reply.MessageID,
		InteractionType: store.InteractionUserReaction,
		Outcome:         sentiment.Outcome,
		SentimentScore:  sentiment.Score,
		UserReaction:    truncate(text, 200),
		ReactionDelayS:  int64(delay.Seconds()),
		CreatedTs:       t.now().Unix(),
	})
	if err != nil {
		return nil, err
	}

	t.reinforce(ctx, p.reply, sentiment)
	return &sentiment, nil
}

// reinforce applies the outcome-to-fact rules. Failures are logged, not
// propagated; learning must never break the reply path.
func (t *Tracker) reinforce(ctx context.Context, r Reply, s Sentiment) {
	responseType := "text"
	if len(r.ToolsUsed) > 0 {
		responseType = "tool"
	}

	switch s.Outcome {
	case store.OutcomePraised, store.OutcomePositive:
		t.addBotFact(ctx, &store.Fact{
			Category:   "communication_style",
			Key:        fmt.Sprintf("effective_%s_response", responseType),
			Value:      fmt.Sprintf("%s responses receive %s reactions", responseType, s.Outcome),
			Confidence: s.Confidence,
			SourceType: "reaction",
		})
		for _, tool := range r.ToolsUsed {
			t.addBotFact(ctx, &store.Fact{
				Category:   "tool_effectiveness",
				Key:        "tool_" + tool,
				Value:      fmt.Sprintf("tool %s led to a %s reaction", tool, s.Outcome),
				Confidence: s.Confidence,
				SourceType: "reaction",
			})
		}
	case store.OutcomeCorrected:
		t.addBotFact(ctx, &store.Fact{
			Category:   "mistake_pattern",
			Key:        fmt.Sprintf("corrected_%s_response", responseType),
			Value:      "user corrected a " + responseType + " response",
			Confidence: s.Confidence,
			SourceType: "reaction",
			DecayRate:  0.1,
		})
	case store.OutcomeNegative:
		if r.ResponseTimeMs > slowResponseMs {
			t.addBotFact(ctx, &store.Fact{
				Category:   "performance_metric",
				Key:        "slow_response_negative",
				Value:      fmt.Sprintf("slow replies (%d ms) draw negative reactions", r.ResponseTimeMs),
				Confidence: s.Confidence,
				SourceType: "reaction",
				DecayRate:  0.05,
			})
		}
	}
}

func (t *Tracker) addBotFact(ctx context.Context, fact *store.Fact) {
	fact.EntityType = store.FactEntityBot
	fact.EntityID = t.cfg.BotProfileID
	if _, _, err := t.facts.AddFact(ctx, fact); err != nil {
		slog.Warn("bot fact reinforcement failed", "key", fact.Key, "error", err)
	}
}

// outcomeWeights is the effectiveness mix.
var outcomeWeights = map[store.Outcome]float64{
	store.OutcomePraised:   1.0,
	store.OutcomePositive:  0.8,
	store.OutcomeNeutral:   0.5,
	store.OutcomeNegative:  0.2,
	store.OutcomeCorrected: 0.1,
	store.OutcomeIgnored:   0.0,
}

// Effectiveness is the windowed outcome summary.
type Effectiveness struct {
	Days          int
	TotalOutcomes int
	Reactions     int
	Score         float64
	ByOutcome     map[store.Outcome]int
}

// RecentEffectiveness computes the weighted outcome mix over the last days.
func (t *Tracker) RecentEffectiveness(ctx context.Context, days int) (*Effectiveness, error) {
	if days <= 0 {
		days = 7
	}
	since := t.now().Add(-time.Duration(days) * 24 * time.Hour).Unix()
	outcomes, err := t.backend.ListInteractionOutcomes(ctx, &store.FindInteractionOutcome{
		SinceTs: &since,
	})
	if err != nil {
		return nil, err
	}

	eff := &Effectiveness{Days: days, ByOutcome: make(map[store.Outcome]int)}
	var weightSum float64
	for _, o := range outcomes {
		eff.TotalOutcomes++
		eff.ByOutcome[o.Outcome]++
		if o.InteractionType == store.InteractionUserReaction {
			eff.Reactions++
		}
		weightSum += outcomeWeights[o.Outcome]
	}
	if eff.TotalOutcomes > 0 {
		eff.Score = weightSum / float64(eff.TotalOutcomes)
	}
	return eff, nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
