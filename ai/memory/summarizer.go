package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gryagbot/gryag/ai"
	"github.com/gryagbot/gryag/store"
)

// profilePacing spaces consecutive profile summarizations so a daily batch
// does not burst the LLM quota.
const profilePacing = 500 * time.Millisecond

// summaryStaleness is how old a summary must be before the summarizer
// refreshes it.
const summaryStaleness = 7 * 24 * time.Hour

// ProfileBackend is the persistence surface the summarizer needs.
type ProfileBackend interface {
	ListProfilesNeedingSummary(ctx context.Context, staleBefore int64, limit int) ([]*store.UserProfile, error)
	UpdateUserProfileSummary(ctx context.Context, update *store.UpdateUserProfileSummary) error
}

// SummarizerConfig tunes the daily run.
type SummarizerConfig struct {
	Hour           int // local hour at which the daily run fires
	MaxPerDay      int
	MinConfidence  float64
	FactsPerEntity int
}

// Summarizer is the background profile summarizer. It wakes once per day at
// the configured hour and rewrites stale profile summaries from the profile's
// facts.
type Summarizer struct {
	cfg       SummarizerConfig
	profiles  ProfileBackend
	facts     *FactStore
	generator ai.Generator

	failures int64
	done     chan struct{}
}

// NewSummarizer creates a Summarizer. Call Start to run it.
func NewSummarizer(cfg SummarizerConfig, profiles ProfileBackend, facts *FactStore, generator ai.Generator) *Summarizer {
	if cfg.MaxPerDay <= 0 {
		cfg.MaxPerDay = 50
	}
	if cfg.FactsPerEntity <= 0 {
		cfg.FactsPerEntity = 50
	}
	return &Summarizer{
		cfg:       cfg,
		profiles:  profiles,
		facts:     facts,
		generator: generator,
		done:      make(chan struct{}),
	}
}

// Start runs the daily loop until the context is canceled.
func (s *Summarizer) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		for {
			wait := time.Until(s.nextRun(time.Now()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			s.RunOnce(ctx)
		}
	}()
}

// Wait blocks until the loop has exited.
func (s *Summarizer) Wait() {
	<-s.done
}

// nextRun returns the next occurrence of the configured hour strictly after
// now.
func (s *Summarizer) nextRun(now time.Time) time.Time {
	run := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.Hour, 0, 0, 0, now.Location())
	if !run.After(now) {
		run = run.Add(24 * time.Hour)
	}
	return run
}

// RunOnce processes one daily batch sequentially with pacing. Failures are
// counted and left for the next day.
func (s *Summarizer) RunOnce(ctx context.Context) {
	staleBefore := time.Now().Add(-summaryStaleness).Unix()
	profiles, err := s.profiles.ListProfilesNeedingSummary(ctx, staleBefore, s.cfg.MaxPerDay)
	if err != nil {
		slog.Error("profile summarizer batch fetch failed", "error", err)
		return
	}
	if len(profiles) == 0 {
		return
	}
	slog.Info("profile summarizer run", "profiles", len(profiles))

	for i, p := range profiles {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(profilePacing):
			}
		}
		if err := s.summarizeProfile(ctx, p); err != nil {
			s.failures++
			slog.Warn("profile summarization failed",
				"user_id", p.UserID, "chat_id", p.ChatID, "error", err)
		}
	}
}

func (s *Summarizer) summarizeProfile(ctx context.Context, p *store.UserProfile) error {
	facts, err := s.facts.GetFacts(ctx, FactQuery{
		EntityType:    store.FactEntityUser,
		EntityID:      p.ID,
		MinConfidence: s.cfg.MinConfidence,
		Limit:         s.cfg.FactsPerEntity,
	})
	if err != nil {
		return err
	}
	if len(facts) == 0 {
		return nil
	}

	result, err := s.generator.Generate(ctx, &ai.GenerateRequest{
		SystemPrompt: "You summarize what is known about a chat member. " +
			"Write a neutral third-person summary of at most 200 words. " +
			"Use only the provided facts; do not speculate.",
		UserParts: []ai.Part{ai.TextPart(formatFactsByCategory(p.DisplayName, facts))},
	})
	if err != nil {
		return err
	}
	summary := strings.TrimSpace(result.Text)
	if summary == "" {
		return nil
	}

	return s.profiles.UpdateUserProfileSummary(ctx, &store.UpdateUserProfileSummary{
		ID:        p.ID,
		UserID:    p.UserID,
		ChatID:    p.ChatID,
		Summary:   summary,
		UpdatedTs: time.Now().Unix(),
	})
}

// formatFactsByCategory renders facts grouped by category for the prompt.
func formatFactsByCategory(displayName string, facts []*store.Fact) string {
	byCategory := make(map[string][]*store.Fact)
	for _, f := range facts {
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var b strings.Builder
	fmt.Fprintf(&b, "Known facts about %s:\n", displayName)
	for _, c := range categories {
		fmt.Fprintf(&b, "\n%s:\n", c)
		for _, f := range byCategory[c] {
			fmt.Fprintf(&b, "- %s: %s (confidence %.2f, seen %d times)\n",
				f.Key, f.Value, f.Confidence, f.EvidenceCount)
		}
	}
	return b.String()
}
