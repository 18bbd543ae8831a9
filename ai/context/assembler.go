// Package context assembles the layered LLM payload: immediate and recent
// history, relevant retrieved snippets, background profile knowledge and
// episodic memory, each under its own share of the token budget.
package context

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/gryagbot/gryag/ai"
	"github.com/gryagbot/gryag/ai/cache"
	"github.com/gryagbot/gryag/ai/episodes"
	"github.com/gryagbot/gryag/ai/memory"
	"github.com/gryagbot/gryag/ai/retrieval"
	"github.com/gryagbot/gryag/store"
)

// Layer budget shares of the total token budget.
const (
	immediateShare  = 0.20
	recentShare     = 0.30
	relevantShare   = 0.25
	backgroundShare = 0.15
	episodicShare   = 0.10
)

// immediateTurns is how many trailing turns form the immediate layer.
const immediateTurns = 5

// relevanceThreshold filters retrieved snippets out of the relevant layer.
const relevanceThreshold = 0.3

// l1Entries caps the in-process recent-history cache.
const l1Entries = 100

// MessageStore is the history surface of the assembler.
type MessageStore interface {
	ListRecentMessages(ctx context.Context, chatID, threadID int64, limit int) ([]*store.Message, error)
	GetMessageByTGID(ctx context.Context, chatID int64, tgMessageID int) (*store.Message, error)
}

// ProfileStore resolves the background layer's profile.
type ProfileStore interface {
	GetUserProfile(ctx context.Context, userID, chatID int64) (*store.UserProfile, error)
}

// Config tunes the assembler.
type Config struct {
	TokenBudget    int
	MaxTurns       int
	CharsPerToken  int
	EnableRelevant bool
	EnableEpisodic bool
	MinFactConf    float64
}

// Request describes one assembly.
type Request struct {
	ChatID   int64
	ThreadID int64
	UserID   int64
	Query    string
	// ReplyToTGMessageID injects the replied-to message when it is absent
	// from recent history. Zero means no reply.
	ReplyToTGMessageID int
}

// Layered is the assembled payload.
type Layered struct {
	Turns         []ai.Turn
	SystemContext string
	TotalTokens   int
	LayerTokens   map[string]int
	AssemblyMs    int64
}

// Stats are the cache hit counters.
type Stats struct {
	L1Hits   int64
	L1Misses int64
}

// Assembler builds layered contexts.
type Assembler struct {
	cfg      Config
	messages MessageStore
	profiles ProfileStore
	searcher *retrieval.Searcher
	facts    *memory.FactStore
	episodes *episodes.Engine
	rdb      *redis.Client
	l1       *cache.LRUCache[string, []*store.Message]
}

// NewAssembler creates an assembler. searcher, facts, episodes and rdb may
// each be nil; the corresponding layer or cache tier is then skipped.
func NewAssembler(cfg Config, messages MessageStore, profiles ProfileStore,
	searcher *retrieval.Searcher, facts *memory.FactStore, eps *episodes.Engine,
	rdb *redis.Client) *Assembler {
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 8000
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 50
	}
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = 4
	}
	return &Assembler{
		cfg:      cfg,
		messages: messages,
		profiles: profiles,
		searcher: searcher,
		facts:    facts,
		episodes: eps,
		rdb:      rdb,
		l1:       cache.NewLRUCache[string, []*store.Message](l1Entries, 75*time.Second),
	}
}

// EstimateTokens approximates token count as chars / chars_per_token.
func (a *Assembler) EstimateTokens(text string) int {
	return len(text) / a.cfg.CharsPerToken
}

// Stats returns L1 cache counters.
func (a *Assembler) Stats() Stats {
	hits, misses := a.l1.Stats()
	return Stats{L1Hits: hits, L1Misses: misses}
}

// Invalidate drops cached history for a chat, called after new messages are
// persisted mid-conversation.
func (a *Assembler) Invalidate(chatID, threadID int64) {
	a.l1.Remove(historyKey(chatID, threadID))
}

// Assemble builds the layered context. The immediate layer is never omitted;
// every other layer degrades to empty on failure.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Layered, error) {
	start := time.Now()

	history, err := a.loadHistory(ctx, req.ChatID, req.ThreadID)
	if err != nil {
		return nil, err
	}

	var (
		relevant   []*retrieval.SearchResult
		background string
		episodic   string
	)
	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.EnableRelevant && a.searcher != nil && req.Query != "" {
		g.Go(func() error {
			results, err := a.searcher.Search(gctx, retrieval.Query{
				Text:   req.Query,
				ChatID: req.ChatID,
				Limit:  10,
			})
			if err != nil {
				slog.Warn("relevant layer failed", "chat_id", req.ChatID, "error", err)
				return nil
			}
			relevant = results
			return nil
		})
	}
	g.Go(func() error {
		background = a.backgroundLayer(gctx, req)
		return nil
	})
	if a.cfg.EnableEpisodic && a.episodes != nil && req.Query != "" {
		g.Go(func() error {
			episodic = a.episodicLayer(gctx, req)
			return nil
		})
	}
	_ = g.Wait()

	budget := a.cfg.TokenBudget
	layerTokens := make(map[string]int)
	var turns []ai.Turn

	// Relevant snippets lead the history so the model reads them as older
	// material.
	if text := a.relevantText(relevant, int(float64(budget)*relevantShare)); text != "" {
		turns = append(turns, ai.Turn{Role: "user", Parts: []ai.Part{ai.TextPart(text)}})
		layerTokens["relevant"] = a.EstimateTokens(text)
	}

	recentMsgs, immediateMsgs := splitHistory(history)
	recentMsgs = a.injectReplyTarget(ctx, req, recentMsgs, immediateMsgs)

	recentTurns, recentTok := a.messagesToTurns(recentMsgs, int(float64(budget)*recentShare))
	turns = append(turns, recentTurns...)
	layerTokens["recent"] = recentTok

	immediateTurnsList, immediateTok := a.messagesToTurns(immediateMsgs, int(float64(budget)*immediateShare))
	turns = append(turns, immediateTurnsList...)
	layerTokens["immediate"] = immediateTok

	var system strings.Builder
	if background != "" {
		clipped := a.clipToTokens(background, int(float64(budget)*backgroundShare))
		system.WriteString(clipped)
		layerTokens["background"] = a.EstimateTokens(clipped)
	}
	if episodic != "" {
		clipped := a.clipToTokens(episodic, int(float64(budget)*episodicShare))
		if system.Len() > 0 {
			system.WriteString("\n\n")
		}
		system.WriteString(clipped)
		layerTokens["episodic"] = a.EstimateTokens(clipped)
	}

	total := 0
	for _, t := range layerTokens {
		total += t
	}
	return &Layered{
		Turns:         turns,
		SystemContext: system.String(),
		TotalTokens:   total,
		LayerTokens:   layerTokens,
		AssemblyMs:    time.Since(start).Milliseconds(),
	}, nil
}

// loadHistory fetches recent chat history through the L1/L2 caches.
func (a *Assembler) loadHistory(ctx context.Context, chatID, threadID int64) ([]*store.Message, error) {
	key := historyKey(chatID, threadID)
	if cached, ok := a.l1.Get(key); ok {
		return cached, nil
	}
	if a.rdb != nil {
		if raw, err := a.rdb.Get(ctx, key).Bytes(); err == nil {
			var msgs []*store.Message
			if json.Unmarshal(raw, &msgs) == nil {
				a.l1.Set(key, msgs, adaptiveTTL(chatID))
				return msgs, nil
			}
		}
	}

	msgs, err := a.messages.ListRecentMessages(ctx, chatID, threadID, a.cfg.MaxTurns)
	if err != nil {
		return nil, err
	}
	ttl := adaptiveTTL(chatID)
	a.l1.Set(key, msgs, ttl)
	if a.rdb != nil {
		if raw, err := json.Marshal(msgs); err == nil {
			a.rdb.Set(ctx, key, raw, ttl)
		}
	}
	return msgs, nil
}

// adaptiveTTL spreads expiry across 60..90 s so caches for busy chats do not
// all refill in the same instant.
func adaptiveTTL(chatID int64) time.Duration {
	return time.Duration(60+chatID%31) * time.Second
}

func historyKey(chatID, threadID int64) string {
	return fmt.Sprintf("ctx:%d:%d", chatID, threadID)
}

// splitHistory separates the trailing immediate turns from the preceding
// recent ones. history is chronological.
func splitHistory(history []*store.Message) (recent, immediate []*store.Message) {
	if len(history) <= immediateTurns {
		return nil, history
	}
	cut := len(history) - immediateTurns
	return history[:cut], history[cut:]
}

// injectReplyTarget prepends the replied-to message when it is not already in
// the assembled history, so the model always sees what is being replied to.
func (a *Assembler) injectReplyTarget(ctx context.Context, req Request, recent, immediate []*store.Message) []*store.Message {
	if req.ReplyToTGMessageID == 0 {
		return recent
	}
	for _, m := range append(append([]*store.Message{}, recent...), immediate...) {
		if m.TGMessageID == req.ReplyToTGMessageID {
			return recent
		}
	}
	target, err := a.messages.GetMessageByTGID(ctx, req.ChatID, req.ReplyToTGMessageID)
	if err != nil || target == nil {
		return recent
	}
	return append([]*store.Message{target}, recent...)
}

// messagesToTurns converts messages to turns under a token budget, dropping
// oldest first.
func (a *Assembler) messagesToTurns(msgs []*store.Message, budget int) ([]ai.Turn, int) {
	// Walk backwards keeping the newest messages that fit.
	kept := make([]*store.Message, 0, len(msgs))
	used := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		tok := a.EstimateTokens(msgs[i].Text)
		if used+tok > budget {
			break
		}
		used += tok
		kept = append(kept, msgs[i])
	}

	turns := make([]ai.Turn, 0, len(kept))
	for i := len(kept) - 1; i >= 0; i-- {
		m := kept[i]
		role := "user"
		if m.Role == store.RoleModel {
			role = "model"
		}
		turns = append(turns, ai.Turn{Role: role, Parts: []ai.Part{ai.TextPart(m.Text)}})
	}
	return turns, used
}

func (a *Assembler) relevantText(results []*retrieval.SearchResult, budget int) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant earlier messages:\n")
	used := a.EstimateTokens(b.String())
	for _, r := range results {
		if r.FinalScore < relevanceThreshold {
			continue
		}
		line := fmt.Sprintf("- %s\n", r.Message.Text)
		tok := a.EstimateTokens(line)
		if used+tok > budget {
			break
		}
		used += tok
		b.WriteString(line)
	}
	if !strings.Contains(b.String(), "- ") {
		return ""
	}
	return b.String()
}

// backgroundLayer renders the user summary, their top facts and the chat
// facts.
func (a *Assembler) backgroundLayer(ctx context.Context, req Request) string {
	if a.facts == nil || req.UserID == 0 {
		return ""
	}
	var b strings.Builder

	profile, err := a.profiles.GetUserProfile(ctx, req.UserID, req.ChatID)
	if err != nil {
		slog.Warn("background profile lookup failed", "user_id", req.UserID, "error", err)
	}
	if profile != nil {
		if profile.Summary != "" {
			fmt.Fprintf(&b, "About %s: %s\n", profile.DisplayName, profile.Summary)
		}
		userFacts, err := a.facts.GetFacts(ctx, memory.FactQuery{
			EntityType:    store.FactEntityUser,
			EntityID:      profile.ID,
			MinConfidence: a.cfg.MinFactConf,
			Limit:         10,
		})
		if err == nil && len(userFacts) > 0 {
			b.WriteString("Known facts:\n")
			for _, f := range userFacts {
				fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Value)
			}
		}
	}

	chatFacts, err := a.facts.GetFacts(ctx, memory.FactQuery{
		EntityType:    store.FactEntityChat,
		EntityID:      req.ChatID,
		MinConfidence: a.cfg.MinFactConf,
		Limit:         10,
	})
	if err == nil && len(chatFacts) > 0 {
		b.WriteString("About this chat:\n")
		for _, f := range chatFacts {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", f.Category, f.Key, f.Value)
		}
	}
	return strings.TrimSpace(b.String())
}

func (a *Assembler) episodicLayer(ctx context.Context, req Request) string {
	scored, err := a.episodes.RetrieveRelevant(ctx, req.ChatID, req.UserID, req.Query, 3)
	if err != nil {
		slog.Warn("episodic layer failed", "chat_id", req.ChatID, "error", err)
		return ""
	}
	if len(scored) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Past conversations:\n")
	for _, s := range scored {
		fmt.Fprintf(&b, "- %s: %s\n", s.Episode.Topic, s.Episode.Summary)
	}
	return strings.TrimSpace(b.String())
}

// clipToTokens truncates text to the token budget on a line boundary.
func (a *Assembler) clipToTokens(text string, budget int) string {
	if a.EstimateTokens(text) <= budget {
		return text
	}
	lines := strings.Split(text, "\n")
	var b strings.Builder
	used := 0
	for _, line := range lines {
		tok := a.EstimateTokens(line + "\n")
		if used+tok > budget {
			break
		}
		used += tok
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}
