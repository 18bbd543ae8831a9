// Package retrieval implements hybrid message search: semantic similarity
// over stored embeddings merged with full-text keyword rank, shaped by
// temporal decay, sender importance and an addressed-to-bot boost.
package retrieval

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gryagbot/gryag/ai"
	"github.com/gryagbot/gryag/ai/cache"
	"github.com/gryagbot/gryag/store"
)

// userWeightTTL is how long per-chat sender message counts are cached.
const userWeightTTL = 5 * time.Minute

// Store is the message search backend.
type Store interface {
	ListEmbeddedMessages(ctx context.Context, chatID int64, threadID *int64, limit int) ([]*store.Message, error)
	SearchMessagesFTS(ctx context.Context, chatID int64, threadID *int64, query string, limit int) ([]*store.ScoredMessage, error)
	UserMessageCounts(ctx context.Context, chatID int64) (map[int64]int64, error)
}

// SearchResult is one ranked message with its component scores.
type SearchResult struct {
	Message          *store.Message
	SemanticScore    float64
	KeywordScore     float64
	TemporalFactor   float64
	ImportanceFactor float64
	FinalScore       float64
}

// Query describes one retrieval request.
type Query struct {
	Text          string
	ChatID        int64
	ThreadID      *int64
	Limit         int
	TimeRangeDays int
}

// Config tunes the ranking.
type Config struct {
	SemanticWeight   float64
	KeywordWeight    float64
	TemporalWeight   float64
	TemporalHalfLife float64 // days
	MaxCandidates    int
	HybridEnabled    bool
	AddressedBoost   float64
}

// Searcher runs hybrid searches against one store.
type Searcher struct {
	cfg      Config
	store    Store
	embedder ai.Embedder
	weights  *cache.LRUCache[int64, map[int64]int64]
	now      func() time.Time
}

// NewSearcher creates a hybrid searcher.
func NewSearcher(cfg Config, st Store, embedder ai.Embedder) *Searcher {
	if cfg.TemporalHalfLife <= 0 {
		cfg.TemporalHalfLife = 7
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 500
	}
	if cfg.AddressedBoost <= 0 {
		cfg.AddressedBoost = 1.5
	}
	return &Searcher{
		cfg:      cfg,
		store:    st,
		embedder: embedder,
		weights:  cache.NewLRUCache[int64, map[int64]int64](256, userWeightTTL),
		now:      time.Now,
	}
}

// Search returns the top results for the query, ranked by final score.
func (s *Searcher) Search(ctx context.Context, q Query) ([]*SearchResult, error) {
	if q.Limit <= 0 {
		q.Limit = 10
	}

	merged := make(map[int64]*SearchResult)

	g, gctx := errgroup.WithContext(ctx)
	var (
		semantic []*SearchResult
		keyword  []*SearchResult
	)
	g.Go(func() error {
		var err error
		semantic, err = s.semanticSearch(gctx, q)
		return err
	})
	if s.cfg.HybridEnabled {
		g.Go(func() error {
			var err error
			keyword, err = s.keywordSearch(gctx, q)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range semantic {
		merged[r.Message.ID] = r
	}
	for _, r := range keyword {
		if existing, ok := merged[r.Message.ID]; ok {
			existing.KeywordScore = r.KeywordScore
			continue
		}
		merged[r.Message.ID] = r
	}

	counts := s.senderCounts(ctx, q.ChatID)
	var maxCount int64 = 1
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}

	nowTs := s.now().Unix()
	results := make([]*SearchResult, 0, len(merged))
	for _, r := range merged {
		s.score(r, counts, maxCount, nowTs)
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].FinalScore > results[j].FinalScore
	})
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

// score computes the final score in place.
//
//	base  = (sem_w·sem + kw_w·kw) / (sem_w + kw_w)
//	final = base · temporal^temporal_w · importance · addressed_boost
func (s *Searcher) score(r *SearchResult, counts map[int64]int64, maxCount, nowTs int64) {
	weightSum := s.cfg.SemanticWeight + s.cfg.KeywordWeight
	var base float64
	if !s.cfg.HybridEnabled || weightSum <= 0 {
		base = r.SemanticScore
	} else {
		base = (s.cfg.SemanticWeight*r.SemanticScore + s.cfg.KeywordWeight*r.KeywordScore) / weightSum
	}

	ageDays := float64(nowTs-r.Message.Ts) / 86400.0
	if ageDays < 0 {
		ageDays = 0
	}
	r.TemporalFactor = math.Exp(-ageDays / s.cfg.TemporalHalfLife)
	r.ImportanceFactor = 1 + float64(counts[r.Message.UserID])/float64(maxCount)

	boost := 1.0
	if r.Message.Addressed {
		boost = s.cfg.AddressedBoost
	}
	r.FinalScore = base * math.Pow(r.TemporalFactor, s.cfg.TemporalWeight) * r.ImportanceFactor * boost
}

func (s *Searcher) semanticSearch(ctx context.Context, q Query) ([]*SearchResult, error) {
	queryVec, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	if len(queryVec) == 0 {
		return nil, nil
	}

	candidates, err := s.store.ListEmbeddedMessages(ctx, q.ChatID, q.ThreadID, s.cfg.MaxCandidates)
	if err != nil {
		return nil, err
	}

	var cutoff int64
	if q.TimeRangeDays > 0 {
		cutoff = s.now().Add(-time.Duration(q.TimeRangeDays) * 24 * time.Hour).Unix()
	}

	var results []*SearchResult
	for _, m := range candidates {
		if cutoff > 0 && m.Ts < cutoff {
			continue
		}
		sim := ai.CosineSimilarity(queryVec, m.Embedding)
		if sim <= 0 {
			continue
		}
		results = append(results, &SearchResult{Message: m, SemanticScore: sim})
	}
	return results, nil
}

func (s *Searcher) keywordSearch(ctx context.Context, q Query) ([]*SearchResult, error) {
	tokens := Tokenize(q.Text)
	if len(tokens) == 0 {
		return nil, nil
	}
	scored, err := s.store.SearchMessagesFTS(ctx, q.ChatID, q.ThreadID, FTSQuery(tokens), q.Limit*3)
	if err != nil {
		// Malformed FTS queries degrade to semantic-only rather than failing
		// the whole search.
		slog.Warn("keyword search failed", "chat_id", q.ChatID, "error", err)
		return nil, nil
	}
	results := make([]*SearchResult, 0, len(scored))
	for _, sm := range scored {
		// bm25 rank is more negative for better matches; fold it into (0,1].
		results = append(results, &SearchResult{
			Message:      sm.Message,
			KeywordScore: 1 / (1 + math.Abs(sm.Score)),
		})
	}
	return results, nil
}

// senderCounts returns per-user message counts for the chat, cached for
// userWeightTTL. Failures degrade to neutral weights.
func (s *Searcher) senderCounts(ctx context.Context, chatID int64) map[int64]int64 {
	if cached, ok := s.weights.Get(chatID); ok {
		return cached
	}
	counts, err := s.store.UserMessageCounts(ctx, chatID)
	if err != nil {
		slog.Warn("user weight lookup failed", "chat_id", chatID, "error", err)
		return map[int64]int64{}
	}
	s.weights.SetWithDefaultTTL(chatID, counts)
	return counts
}
