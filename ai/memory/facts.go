// Package memory implements the fact and profile layer: confidence-weighted
// facts about users, chats and the bot itself, with semantic deduplication,
// temporal decay and a background profile summarizer.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/gryagbot/gryag/ai"
	"github.com/gryagbot/gryag/store"
)

// FactStoreBackend is the persistence surface the fact store needs.
type FactStoreBackend interface {
	CreateFact(ctx context.Context, create *store.Fact) (*store.Fact, error)
	ListFacts(ctx context.Context, find *store.FindFact) ([]*store.Fact, error)
	ReinforceFact(ctx context.Context, update *store.ReinforceFact) error
	DeactivateFact(ctx context.Context, id int64) error
	DeleteFact(ctx context.Context, id int64) error
	DeleteFactsByEntity(ctx context.Context, entityType store.FactEntity, entityID int64) (int64, error)
}

// FactConfig tunes deduplication and retrieval.
type FactConfig struct {
	DedupThreshold   float64
	EnableDecay      bool
	EnableEmbeddings bool
	MaxFactsPerUser  int
}

// FactStore manages fact insertion with semantic dedup and decayed retrieval.
type FactStore struct {
	cfg      FactConfig
	store    FactStoreBackend
	embedder ai.Embedder
	now      func() time.Time
}

// NewFactStore creates a FactStore. embedder may be nil; dedup then falls
// back to exact key matching.
func NewFactStore(cfg FactConfig, st FactStoreBackend, embedder ai.Embedder) *FactStore {
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = 0.85
	}
	return &FactStore{cfg: cfg, store: st, embedder: embedder, now: time.Now}
}

// AddFact inserts a fact, or reinforces an existing semantically equivalent
// one. Returns the stored fact and whether it was a reinforcement.
func (fs *FactStore) AddFact(ctx context.Context, fact *store.Fact) (*store.Fact, bool, error) {
	if fact.EvidenceCount < 1 {
		fact.EvidenceCount = 1
	}
	now := fs.now().Unix()
	if fact.LastReinforced == 0 {
		fact.LastReinforced = now
	}

	if fs.cfg.EnableEmbeddings && fs.embedder != nil && len(fact.Embedding) == 0 {
		vec, err := fs.embedder.Embed(ctx, fact.Key+": "+fact.Value)
		if err != nil {
			slog.Warn("fact embedding failed", "key", fact.Key, "error", err)
		} else {
			fact.Embedding = vec
		}
	}

	existing, err := fs.store.ListFacts(ctx, &store.FindFact{
		EntityType: &fact.EntityType,
		EntityID:   &fact.EntityID,
		Category:   &fact.Category,
		OnlyActive: true,
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to list facts for dedup")
	}

	if dup := fs.findDuplicate(fact, existing); dup != nil {
		merged := 0.7*dup.Confidence + 0.3*fact.Confidence
		if merged > 1 {
			merged = 1
		}
		update := &store.ReinforceFact{
			ID:             dup.ID,
			Confidence:     merged,
			EvidenceCount:  dup.EvidenceCount + 1,
			Value:          dup.Value,
			LastReinforced: now,
		}
		if merged > dup.Confidence {
			update.Value = fact.Value
		}
		if err := fs.store.ReinforceFact(ctx, update); err != nil {
			return nil, false, errors.Wrap(err, "failed to reinforce fact")
		}
		dup.Confidence = merged
		dup.EvidenceCount = update.EvidenceCount
		dup.Value = update.Value
		dup.LastReinforced = now
		return dup, true, nil
	}

	if fs.cfg.MaxFactsPerUser > 0 && fact.EntityType == store.FactEntityUser {
		if err := fs.enforceCap(ctx, fact.EntityType, fact.EntityID); err != nil {
			slog.Warn("fact cap enforcement failed", "entity_id", fact.EntityID, "error", err)
		}
	}

	created, err := fs.store.CreateFact(ctx, fact)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to create fact")
	}
	return created, false, nil
}

// findDuplicate locates an active fact the new one should merge into. Cosine
// similarity over embeddings when both sides have one, exact key match
// otherwise.
func (fs *FactStore) findDuplicate(fact *store.Fact, existing []*store.Fact) *store.Fact {
	var best *store.Fact
	bestSim := fs.cfg.DedupThreshold
	for _, e := range existing {
		if len(fact.Embedding) > 0 && len(e.Embedding) > 0 {
			sim := ai.CosineSimilarity(fact.Embedding, e.Embedding)
			if sim >= bestSim {
				best = e
				bestSim = sim
			}
			continue
		}
		if e.Key == fact.Key {
			return e
		}
	}
	return best
}

// enforceCap deactivates the weakest facts so the entity stays under the cap
// after the pending insert.
func (fs *FactStore) enforceCap(ctx context.Context, entityType store.FactEntity, entityID int64) error {
	active, err := fs.store.ListFacts(ctx, &store.FindFact{
		EntityType: &entityType,
		EntityID:   &entityID,
		OnlyActive: true,
	})
	if err != nil {
		return err
	}
	overflow := len(active) + 1 - fs.cfg.MaxFactsPerUser
	if overflow <= 0 {
		return nil
	}
	now := fs.now().Unix()
	sort.Slice(active, func(i, j int) bool {
		return active[i].EffectiveConfidence(now) < active[j].EffectiveConfidence(now)
	})
	for i := 0; i < overflow && i < len(active); i++ {
		if err := fs.store.DeactivateFact(ctx, active[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// FactQuery describes one retrieval.
type FactQuery struct {
	EntityType    store.FactEntity
	EntityID      int64
	Category      string
	MinConfidence float64
	Tags          []string
	Limit         int
}

// GetFacts returns active facts sorted by effective confidence descending,
// ties broken by evidence count. Decay is applied before the min-confidence
// filter.
func (fs *FactStore) GetFacts(ctx context.Context, q FactQuery) ([]*store.Fact, error) {
	find := &store.FindFact{
		EntityType: &q.EntityType,
		EntityID:   &q.EntityID,
		OnlyActive: true,
	}
	if q.Category != "" {
		find.Category = &q.Category
	}
	facts, err := fs.store.ListFacts(ctx, find)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list facts")
	}

	now := fs.now().Unix()
	filtered := make([]*store.Fact, 0, len(facts))
	for _, f := range facts {
		eff := f.Confidence
		if fs.cfg.EnableDecay {
			eff = f.EffectiveConfidence(now)
		}
		if eff < q.MinConfidence {
			continue
		}
		if len(q.Tags) > 0 && !tagsIntersect(f.ContextTags, q.Tags) {
			continue
		}
		filtered = append(filtered, f)
	}

	sort.Slice(filtered, func(i, j int) bool {
		var ei, ej float64
		if fs.cfg.EnableDecay {
			ei, ej = filtered[i].EffectiveConfidence(now), filtered[j].EffectiveConfidence(now)
		} else {
			ei, ej = filtered[i].Confidence, filtered[j].Confidence
		}
		if ei != ej {
			return ei > ej
		}
		return filtered[i].EvidenceCount > filtered[j].EvidenceCount
	})

	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[:q.Limit]
	}
	return filtered, nil
}

// DeleteFact removes one fact permanently.
func (fs *FactStore) DeleteFact(ctx context.Context, id int64) error {
	return fs.store.DeleteFact(ctx, id)
}

// ClearEntityFacts removes all facts about an entity. Returns how many rows
// went away.
func (fs *FactStore) ClearEntityFacts(ctx context.Context, entityType store.FactEntity, entityID int64) (int64, error) {
	return fs.store.DeleteFactsByEntity(ctx, entityType, entityID)
}

func tagsIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
