package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/store"
)

// fakeFactBackend is an in-memory FactStoreBackend.
type fakeFactBackend struct {
	nextID int64
	facts  map[int64]*store.Fact
}

func newFakeFactBackend() *fakeFactBackend {
	return &fakeFactBackend{nextID: 1, facts: make(map[int64]*store.Fact)}
}

func (f *fakeFactBackend) CreateFact(_ context.Context, create *store.Fact) (*store.Fact, error) {
	clone := *create
	clone.ID = f.nextID
	clone.IsActive = true
	f.nextID++
	f.facts[clone.ID] = &clone
	return &clone, nil
}

func (f *fakeFactBackend) ListFacts(_ context.Context, find *store.FindFact) ([]*store.Fact, error) {
	var out []*store.Fact
	for _, fact := range f.facts {
		if find.EntityType != nil && fact.EntityType != *find.EntityType {
			continue
		}
		if find.EntityID != nil && fact.EntityID != *find.EntityID {
			continue
		}
		if find.Category != nil && fact.Category != *find.Category {
			continue
		}
		if find.OnlyActive && !fact.IsActive {
			continue
		}
		out = append(out, fact)
	}
	return out, nil
}

func (f *fakeFactBackend) ReinforceFact(_ context.Context, update *store.ReinforceFact) error {
	fact := f.facts[update.ID]
	fact.Confidence = update.Confidence
	fact.EvidenceCount = update.EvidenceCount
	fact.Value = update.Value
	fact.LastReinforced = update.LastReinforced
	return nil
}

func (f *fakeFactBackend) DeactivateFact(_ context.Context, id int64) error {
	f.facts[id].IsActive = false
	return nil
}

func (f *fakeFactBackend) DeleteFact(_ context.Context, id int64) error {
	delete(f.facts, id)
	return nil
}

func (f *fakeFactBackend) DeleteFactsByEntity(_ context.Context, entityType store.FactEntity, entityID int64) (int64, error) {
	var n int64
	for id, fact := range f.facts {
		if fact.EntityType == entityType && fact.EntityID == entityID {
			delete(f.facts, id)
			n++
		}
	}
	return n, nil
}

// stubEmbedder returns a fixed vector per text.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return s.vectors[text], nil
}

func TestAddFactDeduplicates(t *testing.T) {
	ctx := context.Background()
	backend := newFakeFactBackend()
	// Two near-identical vectors, cosine well above 0.85.
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"favorite_color: blue":  {1, 0.02, 0},
		"favorite_color: azure": {1, 0.05, 0},
	}}
	fs := NewFactStore(FactConfig{
		DedupThreshold:   0.85,
		EnableEmbeddings: true,
	}, backend, embedder)

	first, reinforced, err := fs.AddFact(ctx, &store.Fact{
		EntityType: store.FactEntityUser,
		EntityID:   42,
		Category:   "preference",
		Key:        "favorite_color",
		Value:      "blue",
		Confidence: 0.6,
	})
	require.NoError(t, err)
	assert.False(t, reinforced)
	assert.Equal(t, 1, first.EvidenceCount)

	second, reinforced, err := fs.AddFact(ctx, &store.Fact{
		EntityType: store.FactEntityUser,
		EntityID:   42,
		Category:   "preference",
		Key:        "favorite_color",
		Value:      "azure",
		Confidence: 0.9,
	})
	require.NoError(t, err)
	assert.True(t, reinforced)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.EvidenceCount)
	assert.InDelta(t, 0.7*0.6+0.3*0.9, second.Confidence, 1e-9)
	// Merged confidence exceeds the old one, so the value is replaced.
	assert.Equal(t, "azure", second.Value)

	stored, err := backend.ListFacts(ctx, &store.FindFact{OnlyActive: true})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestAddFactDistinctStaysSeparate(t *testing.T) {
	ctx := context.Background()
	backend := newFakeFactBackend()
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"favorite_color: blue": {1, 0, 0},
		"hometown: kyiv":       {0, 1, 0},
	}}
	fs := NewFactStore(FactConfig{DedupThreshold: 0.85, EnableEmbeddings: true}, backend, embedder)

	_, _, err := fs.AddFact(ctx, &store.Fact{
		EntityType: store.FactEntityUser, EntityID: 42, Category: "preference",
		Key: "favorite_color", Value: "blue", Confidence: 0.6,
	})
	require.NoError(t, err)
	_, reinforced, err := fs.AddFact(ctx, &store.Fact{
		EntityType: store.FactEntityUser, EntityID: 42, Category: "preference",
		Key: "hometown", Value: "kyiv", Confidence: 0.8,
	})
	require.NoError(t, err)
	assert.False(t, reinforced)

	stored, _ := backend.ListFacts(ctx, &store.FindFact{OnlyActive: true})
	assert.Len(t, stored, 2)
}

func TestEffectiveConfidenceDecayMonotonic(t *testing.T) {
	f := &store.Fact{Confidence: 0.9, DecayRate: 0.05, LastReinforced: 0}

	prev := f.EffectiveConfidence(0)
	assert.InDelta(t, 0.9, prev, 1e-9)
	for days := int64(1); days <= 30; days++ {
		cur := f.EffectiveConfidence(days * 86400)
		assert.Less(t, cur, prev, "day %d", days)
		prev = cur
	}
}

func TestGetFactsAppliesDecayFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	backend := newFakeFactBackend()
	fs := NewFactStore(FactConfig{EnableDecay: true}, backend, nil)
	now := time.Now().Unix()

	// Fresh fact, no decay.
	_, _, err := fs.AddFact(ctx, &store.Fact{
		EntityType: store.FactEntityUser, EntityID: 1, Category: "a",
		Key: "fresh", Value: "v", Confidence: 0.5, LastReinforced: now,
	})
	require.NoError(t, err)
	// Old fact whose decayed confidence drops below the threshold.
	_, _, err = fs.AddFact(ctx, &store.Fact{
		EntityType: store.FactEntityUser, EntityID: 1, Category: "b",
		Key: "stale", Value: "v", Confidence: 0.6, DecayRate: 0.2,
		LastReinforced: now - 30*86400,
	})
	require.NoError(t, err)

	facts, err := fs.GetFacts(ctx, FactQuery{
		EntityType:    store.FactEntityUser,
		EntityID:      1,
		MinConfidence: 0.3,
	})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "fresh", facts[0].Key)
}

func TestGetFactsTagFilter(t *testing.T) {
	ctx := context.Background()
	backend := newFakeFactBackend()
	fs := NewFactStore(FactConfig{}, backend, nil)

	_, _, err := fs.AddFact(ctx, &store.Fact{
		EntityType: store.FactEntityUser, EntityID: 1, Category: "a",
		Key: "tagged", Value: "v", Confidence: 0.9, ContextTags: []string{"games", "music"},
	})
	require.NoError(t, err)
	_, _, err = fs.AddFact(ctx, &store.Fact{
		EntityType: store.FactEntityUser, EntityID: 1, Category: "b",
		Key: "untagged", Value: "v", Confidence: 0.9,
	})
	require.NoError(t, err)

	facts, err := fs.GetFacts(ctx, FactQuery{
		EntityType: store.FactEntityUser,
		EntityID:   1,
		Tags:       []string{"music"},
	})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "tagged", facts[0].Key)
}

func TestFactCapDeactivatesWeakest(t *testing.T) {
	ctx := context.Background()
	backend := newFakeFactBackend()
	fs := NewFactStore(FactConfig{MaxFactsPerUser: 2}, backend, nil)

	confidences := []float64{0.9, 0.2}
	for i, c := range confidences {
		_, _, err := fs.AddFact(ctx, &store.Fact{
			EntityType: store.FactEntityUser, EntityID: 1,
			Category: "c", Key: "k" + string(rune('a'+i)), Value: "v", Confidence: c,
		})
		require.NoError(t, err)
	}

	// Third insert pushes over the cap; the weakest goes inactive.
	_, _, err := fs.AddFact(ctx, &store.Fact{
		EntityType: store.FactEntityUser, EntityID: 1,
		Category: "d", Key: "kc", Value: "v", Confidence: 0.7,
	})
	require.NoError(t, err)

	active, _ := backend.ListFacts(ctx, &store.FindFact{OnlyActive: true})
	assert.Len(t, active, 2)
	for _, f := range active {
		assert.NotEqual(t, "kb", f.Key)
	}
}
