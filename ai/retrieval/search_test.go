package retrieval

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/store"
)

type fakeSearchStore struct {
	embedded   []*store.Message
	scored     []*store.ScoredMessage
	counts     map[int64]int64
	ftsErr     error
	countCalls int
}

func (f *fakeSearchStore) ListEmbeddedMessages(_ context.Context, _ int64, _ *int64, _ int) ([]*store.Message, error) {
	return f.embedded, nil
}

func (f *fakeSearchStore) SearchMessagesFTS(_ context.Context, _ int64, _ *int64, _ string, _ int) ([]*store.ScoredMessage, error) {
	if f.ftsErr != nil {
		return nil, f.ftsErr
	}
	return f.scored, nil
}

func (f *fakeSearchStore) UserMessageCounts(_ context.Context, _ int64) (map[int64]int64, error) {
	f.countCalls++
	return f.counts, nil
}

type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vec, nil
}

func newTestSearcher(st *fakeSearchStore, nowTs int64) *Searcher {
	s := NewSearcher(Config{
		SemanticWeight:   0.6,
		KeywordWeight:    0.4,
		TemporalWeight:   1,
		TemporalHalfLife: 7,
		HybridEnabled:    true,
	}, st, &fixedEmbedder{vec: []float32{1, 0}})
	s.now = func() time.Time { return time.Unix(nowTs, 0) }
	return s
}

func TestSearchMergesSemanticAndKeyword(t *testing.T) {
	now := int64(1_700_000_000)
	both := &store.Message{ID: 1, UserID: 10, Ts: now, Embedding: []float32{1, 0}, Text: "weather kyiv"}
	semOnly := &store.Message{ID: 2, UserID: 10, Ts: now, Embedding: []float32{0.9, 0.1}, Text: "forecast"}
	st := &fakeSearchStore{
		embedded: []*store.Message{both, semOnly},
		scored:   []*store.ScoredMessage{{Message: both, Score: -2}},
		counts:   map[int64]int64{10: 5},
	}
	s := newTestSearcher(st, now)

	results, err := s.Search(context.Background(), Query{Text: "weather", ChatID: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The message matched by both channels ranks first.
	assert.Equal(t, int64(1), results[0].Message.ID)
	assert.InDelta(t, 1.0, results[0].SemanticScore, 1e-9)
	assert.InDelta(t, 1.0/3.0, results[0].KeywordScore, 1e-9)
	assert.Zero(t, results[1].KeywordScore)
}

func TestScoreFormula(t *testing.T) {
	now := int64(1_700_000_000)
	st := &fakeSearchStore{counts: map[int64]int64{10: 2, 20: 4}}
	s := newTestSearcher(st, now)

	// 7-day-old message from the less active sender, addressed to the bot.
	r := &SearchResult{
		Message:       &store.Message{UserID: 10, Ts: now - 7*86400, Addressed: true},
		SemanticScore: 0.8,
		KeywordScore:  0.5,
	}
	s.score(r, st.counts, 4, now)

	base := (0.6*0.8 + 0.4*0.5) / (0.6 + 0.4)
	temporal := math.Exp(-1) // age equals the half-life
	importance := 1 + 2.0/4.0
	want := base * temporal * importance * 1.5
	assert.InDelta(t, temporal, r.TemporalFactor, 1e-9)
	assert.InDelta(t, importance, r.ImportanceFactor, 1e-9)
	assert.InDelta(t, want, r.FinalScore, 1e-9)
}

func TestScoreSemanticOnlyWhenHybridDisabled(t *testing.T) {
	now := int64(1_700_000_000)
	st := &fakeSearchStore{counts: map[int64]int64{}}
	s := newTestSearcher(st, now)
	s.cfg.HybridEnabled = false

	r := &SearchResult{
		Message:       &store.Message{UserID: 10, Ts: now},
		SemanticScore: 0.8,
		KeywordScore:  0.9,
	}
	s.score(r, st.counts, 1, now)
	assert.InDelta(t, 0.8, r.FinalScore, 1e-9)
}

func TestKeywordFailureDegradesToSemantic(t *testing.T) {
	now := int64(1_700_000_000)
	st := &fakeSearchStore{
		embedded: []*store.Message{{ID: 1, UserID: 10, Ts: now, Embedding: []float32{1, 0}}},
		ftsErr:   errors.New("fts5: syntax error"),
		counts:   map[int64]int64{10: 1},
	}
	s := newTestSearcher(st, now)

	results, err := s.Search(context.Background(), Query{Text: "weather", ChatID: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].Message.ID)
}

func TestTimeRangeFilter(t *testing.T) {
	now := int64(1_700_000_000)
	st := &fakeSearchStore{
		embedded: []*store.Message{
			{ID: 1, UserID: 10, Ts: now - 86400, Embedding: []float32{1, 0}},
			{ID: 2, UserID: 10, Ts: now - 40*86400, Embedding: []float32{1, 0}},
		},
		counts: map[int64]int64{10: 1},
	}
	s := newTestSearcher(st, now)

	results, err := s.Search(context.Background(), Query{Text: "weather", ChatID: 1, TimeRangeDays: 30})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].Message.ID)
}

func TestSenderCountsCached(t *testing.T) {
	now := int64(1_700_000_000)
	st := &fakeSearchStore{
		embedded: []*store.Message{{ID: 1, UserID: 10, Ts: now, Embedding: []float32{1, 0}}},
		counts:   map[int64]int64{10: 1},
	}
	s := newTestSearcher(st, now)

	for i := 0; i < 3; i++ {
		_, err := s.Search(context.Background(), Query{Text: "weather", ChatID: 1})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, st.countCalls)
}
