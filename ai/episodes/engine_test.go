package episodes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/store"
)

type fakeEpisodeStore struct {
	nextID   int64
	episodes []*store.Episode
	accesses []int64
}

func (f *fakeEpisodeStore) CreateEpisode(_ context.Context, create *store.Episode) (*store.Episode, error) {
	f.nextID++
	clone := *create
	clone.ID = f.nextID
	f.episodes = append(f.episodes, &clone)
	return &clone, nil
}

func (f *fakeEpisodeStore) ListEpisodes(_ context.Context, find *store.FindEpisode) ([]*store.Episode, error) {
	var out []*store.Episode
	for _, ep := range f.episodes {
		if find.ChatID != nil && ep.ChatID != *find.ChatID {
			continue
		}
		if ep.Importance < find.MinImportance {
			continue
		}
		if find.ParticipantID != nil && !containsID(ep.ParticipantIDs, *find.ParticipantID) {
			continue
		}
		out = append(out, ep)
	}
	return out, nil
}

func (f *fakeEpisodeStore) RecordEpisodeAccess(_ context.Context, id, _ int64) error {
	f.accesses = append(f.accesses, id)
	return nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestHeuristicImportance(t *testing.T) {
	base := int64(1_700_000_000)

	long := &Window{
		Participants: map[int64]struct{}{1: {}, 2: {}, 3: {}},
	}
	for i := 0; i < 20; i++ {
		long.Messages = append(long.Messages, &store.Message{Ts: base + int64(i*100)})
	}
	// 20 messages, 3 participants, ~32 minutes: every band maxed, capped at 1.
	assert.InDelta(t, 1.0, heuristicImportance(long), 1e-9)

	short := &Window{Participants: map[int64]struct{}{1: {}}}
	for i := 0; i < 5; i++ {
		short.Messages = append(short.Messages, &store.Message{Ts: base + int64(i*10)})
	}
	assert.InDelta(t, 0.2, heuristicImportance(short), 1e-9)

	mid := &Window{Participants: map[int64]struct{}{1: {}, 2: {}}}
	for i := 0; i < 10; i++ {
		mid.Messages = append(mid.Messages, &store.Message{Ts: base + int64(i*40)})
	}
	// 10 messages (0.3), 2 participants (0.2), 6 minutes (0.1).
	assert.InDelta(t, 0.6, heuristicImportance(mid), 1e-9)
}

func TestHeuristicTopic(t *testing.T) {
	assert.Equal(t, "conversation", heuristicTopic([]*store.Message{{Text: ""}}))
	assert.Equal(t, "коротка тема", heuristicTopic([]*store.Message{{Text: ""}, {Text: "коротка тема"}}))

	long := "це дуже довге повідомлення яке точно не влізе в п'ятдесят символів заголовка"
	topic := heuristicTopic([]*store.Message{{Text: long}})
	assert.Equal(t, 51, len([]rune(topic)))
	assert.Equal(t, "…", string([]rune(topic)[50]))
}

func TestExtractJSON(t *testing.T) {
	plain := `{"topic": "t"}`
	assert.Equal(t, plain, extractJSON(plain))
	assert.Equal(t, plain, extractJSON("```json\n"+plain+"\n```"))
	assert.Equal(t, plain, extractJSON("```\n"+plain+"\n```"))
}

func TestTagOverlap(t *testing.T) {
	assert.Zero(t, tagOverlap(nil, []string{"weather"}))
	assert.Zero(t, tagOverlap([]string{"weather"}, nil))
	assert.InDelta(t, 0.5, tagOverlap([]string{"weather", "kyiv"}, []string{"Weather", "sports"}), 1e-9)
	assert.InDelta(t, 1.0, tagOverlap([]string{"weather"}, []string{"weather"}), 1e-9)
}

func TestOnMessageClosesFullWindow(t *testing.T) {
	st := &fakeEpisodeStore{}
	e := NewEngine(EngineConfig{
		Detector:             DetectorConfig{MinMessages: 5},
		AutoCreate:           true,
		MaxMessagesPerWindow: 5,
	}, st, nil, nil)

	base := int64(1_700_000_000)
	for i := 0; i < 5; i++ {
		e.OnMessage(context.Background(), &store.Message{
			ID: int64(i + 1), ChatID: 7, UserID: int64(10 + i%2),
			Text: "повідомлення номер", Ts: base + int64(i*30),
		})
	}

	require.Len(t, st.episodes, 1)
	ep := st.episodes[0]
	assert.Equal(t, int64(7), ep.ChatID)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ep.MessageIDs)
	assert.ElementsMatch(t, []int64{10, 11}, ep.ParticipantIDs)
	assert.Equal(t, store.ValenceNeutral, ep.Valence)
	assert.NotEmpty(t, ep.Topic)
	// Window is gone, a new message starts a fresh one.
	assert.Zero(t, e.tracker.Len())
}

func TestOnMessageBelowMinimumDiscarded(t *testing.T) {
	st := &fakeEpisodeStore{}
	e := NewEngine(EngineConfig{
		Detector:             DetectorConfig{MinMessages: 5},
		AutoCreate:           true,
		MaxMessagesPerWindow: 3,
	}, st, nil, nil)

	base := int64(1_700_000_000)
	for i := 0; i < 3; i++ {
		e.OnMessage(context.Background(), &store.Message{
			ID: int64(i + 1), ChatID: 7, UserID: 10, Ts: base + int64(i*30),
		})
	}

	// The window filled and closed but held fewer than the episode minimum.
	assert.Empty(t, st.episodes)
	assert.Zero(t, e.tracker.Len())
}

func TestRetrieveRelevantRanking(t *testing.T) {
	st := &fakeEpisodeStore{
		nextID: 3,
		episodes: []*store.Episode{
			{ID: 1, ChatID: 7, Importance: 0.5, ParticipantIDs: []int64{10},
				Tags: []string{"weather"}, SummaryEmbedding: []float32{1, 0}},
			{ID: 2, ChatID: 7, Importance: 0.9, ParticipantIDs: []int64{10},
				SummaryEmbedding: []float32{0, 1}},
			{ID: 3, ChatID: 7, Importance: 0.2, ParticipantIDs: []int64{10},
				Tags: []string{"weather"}, SummaryEmbedding: []float32{1, 0}},
		},
	}
	e := NewEngine(EngineConfig{Detector: DetectorConfig{}}, st,
		&stubVec{vec: []float32{1, 0}}, nil)

	scored, err := e.RetrieveRelevant(context.Background(), 7, 10, "weather forecast", 2)
	require.NoError(t, err)
	require.Len(t, scored, 2)

	// Episode 1: 0.6·1 + 0.3·0.5 + 0.1·0.5 = 0.8. Episode 2: 0.1·0.9 = 0.09.
	// Episode 3 is filtered by MinImportance.
	assert.Equal(t, int64(1), scored[0].Episode.ID)
	assert.InDelta(t, 0.8, scored[0].Score, 1e-9)
	assert.Equal(t, int64(2), scored[1].Episode.ID)
	assert.InDelta(t, 0.09, scored[1].Score, 1e-9)

	assert.Equal(t, []int64{1, 2}, st.accesses)
}

type stubVec struct {
	vec []float32
}

func (s *stubVec) Embed(_ context.Context, _ string) ([]float32, error) {
	return s.vec, nil
}

func TestTrackerCloseUnknownWindow(t *testing.T) {
	tr := NewTracker()
	assert.Nil(t, tr.Close(1, 0))

	tr.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	w, size := tr.Track(&store.Message{ChatID: 1, UserID: 5, Ts: 1_700_000_000})
	assert.Equal(t, 1, size)
	assert.Equal(t, time.Unix(1_700_000_000, 0), w.CreatedAt)
	assert.Equal(t, 1, tr.Len())

	closed := tr.Close(1, 0)
	require.NotNil(t, closed)
	assert.Equal(t, w.CreatedAt, closed.CreatedAt)
	assert.Len(t, closed.Messages, 1)
	assert.Zero(t, tr.Len())
}
