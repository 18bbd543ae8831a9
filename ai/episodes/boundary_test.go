package episodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gryagbot/gryag/store"
)

func TestTemporalStrengthBands(t *testing.T) {
	d := NewDetector(DetectorConfig{}, nil)

	assert.Equal(t, 0.0, d.temporalStrength(60))
	assert.Equal(t, 0.4, d.temporalStrength(120))
	assert.Equal(t, 0.4, d.temporalStrength(899))
	assert.Equal(t, 0.7, d.temporalStrength(900))
	assert.Equal(t, 0.7, d.temporalStrength(3599))
	assert.Equal(t, 1.0, d.temporalStrength(3600))
	assert.Equal(t, 1.0, d.temporalStrength(86400))
}

func TestMatchesTopicMarker(t *testing.T) {
	positive := []string{
		"by the way, did you see the game?",
		"Anyway, back to work",
		"До речі, хто йде завтра?",
		"давайте поговоримо про відпустку",
		"це вже інша тема",
		"Let's talk about something else",
	}
	for _, text := range positive {
		assert.True(t, matchesTopicMarker(text), "expected marker in %q", text)
	}

	negative := []string{
		"",
		"звичайне повідомлення без маркерів",
		"the weather is nice today",
	}
	for _, text := range negative {
		assert.False(t, matchesTopicMarker(text), "unexpected marker in %q", text)
	}
}

func TestBestClusterScore(t *testing.T) {
	// All three kinds in one cluster: the multiplied score exceeds 1 and is
	// capped.
	signals := []signal{
		{kind: signalSemantic, strength: 1.0, ts: 1000},
		{kind: signalTemporal, strength: 0.8, ts: 1010},
		{kind: signalMarker, strength: 0.8, ts: 1020},
	}
	assert.InDelta(t, 1.0, bestClusterScore(signals), 1e-9)

	// Two kinds: (0.35·0.7 + 0.25·0.8) · 1.2
	signals = []signal{
		{kind: signalTemporal, strength: 0.7, ts: 1000},
		{kind: signalMarker, strength: 0.8, ts: 1030},
	}
	assert.InDelta(t, (0.35*0.7+0.25*0.8)*1.2, bestClusterScore(signals), 1e-9)

	// One kind, no bonus.
	signals = []signal{{kind: signalTemporal, strength: 1.0, ts: 1000}}
	assert.InDelta(t, 0.35, bestClusterScore(signals), 1e-9)
}

func TestBestClusterScoreWindowSplit(t *testing.T) {
	// Signals 100 seconds apart fall into separate clusters, so no
	// multi-kind bonus applies.
	signals := []signal{
		{kind: signalTemporal, strength: 1.0, ts: 1000},
		{kind: signalMarker, strength: 0.8, ts: 1100},
	}
	assert.InDelta(t, 0.35, bestClusterScore(signals), 1e-9)
}

func TestHasBoundaryMinMessages(t *testing.T) {
	d := NewDetector(DetectorConfig{MinMessages: 5}, nil)
	w := &Window{Participants: map[int64]struct{}{}}
	for i := 0; i < 4; i++ {
		w.Messages = append(w.Messages, &store.Message{Ts: int64(1000 + i*4000), Text: "до речі"})
	}

	ok, score := d.HasBoundary(context.Background(), w)
	assert.False(t, ok)
	assert.Zero(t, score)
}

func TestHasBoundaryGapPlusMarker(t *testing.T) {
	d := NewDetector(DetectorConfig{}, nil)

	// A long silence followed by an explicit topic switch. The two signals
	// share the same anchor message, so they cluster.
	base := int64(1_700_000_000)
	w := &Window{
		Participants: map[int64]struct{}{},
		Messages: []*store.Message{
			{Ts: base, Text: "перше"},
			{Ts: base + 30, Text: "друге"},
			{Ts: base + 60, Text: "третє"},
			{Ts: base + 90, Text: "четверте"},
			{Ts: base + 90 + 4000, Text: "до речі, давайте про інше"},
		},
	}

	ok, score := d.HasBoundary(context.Background(), w)
	assert.True(t, ok)
	// (0.35·1.0 + 0.25·0.8) · 1.2 for two signal kinds.
	assert.InDelta(t, (0.35*1.0+0.25*0.8)*1.2, score, 1e-9)
}

func TestHasBoundaryQuietWindow(t *testing.T) {
	d := NewDetector(DetectorConfig{}, nil)

	base := int64(1_700_000_000)
	w := &Window{Participants: map[int64]struct{}{}}
	for i := 0; i < 6; i++ {
		w.Messages = append(w.Messages, &store.Message{
			Ts: base + int64(i*30), Text: "звичайна розмова триває",
		})
	}

	ok, _ := d.HasBoundary(context.Background(), w)
	assert.False(t, ok)
}
