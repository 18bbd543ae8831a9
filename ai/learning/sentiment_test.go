package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gryagbot/gryag/store"
)

func TestDetectSentiment(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		outcome    store.Outcome
		confidence float64
		score      float64
	}{
		{"ukrainian praise", "дякую, гряг!", store.OutcomePraised, 0.9, 1.0},
		{"english praise", "thanks, that was perfect", store.OutcomePraised, 0.9, 1.0},
		{"positive", "клас, так і зробимо", store.OutcomePositive, 0.7, 0.5},
		{"emoji positive", "👍", store.OutcomePositive, 0.7, 0.5},
		{"negative", "фігня якась", store.OutcomeNegative, 0.8, -0.5},
		{"correction", "насправді все було не так", store.OutcomeCorrected, 0.8, -0.3},
		{"correction wins over negative", "не так, це погано", store.OutcomeCorrected, 0.8, -0.3},
		{"praise wins over positive", "дуже дякую, добре вийшло", store.OutcomePraised, 0.9, 1.0},
		{"neutral", "а що там з погодою", store.OutcomeNeutral, 0.5, 0},
		{"empty", "", store.OutcomeNeutral, 0.5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DetectSentiment(tt.text)
			assert.Equal(t, tt.outcome, s.Outcome)
			assert.InDelta(t, tt.confidence, s.Confidence, 1e-9)
			assert.InDelta(t, tt.score, s.Score, 1e-9)
		})
	}
}
