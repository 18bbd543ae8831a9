// Package learning implements bot self-learning: interaction outcome
// tracking, sentiment detection on user reactions, reinforcement of facts
// about the bot itself, effectiveness metrics and reflection insights.
package learning

import (
	"regexp"

	"github.com/gryagbot/gryag/store"
)

// Sentiment is one detected reaction label with its fixed confidence and its
// score on the [-1, 1] axis.
type Sentiment struct {
	Outcome    store.Outcome
	Confidence float64
	Score      float64
}

// Pattern lists for reaction classification, Ukrainian first since that is
// the primary chat language. Praise is checked before positive so "дуже
// дякую" lands on praised.
var (
	praisePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bдякую\b`),
		regexp.MustCompile(`(?i)\bкрасава\b`),
		regexp.MustCompile(`(?i)\bмолодець\b`),
		regexp.MustCompile(`(?i)\bгеніальн`),
		regexp.MustCompile(`(?i)\bчудово\b`),
		regexp.MustCompile(`(?i)\bthank(s| you)\b`),
		regexp.MustCompile(`(?i)\bperfect\b`),
		regexp.MustCompile(`(?i)\bbrilliant\b`),
		regexp.MustCompile(`(?i)\bawesome\b`),
	}
	positivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bдобре\b`),
		regexp.MustCompile(`(?i)\bклас\b`),
		regexp.MustCompile(`(?i)\bсупер\b`),
		regexp.MustCompile(`(?i)\bнорм(ально)?\b`),
		regexp.MustCompile(`(?i)\bтак і є\b`),
		regexp.MustCompile(`(?i)\bgood\b`),
		regexp.MustCompile(`(?i)\bnice\b`),
		regexp.MustCompile(`(?i)\bcool\b`),
		regexp.MustCompile(`(?i)^\+$`),
		regexp.MustCompile(`👍|❤|🔥`),
	}
	negativePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bпогано\b`),
		regexp.MustCompile(`(?i)\bфігня\b`),
		regexp.MustCompile(`(?i)\bмаячня\b`),
		regexp.MustCompile(`(?i)\bдурня\b`),
		regexp.MustCompile(`(?i)\bне смішно\b`),
		regexp.MustCompile(`(?i)\bbad\b`),
		regexp.MustCompile(`(?i)\bwrong\b`),
		regexp.MustCompile(`(?i)\buseless\b`),
		regexp.MustCompile(`(?i)\bterrible\b`),
		regexp.MustCompile(`👎`),
	}
	correctionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bнасправді\b`),
		regexp.MustCompile(`(?i)\bне так\b`),
		regexp.MustCompile(`(?i)\bневірно\b`),
		regexp.MustCompile(`(?i)\bпомилка\b`),
		regexp.MustCompile(`(?i)\bти помиляєшся\b`),
		regexp.MustCompile(`(?i)\bactually\b`),
		regexp.MustCompile(`(?i)\bincorrect\b`),
		regexp.MustCompile(`(?i)\bthat'?s not\b`),
		regexp.MustCompile(`(?i)\bnot true\b`),
	}
)

// sentimentScores maps outcome labels to the [-1, 1] reaction axis.
var sentimentScores = map[store.Outcome]float64{
	store.OutcomePraised:   1.0,
	store.OutcomePositive:  0.5,
	store.OutcomeNeutral:   0.0,
	store.OutcomeNegative:  -0.5,
	store.OutcomeCorrected: -0.3,
}

// DetectSentiment classifies a reaction text. Corrections win over negatives
// because a correction usually contains negative wording too; praise wins
// over plain positives.
func DetectSentiment(text string) Sentiment {
	if matchesAny(correctionPatterns, text) {
		return Sentiment{Outcome: store.OutcomeCorrected, Confidence: 0.8, Score: sentimentScores[store.OutcomeCorrected]}
	}
	if matchesAny(praisePatterns, text) {
		return Sentiment{Outcome: store.OutcomePraised, Confidence: 0.9, Score: sentimentScores[store.OutcomePraised]}
	}
	if matchesAny(negativePatterns, text) {
		return Sentiment{Outcome: store.OutcomeNegative, Confidence: 0.8, Score: sentimentScores[store.OutcomeNegative]}
	}
	if matchesAny(positivePatterns, text) {
		return Sentiment{Outcome: store.OutcomePositive, Confidence: 0.7, Score: sentimentScores[store.OutcomePositive]}
	}
	return Sentiment{Outcome: store.OutcomeNeutral, Confidence: 0.5, Score: 0}
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
