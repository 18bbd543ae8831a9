package episodes

import (
	"context"
	"regexp"

	"github.com/gryagbot/gryag/ai"
	"github.com/gryagbot/gryag/ai/retrieval"
	"github.com/gryagbot/gryag/store"
)

// signalKind is the evidence type behind a boundary signal.
type signalKind int

const (
	signalTemporal signalKind = iota
	signalMarker
	signalSemantic
)

// markerStrength is the fixed strength of a topic-marker match.
const markerStrength = 0.8

// clusterWindowSeconds groups nearby signals into one cluster.
const clusterWindowSeconds = 60

// topicMarkers matches explicit topic-change phrases, English and Ukrainian.
var topicMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bby the way\b`),
	regexp.MustCompile(`(?i)\bchanging (the )?subject\b`),
	regexp.MustCompile(`(?i)\blet'?s talk about\b`),
	regexp.MustCompile(`(?i)\banyway\b`),
	regexp.MustCompile(`(?i)\bдо речі\b`),
	regexp.MustCompile(`(?i)\bзмін(имо|юючи) тему\b`),
	regexp.MustCompile(`(?i)\bпоговорим[о]? про\b`),
	regexp.MustCompile(`(?i)\bінша тема\b`),
}

// signal is one piece of boundary evidence anchored at a message timestamp.
type signal struct {
	kind     signalKind
	strength float64
	ts       int64
}

// DetectorConfig tunes boundary detection.
type DetectorConfig struct {
	ShortGapSeconds   int
	MediumGapSeconds  int
	LongGapSeconds    int
	SimilarityLow     float64
	BoundaryThreshold float64
	MinMessages       int
}

// Detector finds episode boundaries inside a window.
type Detector struct {
	cfg      DetectorConfig
	embedder ai.Embedder
}

// NewDetector creates a boundary detector. embedder may be nil; the semantic
// signal is then skipped.
func NewDetector(cfg DetectorConfig, embedder ai.Embedder) *Detector {
	if cfg.ShortGapSeconds <= 0 {
		cfg.ShortGapSeconds = 120
	}
	if cfg.MediumGapSeconds <= 0 {
		cfg.MediumGapSeconds = 900
	}
	if cfg.LongGapSeconds <= 0 {
		cfg.LongGapSeconds = 3600
	}
	if cfg.SimilarityLow <= 0 {
		cfg.SimilarityLow = 0.5
	}
	if cfg.BoundaryThreshold <= 0 {
		cfg.BoundaryThreshold = 0.6
	}
	if cfg.MinMessages <= 0 {
		cfg.MinMessages = 5
	}
	return &Detector{cfg: cfg, embedder: embedder}
}

// HasBoundary reports whether the window contains a topic boundary: the best
// signal cluster scores at or above the threshold and the window holds enough
// messages.
func (d *Detector) HasBoundary(ctx context.Context, w *Window) (bool, float64) {
	if len(w.Messages) < d.cfg.MinMessages {
		return false, 0
	}
	signals := d.collectSignals(ctx, w.Messages)
	if len(signals) == 0 {
		return false, 0
	}
	best := bestClusterScore(signals)
	return best >= d.cfg.BoundaryThreshold, best
}

// collectSignals walks adjacent message pairs producing temporal, marker and
// semantic signals.
func (d *Detector) collectSignals(ctx context.Context, messages []*store.Message) []signal {
	var signals []signal
	for i := 1; i < len(messages); i++ {
		prev, cur := messages[i-1], messages[i]

		if s := d.temporalStrength(cur.Ts - prev.Ts); s > 0 {
			signals = append(signals, signal{kind: signalTemporal, strength: s, ts: cur.Ts})
		}
		if matchesTopicMarker(cur.Text) {
			signals = append(signals, signal{kind: signalMarker, strength: markerStrength, ts: cur.Ts})
		}
		if s, ok := d.semanticStrength(ctx, prev, cur); ok {
			signals = append(signals, signal{kind: signalSemantic, strength: s, ts: cur.Ts})
		}
	}
	return signals
}

func (d *Detector) temporalStrength(gapSeconds int64) float64 {
	switch {
	case gapSeconds >= int64(d.cfg.LongGapSeconds):
		return 1.0
	case gapSeconds >= int64(d.cfg.MediumGapSeconds):
		return 0.7
	case gapSeconds >= int64(d.cfg.ShortGapSeconds):
		return 0.4
	default:
		return 0
	}
}

// semanticStrength signals a topic drift when adjacent substantive messages
// diverge: strength = 1 - similarity when similarity drops below the low
// threshold. Embeddings are reused when already persisted and computed
// on demand otherwise.
func (d *Detector) semanticStrength(ctx context.Context, prev, cur *store.Message) (float64, bool) {
	if len(retrieval.Tokenize(prev.Text)) < 3 || len(retrieval.Tokenize(cur.Text)) < 3 {
		return 0, false
	}
	prevVec, err := d.vectorFor(ctx, prev)
	if err != nil || len(prevVec) == 0 {
		return 0, false
	}
	curVec, err := d.vectorFor(ctx, cur)
	if err != nil || len(curVec) == 0 {
		return 0, false
	}
	sim := ai.CosineSimilarity(prevVec, curVec)
	if sim >= d.cfg.SimilarityLow {
		return 0, false
	}
	return 1 - sim, true
}

func (d *Detector) vectorFor(ctx context.Context, m *store.Message) ([]float32, error) {
	if len(m.Embedding) > 0 {
		return m.Embedding, nil
	}
	if d.embedder == nil {
		return nil, nil
	}
	vec, err := d.embedder.Embed(ctx, m.Text)
	if err != nil {
		return nil, err
	}
	m.Embedding = vec
	return vec, nil
}

func matchesTopicMarker(text string) bool {
	if text == "" {
		return false
	}
	for _, re := range topicMarkers {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// bestClusterScore groups signals within clusterWindowSeconds of the cluster
// start and returns the best cluster score:
//
//	s = 0.4·max_semantic + 0.35·max_temporal + 0.25·max_marker
//	s *= 1.2 when 2+ distinct kinds, *= 1.1 more when 3, capped at 1.
func bestClusterScore(signals []signal) float64 {
	var best float64
	for i := range signals {
		start := signals[i].ts
		var maxTemporal, maxMarker, maxSemantic float64
		kinds := make(map[signalKind]struct{})
		for _, s := range signals {
			if s.ts < start || s.ts-start > clusterWindowSeconds {
				continue
			}
			kinds[s.kind] = struct{}{}
			switch s.kind {
			case signalTemporal:
				if s.strength > maxTemporal {
					maxTemporal = s.strength
				}
			case signalMarker:
				if s.strength > maxMarker {
					maxMarker = s.strength
				}
			case signalSemantic:
				if s.strength > maxSemantic {
					maxSemantic = s.strength
				}
			}
		}
		score := 0.4*maxSemantic + 0.35*maxTemporal + 0.25*maxMarker
		if len(kinds) >= 2 {
			score *= 1.2
		}
		if len(kinds) >= 3 {
			score *= 1.1
		}
		if score > 1 {
			score = 1
		}
		if score > best {
			best = score
		}
	}
	return best
}
