package episodes

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/gryagbot/gryag/ai"
	"github.com/gryagbot/gryag/ai/retrieval"
	"github.com/gryagbot/gryag/store"
)

// batchDelay spaces boundary checks across windows in one monitor pass.
const batchDelay = 100 * time.Millisecond

// topicMaxChars caps the heuristic topic length.
const topicMaxChars = 50

// Store is the episode persistence surface.
type Store interface {
	CreateEpisode(ctx context.Context, create *store.Episode) (*store.Episode, error)
	ListEpisodes(ctx context.Context, find *store.FindEpisode) ([]*store.Episode, error)
	RecordEpisodeAccess(ctx context.Context, id, ts int64) error
}

// EngineConfig tunes window lifecycle and summarization.
type EngineConfig struct {
	Detector DetectorConfig

	AutoCreate           bool
	WindowTimeoutSeconds int
	MaxMessagesPerWindow int
	MonitorInterval      time.Duration

	GeminiSummaries bool
	SummariesPerMin int
}

// Engine ties the tracker, detector and store together and owns the monitor
// loop.
type Engine struct {
	cfg       EngineConfig
	tracker   *Tracker
	detector  *Detector
	store     Store
	embedder  ai.Embedder
	generator ai.Generator
	limiter   *rate.Limiter

	done chan struct{}
}

// NewEngine creates an episode engine. generator may be nil; summaries then
// always use the fast heuristic.
func NewEngine(cfg EngineConfig, st Store, embedder ai.Embedder, generator ai.Generator) *Engine {
	if cfg.WindowTimeoutSeconds <= 0 {
		cfg.WindowTimeoutSeconds = 1800
	}
	if cfg.MaxMessagesPerWindow <= 0 {
		cfg.MaxMessagesPerWindow = 50
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 300 * time.Second
	}
	perMin := cfg.SummariesPerMin
	if perMin <= 0 {
		perMin = 1
	}
	return &Engine{
		cfg:       cfg,
		tracker:   NewTracker(),
		detector:  NewDetector(cfg.Detector, embedder),
		store:     st,
		embedder:  embedder,
		generator: generator,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1),
		done:      make(chan struct{}),
	}
}

// OnMessage feeds one ingested message into its window. A full window forces
// a boundary check and possibly closes it.
func (e *Engine) OnMessage(ctx context.Context, m *store.Message) {
	if !e.cfg.AutoCreate {
		return
	}
	w, size := e.tracker.Track(m)
	if size < e.cfg.MaxMessagesPerWindow {
		return
	}
	// Window at capacity: boundary check for the log, then close regardless
	// so memory stays bounded.
	_, score := e.detector.HasBoundary(ctx, w)
	slog.Debug("window closed on size trigger",
		"chat_id", m.ChatID, "size", size, "boundary_score", score)
	e.closeAndEmit(ctx, m.ChatID, m.ThreadID)
}

// Start runs the monitor loop until the context is canceled.
func (e *Engine) Start(ctx context.Context) {
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.cfg.MonitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.flushAll(context.WithoutCancel(ctx))
				return
			case <-ticker.C:
				e.monitorPass(ctx)
			}
		}
	}()
}

// Wait blocks until the monitor loop has exited.
func (e *Engine) Wait() {
	<-e.done
}

// monitorPass closes expired windows and boundary-checks the rest, pacing
// work with batchDelay.
func (e *Engine) monitorPass(ctx context.Context) {
	timeout := time.Duration(e.cfg.WindowTimeoutSeconds) * time.Second
	for i, w := range e.tracker.Snapshot() {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(batchDelay):
			}
		}
		if time.Since(w.LastActivity) > timeout {
			e.closeAndEmit(ctx, w.ChatID, w.ThreadID)
			continue
		}
		if ok, _ := e.detector.HasBoundary(ctx, w); ok {
			e.closeAndEmit(ctx, w.ChatID, w.ThreadID)
		}
	}
}

// flushAll closes every live window at shutdown so eligible ones still become
// episodes.
func (e *Engine) flushAll(ctx context.Context) {
	for _, w := range e.tracker.Snapshot() {
		e.closeAndEmit(ctx, w.ChatID, w.ThreadID)
	}
}

func (e *Engine) closeAndEmit(ctx context.Context, chatID, threadID int64) {
	w := e.tracker.Close(chatID, threadID)
	if w == nil || len(w.Messages) < e.cfg.Detector.MinMessages {
		return
	}
	if _, err := e.emit(ctx, w); err != nil {
		slog.Error("episode creation failed", "chat_id", chatID, "error", err)
	}
}

// emit turns a closed window into a persisted episode.
func (e *Engine) emit(ctx context.Context, w *Window) (*store.Episode, error) {
	ep := &store.Episode{
		ChatID:         w.ChatID,
		ThreadID:       w.ThreadID,
		Topic:          heuristicTopic(w.Messages),
		Summary:        heuristicSummary(w.Messages),
		Importance:     heuristicImportance(w),
		Valence:        store.ValenceNeutral,
		MessageIDs:     messageIDs(w.Messages),
		ParticipantIDs: w.ParticipantIDs(),
		CreatedTs:      time.Now().Unix(),
	}

	if e.cfg.GeminiSummaries && e.generator != nil && e.limiter.Allow() {
		if err := e.llmSummarize(ctx, w, ep); err != nil {
			slog.Warn("llm episode summary failed, keeping heuristic",
				"chat_id", w.ChatID, "error", err)
		}
	}

	if e.embedder != nil {
		vec, err := e.embedder.Embed(ctx, ep.Topic+"\n"+ep.Summary)
		if err != nil {
			slog.Warn("episode embedding failed", "chat_id", w.ChatID, "error", err)
		} else {
			ep.SummaryEmbedding = vec
		}
	}

	created, err := e.store.CreateEpisode(ctx, ep)
	if err != nil {
		return nil, err
	}
	slog.Info("episode created", "chat_id", w.ChatID, "episode_id", created.ID,
		"messages", len(w.Messages), "importance", ep.Importance)
	return created, nil
}

// episodeSummary is the strict JSON contract for LLM episode summaries.
// Malformed outputs are discarded.
type episodeSummary struct {
	Topic   string   `json:"topic"`
	Summary string   `json:"summary"`
	Valence string   `json:"valence"`
	Tags    []string `json:"tags"`
}

func (e *Engine) llmSummarize(ctx context.Context, w *Window, ep *store.Episode) error {
	var transcript strings.Builder
	for _, m := range w.Messages {
		if m.Text == "" {
			continue
		}
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(m.Text)
		transcript.WriteByte('\n')
	}

	result, err := e.generator.Generate(ctx, &ai.GenerateRequest{
		SystemPrompt: "Summarize the conversation. Reply with exactly one JSON object: " +
			`{"topic": "...", "summary": "...", "valence": "positive|negative|neutral|mixed", "tags": ["..."]}. ` +
			"No prose outside the JSON.",
		UserParts: []ai.Part{ai.TextPart(transcript.String())},
	})
	if err != nil {
		return err
	}

	var parsed episodeSummary
	if err := json.Unmarshal([]byte(extractJSON(result.Text)), &parsed); err != nil {
		return err
	}
	if parsed.Topic == "" || parsed.Summary == "" {
		return nil
	}
	ep.Topic = parsed.Topic
	ep.Summary = parsed.Summary
	ep.Tags = parsed.Tags
	switch store.EmotionalValence(parsed.Valence) {
	case store.ValencePositive, store.ValenceNegative, store.ValenceNeutral, store.ValenceMixed:
		ep.Valence = store.EmotionalValence(parsed.Valence)
	}
	return nil
}

// extractJSON strips markdown fences the model sometimes wraps JSON in.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}

// heuristicTopic uses the first non-empty message text, truncated.
func heuristicTopic(messages []*store.Message) string {
	for _, m := range messages {
		if m.Text == "" {
			continue
		}
		runes := []rune(m.Text)
		if len(runes) <= topicMaxChars {
			return m.Text
		}
		return string(runes[:topicMaxChars]) + "…"
	}
	return "conversation"
}

func heuristicSummary(messages []*store.Message) string {
	texts := make([]string, 0, 3)
	for _, m := range messages {
		if m.Text == "" {
			continue
		}
		texts = append(texts, m.Text)
		if len(texts) == 3 {
			break
		}
	}
	return strings.Join(texts, " / ")
}

// heuristicImportance scores a window in [0,1] from message count, distinct
// participants and duration bands.
func heuristicImportance(w *Window) float64 {
	score := 0.0

	switch n := len(w.Messages); {
	case n >= 20:
		score += 0.4
	case n >= 10:
		score += 0.3
	case n >= 5:
		score += 0.2
	}

	switch p := len(w.Participants); {
	case p >= 3:
		score += 0.3
	case p >= 2:
		score += 0.2
	}

	if len(w.Messages) >= 2 {
		first := w.Messages[0].Ts
		last := w.Messages[len(w.Messages)-1].Ts
		switch d := time.Duration(last-first) * time.Second; {
		case d >= 30*time.Minute:
			score += 0.3
		case d >= 10*time.Minute:
			score += 0.2
		case d >= 5*time.Minute:
			score += 0.1
		}
	}

	if score > 1 {
		score = 1
	}
	return score
}

func messageIDs(messages []*store.Message) []int64 {
	ids := make([]int64, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}
	return ids
}

// ScoredEpisode is one retrieval hit with its combined score.
type ScoredEpisode struct {
	Episode *store.Episode
	Score   float64
}

// RetrieveRelevant returns up to k episodes from the chat that involve the
// user, ranked by 0.6·semantic + 0.3·tag overlap + 0.1·importance. Access is
// recorded on every returned episode.
func (e *Engine) RetrieveRelevant(ctx context.Context, chatID, userID int64, query string, k int) ([]*ScoredEpisode, error) {
	if k <= 0 {
		k = 3
	}
	find := &store.FindEpisode{ChatID: &chatID, MinImportance: 0.3, Limit: 100}
	if userID != 0 {
		find.ParticipantID = &userID
	}
	candidates, err := e.store.ListEpisodes(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var queryVec []float32
	if e.embedder != nil {
		queryVec, err = e.embedder.Embed(ctx, query)
		if err != nil {
			slog.Warn("episode query embedding failed", "error", err)
		}
	}
	queryTokens := retrieval.Tokenize(query)

	scored := make([]*ScoredEpisode, 0, len(candidates))
	for _, ep := range candidates {
		var semantic float64
		if len(queryVec) > 0 && len(ep.SummaryEmbedding) > 0 {
			semantic = ai.CosineSimilarity(queryVec, ep.SummaryEmbedding)
		}
		score := 0.6*semantic + 0.3*tagOverlap(queryTokens, ep.Tags) + 0.1*ep.Importance
		scored = append(scored, &ScoredEpisode{Episode: ep, Score: score})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}

	now := time.Now().Unix()
	for _, s := range scored {
		if err := e.store.RecordEpisodeAccess(ctx, s.Episode.ID, now); err != nil {
			slog.Warn("episode access tracking failed", "episode_id", s.Episode.ID, "error", err)
		}
	}
	return scored, nil
}

// tagOverlap is |intersection| / |query tokens|, 0 when either side is empty.
func tagOverlap(queryTokens, tags []string) float64 {
	if len(queryTokens) == 0 || len(tags) == 0 {
		return 0
	}
	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[strings.ToLower(t)] = struct{}{}
	}
	hits := 0
	for _, q := range queryTokens {
		if _, ok := tagSet[q]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}
