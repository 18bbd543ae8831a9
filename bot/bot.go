// Package bot wires the Telegram transport to the memory engine: ingest,
// addressing, the per-message pipeline and the admin command surface.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/gryagbot/gryag/ai"
	aicontext "github.com/gryagbot/gryag/ai/context"
	"github.com/gryagbot/gryag/ai/episodes"
	"github.com/gryagbot/gryag/ai/learning"
	"github.com/gryagbot/gryag/ai/memory"
	"github.com/gryagbot/gryag/bot/metrics"
	"github.com/gryagbot/gryag/ratelimit"
	"github.com/gryagbot/gryag/store"
)

// Deps carries everything the bot composes.
type Deps struct {
	Config    *ai.Config
	Store     *store.Store
	Limiter   *ratelimit.Limiter
	Generator ai.Generator
	Embedder  ai.Embedder
	Assembler *aicontext.Assembler
	Facts     *memory.FactStore
	Episodes  *episodes.Engine
	Learning  *learning.Tracker
	Insights  *learning.InsightGenerator
}

// Bot is the long-polling Telegram frontend.
type Bot struct {
	cfg       *ai.Config
	api       *tgbotapi.BotAPI
	store     *store.Store
	limiter   *ratelimit.Limiter
	generator ai.Generator
	embedder  ai.Embedder
	assembler *aicontext.Assembler
	facts     *memory.FactStore
	episodes  *episodes.Engine
	learning  *learning.Tracker
	insights  *learning.InsightGenerator

	filter  *chatFilter
	address *addressing
	locks   *processingLocks
	albums  *albumAggregator
	media   *mediaCollector

	confirmMu sync.Mutex
	confirms  map[string]time.Time

	// send is the outbound seam; tests substitute it.
	send func(tgbotapi.Chattable) (tgbotapi.Message, error)

	wg sync.WaitGroup
}

// New creates the bot and authenticates against Telegram.
func New(deps Deps) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(deps.Config.TelegramToken)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telegram client")
	}
	slog.Info("authorized on telegram", "username", api.Self.UserName)

	b := &Bot{
		cfg:       deps.Config,
		api:       api,
		store:     deps.Store,
		limiter:   deps.Limiter,
		generator: deps.Generator,
		embedder:  deps.Embedder,
		assembler: deps.Assembler,
		facts:     deps.Facts,
		episodes:  deps.Episodes,
		learning:  deps.Learning,
		insights:  deps.Insights,
		locks:     newProcessingLocks(),
		albums:    newAlbumAggregator(),
		confirms:  make(map[string]time.Time),
	}
	b.send = api.Send
	b.media = newMediaCollector(api)
	b.address = newAddressing(api.Self.ID, api.Self.UserName, deps.Config.BotNames)
	b.filter = newChatFilter(deps.Config.FilterMode, deps.Config.AllowedChatIDs,
		deps.Config.BlockedChatIDs, deps.Config.IsAdmin, deps.Store)
	return b, nil
}

// Run consumes updates until the context is canceled, then waits for in-flight
// handlers.
func (b *Bot) Run(ctx context.Context) error {
	b.albums.startSweeper(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return nil
			}
			if update.Message == nil {
				continue
			}
			msg := update.Message
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleMessage(ctx, msg)
			}()
		}
	}
}

// handleMessage is the per-message pipeline: gate, ingest, and when addressed
// lock, rate-check, assemble, generate, reply and learn.
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	chatID := msg.Chat.ID
	userID := msg.From.ID

	switch b.filter.check(ctx, chatID, userID, msg.Chat.IsPrivate()) {
	case gateDrop:
		return
	case gateBanned:
		// Banned users get one notice when they address the bot directly;
		// everything else from them is dropped.
		if (b.address.isAddressed(msg) || msg.IsCommand()) && b.limiter.ShouldNotify(chatID, userID) {
			b.reply(msg, msgBanned)
		}
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	// Album aggregation: siblings ride along with the first message of the
	// group, which waits briefly for them.
	batch := []*tgbotapi.Message{msg}
	if msg.MediaGroupID != "" {
		if !b.albums.add(msg) {
			return
		}
		if collected := b.albums.collect(ctx, msg.MediaGroupID); len(collected) > 0 {
			batch = collected
		}
	}

	addressed := b.address.isAddressed(msg)
	profile, persisted := b.ingest(ctx, msg, batch, addressed)

	if !addressed {
		return
	}
	b.processAddressed(ctx, msg, batch, profile, persisted)
}

// processAddressed is the addressed half of the pipeline: reaction tracking,
// processing lock, rate limit and generation. /gryag routes here too.
func (b *Bot) processAddressed(ctx context.Context, msg *tgbotapi.Message,
	batch []*tgbotapi.Message, profile *store.UserProfile, persisted *store.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID
	corrID := uuid.NewString()
	log := slog.With("correlation_id", corrID, "chat_id", chatID, "user_id", userID)

	if sentiment, err := b.learning.OnUserMessage(ctx, chatID, messageText(msg)); err != nil {
		log.Warn("reaction tracking failed", "error", err)
	} else if sentiment != nil {
		log.Debug("reaction detected", "outcome", sentiment.Outcome, "score", sentiment.Score)
	}

	if !b.locks.tryAcquire(chatID, userID) {
		metrics.LockDrops.Inc()
		log.Debug("dropped on held processing lock")
		return
	}
	defer b.locks.release(chatID, userID)

	decision, err := b.limiter.Allow(ctx, userID, ai.FeatureChat)
	if err != nil {
		log.Error("rate limit check failed", "error", err)
		return
	}
	if !decision.Allowed {
		metrics.RateLimited.Inc()
		if b.limiter.ShouldNotify(chatID, userID) {
			b.reply(msg, msgThrottled(decision.RetryAfter))
		}
		return
	}

	b.respond(ctx, log, msg, batch, profile, persisted)
}

// ingest persists the batch, touches the profile, feeds the episode window
// and schedules embedding backfill. Returns the sender profile and the
// persisted row of the trigger message.
func (b *Bot) ingest(ctx context.Context, msg *tgbotapi.Message, batch []*tgbotapi.Message, addressed bool) (*store.UserProfile, *store.Message) {
	profile, err := b.store.UpsertUserProfile(ctx, &store.UpsertUserProfile{
		UserID:      msg.From.ID,
		ChatID:      msg.Chat.ID,
		DisplayName: strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		Username:    msg.From.UserName,
		SeenTs:      int64(msg.Date),
	})
	if err != nil {
		slog.Warn("profile upsert failed", "user_id", msg.From.ID, "error", err)
	}

	var persisted *store.Message
	for _, m := range batch {
		// tgbotapi v5 does not expose message_thread_id, so forum topics all
		// land on thread 0 and share one history and episode window per chat.
		record := &store.Message{
			ChatID:      m.Chat.ID,
			UserID:      m.From.ID,
			Role:        store.RoleUser,
			Text:        messageText(m),
			Ts:          int64(m.Date),
			TGMessageID: m.MessageID,
			Addressed:   addressed,
		}
		if m.ReplyToMessage != nil {
			record.ReplyToMessageID = m.ReplyToMessage.MessageID
		}
		created, err := b.store.CreateMessage(ctx, record)
		if err != nil {
			slog.Error("message persist failed", "chat_id", m.Chat.ID, "error", err)
			continue
		}
		metrics.MessagesIngested.Inc()
		if m.MessageID == msg.MessageID {
			persisted = created
		}
		b.episodes.OnMessage(ctx, created)
		if created.Text != "" {
			b.backfillEmbedding(ctx, created)
		}
	}
	b.assembler.Invalidate(msg.Chat.ID, 0)
	return profile, persisted
}

// backfillEmbedding embeds asynchronously; message rows start without a
// vector.
func (b *Bot) backfillEmbedding(ctx context.Context, m *store.Message) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		vec, err := b.embedder.Embed(ctx, m.Text)
		if err != nil || len(vec) == 0 {
			if err != nil {
				slog.Warn("embedding backfill failed", "message_id", m.ID, "error", err)
			}
			return
		}
		if err := b.store.BackfillEmbedding(ctx, m.ID, vec); err != nil {
			slog.Warn("embedding write failed", "message_id", m.ID, "error", err)
		}
	}()
}

// respond assembles context, generates and sends the reply, then records the
// outcome.
func (b *Bot) respond(ctx context.Context, log *slog.Logger, msg *tgbotapi.Message,
	batch []*tgbotapi.Message, profile *store.UserProfile, persisted *store.Message) {
	start := time.Now()

	replyTo := 0
	if msg.ReplyToMessage != nil {
		replyTo = msg.ReplyToMessage.MessageID
	}
	assembled, err := b.assembler.Assemble(ctx, aicontext.Request{
		ChatID:             msg.Chat.ID,
		UserID:             msg.From.ID,
		Query:              messageText(msg),
		ReplyToTGMessageID: replyTo,
	})
	if err != nil {
		log.Error("context assembly failed", "error", err)
		b.reply(msg, msgGenerateFailed)
		return
	}
	metrics.ContextAssemblyLatency.Observe(float64(assembled.AssemblyMs) / 1000)

	systemPrompt, err := b.effectivePrompt(ctx, msg.Chat.ID)
	if err != nil {
		log.Warn("prompt lookup failed", "error", err)
	}
	if assembled.SystemContext != "" {
		systemPrompt = systemPrompt + "\n\n" + assembled.SystemContext
	}

	userParts := []ai.Part{ai.TextPart(messageText(msg))}
	media := b.media.collect(ctx, batch)
	userParts = append(userParts, toParts(media)...)

	var profileID int64
	if profile != nil {
		profileID = profile.ID
	}
	toolSpecs, toolHandlers := b.memoryTools(profileID, msg.Chat.ID)

	genCtx, cancel := context.WithTimeout(ctx, time.Duration(b.cfg.GenerateTimeoutSeconds)*time.Second)
	defer cancel()
	result, err := b.generator.Generate(genCtx, &ai.GenerateRequest{
		SystemPrompt:  systemPrompt,
		History:       assembled.Turns,
		UserParts:     userParts,
		Tools:         toolSpecs,
		ToolCallbacks: toolHandlers,
	})
	elapsed := time.Since(start)
	metrics.GenerateLatency.Observe(elapsed.Seconds())

	if err != nil || result == nil || strings.TrimSpace(result.Text) == "" {
		metrics.GenerateFailures.Inc()
		log.Error("generation failed", "error", err, "elapsed_ms", elapsed.Milliseconds())
		b.reply(msg, failureText(err))
		b.recordOutcome(ctx, msg, persisted, nil, elapsed)
		return
	}

	sent, sendErr := b.replyReturning(msg, result.Text)
	if sendErr != nil {
		log.Error("send failed", "error", sendErr)
		return
	}
	metrics.RepliesSent.Inc()

	replyRecord := &store.Message{
		ChatID:      msg.Chat.ID,
		Role:        store.RoleModel,
		Text:        result.Text,
		Ts:          time.Now().Unix(),
		TGMessageID: sent.MessageID,
	}
	created, err := b.store.CreateMessage(ctx, replyRecord)
	if err != nil {
		log.Error("reply persist failed", "error", err)
	} else {
		b.episodes.OnMessage(ctx, created)
		b.backfillEmbedding(ctx, created)
		b.assembler.Invalidate(msg.Chat.ID, 0)
	}
	b.recordOutcome(ctx, msg, created, result, elapsed)
}

func (b *Bot) recordOutcome(ctx context.Context, msg *tgbotapi.Message, replyRow *store.Message,
	result *ai.GenerateResult, elapsed time.Duration) {
	reply := learning.Reply{
		ChatID:         msg.Chat.ID,
		ResponseTimeMs: elapsed.Milliseconds(),
		ContextExcerpt: truncateRunes(messageText(msg), 200),
	}
	if replyRow != nil {
		reply.MessageID = replyRow.ID
	}
	if result != nil {
		reply.TokenCount = result.TokenCount
		reply.ToolsUsed = result.ToolsUsed
	}
	if err := b.learning.RecordReply(ctx, reply); err != nil {
		slog.Warn("outcome record failed", "chat_id", msg.Chat.ID, "error", err)
	}
}

// effectivePrompt resolves chat prompt over global prompt over the built-in
// default.
func (b *Bot) effectivePrompt(ctx context.Context, chatID int64) (string, error) {
	// An active empty prompt is the reset marker and falls through.
	if p, err := b.store.GetActiveSystemPrompt(ctx, store.PromptScopeChat, chatID); err != nil {
		return defaultSystemPrompt, err
	} else if p != nil && p.Text != "" {
		return p.Text, nil
	}
	if p, err := b.store.GetActiveSystemPrompt(ctx, store.PromptScopeGlobal, 0); err != nil {
		return defaultSystemPrompt, err
	} else if p != nil && p.Text != "" {
		return p.Text, nil
	}
	return defaultSystemPrompt, nil
}

func failureText(err error) string {
	if err != nil && strings.Contains(err.Error(), "all API keys") {
		return msgAllKeysBusy
	}
	return msgGenerateFailed
}

func (b *Bot) reply(to *tgbotapi.Message, text string) {
	if _, err := b.replyReturning(to, text); err != nil {
		slog.Warn("reply send failed", "chat_id", to.Chat.ID, "error", err)
	}
}

func (b *Bot) replyReturning(to *tgbotapi.Message, text string) (tgbotapi.Message, error) {
	out := tgbotapi.NewMessage(to.Chat.ID, text)
	out.ReplyToMessageID = to.MessageID
	return b.send(out)
}

// SendDonationNotice posts the configured donation text to a chat. Used by the
// /donate admin command and the periodic scheduler.
func (b *Bot) SendDonationNotice(chatID int64) error {
	_, err := b.send(tgbotapi.NewMessage(chatID, b.cfg.DonationText))
	return err
}

func messageText(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// defaultSystemPrompt is the built-in persona used when no stored prompt is
// active.
const defaultSystemPrompt = "Ти — гряг, дотепний український чат-бот у груповому чаті. " +
	"Відповідай коротко, живою українською, пам'ятай, що знаєш про співрозмовників, " +
	"і не вигадуй фактів про людей."

// confirmKey builds the pending-confirmation key for two-step commands.
func confirmKey(action string, chatID, userID int64) string {
	return fmt.Sprintf("%s:%d:%d", action, chatID, userID)
}

// confirmState is the outcome of one step of a two-step confirmation:
// armed on the first request, accepted on a second request within the
// window, expired on a second request after it.
type confirmState int

const (
	confirmArmed confirmState = iota
	confirmAccepted
	confirmExpired
)

// armConfirmation advances the two-step confirmation for a destructive
// action. An expired confirmation is cleared; the user starts over.
func (b *Bot) armConfirmation(action string, chatID, userID int64, window time.Duration) confirmState {
	key := confirmKey(action, chatID, userID)
	b.confirmMu.Lock()
	defer b.confirmMu.Unlock()
	if armed, ok := b.confirms[key]; ok {
		delete(b.confirms, key)
		if time.Since(armed) <= window {
			return confirmAccepted
		}
		return confirmExpired
	}
	b.confirms[key] = time.Now()
	return confirmArmed
}
