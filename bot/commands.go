package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/gryagbot/gryag/ai"
	"github.com/gryagbot/gryag/ai/memory"
	"github.com/gryagbot/gryag/store"
)

// Two-step confirmation windows for destructive commands.
const (
	forgetConfirmWindow    = 30 * time.Second
	chatResetConfirmWindow = 60 * time.Second
)

// handleCommand dispatches bot commands. Unknown commands are ignored
// silently so the bot does not spam group chats.
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID

	if onCooldown, retry, err := b.limiter.OnCooldown(ctx, userID, ai.FeatureCommand); err == nil && onCooldown {
		if b.limiter.ShouldNotify(msg.Chat.ID, userID) {
			b.reply(msg, msgCooldown(retry))
		}
		return
	}
	if err := b.limiter.MarkUsed(ctx, userID, ai.FeatureCommand); err != nil {
		slog.Warn("command cooldown write failed", "user_id", userID, "error", err)
	}

	switch msg.Command() {
	// The mention alias: /gryag runs the full addressed pipeline.
	case "gryag":
		b.cmdGryag(ctx, msg)

	// Profile commands.
	case "profile":
		b.cmdProfile(ctx, msg)
	case "facts":
		b.cmdFacts(ctx, msg)
	case "forget_fact":
		b.cmdForgetFact(ctx, msg)
	case "forgetme":
		b.cmdForgetMe(ctx, msg)
	case "export":
		b.cmdExport(ctx, msg)
	case "members":
		b.cmdMembers(ctx, msg)
	case "botprofile":
		b.cmdBotProfile(ctx, msg)
	case "insights":
		b.cmdInsights(ctx, msg)

	// Chat memory commands.
	case "chatfacts":
		b.cmdChatFacts(ctx, msg)
	case "chatreset":
		b.cmdChatReset(ctx, msg)

	// System prompt commands.
	case "prompt":
		b.cmdPromptView(ctx, msg)
	case "prompt_default":
		b.reply(msg, defaultSystemPrompt)
	case "prompt_effective":
		b.cmdPromptEffective(ctx, msg)
	case "prompt_set":
		b.cmdPromptSet(ctx, msg)
	case "prompt_reset":
		b.cmdPromptReset(ctx, msg)
	case "prompt_history":
		b.cmdPromptHistory(ctx, msg)
	case "prompt_activate":
		b.cmdPromptActivate(ctx, msg)

	// Admin commands.
	case "ban":
		b.cmdBan(ctx, msg)
	case "unban":
		b.cmdUnban(ctx, msg)
	case "resetlimits":
		b.cmdResetLimits(ctx, msg)
	case "chatinfo":
		b.cmdChatInfo(ctx, msg)
	case "donate":
		b.cmdDonate(ctx, msg)
	}
}

// cmdGryag treats the command like a mention: ingest the message and run it
// through the addressed pipeline.
func (b *Bot) cmdGryag(ctx context.Context, msg *tgbotapi.Message) {
	batch := []*tgbotapi.Message{msg}
	profile, persisted := b.ingest(ctx, msg, batch, true)
	b.processAddressed(ctx, msg, batch, profile, persisted)
}

func (b *Bot) cmdDonate(ctx context.Context, msg *tgbotapi.Message) {
	if !b.requireAdmin(msg) {
		return
	}
	if err := b.SendDonationNotice(msg.Chat.ID); err != nil {
		slog.Warn("donation notice failed", "chat_id", msg.Chat.ID, "error", err)
	}
}

func (b *Bot) requireAdmin(msg *tgbotapi.Message) bool {
	if b.cfg.IsAdmin(msg.From.ID) {
		return true
	}
	b.reply(msg, msgNotAdmin)
	return false
}

// senderProfile resolves the sender's profile row, nil when never seen.
func (b *Bot) senderProfile(ctx context.Context, msg *tgbotapi.Message) *store.UserProfile {
	p, err := b.store.GetUserProfile(ctx, msg.From.ID, msg.Chat.ID)
	if err != nil {
		slog.Warn("profile lookup failed", "user_id", msg.From.ID, "error", err)
	}
	return p
}

func (b *Bot) cmdProfile(ctx context.Context, msg *tgbotapi.Message) {
	p := b.senderProfile(ctx, msg)
	if p == nil {
		b.reply(msg, msgNothingToShow)
		return
	}
	var out strings.Builder
	fmt.Fprintf(&out, "%s (@%s)\n", p.DisplayName, p.Username)
	fmt.Fprintf(&out, "Повідомлень: %d\n", p.InteractionCount)
	if p.Summary != "" {
		fmt.Fprintf(&out, "\n%s", p.Summary)
	}
	b.reply(msg, out.String())
}

func (b *Bot) cmdFacts(ctx context.Context, msg *tgbotapi.Message) {
	p := b.senderProfile(ctx, msg)
	if p == nil {
		b.reply(msg, msgNothingToShow)
		return
	}
	facts, err := b.facts.GetFacts(ctx, memory.FactQuery{
		EntityType:    store.FactEntityUser,
		EntityID:      p.ID,
		MinConfidence: b.cfg.FactConfidenceThreshold,
		Limit:         25,
	})
	if err != nil || len(facts) == 0 {
		b.reply(msg, msgNothingToShow)
		return
	}
	var out strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&out, "#%d [%s] %s: %s (%.2f)\n", f.ID, f.Category, f.Key, f.Value, f.Confidence)
	}
	b.reply(msg, out.String())
}

func (b *Bot) cmdForgetFact(ctx context.Context, msg *tgbotapi.Message) {
	id, err := strconv.ParseInt(strings.TrimSpace(msg.CommandArguments()), 10, 64)
	if err != nil {
		b.reply(msg, "Вкажи номер факту: /forget_fact 123")
		return
	}
	p := b.senderProfile(ctx, msg)
	if p == nil {
		b.reply(msg, msgNothingToShow)
		return
	}
	// Only the owner's facts are deletable this way.
	facts, err := b.facts.GetFacts(ctx, memory.FactQuery{
		EntityType: store.FactEntityUser,
		EntityID:   p.ID,
	})
	if err != nil {
		b.reply(msg, msgGenerateFailed)
		return
	}
	for _, f := range facts {
		if f.ID == id {
			if err := b.facts.DeleteFact(ctx, id); err == nil {
				b.reply(msg, msgDone)
			}
			return
		}
	}
	b.reply(msg, msgNothingToShow)
}

func (b *Bot) cmdForgetMe(ctx context.Context, msg *tgbotapi.Message) {
	switch b.armConfirmation("forgetme", msg.Chat.ID, msg.From.ID, forgetConfirmWindow) {
	case confirmArmed:
		b.reply(msg, msgConfirmForget(forgetConfirmWindow))
		return
	case confirmExpired:
		b.reply(msg, msgConfirmExpired)
		return
	}
	p := b.senderProfile(ctx, msg)
	if p == nil {
		b.reply(msg, msgNothingToShow)
		return
	}
	if _, err := b.facts.ClearEntityFacts(ctx, store.FactEntityUser, p.ID); err != nil {
		b.reply(msg, msgGenerateFailed)
		return
	}
	b.reply(msg, msgForgotten)
}

func (b *Bot) cmdExport(ctx context.Context, msg *tgbotapi.Message) {
	p := b.senderProfile(ctx, msg)
	if p == nil {
		b.reply(msg, msgNothingToShow)
		return
	}
	facts, _ := b.facts.GetFacts(ctx, memory.FactQuery{
		EntityType: store.FactEntityUser,
		EntityID:   p.ID,
	})
	export := map[string]any{
		"profile": p,
		"facts":   facts,
	}
	raw, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		b.reply(msg, msgGenerateFailed)
		return
	}
	doc := tgbotapi.NewDocument(msg.Chat.ID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("profile_%d.json", p.UserID),
		Bytes: raw,
	})
	doc.ReplyToMessageID = msg.MessageID
	if _, err := b.send(doc); err != nil {
		slog.Warn("export send failed", "chat_id", msg.Chat.ID, "error", err)
	}
}

func (b *Bot) cmdMembers(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	profiles, err := b.store.ListUserProfiles(ctx, &store.FindUserProfile{ChatID: &chatID, Limit: 50})
	if err != nil || len(profiles) == 0 {
		b.reply(msg, msgNothingToShow)
		return
	}
	var out strings.Builder
	for _, p := range profiles {
		fmt.Fprintf(&out, "%s (@%s) — %d повідомлень\n", p.DisplayName, p.Username, p.InteractionCount)
	}
	b.reply(msg, out.String())
}

func (b *Bot) cmdBotProfile(ctx context.Context, msg *tgbotapi.Message) {
	facts, err := b.facts.GetFacts(ctx, memory.FactQuery{
		EntityType: store.FactEntityBot,
		EntityID:   1,
		Limit:      20,
	})
	if err != nil || len(facts) == 0 {
		b.reply(msg, msgNothingToShow)
		return
	}
	var out strings.Builder
	out.WriteString("Що я знаю про себе:\n")
	for _, f := range facts {
		fmt.Fprintf(&out, "[%s] %s: %s (%.2f)\n", f.Category, f.Key, f.Value, f.Confidence)
	}
	b.reply(msg, out.String())
}

func (b *Bot) cmdInsights(ctx context.Context, msg *tgbotapi.Message) {
	if !b.requireAdmin(msg) {
		return
	}
	insights, err := b.insights.Generate(ctx, 7)
	if err != nil {
		slog.Warn("insight generation failed", "error", err)
		b.reply(msg, msgGenerateFailed)
		return
	}
	if len(insights) == 0 {
		b.reply(msg, msgNothingToShow)
		return
	}
	var out strings.Builder
	for _, in := range insights {
		fmt.Fprintf(&out, "[%s] %s (%.2f)\n", in.Type, in.Text, in.Confidence)
	}
	b.reply(msg, out.String())
}

func (b *Bot) cmdChatFacts(ctx context.Context, msg *tgbotapi.Message) {
	facts, err := b.facts.GetFacts(ctx, memory.FactQuery{
		EntityType:    store.FactEntityChat,
		EntityID:      msg.Chat.ID,
		MinConfidence: b.cfg.FactConfidenceThreshold,
		Limit:         25,
	})
	if err != nil || len(facts) == 0 {
		b.reply(msg, msgNothingToShow)
		return
	}
	var out strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&out, "[%s] %s: %s (%.2f)\n", f.Category, f.Key, f.Value, f.Confidence)
	}
	b.reply(msg, out.String())
}

func (b *Bot) cmdChatReset(ctx context.Context, msg *tgbotapi.Message) {
	if !b.requireAdmin(msg) {
		return
	}
	switch b.armConfirmation("chatreset", msg.Chat.ID, msg.From.ID, chatResetConfirmWindow) {
	case confirmArmed:
		b.reply(msg, msgConfirmChatReset(chatResetConfirmWindow))
		return
	case confirmExpired:
		b.reply(msg, msgConfirmExpired)
		return
	}
	if _, err := b.facts.ClearEntityFacts(ctx, store.FactEntityChat, msg.Chat.ID); err != nil {
		b.reply(msg, msgGenerateFailed)
		return
	}
	b.reply(msg, msgDone)
}

// Prompt commands.

func (b *Bot) cmdPromptView(ctx context.Context, msg *tgbotapi.Message) {
	p, err := b.store.GetActiveSystemPrompt(ctx, store.PromptScopeChat, msg.Chat.ID)
	if err != nil || p == nil {
		b.reply(msg, msgNothingToShow)
		return
	}
	b.reply(msg, fmt.Sprintf("v%d:\n%s", p.Version, p.Text))
}

func (b *Bot) cmdPromptEffective(ctx context.Context, msg *tgbotapi.Message) {
	text, err := b.effectivePrompt(ctx, msg.Chat.ID)
	if err != nil {
		b.reply(msg, msgGenerateFailed)
		return
	}
	b.reply(msg, text)
}

// cmdPromptSet accepts the prompt text inline, from a replied-to message, or
// from a replied-to .txt document.
func (b *Bot) cmdPromptSet(ctx context.Context, msg *tgbotapi.Message) {
	if !b.requireAdmin(msg) {
		return
	}
	text := strings.TrimSpace(msg.CommandArguments())
	if text == "" && msg.ReplyToMessage != nil {
		text = strings.TrimSpace(msg.ReplyToMessage.Text)
		if text == "" && msg.ReplyToMessage.Document != nil &&
			strings.HasSuffix(msg.ReplyToMessage.Document.FileName, ".txt") {
			text = b.downloadTextDocument(ctx, msg.ReplyToMessage.Document)
		}
	}
	if text == "" {
		b.reply(msg, "Надішли текст промпта аргументом або відповіддю на повідомлення чи .txt файл.")
		return
	}
	p, err := b.store.CreateSystemPrompt(ctx, &store.SystemPrompt{
		Scope:     store.PromptScopeChat,
		ChatID:    msg.Chat.ID,
		Text:      text,
		IsActive:  true,
		CreatedBy: msg.From.ID,
		CreatedTs: time.Now().Unix(),
	})
	if err != nil {
		b.reply(msg, msgGenerateFailed)
		return
	}
	b.reply(msg, fmt.Sprintf("Промпт v%d активовано.", p.Version))
}

func (b *Bot) downloadTextDocument(ctx context.Context, doc *tgbotapi.Document) string {
	url, err := b.api.GetFileDirectURL(doc.FileID)
	if err != nil {
		return ""
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// cmdPromptReset deactivates the chat prompt by storing an inactive marker
// version, falling back to global/default.
func (b *Bot) cmdPromptReset(ctx context.Context, msg *tgbotapi.Message) {
	if !b.requireAdmin(msg) {
		return
	}
	if _, err := b.store.CreateSystemPrompt(ctx, &store.SystemPrompt{
		Scope:     store.PromptScopeChat,
		ChatID:    msg.Chat.ID,
		Text:      "",
		IsActive:  true,
		CreatedBy: msg.From.ID,
		CreatedTs: time.Now().Unix(),
	}); err != nil {
		b.reply(msg, msgGenerateFailed)
		return
	}
	b.reply(msg, msgDone)
}

func (b *Bot) cmdPromptHistory(ctx context.Context, msg *tgbotapi.Message) {
	scope := store.PromptScopeChat
	chatID := msg.Chat.ID
	prompts, err := b.store.ListSystemPrompts(ctx, &store.FindSystemPrompt{
		Scope:  &scope,
		ChatID: &chatID,
		Limit:  10,
	})
	if err != nil || len(prompts) == 0 {
		b.reply(msg, msgNothingToShow)
		return
	}
	var out strings.Builder
	for _, p := range prompts {
		marker := " "
		if p.IsActive {
			marker = "*"
		}
		fmt.Fprintf(&out, "%s v%d (%s): %s\n", marker, p.Version,
			time.Unix(p.CreatedTs, 0).Format("2006-01-02"), truncateRunes(p.Text, 60))
	}
	b.reply(msg, out.String())
}

func (b *Bot) cmdPromptActivate(ctx context.Context, msg *tgbotapi.Message) {
	if !b.requireAdmin(msg) {
		return
	}
	version, err := strconv.Atoi(strings.TrimSpace(msg.CommandArguments()))
	if err != nil {
		b.reply(msg, "Вкажи версію: /prompt_activate 3")
		return
	}
	if err := b.store.ActivateSystemPrompt(ctx, store.PromptScopeChat, msg.Chat.ID, version); err != nil {
		b.reply(msg, msgGenerateFailed)
		return
	}
	b.reply(msg, msgDone)
}

// Admin commands.

// targetUserID resolves the subject of a moderation command: a replied-to
// user or a numeric argument.
func targetUserID(msg *tgbotapi.Message) int64 {
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		return msg.ReplyToMessage.From.ID
	}
	id, err := strconv.ParseInt(strings.TrimSpace(msg.CommandArguments()), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (b *Bot) cmdBan(ctx context.Context, msg *tgbotapi.Message) {
	if !b.requireAdmin(msg) {
		return
	}
	target := targetUserID(msg)
	if target == 0 {
		b.reply(msg, "Вкажи користувача відповіддю або ID.")
		return
	}
	if err := b.store.CreateBan(ctx, &store.Ban{
		ChatID:    msg.Chat.ID,
		UserID:    target,
		BannedBy:  msg.From.ID,
		CreatedTs: time.Now().Unix(),
	}); err != nil {
		b.reply(msg, msgGenerateFailed)
		return
	}
	b.reply(msg, msgDone)
}

func (b *Bot) cmdUnban(ctx context.Context, msg *tgbotapi.Message) {
	if !b.requireAdmin(msg) {
		return
	}
	target := targetUserID(msg)
	if target == 0 {
		b.reply(msg, "Вкажи користувача відповіддю або ID.")
		return
	}
	if err := b.store.DeleteBan(ctx, msg.Chat.ID, target); err != nil {
		b.reply(msg, msgGenerateFailed)
		return
	}
	b.reply(msg, msgDone)
}

func (b *Bot) cmdResetLimits(ctx context.Context, msg *tgbotapi.Message) {
	if !b.requireAdmin(msg) {
		return
	}
	var userID *int64
	if target := targetUserID(msg); target != 0 {
		userID = &target
	}
	if err := b.limiter.Reset(ctx, userID); err != nil {
		b.reply(msg, msgGenerateFailed)
		return
	}
	if err := b.limiter.ResetImageQuota(ctx, msg.Chat.ID, userID); err != nil {
		slog.Warn("image quota reset failed", "chat_id", msg.Chat.ID, "error", err)
	}
	b.reply(msg, msgDone)
}

func (b *Bot) cmdChatInfo(ctx context.Context, msg *tgbotapi.Message) {
	if !b.requireAdmin(msg) {
		return
	}
	chatID := msg.Chat.ID
	counts, err := b.store.UserMessageCounts(ctx, chatID)
	if err != nil {
		b.reply(msg, msgGenerateFailed)
		return
	}
	total := int64(0)
	for _, c := range counts {
		total += c
	}
	episodes, _ := b.store.ListEpisodes(ctx, &store.FindEpisode{ChatID: &chatID, Limit: 1000})
	stats := b.assembler.Stats()
	b.reply(msg, fmt.Sprintf(
		"Чат %d\nПовідомлень: %d\nУчасників: %d\nЕпізодів: %d\nКеш контексту: %d/%d (hit/miss)\nДропів на локу: %d",
		chatID, total, len(counts), len(episodes), stats.L1Hits, stats.L1Misses, b.locks.dropCount()))
}
