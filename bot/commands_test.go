package bot

import (
	"context"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/ai"
)

// sendRecorder substitutes the outbound seam and captures message texts.
func sendRecorder(texts *[]string) func(tgbotapi.Chattable) (tgbotapi.Message, error) {
	return func(c tgbotapi.Chattable) (tgbotapi.Message, error) {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			*texts = append(*texts, m.Text)
		}
		return tgbotapi.Message{MessageID: 99}, nil
	}
}

func TestDonateCommand(t *testing.T) {
	var sent []string
	b := &Bot{
		cfg:      &ai.Config{AdminUserIDs: []int64{777}, DonationText: "підтримай гряга"},
		confirms: make(map[string]time.Time),
		send:     sendRecorder(&sent),
	}
	msg := &tgbotapi.Message{MessageID: 5, Chat: &tgbotapi.Chat{ID: -100}, From: &tgbotapi.User{ID: 777}}

	b.cmdDonate(context.Background(), msg)
	require.Len(t, sent, 1)
	assert.Equal(t, "підтримай гряга", sent[0])

	// Non-admins get the refusal, not the notice.
	msg.From.ID = 1
	b.cmdDonate(context.Background(), msg)
	require.Len(t, sent, 2)
	assert.Equal(t, msgNotAdmin, sent[1])
}

func TestSendDonationNotice(t *testing.T) {
	var sent []string
	b := &Bot{
		cfg:  &ai.Config{DonationText: "дякую за підтримку"},
		send: sendRecorder(&sent),
	}
	require.NoError(t, b.SendDonationNotice(-100))
	require.Len(t, sent, 1)
	assert.Equal(t, "дякую за підтримку", sent[0])
}

func TestConfirmationLifecycle(t *testing.T) {
	b := &Bot{confirms: make(map[string]time.Time)}

	assert.Equal(t, confirmArmed, b.armConfirmation("forgetme", 1, 2, time.Minute))
	assert.Equal(t, confirmAccepted, b.armConfirmation("forgetme", 1, 2, time.Minute))
	// Acceptance consumed the pending state; the next call starts over.
	assert.Equal(t, confirmArmed, b.armConfirmation("forgetme", 1, 2, time.Minute))

	// Separate actions and users do not interfere.
	assert.Equal(t, confirmArmed, b.armConfirmation("chatreset", 1, 2, time.Minute))
	assert.Equal(t, confirmArmed, b.armConfirmation("forgetme", 1, 3, time.Minute))
}

func TestConfirmationExpires(t *testing.T) {
	b := &Bot{confirms: make(map[string]time.Time)}

	require.Equal(t, confirmArmed, b.armConfirmation("chatreset", 1, 2, time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, confirmExpired, b.armConfirmation("chatreset", 1, 2, time.Millisecond))
	// The expired state is cleared; a new cycle arms fresh.
	assert.Equal(t, confirmArmed, b.armConfirmation("chatreset", 1, 2, time.Minute))
}
