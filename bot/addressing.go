package bot

import (
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// addressing decides whether the bot should respond to a message.
type addressing struct {
	botID        int64
	botUsername  string // without @
	nameVariants []string
}

func newAddressing(botID int64, botUsername string, nameVariants []string) *addressing {
	lowered := make([]string, len(nameVariants))
	for i, n := range nameVariants {
		lowered[i] = strings.ToLower(n)
	}
	return &addressing{
		botID:        botID,
		botUsername:  strings.ToLower(strings.TrimPrefix(botUsername, "@")),
		nameVariants: lowered,
	}
}

// isAddressed reports whether the message is directed at the bot: a reply to
// a bot message, an explicit @mention, or a fuzzy name-variant match.
func (a *addressing) isAddressed(msg *tgbotapi.Message) bool {
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil &&
		msg.ReplyToMessage.From.ID == a.botID {
		return true
	}
	if a.hasMentionEntity(msg) {
		return true
	}
	return a.hasNameVariant(msg.Text) || a.hasNameVariant(msg.Caption)
}

// hasMentionEntity checks message entities for @username mentions or direct
// text_mention links to the bot account.
func (a *addressing) hasMentionEntity(msg *tgbotapi.Message) bool {
	check := func(text string, entities []tgbotapi.MessageEntity) bool {
		for _, e := range entities {
			switch e.Type {
			case "mention":
				mention := strings.ToLower(strings.TrimPrefix(entitySlice(text, e), "@"))
				if mention == a.botUsername {
					return true
				}
			case "text_mention":
				if e.User != nil && e.User.ID == a.botID {
					return true
				}
			}
		}
		return false
	}
	return check(msg.Text, msg.Entities) || check(msg.Caption, msg.CaptionEntities)
}

// hasNameVariant runs the fuzzy keyword match: any configured name appearing
// as a word in the text counts.
func (a *addressing) hasNameVariant(text string) bool {
	if text == "" {
		return false
	}
	lowered := strings.ToLower(text)
	for _, name := range a.nameVariants {
		idx := strings.Index(lowered, name)
		for idx >= 0 {
			if isWordBoundary(lowered, idx, len(name)) {
				return true
			}
			next := strings.Index(lowered[idx+1:], name)
			if next < 0 {
				break
			}
			idx = idx + 1 + next
		}
	}
	return false
}

// isWordBoundary checks that lowered[idx:idx+n] is not embedded inside a
// longer word. Cyrillic suffixes after the name (vocative forms) still count.
func isWordBoundary(s string, idx, n int) bool {
	if idx > 0 {
		prev := s[idx-1]
		if isAlnumASCII(prev) {
			return false
		}
	}
	end := idx + n
	if end < len(s) && isAlnumASCII(s[end]) {
		return false
	}
	return true
}

func isAlnumASCII(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

// entitySlice extracts the entity's substring honoring Telegram's UTF-16
// offsets.
func entitySlice(text string, e tgbotapi.MessageEntity) string {
	encoded := utf16.Encode([]rune(text))
	if e.Offset < 0 || e.Offset+e.Length > len(encoded) {
		return ""
	}
	return string(utf16.Decode(encoded[e.Offset : e.Offset+e.Length]))
}
