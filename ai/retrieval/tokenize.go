package retrieval

import (
	"strings"
	"unicode"
)

// stopwords covers the English and Ukrainian function words that dominate
// group-chat text. Keyword queries built from them match everything and rank
// nothing.
var stopwords = map[string]struct{}{
	// English.
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "her": {}, "was": {},
	"one": {}, "our": {}, "out": {}, "has": {}, "him": {}, "his": {},
	"how": {}, "its": {}, "may": {}, "who": {}, "did": {}, "get": {},
	"that": {}, "this": {}, "with": {}, "have": {}, "from": {},
	"they": {}, "will": {}, "what": {}, "when": {}, "were": {},
	"there": {}, "their": {}, "which": {}, "would": {}, "about": {},
	// Ukrainian.
	"або": {}, "але": {}, "вже": {}, "він": {}, "вона": {}, "воно": {},
	"вони": {}, "все": {}, "для": {}, "його": {}, "коли": {}, "мене": {},
	"нас": {}, "наш": {}, "про": {}, "та": {}, "так": {}, "теж": {},
	"тебе": {}, "тільки": {}, "того": {}, "тому": {}, "хто": {},
	"це": {}, "цей": {}, "через": {}, "щоб": {}, "як": {}, "яка": {},
	"який": {}, "буде": {}, "була": {}, "було": {}, "дуже": {},
}

// Tokenize splits text into lowercase keyword tokens, dropping stopwords and
// tokens of length 2 or shorter. Length is counted in runes so Cyrillic words
// are not over-filtered.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len([]rune(f)) <= 2 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	return tokens
}

// FTSQuery builds an OR query over the tokens for the FTS index. Tokens are
// quoted so FTS operators inside user text stay inert.
func FTSQuery(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, ``) + `"`
	}
	return strings.Join(quoted, " OR ")
}
