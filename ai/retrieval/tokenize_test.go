package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "english with stopwords and punctuation",
			in:   "What about the weather in Kyiv?",
			want: []string{"weather", "kyiv"},
		},
		{
			name: "ukrainian short words dropped by rune length",
			in:   "де ти був учора ввечері",
			want: []string{"був", "учора", "ввечері"},
		},
		{
			name: "duplicates removed",
			in:   "test test TEST",
			want: []string{"test"},
		},
		{
			name: "ukrainian stopwords dropped",
			in:   "але він дуже хоче кави",
			want: []string{"хоче", "кави"},
		},
		{
			name: "empty",
			in:   "  ...  !!",
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestFTSQuery(t *testing.T) {
	assert.Equal(t, "", FTSQuery(nil))
	assert.Equal(t, `"weather"`, FTSQuery([]string{"weather"}))
	assert.Equal(t, `"weather" OR "kyiv"`, FTSQuery([]string{"weather", "kyiv"}))
	// Embedded quotes are stripped so FTS operators stay inert.
	assert.Equal(t, `"near5"`, FTSQuery([]string{`ne"ar"5`}))
}
