package bot

import (
	"bytes"
	"image"
	"testing"

	"github.com/disintegration/imaging"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectMIME(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00}, "image/png"},
		{"webp", append([]byte("RIFF"), append([]byte{1, 2, 3, 4}, []byte("WEBP")...)...), "image/webp"},
		{"gif87", []byte("GIF87a...."), "image/gif"},
		{"gif89", []byte("GIF89a...."), "image/gif"},
		{"ogg", []byte("OggS....."), "audio/ogg"},
		{"mp4", append([]byte{0, 0, 0, 0x18}, []byte("ftypisom....")...), "video/mp4"},
		{"mp3 id3", []byte("ID3....."), "audio/mpeg"},
		{"mp3 frame", []byte{0xFF, 0xFB, 0x90, 0x00}, "audio/mpeg"},
		{"unknown", []byte("plain text"), ""},
		{"empty", nil, ""},
		{"truncated png", []byte{0x89, 'P', 'N'}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectMIME(tt.data))
		})
	}
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), imaging.PNG))
	return buf.Bytes()
}

func TestRecompressImage(t *testing.T) {
	// Small image passes through untouched.
	_, ok := recompressImage(encodePNG(t, 100, 100))
	assert.False(t, ok)

	// Oversized dimensions trigger a JPEG downscale within the bound.
	out, ok := recompressImage(encodePNG(t, 2400, 1200))
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", detectMIME(out))

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.LessOrEqual(t, img.Bounds().Dx(), imageRecompressPx)
	assert.LessOrEqual(t, img.Bounds().Dy(), imageRecompressPx)

	// Garbage input is left alone.
	_, ok = recompressImage([]byte("not an image"))
	assert.False(t, ok)
}

func TestMediaRefs(t *testing.T) {
	msg := &tgbotapi.Message{
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", Width: 90},
			{FileID: "large", Width: 1280},
		},
		Voice:    &tgbotapi.Voice{FileID: "v1"},
		Document: &tgbotapi.Document{FileID: "d1", MimeType: "image/png"},
	}
	refs := mediaRefs(msg)
	require.Len(t, refs, 3)
	assert.Equal(t, "large", refs[0].fileID, "only the largest photo size is kept")
	assert.Equal(t, "voice", refs[1].kind)
	assert.Equal(t, "document", refs[2].kind)

	// Animated stickers and non-image documents are skipped.
	msg = &tgbotapi.Message{
		Sticker:  &tgbotapi.Sticker{FileID: "s1", IsAnimated: true},
		Document: &tgbotapi.Document{FileID: "d2", MimeType: "application/pdf"},
	}
	assert.Empty(t, mediaRefs(msg))
}

func TestMediaJSON(t *testing.T) {
	assert.Empty(t, mediaJSON(nil))

	raw := mediaJSON([]mediaItem{{Kind: "photo", MIME: "image/jpeg", Size: 12}})
	assert.JSONEq(t, `[{"kind":"photo","mime":"image/jpeg","size":12}]`, raw)
}

func TestToParts(t *testing.T) {
	parts := toParts([]mediaItem{{MIME: "image/jpeg", data: []byte{1, 2}}})
	require.Len(t, parts, 1)
	assert.Equal(t, "image/jpeg", parts[0].MIMEType)
	assert.Equal(t, []byte{1, 2}, parts[0].Data)
}
