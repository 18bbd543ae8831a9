package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/gryagbot/gryag/ai"
	"github.com/gryagbot/gryag/bot/metrics"
)

const (
	// mediaMaxInlineBytes caps the total inline payload per generation.
	mediaMaxInlineBytes = 20 << 20
	// imageRecompressBytes and imageRecompressPx trigger JPEG recompression.
	imageRecompressBytes = 1 << 20
	imageRecompressPx    = 1600
	jpegQuality          = 80
	mediaRetries         = 3
)

// mediaItem is one downloaded attachment ready for the generator.
type mediaItem struct {
	Kind string `json:"kind"`
	MIME string `json:"mime"`
	Size int    `json:"size"`
	data []byte
}

// mediaCollector downloads and validates message attachments.
type mediaCollector struct {
	api  *tgbotapi.BotAPI
	http *http.Client
}

func newMediaCollector(api *tgbotapi.BotAPI) *mediaCollector {
	return &mediaCollector{
		api:  api,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// collect gathers media from a batch of messages (one message, or a whole
// album). Failures are skipped silently with a counter; the reply proceeds
// with whatever downloaded.
func (c *mediaCollector) collect(ctx context.Context, msgs []*tgbotapi.Message) []mediaItem {
	var items []mediaItem
	total := 0
	for _, msg := range msgs {
		for _, ref := range mediaRefs(msg) {
			item, err := c.download(ctx, ref)
			if err != nil {
				metrics.MediaFailures.Inc()
				slog.Warn("media download skipped",
					"kind", ref.kind, "chat_id", msg.Chat.ID, "error", err)
				continue
			}
			if total+len(item.data) > mediaMaxInlineBytes {
				slog.Warn("media payload cap reached, dropping remainder",
					"chat_id", msg.Chat.ID, "cap_bytes", mediaMaxInlineBytes)
				return items
			}
			total += len(item.data)
			items = append(items, item)
		}
	}
	return items
}

// mediaRef is one downloadable attachment.
type mediaRef struct {
	kind   string
	fileID string
	mime   string
}

// mediaRefs lists the supported attachments of a message. For photos only the
// largest size is taken.
func mediaRefs(msg *tgbotapi.Message) []mediaRef {
	var refs []mediaRef
	if len(msg.Photo) > 0 {
		best := msg.Photo[len(msg.Photo)-1]
		refs = append(refs, mediaRef{kind: "photo", fileID: best.FileID, mime: "image/jpeg"})
	}
	if msg.Sticker != nil && !msg.Sticker.IsAnimated && !msg.Sticker.IsVideo {
		refs = append(refs, mediaRef{kind: "sticker", fileID: msg.Sticker.FileID, mime: "image/webp"})
	}
	if msg.Voice != nil {
		refs = append(refs, mediaRef{kind: "voice", fileID: msg.Voice.FileID, mime: "audio/ogg"})
	}
	if msg.Audio != nil {
		refs = append(refs, mediaRef{kind: "audio", fileID: msg.Audio.FileID, mime: msg.Audio.MimeType})
	}
	if msg.Video != nil {
		refs = append(refs, mediaRef{kind: "video", fileID: msg.Video.FileID, mime: msg.Video.MimeType})
	}
	if msg.VideoNote != nil {
		refs = append(refs, mediaRef{kind: "video_note", fileID: msg.VideoNote.FileID, mime: "video/mp4"})
	}
	if msg.Animation != nil {
		refs = append(refs, mediaRef{kind: "animation", fileID: msg.Animation.FileID, mime: "video/mp4"})
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		refs = append(refs, mediaRef{kind: "document", fileID: msg.Document.FileID, mime: msg.Document.MimeType})
	}
	return refs
}

// download fetches one file with retries and exponential backoff, validates
// the magic bytes and recompresses oversized images.
func (c *mediaCollector) download(ctx context.Context, ref mediaRef) (mediaItem, error) {
	url, err := c.api.GetFileDirectURL(ref.fileID)
	if err != nil {
		return mediaItem{}, fmt.Errorf("resolve file url: %w", err)
	}

	var data []byte
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < mediaRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return mediaItem{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		data, err = c.fetch(ctx, url)
		if err == nil {
			break
		}
	}
	if err != nil {
		return mediaItem{}, err
	}

	mime := ref.mime
	if detected := detectMIME(data); detected != "" {
		mime = detected
	} else if strings.HasPrefix(ref.mime, "image/") {
		return mediaItem{}, fmt.Errorf("unrecognized image signature")
	}

	if strings.HasPrefix(mime, "image/") {
		if recompressed, ok := recompressImage(data); ok {
			data = recompressed
			mime = "image/jpeg"
		}
	}

	return mediaItem{Kind: ref.kind, MIME: mime, Size: len(data), data: data}, nil
}

func (c *mediaCollector) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, mediaMaxInlineBytes+1))
}

// detectMIME validates well-known magic bytes. Empty means unknown.
func detectMIME(data []byte) string {
	switch {
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a"))):
		return "image/gif"
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("OggS")):
		return "audio/ogg"
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")):
		return "video/mp4"
	case len(data) >= 3 && bytes.Equal(data[:3], []byte("ID3")),
		len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "audio/mpeg"
	default:
		return ""
	}
}

// recompressImage shrinks images over the size or dimension limits to JPEG,
// preserving aspect ratio. Returns ok=false when no recompression was needed
// or possible.
func recompressImage(data []byte) ([]byte, bool) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, false
	}
	bounds := img.Bounds()
	oversized := len(data) > imageRecompressBytes ||
		bounds.Dx() > imageRecompressPx || bounds.Dy() > imageRecompressPx
	if !oversized {
		return nil, false
	}
	if bounds.Dx() > imageRecompressPx || bounds.Dy() > imageRecompressPx {
		img = imaging.Fit(img, imageRecompressPx, imageRecompressPx, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

// toParts converts media items to generator parts.
func toParts(items []mediaItem) []ai.Part {
	parts := make([]ai.Part, 0, len(items))
	for _, it := range items {
		parts = append(parts, ai.Part{MIMEType: it.MIME, Data: it.data})
	}
	return parts
}

// mediaJSON renders the persisted media descriptor, empty for none.
func mediaJSON(items []mediaItem) string {
	if len(items) == 0 {
		return ""
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return ""
	}
	return string(raw)
}
