package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/snarg/wordreel/internal/metrics"
)

const (
	googleTTSEndpoint = "https://translate.google.com/translate_tts"

	// maxChunkRunes is the longest text the translate TTS endpoint accepts
	// in a single request.
	maxChunkRunes = 100
)

// GoogleTTS calls the Google Translate text-to-speech endpoint. Long text is
// split into chunks; the MP3 responses are concatenated.
type GoogleTTS struct {
	endpoint string
	lang     string
	client   *http.Client
}

// NewGoogleTTS creates a Google TTS client. endpoint may be empty to use the
// public endpoint.
func NewGoogleTTS(endpoint, lang string, timeout time.Duration) *GoogleTTS {
	if endpoint == "" {
		endpoint = googleTTSEndpoint
	}
	if lang == "" {
		lang = "en"
	}
	return &GoogleTTS{
		endpoint: endpoint,
		lang:     lang,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the backend name.
func (g *GoogleTTS) Name() string { return "google" }

// Format returns the audio container produced.
func (g *GoogleTTS) Format() string { return "mp3" }

// Speak synthesizes text and returns MP3 bytes.
func (g *GoogleTTS) Speak(ctx context.Context, text string) ([]byte, error) {
	chunks := SplitChunks(text, maxChunkRunes)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no text to speak")
	}

	var out bytes.Buffer
	for i, chunk := range chunks {
		if err := g.fetch(ctx, &out, chunk, i, len(chunks)); err != nil {
			metrics.SpeechRequestsTotal.WithLabelValues(g.Name(), "error").Inc()
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		metrics.SpeechRequestsTotal.WithLabelValues(g.Name(), "ok").Inc()
	}
	return out.Bytes(), nil
}

func (g *GoogleTTS) fetch(ctx context.Context, w io.Writer, chunk string, idx, total int) error {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("q", chunk)
	q.Set("tl", g.lang)
	q.Set("client", "tw-ob")
	q.Set("total", strconv.Itoa(total))
	q.Set("idx", strconv.Itoa(idx))
	q.Set("textlen", strconv.Itoa(utf8.RuneCountInString(chunk)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; wordreel)")
	req.Header.Set("Referer", "http://translate.google.com/")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("google tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("google tts error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("google tts returned no audio")
	}
	return nil
}

// SplitChunks breaks text into pieces of at most max runes, cutting at
// whitespace. A single word longer than max is split mid-word.
func SplitChunks(text string, max int) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, word := range strings.Fields(text) {
		wl := utf8.RuneCountInString(word)
		for wl > max {
			flush()
			runes := []rune(word)
			chunks = append(chunks, string(runes[:max]))
			word = string(runes[max:])
			wl -= max
		}
		if curLen > 0 && curLen+1+wl > max {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(word)
		curLen += wl
	}
	flush()
	return chunks
}
