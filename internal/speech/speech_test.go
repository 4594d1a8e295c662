package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/snarg/wordreel/internal/reel"
)

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{"empty", "   ", 10, nil},
		{"fits", "hello world", 100, []string{"hello world"}},
		{"word boundary", "aaa bbb ccc", 7, []string{"aaa bbb", "ccc"}},
		{"collapses whitespace", "a\n\tb", 10, []string{"a b"}},
		{"long word", "abcdefghij xy", 4, []string{"abcd", "efgh", "ij", "xy"}},
		{"long word joins next", "abcdefg hi", 4, []string{"abcd", "efg", "hi"}},
		{"multibyte", "ééé ééé", 3, []string{"ééé", "ééé"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitChunks(tt.text, tt.max)
			if len(got) != len(tt.want) {
				t.Fatalf("SplitChunks = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitChunks_RespectsLimit(t *testing.T) {
	text := strings.Repeat("narration is fun and the words keep coming ", 20)
	for _, c := range SplitChunks(text, maxChunkRunes) {
		if n := utf8.RuneCountInString(c); n > maxChunkRunes {
			t.Errorf("chunk has %d runes: %q", n, c)
		}
	}
}

func TestGoogleTTS_Speak(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("q"))
		mu.Unlock()
		if got := r.URL.Query().Get("tl"); got != "de" {
			t.Errorf("tl = %q, want de", got)
		}
		if got := r.URL.Query().Get("client"); got != "tw-ob" {
			t.Errorf("client = %q", got)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		io.WriteString(w, "MP3:"+r.URL.Query().Get("idx")+";")
	}))
	defer srv.Close()

	g := NewGoogleTTS(srv.URL, "de", 5*time.Second)
	text := strings.Repeat("wort ", 30) // 149 chars, two chunks
	audio, err := g.Speak(context.Background(), text)
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if string(audio) != "MP3:0;MP3:1;" {
		t.Errorf("audio = %q", audio)
	}
	if len(queries) != 2 {
		t.Fatalf("requests = %d, want 2", len(queries))
	}
	if strings.Join(queries, " ") != strings.TrimSpace(text) {
		t.Error("chunks do not reassemble into the input text")
	}
}

func TestGoogleTTS_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewGoogleTTS(srv.URL, "", time.Second).Speak(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v, want status 429", err)
	}
}

func TestGoogleTTS_EmptyText(t *testing.T) {
	if _, err := NewGoogleTTS("http://unused", "en", time.Second).Speak(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestElevenLabs_Speak(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/voice123" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("xi-api-key"); got != "secret" {
			t.Errorf("api key = %q", got)
		}
		var body elevenlabsRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if body.Text != "hello world" || body.ModelID != "eleven_multilingual_v2" {
			t.Errorf("body = %+v", body)
		}
		if body.VoiceSettings.Stability != 0.5 || body.VoiceSettings.SimilarityBoost != 0.75 {
			t.Errorf("voice settings = %+v", body.VoiceSettings)
		}
		w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	el := NewElevenLabsClient(ElevenLabsOptions{
		Endpoint:        srv.URL,
		APIKey:          "secret",
		VoiceID:         "voice123",
		Model:           "eleven_multilingual_v2",
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Timeout:         5 * time.Second,
	})
	audio, err := el.Speak(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if string(audio) != "ID3audio" {
		t.Errorf("audio = %q", audio)
	}
}

func TestElevenLabs_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"invalid key"}`))
	}))
	defer srv.Close()

	el := NewElevenLabsClient(ElevenLabsOptions{Endpoint: srv.URL, VoiceID: "v", Timeout: time.Second})
	_, err := el.Speak(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "invalid key") {
		t.Fatalf("err = %v", err)
	}
}

type fakeBackend struct {
	audio []byte
	err   error
}

func (f fakeBackend) Speak(ctx context.Context, text string) ([]byte, error) { return f.audio, f.err }
func (f fakeBackend) Name() string                                          { return "fake" }
func (f fakeBackend) Format() string                                        { return "mp3" }

type fakeProber struct {
	duration float64
	err      error
	seen     string
}

func (p *fakeProber) Duration(ctx context.Context, path string) (float64, error) {
	p.seen = path
	return p.duration, p.err
}

func TestSynthesizer_WritesAndReleases(t *testing.T) {
	dir := t.TempDir()
	prober := &fakeProber{duration: 2.5}
	s := NewSynthesizer(fakeBackend{audio: []byte("mp3 bytes")}, prober, dir, zerolog.Nop())

	track, err := s.Synthesize(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if track.Duration != 2.5 || track.Format != "mp3" {
		t.Errorf("track = %+v", track)
	}
	if prober.seen != track.Path {
		t.Errorf("probed %q, track at %q", prober.seen, track.Path)
	}
	b, err := os.ReadFile(track.Path)
	if err != nil || string(b) != "mp3 bytes" {
		t.Fatalf("track file = %q, %v", b, err)
	}

	track.Release()
	if _, err := os.Stat(track.Path); !os.IsNotExist(err) {
		t.Error("track file not removed on release")
	}
	track.Release() // second call is a no-op
}

func TestSynthesizer_Errors(t *testing.T) {
	tests := []struct {
		name    string
		backend Backend
		prober  *fakeProber
		kind    reel.Kind
	}{
		{"backend fails", fakeBackend{err: errors.New("unreachable")}, &fakeProber{duration: 1}, reel.KindSpeechSynthesis},
		{"no audio", fakeBackend{}, &fakeProber{duration: 1}, reel.KindSpeechSynthesis},
		{"probe fails", fakeBackend{audio: []byte("x")}, &fakeProber{err: errors.New("bad file")}, reel.KindSpeechSynthesis},
		{"zero duration", fakeBackend{audio: []byte("x")}, &fakeProber{duration: 0}, reel.KindDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			s := NewSynthesizer(tt.backend, tt.prober, dir, zerolog.Nop())
			_, err := s.Synthesize(context.Background(), "text")
			if reel.KindOf(err) != tt.kind {
				t.Fatalf("KindOf(err) = %v, want %v (err=%v)", reel.KindOf(err), tt.kind, err)
			}
			entries, _ := os.ReadDir(dir)
			if len(entries) != 0 {
				t.Errorf("temp files left behind: %d", len(entries))
			}
		})
	}
}
