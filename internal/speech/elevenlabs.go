package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/snarg/wordreel/internal/metrics"
)

const elevenLabsTTSEndpoint = "https://api.elevenlabs.io/v1/text-to-speech"

// ElevenLabsClient calls the ElevenLabs text-to-speech API.
type ElevenLabsClient struct {
	endpoint        string
	apiKey          string
	voiceID         string
	model           string // e.g. "eleven_multilingual_v2"
	stability       float64
	similarityBoost float64
	client          *http.Client
}

// ElevenLabsOptions configures an ElevenLabs client.
type ElevenLabsOptions struct {
	Endpoint        string // empty = public API
	APIKey          string
	VoiceID         string
	Model           string
	Stability       float64
	SimilarityBoost float64
	Timeout         time.Duration
}

type elevenlabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id,omitempty"`
	VoiceSettings elevenlabsVoiceSettings `json:"voice_settings"`
}

type elevenlabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// NewElevenLabsClient creates a new ElevenLabs TTS client.
func NewElevenLabsClient(opts ElevenLabsOptions) *ElevenLabsClient {
	if opts.Endpoint == "" {
		opts.Endpoint = elevenLabsTTSEndpoint
	}
	return &ElevenLabsClient{
		endpoint:        opts.Endpoint,
		apiKey:          opts.APIKey,
		voiceID:         opts.VoiceID,
		model:           opts.Model,
		stability:       opts.Stability,
		similarityBoost: opts.SimilarityBoost,
		client:          &http.Client{Timeout: opts.Timeout},
	}
}

// Name returns the backend name.
func (el *ElevenLabsClient) Name() string { return "elevenlabs" }

// Format returns the audio container produced.
func (el *ElevenLabsClient) Format() string { return "mp3" }

// Speak synthesizes text and returns MP3 bytes.
func (el *ElevenLabsClient) Speak(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(elevenlabsRequest{
		Text:    text,
		ModelID: el.model,
		VoiceSettings: elevenlabsVoiceSettings{
			Stability:       el.stability,
			SimilarityBoost: el.similarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	u := el.endpoint + "/" + url.PathEscape(el.voiceID) + "?output_format=mp3_44100_128"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", el.apiKey)

	resp, err := el.client.Do(req)
	if err != nil {
		metrics.SpeechRequestsTotal.WithLabelValues(el.Name(), "error").Inc()
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.SpeechRequestsTotal.WithLabelValues(el.Name(), "error").Inc()
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.SpeechRequestsTotal.WithLabelValues(el.Name(), "error").Inc()
		return nil, fmt.Errorf("elevenlabs API error (status %d): %s", resp.StatusCode, string(body))
	}
	if len(body) == 0 {
		metrics.SpeechRequestsTotal.WithLabelValues(el.Name(), "error").Inc()
		return nil, fmt.Errorf("elevenlabs returned no audio")
	}

	metrics.SpeechRequestsTotal.WithLabelValues(el.Name(), "ok").Inc()
	return body, nil
}
