package speech

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog"
	"github.com/snarg/wordreel/internal/metrics"
	"github.com/snarg/wordreel/internal/reel"
)

// Synthesizer adapts a Backend to reel.Synthesizer: the audio is written to a
// temporary file whose duration is measured before the track is handed out.
type Synthesizer struct {
	backend Backend
	prober  DurationProber
	tempDir string
	log     zerolog.Logger
}

// NewSynthesizer creates a synthesizer. tempDir may be empty to use the
// system default.
func NewSynthesizer(backend Backend, prober DurationProber, tempDir string, log zerolog.Logger) *Synthesizer {
	return &Synthesizer{
		backend: backend,
		prober:  prober,
		tempDir: tempDir,
		log:     log.With().Str("component", "speech").Str("backend", backend.Name()).Logger(),
	}
}

// Backend returns the wrapped backend's name.
func (s *Synthesizer) Backend() string { return s.backend.Name() }

// Synthesize speaks text once and returns the resulting track. The caller
// must Release the track.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (*reel.SpeechTrack, error) {
	audio, err := s.backend.Speak(ctx, text)
	if err != nil {
		return nil, reel.Errorf(reel.KindSpeechSynthesis, "%s: %w", s.backend.Name(), err)
	}
	if len(audio) == 0 {
		return nil, reel.Errorf(reel.KindSpeechSynthesis, "%s returned no audio", s.backend.Name())
	}

	f, err := os.CreateTemp(s.tempDir, "wordreel-speech-*."+s.backend.Format())
	if err != nil {
		return nil, reel.Errorf(reel.KindSpeechSynthesis, "create temp file: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(audio); err != nil {
		f.Close()
		os.Remove(path)
		return nil, reel.Errorf(reel.KindSpeechSynthesis, "write audio: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, reel.Errorf(reel.KindSpeechSynthesis, "write audio: %w", err)
	}

	release := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Str("path", path).Msg("failed to remove speech file")
		}
	}

	dur, err := s.prober.Duration(ctx, path)
	if err != nil {
		release()
		return nil, reel.Errorf(reel.KindSpeechSynthesis, "measure duration: %w", err)
	}
	if dur <= 0 {
		release()
		return nil, reel.Errorf(reel.KindDuration, "speech track has duration %v", dur)
	}

	metrics.SpeechSecondsTotal.WithLabelValues(s.backend.Name()).Add(dur)
	s.log.Debug().Int("bytes", len(audio)).Float64("duration", dur).Msg("speech synthesized")

	return reel.NewSpeechTrack(path, dur, s.backend.Format(), release), nil
}
