package reel

import (
	"context"
	"sync"
)

// Synthesizer turns the full narration text into one audio track.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*SpeechTrack, error)
}

// SpeechTrack is synthesized narration on disk plus its measured duration,
// which drives all frame timing.
type SpeechTrack struct {
	Path     string
	Duration float64 // seconds
	Format   string  // container/codec hint, e.g. "mp3"

	release func()
	once    sync.Once
}

// NewSpeechTrack wraps an audio file. release frees whatever backs the track
// (typically deleting the file) and runs at most once.
func NewSpeechTrack(path string, duration float64, format string, release func()) *SpeechTrack {
	return &SpeechTrack{Path: path, Duration: duration, Format: format, release: release}
}

// Release frees the track's resources. Safe to call more than once.
func (t *SpeechTrack) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		if t.release != nil {
			t.release()
		}
	})
}
