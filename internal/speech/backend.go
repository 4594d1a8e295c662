package speech

import "context"

// Backend is the interface for text-to-speech services.
type Backend interface {
	Speak(ctx context.Context, text string) ([]byte, error)
	Name() string   // "google", "elevenlabs"
	Format() string // container of the returned bytes, e.g. "mp3"
}

// DurationProber measures the playback length of an audio file.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}
