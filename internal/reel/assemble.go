package reel

import (
	"context"
	"errors"
	"image"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Settings are the tuning knobs of a pipeline. They are fixed when the
// Assembler is built and shared read-only by every run.
type Settings struct {
	Canvas           image.Point
	FrameRate        int
	StartColor       RGB
	EndColor         RGB
	TimingAdjustment float64 // seconds added to the first word
}

// RenderPool runs frame-render tasks. *ants.Pool satisfies it.
type RenderPool interface {
	Submit(task func()) error
}

// StageTimings records wall time spent in each pipeline stage.
type StageTimings struct {
	Synthesis time.Duration
	Render    time.Duration
	Encode    time.Duration
}

// VideoOutput describes a finished video. The caller owns the file at Path.
type VideoOutput struct {
	Path           string
	Width          int
	Height         int
	FrameRate      int
	FrameCount     int
	SpeechDuration float64 // seconds, as measured from the synthesized track
	Duration       float64 // seconds, sum of the timing plan
	Plan           TimingPlan
	Timings        StageTimings
}

// Assembler runs the text-to-video pipeline.
type Assembler struct {
	settings Settings
	synth    Synthesizer
	renderer *Renderer
	encoder  Encoder
	pool     RenderPool
	log      zerolog.Logger
}

// NewAssembler wires a pipeline. pool may be nil, in which case frames are
// rendered on the calling goroutine.
func NewAssembler(settings Settings, synth Synthesizer, renderer *Renderer, encoder Encoder, pool RenderPool, log zerolog.Logger) *Assembler {
	return &Assembler{
		settings: settings,
		synth:    synth,
		renderer: renderer,
		encoder:  encoder,
		pool:     pool,
		log:      log,
	}
}

// Settings returns the pipeline's fixed settings.
func (a *Assembler) Settings() Settings { return a.settings }

// Assemble splits text into words and runs AssembleWords. Text without any
// words fails with KindInput before anything is synthesized.
func (a *Assembler) Assemble(ctx context.Context, text, outputPath string) (*VideoOutput, error) {
	words := SplitWords(text)
	if len(words) == 0 {
		return nil, Errorf(KindInput, "text has no words")
	}
	return a.AssembleWords(ctx, words, outputPath)
}

// AssembleWords synthesizes the narration once, plans per-word durations,
// renders one frame per word and hands everything to the encoder. Any stage
// failure aborts the run, and no file is left at outputPath.
func (a *Assembler) AssembleWords(ctx context.Context, words []Word, outputPath string) (*VideoOutput, error) {
	if len(words) == 0 {
		return nil, Errorf(KindInput, "text has no words")
	}
	log := a.log.With().Int("words", len(words)).Str("output", outputPath).Logger()

	// 1. Speech
	start := time.Now()
	track, err := a.synth.Synthesize(ctx, JoinWords(words))
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return nil, err
		}
		return nil, Errorf(KindSpeechSynthesis, "synthesize: %w", err)
	}
	defer track.Release()
	timings := StageTimings{Synthesis: time.Since(start)}
	log.Debug().Float64("speech_seconds", track.Duration).Dur("elapsed", timings.Synthesis).Msg("speech synthesized")

	// 2. Timing
	plan, err := Allocate(track.Duration, len(words), a.settings.TimingAdjustment)
	if err != nil {
		return nil, err
	}

	// 3. Frames
	start = time.Now()
	frames, err := a.renderFrames(ctx, words)
	if err != nil {
		return nil, err
	}
	timings.Render = time.Since(start)
	log.Debug().Int("frames", len(frames)).Dur("elapsed", timings.Render).Msg("frames rendered")

	// 4-5. Encode and mux
	start = time.Now()
	err = a.encoder.Encode(ctx, EncodeRequest{
		Frames:     frames,
		Plan:       plan,
		AudioPath:  track.Path,
		FrameRate:  a.settings.FrameRate,
		OutputPath: outputPath,
	})
	if err != nil {
		os.Remove(outputPath)
		if KindOf(err) == KindUnknown {
			err = Errorf(KindEncoding, "encode: %w", err)
		}
		return nil, err
	}
	timings.Encode = time.Since(start)

	out := &VideoOutput{
		Path:           outputPath,
		Width:          a.settings.Canvas.X,
		Height:         a.settings.Canvas.Y,
		FrameRate:      a.settings.FrameRate,
		FrameCount:     len(frames),
		SpeechDuration: track.Duration,
		Duration:       plan.Total(),
		Plan:           plan,
		Timings:        timings,
	}
	log.Info().
		Int("frames", out.FrameCount).
		Float64("duration_seconds", out.Duration).
		Dur("encode", timings.Encode).
		Msg("video assembled")
	return out, nil
}

// renderFrames renders every word, possibly in parallel, and returns frames in
// word order regardless of completion order.
func (a *Assembler) renderFrames(ctx context.Context, words []Word) ([]Frame, error) {
	n := len(words)
	frames := make([]Frame, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i, w := range words {
		bg := BackgroundAt(a.settings.StartColor, a.settings.EndColor, i, n)
		task := func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				errs[i] = Errorf(KindRender, "render %q: %w", w.Text, err)
				return
			}
			img, err := a.renderer.Render(w.Text, bg)
			if err != nil {
				errs[i] = err
				return
			}
			frames[i] = Frame{Index: i, Word: w.Text, Background: bg, Image: img}
		}

		wg.Add(1)
		if a.pool == nil {
			task()
			continue
		}
		if err := a.pool.Submit(task); err != nil {
			wg.Done()
			errs[i] = Errorf(KindRender, "submit render task: %w", err)
			break
		}
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return frames, nil
}
