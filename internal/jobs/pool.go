package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/wordreel/internal/database"
	"github.com/snarg/wordreel/internal/metrics"
	"github.com/snarg/wordreel/internal/reel"
	"github.com/snarg/wordreel/internal/storage"
)

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrStopped   = errors.New("job pool is stopped")
	ErrTooLong   = errors.New("text is too long")
)

// Assembler runs the pipeline for one text. *reel.Assembler satisfies it.
type Assembler interface {
	Assemble(ctx context.Context, text, outputPath string) (*reel.VideoOutput, error)
}

// VideoSaver stores finished videos. storage.VideoStore satisfies it.
type VideoSaver interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
}

// Recorder persists job history. *database.DB satisfies it.
type Recorder interface {
	InsertVideoJob(ctx context.Context, j *database.VideoJob) error
	MarkVideoJobStarted(ctx context.Context, id string, at time.Time) error
	FinishVideoJob(ctx context.Context, j *database.VideoJob) error
}

// QueueStats reports the current state of the job queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Running   int   `json:"running"`
	Workers   int   `json:"workers"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// PoolOptions configures the job pool.
type PoolOptions struct {
	Assembler    Assembler
	Store        VideoSaver
	Recorder     Recorder // optional
	TTSBackend   string   // recorded with each job
	TempDir      string   // where pipeline output is written before storing
	Workers      int
	QueueSize    int
	Timeout      time.Duration // per job; 0 = none
	Retention    time.Duration // how long finished tickets stay queryable
	MaxTextChars int           // 0 = unlimited
	Log          zerolog.Logger
}

// Pool runs video jobs on a fixed set of workers behind a bounded queue.
type Pool struct {
	jobs   chan *Ticket
	opts   PoolOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time

	mu      sync.Mutex
	stopped bool
	tickets map[string]*Ticket

	running   atomic.Int32
	completed atomic.Int64
	failed    atomic.Int64

	stopSweep chan struct{}
}

// NewPool creates a job pool. Call Start to launch the workers.
func NewPool(opts PoolOptions) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	return &Pool{
		jobs:      make(chan *Ticket, opts.QueueSize),
		opts:      opts,
		log:       opts.Log.With().Str("component", "jobs").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
		tickets:   make(map[string]*Ticket),
		stopSweep: make(chan struct{}),
	}
}

// Start launches the worker goroutines and the ticket sweeper.
func (p *Pool) Start() {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	go p.sweepLoop()
	p.log.Info().Int("workers", p.opts.Workers).Int("queue_size", p.opts.QueueSize).Msg("video job pool started")
}

// Stop rejects new jobs, lets workers drain the queue and waits for them.
// Jobs still running when ctx ends are canceled.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	close(p.stopSweep)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.log.Warn().Msg("shutdown deadline reached, canceling running jobs")
		p.cancel()
		<-done
	}
	p.cancel()
	p.log.Info().
		Int64("completed", p.completed.Load()).
		Int64("failed", p.failed.Load()).
		Msg("video job pool stopped")
}

// Submit queues text for rendering. Text without words is rejected with a
// reel input error before anything is queued.
func (p *Pool) Submit(text string) (*Ticket, error) {
	if p.opts.MaxTextChars > 0 && len([]rune(text)) > p.opts.MaxTextChars {
		return nil, fmt.Errorf("%w: %d characters, limit %d", ErrTooLong, len([]rune(text)), p.opts.MaxTextChars)
	}
	words := reel.SplitWords(text)
	if len(words) == 0 {
		return nil, reel.Errorf(reel.KindInput, "text has no words")
	}

	t := newTicket(uuid.NewString(), text, len(words), p.now())

	// Record before queueing so a worker never updates a row that does not
	// exist yet.
	if p.opts.Recorder != nil {
		ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
		err := p.opts.Recorder.InsertVideoJob(ctx, &database.VideoJob{
			ID:         t.ID,
			Status:     database.StatusQueued,
			Text:       t.Text,
			WordCount:  t.WordCount,
			TTSBackend: p.opts.TTSBackend,
			CreatedAt:  t.CreatedAt,
		})
		cancel()
		if err != nil {
			p.log.Warn().Err(err).Str("job_id", t.ID).Msg("failed to record job")
		}
	}

	if err := p.enqueue(t); err != nil {
		t.finish(p.now(), nil, err)
		p.record(t)
		return nil, err
	}
	return t, nil
}

func (p *Pool) enqueue(t *Ticket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- t:
		p.tickets[t.ID] = t
		return nil
	default:
		return ErrQueueFull
	}
}

// Get returns a live or recently finished ticket.
func (p *Pool) Get(id string) (*Ticket, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tickets[id]
	return t, ok
}

// Stats returns current queue statistics.
func (p *Pool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(p.jobs),
		Running:   int(p.running.Load()),
		Workers:   p.opts.Workers,
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Pending returns the number of queued jobs.
func (p *Pool) Pending() int { return len(p.jobs) }

// Running returns the number of jobs being assembled.
func (p *Pool) Running() int { return int(p.running.Load()) }

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.opts.Workers }

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for t := range p.jobs {
		p.running.Add(1)
		res, err := p.process(log, t)
		p.running.Add(-1)

		t.finish(p.now(), res, err)
		p.record(t)

		if err != nil {
			p.failed.Add(1)
			metrics.VideosTotal.WithLabelValues(errorKind(err)).Inc()
			log.Warn().Err(err).Str("job_id", t.ID).Int("words", t.WordCount).Msg("video job failed")
		} else {
			p.completed.Add(1)
			metrics.VideosTotal.WithLabelValues("ok").Inc()
		}
	}
}

func (p *Pool) process(log zerolog.Logger, t *Ticket) (*Result, error) {
	start := p.now()
	t.markRunning(start)
	if p.opts.Recorder != nil {
		ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
		if err := p.opts.Recorder.MarkVideoJobStarted(ctx, t.ID, start); err != nil {
			log.Warn().Err(err).Str("job_id", t.ID).Msg("failed to record job start")
		}
		cancel()
	}

	ctx := p.ctx
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	// Output path is unique per job so concurrent runs never collide.
	outPath := filepath.Join(tempDir(p.opts.TempDir), "wordreel-"+t.ID+".mp4")
	defer os.Remove(outPath)

	out, err := p.opts.Assembler.Assemble(ctx, t.Text, outPath)
	if err != nil {
		return nil, err
	}

	metrics.StageDuration.WithLabelValues("synthesis").Observe(out.Timings.Synthesis.Seconds())
	metrics.StageDuration.WithLabelValues("render").Observe(out.Timings.Render.Seconds())
	metrics.StageDuration.WithLabelValues("encode").Observe(out.Timings.Encode.Seconds())
	metrics.FramesRenderedTotal.Add(float64(out.FrameCount))

	data, err := os.ReadFile(out.Path)
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	key := storage.VideoKey(t.ID, t.CreatedAt)
	if err := p.opts.Store.Save(ctx, key, data, "video/mp4"); err != nil {
		return nil, fmt.Errorf("store video: %w", err)
	}

	log.Info().
		Str("job_id", t.ID).
		Int("words", t.WordCount).
		Float64("duration", out.Duration).
		Int("bytes", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("video job complete")

	return &Result{
		Key:             key,
		ContentType:     "video/mp4",
		Width:           out.Width,
		Height:          out.Height,
		FrameRate:       out.FrameRate,
		FrameCount:      out.FrameCount,
		SpeechSeconds:   out.SpeechDuration,
		DurationSeconds: out.Duration,
		Timings:         out.Timings,
	}, nil
}

func (p *Pool) record(t *Ticket) {
	if p.opts.Recorder == nil {
		return
	}
	j := t.Info()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.opts.Recorder.FinishVideoJob(ctx, &j); err != nil {
		p.log.Warn().Err(err).Str("job_id", t.ID).Msg("failed to record job result")
	}
}

func (p *Pool) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stopSweep:
			return
		}
	}
}

// sweep forgets finished tickets older than the retention window.
func (p *Pool) sweep() int {
	cutoff := p.now().Add(-p.opts.Retention)
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for id, t := range p.tickets {
		if t.finishedBefore(cutoff) {
			delete(p.tickets, id)
			removed++
		}
	}
	return removed
}

func tempDir(dir string) string {
	if dir == "" {
		return os.TempDir()
	}
	return dir
}

// errorKind labels an error for metrics and job records.
func errorKind(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if k := reel.KindOf(err); k != reel.KindUnknown {
		return k.String()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrStopped):
		return "rejected"
	default:
		return "internal"
	}
}
