package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/snarg/wordreel/internal/database"
	"github.com/snarg/wordreel/internal/reel"
)

// Result is a finished video.
type Result struct {
	Key             string // storage key
	ContentType     string
	Width           int
	Height          int
	FrameRate       int
	FrameCount      int
	SpeechSeconds   float64
	DurationSeconds float64
	Timings         reel.StageTimings
}

// Ticket tracks one queued video job. It is the handle the request layer
// holds while the pool works.
type Ticket struct {
	ID        string
	Text      string
	WordCount int
	CreatedAt time.Time

	done chan struct{}

	mu         sync.Mutex
	status     string
	startedAt  time.Time
	finishedAt time.Time
	result     *Result
	err        error
}

func newTicket(id, text string, words int, now time.Time) *Ticket {
	return &Ticket{
		ID:        id,
		Text:      text,
		WordCount: words,
		CreatedAt: now,
		done:      make(chan struct{}),
		status:    database.StatusQueued,
	}
}

// Done is closed when the job has finished, successfully or not.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the job finishes or ctx ends. A ctx error does not
// cancel the job.
func (t *Ticket) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Ticket) markRunning(now time.Time) {
	t.mu.Lock()
	t.status = database.StatusRunning
	t.startedAt = now
	t.mu.Unlock()
}

func (t *Ticket) finish(now time.Time, res *Result, err error) {
	t.mu.Lock()
	if err != nil {
		t.status = database.StatusFailed
	} else {
		t.status = database.StatusDone
	}
	t.finishedAt = now
	t.result = res
	t.err = err
	t.mu.Unlock()
	close(t.done)
}

// finishedBefore reports whether the ticket finished before cutoff.
func (t *Ticket) finishedBefore(cutoff time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.finishedAt.IsZero() && t.finishedAt.Before(cutoff)
}

// Info is a point-in-time view of a ticket, shaped like the recorded row.
func (t *Ticket) Info() database.VideoJob {
	t.mu.Lock()
	defer t.mu.Unlock()

	j := database.VideoJob{
		ID:        t.ID,
		Status:    t.status,
		Text:      t.Text,
		WordCount: t.WordCount,
		CreatedAt: t.CreatedAt,
	}
	if !t.startedAt.IsZero() {
		s := t.startedAt
		j.StartedAt = &s
	}
	if !t.finishedAt.IsZero() {
		f := t.finishedAt
		j.FinishedAt = &f
	}
	if t.result != nil {
		j.VideoKey = t.result.Key
		j.Width = t.result.Width
		j.Height = t.result.Height
		j.FrameRate = t.result.FrameRate
		j.SpeechSeconds = t.result.SpeechSeconds
		j.DurationSeconds = t.result.DurationSeconds
		j.SynthMs = int(t.result.Timings.Synthesis.Milliseconds())
		j.RenderMs = int(t.result.Timings.Render.Milliseconds())
		j.EncodeMs = int(t.result.Timings.Encode.Milliseconds())
	}
	if t.err != nil {
		j.ErrorKind = errorKind(t.err)
		j.Error = t.err.Error()
	}
	return j
}
