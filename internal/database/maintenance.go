package database

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// historyPruner is the part of *DB the maintenance loop needs.
type historyPruner interface {
	PruneVideoJobs(ctx context.Context, cutoff time.Time) (int64, error)
}

// Maintenance periodically deletes job history older than the retention
// window. It satisfies storage.BackgroundService.
type Maintenance struct {
	db        historyPruner
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

// NewMaintenance creates the history retention loop. A zero retention keeps
// history forever; Start is then a no-op.
func NewMaintenance(db historyPruner, retention time.Duration, log zerolog.Logger) *Maintenance {
	return &Maintenance{
		db:        db,
		retention: retention,
		interval:  time.Hour,
		log:       log.With().Str("component", "maintenance").Logger(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (m *Maintenance) Start() {
	if m.retention <= 0 {
		close(m.done)
		return
	}
	go m.loop()
}

// Stop ends the loop and waits for an in-flight prune to return.
func (m *Maintenance) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Maintenance) loop() {
	defer close(m.done)
	m.RunOnce(time.Now())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.RunOnce(now)
		}
	}
}

// RunOnce prunes history finished before now minus the retention window.
func (m *Maintenance) RunOnce(now time.Time) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := m.db.PruneVideoJobs(ctx, now.Add(-m.retention))
	if err != nil {
		m.log.Warn().Err(err).Msg("history prune failed")
		return 0
	}
	if n > 0 {
		m.log.Info().Int64("deleted", n).Dur("retention", m.retention).Msg("pruned job history")
	}
	return n
}
