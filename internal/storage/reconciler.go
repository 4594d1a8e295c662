package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// reconcileTarget is the store the reconciler uploads missing files to.
type reconcileTarget interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	Exists(ctx context.Context, key string) bool
}

// UploadReconciler scans the local video directory for files missing from
// S3 and re-uploads them. Handles dropped async uploads and crash recovery.
type UploadReconciler struct {
	dir      string
	remote   reconcileTarget
	interval time.Duration
	window   time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// ReconcileResult summarizes one reconcile pass.
type ReconcileResult struct {
	Checked  int
	Uploaded int
	Failed   int
}

// NewUploadReconciler creates a reconciler that checks for missing S3 uploads.
func NewUploadReconciler(dir string, remote reconcileTarget, log zerolog.Logger) *UploadReconciler {
	return &UploadReconciler{
		dir:      dir,
		remote:   remote,
		interval: 5 * time.Minute,
		window:   48 * time.Hour,
		log:      log.With().Str("component", "upload-reconciler").Logger(),
		stop:     make(chan struct{}),
	}
}

func (r *UploadReconciler) Start() { go r.loop() }
func (r *UploadReconciler) Stop()  { r.stopOnce.Do(func() { close(r.stop) }) }

func (r *UploadReconciler) loop() {
	// Delay first run to let startup uploads settle
	select {
	case <-time.After(2 * time.Minute):
	case <-r.stop:
		return
	}

	r.Reconcile(time.Now())
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			r.Reconcile(now)
		case <-r.stop:
			return
		}
	}
}

// Reconcile uploads local videos from date directories inside the window
// that the remote store does not have.
func (r *UploadReconciler) Reconcile(now time.Time) ReconcileResult {
	var res ReconcileResult
	cutoff := now.Add(-r.window)

	dateDirs, _ := os.ReadDir(r.dir)
	for _, dateDir := range dateDirs {
		if !dateDir.IsDir() {
			continue
		}
		dirDate, err := time.Parse("2006-01-02", dateDir.Name())
		if err == nil && dirDate.Before(cutoff.Truncate(24*time.Hour)) {
			continue
		}

		datePath := filepath.Join(r.dir, dateDir.Name())
		files, _ := os.ReadDir(datePath)
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			if strings.HasPrefix(f.Name(), ".video-") && strings.HasSuffix(f.Name(), ".tmp") {
				continue
			}
			res.Checked++
			key := dateDir.Name() + "/" + f.Name()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			exists := r.remote.Exists(ctx, key)
			cancel()
			if exists {
				continue
			}

			data, readErr := os.ReadFile(filepath.Join(datePath, f.Name()))
			if readErr != nil {
				continue
			}

			ct := ContentTypeFromExt(filepath.Ext(f.Name()))
			ctx, cancel = context.WithTimeout(context.Background(), 2*time.Minute)
			if saveErr := r.remote.Save(ctx, key, data, ct); saveErr != nil {
				r.log.Warn().Err(saveErr).Str("key", key).Msg("reconcile upload failed")
				res.Failed++
			} else {
				res.Uploaded++
			}
			cancel()
		}
	}

	if res.Uploaded > 0 || res.Failed > 0 {
		r.log.Info().
			Int("uploaded", res.Uploaded).
			Int("failed", res.Failed).
			Int("checked", res.Checked).
			Msg("reconcile complete")
	}
	return res
}
