package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/wordreel/internal/config"
)

// VideoStore abstracts storage backends for finished videos.
type VideoStore interface {
	// Save stores a video. key format: {YYYY-MM-DD}/{job_id}.mp4
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// LocalPath returns the local filesystem path if the file exists on disk.
	// Returns "" if not available locally.
	LocalPath(key string) string

	// URL returns a presigned download URL.
	// Returns "" for local-only backends.
	URL(ctx context.Context, key string) (string, error)

	// Open returns a reader for the video.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if a video exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// Options configures New.
type Options struct {
	S3        config.S3Config
	VideoDir  string
	Retention time.Duration // local files older than this are pruned; 0 = keep
	MaxGB     int           // local directory size cap; 0 = unlimited
}

// VideoKey returns the storage key for a job's video.
func VideoKey(jobID string, created time.Time) string {
	return created.UTC().Format("2006-01-02") + "/" + jobID + ".mp4"
}

// New creates a VideoStore based on config. Returns the store and optional
// background services (pruner, uploader, reconciler) that the caller must
// Start/Stop. Returns an error if S3 is configured but unreachable.
func New(opts Options, log zerolog.Logger) (VideoStore, []BackgroundService, error) {
	if !opts.S3.Enabled() {
		local := NewLocalStore(opts.VideoDir)
		var services []BackgroundService
		if opts.Retention > 0 || opts.MaxGB > 0 {
			services = append(services, NewPruner(opts.VideoDir, opts.Retention, opts.MaxGB, nil, log))
		}
		return local, services, nil
	}

	s3store, err := NewS3Store(opts.S3, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			opts.S3.Bucket, opts.S3.Endpoint, err)
	}
	log.Info().Str("bucket", opts.S3.Bucket).Str("endpoint", opts.S3.Endpoint).Msg("S3 connection verified")

	if !opts.S3.LocalCache {
		return s3store, nil, nil
	}

	// Tiered mode: local primary + async S3 backup
	local := NewLocalStore(opts.VideoDir)
	uploader := NewAsyncUploader(s3store, 64, opts.S3.UploadWorkers, log)
	tiered := NewTieredStore(s3store, local, uploader, log)

	services := []BackgroundService{uploader}
	if opts.Retention > 0 || opts.MaxGB > 0 {
		services = append(services, NewPruner(opts.VideoDir, opts.Retention, opts.MaxGB, s3store, log))
	}
	services = append(services, NewUploadReconciler(opts.VideoDir, s3store, log))

	return tiered, services, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}

// ContentTypeFromExt returns the MIME type for a video file extension.
func ContentTypeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	default:
		return "application/octet-stream"
	}
}
