package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// existenceChecker reports whether a key is present in a backup store.
type existenceChecker interface {
	Exists(ctx context.Context, key string) bool
}

// Pruner evicts old videos from the local video directory by age and/or
// total size. When a backup store is set, a file is only deleted once it is
// confirmed to exist there.
type Pruner struct {
	dir       string
	retention time.Duration
	maxBytes  int64
	interval  time.Duration
	backup    existenceChecker
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

// PruneResult summarizes one prune pass.
type PruneResult struct {
	Pruned         int
	FreedBytes     int64
	RemainingBytes int64
	SkippedNoCopy  int
}

// NewPruner creates a pruner. backup may be nil for local-only storage.
func NewPruner(dir string, retention time.Duration, maxGB int, backup existenceChecker, log zerolog.Logger) *Pruner {
	return &Pruner{
		dir:       dir,
		retention: retention,
		maxBytes:  int64(maxGB) * 1024 * 1024 * 1024,
		interval:  15 * time.Minute,
		backup:    backup,
		log:       log.With().Str("component", "video-pruner").Logger(),
		stop:      make(chan struct{}),
	}
}

func (p *Pruner) Start() {
	go p.loop()
}

func (p *Pruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Pruner) loop() {
	// Run once on startup to clear any backlog from downtime
	p.Prune(time.Now())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			p.Prune(now)
		case <-p.stop:
			return
		}
	}
}

// Prune runs one eviction pass relative to now.
func (p *Pruner) Prune(now time.Time) PruneResult {
	var res PruneResult
	if p.retention == 0 && p.maxBytes == 0 {
		return res
	}

	cutoff := now.Add(-p.retention)
	var totalSize int64

	type fileEntry struct {
		path    string
		key     string
		modTime time.Time
		size    int64
	}
	var files []fileEntry

	filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		// in-flight atomic writes
		if strings.HasPrefix(d.Name(), ".video-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(p.dir, path)
		if relErr != nil {
			return nil
		}
		files = append(files, fileEntry{
			path:    path,
			key:     filepath.ToSlash(rel),
			modTime: info.ModTime(),
			size:    info.Size(),
		})
		totalSize += info.Size()
		return nil
	})

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	for _, f := range files {
		shouldPrune := false
		if p.retention > 0 && f.modTime.Before(cutoff) {
			shouldPrune = true
		}
		if p.maxBytes > 0 && totalSize > p.maxBytes {
			shouldPrune = true
		}
		if !shouldPrune {
			continue
		}

		if p.backup != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok := p.backup.Exists(ctx, f.key)
			cancel()
			if !ok {
				res.SkippedNoCopy++
				p.log.Warn().Str("key", f.key).Msg("skipping prune: video not in S3")
				continue
			}
		}
		if err := os.Remove(f.path); err == nil {
			res.Pruned++
			res.FreedBytes += f.size
			totalSize -= f.size
		}
	}

	p.removeEmptyDirs()
	res.RemainingBytes = totalSize

	if res.Pruned > 0 || res.SkippedNoCopy > 0 {
		p.log.Info().
			Int("pruned", res.Pruned).
			Str("freed", humanizeBytes(res.FreedBytes)).
			Str("remaining", humanizeBytes(res.RemainingBytes)).
			Int("skipped_not_in_s3", res.SkippedNoCopy).
			Msg("video prune complete")
	}
	return res
}

func (p *Pruner) removeEmptyDirs() {
	entries, _ := os.ReadDir(p.dir)
	for _, dateDir := range entries {
		if !dateDir.IsDir() {
			continue
		}
		datePath := filepath.Join(p.dir, dateDir.Name())
		remaining, _ := os.ReadDir(datePath)
		if len(remaining) == 0 {
			os.Remove(datePath)
		}
	}
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
