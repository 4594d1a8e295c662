package database

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply.
// Each must be idempotent (use IF NOT EXISTS, IF EXISTS, etc.).
var migrations = []migration{
	{
		name: "create video_jobs",
		sql: `CREATE TABLE IF NOT EXISTS video_jobs (
			id               text PRIMARY KEY,
			status           text NOT NULL,
			text             text NOT NULL,
			word_count       int NOT NULL DEFAULT 0,
			video_key        text,
			width            int,
			height           int,
			frame_rate       int,
			speech_seconds   double precision,
			duration_seconds double precision,
			synth_ms         int,
			render_ms        int,
			encode_ms        int,
			error_kind       text,
			error            text,
			created_at       timestamptz NOT NULL DEFAULT now(),
			started_at       timestamptz,
			finished_at      timestamptz
		)`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'video_jobs')`,
	},
	{
		name:  "add video_jobs created_at index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_video_jobs_created ON video_jobs (created_at DESC)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_video_jobs_created')`,
	},
	{
		name:  "add video_jobs.tts_backend",
		sql:   `ALTER TABLE video_jobs ADD COLUMN IF NOT EXISTS tts_backend text`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'video_jobs' AND column_name = 'tts_backend')`,
	},
}

// Migrate runs all pending schema migrations.
// For each migration, it first checks whether the change is already present.
// If not, it attempts to apply it. A failed apply is returned as a
// *MigrationError; the caller should treat it as fatal since job recording
// depends on the table existing.
func (db *DB) Migrate(ctx context.Context) error {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := db.Pool.QueryRow(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		return nil
	}

	applied := 0
	for _, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{
				failed:  m,
				pending: pending[applied:],
				err:     err,
			}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	db.log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

// MigrationError is returned when a migration fails.
// It includes the SQL needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as a database superuser to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart wordreel.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
