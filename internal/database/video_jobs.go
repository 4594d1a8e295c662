package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a job id has no row.
var ErrNotFound = errors.New("not found")

// Job statuses.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// VideoJob is a recorded video generation request.
type VideoJob struct {
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	Text            string     `json:"text"`
	WordCount       int        `json:"word_count"`
	TTSBackend      string     `json:"tts_backend,omitempty"`
	VideoKey        string     `json:"video_key,omitempty"`
	Width           int        `json:"width,omitempty"`
	Height          int        `json:"height,omitempty"`
	FrameRate       int        `json:"frame_rate,omitempty"`
	SpeechSeconds   float64    `json:"speech_seconds,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	SynthMs         int        `json:"synth_ms,omitempty"`
	RenderMs        int        `json:"render_ms,omitempty"`
	EncodeMs        int        `json:"encode_ms,omitempty"`
	ErrorKind       string     `json:"error_kind,omitempty"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

const videoJobColumns = `
	id, status, text, word_count, COALESCE(tts_backend, ''), COALESCE(video_key, ''),
	COALESCE(width, 0), COALESCE(height, 0), COALESCE(frame_rate, 0),
	COALESCE(speech_seconds, 0), COALESCE(duration_seconds, 0),
	COALESCE(synth_ms, 0), COALESCE(render_ms, 0), COALESCE(encode_ms, 0),
	COALESCE(error_kind, ''), COALESCE(error, ''),
	created_at, started_at, finished_at`

func scanVideoJob(row pgx.Row) (*VideoJob, error) {
	var j VideoJob
	err := row.Scan(
		&j.ID, &j.Status, &j.Text, &j.WordCount, &j.TTSBackend, &j.VideoKey,
		&j.Width, &j.Height, &j.FrameRate,
		&j.SpeechSeconds, &j.DurationSeconds,
		&j.SynthMs, &j.RenderMs, &j.EncodeMs,
		&j.ErrorKind, &j.Error,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// InsertVideoJob records a newly queued job.
func (db *DB) InsertVideoJob(ctx context.Context, j *VideoJob) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO video_jobs (id, status, text, word_count, tts_backend, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, j.ID, j.Status, j.Text, j.WordCount, pqString(j.TTSBackend), j.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert video job: %w", err)
	}
	return nil
}

// MarkVideoJobStarted moves a job to running.
func (db *DB) MarkVideoJobStarted(ctx context.Context, id string, at time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE video_jobs SET status = $2, started_at = $3 WHERE id = $1
	`, id, StatusRunning, at)
	if err != nil {
		return fmt.Errorf("mark video job started: %w", err)
	}
	return nil
}

// FinishVideoJob stores the outcome of a job.
func (db *DB) FinishVideoJob(ctx context.Context, j *VideoJob) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE video_jobs SET
			status = $2,
			video_key = $3,
			width = $4, height = $5, frame_rate = $6,
			speech_seconds = $7, duration_seconds = $8,
			synth_ms = $9, render_ms = $10, encode_ms = $11,
			error_kind = $12, error = $13,
			finished_at = $14
		WHERE id = $1
	`,
		j.ID, j.Status, pqString(j.VideoKey),
		j.Width, j.Height, j.FrameRate,
		j.SpeechSeconds, j.DurationSeconds,
		j.SynthMs, j.RenderMs, j.EncodeMs,
		pqString(j.ErrorKind), pqString(j.Error),
		j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("finish video job: %w", err)
	}
	return nil
}

// GetVideoJob returns a job by id, or ErrNotFound.
func (db *DB) GetVideoJob(ctx context.Context, id string) (*VideoJob, error) {
	j, err := scanVideoJob(db.Pool.QueryRow(ctx, `SELECT `+videoJobColumns+` FROM video_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// ListVideoJobs returns the most recent jobs, newest first, plus the total count.
func (db *DB) ListVideoJobs(ctx context.Context, status string, limit, offset int) ([]VideoJob, int, error) {
	var total int
	if err := db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM video_jobs WHERE ($1::text IS NULL OR status = $1)
	`, pqString(status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count video jobs: %w", err)
	}

	rows, err := db.Pool.Query(ctx, `SELECT `+videoJobColumns+`
		FROM video_jobs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, pqString(status), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list video jobs: %w", err)
	}
	defer rows.Close()

	result := []VideoJob{}
	for rows.Next() {
		j, err := scanVideoJob(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *j)
	}
	return result, total, rows.Err()
}

// PruneVideoJobs deletes finished jobs older than cutoff.
func (db *DB) PruneVideoJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM video_jobs WHERE finished_at IS NOT NULL AND finished_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune video jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
