package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	pool, err := pgxpool.New(context.Background(), os.Getenv("DATABASE_URL"))
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	ctx := context.Background()

	if len(os.Args) > 1 && os.Args[1] == "failures" {
		showFailures(ctx, pool)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "stuck" {
		// Rows left running by a crashed process never finish on their own.
		dryRun := !(len(os.Args) > 2 && os.Args[2] == "apply")
		failStuckJobs(ctx, pool, dryRun)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "prune" {
		days := 30
		if len(os.Args) > 2 {
			if n, err := strconv.Atoi(os.Args[2]); err == nil && n > 0 {
				days = n
			}
		}
		cutoff := time.Now().AddDate(0, 0, -days)
		tag, err := pool.Exec(ctx, "DELETE FROM video_jobs WHERE finished_at < $1", cutoff)
		if err != nil {
			fmt.Fprintln(os.Stderr, "prune:", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted %d jobs finished before %s\n", tag.RowsAffected(), cutoff.Format(time.DateOnly))
		return
	}

	// Default: jobs per status
	fmt.Println("Status       Count   Avg duration")
	fmt.Println("─────────────────────────────────")
	rows, err := pool.Query(ctx, `
		SELECT status, count(*), COALESCE(avg(duration_seconds), 0)
		FROM video_jobs
		GROUP BY status
		ORDER BY status
	`)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		var avg float64
		rows.Scan(&status, &count, &avg)
		fmt.Printf("%-12s %-7d %.1fs\n", status, count, avg)
	}
}

func showFailures(ctx context.Context, pool *pgxpool.Pool) {
	fmt.Println("── Failures by kind (last 7 days) ──")
	rows, _ := pool.Query(ctx, `
		SELECT COALESCE(error_kind, 'unknown'), count(*)
		FROM video_jobs
		WHERE status = 'failed' AND created_at > now() - interval '7 days'
		GROUP BY 1
		ORDER BY 2 DESC
	`)
	for rows.Next() {
		var kind string
		var count int
		rows.Scan(&kind, &count)
		fmt.Printf("  %-18s %d\n", kind, count)
	}
	rows.Close()

	fmt.Println("\n── Most recent failures ──")
	rows, _ = pool.Query(ctx, `
		SELECT id, created_at, COALESCE(error_kind, ''), COALESCE(error, '')
		FROM video_jobs
		WHERE status = 'failed'
		ORDER BY created_at DESC
		LIMIT 10
	`)
	defer rows.Close()
	for rows.Next() {
		var id, kind, msg string
		var created time.Time
		rows.Scan(&id, &created, &kind, &msg)
		if len(msg) > 80 {
			msg = msg[:80] + "..."
		}
		fmt.Printf("  %s  %s  %-16s %s\n", id, created.Format(time.DateTime), kind, msg)
	}
}

func failStuckJobs(ctx context.Context, pool *pgxpool.Pool, dryRun bool) {
	const where = `status IN ('queued', 'running') AND created_at < now() - interval '1 hour'`

	var count int64
	pool.QueryRow(ctx, "SELECT count(*) FROM video_jobs WHERE "+where).Scan(&count)
	fmt.Printf("%d jobs queued or running for over an hour\n", count)
	if dryRun || count == 0 {
		if count > 0 {
			fmt.Println("Dry run. Pass 'apply' to mark them failed.")
		}
		return
	}

	tag, err := pool.Exec(ctx, `
		UPDATE video_jobs
		SET status = 'failed', error_kind = 'abandoned', error = 'process exited before the job finished',
		    finished_at = now()
		WHERE `+where)
	if err != nil {
		fmt.Fprintln(os.Stderr, "update:", err)
		os.Exit(1)
	}
	fmt.Printf("Marked %d jobs failed\n", tag.RowsAffected())
}
