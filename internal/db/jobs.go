package db

import (
	"context"
	"fmt"
	"time"
)

// JobCounters are the per-job page accounting fields, mutated in memory by
// the scheduler and flushed here.
type JobCounters struct {
	Crawled int
	New     int
	Failed  int
	Skipped int
}

// CreateJob inserts a crawl job row in pending state.
func (d *DB) CreateJob(ctx context.Context, jobID, sourceID string) error {
	_, err := d.client.ExecContext(ctx, `
		INSERT INTO crawl_jobs (id, source_id, status, created_at)
		VALUES ($1, $2, 'pending', $3)
	`, jobID, sourceID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", jobID, err)
	}
	return nil
}

// MarkJobRunning transitions a job to running, keeping the original
// started_at on retry.
func (d *DB) MarkJobRunning(ctx context.Context, jobID string) error {
	_, err := d.client.ExecContext(ctx, `
		UPDATE crawl_jobs
		SET status = 'running', started_at = COALESCE(started_at, $2)
		WHERE id = $1
	`, jobID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark job %s running: %w", jobID, err)
	}
	return nil
}

// FlushJobCounters writes the current page counters without touching
// status. Called periodically so operators see progress mid-crawl.
func (d *DB) FlushJobCounters(ctx context.Context, jobID string, counters JobCounters) error {
	_, err := d.client.ExecContext(ctx, `
		UPDATE crawl_jobs
		SET pages_crawled = $2, pages_new = $3, pages_failed = $4, pages_skipped = $5
		WHERE id = $1
	`, jobID, counters.Crawled, counters.New, counters.Failed, counters.Skipped)
	if err != nil {
		return fmt.Errorf("failed to flush counters for job %s: %w", jobID, err)
	}
	return nil
}

// UpdateJobStatus writes the terminal (or current) status with final
// counters and the error message, if any. Idempotent under retry: re-running
// the same update leaves the row unchanged, and completed_at keeps its first
// value.
func (d *DB) UpdateJobStatus(ctx context.Context, jobID, status string, counters JobCounters, errorMessage string) error {
	var completedAt any
	if status == "completed" || status == "failed" {
		completedAt = time.Now().UTC()
	}

	_, err := d.client.ExecContext(ctx, `
		UPDATE crawl_jobs
		SET status = $2,
		    pages_crawled = $3, pages_new = $4, pages_failed = $5, pages_skipped = $6,
		    error_message = $7,
		    completed_at = COALESCE(completed_at, $8)
		WHERE id = $1
	`, jobID, status, counters.Crawled, counters.New, counters.Failed, counters.Skipped,
		nullable(errorMessage), completedAt)
	if err != nil {
		return fmt.Errorf("failed to update status for job %s: %w", jobID, err)
	}
	return nil
}
