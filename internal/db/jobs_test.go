package db

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLifecycleWrites(t *testing.T) {
	database, mock := newMockDB(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO crawl_jobs`).
		WithArgs("job-1", "src-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, database.CreateJob(ctx, "job-1", "src-1"))

	mock.ExpectExec(`UPDATE crawl_jobs\s+SET status = 'running'`).
		WithArgs("job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, database.MarkJobRunning(ctx, "job-1"))

	mock.ExpectExec(`UPDATE crawl_jobs\s+SET pages_crawled`).
		WithArgs("job-1", 5, 3, 1, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, database.FlushJobCounters(ctx, "job-1", JobCounters{Crawled: 5, New: 3, Failed: 1, Skipped: 1}))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusCompleted(t *testing.T) {
	database, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE crawl_jobs`).
		WithArgs("job-1", "completed", 10, 9, 0, 1, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := database.UpdateJobStatus(context.Background(), "job-1", "completed",
		JobCounters{Crawled: 10, New: 9, Skipped: 1}, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusFailedRecordsError(t *testing.T) {
	database, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE crawl_jobs`).
		WithArgs("job-2", "failed", 3, 1, 2, 0, "database unavailable", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := database.UpdateJobStatus(context.Background(), "job-2", "failed",
		JobCounters{Crawled: 3, New: 1, Failed: 2}, "database unavailable")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
