package jobs

import (
	"time"

	"github.com/reglens/reglens/internal/db"
)

// JobStatus represents the current status of a crawl job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// pageOutcome is the per-page accounting value returned by the pipeline.
// Per-page failures are outcomes, not errors; only conditions that abort
// the whole traversal propagate as errors.
type pageOutcome int

const (
	outcomeNew pageOutcome = iota
	outcomeDuplicate
	outcomeListing
	outcomeFailed
	outcomeSkipped
)

func (o pageOutcome) String() string {
	switch o {
	case outcomeNew:
		return "new"
	case outcomeDuplicate:
		return "duplicate"
	case outcomeListing:
		return "listing"
	case outcomeFailed:
		return "failed"
	case outcomeSkipped:
		return "skipped"
	}
	return "unknown"
}

// frontierEntry is one discovered-but-not-yet-fetched URL. Transient,
// lives only in the scheduler's in-memory frontier for one job.
type frontierEntry struct {
	url      string
	depth    int
	referrer string
}

// CrawlResult is what a finished job reports back to the caller.
type CrawlResult struct {
	JobID       string
	SourceID    string
	Status      JobStatus
	Counters    db.JobCounters
	UsedBrowser bool
	Duration    time.Duration
	Error       string
}
