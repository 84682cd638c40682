package jobs

import (
	"context"
	"net/http"
	"time"

	"github.com/reglens/reglens/internal/crawler"
	"github.com/reglens/reglens/internal/db"
	"github.com/reglens/reglens/internal/versions"
)

// RobotsPolicy gates fetches by origin politeness rules.
// *crawler.RobotsPolicyCache is the production implementation.
type RobotsPolicy interface {
	IsAllowed(ctx context.Context, rawURL string) bool
	CrawlDelay(rawURL string) time.Duration
	Sitemaps(ctx context.Context, rawURL string) []string
}

// SourceRegistry supplies per-source configuration. Implemented by *db.DB.
type SourceRegistry interface {
	GetSource(ctx context.Context, id string) (*db.Source, error)
}

// DocumentStore persists crawl output and job state. Implemented by *db.DB.
type DocumentStore interface {
	InsertDocument(ctx context.Context, doc *db.Document) (bool, error)
	CreateJob(ctx context.Context, jobID, sourceID string) error
	MarkJobRunning(ctx context.Context, jobID string) error
	FlushJobCounters(ctx context.Context, jobID string, counters db.JobCounters) error
	UpdateJobStatus(ctx context.Context, jobID, status string, counters db.JobCounters, errorMessage string) error
}

// ChangeProcessor runs version tracking for sources that opt in.
// Implemented by *versions.Store.
type ChangeProcessor interface {
	ProcessDocument(ctx context.Context, sourceID, url string, doc *versions.DocumentFields) (*versions.ChangeResult, error)
}

// FetcherFactory builds the two fetch strategies. The scheduler picks one
// per job from the seed probe result.
type FetcherFactory interface {
	Direct() crawler.Fetcher
	Browser() (crawler.Fetcher, error)
}

// DefaultFetcherFactory builds production fetchers from the merged config.
// Transport, when set, replaces the default HTTP transport for direct
// fetches; the browser strategy drives its own connection.
type DefaultFetcherFactory struct {
	Config    *crawler.Config
	Transport http.RoundTripper
}

func (f *DefaultFetcherFactory) Direct() crawler.Fetcher {
	return crawler.NewDirectFetcher(f.Config, f.Transport)
}

func (f *DefaultFetcherFactory) Browser() (crawler.Fetcher, error) {
	return crawler.NewBrowserFetcher(f.Config)
}
