package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reglens/reglens/internal/crawler"
	"github.com/reglens/reglens/internal/db"
	"github.com/reglens/reglens/internal/versions"
)

// fakeStore is an in-memory DocumentStore for scheduler tests.
type fakeStore struct {
	mu            sync.Mutex
	docs          map[string]*db.Document // keyed by fingerprint
	statusWrites  []string
	flushes       int
	finalCounters db.JobCounters
	finalError    string

	failFlush bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]*db.Document)}
}

func (f *fakeStore) InsertDocument(_ context.Context, doc *db.Document) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.docs[doc.Fingerprint]; exists {
		return false, nil
	}
	f.docs[doc.Fingerprint] = doc
	return true, nil
}

func (f *fakeStore) CreateJob(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusWrites = append(f.statusWrites, "pending")
	return nil
}

func (f *fakeStore) MarkJobRunning(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusWrites = append(f.statusWrites, "running")
	return nil
}

func (f *fakeStore) FlushJobCounters(_ context.Context, _ string, _ db.JobCounters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFlush {
		return fmt.Errorf("database unavailable")
	}
	f.flushes++
	return nil
}

func (f *fakeStore) UpdateJobStatus(_ context.Context, _, status string, counters db.JobCounters, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusWrites = append(f.statusWrites, status)
	f.finalCounters = counters
	f.finalError = errorMessage
	return nil
}

func (f *fakeStore) documentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

func (f *fakeStore) lastStatus() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statusWrites) == 0 {
		return ""
	}
	return f.statusWrites[len(f.statusWrites)-1]
}

// fakeRegistry serves one source.
type fakeRegistry struct {
	source *db.Source
}

func (f *fakeRegistry) GetSource(_ context.Context, id string) (*db.Source, error) {
	if f.source == nil || f.source.ID != id {
		return nil, fmt.Errorf("source %s not found", id)
	}
	return f.source, nil
}

// allowAllRobots permits everything with no crawl delay.
type allowAllRobots struct{}

func (allowAllRobots) IsAllowed(context.Context, string) bool    { return true }
func (allowAllRobots) CrawlDelay(string) time.Duration           { return 0 }
func (allowAllRobots) Sitemaps(context.Context, string) []string { return nil }

// denyListRobots blocks specific URLs.
type denyListRobots struct {
	blocked map[string]bool
}

func (d *denyListRobots) IsAllowed(_ context.Context, rawURL string) bool {
	return !d.blocked[rawURL]
}
func (d *denyListRobots) CrawlDelay(string) time.Duration           { return 0 }
func (d *denyListRobots) Sitemaps(context.Context, string) []string { return nil }

// recordingChanges counts ProcessDocument calls.
type recordingChanges struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingChanges) ProcessDocument(_ context.Context, _, url string, _ *versions.DocumentFields) (*versions.ChangeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, url)
	return &versions.ChangeResult{IsNew: true, ChangeType: versions.ChangeTypeNew}, nil
}

// scriptedFetcher serves canned HTML by URL and records every fetch and
// close. Unknown URLs and entries in fail return errors.
type scriptedFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	fail    map[string]bool
	fetched []string
	closes  int
}

func newScriptedFetcher(pages map[string]string) *scriptedFetcher {
	return &scriptedFetcher{pages: pages, fail: make(map[string]bool)}
}

func (f *scriptedFetcher) Fetch(_ context.Context, targetURL string) (*crawler.FetchedPage, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, targetURL)
	f.mu.Unlock()

	if f.fail[targetURL] {
		return nil, fmt.Errorf("fetch %s: connection reset", targetURL)
	}
	html, ok := f.pages[targetURL]
	if !ok {
		return nil, fmt.Errorf("fetch %s: not found", targetURL)
	}
	return &crawler.FetchedPage{URL: targetURL, FinalURL: targetURL, HTML: html, StatusCode: 200}, nil
}

func (f *scriptedFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *scriptedFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

// scriptedFactory hands out pre-built strategies and records which were
// requested.
type scriptedFactory struct {
	direct       *scriptedFetcher
	browser      *scriptedFetcher
	browserErr   error
	browserBuilt bool
}

func (f *scriptedFactory) Direct() crawler.Fetcher { return f.direct }

func (f *scriptedFactory) Browser() (crawler.Fetcher, error) {
	if f.browserErr != nil {
		return nil, f.browserErr
	}
	f.browserBuilt = true
	return f.browser, nil
}
