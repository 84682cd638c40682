package jobs

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/reglens/reglens/internal/crawler"
	"github.com/reglens/reglens/internal/db"
	"github.com/reglens/reglens/internal/observability"
	"github.com/reglens/reglens/internal/techdetect"
	"github.com/reglens/reglens/internal/util"
	"github.com/reglens/reglens/internal/versions"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// maxPolitenessDelay caps how far a robots.txt crawl-delay can stretch the
// per-request spacing. Some sites declare absurd values.
const maxPolitenessDelay = 10 * time.Second

// CrawlScheduler runs bounded breadth-first crawls of one source per job.
// It owns the frontier, the visited set and the job's fetch strategy; the
// database pool is the only resource it shares with concurrent jobs.
type CrawlScheduler struct {
	store    DocumentStore
	sources  SourceRegistry
	robots   RobotsPolicy
	changes  ChangeProcessor
	detector *techdetect.Detector

	newFactory func(cfg *crawler.Config) FetcherFactory
}

// NewCrawlScheduler wires a scheduler. changes may be nil to disable
// version tracking process-wide; detector may be nil to skip CMS-aware
// content extraction.
func NewCrawlScheduler(store DocumentStore, sources SourceRegistry, robots RobotsPolicy, changes ChangeProcessor, detector *techdetect.Detector) *CrawlScheduler {
	return &CrawlScheduler{
		store:    store,
		sources:  sources,
		robots:   robots,
		changes:  changes,
		detector: detector,
		newFactory: func(cfg *crawler.Config) FetcherFactory {
			return &DefaultFetcherFactory{Config: cfg}
		},
	}
}

// WithFetcherFactory replaces strategy construction. Used by tests to
// observe strategy selection and substitute fakes.
func (s *CrawlScheduler) WithFetcherFactory(fn func(cfg *crawler.Config) FetcherFactory) *CrawlScheduler {
	s.newFactory = fn
	return s
}

// Run executes one crawl job for sourceID. Call-time overrides beat the
// source's stored overrides, which beat defaults. The returned result
// carries final counters even when the job failed; the error is non-nil
// only for failures that aborted the traversal.
func (s *CrawlScheduler) Run(ctx context.Context, sourceID string, overrides *crawler.SourceOverrides) (*CrawlResult, error) {
	started := time.Now()

	span := sentry.StartSpan(ctx, "scheduler.run_job")
	defer span.Finish()
	span.SetTag("source_id", sourceID)

	source, err := s.sources.GetSource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("load source: %w", err)
	}

	cfg := crawler.MergeConfig(source.Overrides, overrides)

	base, err := util.ValidateBaseURL(source.URL)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", sourceID, err)
	}

	jobID := uuid.New().String()
	span.SetTag("job_id", jobID)

	if err := s.store.CreateJob(ctx, jobID, sourceID); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	result := &CrawlResult{JobID: jobID, SourceID: sourceID}

	// Strategy is selected once per job from the seed probe and released
	// on every exit path, including failures below.
	fetcher, usedBrowser := s.selectStrategy(ctx, s.newFactory(cfg), base.String())
	defer func() {
		if cerr := fetcher.Close(); cerr != nil {
			log.Warn().Err(cerr).Str("job_id", jobID).Msg("Failed to close fetch strategy")
		}
	}()
	result.UsedBrowser = usedBrowser

	if err := s.store.MarkJobRunning(ctx, jobID); err != nil {
		return s.failJob(ctx, result, started, fmt.Errorf("mark job running: %w", err))
	}

	if sitemaps := s.robots.Sitemaps(ctx, base.String()); len(sitemaps) > 0 {
		// Logged for operators; the frontier is seeded from the base URL only
		log.Info().Str("job_id", jobID).Strs("sitemaps", sitemaps).Msg("Source declares sitemaps")
	}

	log.Info().
		Str("job_id", jobID).
		Str("source_id", sourceID).
		Str("base_url", base.String()).
		Int("max_depth", cfg.MaxDepth).
		Int("max_pages", cfg.MaxPages).
		Int("concurrency", cfg.Concurrency).
		Bool("browser", usedBrowser).
		Msg("Starting crawl")

	counters, err := s.traverse(ctx, jobID, source, cfg, base, fetcher, usedBrowser)
	result.Counters = counters
	if err != nil {
		return s.failJob(ctx, result, started, err)
	}

	if err := s.store.UpdateJobStatus(ctx, jobID, string(JobStatusCompleted), counters, ""); err != nil {
		return s.failJob(ctx, result, started, fmt.Errorf("write final job status: %w", err))
	}

	result.Status = JobStatusCompleted
	result.Duration = time.Since(started)

	log.Info().
		Str("job_id", jobID).
		Int("crawled", counters.Crawled).
		Int("new", counters.New).
		Int("failed", counters.Failed).
		Int("skipped", counters.Skipped).
		Dur("duration", result.Duration).
		Msg("Crawl completed")

	return result, nil
}

// failJob records a terminal failure. The status write is best-effort so
// operators still see partial progress counters.
func (s *CrawlScheduler) failJob(ctx context.Context, result *CrawlResult, started time.Time, cause error) (*CrawlResult, error) {
	sentry.CaptureException(cause)
	log.Error().Err(cause).Str("job_id", result.JobID).Msg("Crawl job failed")

	if err := s.store.UpdateJobStatus(ctx, result.JobID, string(JobStatusFailed), result.Counters, cause.Error()); err != nil {
		log.Error().Err(err).Str("job_id", result.JobID).Msg("Failed to record job failure")
	}

	result.Status = JobStatusFailed
	result.Error = cause.Error()
	result.Duration = time.Since(started)
	return result, cause
}

// selectStrategy probes the base URL with a direct fetch. A bot-challenge
// body switches the whole job to the browser strategy; if the browser
// cannot launch, the job continues direct rather than failing outright.
func (s *CrawlScheduler) selectStrategy(ctx context.Context, factory FetcherFactory, baseURL string) (crawler.Fetcher, bool) {
	direct := factory.Direct()

	probe, err := direct.Fetch(ctx, baseURL)
	if err != nil || !crawler.DetectChallenge(probe.HTML) {
		return direct, false
	}

	log.Info().Str("url", baseURL).Msg("Bot challenge detected on probe, switching job to browser strategy")

	browser, err := factory.Browser()
	if err != nil {
		sentry.CaptureException(err)
		log.Warn().Err(err).Msg("Browser strategy unavailable, continuing with direct fetches")
		return direct, false
	}

	_ = direct.Close()
	return browser, true
}

// crawlState is the per-job traversal state. The mutex covers everything;
// a URL is in at most one of visited or pending at any time, and visited
// is marked at drain time, before any I/O, so two in-flight workers never
// process the same URL.
type crawlState struct {
	mu       sync.Mutex
	frontier []frontierEntry
	visited  map[string]struct{}
	pending  map[string]struct{}
	counters db.JobCounters
	attempts int
}

func (st *crawlState) seen(rawURL string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.visited[rawURL]; ok {
		return true
	}
	_, ok := st.pending[rawURL]
	return ok
}

func (st *crawlState) enqueue(entries []frontierEntry) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, e := range entries {
		if _, ok := st.visited[e.url]; ok {
			continue
		}
		if _, ok := st.pending[e.url]; ok {
			continue
		}
		st.pending[e.url] = struct{}{}
		st.frontier = append(st.frontier, e)
	}
}

func (st *crawlState) record(outcome pageOutcome) {
	st.mu.Lock()
	defer st.mu.Unlock()
	switch outcome {
	case outcomeNew:
		st.counters.Crawled++
		st.counters.New++
	case outcomeDuplicate, outcomeListing:
		st.counters.Crawled++
	case outcomeFailed:
		st.counters.Failed++
	case outcomeSkipped:
		st.counters.Skipped++
	}
}

// traverse runs the breadth-first loop. Frontier entries present at the
// start of an iteration are dispatched together, so all depth-D pages are
// attempted before their depth-D+1 children, though completion order
// within a batch is unordered.
func (s *CrawlScheduler) traverse(ctx context.Context, jobID string, source *db.Source, cfg *crawler.Config, base *url.URL, fetcher crawler.Fetcher, usedBrowser bool) (db.JobCounters, error) {
	extractor := crawler.NewExtractor(s.detector)
	classifier := crawler.NewClassifier(cfg.ListingPatterns)
	linkFilter := crawler.NewLinkFilter(cfg)

	delay := cfg.PolitenessDelay
	if rd := s.robots.CrawlDelay(base.String()); rd > delay {
		delay = rd
		if delay > maxPolitenessDelay {
			delay = maxPolitenessDelay
		}
	}
	limiter := rate.NewLimiter(rate.Every(delay), 1)

	st := &crawlState{
		visited: make(map[string]struct{}),
		pending: make(map[string]struct{}),
	}

	seed := util.NormaliseURL(base.String())
	if seed == "" {
		return st.counters, fmt.Errorf("unusable base URL %q", base.String())
	}
	st.enqueue([]frontierEntry{{url: seed, depth: 0}})

	for {
		st.mu.Lock()
		if len(st.frontier) == 0 || st.attempts >= cfg.MaxPages {
			st.mu.Unlock()
			break
		}

		n := cfg.Concurrency
		if budget := cfg.MaxPages - st.attempts; n > budget {
			n = budget
		}
		if n > len(st.frontier) {
			n = len(st.frontier)
		}

		batch := make([]frontierEntry, 0, n)
		for i := 0; i < n; i++ {
			entry := st.frontier[0]
			st.frontier = st.frontier[1:]
			delete(st.pending, entry.url)

			if _, ok := st.visited[entry.url]; ok {
				st.counters.Skipped++
				continue
			}
			st.visited[entry.url] = struct{}{}
			st.attempts++
			batch = append(batch, entry)
		}
		st.mu.Unlock()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Concurrency)
		for _, entry := range batch {
			entry := entry
			g.Go(func() error {
				s.processPage(gctx, jobID, source, cfg, st, entry, fetcher, extractor, classifier, linkFilter, limiter, usedBrowser)
				return nil
			})
		}
		// Workers report through outcomes, never errors
		_ = g.Wait()

		st.mu.Lock()
		counters := st.counters
		st.mu.Unlock()
		if err := s.store.FlushJobCounters(ctx, jobID, counters); err != nil {
			return counters, fmt.Errorf("flush job counters: %w", err)
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.counters, nil
}

// processPage runs the per-page pipeline and records its outcome. Per-page
// failures are absorbed here; one unreachable page must never fail an
// otherwise-successful crawl.
func (s *CrawlScheduler) processPage(ctx context.Context, jobID string, source *db.Source, cfg *crawler.Config, st *crawlState, entry frontierEntry, fetcher crawler.Fetcher, extractor *crawler.Extractor, classifier *crawler.Classifier, linkFilter *crawler.LinkFilter, limiter *rate.Limiter, usedBrowser bool) {
	started := time.Now()

	ctx, pageSpan := observability.StartPageSpan(ctx, observability.PageSpanInfo{
		JobID:    jobID,
		SourceID: source.ID,
		URL:      entry.url,
		Depth:    entry.depth,
		Browser:  usedBrowser,
	})
	defer pageSpan.End()

	outcome := s.crawlOne(ctx, jobID, source, cfg, st, entry, fetcher, extractor, classifier, linkFilter, limiter)
	st.record(outcome)

	observability.RecordPageCrawl(ctx, observability.PageMetrics{
		JobID:    jobID,
		Outcome:  outcome.String(),
		Duration: time.Since(started),
	})
}

func (s *CrawlScheduler) crawlOne(ctx context.Context, jobID string, source *db.Source, cfg *crawler.Config, st *crawlState, entry frontierEntry, fetcher crawler.Fetcher, extractor *crawler.Extractor, classifier *crawler.Classifier, linkFilter *crawler.LinkFilter, limiter *rate.Limiter) pageOutcome {
	if !s.robots.IsAllowed(ctx, entry.url) {
		log.Debug().Str("url", entry.url).Msg("Disallowed by robots.txt")
		return outcomeSkipped
	}

	if err := limiter.Wait(ctx); err != nil {
		return outcomeFailed
	}

	page, err := fetcher.Fetch(ctx, entry.url)
	if err != nil {
		log.Warn().Err(err).Str("url", entry.url).Str("job_id", jobID).Msg("Fetch failed")
		return outcomeFailed
	}

	content, err := extractor.Extract(page)
	if err != nil {
		log.Warn().Err(err).Str("url", entry.url).Str("job_id", jobID).Msg("Extraction failed")
		return outcomeFailed
	}

	linkBase, err := url.Parse(page.FinalURL)
	if err != nil || linkBase.Host == "" {
		linkBase, _ = url.Parse(entry.url)
	}

	enqueueChildren := func() {
		links := linkFilter.Filter(linkBase, content.RawLinks, st.seen)
		children := make([]frontierEntry, 0, len(links))
		for _, link := range links {
			children = append(children, frontierEntry{url: link, depth: entry.depth + 1, referrer: entry.url})
		}
		st.enqueue(children)
	}

	if cfg.ClassifyArticles && !classifier.IsArticle(page.FinalURL, page.HTML, content) {
		// Listing pages are depth-transparent conduits to content: their
		// links are enqueued even when the page sits at max depth, which
		// is what surfaces articles behind deep pagination.
		enqueueChildren()
		log.Debug().Str("url", entry.url).Int("depth", entry.depth).Msg("Classified as listing page")
		return outcomeListing
	}

	classification := ""
	if cfg.ClassifyArticles {
		classification = "article"
	}

	inserted, err := s.store.InsertDocument(ctx, &db.Document{
		SourceID:       source.ID,
		JobID:          jobID,
		URL:            page.FinalURL,
		Title:          content.Title,
		Content:        content.Text,
		Fingerprint:    content.Fingerprint,
		Classification: classification,
		ETag:           page.ETag,
		LastModified:   page.LastModified,
	})
	if err != nil {
		log.Error().Err(err).Str("url", entry.url).Str("job_id", jobID).Msg("Document insert failed")
		return outcomeFailed
	}

	if cfg.TrackChanges && s.changes != nil {
		fields := &versions.DocumentFields{
			Title:         content.Title,
			Summary:       content.Text,
			PublishedDate: page.LastModified,
		}
		if _, err := s.changes.ProcessDocument(ctx, source.ID, page.FinalURL, fields); err != nil {
			// Version tracking is additive; its failure does not demote
			// an otherwise-persisted page
			log.Warn().Err(err).Str("url", page.FinalURL).Msg("Version tracking failed")
		}
	}

	if entry.depth < cfg.MaxDepth {
		enqueueChildren()
	}

	if inserted {
		return outcomeNew
	}
	return outcomeDuplicate
}
