package crawler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/reglens/reglens/internal/cache"
	"github.com/reglens/reglens/internal/util"
	"github.com/rs/zerolog/log"
	"github.com/temoto/robotstxt"
)

const (
	// robotsCacheTTL bounds how long parsed rules are reused, so a
	// robots.txt change is picked up without restarting the crawler.
	robotsCacheTTL = time.Hour

	robotsFetchTimeout = 5 * time.Second

	// maxRobotsBodyBytes caps how much of a robots.txt response we read.
	maxRobotsBodyBytes = 512 * 1024
)

// robotsEntry is one origin's parsed policy.
type robotsEntry struct {
	group    *robotstxt.Group
	sitemaps []string
	allowAll bool
}

// RobotsPolicyCache answers robots.txt allow/deny queries with a per-origin
// time-bounded cache. It never returns an error: politeness is best-effort,
// so any fetch or parse failure fails open and is logged as a warning.
//
// Construct one per process and inject it into the scheduler; tests can
// substitute a fake through the jobs.RobotsPolicy interface.
type RobotsPolicyCache struct {
	client    *http.Client
	userAgent string
	entries   *cache.InMemoryCache
}

// NewRobotsPolicyCache creates a policy cache using the given user agent
// for both fetching and rule-group matching.
func NewRobotsPolicyCache(userAgent string) *RobotsPolicyCache {
	return &RobotsPolicyCache{
		client:    &http.Client{Timeout: robotsFetchTimeout},
		userAgent: userAgent,
		entries:   cache.NewInMemoryCache(),
	}
}

// IsAllowed reports whether rawURL may be fetched under its origin's
// robots.txt. Concurrent callers for the same uncached origin may each
// trigger a fetch; the last write wins, which is harmless.
func (r *RobotsPolicyCache) IsAllowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		log.Warn().Str("url", rawURL).Msg("Unparseable URL in robots check, allowing")
		return true
	}

	entry := r.entry(ctx, parsed)
	if entry.allowAll || entry.group == nil {
		return true
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}

	return entry.group.Test(path)
}

// CrawlDelay returns the robots.txt crawl-delay for rawURL's origin, or
// zero when none is cached or specified. It does not trigger a fetch.
func (r *RobotsPolicyCache) CrawlDelay(rawURL string) time.Duration {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return 0
	}

	cached, found := r.entries.Get(util.Origin(parsed))
	if !found {
		return 0
	}

	entry := cached.(*robotsEntry)
	if entry.allowAll || entry.group == nil {
		return 0
	}
	return entry.group.CrawlDelay
}

// Sitemaps returns any sitemap URLs declared by rawURL's origin.
// Surfaced for operator logging; the scheduler does not seed from them.
func (r *RobotsPolicyCache) Sitemaps(ctx context.Context, rawURL string) []string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil
	}
	return r.entry(ctx, parsed).sitemaps
}

func (r *RobotsPolicyCache) entry(ctx context.Context, parsed *url.URL) *robotsEntry {
	origin := util.Origin(parsed)

	if cached, found := r.entries.Get(origin); found {
		return cached.(*robotsEntry)
	}

	entry := r.fetch(ctx, origin)
	r.entries.SetWithTTL(origin, entry, robotsCacheTTL)
	return entry
}

// fetch retrieves and parses origin/robots.txt. Every failure path returns
// an allow-all entry, which is also cached so a broken origin is not
// re-fetched on every page.
func (r *RobotsPolicyCache) fetch(ctx context.Context, origin string) *robotsEntry {
	robotsURL := origin + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, http.NoBody)
	if err != nil {
		log.Warn().Err(err).Str("robots_url", robotsURL).Msg("Failed to build robots.txt request, allowing all")
		return &robotsEntry{allowAll: true}
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("robots_url", robotsURL).Msg("Failed to fetch robots.txt, allowing all")
		return &robotsEntry{allowAll: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
	if err != nil {
		log.Warn().Err(err).Str("robots_url", robotsURL).Msg("Failed to read robots.txt, allowing all")
		return &robotsEntry{allowAll: true}
	}

	// FromStatusAndBytes treats 404 (and other 4xx) as no restrictions
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		log.Warn().Err(err).
			Str("robots_url", robotsURL).
			Int("status", resp.StatusCode).
			Msg("Failed to parse robots.txt, allowing all")
		return &robotsEntry{allowAll: true}
	}

	entry := &robotsEntry{
		group:    data.FindGroup(r.userAgent),
		sitemaps: data.Sitemaps,
	}

	log.Debug().
		Str("origin", origin).
		Int("status", resp.StatusCode).
		Int("sitemaps", len(entry.sitemaps)).
		Msg("Cached robots.txt rules")

	return entry
}
