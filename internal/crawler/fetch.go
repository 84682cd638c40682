package crawler

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
)

// maxRedirects caps redirect chains per fetch.
const maxRedirects = 5

// Fetcher retrieves one page. The scheduler selects an implementation once
// per job: DirectFetcher by default, BrowserFetcher when the seed probe hits
// a bot-challenge page. Close releases any resources the strategy holds and
// must be safe to call on every exit path.
type Fetcher interface {
	Fetch(ctx context.Context, targetURL string) (*FetchedPage, error)
	Close() error
}

// challengeMarkers are body signatures of known anti-bot interstitials.
// Matching any of them on the seed probe switches the whole job to the
// browser strategy.
var challengeMarkers = []string{
	"just a moment...",
	"checking your browser before accessing",
	"attention required! | cloudflare",
	"cf-browser-verification",
	"cf_chl_opt",
	"ddos protection by cloudflare",
	"challenge-platform",
	"verify you are human",
}

// challengeTitleRe matches page titles that indicate a challenge is still
// being served after the initial browser wait.
var challengeTitleRe = regexp.MustCompile(`(?i)just a moment|attention required|checking your browser|verify you are human`)

// DetectChallenge reports whether html looks like an anti-bot interstitial
// rather than real content.
func DetectChallenge(html string) bool {
	lower := strings.ToLower(html)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// DirectFetcher performs plain HTTP GETs through a colly collector with
// browser-like headers. It is cheap, stateless, and safe for concurrent use;
// each Fetch runs on a clone of the base collector.
type DirectFetcher struct {
	colly *colly.Collector
}

// NewDirectFetcher builds the default fetch strategy. transport may be nil;
// when set it wraps the HTTP client (used for otel instrumentation).
func NewDirectFetcher(cfg *Config, transport http.RoundTripper) *DirectFetcher {
	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.MaxDepth(1),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(), // robots policy is enforced upstream by RobotsPolicyCache
	)

	if transport == nil {
		transport = &http.Transport{
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			ForceAttemptHTTP2:   true,
		}
	}
	c.SetClient(&http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: transport,
	})

	c.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	})

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	return &DirectFetcher{colly: c}
}

// Fetch performs a GET of targetURL, following up to maxRedirects hops.
// Non-2xx responses are returned as errors.
func (f *DirectFetcher) Fetch(ctx context.Context, targetURL string) (*FetchedPage, error) {
	page := &FetchedPage{URL: targetURL}
	var fetchErr error

	clone := f.colly.Clone()

	clone.OnResponse(func(r *colly.Response) {
		page.FinalURL = r.Request.URL.String()
		page.HTML = string(r.Body)
		page.StatusCode = r.StatusCode
		page.Header = http.Header(*r.Headers)
		page.ETag = r.Headers.Get("ETag")
		page.LastModified = r.Headers.Get("Last-Modified")
	})

	clone.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			page.StatusCode = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		if err := clone.Visit(targetURL); err != nil {
			done <- err
			return
		}
		clone.Wait()
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", targetURL, err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if fetchErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", targetURL, fetchErr)
	}
	if page.StatusCode < 200 || page.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: non-success status code %d", targetURL, page.StatusCode)
	}

	log.Debug().
		Str("url", targetURL).
		Str("final_url", page.FinalURL).
		Int("status", page.StatusCode).
		Int("bytes", len(page.HTML)).
		Msg("Fetched page")

	return page, nil
}

// Close is a no-op; the direct strategy holds no long-lived resources.
func (f *DirectFetcher) Close() error {
	return nil
}
