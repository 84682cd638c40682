package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
)

const pageStableWait = 500 * time.Millisecond

// blockedResourceTypes lists network resource types the browser strategy
// skips. Only the document markup matters for extraction, so images, fonts,
// stylesheets and media are wasted bandwidth.
var blockedResourceTypes = []proto.NetworkResourceType{
	proto.NetworkResourceTypeImage,
	proto.NetworkResourceTypeFont,
	proto.NetworkResourceTypeStylesheet,
	proto.NetworkResourceTypeMedia,
}

// BrowserFetcher fetches pages through a headless Chromium instance with
// stealth patches applied, so challenge scripts can execute and clear. One
// browser process serves a whole job; each Fetch opens its own tab.
type BrowserFetcher struct {
	browser       *rod.Browser
	navTimeout    time.Duration
	challengeWait time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewBrowserFetcher launches headless Chromium. It returns an error when no
// Chrome/Chromium binary can be started, in which case the caller should
// fall back to the direct strategy.
func NewBrowserFetcher(cfg *Config) (*BrowserFetcher, error) {
	u, err := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Launch()
	if err != nil {
		return nil, fmt.Errorf("launch headless browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to headless browser: %w", err)
	}

	return &BrowserFetcher{
		browser:       browser,
		navTimeout:    cfg.BrowserTimeout,
		challengeWait: cfg.ChallengeWait,
	}, nil
}

// Fetch navigates a stealth tab to targetURL, waits for the DOM to settle,
// and waits once more if a challenge interstitial is still being served.
func (b *BrowserFetcher) Fetch(ctx context.Context, targetURL string) (*FetchedPage, error) {
	page, err := stealth.Page(b.browser)
	if err != nil {
		return nil, fmt.Errorf("create tab: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, b.navTimeout)
	defer cancel()
	page = page.Context(navCtx)

	router := page.HijackRequests()
	for _, rt := range blockedResourceTypes {
		rt := rt
		_ = router.Add("*", rt, func(h *rod.Hijack) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		})
	}
	go router.Run()
	defer router.MustStop()

	if err := page.Navigate(targetURL); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", targetURL, err)
	}

	_ = page.WaitStable(pageStableWait)

	// A challenge page often swaps itself out once its script finishes.
	// If the title still looks like an interstitial, give it one bounded
	// extra wait before reading the DOM.
	if info, err := page.Info(); err == nil && challengeTitleRe.MatchString(info.Title) {
		log.Debug().
			Str("url", targetURL).
			Str("title", info.Title).
			Dur("wait", b.challengeWait).
			Msg("Challenge page still present, waiting for it to clear")

		select {
		case <-time.After(b.challengeWait):
		case <-navCtx.Done():
			return nil, navCtx.Err()
		}
		_ = page.WaitStable(pageStableWait)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("get HTML from %s: %w", targetURL, err)
	}

	finalURL := targetURL
	if info, err := page.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}

	return &FetchedPage{
		URL:      targetURL,
		FinalURL: finalURL,
		HTML:     html,
		// Chromium surfaces no usable status code through this path;
		// reaching the DOM read means the navigation succeeded.
		StatusCode: 200,
	}, nil
}

// Close shuts down the headless browser process. Safe to call more than
// once; the scheduler closes on both normal completion and error paths.
func (b *BrowserFetcher) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.browser.Close()
	})
	return b.closeErr
}
