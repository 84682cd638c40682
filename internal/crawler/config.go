package crawler

import (
	"time"
)

// Config holds the crawl parameters for one job. Values are resolved by
// three-tier merge: explicit call-time overrides beat per-source stored
// overrides, which beat the hardcoded defaults.
type Config struct {
	MaxDepth    int // Maximum link depth from the seed URL
	MaxPages    int // Maximum fetch attempts per job
	Concurrency int // Simultaneous in-flight fetches (typically 1-5)

	IncludePaths []string // If non-empty, only links matching one pattern are followed
	ExcludePaths []string // Links matching any pattern are dropped

	FollowExternal   bool // Follow links off the seed domain
	ClassifyArticles bool // Gate for the article/listing classifier
	TrackChanges     bool // Opt into version/change tracking for this source

	// ListingPatterns are source-specific URL path patterns that mark
	// listing pages, merged with the generic blocklist in the classifier.
	ListingPatterns []string

	UserAgent       string
	RequestTimeout  time.Duration // Per-request HTTP timeout
	BrowserTimeout  time.Duration // Per-navigation timeout for the browser strategy
	ChallengeWait   time.Duration // Extra wait when a challenge page persists
	PolitenessDelay time.Duration // Minimum spacing between requests in one job
}

// DefaultConfig returns the hardcoded crawl defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxDepth:        2,
		MaxPages:        50,
		Concurrency:     3,
		FollowExternal:  false,
		UserAgent:       "RegLensBot/1.0 (+https://www.reglens.io/pages/about-the-bot)",
		RequestTimeout:  30 * time.Second,
		BrowserTimeout:  60 * time.Second,
		ChallengeWait:   10 * time.Second,
		PolitenessDelay: time.Second,
	}
}

// SourceOverrides are the per-source crawl settings stored in the source
// registry. Pointer fields distinguish "not set" from zero values.
type SourceOverrides struct {
	MaxDepth         *int     `json:"max_depth,omitempty"`
	MaxPages         *int     `json:"max_pages,omitempty"`
	Concurrency      *int     `json:"concurrency,omitempty"`
	IncludePaths     []string `json:"include_paths,omitempty"`
	ExcludePaths     []string `json:"exclude_paths,omitempty"`
	FollowExternal   *bool    `json:"follow_external,omitempty"`
	ClassifyArticles *bool    `json:"classify_articles,omitempty"`
	TrackChanges     *bool    `json:"track_changes,omitempty"`
	ListingPatterns  []string `json:"listing_patterns,omitempty"`

	// PolitenessDelayMS overrides the per-request spacing in milliseconds.
	// Zero disables the delay, for sources we own.
	PolitenessDelayMS *int `json:"politeness_delay_ms,omitempty"`
}

// MergeConfig resolves the effective crawl config from defaults, stored
// source overrides, and call-time overrides, in increasing precedence.
// Either overrides argument may be nil.
func MergeConfig(source *SourceOverrides, call *SourceOverrides) *Config {
	cfg := DefaultConfig()
	applyOverrides(cfg, source)
	applyOverrides(cfg, call)

	if cfg.MaxDepth < 0 {
		cfg.MaxDepth = 0
	}
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return cfg
}

func applyOverrides(cfg *Config, o *SourceOverrides) {
	if o == nil {
		return
	}
	if o.MaxDepth != nil {
		cfg.MaxDepth = *o.MaxDepth
	}
	if o.MaxPages != nil {
		cfg.MaxPages = *o.MaxPages
	}
	if o.Concurrency != nil {
		cfg.Concurrency = *o.Concurrency
	}
	if len(o.IncludePaths) > 0 {
		cfg.IncludePaths = o.IncludePaths
	}
	if len(o.ExcludePaths) > 0 {
		cfg.ExcludePaths = o.ExcludePaths
	}
	if o.FollowExternal != nil {
		cfg.FollowExternal = *o.FollowExternal
	}
	if o.ClassifyArticles != nil {
		cfg.ClassifyArticles = *o.ClassifyArticles
	}
	if o.TrackChanges != nil {
		cfg.TrackChanges = *o.TrackChanges
	}
	if len(o.ListingPatterns) > 0 {
		cfg.ListingPatterns = o.ListingPatterns
	}
	if o.PolitenessDelayMS != nil {
		cfg.PolitenessDelay = time.Duration(*o.PolitenessDelayMS) * time.Millisecond
	}
}
