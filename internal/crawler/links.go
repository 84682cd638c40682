package crawler

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/reglens/reglens/internal/util"
	"github.com/rs/zerolog/log"
)

// defaultBlockedPathPatterns drop links that can never be crawlable HTML:
// binary and media assets, admin surfaces, and feeds.
var defaultBlockedPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\.(pdf|jpe?g|png|gif|svg|webp|ico|css|js|mp3|mp4|avi|mov|zip|tar|gz|rar|docx?|xlsx?|pptx?|woff2?|ttf|eot)($|\?)`),
	regexp.MustCompile(`(?i)/(wp-admin|wp-login|admin|login|logout|signin|signup|register|account|cart|checkout)(/|$)`),
	regexp.MustCompile(`(?i)/(feed|rss|atom)(/|$)`),
	regexp.MustCompile(`(?i)\.(xml|json)($|\?)`),
}

// LinkFilter resolves and filters raw hrefs into enqueue candidates.
// Output order follows input order; the scheduler's batching preserves
// breadth-first shape, not this filter.
type LinkFilter struct {
	followExternal bool
	include        []*regexp.Regexp
	exclude        []*regexp.Regexp
}

// NewLinkFilter compiles the configured include/exclude path patterns on
// top of the default blocklist. Invalid patterns are logged and skipped.
func NewLinkFilter(cfg *Config) *LinkFilter {
	f := &LinkFilter{
		followExternal: cfg.FollowExternal,
		exclude:        append([]*regexp.Regexp{}, defaultBlockedPathPatterns...),
	}

	for _, p := range cfg.ExcludePaths {
		re, err := regexp.Compile(p)
		if err != nil {
			log.Warn().Err(err).Str("pattern", p).Msg("Skipping invalid exclude pattern")
			continue
		}
		f.exclude = append(f.exclude, re)
	}

	for _, p := range cfg.IncludePaths {
		re, err := regexp.Compile(p)
		if err != nil {
			log.Warn().Err(err).Str("pattern", p).Msg("Skipping invalid include pattern")
			continue
		}
		f.include = append(f.include, re)
	}

	return f
}

// Filter resolves rawLinks against base and returns the deduplicated,
// normalised candidates. seen reports URLs already visited or pending and
// may be nil. Malformed links are dropped silently.
func (f *LinkFilter) Filter(base *url.URL, rawLinks []string, seen func(string) bool) []string {
	var out []string
	local := make(map[string]struct{}, len(rawLinks))

	for _, raw := range rawLinks {
		resolved := util.ResolveURL(base, raw)
		if resolved == "" {
			continue
		}

		if _, dup := local[resolved]; dup {
			continue
		}
		local[resolved] = struct{}{}

		if seen != nil && seen(resolved) {
			continue
		}

		parsed, err := url.Parse(resolved)
		if err != nil {
			continue
		}

		if !f.followExternal && !util.SameDomain(base.Host, parsed.Host) {
			continue
		}

		target := strings.ToLower(parsed.Path)
		if parsed.RawQuery != "" {
			target += "?" + strings.ToLower(parsed.RawQuery)
		}

		if matchesAny(f.exclude, target) {
			continue
		}
		if len(f.include) > 0 && !matchesAny(f.include, target) {
			continue
		}

		out = append(out, resolved)
	}

	return out
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
