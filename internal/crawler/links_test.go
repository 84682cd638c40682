package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	assert.NoError(t, err)
	return u
}

func TestLinkFilterResolvesAndDeduplicates(t *testing.T) {
	base := mustParse(t, "https://example.com/news/")
	f := NewLinkFilter(DefaultConfig())

	links := f.Filter(base, []string{
		"/news/item-1",
		"item-1",                          // relative, same target
		"https://example.com/news/item-1", // absolute, same target
		"/news/item-2#section",            // fragment stripped
		"/news/item-2",
	}, nil)

	assert.Equal(t, []string{
		"https://example.com/news/item-1",
		"https://example.com/news/item-2",
	}, links)
}

func TestLinkFilterDropsNonHTTPSchemes(t *testing.T) {
	base := mustParse(t, "https://example.com/")
	f := NewLinkFilter(DefaultConfig())

	links := f.Filter(base, []string{
		"javascript:void(0)",
		"mailto:press@example.com",
		"tel:+15551234567",
		"#top",
		"/news/real-article",
	}, nil)

	assert.Equal(t, []string{"https://example.com/news/real-article"}, links)
}

func TestLinkFilterExternalDomains(t *testing.T) {
	base := mustParse(t, "https://example.com/")

	internal := NewLinkFilter(DefaultConfig())
	links := internal.Filter(base, []string{
		"https://other.org/news/item",
		"https://www.example.com/news/item", // www is transparent
	}, nil)
	assert.Equal(t, []string{"https://www.example.com/news/item"}, links)

	cfg := DefaultConfig()
	cfg.FollowExternal = true
	external := NewLinkFilter(cfg)
	links = external.Filter(base, []string{"https://other.org/news/item"}, nil)
	assert.Equal(t, []string{"https://other.org/news/item"}, links)
}

func TestLinkFilterBlockedExtensionsAndPaths(t *testing.T) {
	base := mustParse(t, "https://example.com/")
	f := NewLinkFilter(DefaultConfig())

	links := f.Filter(base, []string{
		"/docs/ruling.pdf",
		"/assets/logo.png",
		"/wp-admin/options.php",
		"/feed/",
		"/sitemap.xml",
		"/news/kept-article",
	}, nil)

	assert.Equal(t, []string{"https://example.com/news/kept-article"}, links)
}

func TestLinkFilterIncludePatterns(t *testing.T) {
	base := mustParse(t, "https://example.com/")
	cfg := DefaultConfig()
	cfg.IncludePaths = []string{`^/regulations/`, `^/enforcement/`}
	f := NewLinkFilter(cfg)

	links := f.Filter(base, []string{
		"/regulations/2026-amendment",
		"/enforcement/action-14",
		"/about/team",
	}, nil)

	assert.Equal(t, []string{
		"https://example.com/regulations/2026-amendment",
		"https://example.com/enforcement/action-14",
	}, links)
}

func TestLinkFilterSeenCallback(t *testing.T) {
	base := mustParse(t, "https://example.com/")
	f := NewLinkFilter(DefaultConfig())

	seen := map[string]bool{"https://example.com/news/old": true}
	links := f.Filter(base, []string{"/news/old", "/news/new"}, func(u string) bool {
		return seen[u]
	})

	assert.Equal(t, []string{"https://example.com/news/new"}, links)
}

func TestLinkFilterInvalidPatternSkipped(t *testing.T) {
	base := mustParse(t, "https://example.com/")
	cfg := DefaultConfig()
	cfg.ExcludePaths = []string{`[invalid`}
	f := NewLinkFilter(cfg)

	links := f.Filter(base, []string{"/news/article-1"}, nil)
	assert.Equal(t, []string{"https://example.com/news/article-1"}, links)
}
