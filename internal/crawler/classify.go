package crawler

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/reglens/reglens/internal/util"
	"github.com/rs/zerolog/log"
)

const (
	// minArticleTextLength rejects pages too thin to be an article.
	minArticleTextLength = 500

	// articleScoreThreshold is the score at which a page counts as an
	// article. Indicators are weak individually, so two alone never pass.
	articleScoreThreshold = 3

	indicatorContentBonus = 2
	jsonLDArticleScore    = 3
	ogTypeArticleScore    = 2

	// minIndicatorContentLength qualifies an indicator for the content
	// bonus when its own text exceeds it.
	minIndicatorContentLength = 200
)

// genericListingPatterns match URL paths that are listing, index, or
// archive pages on most news and regulator sites.
var genericListingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/category/`),
	regexp.MustCompile(`/categories/`),
	regexp.MustCompile(`/tag/`),
	regexp.MustCompile(`/tags/`),
	regexp.MustCompile(`/topics?/$`),
	regexp.MustCompile(`/author/`),
	regexp.MustCompile(`/page/\d+`),
	regexp.MustCompile(`[?&]page=\d+`),
	regexp.MustCompile(`/archives?(/|$)`),
	regexp.MustCompile(`/search(/|$)`),
	regexp.MustCompile(`/(news|press-releases|publications|updates)/?$`),
}

// structuralIndicators are page features typical of a single article.
// Content-bearing ones earn a bonus when their own text is substantial.
var structuralIndicators = []struct {
	selector       string
	contentBearing bool
}{
	{selector: "time[datetime]"},
	{selector: "[class*='byline']"},
	{selector: "[class*='author']"},
	{selector: "[class*='published'], [class*='post-date'], [class*='article-date']"},
	{selector: "[class*='post-content'], [class*='article-body'], [class*='entry-content']", contentBearing: true},
	{selector: "[itemprop='articleBody']", contentBearing: true},
}

// Classifier decides whether a fetched page is a content article or a
// listing/category page that should only contribute links. Gating on the
// per-source flag is the scheduler's job; when classification is off every
// page is persisted.
type Classifier struct {
	listingPatterns []*regexp.Regexp
}

// NewClassifier compiles the generic listing blocklist plus any per-source
// patterns. Invalid source patterns are logged and skipped.
func NewClassifier(sourcePatterns []string) *Classifier {
	patterns := make([]*regexp.Regexp, 0, len(genericListingPatterns)+len(sourcePatterns))
	patterns = append(patterns, genericListingPatterns...)

	for _, p := range sourcePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			log.Warn().Err(err).Str("pattern", p).Msg("Skipping invalid listing pattern")
			continue
		}
		patterns = append(patterns, re)
	}

	return &Classifier{listingPatterns: patterns}
}

// IsArticle scores pageURL and its extracted content. Hard rejects fire
// first; the remaining pages accumulate indicator scores and pass at the
// threshold.
func (c *Classifier) IsArticle(pageURL string, html string, content *ExtractedContent) bool {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return false
	}

	for _, re := range c.listingPatterns {
		if re.MatchString(strings.ToLower(parsed.Path)) {
			return false
		}
	}

	// Single-segment paths are section roots or home pages almost always.
	if len(util.PathSegments(parsed.Path)) < 2 {
		return false
	}

	if len(content.Text) < minArticleTextLength {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	score := 0
	for _, ind := range structuralIndicators {
		sel := doc.Find(ind.selector).First()
		if sel.Length() == 0 {
			continue
		}
		score++
		if ind.contentBearing && len(collapseWhitespace(sel.Text())) > minIndicatorContentLength {
			score += indicatorContentBonus
		}
	}

	if hasJSONLDArticle(doc) {
		score += jsonLDArticleScore
	}
	if ogType, _ := doc.Find("meta[property='og:type']").Attr("content"); strings.EqualFold(ogType, "article") {
		score += ogTypeArticleScore
	}

	return score >= articleScoreThreshold
}

// hasJSONLDArticle reports whether any JSON-LD block declares an Article
// type. Both bare objects and arrays are handled; invalid JSON is skipped.
func hasJSONLDArticle(doc *goquery.Document) bool {
	found := false
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}

		var objs []any
		switch v := data.(type) {
		case []any:
			objs = v
		case map[string]any:
			objs = []any{v}
		default:
			return true
		}

		for _, obj := range objs {
			m, ok := obj.(map[string]any)
			if !ok {
				continue
			}
			t, _ := m["@type"].(string)
			if t == "Article" || t == "NewsArticle" || t == "BlogPosting" {
				found = true
				return false
			}
		}
		return true
	})
	return found
}
