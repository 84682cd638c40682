package crawler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/reglens/reglens/internal/techdetect"
)

const (
	// minContainerTextLength is the acceptance threshold for a candidate
	// content container in the selector cascade.
	minContainerTextLength = 200

	// minElementTextLength filters noise elements in the paragraph
	// aggregation fallback.
	minElementTextLength = 20

	// minContentFloor is the thin-content floor. Below it the title is
	// prefixed onto the text; the page is still kept.
	minContentFloor = 50

	// MaxContentLength bounds stored text and downstream token costs.
	MaxContentLength = 50000

	truncationMarker = "\n\n[Content truncated]"
)

// chromeSelectors are page furniture stripped before content selection.
var chromeSelectors = strings.Join([]string{
	"script", "style", "noscript", "iframe", "form",
	"nav", "header", "footer", "aside",
	".header", ".footer", ".navigation", ".nav", ".sidebar", ".menu",
	".cookie-banner", ".cookie-notice", ".newsletter-signup",
	".social-share", ".comments", "#comments",
}, ", ")

// genericContainerSelectors is the ordered cascade tried after any
// CMS-specific containers. Attribute matches come first because they are
// the most specific signal on sites we have no fingerprint for.
var genericContainerSelectors = []string{
	"[itemprop='articleBody']",
	"[class*='article-body']",
	"[class*='post-content']",
	"[class*='entry-content']",
	"[class*='article-content']",
	"[class*='page-content']",
	"[class*='main-content']",
	"article",
	"main",
	"[role='main']",
	"[role='article']",
	".content",
}

// fallbackElementSelector drives paragraph aggregation when no container
// qualifies.
const fallbackElementSelector = "p, li, td, h2, h3, blockquote"

var whitespaceRe = regexp.MustCompile(`\s+`)

// Extractor turns raw HTML into bounded, cleaned text plus the raw link
// set. The optional technology detector lets it try CMS-specific content
// containers before the generic cascade.
type Extractor struct {
	detector *techdetect.Detector
}

// NewExtractor creates an extractor. detector may be nil, in which case
// only the generic selector cascade is used.
func NewExtractor(detector *techdetect.Detector) *Extractor {
	return &Extractor{detector: detector}
}

// Extract parses page.HTML and returns title, cleaned text, fingerprint,
// and every unresolved href on the page. A page is never rejected for thin
// content; the floor handling keeps it with the title prefixed.
func (e *Extractor) Extract(page *FetchedPage) (*ExtractedContent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse HTML from %s: %w", page.URL, err)
	}

	title := extractTitle(doc)

	// Links are harvested before chrome removal so navigation menus still
	// contribute candidates. Resolution and filtering happen downstream.
	var rawLinks []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			rawLinks = append(rawLinks, href)
		}
	})

	doc.Find(chromeSelectors).Remove()

	text := e.selectContent(doc, page)

	if len(text) < minContentFloor {
		text = strings.TrimSpace(title + "\n\n" + text)
	}

	truncated := false
	if len(text) > MaxContentLength {
		text = text[:MaxContentLength] + truncationMarker
		truncated = true
	}

	sum := sha256.Sum256([]byte(text))

	return &ExtractedContent{
		Title:       title,
		Text:        text,
		Fingerprint: hex.EncodeToString(sum[:]),
		Truncated:   truncated,
		RawLinks:    rawLinks,
	}, nil
}

func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return "Untitled"
}

// selectContent runs the container cascade, then the paragraph fallback.
func (e *Extractor) selectContent(doc *goquery.Document, page *FetchedPage) string {
	selectors := e.containerCascade(page)

	for _, sel := range selectors {
		container := doc.Find(sel).First()
		if container.Length() == 0 {
			continue
		}
		text := collapseWhitespace(container.Text())
		if len(text) >= minContainerTextLength {
			return text
		}
	}

	return aggregateElements(doc)
}

// containerCascade prepends CMS-specific containers, when the page's stack
// was fingerprinted, to the generic cascade.
func (e *Extractor) containerCascade(page *FetchedPage) []string {
	if e.detector == nil {
		return genericContainerSelectors
	}

	result := e.detector.Detect(page.Header, []byte(page.HTML))
	cms := result.ContentContainers()
	if len(cms) == 0 {
		return genericContainerSelectors
	}

	return append(cms, genericContainerSelectors...)
}

func aggregateElements(doc *goquery.Document) string {
	var parts []string
	doc.Find(fallbackElementSelector).Each(func(_ int, s *goquery.Selection) {
		text := collapseWhitespace(s.Text())
		if len(text) >= minElementTextLength {
			parts = append(parts, text)
		}
	})

	if len(parts) == 0 {
		return collapseWhitespace(doc.Find("body").Text())
	}

	return strings.Join(parts, "\n\n")
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
