// Package techdetect identifies the CMS platform behind a crawled site using
// wappalyzergo, so the content extractor can try platform-specific content
// containers before the generic cascade.
package techdetect

import (
	"net/http"
	"sync"

	wappalyzer "github.com/projectdiscovery/wappalyzergo"
	"github.com/rs/zerolog/log"
)

// cmsContainers maps a detected platform to the selector that wraps its main
// article content. Only platforms we regularly see on regulator and news
// sites are listed.
var cmsContainers = map[string]string{
	"WordPress":   ".entry-content",
	"Drupal":      ".node__content",
	"Joomla":      ".item-page",
	"Ghost":       ".gh-content",
	"Squarespace": ".sqs-block-content",
	"Wix":         "[data-testid=\"richTextElement\"]",
	"TYPO3 CMS":   ".ce-bodytext",
}

// Result holds the technologies detected for a site.
type Result struct {
	// Technologies maps technology name to its categories
	// (e.g., {"WordPress": ["CMS", "Blogs"]})
	Technologies map[string][]string
}

// Detector fingerprints sites from response headers and body.
type Detector struct {
	client *wappalyzer.Wappalyze
}

var categoryNames map[int]string
var categoryNamesOnce sync.Once

// New creates a new technology detector.
func New() (*Detector, error) {
	client, err := wappalyzer.New()
	if err != nil {
		return nil, err
	}

	categoryNamesOnce.Do(func() {
		categoryNames = make(map[int]string)
		for id, cat := range wappalyzer.GetCategoriesMapping() {
			categoryNames[id] = cat.Name
		}
	})

	return &Detector{client: client}, nil
}

// Detect identifies technologies from HTTP headers and body.
func (d *Detector) Detect(headers http.Header, body []byte) *Result {
	result := &Result{
		Technologies: make(map[string][]string),
	}

	fingerprints := d.client.FingerprintWithCats(headers, body)
	for tech, catInfo := range fingerprints {
		categories := make([]string, 0, len(catInfo.Cats))
		for _, catID := range catInfo.Cats {
			if name, ok := categoryNames[catID]; ok {
				categories = append(categories, name)
			}
		}
		result.Technologies[tech] = categories
	}

	log.Debug().
		Int("tech_count", len(result.Technologies)).
		Msg("Technology detection completed")

	return result
}

// ContentContainers returns platform-specific content selectors for the
// detected technologies, to be tried ahead of the generic extractor cascade.
// Returns nil when no known CMS was detected or r is nil.
func (r *Result) ContentContainers() []string {
	if r == nil {
		return nil
	}

	var selectors []string
	for tech := range r.Technologies {
		if sel, ok := cmsContainers[tech]; ok {
			selectors = append(selectors, sel)
		}
	}
	return selectors
}
