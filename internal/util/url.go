package util

import (
	"fmt"
	"net/url"
	"strings"
)

// NormaliseURL trims whitespace, resolves scheme-relative forms and strips
// fragments so the same page is not visited twice under trivially different
// spellings. Returns an empty string for URLs that cannot be parsed.
func NormaliseURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}

	parsed.Fragment = ""
	parsed.Host = strings.ToLower(stripDefaultPort(parsed.Host, parsed.Scheme))

	// "/path/" and "/path" are the same page on the sites we track
	if len(parsed.Path) > 1 {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}

	return parsed.String()
}

// ResolveURL resolves href against base and normalises the result.
// Returns an empty string when href is malformed or not an http(s) link.
func ResolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || href == "#" {
		return ""
	}

	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(href, "#") {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}

	return NormaliseURL(base.ResolveReference(ref).String())
}

// SameDomain reports whether two hosts belong to the same registrable site,
// treating www. as transparent.
func SameDomain(a, b string) bool {
	return normaliseHost(a) == normaliseHost(b)
}

// PathSegments returns the non-empty segments of a URL path.
func PathSegments(path string) []string {
	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}

// ValidateBaseURL checks that a crawl seed URL is absolute http(s).
func ValidateBaseURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q must use http or https", rawURL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", rawURL)
	}
	return parsed, nil
}

// Origin returns scheme://host for a parsed URL, with default ports stripped.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + strings.ToLower(stripDefaultPort(u.Host, u.Scheme))
}

func normaliseHost(host string) string {
	host = strings.ToLower(host)
	return strings.TrimPrefix(host, "www.")
}

// stripDefaultPort removes :80 for http and :443 for https.
func stripDefaultPort(host, scheme string) string {
	if scheme == "http" && strings.HasSuffix(host, ":80") {
		return strings.TrimSuffix(host, ":80")
	}
	if scheme == "https" && strings.HasSuffix(host, ":443") {
		return strings.TrimSuffix(host, ":443")
	}
	return host
}
