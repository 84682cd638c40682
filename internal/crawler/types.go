package crawler

import "net/http"

// FetchedPage is the raw result of fetching one URL, before extraction.
type FetchedPage struct {
	// URL is the requested URL; FinalURL is where we landed after redirects.
	URL      string
	FinalURL string
	HTML     string

	StatusCode int
	Header     http.Header

	// Revalidation metadata, stored on document versions for future
	// conditional fetches. Empty when the server did not send them.
	ETag         string
	LastModified string
}

// ExtractedContent is the cleaned, bounded output of the content extractor.
type ExtractedContent struct {
	Title string
	Text  string

	// Fingerprint is the hex SHA-256 of Text, the dedup key for documents.
	Fingerprint string

	// Truncated is set when Text was cut at MaxContentLength.
	Truncated bool

	// RawLinks holds every href on the page, unresolved and unfiltered.
	// Resolution and filtering happen in FilterLinks.
	RawLinks []string
}
