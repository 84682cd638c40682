package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Document is a persisted, fingerprint-deduplicated crawl result.
type Document struct {
	ID             string
	SourceID       string
	JobID          string
	URL            string
	Title          string
	Content        string
	Fingerprint    string
	Classification string
	IsAlert        bool
	Extracted      bool
	ETag           string
	LastModified   string
	CreatedAt      time.Time
}

// FindByFingerprint returns the document with the given content
// fingerprint, or nil when none exists.
func (d *DB) FindByFingerprint(ctx context.Context, fingerprint string) (*Document, error) {
	doc := &Document{}
	err := d.client.QueryRowContext(ctx, `
		SELECT id, source_id, COALESCE(job_id, ''), url, COALESCE(title, ''),
		       content_fingerprint, COALESCE(classification, ''), is_alert, extracted, created_at
		FROM documents WHERE content_fingerprint = $1
	`, fingerprint).Scan(
		&doc.ID, &doc.SourceID, &doc.JobID, &doc.URL, &doc.Title,
		&doc.Fingerprint, &doc.Classification, &doc.IsAlert, &doc.Extracted, &doc.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up fingerprint: %w", err)
	}
	return doc, nil
}

// InsertDocument inserts a document, ignoring fingerprint conflicts so two
// pages with identical cleaned text collapse to one row. The alert flag is
// joined from the owning source's type at insert time. Returns whether a
// row was actually inserted.
func (d *DB) InsertDocument(ctx context.Context, doc *Document) (bool, error) {
	result, err := d.client.ExecContext(ctx, `
		INSERT INTO documents (source_id, job_id, url, title, content, content_fingerprint,
		                       classification, is_alert, etag, last_modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
		        (SELECT source_type = $8 FROM sources WHERE id = $1),
		        $9, $10)
		ON CONFLICT (content_fingerprint) DO NOTHING
	`, doc.SourceID, nullable(doc.JobID), doc.URL, doc.Title, doc.Content, doc.Fingerprint,
		nullable(doc.Classification), SourceTypePolicy, nullable(doc.ETag), nullable(doc.LastModified))
	if err != nil {
		return false, fmt.Errorf("failed to insert document: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}

	if rows == 0 {
		log.Debug().
			Str("url", doc.URL).
			Str("fingerprint", doc.Fingerprint).
			Msg("Duplicate fingerprint, insert skipped")
	}

	return rows > 0, nil
}

// nullable maps empty strings to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
