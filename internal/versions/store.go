package versions

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/reglens/reglens/internal/db"
	"github.com/rs/zerolog/log"
)

// Store persists document versions and change records.
type Store struct {
	client *sql.DB
}

// NewStore creates a version store on the shared connection pool.
func NewStore(client *sql.DB) *Store {
	return &Store{client: client}
}

// execute runs fn in a transaction.
func (s *Store) execute(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.client.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ProcessDocument runs change detection for (sourceID, url) and, when the
// document is new or changed, writes the next version plus a change record.
// The current-flag flip, version numbering and inserts happen in one
// transaction; concurrent writers for the same document serialise on the
// row lock, so there is never a moment with zero or two current versions.
// Unchanged re-crawls write nothing.
func (s *Store) ProcessDocument(ctx context.Context, sourceID, url string, doc *DocumentFields) (*ChangeResult, error) {
	var result *ChangeResult

	err := s.execute(ctx, func(tx *sql.Tx) error {
		previous, err := currentVersion(ctx, tx, sourceID, url)
		if err != nil {
			return err
		}

		result = DetectChange(previous, doc)
		if !result.IsNew && !result.HasChanged {
			return nil
		}

		nextNumber := 1
		var oldVersionID any
		if previous != nil {
			nextNumber = previous.VersionNumber + 1
			oldVersionID = previous.ID

			if _, err := tx.ExecContext(ctx, `
				UPDATE document_versions SET is_current = FALSE
				WHERE source_id = $1 AND url = $2 AND is_current
			`, sourceID, url); err != nil {
				return fmt.Errorf("failed to retire current version: %w", err)
			}
		}

		var newVersionID string
		err = tx.QueryRowContext(ctx, `
			INSERT INTO document_versions (source_id, url, version_number, is_current,
			                               content_hash, metadata_hash, title, summary, category,
			                               issuing_body, effective_date, published_date,
			                               topics, key_numbers)
			VALUES ($1, $2, $3, TRUE, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING id
		`, sourceID, url, nextNumber,
			ContentHash(doc), MetadataHash(doc),
			doc.Title, doc.Summary, doc.Category,
			doc.IssuingBody, doc.EffectiveDate, doc.PublishedDate,
			pq.Array(doc.Topics), pq.Array(doc.KeyNumbers),
		).Scan(&newVersionID)
		if err != nil {
			return fmt.Errorf("failed to insert version %d: %w", nextNumber, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_changes (source_id, url, old_version_id, new_version_id,
			                              change_type, changes, significance_score, requires_review)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, sourceID, url, oldVersionID, newVersionID,
			result.ChangeType, db.Serialise(result.Changes),
			result.SignificanceScore, result.RequiresReview,
		); err != nil {
			return fmt.Errorf("failed to insert change record: %w", err)
		}

		log.Info().
			Str("source_id", sourceID).
			Str("url", url).
			Int("version", nextNumber).
			Str("change_type", result.ChangeType).
			Float64("significance", result.SignificanceScore).
			Msg("Recorded document version")

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// currentVersion loads and locks the current version row for (source, url).
// Returns nil when the document has never been seen.
func currentVersion(ctx context.Context, tx *sql.Tx, sourceID, url string) (*Version, error) {
	v := &Version{}
	err := tx.QueryRowContext(ctx, `
		SELECT id, source_id, url, version_number, is_current, content_hash, metadata_hash,
		       COALESCE(title, ''), COALESCE(summary, ''), COALESCE(category, ''),
		       COALESCE(issuing_body, ''), COALESCE(effective_date, ''), COALESCE(published_date, ''),
		       topics, key_numbers, created_at
		FROM document_versions
		WHERE source_id = $1 AND url = $2 AND is_current
		FOR UPDATE
	`, sourceID, url).Scan(
		&v.ID, &v.SourceID, &v.URL, &v.VersionNumber, &v.IsCurrent,
		&v.ContentHash, &v.MetadataHash,
		&v.Fields.Title, &v.Fields.Summary, &v.Fields.Category,
		&v.Fields.IssuingBody, &v.Fields.EffectiveDate, &v.Fields.PublishedDate,
		pq.Array(&v.Fields.Topics), pq.Array(&v.Fields.KeyNumbers), &v.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current version: %w", err)
	}
	return v, nil
}
