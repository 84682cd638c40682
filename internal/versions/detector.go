// Package versions tracks point-in-time snapshots of logical documents and
// classifies the changes between them.
package versions

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Change types, in descending detection priority.
const (
	ChangeTypeNew      = "new_document"
	ChangeTypeContent  = "content_change"
	ChangeTypeTitle    = "title_change"
	ChangeTypeDate     = "date_change"
	ChangeTypeMetadata = "metadata_updated"
	ChangeTypeNone     = "no_change"
)

// reviewThreshold is the significance score at or above which a change is
// flagged for human review.
const reviewThreshold = 0.7

// fieldWeights score how impactful a change to each field is. Content and
// title dominate because they alter what a document says; dates matter for
// compliance deadlines; issuing body and category changes are usually
// recategorisation noise. The sum is capped at 1.0.
var fieldWeights = map[string]float64{
	"content":        0.4,
	"title":          0.3,
	"effective_date": 0.2,
	"published_date": 0.2,
	"issuing_body":   0.15,
	"category":       0.1,
	"summary":        0.2,
}

// DocumentFields is the normalised projection of a document used for
// change detection.
type DocumentFields struct {
	Title         string
	Summary       string
	Category      string
	IssuingBody   string
	EffectiveDate string
	PublishedDate string
	Topics        []string
	KeyNumbers    []string
}

// Version is one stored snapshot of a (source, url) document.
type Version struct {
	ID            string
	SourceID      string
	URL           string
	VersionNumber int
	IsCurrent     bool
	ContentHash   string
	MetadataHash  string
	Fields        DocumentFields
	CreatedAt     time.Time
}

// FieldChange records one field's transition.
type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// ChangeResult is the outcome of comparing a fetched document against its
// stored current version.
type ChangeResult struct {
	IsNew             bool
	HasChanged        bool
	ChangeType        string
	Changes           map[string]FieldChange
	PreviousVersion   *Version
	SignificanceScore float64
	RequiresReview    bool
}

// ContentHash digests the substantive fields: summary, topics and key
// numbers, lower-cased and joined. Formatting-only edits hash identically.
func ContentHash(doc *DocumentFields) string {
	parts := append([]string{doc.Summary}, doc.Topics...)
	parts = append(parts, doc.KeyNumbers...)
	sum := sha256.Sum256([]byte(strings.ToLower(strings.Join(parts, "|"))))
	return hex.EncodeToString(sum[:])
}

// MetadataHash digests the descriptive fields.
func MetadataHash(doc *DocumentFields) string {
	joined := strings.Join([]string{
		doc.Title, doc.IssuingBody, doc.EffectiveDate, doc.PublishedDate, doc.Category,
	}, "|")
	sum := sha256.Sum256([]byte(strings.ToLower(joined)))
	return hex.EncodeToString(sum[:])
}

// DetectChange compares doc against the stored current version. previous
// is nil for a first-seen document. Pure function; persistence is the
// Store's job.
func DetectChange(previous *Version, doc *DocumentFields) *ChangeResult {
	if previous == nil {
		return &ChangeResult{
			IsNew:      true,
			ChangeType: ChangeTypeNew,
		}
	}

	contentHash := ContentHash(doc)
	metadataHash := MetadataHash(doc)

	if contentHash == previous.ContentHash && metadataHash == previous.MetadataHash {
		return &ChangeResult{
			ChangeType:      ChangeTypeNone,
			PreviousVersion: previous,
		}
	}

	changes := diffFields(previous, doc, contentHash)

	score := 0.0
	for field := range changes {
		score += fieldWeights[field]
	}
	if score > 1.0 {
		score = 1.0
	}

	return &ChangeResult{
		HasChanged:        true,
		ChangeType:        classifyChange(changes),
		Changes:           changes,
		PreviousVersion:   previous,
		SignificanceScore: score,
		RequiresReview:    score >= reviewThreshold,
	}
}

func diffFields(previous *Version, doc *DocumentFields, contentHash string) map[string]FieldChange {
	changes := make(map[string]FieldChange)

	if contentHash != previous.ContentHash {
		changes["content"] = FieldChange{Old: previous.ContentHash, New: contentHash}
	}

	old := previous.Fields
	pairs := []struct {
		field    string
		old, new string
	}{
		{"title", old.Title, doc.Title},
		{"issuing_body", old.IssuingBody, doc.IssuingBody},
		{"effective_date", old.EffectiveDate, doc.EffectiveDate},
		{"published_date", old.PublishedDate, doc.PublishedDate},
		{"category", old.Category, doc.Category},
		{"summary", old.Summary, doc.Summary},
	}

	for _, p := range pairs {
		if p.old != p.new {
			changes[p.field] = FieldChange{Old: p.old, New: p.new}
		}
	}

	return changes
}

// classifyChange assigns the change type by priority: content beats title
// beats dates beats everything else.
func classifyChange(changes map[string]FieldChange) string {
	if _, ok := changes["content"]; ok {
		return ChangeTypeContent
	}
	if _, ok := changes["title"]; ok {
		return ChangeTypeTitle
	}
	if _, hasEffective := changes["effective_date"]; hasEffective {
		return ChangeTypeDate
	}
	if _, hasPublished := changes["published_date"]; hasPublished {
		return ChangeTypeDate
	}
	return ChangeTypeMetadata
}
