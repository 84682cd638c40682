package db

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindByFingerprintNotFound(t *testing.T) {
	database, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT id, source_id, .+ FROM documents WHERE content_fingerprint = \$1`).
		WithArgs("abc123").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	doc, err := database.FindByFingerprint(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDocumentDuplicateIsNoOp(t *testing.T) {
	database, mock := newMockDB(t)

	doc := &Document{
		SourceID:    "src-1",
		JobID:       "job-1",
		URL:         "https://example.com/news/a",
		Title:       "A",
		Content:     "body",
		Fingerprint: "abc123",
	}

	// First insert lands a row
	mock.ExpectExec(`INSERT INTO documents`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	inserted, err := database.InsertDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Conflicting fingerprint affects zero rows and is not an error
	mock.ExpectExec(`INSERT INTO documents`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	inserted, err = database.InsertDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, inserted)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDocumentDerivesAlertFromSourceType(t *testing.T) {
	database, mock := newMockDB(t)

	doc := &Document{
		SourceID:    "src-policy",
		URL:         "https://regulator.gov/rules/new-rule",
		Fingerprint: "def456",
	}

	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs(doc.SourceID, nil, doc.URL, "", "", doc.Fingerprint,
			nil, SourceTypePolicy, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := database.InsertDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
