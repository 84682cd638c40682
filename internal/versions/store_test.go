package versions

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	client, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewStore(client), mock
}

func currentVersionRows(doc *DocumentFields, versionNumber int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "source_id", "url", "version_number", "is_current", "content_hash", "metadata_hash",
		"title", "summary", "category", "issuing_body", "effective_date", "published_date",
		"topics", "key_numbers", "created_at",
	}).AddRow(
		"ver-1", "src-1", "https://example.com/doc", versionNumber, true,
		ContentHash(doc), MetadataHash(doc),
		doc.Title, doc.Summary, doc.Category, doc.IssuingBody,
		doc.EffectiveDate, doc.PublishedDate,
		[]byte("{capital,banking}"), []byte(`{8%,"10.5%"}`), time.Now(),
	)
}

func TestProcessDocumentFirstSeen(t *testing.T) {
	store, mock := newMockStore(t)
	doc := baseDoc()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, source_id, url, version_number`).
		WithArgs("src-1", "https://example.com/doc").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`INSERT INTO document_versions`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ver-1"))
	mock.ExpectExec(`INSERT INTO document_changes`).
		WithArgs("src-1", "https://example.com/doc", nil, "ver-1",
			ChangeTypeNew, sqlmock.AnyArg(), 0.0, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := store.ProcessDocument(context.Background(), "src-1", "https://example.com/doc", doc)
	require.NoError(t, err)

	assert.True(t, result.IsNew)
	assert.Equal(t, ChangeTypeNew, result.ChangeType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDocumentUnchangedWritesNothing(t *testing.T) {
	store, mock := newMockStore(t)
	doc := baseDoc()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, source_id, url, version_number`).
		WithArgs("src-1", "https://example.com/doc").
		WillReturnRows(currentVersionRows(doc, 3))
	mock.ExpectCommit()

	result, err := store.ProcessDocument(context.Background(), "src-1", "https://example.com/doc", doc)
	require.NoError(t, err)

	assert.False(t, result.IsNew)
	assert.False(t, result.HasChanged)
	assert.Equal(t, ChangeTypeNone, result.ChangeType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDocumentChangeIncrementsVersion(t *testing.T) {
	store, mock := newMockStore(t)

	updated := baseDoc()
	updated.Title = "Capital Requirements Amendment (Revised)"

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, source_id, url, version_number`).
		WithArgs("src-1", "https://example.com/doc").
		WillReturnRows(currentVersionRows(baseDoc(), 3))
	// The old current row is retired inside the same transaction
	mock.ExpectExec(`UPDATE document_versions SET is_current = FALSE`).
		WithArgs("src-1", "https://example.com/doc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO document_versions`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ver-4"))
	mock.ExpectExec(`INSERT INTO document_changes`).
		WithArgs("src-1", "https://example.com/doc", "ver-1", "ver-4",
			ChangeTypeTitle, sqlmock.AnyArg(), 0.3, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := store.ProcessDocument(context.Background(), "src-1", "https://example.com/doc", updated)
	require.NoError(t, err)

	assert.True(t, result.HasChanged)
	assert.Equal(t, ChangeTypeTitle, result.ChangeType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDocumentRollsBackOnInsertFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, source_id, url, version_number`).
		WithArgs("src-1", "https://example.com/doc").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`INSERT INTO document_versions`).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := store.ProcessDocument(context.Background(), "src-1", "https://example.com/doc", baseDoc())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
