package translation

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	return NewPostgresStore(raw), mock
}

var translationCols = []string{
	"content_type", "content_id", "field_name", "target_locale", "source_hash",
	"translated_text", "quality", "provider", "expires_at", "created_at", "updated_at",
}

var queueCols = []string{
	"id", "content_type", "content_id", "field_name", "target_locale",
	"source_text", "source_lang", "status", "attempts", "last_error", "created_at", "updated_at",
}

func TestUpsertTranslation(t *testing.T) {
	store, mock := newTestStore(t)
	expires := time.Now().Add(30 * 24 * time.Hour).UTC()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dynamic_content_translations")).
		WithArgs("listing", "listing-42", "title", "cs", SourceHash("Cozy cabin"),
			"Utulna chata", 0.95, ProviderDeepL, expires).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertTranslation(context.Background(), &Record{
		ContentType:    "listing",
		ContentID:      "listing-42",
		FieldName:      "title",
		TargetLocale:   "cs",
		SourceHash:     SourceHash("Cozy cabin"),
		TranslatedText: "Utulna chata",
		Quality:        0.95,
		Provider:       ProviderDeepL,
		ExpiresAt:      &expires,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTranslation(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM dynamic_content_translations")).
		WithArgs("listing", "listing-42", "title", "cs").
		WillReturnRows(sqlmock.NewRows(translationCols).
			AddRow("listing", "listing-42", "title", "cs", SourceHash("Cozy cabin"),
				"Utulna chata", 0.95, ProviderDeepL, nil, now, now))

	rec, err := store.GetTranslation(context.Background(), "listing", "listing-42", "title", "cs")
	require.NoError(t, err)
	assert.Equal(t, "Utulna chata", rec.TranslatedText)
	assert.Equal(t, ProviderDeepL, rec.Provider)
	assert.Nil(t, rec.ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTranslationMiss(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM dynamic_content_translations")).
		WithArgs("listing", "listing-42", "title", "cs").
		WillReturnRows(sqlmock.NewRows(translationCols))

	_, err := store.GetTranslation(context.Background(), "listing", "listing-42", "title", "cs")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupBySourceHash(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now().UTC()
	hash := SourceHash("Cozy cabin")

	// Newest row wins when several content rows share a source text.
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY updated_at DESC")).
		WithArgs(hash, "cs").
		WillReturnRows(sqlmock.NewRows(translationCols).
			AddRow("adhoc", hash, "text", "cs", hash,
				"Utulna chata", 0.9, ProviderGoogle, nil, now, now))

	rec, err := store.LookupBySourceHash(context.Background(), hash, "cs")
	require.NoError(t, err)
	assert.Equal(t, "Utulna chata", rec.TranslatedText)
	assert.InDelta(t, 0.9, rec.Quality, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueUpsert(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO translation_queue")).
		WithArgs("listing", "listing-42", "description", "de", "A cozy cabin by the lake.", "en").
		WillReturnRows(sqlmock.NewRows(queueCols).
			AddRow("q-1", "listing", "listing-42", "description", "de",
				"A cozy cabin by the lake.", "en", "pending", 0, nil, now, now))

	item, err := store.QueueUpsert(context.Background(), &QueueItem{
		ContentType:  "listing",
		ContentID:    "listing-42",
		FieldName:    "description",
		TargetLocale: "de",
		SourceText:   "A cozy cabin by the lake.",
		SourceLang:   "en",
	})
	require.NoError(t, err)
	assert.Equal(t, "q-1", item.ID)
	assert.Equal(t, QueuePending, item.Status)
	assert.Zero(t, item.Attempts)
	assert.Nil(t, item.LastError)
}

func TestQueueClaim(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(queueCols).
			AddRow("q-1", "listing", "listing-42", "title", "cs", "Cozy cabin", "en", "processing", 1, nil, now, now).
			AddRow("q-2", "listing", "listing-43", "title", "cs", "Lake house", "en", "processing", 2, nil, now, now))

	items, err := store.QueueClaim(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, QueueProcessing, items[0].Status)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Equal(t, "q-2", items[1].ID)
}

func TestQueueClaimEmpty(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(queueCols))

	items, err := store.QueueClaim(context.Background(), 50)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestQueueMarkStatus(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE translation_queue")).
		WithArgs("q-1", "completed", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.QueueMarkStatus(context.Background(), "q-1", QueueCompleted, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueMarkStatusWithError(t *testing.T) {
	store, mock := newTestStore(t)
	msg := "ALL_SERVICES_FAILED: every tier failed"

	mock.ExpectExec(regexp.QuoteMeta("UPDATE translation_queue")).
		WithArgs("q-1", "failed", msg).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.QueueMarkStatus(context.Background(), "q-1", QueueFailed, &msg)
	require.NoError(t, err)
}

func TestQueueMarkStatusMissing(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE translation_queue")).
		WithArgs("q-404", "completed", nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.QueueMarkStatus(context.Background(), "q-404", QueueCompleted, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueueResetStuck(t *testing.T) {
	store, mock := newTestStore(t)
	cutoff := time.Now().Add(-10 * time.Minute).UTC()

	mock.ExpectExec(regexp.QuoteMeta("WHERE status = 'processing' AND updated_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.QueueResetStuck(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestQueueDepth(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 5).
			AddRow("failed", 2))

	depth, err := store.QueueDepth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), depth[QueuePending])
	assert.Equal(t, int64(2), depth[QueueFailed])
	assert.NotContains(t, depth, QueueCompleted)
}
