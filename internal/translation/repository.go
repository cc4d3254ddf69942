package translation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("translation: not found")

// Store is the persistence boundary for translations: the durable cache tier
// under the LRU and Redis, and the deferred-work queue.
type Store interface {
	// UpsertTranslation writes a translation under its content identity,
	// replacing any previous text for the same field and locale.
	UpsertTranslation(ctx context.Context, rec *Record) error

	// GetTranslation loads a translation by content identity. Expired rows
	// read as missing.
	GetTranslation(ctx context.Context, contentType, contentID, fieldName, targetLocale string) (*Record, error)

	// LookupBySourceHash finds any stored translation of the same source
	// text into the same locale, regardless of which content row paid for
	// it. Expired rows read as missing.
	LookupBySourceHash(ctx context.Context, sourceHash, targetLocale string) (*Record, error)

	// QueueUpsert enqueues a deferred translation. Re-enqueuing the same
	// content identity resets the existing row to pending instead of
	// inserting a duplicate.
	QueueUpsert(ctx context.Context, item *QueueItem) (*QueueItem, error)

	// QueueClaim atomically claims pending items oldest-first, bumping
	// attempts and setting processing.
	QueueClaim(ctx context.Context, limit int) ([]*QueueItem, error)

	// QueueMarkStatus moves an item to the given status.
	QueueMarkStatus(ctx context.Context, id string, status QueueStatus, lastError *string) error

	// QueueResetStuck returns processing items untouched since the cutoff
	// to pending. Returns the number of recovered rows.
	QueueResetStuck(ctx context.Context, olderThan time.Time) (int64, error)

	// QueueDepth counts items per status, for the health endpoint.
	QueueDepth(ctx context.Context) (map[QueueStatus]int64, error)
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store bound to the given pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const translationColumns = `content_type, content_id, field_name, target_locale, source_hash,
		translated_text, quality, provider, expires_at, created_at, updated_at`

// UpsertTranslation writes the row, keyed on the content identity.
func (s *PostgresStore) UpsertTranslation(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO dynamic_content_translations
			(content_type, content_id, field_name, target_locale, source_hash,
			 translated_text, quality, provider, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (content_type, content_id, field_name, target_locale)
		DO UPDATE SET
			source_hash = EXCLUDED.source_hash,
			translated_text = EXCLUDED.translated_text,
			quality = EXCLUDED.quality,
			provider = EXCLUDED.provider,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		rec.ContentType, rec.ContentID, rec.FieldName, rec.TargetLocale, rec.SourceHash,
		rec.TranslatedText, rec.Quality, rec.Provider, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert translation: %w", err)
	}
	return nil
}

// GetTranslation loads a live row by content identity.
func (s *PostgresStore) GetTranslation(ctx context.Context, contentType, contentID, fieldName, targetLocale string) (*Record, error) {
	query := `
		SELECT ` + translationColumns + `
		FROM dynamic_content_translations
		WHERE content_type = $1 AND content_id = $2 AND field_name = $3 AND target_locale = $4
			AND (expires_at IS NULL OR expires_at > NOW())`

	return s.scanRecord(s.db.QueryRowContext(ctx, query, contentType, contentID, fieldName, targetLocale))
}

// LookupBySourceHash reuses any live translation of the same text. Newest
// wins when several content rows share a source.
func (s *PostgresStore) LookupBySourceHash(ctx context.Context, sourceHash, targetLocale string) (*Record, error) {
	query := `
		SELECT ` + translationColumns + `
		FROM dynamic_content_translations
		WHERE source_hash = $1 AND target_locale = $2
			AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY updated_at DESC
		LIMIT 1`

	return s.scanRecord(s.db.QueryRowContext(ctx, query, sourceHash, targetLocale))
}

func (s *PostgresStore) scanRecord(row *sql.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ContentType, &rec.ContentID, &rec.FieldName, &rec.TargetLocale,
		&rec.SourceHash, &rec.TranslatedText, &rec.Quality, &rec.Provider,
		&rec.ExpiresAt, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan translation: %w", err)
	}
	return &rec, nil
}

const queueColumns = `id, content_type, content_id, field_name, target_locale,
		source_text, source_lang, status, attempts, last_error, created_at, updated_at`

// QueueUpsert inserts the item or resets the existing row for its content
// identity back to pending, so a re-save of the source content retranslates
// without duplicating the row.
func (s *PostgresStore) QueueUpsert(ctx context.Context, item *QueueItem) (*QueueItem, error) {
	query := `
		INSERT INTO translation_queue
			(content_type, content_id, field_name, target_locale, source_text, source_lang)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (content_type, content_id, field_name, target_locale)
		DO UPDATE SET
			source_text = EXCLUDED.source_text,
			source_lang = EXCLUDED.source_lang,
			status = 'pending',
			attempts = 0,
			last_error = NULL,
			updated_at = NOW()
		RETURNING ` + queueColumns

	row := s.db.QueryRowContext(ctx, query,
		item.ContentType, item.ContentID, item.FieldName, item.TargetLocale,
		item.SourceText, item.SourceLang)

	claimed, err := scanQueueItem(row)
	if err != nil {
		return nil, fmt.Errorf("enqueue translation: %w", err)
	}
	return claimed, nil
}

// QueueClaim claims pending items with SKIP LOCKED so concurrent workers
// never claim the same row.
func (s *PostgresStore) QueueClaim(ctx context.Context, limit int) ([]*QueueItem, error) {
	query := `
		UPDATE translation_queue
		SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM translation_queue
			WHERE status = 'pending'
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queueColumns

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("claim translation queue: %w", err)
	}
	defer rows.Close()

	var items []*QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("claim translation queue: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// QueueMarkStatus moves an item to the given status.
func (s *PostgresStore) QueueMarkStatus(ctx context.Context, id string, status QueueStatus, lastError *string) error {
	query := `
		UPDATE translation_queue
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, string(status), lastError)
	if err != nil {
		return fmt.Errorf("mark translation item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// QueueResetStuck recovers items a crashed worker left in processing.
func (s *PostgresStore) QueueResetStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE translation_queue
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1`

	res, err := s.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("reset stuck translation items: %w", err)
	}
	return res.RowsAffected()
}

// QueueDepth counts queue rows per status.
func (s *PostgresStore) QueueDepth(ctx context.Context) (map[QueueStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM translation_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("translation queue depth: %w", err)
	}
	defer rows.Close()

	depth := make(map[QueueStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("translation queue depth: %w", err)
		}
		depth[QueueStatus(status)] = count
	}
	return depth, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueItem(row rowScanner) (*QueueItem, error) {
	var item QueueItem
	var status string
	err := row.Scan(&item.ID, &item.ContentType, &item.ContentID, &item.FieldName,
		&item.TargetLocale, &item.SourceText, &item.SourceLang, &status,
		&item.Attempts, &item.LastError, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	item.Status = QueueStatus(status)
	return &item, nil
}
