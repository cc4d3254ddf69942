package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Repository is the persistence boundary for the orchestrator, the queue
// processors, and the webhook pipeline.
type Repository interface {
	// GetPreferences loads a user's preference tree, materialising the
	// defaults on first read.
	GetPreferences(ctx context.Context, userID uuid.UUID) (*Preferences, error)

	// UpdatePreferences upserts the full preference tree and returns the
	// stored copy. Deep-merging a partial happens before this call.
	UpdatePreferences(ctx context.Context, prefs *Preferences) (*Preferences, error)

	// RegisterDeviceToken upserts a push target, reactivating it if it was
	// previously deactivated.
	RegisterDeviceToken(ctx context.Context, token *DeviceToken) (*DeviceToken, error)

	// ListActiveDeviceTokens returns a user's active push targets,
	// optionally narrowed to specific platforms.
	ListActiveDeviceTokens(ctx context.Context, userID uuid.UUID, platforms ...Platform) ([]*DeviceToken, error)

	// DeactivateToken disables every row holding the given token. Called
	// when a provider reports the token invalid.
	DeactivateToken(ctx context.Context, token string) error

	// TouchTokens refreshes last_used_at after a successful push.
	TouchTokens(ctx context.Context, tokens []string) error

	// InsertDeliveryLog upserts the audit row for (notification, channel).
	InsertDeliveryLog(ctx context.Context, rec *DeliveryRecord) error

	// UpdateDeliveryByMessageID applies a webhook status update to the row
	// matching the provider message id. Returns affected row count.
	UpdateDeliveryByMessageID(ctx context.Context, provider, messageID string, status DeliveryStatus, errorCode *string) (int64, error)

	// DeliveryStats aggregates delivery log counters since the given time.
	DeliveryStats(ctx context.Context, since time.Time) (*DeliveryStats, error)

	// QueueInsert persists a scheduled or digest-deferred item.
	QueueInsert(ctx context.Context, item *QueueItem) (*QueueItem, error)

	// QueueClaim atomically claims due scheduled items (digest rows are
	// flushed separately), bumping attempts and setting processing.
	QueueClaim(ctx context.Context, limit int) ([]*QueueItem, error)

	// DigestDue lists due digest rows for a frequency without claiming.
	DigestDue(ctx context.Context, freq Frequency, limit int) ([]*QueueItem, error)

	// DigestClaim atomically claims due digest rows for a frequency.
	DigestClaim(ctx context.Context, freq Frequency, limit int) ([]*QueueItem, error)

	// QueueMarkStatus moves an item to the given status.
	QueueMarkStatus(ctx context.Context, id uuid.UUID, status QueueStatus, lastError *string) error

	// QueueResetStuck returns processing items older than the cutoff to
	// pending. Returns the number of recovered rows.
	QueueResetStuck(ctx context.Context, olderThan time.Time) (int64, error)

	// QueueReplayFailed resets failed items for another round of attempts.
	QueueReplayFailed(ctx context.Context, limit int) (int64, error)

	// InsertInApp stores an in-app inbox row.
	InsertInApp(ctx context.Context, n *InAppNotification) (*InAppNotification, error)

	// ListInApp returns a user's inbox, newest first.
	ListInApp(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*InAppNotification, error)

	// MarkInAppRead marks the given rows read; with no ids it marks all of
	// the user's unread rows. Returns affected row count.
	MarkInAppRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)

	// GetSuppression looks up a hard-suppressed address.
	GetSuppression(ctx context.Context, email string) (*Suppression, error)

	// UpsertSuppression records a bounced or complained address.
	UpsertSuppression(ctx context.Context, s *Suppression) error

	// GetTemplate loads an active template by slug.
	GetTemplate(ctx context.Context, slug string) (*Template, error)

	// AutomationInsert schedules a template email.
	AutomationInsert(ctx context.Context, item *AutomationItem) (*AutomationItem, error)

	// AutomationDue lists due automation items without claiming (dry runs).
	AutomationDue(ctx context.Context, limit int) ([]*AutomationItem, error)

	// AutomationClaim atomically claims due automation items.
	AutomationClaim(ctx context.Context, limit int) ([]*AutomationItem, error)

	// AutomationMarkStatus moves an automation item to the given status.
	AutomationMarkStatus(ctx context.Context, id uuid.UUID, status QueueStatus, lastError *string) error

	// RecordProviderResult folds one send outcome into the provider's
	// health counters.
	RecordProviderResult(ctx context.Context, provider string, success bool, latencyMs int64, lastError string) error

	// ListProviderHealth returns the persisted health counters.
	ListProviderHealth(ctx context.Context) ([]*ProviderHealth, error)
}

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repository bound to the given pool.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("notification: not found")

// ErrConflict is returned on a unique constraint violation.
var ErrConflict = errors.New("notification: conflict")

const preferenceColumns = `user_id, push_enabled, email_enabled, sms_enabled, in_app_enabled,
		email_address, email_verified, phone_number, phone_verified,
		quiet_hours, dnd, digest, categories, created_at, updated_at`

// GetPreferences loads the tree, inserting the defaults on first read.
func (r *PostgresRepository) GetPreferences(ctx context.Context, userID uuid.UUID) (*Preferences, error) {
	prefs, err := r.selectPreferences(ctx, userID)
	if err == nil {
		return prefs, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	defaults := DefaultPreferences(userID)
	if _, err := r.upsertPreferences(ctx, defaults, false); err != nil {
		return nil, err
	}
	return r.selectPreferences(ctx, userID)
}

// UpdatePreferences persists the merged tree.
func (r *PostgresRepository) UpdatePreferences(ctx context.Context, prefs *Preferences) (*Preferences, error) {
	return r.upsertPreferences(ctx, prefs, true)
}

func (r *PostgresRepository) selectPreferences(ctx context.Context, userID uuid.UUID) (*Preferences, error) {
	query := `SELECT ` + preferenceColumns + ` FROM notification_preferences WHERE user_id = $1`

	var p Preferences
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID, &p.PushEnabled, &p.EmailEnabled, &p.SMSEnabled, &p.InAppEnabled,
		&p.EmailAddress, &p.EmailVerified, &p.PhoneNumber, &p.PhoneVerified,
		&p.QuietHours, &p.Dnd, &p.Digest, &p.Categories, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) upsertPreferences(ctx context.Context, prefs *Preferences, overwrite bool) (*Preferences, error) {
	conflict := `ON CONFLICT (user_id) DO NOTHING`
	if overwrite {
		conflict = `ON CONFLICT (user_id) DO UPDATE SET
			push_enabled = EXCLUDED.push_enabled,
			email_enabled = EXCLUDED.email_enabled,
			sms_enabled = EXCLUDED.sms_enabled,
			in_app_enabled = EXCLUDED.in_app_enabled,
			email_address = EXCLUDED.email_address,
			email_verified = EXCLUDED.email_verified,
			phone_number = EXCLUDED.phone_number,
			phone_verified = EXCLUDED.phone_verified,
			quiet_hours = EXCLUDED.quiet_hours,
			dnd = EXCLUDED.dnd,
			digest = EXCLUDED.digest,
			categories = EXCLUDED.categories,
			updated_at = NOW()`
	}

	query := `
		INSERT INTO notification_preferences (
			user_id, push_enabled, email_enabled, sms_enabled, in_app_enabled,
			email_address, email_verified, phone_number, phone_verified,
			quiet_hours, dnd, digest, categories, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		` + conflict

	_, err := r.db.ExecContext(ctx, query,
		prefs.UserID, prefs.PushEnabled, prefs.EmailEnabled, prefs.SMSEnabled, prefs.InAppEnabled,
		prefs.EmailAddress, prefs.EmailVerified, prefs.PhoneNumber, prefs.PhoneVerified,
		prefs.QuietHours, prefs.Dnd, prefs.Digest, prefs.Categories,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert preferences: %w", err)
	}

	if !overwrite {
		return prefs, nil
	}
	return r.selectPreferences(ctx, prefs.UserID)
}

const deviceTokenColumns = `id, user_id, token, platform, p256dh, auth, is_active, last_used_at, created_at`

// RegisterDeviceToken upserts a push target for the user.
func (r *PostgresRepository) RegisterDeviceToken(ctx context.Context, token *DeviceToken) (*DeviceToken, error) {
	id := token.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	query := `
		INSERT INTO device_tokens (id, user_id, token, platform, p256dh, auth, is_active, last_used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW(), NOW())
		ON CONFLICT (user_id, token) DO UPDATE SET
			platform = EXCLUDED.platform,
			p256dh = EXCLUDED.p256dh,
			auth = EXCLUDED.auth,
			is_active = TRUE,
			last_used_at = NOW()
		RETURNING ` + deviceTokenColumns

	var t DeviceToken
	err := r.db.QueryRowContext(ctx, query,
		id, token.UserID, token.Token, token.Platform, token.P256dh, token.Auth,
	).Scan(&t.ID, &t.UserID, &t.Token, &t.Platform, &t.P256dh, &t.Auth, &t.IsActive, &t.LastUsedAt, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to register device token: %w", err)
	}
	return &t, nil
}

// ListActiveDeviceTokens returns active push targets, optionally filtered
// by platform.
func (r *PostgresRepository) ListActiveDeviceTokens(ctx context.Context, userID uuid.UUID, platforms ...Platform) ([]*DeviceToken, error) {
	query := `SELECT ` + deviceTokenColumns + ` FROM device_tokens WHERE user_id = $1 AND is_active`
	args := []interface{}{userID}

	if len(platforms) > 0 {
		names := make([]string, len(platforms))
		for i, p := range platforms {
			names[i] = string(p)
		}
		query += ` AND platform = ANY($2)`
		args = append(args, pq.Array(names))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []*DeviceToken
	for rows.Next() {
		var t DeviceToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.Platform, &t.P256dh, &t.Auth, &t.IsActive, &t.LastUsedAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device tokens: %w", err)
	}
	return tokens, nil
}

// DeactivateToken disables the token everywhere it is registered.
func (r *PostgresRepository) DeactivateToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE device_tokens SET is_active = FALSE WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to deactivate token: %w", err)
	}
	return nil
}

// TouchTokens refreshes last_used_at for tokens that just delivered.
func (r *PostgresRepository) TouchTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE device_tokens SET last_used_at = NOW() WHERE token = ANY($1)`,
		pq.Array(tokens),
	)
	if err != nil {
		return fmt.Errorf("failed to touch tokens: %w", err)
	}
	return nil
}

// InsertDeliveryLog upserts the audit row. A later terminal outcome for the
// same (notification, channel) replaces the earlier scheduled/deferred one.
func (r *PostgresRepository) InsertDeliveryLog(ctx context.Context, rec *DeliveryRecord) error {
	id := rec.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	query := `
		INSERT INTO notification_delivery_log (
			id, notification_id, user_id, channel, provider, status,
			attempts, error_code, error_message, latency_ms, provider_message_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (notification_id, channel) DO UPDATE SET
			provider = EXCLUDED.provider,
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			latency_ms = EXCLUDED.latency_ms,
			provider_message_id = COALESCE(EXCLUDED.provider_message_id, notification_delivery_log.provider_message_id),
			updated_at = NOW()
	`

	_, err := r.db.ExecContext(ctx, query,
		id, rec.NotificationID, rec.UserID, rec.Channel, rec.Provider, rec.Status,
		rec.Attempts, rec.ErrorCode, rec.ErrorMessage, rec.LatencyMs, rec.ProviderMessageID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert delivery log: %w", err)
	}
	return nil
}

// UpdateDeliveryByMessageID applies a provider webhook update.
func (r *PostgresRepository) UpdateDeliveryByMessageID(ctx context.Context, provider, messageID string, status DeliveryStatus, errorCode *string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE notification_delivery_log
		SET status = $3,
			error_code = COALESCE($4, error_code),
			updated_at = NOW()
		WHERE provider = $1 AND provider_message_id = $2
	`, provider, messageID, status, errorCode)
	if err != nil {
		return 0, fmt.Errorf("failed to update delivery by message id: %w", err)
	}
	return result.RowsAffected()
}

// DeliveryStats aggregates the delivery log since the given instant.
func (r *PostgresRepository) DeliveryStats(ctx context.Context, since time.Time) (*DeliveryStats, error) {
	stats := &DeliveryStats{
		Since:     since,
		ByStatus:  make(map[string]int64),
		ByChannel: make(map[string]int64),
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT channel, status, COUNT(*)
		FROM notification_delivery_log
		WHERE created_at >= $1
		GROUP BY channel, status
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var channel, status string
		var count int64
		if err := rows.Scan(&channel, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan delivery stats: %w", err)
		}
		stats.Total += count
		stats.ByStatus[status] += count
		stats.ByChannel[channel] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery stats: %w", err)
	}
	return stats, nil
}

const queueColumns = `id, user_id, payload, status, attempts, scheduled_for,
		consolidation_key, priority, last_error, created_at, updated_at`

// QueueInsert persists a deferred item.
func (r *PostgresRepository) QueueInsert(ctx context.Context, item *QueueItem) (*QueueItem, error) {
	id := item.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	priority := item.Priority
	if priority == 0 {
		priority = item.Payload.EffectivePriority().QueueWeight()
	}

	query := `
		INSERT INTO notification_queue (
			id, user_id, payload, status, attempts, scheduled_for,
			consolidation_key, priority, created_at, updated_at
		) VALUES ($1, $2, $3, 'pending', 0, $4, $5, $6, NOW(), NOW())
		RETURNING ` + queueColumns

	var q QueueItem
	err := r.db.QueryRowContext(ctx, query,
		id, item.UserID, item.Payload, item.ScheduledFor, item.ConsolidationKey, priority,
	).Scan(
		&q.ID, &q.UserID, &q.Payload, &q.Status, &q.Attempts, &q.ScheduledFor,
		&q.ConsolidationKey, &q.Priority, &q.LastError, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to insert queue item: %w", err)
	}
	return &q, nil
}

// QueueClaim claims due scheduled items with SKIP LOCKED so concurrent
// workers never claim the same row. Digest rows are left for DigestClaim.
func (r *PostgresRepository) QueueClaim(ctx context.Context, limit int) ([]*QueueItem, error) {
	query := `
		UPDATE notification_queue
		SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notification_queue
			WHERE status = 'pending'
				AND scheduled_for <= NOW()
				AND consolidation_key IS NULL
			ORDER BY scheduled_for ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queueColumns

	return r.queryQueueItems(ctx, query, limit)
}

// DigestDue lists due digest rows without claiming them (dry runs).
func (r *PostgresRepository) DigestDue(ctx context.Context, freq Frequency, limit int) ([]*QueueItem, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM notification_queue
		WHERE status = 'pending'
			AND scheduled_for <= NOW()
			AND consolidation_key LIKE $1
		ORDER BY scheduled_for ASC, created_at ASC
		LIMIT $2
	`
	return r.queryQueueItems(ctx, query, string(freq)+"/%", limit)
}

// DigestClaim claims due digest rows for one frequency.
func (r *PostgresRepository) DigestClaim(ctx context.Context, freq Frequency, limit int) ([]*QueueItem, error) {
	query := `
		UPDATE notification_queue
		SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notification_queue
			WHERE status = 'pending'
				AND scheduled_for <= NOW()
				AND consolidation_key LIKE $1
			ORDER BY scheduled_for ASC, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queueColumns

	return r.queryQueueItems(ctx, query, string(freq)+"/%", limit)
}

func (r *PostgresRepository) queryQueueItems(ctx context.Context, query string, args ...interface{}) ([]*QueueItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*QueueItem
	for rows.Next() {
		var q QueueItem
		err := rows.Scan(
			&q.ID, &q.UserID, &q.Payload, &q.Status, &q.Attempts, &q.ScheduledFor,
			&q.ConsolidationKey, &q.Priority, &q.LastError, &q.CreatedAt, &q.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, &q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue items: %w", err)
	}
	return items, nil
}

// QueueMarkStatus moves an item to the given status.
func (r *PostgresRepository) QueueMarkStatus(ctx context.Context, id uuid.UUID, status QueueStatus, lastError *string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE notification_queue
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, id, status, lastError)
	if err != nil {
		return fmt.Errorf("failed to mark queue item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// QueueResetStuck recovers items stuck in processing.
func (r *PostgresRepository) QueueResetStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE notification_queue
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck queue items: %w", err)
	}
	return result.RowsAffected()
}

// QueueReplayFailed gives failed items a fresh attempt budget.
func (r *PostgresRepository) QueueReplayFailed(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = 100
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE notification_queue
		SET status = 'pending', attempts = 0, last_error = NULL, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notification_queue
			WHERE status = 'failed'
			ORDER BY updated_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
	`, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to replay failed queue items: %w", err)
	}
	return result.RowsAffected()
}

const inAppColumns = `id, user_id, type, title, body, data, read_at, created_at`

// InsertInApp stores an inbox row.
func (r *PostgresRepository) InsertInApp(ctx context.Context, n *InAppNotification) (*InAppNotification, error) {
	id := n.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	query := `
		INSERT INTO in_app_notifications (id, user_id, type, title, body, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING ` + inAppColumns

	var row InAppNotification
	err := r.db.QueryRowContext(ctx, query, id, n.UserID, n.Type, n.Title, n.Body, n.Data).Scan(
		&row.ID, &row.UserID, &row.Type, &row.Title, &row.Body, &row.Data, &row.ReadAt, &row.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert in-app notification: %w", err)
	}
	return &row, nil
}

// ListInApp returns the user's inbox, newest first.
func (r *PostgresRepository) ListInApp(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*InAppNotification, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + inAppColumns + ` FROM in_app_notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list in-app notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*InAppNotification
	for rows.Next() {
		var row InAppNotification
		if err := rows.Scan(&row.ID, &row.UserID, &row.Type, &row.Title, &row.Body, &row.Data, &row.ReadAt, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan in-app notification: %w", err)
		}
		items = append(items, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating in-app notifications: %w", err)
	}
	return items, nil
}

// MarkInAppRead marks rows read; with no ids it clears the whole inbox.
func (r *PostgresRepository) MarkInAppRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	query := `UPDATE in_app_notifications SET read_at = NOW() WHERE user_id = $1 AND read_at IS NULL`
	args := []interface{}{userID}

	if len(ids) > 0 {
		query += ` AND id = ANY($2)`
		args = append(args, pq.Array(ids))
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark in-app notifications read: %w", err)
	}
	return result.RowsAffected()
}

// GetSuppression looks up a hard-suppressed address.
func (r *PostgresRepository) GetSuppression(ctx context.Context, email string) (*Suppression, error) {
	var s Suppression
	err := r.db.QueryRowContext(ctx, `
		SELECT email, reason, provider, created_at FROM email_suppressions WHERE email = $1
	`, email).Scan(&s.Email, &s.Reason, &s.Provider, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get suppression: %w", err)
	}
	return &s, nil
}

// UpsertSuppression records a bounced or complained address.
func (r *PostgresRepository) UpsertSuppression(ctx context.Context, s *Suppression) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_suppressions (email, reason, provider, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (email) DO UPDATE SET
			reason = EXCLUDED.reason,
			provider = EXCLUDED.provider
	`, s.Email, s.Reason, s.Provider)
	if err != nil {
		return fmt.Errorf("failed to upsert suppression: %w", err)
	}
	return nil
}

// GetTemplate loads an active template by slug.
func (r *PostgresRepository) GetTemplate(ctx context.Context, slug string) (*Template, error) {
	var t Template
	err := r.db.QueryRowContext(ctx, `
		SELECT slug, name, category, subject, html_content, text_content,
			variables, metadata, is_active, version, updated_at
		FROM email_templates
		WHERE slug = $1 AND is_active
	`, slug).Scan(
		&t.Slug, &t.Name, &t.Category, &t.Subject, &t.HTMLContent, &t.TextContent,
		&t.Variables, &t.Metadata, &t.IsActive, &t.Version, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &t, nil
}

const automationColumns = `id, recipient, template_slug, variables, locale, status,
		attempts, scheduled_for, last_error, created_at, updated_at`

// AutomationInsert schedules a template email.
func (r *PostgresRepository) AutomationInsert(ctx context.Context, item *AutomationItem) (*AutomationItem, error) {
	id := item.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	locale := item.Locale
	if locale == "" {
		locale = "en"
	}
	scheduledFor := item.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = time.Now()
	}

	query := `
		INSERT INTO email_automation_queue (
			id, recipient, template_slug, variables, locale, status,
			attempts, scheduled_for, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, NOW(), NOW())
		RETURNING ` + automationColumns

	var a AutomationItem
	err := r.db.QueryRowContext(ctx, query,
		id, item.Recipient, item.TemplateSlug, item.Variables, locale, scheduledFor,
	).Scan(
		&a.ID, &a.Recipient, &a.TemplateSlug, &a.Variables, &a.Locale, &a.Status,
		&a.Attempts, &a.ScheduledFor, &a.LastError, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert automation item: %w", err)
	}
	return &a, nil
}

// AutomationDue lists due automation items without claiming them.
func (r *PostgresRepository) AutomationDue(ctx context.Context, limit int) ([]*AutomationItem, error) {
	query := `
		SELECT ` + automationColumns + `
		FROM email_automation_queue
		WHERE status = 'pending' AND scheduled_for <= NOW()
		ORDER BY scheduled_for ASC
		LIMIT $1
	`
	return r.queryAutomationItems(ctx, query, limit)
}

// AutomationClaim claims due automation items with SKIP LOCKED.
func (r *PostgresRepository) AutomationClaim(ctx context.Context, limit int) ([]*AutomationItem, error) {
	query := `
		UPDATE email_automation_queue
		SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM email_automation_queue
			WHERE status = 'pending' AND scheduled_for <= NOW()
			ORDER BY scheduled_for ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + automationColumns

	return r.queryAutomationItems(ctx, query, limit)
}

func (r *PostgresRepository) queryAutomationItems(ctx context.Context, query string, args ...interface{}) ([]*AutomationItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query automation items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*AutomationItem
	for rows.Next() {
		var a AutomationItem
		err := rows.Scan(
			&a.ID, &a.Recipient, &a.TemplateSlug, &a.Variables, &a.Locale, &a.Status,
			&a.Attempts, &a.ScheduledFor, &a.LastError, &a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation item: %w", err)
		}
		items = append(items, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating automation items: %w", err)
	}
	return items, nil
}

// AutomationMarkStatus moves an automation item to the given status.
func (r *PostgresRepository) AutomationMarkStatus(ctx context.Context, id uuid.UUID, status QueueStatus, lastError *string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE email_automation_queue
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, id, status, lastError)
	if err != nil {
		return fmt.Errorf("failed to mark automation item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordProviderResult folds one outcome into the provider's counters.
func (r *PostgresRepository) RecordProviderResult(ctx context.Context, provider string, success bool, latencyMs int64, lastError string) error {
	var successCount, failureCount int64
	var lastSuccessAt, lastFailureAt *time.Time
	var errText *string

	now := time.Now()
	if success {
		successCount = 1
		lastSuccessAt = &now
	} else {
		failureCount = 1
		lastFailureAt = &now
		if lastError != "" {
			errText = &lastError
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_provider_health_metrics (
			provider, success_count, failure_count, total_latency_ms,
			last_success_at, last_failure_at, last_error, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (provider) DO UPDATE SET
			success_count = email_provider_health_metrics.success_count + EXCLUDED.success_count,
			failure_count = email_provider_health_metrics.failure_count + EXCLUDED.failure_count,
			total_latency_ms = email_provider_health_metrics.total_latency_ms + EXCLUDED.total_latency_ms,
			last_success_at = COALESCE(EXCLUDED.last_success_at, email_provider_health_metrics.last_success_at),
			last_failure_at = COALESCE(EXCLUDED.last_failure_at, email_provider_health_metrics.last_failure_at),
			last_error = COALESCE(EXCLUDED.last_error, email_provider_health_metrics.last_error),
			updated_at = NOW()
	`, provider, successCount, failureCount, latencyMs, lastSuccessAt, lastFailureAt, errText)
	if err != nil {
		return fmt.Errorf("failed to record provider result: %w", err)
	}
	return nil
}

// ListProviderHealth returns the persisted counters for every provider.
func (r *PostgresRepository) ListProviderHealth(ctx context.Context) ([]*ProviderHealth, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT provider, success_count, failure_count, total_latency_ms,
			last_success_at, last_failure_at, last_error, updated_at
		FROM email_provider_health_metrics
		ORDER BY provider
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider health: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*ProviderHealth
	for rows.Next() {
		var h ProviderHealth
		err := rows.Scan(
			&h.Provider, &h.SuccessCount, &h.FailureCount, &h.TotalLatencyMs,
			&h.LastSuccessAt, &h.LastFailureAt, &h.LastError, &h.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider health: %w", err)
		}
		entries = append(entries, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provider health: %w", err)
	}
	return entries, nil
}

// isUniqueViolation checks for PostgreSQL error code 23505.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
