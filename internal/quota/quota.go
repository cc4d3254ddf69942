package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/heraldhq/herald/internal/database"
	apperrors "github.com/heraldhq/herald/internal/errors"
	"github.com/heraldhq/herald/internal/telemetry"
)

// Tables tracked by quota managers. Translation quotas count characters,
// email quotas count messages.
const (
	TableTranslation = "translation_usage"
	TableEmail       = "email_usage"
)

// exhaustionTTL is how long a provider stays sidelined after it rejects a
// request for quota reasons.
const exhaustionTTL = 5 * time.Minute

// Manager tracks monthly per-provider usage against configured limits.
//
// The persisted counter is advisory and fails open: if the store is
// unreachable the provider is still tried. A provider's own quota rejection
// is authoritative and sidelines it for five minutes via MarkExhausted.
type Manager struct {
	db          *database.DB
	table       string
	limits      map[string]int64
	exhausted   *gocache.Cache
	logger      *telemetry.ContextualLogger
	onExhausted func(provider string)
}

// NewManager creates a quota manager writing to the given usage table.
// Limits map provider name to monthly capacity; a missing or zero limit
// means unlimited.
func NewManager(db *database.DB, table string, limits map[string]int64, logger *telemetry.ContextualLogger) (*Manager, error) {
	if table != TableTranslation && table != TableEmail {
		return nil, fmt.Errorf("unknown quota table %q", table)
	}

	return &Manager{
		db:        db,
		table:     table,
		limits:    limits,
		exhausted: gocache.New(exhaustionTTL, 10*time.Minute),
		logger:    logger,
	}, nil
}

// Month returns the current usage period key (UTC, YYYY-MM).
func Month() string {
	return time.Now().UTC().Format("2006-01")
}

// Allow reports whether provider may be used for another units of work.
// It returns a QUOTA_EXHAUSTED error when the provider is sidelined or the
// monthly counter says the limit is reached.
func (m *Manager) Allow(ctx context.Context, provider string, units int64) error {
	if m.IsExhausted(provider) {
		return apperrors.New(apperrors.CodeQuotaExhausted, fmt.Sprintf("provider %s is quota-exhausted", provider))
	}

	limit := m.limits[provider]
	if limit <= 0 {
		return nil
	}

	used, err := m.used(ctx, provider)
	if err != nil {
		// Fail open: an unreachable counter must not block delivery.
		if m.logger != nil {
			m.logger.WithError(err).WithField("provider", provider).Warn("Quota lookup failed, allowing request")
		}
		return nil
	}

	if used+units > limit {
		return apperrors.New(apperrors.CodeQuotaExhausted,
			fmt.Sprintf("provider %s monthly quota reached (%d/%d)", provider, used, limit))
	}

	return nil
}

// Record adds units to the provider's counter for the current month.
// Failures are logged, not returned; usage accounting is best-effort.
func (m *Manager) Record(ctx context.Context, provider string, units int64) {
	query := fmt.Sprintf(`
		INSERT INTO %s (provider, month, units_used, unit_limit, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (provider, month)
		DO UPDATE SET units_used = %s.units_used + EXCLUDED.units_used,
		              unit_limit = EXCLUDED.unit_limit,
		              updated_at = NOW()`, m.table, m.table)

	if _, err := m.db.ExecContext(ctx, query, provider, Month(), units, m.limits[provider]); err != nil {
		if m.logger != nil {
			m.logger.WithError(err).WithField("provider", provider).Warn("Failed to record quota usage")
		}
	}
}

// SetExhaustionListener registers fn to be notified whenever a provider is
// sidelined. Set it during startup, before the manager sees traffic.
func (m *Manager) SetExhaustionListener(fn func(provider string)) {
	m.onExhausted = fn
}

// MarkExhausted sidelines provider for five minutes. Called when the
// provider itself rejects a request for quota reasons.
func (m *Manager) MarkExhausted(provider string) {
	m.exhausted.Set(provider, time.Now(), exhaustionTTL)
	if m.onExhausted != nil {
		m.onExhausted(provider)
	}
}

// IsExhausted reports whether provider is currently sidelined.
func (m *Manager) IsExhausted(provider string) bool {
	_, found := m.exhausted.Get(provider)
	return found
}

// UsagePercent reports how much of the monthly limit provider has consumed,
// in [0, 100]. Unlimited providers and lookup failures report 0.
func (m *Manager) UsagePercent(ctx context.Context, provider string) float64 {
	limit := m.limits[provider]
	if limit <= 0 {
		return 0
	}

	used, err := m.used(ctx, provider)
	if err != nil {
		return 0
	}

	pct := float64(used) / float64(limit) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (m *Manager) used(ctx context.Context, provider string) (int64, error) {
	query := fmt.Sprintf(`SELECT units_used FROM %s WHERE provider = $1 AND month = $2`, m.table)

	var used int64
	err := m.db.QueryRowContext(ctx, query, provider, Month()).Scan(&used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return used, nil
}
