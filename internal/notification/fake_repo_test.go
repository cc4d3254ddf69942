package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository shared by the package tests. It
// mimics the PostgreSQL semantics the queries rely on: claim bumps
// attempts, delivery logs upsert per (notification, channel), digest rows
// hide from the scheduled claim.
type memRepo struct {
	mu sync.Mutex

	prefs      map[uuid.UUID]*Preferences
	tokens     []*DeviceToken
	deliveries map[string]*DeliveryRecord
	queue      map[uuid.UUID]*QueueItem
	inbox      []*InAppNotification
	suppressed map[string]*Suppression
	templates  map[string]*Template
	automation map[uuid.UUID]*AutomationItem
	health     map[string]*ProviderHealth

	deactivated []string
	touched     []string

	errOn map[string]error

	clock func() time.Time
}

func newMemRepo() *memRepo {
	return &memRepo{
		prefs:      make(map[uuid.UUID]*Preferences),
		deliveries: make(map[string]*DeliveryRecord),
		queue:      make(map[uuid.UUID]*QueueItem),
		suppressed: make(map[string]*Suppression),
		templates:  make(map[string]*Template),
		automation: make(map[uuid.UUID]*AutomationItem),
		health:     make(map[string]*ProviderHealth),
		errOn:      make(map[string]error),
		clock:      time.Now,
	}
}

func (m *memRepo) failWith(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errOn[method] = err
}

func (m *memRepo) injected(method string) error {
	return m.errOn[method]
}

func deliveryKey(id uuid.UUID, ch Channel) string {
	return fmt.Sprintf("%s/%s", id, ch)
}

func (m *memRepo) delivery(id uuid.UUID, ch Channel) *DeliveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deliveries[deliveryKey(id, ch)]
}

func (m *memRepo) queueItems() []*QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*QueueItem, 0, len(m.queue))
	for _, item := range m.queue {
		out = append(out, item)
	}
	return out
}

func (m *memRepo) GetPreferences(_ context.Context, userID uuid.UUID) (*Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("GetPreferences"); err != nil {
		return nil, err
	}
	if p, ok := m.prefs[userID]; ok {
		return p, nil
	}
	p := DefaultPreferences(userID)
	m.prefs[userID] = p
	return p, nil
}

func (m *memRepo) UpdatePreferences(_ context.Context, prefs *Preferences) (*Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *prefs
	cp.UpdatedAt = m.clock()
	m.prefs[prefs.UserID] = &cp
	return &cp, nil
}

func (m *memRepo) RegisterDeviceToken(_ context.Context, token *DeviceToken) (*DeviceToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.UserID == token.UserID && t.Token == token.Token {
			t.Platform = token.Platform
			t.P256dh = token.P256dh
			t.Auth = token.Auth
			t.IsActive = true
			return t, nil
		}
	}
	cp := *token
	cp.ID = uuid.New()
	cp.IsActive = true
	cp.CreatedAt = m.clock()
	m.tokens = append(m.tokens, &cp)
	return &cp, nil
}

func (m *memRepo) ListActiveDeviceTokens(_ context.Context, userID uuid.UUID, platforms ...Platform) ([]*DeviceToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("ListActiveDeviceTokens"); err != nil {
		return nil, err
	}
	var out []*DeviceToken
	for _, t := range m.tokens {
		if t.UserID != userID || !t.IsActive {
			continue
		}
		if len(platforms) > 0 && !platformIn(t.Platform, platforms) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func platformIn(p Platform, set []Platform) bool {
	for _, s := range set {
		if s == p {
			return true
		}
	}
	return false
}

func (m *memRepo) DeactivateToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivated = append(m.deactivated, token)
	for _, t := range m.tokens {
		if t.Token == token {
			t.IsActive = false
		}
	}
	return nil
}

func (m *memRepo) TouchTokens(_ context.Context, tokens []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	m.touched = append(m.touched, tokens...)
	for _, t := range m.tokens {
		for _, token := range tokens {
			if t.Token == token {
				t.LastUsedAt = &now
			}
		}
	}
	return nil
}

func (m *memRepo) InsertDeliveryLog(_ context.Context, rec *DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("InsertDeliveryLog"); err != nil {
		return err
	}
	cp := *rec
	cp.UpdatedAt = m.clock()
	key := deliveryKey(rec.NotificationID, rec.Channel)
	if old, ok := m.deliveries[key]; ok {
		cp.CreatedAt = old.CreatedAt
		if cp.ProviderMessageID == nil {
			cp.ProviderMessageID = old.ProviderMessageID
		}
	} else {
		cp.CreatedAt = cp.UpdatedAt
	}
	m.deliveries[key] = &cp
	return nil
}

func (m *memRepo) UpdateDeliveryByMessageID(_ context.Context, provider, messageID string, status DeliveryStatus, errorCode *string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rec := range m.deliveries {
		if rec.Provider == nil || *rec.Provider != provider {
			continue
		}
		if rec.ProviderMessageID == nil || *rec.ProviderMessageID != messageID {
			continue
		}
		rec.Status = status
		rec.ErrorCode = errorCode
		rec.UpdatedAt = m.clock()
		n++
	}
	return n, nil
}

func (m *memRepo) DeliveryStats(_ context.Context, since time.Time) (*DeliveryStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &DeliveryStats{
		Since:     since,
		ByStatus:  make(map[string]int64),
		ByChannel: make(map[string]int64),
	}
	for _, rec := range m.deliveries {
		if rec.CreatedAt.Before(since) {
			continue
		}
		stats.Total++
		stats.ByStatus[string(rec.Status)]++
		stats.ByChannel[string(rec.Channel)]++
	}
	return stats, nil
}

func (m *memRepo) QueueInsert(_ context.Context, item *QueueItem) (*QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("QueueInsert"); err != nil {
		return nil, err
	}
	cp := *item
	cp.ID = uuid.New()
	cp.Status = QueuePending
	cp.Attempts = 0
	cp.CreatedAt = m.clock()
	cp.UpdatedAt = cp.CreatedAt
	if cp.Priority == 0 {
		cp.Priority = cp.Payload.EffectivePriority().QueueWeight()
	}
	m.queue[cp.ID] = &cp
	return &cp, nil
}

func (m *memRepo) QueueClaim(_ context.Context, limit int) ([]*QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("QueueClaim"); err != nil {
		return nil, err
	}
	now := m.clock()
	var out []*QueueItem
	for _, item := range m.queue {
		if len(out) >= limit {
			break
		}
		if item.Status != QueuePending || item.ConsolidationKey != nil || item.ScheduledFor.After(now) {
			continue
		}
		item.Status = QueueProcessing
		item.Attempts++
		item.UpdatedAt = now
		cp := *item
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memRepo) DigestDue(_ context.Context, freq Frequency, limit int) ([]*QueueItem, error) {
	return m.digestRows(freq, limit, false)
}

func (m *memRepo) DigestClaim(_ context.Context, freq Frequency, limit int) ([]*QueueItem, error) {
	return m.digestRows(freq, limit, true)
}

func (m *memRepo) digestRows(freq Frequency, limit int, claim bool) ([]*QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("DigestClaim"); err != nil && claim {
		return nil, err
	}
	now := m.clock()
	prefix := string(freq) + "/"
	var out []*QueueItem
	for _, item := range m.queue {
		if len(out) >= limit {
			break
		}
		if item.Status != QueuePending || item.ConsolidationKey == nil || item.ScheduledFor.After(now) {
			continue
		}
		if !strings.HasPrefix(*item.ConsolidationKey, prefix) {
			continue
		}
		if claim {
			item.Status = QueueProcessing
			item.Attempts++
			item.UpdatedAt = now
		}
		cp := *item
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memRepo) QueueMarkStatus(_ context.Context, id uuid.UUID, status QueueStatus, lastError *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.queue[id]
	if !ok {
		return ErrNotFound
	}
	item.Status = status
	item.LastError = lastError
	item.UpdatedAt = m.clock()
	return nil
}

func (m *memRepo) QueueResetStuck(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, item := range m.queue {
		if item.Status == QueueProcessing && item.UpdatedAt.Before(olderThan) {
			item.Status = QueuePending
			item.UpdatedAt = m.clock()
			n++
		}
	}
	return n, nil
}

func (m *memRepo) QueueReplayFailed(_ context.Context, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, item := range m.queue {
		if int(n) >= limit {
			break
		}
		if item.Status != QueueFailed {
			continue
		}
		item.Status = QueuePending
		item.Attempts = 0
		item.UpdatedAt = m.clock()
		n++
	}
	return n, nil
}

func (m *memRepo) InsertInApp(_ context.Context, n *InAppNotification) (*InAppNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.CreatedAt = m.clock()
	m.inbox = append(m.inbox, &cp)
	return &cp, nil
}

func (m *memRepo) ListInApp(_ context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*InAppNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*InAppNotification
	for i := len(m.inbox) - 1; i >= 0 && len(out) < limit; i-- {
		n := m.inbox[i]
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.ReadAt != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (m *memRepo) MarkInAppRead(_ context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	var n int64
	for _, item := range m.inbox {
		if item.UserID != userID || item.ReadAt != nil {
			continue
		}
		if len(ids) > 0 && !idIn(item.ID, ids) {
			continue
		}
		item.ReadAt = &now
		n++
	}
	return n, nil
}

func idIn(id uuid.UUID, ids []uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func (m *memRepo) GetSuppression(_ context.Context, email string) (*Suppression, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.suppressed[email]; ok {
		return s, nil
	}
	return nil, ErrNotFound
}

func (m *memRepo) UpsertSuppression(_ context.Context, s *Suppression) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.CreatedAt = m.clock()
	m.suppressed[s.Email] = &cp
	return nil
}

func (m *memRepo) GetTemplate(_ context.Context, slug string) (*Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.templates[slug]; ok && t.IsActive {
		return t, nil
	}
	return nil, ErrNotFound
}

func (m *memRepo) AutomationInsert(_ context.Context, item *AutomationItem) (*AutomationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	cp.ID = uuid.New()
	cp.Status = QueuePending
	if cp.Locale == "" {
		cp.Locale = "en"
	}
	if cp.ScheduledFor.IsZero() {
		cp.ScheduledFor = m.clock()
	}
	cp.CreatedAt = m.clock()
	m.automation[cp.ID] = &cp
	return &cp, nil
}

func (m *memRepo) AutomationDue(_ context.Context, limit int) ([]*AutomationItem, error) {
	return m.automationRows(limit, false)
}

func (m *memRepo) AutomationClaim(_ context.Context, limit int) ([]*AutomationItem, error) {
	return m.automationRows(limit, true)
}

func (m *memRepo) automationRows(limit int, claim bool) ([]*AutomationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	var out []*AutomationItem
	for _, item := range m.automation {
		if len(out) >= limit {
			break
		}
		if item.Status != QueuePending || item.ScheduledFor.After(now) {
			continue
		}
		if claim {
			item.Status = QueueProcessing
			item.Attempts++
		}
		cp := *item
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memRepo) AutomationMarkStatus(_ context.Context, id uuid.UUID, status QueueStatus, lastError *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.automation[id]
	if !ok {
		return ErrNotFound
	}
	item.Status = status
	item.LastError = lastError
	return nil
}

func (m *memRepo) RecordProviderResult(_ context.Context, provider string, success bool, latencyMs int64, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.health[provider]
	if !ok {
		h = &ProviderHealth{Provider: provider}
		m.health[provider] = h
	}
	now := m.clock()
	if success {
		h.SuccessCount++
		h.LastSuccessAt = &now
	} else {
		h.FailureCount++
		h.LastFailureAt = &now
		if lastError != "" {
			h.LastError = &lastError
		}
	}
	h.TotalLatencyMs += latencyMs
	h.UpdatedAt = now
	return nil
}

func (m *memRepo) ListProviderHealth(_ context.Context) ([]*ProviderHealth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ProviderHealth, 0, len(m.health))
	for _, h := range m.health {
		out = append(out, h)
	}
	return out, nil
}

// fakeSender scripts channel outcomes for orchestrator tests.
type fakeSender struct {
	mu      sync.Mutex
	channel Channel
	outcome DeliveryOutcome
	queue   []DeliveryOutcome
	health  HealthStatus
	calls   []*Notification
	targets []Target
}

func newFakeSender(ch Channel, outcome DeliveryOutcome) *fakeSender {
	return &fakeSender{channel: ch, outcome: outcome, health: HealthStatus{Status: "healthy"}}
}

func (f *fakeSender) Send(_ context.Context, n *Notification, target Target) DeliveryOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, n)
	f.targets = append(f.targets, target)
	if len(f.queue) > 0 {
		out := f.queue[0]
		f.queue = f.queue[1:]
		return out
	}
	return f.outcome
}

func (f *fakeSender) Channel() Channel { return f.channel }

func (f *fakeSender) Health(_ context.Context) HealthStatus {
	return f.health
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// testOrchestrator wires an orchestrator over the in-memory repo with a
// frozen clock.
func testOrchestrator(repo *memRepo, at time.Time) *Orchestrator {
	repo.clock = func() time.Time { return at }
	o := NewOrchestrator(repo, DefaultConfig(), nil)
	o.now = func() time.Time { return at }
	return o
}
