package notification

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel identifies a delivery channel.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

// AllChannels returns every channel the orchestrator can dispatch to.
func AllChannels() []Channel {
	return []Channel{ChannelPush, ChannelEmail, ChannelSMS, ChannelInApp}
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelPush, ChannelEmail, ChannelSMS, ChannelInApp:
		return true
	}
	return false
}

// Priority controls gate bypasses and provider-side urgency.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Rank orders priorities for comparisons (critical highest).
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// QueueWeight maps a priority onto the 1-10 queue priority column.
func (p Priority) QueueWeight() int {
	switch p {
	case PriorityCritical:
		return 10
	case PriorityHigh:
		return 8
	case PriorityLow:
		return 2
	default:
		return 5
	}
}

// Type is the semantic notification type.
type Type string

const (
	TypeNewMessage           Type = "new_message"
	TypeListingFavorited     Type = "listing_favorited"
	TypeArrangementConfirmed Type = "arrangement_confirmed"
	TypeSystemAnnouncement   Type = "system_announcement"
	TypeAccountSecurity      Type = "account_security"
	TypeVerification         Type = "verification"
	TypePasswordReset        Type = "password_reset"
	TypePromotion            Type = "promotion"
	TypeDigest               Type = "digest"
)

// Category groups types for preference evaluation.
type Category string

const (
	CategoryChats     Category = "chats"
	CategoryPosts     Category = "posts"
	CategorySocial    Category = "social"
	CategorySystem    Category = "system"
	CategorySecurity  Category = "security"
	CategoryMarketing Category = "marketing"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryChats, CategoryPosts, CategorySocial, CategorySystem, CategorySecurity, CategoryMarketing:
		return true
	}
	return false
}

// CategoryFor maps a type onto its preference category. Unknown types
// fall under system so they stay governed by a real preference node.
func CategoryFor(t Type) Category {
	switch t {
	case TypeNewMessage:
		return CategoryChats
	case TypeListingFavorited:
		return CategoryPosts
	case TypeArrangementConfirmed:
		return CategorySocial
	case TypeAccountSecurity, TypeVerification, TypePasswordReset:
		return CategorySecurity
	case TypePromotion:
		return CategoryMarketing
	default:
		return CategorySystem
	}
}

// DefaultPriority is the priority assumed when a request leaves it unset.
func DefaultPriority(t Type) Priority {
	switch t {
	case TypeAccountSecurity, TypeVerification, TypePasswordReset:
		return PriorityCritical
	case TypeNewMessage, TypeArrangementConfirmed:
		return PriorityHigh
	case TypePromotion:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// IsCriticalSecurity reports whether t belongs to the security set that
// always includes email and is eligible for the push-to-email fallback.
func IsCriticalSecurity(t Type) bool {
	switch t {
	case TypeAccountSecurity, TypeVerification, TypePasswordReset:
		return true
	}
	return false
}

// Frequency is a per-category-per-channel delivery cadence.
type Frequency string

const (
	FrequencyInstant Frequency = "instant"
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyNever   Frequency = "never"
)

// IsDigest reports whether the cadence defers into a digest batch.
func (f Frequency) IsDigest() bool {
	return f == FrequencyHourly || f == FrequencyDaily || f == FrequencyWeekly
}

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyInstant, FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyNever:
		return true
	}
	return false
}

// Platform identifies a push target platform.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return true
	}
	return false
}

// Data is the opaque string-to-string payload bag forwarded to providers.
type Data map[string]string

func (d Data) Value() (driver.Value, error) {
	if d == nil {
		return json.Marshal(Data{})
	}
	return json.Marshal(d)
}

func (d *Data) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	default:
		return fmt.Errorf("cannot scan %T into Data", value)
	}
}

// JSONMap is a loosely typed JSONB column (template variables, webhook raw).
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal(JSONMap{})
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}
}

// StringList is a JSONB string array column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal(StringList{})
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}
}

// Notification is the unit accepted by the orchestrator. It is also the
// JSONB payload persisted on queue items, so it round-trips through
// database/sql.
type Notification struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"userId"`
	Type         Type       `json:"type"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	Data         Data       `json:"data,omitempty"`
	ImageURL     string     `json:"imageUrl,omitempty"`
	Sound        string     `json:"sound,omitempty"`
	Badge        *int       `json:"badge,omitempty"`
	CollapseKey  string     `json:"collapseKey,omitempty"`
	TTLSeconds   *int       `json:"ttlSeconds,omitempty"`
	CategoryID   string     `json:"categoryId,omitempty"`
	ThreadID     string     `json:"threadId,omitempty"`
	Priority     Priority   `json:"priority,omitempty"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
	Channels     []Channel  `json:"channels,omitempty"`
	Locale       string     `json:"locale,omitempty"`
}

// Category derives the preference category from the type.
func (n *Notification) Category() Category {
	return CategoryFor(n.Type)
}

// EffectivePriority resolves an unset priority via the type default.
func (n *Notification) EffectivePriority() Priority {
	if n.Priority == "" {
		return DefaultPriority(n.Type)
	}
	return n.Priority
}

func (n Notification) Value() (driver.Value, error) {
	return json.Marshal(n)
}

func (n *Notification) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, n)
	case string:
		return json.Unmarshal([]byte(v), n)
	default:
		return fmt.Errorf("cannot scan %T into Notification", value)
	}
}

// QuietHours is a daily do-not-disturb window in the user's timezone.
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"` // "HH:MM"
	End      string `json:"end"`   // "HH:MM"
	Timezone string `json:"timezone"`
}

func (q QuietHours) Value() (driver.Value, error) {
	return json.Marshal(q)
}

func (q *QuietHours) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, q)
	case string:
		return json.Unmarshal([]byte(v), q)
	default:
		return fmt.Errorf("cannot scan %T into QuietHours", value)
	}
}

// DndSettings is a one-shot mute until a fixed instant.
type DndSettings struct {
	Enabled bool       `json:"enabled"`
	Until   *time.Time `json:"until,omitempty"`
}

func (d DndSettings) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *DndSettings) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	default:
		return fmt.Errorf("cannot scan %T into DndSettings", value)
	}
}

// Active reports whether DND currently suppresses delivery.
func (d DndSettings) Active(now time.Time) bool {
	return d.Enabled && d.Until != nil && now.Before(*d.Until)
}

// DigestSettings configures when consolidated digests flush.
type DigestSettings struct {
	DailyEnabled  bool   `json:"daily_enabled"`
	DailyTime     string `json:"daily_time"` // "HH:MM"
	WeeklyEnabled bool   `json:"weekly_enabled"`
	WeeklyDay     int    `json:"weekly_day"` // 0 = Sunday
}

func (d DigestSettings) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *DigestSettings) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	default:
		return fmt.Errorf("cannot scan %T into DigestSettings", value)
	}
}

// ChannelPreference is a single category-channel leaf.
type ChannelPreference struct {
	Enabled   bool      `json:"enabled"`
	Frequency Frequency `json:"frequency"`
}

// CategoryPreferences maps category -> channel -> preference leaf.
type CategoryPreferences map[Category]map[Channel]ChannelPreference

func (c CategoryPreferences) Value() (driver.Value, error) {
	if c == nil {
		return json.Marshal(CategoryPreferences{})
	}
	return json.Marshal(c)
}

func (c *CategoryPreferences) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("cannot scan %T into CategoryPreferences", value)
	}
}

// Preferences is the full per-user preference tree.
type Preferences struct {
	UserID        uuid.UUID           `json:"user_id" db:"user_id"`
	PushEnabled   bool                `json:"push_enabled" db:"push_enabled"`
	EmailEnabled  bool                `json:"email_enabled" db:"email_enabled"`
	SMSEnabled    bool                `json:"sms_enabled" db:"sms_enabled"`
	InAppEnabled  bool                `json:"in_app_enabled" db:"in_app_enabled"`
	EmailAddress  *string             `json:"email_address,omitempty" db:"email_address"`
	EmailVerified bool                `json:"email_verified" db:"email_verified"`
	PhoneNumber   *string             `json:"phone_number,omitempty" db:"phone_number"`
	PhoneVerified bool                `json:"phone_verified" db:"phone_verified"`
	QuietHours    QuietHours          `json:"quiet_hours" db:"quiet_hours"`
	Dnd           DndSettings         `json:"dnd" db:"dnd"`
	Digest        DigestSettings      `json:"digest" db:"digest"`
	Categories    CategoryPreferences `json:"categories" db:"categories"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at" db:"updated_at"`
}

// ChannelEnabled is the global per-channel switch.
func (p *Preferences) ChannelEnabled(c Channel) bool {
	switch c {
	case ChannelPush:
		return p.PushEnabled
	case ChannelEmail:
		return p.EmailEnabled
	case ChannelSMS:
		return p.SMSEnabled
	case ChannelInApp:
		return p.InAppEnabled
	}
	return false
}

// CategoryPreference returns the leaf for (category, channel), falling back
// to the enabled/instant default when the tree has no node for it.
func (p *Preferences) CategoryPreference(cat Category, ch Channel) ChannelPreference {
	if byChannel, ok := p.Categories[cat]; ok {
		if leaf, ok := byChannel[ch]; ok {
			if leaf.Frequency == "" {
				leaf.Frequency = FrequencyInstant
			}
			return leaf
		}
	}
	return ChannelPreference{Enabled: true, Frequency: FrequencyInstant}
}

// DeviceToken is a registered push target.
type DeviceToken struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	UserID     uuid.UUID  `json:"user_id" db:"user_id"`
	Token      string     `json:"token" db:"token"`
	Platform   Platform   `json:"platform" db:"platform"`
	P256dh     *string    `json:"p256dh,omitempty" db:"p256dh"`
	Auth       *string    `json:"auth,omitempty" db:"auth"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// DeliveryStatus is the terminal state of one (notification, channel) pair.
type DeliveryStatus string

const (
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
	StatusBlocked   DeliveryStatus = "blocked"
	StatusDeferred  DeliveryStatus = "deferred"
	StatusScheduled DeliveryStatus = "scheduled"
)

// DeliveryRecord is the audit row written per (notification, channel).
type DeliveryRecord struct {
	ID                uuid.UUID      `json:"id" db:"id"`
	NotificationID    uuid.UUID      `json:"notification_id" db:"notification_id"`
	UserID            uuid.UUID      `json:"user_id" db:"user_id"`
	Channel           Channel        `json:"channel" db:"channel"`
	Provider          *string        `json:"provider,omitempty" db:"provider"`
	Status            DeliveryStatus `json:"status" db:"status"`
	Attempts          int            `json:"attempts" db:"attempts"`
	ErrorCode         *string        `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage      *string        `json:"error_message,omitempty" db:"error_message"`
	LatencyMs         *int64         `json:"latency_ms,omitempty" db:"latency_ms"`
	ProviderMessageID *string        `json:"provider_message_id,omitempty" db:"provider_message_id"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
}

// QueueStatus is the lifecycle state of a durable queue item.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// QueueItem is a durable scheduled or digest-deferred notification.
type QueueItem struct {
	ID               uuid.UUID    `json:"id" db:"id"`
	UserID           uuid.UUID    `json:"user_id" db:"user_id"`
	Payload          Notification `json:"payload" db:"payload"`
	Status           QueueStatus  `json:"status" db:"status"`
	Attempts         int          `json:"attempts" db:"attempts"`
	ScheduledFor     time.Time    `json:"scheduled_for" db:"scheduled_for"`
	ConsolidationKey *string      `json:"consolidation_key,omitempty" db:"consolidation_key"`
	Priority         int          `json:"priority" db:"priority"`
	LastError        *string      `json:"last_error,omitempty" db:"last_error"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}

// DigestItem is one consolidated entry inside a digest batch.
type DigestItem struct {
	NotificationID uuid.UUID `json:"notification_id"`
	Type           Type      `json:"type"`
	Category       Category  `json:"category"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	Data           Data      `json:"data,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// DigestBatchEntry groups a user's due digest items for one flush.
type DigestBatchEntry struct {
	UserID    uuid.UUID
	Frequency Frequency
	Items     []DigestItem
	ItemIDs   []uuid.UUID
	NextFlush time.Time
}

// InAppNotification is a row surfaced in the in-app inbox.
type InAppNotification struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	Type      Type       `json:"type" db:"type"`
	Title     string     `json:"title" db:"title"`
	Body      string     `json:"body" db:"body"`
	Data      Data       `json:"data,omitempty" db:"data"`
	ReadAt    *time.Time `json:"read_at,omitempty" db:"read_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Suppression is a hard-bounced or complained address. Nothing bypasses it.
type Suppression struct {
	Email     string    `json:"email" db:"email"`
	Reason    string    `json:"reason" db:"reason"`
	Provider  *string   `json:"provider,omitempty" db:"provider"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Template is a stored email template with render presets in metadata.
type Template struct {
	Slug        string     `json:"slug" db:"slug"`
	Name        string     `json:"name" db:"name"`
	Category    Category   `json:"category" db:"category"`
	Subject     string     `json:"subject" db:"subject"`
	HTMLContent string     `json:"html_content" db:"html_content"`
	TextContent string     `json:"text_content" db:"text_content"`
	Variables   StringList `json:"variables" db:"variables"`
	Metadata    JSONMap    `json:"metadata" db:"metadata"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	Version     int        `json:"version" db:"version"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// PresetChannels reads the optional channel preset from template metadata.
func (t *Template) PresetChannels() []Channel {
	raw, ok := t.Metadata["channels"].([]interface{})
	if !ok {
		return nil
	}
	channels := make([]Channel, 0, len(raw))
	for _, entry := range raw {
		if s, ok := entry.(string); ok && Channel(s).Valid() {
			channels = append(channels, Channel(s))
		}
	}
	return channels
}

// PresetPriority reads the optional priority preset from template metadata.
func (t *Template) PresetPriority() Priority {
	if s, ok := t.Metadata["priority"].(string); ok && Priority(s).Valid() {
		return Priority(s)
	}
	return ""
}

// PresetType reads the optional notification type from template metadata.
// Without it, renders are typed by the template slug, which routes them
// to the system category at the preference gate.
func (t *Template) PresetType() Type {
	if s, ok := t.Metadata["type"].(string); ok && s != "" {
		return Type(s)
	}
	return ""
}

// AutomationItem is a scheduled template email awaiting dispatch.
type AutomationItem struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	Recipient    string      `json:"recipient" db:"recipient"`
	TemplateSlug string      `json:"template_slug" db:"template_slug"`
	Variables    JSONMap     `json:"variables" db:"variables"`
	Locale       string      `json:"locale" db:"locale"`
	Status       QueueStatus `json:"status" db:"status"`
	Attempts     int         `json:"attempts" db:"attempts"`
	ScheduledFor time.Time   `json:"scheduled_for" db:"scheduled_for"`
	LastError    *string     `json:"last_error,omitempty" db:"last_error"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// Result reasons surfaced in ChannelResult.Error and delivery log error codes.
const (
	ReasonPreferences = "preferences"
	ReasonSuppressed  = "suppressed"
	ReasonNoTargets   = "no_targets"
	ReasonCircuitOpen = "circuit_open"
	ReasonQuietHours  = "quiet_hours"
	ReasonDnd         = "dnd"
	ReasonDigest      = "digest"
)

// ChannelResult is the per-channel outcome inside a SendResult.
type ChannelResult struct {
	Channel      Channel        `json:"channel"`
	Status       DeliveryStatus `json:"status"`
	Success      bool           `json:"success"`
	Scheduled    bool           `json:"scheduled,omitempty"`
	ScheduledFor *time.Time     `json:"scheduledFor,omitempty"`
	Provider     string         `json:"provider,omitempty"`
	MessageID    string         `json:"messageId,omitempty"`
	Error        string         `json:"error,omitempty"`
	Retryable    bool           `json:"retryable,omitempty"`
	Fallback     bool           `json:"fallback,omitempty"`
	LatencyMs    int64          `json:"latencyMs,omitempty"`
}

// SendResult aggregates the per-channel outcomes of one notification.
type SendResult struct {
	NotificationID uuid.UUID       `json:"notificationId"`
	UserID         uuid.UUID       `json:"userId"`
	Success        bool            `json:"success"`
	Channels       []ChannelResult `json:"channels"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Settle computes the overall flag: a result succeeds unless some channel
// outright failed. Blocked and scheduled outcomes are intentional.
func (r *SendResult) Settle() {
	r.Success = true
	for _, ch := range r.Channels {
		if ch.Status == StatusFailed {
			r.Success = false
			return
		}
	}
}

// BatchOptions controls batch execution.
type BatchOptions struct {
	Parallel    bool `json:"parallel"`
	StopOnError bool `json:"stop_on_error"`
}

// BatchRequest is a bounded multi-notification send.
type BatchRequest struct {
	Notifications []*Notification `json:"notifications"`
	Options       BatchOptions    `json:"options"`
}

// BatchResult aggregates individual outcomes of a batch send.
type BatchResult struct {
	Success   bool          `json:"success"`
	Total     int           `json:"total"`
	Delivered int           `json:"delivered"`
	Failed    int           `json:"failed"`
	Results   []*SendResult `json:"results"`
}

// WebhookEvent is the normalised envelope extracted from provider webhooks.
type WebhookEvent struct {
	Provider  string    `json:"provider"`
	EventType string    `json:"eventType"`
	MessageID string    `json:"messageId"`
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// DeliveryStats aggregates delivery log counters for the stats surface.
type DeliveryStats struct {
	Since     time.Time        `json:"since"`
	Total     int64            `json:"total"`
	ByStatus  map[string]int64 `json:"by_status"`
	ByChannel map[string]int64 `json:"by_channel"`
}

// ProviderHealth is the persisted per-provider counter row.
type ProviderHealth struct {
	Provider       string     `json:"provider" db:"provider"`
	SuccessCount   int64      `json:"success_count" db:"success_count"`
	FailureCount   int64      `json:"failure_count" db:"failure_count"`
	TotalLatencyMs int64      `json:"total_latency_ms" db:"total_latency_ms"`
	LastSuccessAt  *time.Time `json:"last_success_at,omitempty" db:"last_success_at"`
	LastFailureAt  *time.Time `json:"last_failure_at,omitempty" db:"last_failure_at"`
	LastError      *string    `json:"last_error,omitempty" db:"last_error"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Score folds the counters into a 0-1 selection weight. Unknown providers
// score 1 so a fresh deployment does not starve itself.
func (h *ProviderHealth) Score() float64 {
	total := h.SuccessCount + h.FailureCount
	if total == 0 {
		return 1.0
	}

	rate := float64(h.SuccessCount) / float64(total)

	avgLatency := float64(h.TotalLatencyMs) / float64(total)
	factor := 1.0
	if avgLatency > 1000 {
		factor = 1000 / avgLatency
		if factor < 0.1 {
			factor = 0.1
		}
	}

	return rate * factor
}

// Ptr returns a pointer to v, for optional fields in literals.
func Ptr[T any](v T) *T {
	return &v
}
