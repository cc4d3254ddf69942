package notification

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/heraldhq/herald/internal/errors"
)

func TestUpdatePreferencesMergesPatch(t *testing.T) {
	repo := newMemRepo()
	o := testOrchestrator(repo, testBase)
	userID := seedUser(repo, nil)

	daily := FrequencyDaily
	updated, err := o.UpdatePreferences(context.Background(), userID, &PreferencesPatch{
		EmailEnabled: Ptr(false),
		QuietHours: &QuietHoursPatch{
			Enabled: Ptr(true),
			Start:   Ptr("23:00"),
			End:     Ptr("06:30"),
		},
		Categories: CategoryPreferencesPatch{
			CategoryPosts: {
				ChannelEmail: {Frequency: &daily},
			},
		},
	})
	require.NoError(t, err)

	assert.False(t, updated.EmailEnabled)
	assert.True(t, updated.PushEnabled)
	assert.True(t, updated.QuietHours.Enabled)
	assert.Equal(t, "23:00", updated.QuietHours.Start)
	assert.Equal(t, "06:30", updated.QuietHours.End)

	leaf := updated.CategoryPreference(CategoryPosts, ChannelEmail)
	assert.True(t, leaf.Enabled)
	assert.Equal(t, FrequencyDaily, leaf.Frequency)

	// Untouched leaves keep defaults.
	chats := updated.CategoryPreference(CategoryChats, ChannelPush)
	assert.Equal(t, FrequencyInstant, chats.Frequency)

	stored, err := o.Preferences(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, stored.EmailEnabled)
	assert.Equal(t, testBase, stored.UpdatedAt)
}

func TestUpdatePreferencesRejectsBadPatch(t *testing.T) {
	repo := newMemRepo()
	o := testOrchestrator(repo, testBase)
	userID := seedUser(repo, nil)

	_, err := o.UpdatePreferences(context.Background(), userID, &PreferencesPatch{
		QuietHours: &QuietHoursPatch{Timezone: Ptr("Mars/Olympus")},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	stored, err := o.Preferences(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, stored.EmailEnabled)
}

func TestSetDnd(t *testing.T) {
	repo := newMemRepo()
	o := testOrchestrator(repo, testBase)
	userID := seedUser(repo, nil)

	until := testBase.Add(2 * time.Hour)
	updated, err := o.SetDnd(context.Background(), userID, &until)
	require.NoError(t, err)
	assert.True(t, updated.Dnd.Enabled)
	require.NotNil(t, updated.Dnd.Until)
	assert.True(t, updated.Dnd.Until.Equal(until))

	updated, err = o.SetDnd(context.Background(), userID, nil)
	require.NoError(t, err)
	assert.False(t, updated.Dnd.Enabled)

	past := testBase.Add(-time.Minute)
	_, err = o.SetDnd(context.Background(), userID, &past)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestRegisterDeviceValidation(t *testing.T) {
	repo := newMemRepo()
	o := testOrchestrator(repo, testBase)
	userID := uuid.New()

	cases := []struct {
		name  string
		token *DeviceToken
	}{
		{"missing user", &DeviceToken{Token: "tok", Platform: PlatformIOS}},
		{"missing token", &DeviceToken{UserID: userID, Platform: PlatformIOS}},
		{"bad platform", &DeviceToken{UserID: userID, Token: "tok", Platform: Platform("blackberry")}},
		{"web without keys", &DeviceToken{UserID: userID, Token: "sub", Platform: PlatformWeb}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := o.RegisterDevice(context.Background(), tc.token)
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
		})
	}

	web, err := o.RegisterDevice(context.Background(), &DeviceToken{
		UserID:   userID,
		Token:    `{"endpoint":"https://push.example.com/sub"}`,
		Platform: PlatformWeb,
		P256dh:   Ptr("BPubKey"),
		Auth:     Ptr("authSecret"),
	})
	require.NoError(t, err)
	assert.True(t, web.IsActive)
	assert.NotEqual(t, uuid.Nil, web.ID)
}

func TestRegisterDeviceReactivates(t *testing.T) {
	repo := newMemRepo()
	o := testOrchestrator(repo, testBase)
	userID := uuid.New()

	first, err := o.RegisterDevice(context.Background(), &DeviceToken{UserID: userID, Token: "tok-1", Platform: PlatformIOS})
	require.NoError(t, err)

	require.NoError(t, o.RemoveDevice(context.Background(), "tok-1"))
	tokens, err := repo.ListActiveDeviceTokens(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, tokens)

	second, err := o.RegisterDevice(context.Background(), &DeviceToken{UserID: userID, Token: "tok-1", Platform: PlatformIOS})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.IsActive)
}

func TestRemoveDeviceRequiresToken(t *testing.T) {
	repo := newMemRepo()
	o := testOrchestrator(repo, testBase)

	err := o.RemoveDevice(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestInboxAndMarkRead(t *testing.T) {
	repo := newMemRepo()
	o := testOrchestrator(repo, testBase)
	userID := uuid.New()
	stranger := uuid.New()

	var ids []uuid.UUID
	for _, title := range []string{"first", "second", "third"} {
		n, err := repo.InsertInApp(context.Background(), &InAppNotification{UserID: userID, Type: TypeNewMessage, Title: title})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}
	_, err := repo.InsertInApp(context.Background(), &InAppNotification{UserID: stranger, Type: TypeNewMessage, Title: "not yours"})
	require.NoError(t, err)

	inbox, err := o.Inbox(context.Background(), userID, false, 10)
	require.NoError(t, err)
	require.Len(t, inbox, 3)
	assert.Equal(t, "third", inbox[0].Title)

	updated, err := o.MarkRead(context.Background(), userID, []uuid.UUID{ids[0]})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	unread, err := o.Inbox(context.Background(), userID, true, 10)
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	// No ids means mark everything.
	updated, err = o.MarkRead(context.Background(), userID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	unread, err = o.Inbox(context.Background(), userID, true, 10)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestHandleWebhookBounceUpdatesAndSuppresses(t *testing.T) {
	repo := newMemRepo()
	o := testOrchestrator(repo, testBase)
	userID := seedUser(repo, nil)
	o.RegisterSender(newFakeSender(ChannelEmail, Delivered("resend", "msg-bounce-1", 40)))

	n := favoriteAlert(userID)
	n.Channels = []Channel{ChannelEmail}
	res, err := o.Send(context.Background(), n)
	require.NoError(t, err)
	require.True(t, res.Success)

	report, err := o.HandleWebhookEvents(context.Background(), "resend", []WebhookEvent{
		{EventType: "bounce", MessageID: "msg-bounce-1", Email: "Anna@Example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Received)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Suppressed)
	assert.Zero(t, report.Ignored)

	rec := repo.delivery(n.ID, ChannelEmail)
	require.NotNil(t, rec)
	assert.Equal(t, StatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorCode)
	assert.Equal(t, "bounced", *rec.ErrorCode)

	s, err := o.SuppressionFor(context.Background(), "ANNA@example.com")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "anna@example.com", s.Email)
	assert.Equal(t, "bounced", s.Reason)
	require.NotNil(t, s.Provider)
	assert.Equal(t, "resend", *s.Provider)
}

func TestHandleWebhookEventClassification(t *testing.T) {
	repo := newMemRepo()
	o := testOrchestrator(repo, testBase)

	report, err := o.HandleWebhookEvents(context.Background(), "sendgrid", []WebhookEvent{
		{EventType: "open"},                                        // not tracked
		{EventType: "delivered", MessageID: "unknown-msg"},         // no matching row
		{EventType: "spamreport", Email: "complainer@example.com"}, // suppress without row
		{EventType: "dropped", Email: "dropped@example.com"},       // failure but no suppression
		{EventType: "hard_bounce", Email: "gone@example.com"},      // suppress
	})
	require.NoError(t, err)
	assert.Equal(t, 5, report.Received)
	assert.Zero(t, report.Updated)
	assert.Equal(t, 2, report.Suppressed)
	assert.Equal(t, 2, report.Ignored)

	_, ok := repo.suppressed["complainer@example.com"]
	assert.True(t, ok)
	_, ok = repo.suppressed["gone@example.com"]
	assert.True(t, ok)
	_, ok = repo.suppressed["dropped@example.com"]
	assert.False(t, ok)
}

func TestSuppressionForClearAddress(t *testing.T) {
	repo := newMemRepo()
	o := testOrchestrator(repo, testBase)

	s, err := o.SuppressionFor(context.Background(), "clean@example.com")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestProviderHealthList(t *testing.T) {
	repo := newMemRepo()
	o := testOrchestrator(repo, testBase)

	require.NoError(t, repo.RecordProviderResult(context.Background(), "resend", true, 40, ""))
	require.NoError(t, repo.RecordProviderResult(context.Background(), "resend", false, 0, "timeout"))

	health, err := o.ProviderHealth(context.Background())
	require.NoError(t, err)
	require.Len(t, health, 1)
	assert.Equal(t, "resend", health[0].Provider)
	assert.Equal(t, int64(1), health[0].SuccessCount)
	assert.Equal(t, int64(1), health[0].FailureCount)
}
