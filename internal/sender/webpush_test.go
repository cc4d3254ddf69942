package sender

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/config"
	apperrors "github.com/heraldhq/herald/internal/errors"
	"github.com/heraldhq/herald/internal/notification"
)

// testSubscriptionKeys generates a browser-side key pair the way a real
// subscription would: an uncompressed P-256 point and a 16-byte auth secret.
func testSubscriptionKeys(t *testing.T) (p256dh, auth string) {
	t.Helper()

	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)

	return base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(secret)
}

func newTestWebPushClient(t *testing.T) *WebPushClient {
	t.Helper()

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	return NewWebPushClient(config.VAPIDConfig{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Subject:    "mailto:push@herald.dev",
	})
}

// webSubscription builds a device token whose endpoint is the test server.
func webSubscription(t *testing.T, endpoint string) *notification.DeviceToken {
	t.Helper()
	p256dh, auth := testSubscriptionKeys(t)
	return &notification.DeviceToken{
		Token:    endpoint,
		Platform: notification.PlatformWeb,
		P256dh:   &p256dh,
		Auth:     &auth,
		IsActive: true,
	}
}

func TestWebPushSendSuccess(t *testing.T) {
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		w.Header().Set("Location", "https://push.example.net/msg/1")
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(server.Close)

	client := newTestWebPushClient(t)
	n := pushNotification()
	n.Priority = notification.PriorityHigh
	n.TTLSeconds = notification.Ptr(3600)
	n.CollapseKey = "chat-9"

	id, err := client.Send(context.Background(), n, webSubscription(t, server.URL))
	require.NoError(t, err)
	assert.Equal(t, "https://push.example.net/msg/1", id)

	assert.Equal(t, "aes128gcm", headers.Get("Content-Encoding"))
	assert.Equal(t, "3600", headers.Get("TTL"))
	assert.Equal(t, "high", headers.Get("Urgency"))
	assert.Equal(t, "chat-9", headers.Get("Topic"))
	assert.True(t, strings.HasPrefix(headers.Get("Authorization"), "vapid"))
}

func TestWebPushSendSubscriptionGone(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusGone} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))

		client := newTestWebPushClient(t)
		_, err := client.Send(context.Background(), pushNotification(), webSubscription(t, server.URL))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTokenGone)

		server.Close()
	}
}

func TestWebPushSendMissingKeys(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(server.Close)

	client := newTestWebPushClient(t)
	token := &notification.DeviceToken{Token: server.URL, Platform: notification.PlatformWeb}

	_, err := client.Send(context.Background(), pushNotification(), token)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenGone)
	assert.False(t, called, "a keyless subscription must not reach the push service")
}

func TestWebPushSendServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client := newTestWebPushClient(t)
	_, err := client.Send(context.Background(), pushNotification(), webSubscription(t, server.URL))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeServiceUnavail, apperrors.CodeOf(err))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestWebPushPayloadShape(t *testing.T) {
	n := pushNotification()
	n.ImageURL = "https://cdn.herald.dev/icon.png"
	n.CollapseKey = "chat-9"
	n.Data = notification.Data{"deep_link": "app://chat/9"}

	payload := webPushPayload(n)

	assert.Equal(t, "New message", payload["title"])
	assert.Equal(t, string(notification.TypeNewMessage), payload["type"])
	assert.Equal(t, "https://cdn.herald.dev/icon.png", payload["icon"])
	assert.Equal(t, "chat-9", payload["tag"])
	assert.Equal(t, notification.Data{"deep_link": "app://chat/9"}, payload["data"])
}

func TestWebPushUrgencyMapping(t *testing.T) {
	assert.Equal(t, webpush.UrgencyHigh, webPushUrgency(notification.PriorityCritical))
	assert.Equal(t, webpush.UrgencyHigh, webPushUrgency(notification.PriorityHigh))
	assert.Equal(t, webpush.UrgencyNormal, webPushUrgency(notification.PriorityNormal))
	assert.Equal(t, webpush.UrgencyLow, webPushUrgency(notification.PriorityLow))
}
