package notification

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() *Notification {
	return &Notification{
		UserID: uuid.New(),
		Type:   TypeNewMessage,
		Title:  "New message",
		Body:   "Jonas: hey, is the bike still available?",
	}
}

func TestValidate(t *testing.T) {
	now := testBase

	cases := []struct {
		name    string
		mutate  func(n *Notification)
		wantErr string
	}{
		{"valid request", func(n *Notification) {}, ""},
		{"nil channels ok", func(n *Notification) { n.Channels = nil }, ""},
		{"future schedule ok", func(n *Notification) { n.ScheduledFor = Ptr(now.Add(time.Hour)) }, ""},
		{"missing user", func(n *Notification) { n.UserID = uuid.Nil }, "user id is required"},
		{"missing type", func(n *Notification) { n.Type = "" }, "type is required"},
		{"blank title", func(n *Notification) { n.Title = "   " }, "title is required"},
		{"empty body", func(n *Notification) { n.Body = "" }, "body is required"},
		{"oversized body", func(n *Notification) { n.Body = strings.Repeat("x", 50001) }, "body exceeds"},
		{"unknown priority", func(n *Notification) { n.Priority = Priority("urgent") }, "unknown priority"},
		{"unknown channel", func(n *Notification) { n.Channels = []Channel{ChannelPush, Channel("fax")} }, "unknown channel"},
		{"zero ttl", func(n *Notification) { n.TTLSeconds = Ptr(0) }, "ttl seconds must be positive"},
		{"negative badge", func(n *Notification) { n.Badge = Ptr(-1) }, "badge must be non-negative"},
		{"schedule in the past", func(n *Notification) { n.ScheduledFor = Ptr(now.Add(-time.Second)) }, "must be in the future"},
		{"schedule at now", func(n *Notification) { n.ScheduledFor = Ptr(now) }, "must be in the future"},
		{"schedule beyond horizon", func(n *Notification) { n.ScheduledFor = Ptr(now.Add(91 * 24 * time.Hour)) }, "90 days"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := validRequest()
			tc.mutate(n)
			err := Validate(n, now)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateNilNotification(t *testing.T) {
	err := Validate(nil, testBase)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notification is required")
}

func TestValidateBodyCountsRunesNotBytes(t *testing.T) {
	n := validRequest()
	// 50k multi-byte runes stay within the rune cap.
	n.Body = strings.Repeat("ő", 50000)
	assert.NoError(t, Validate(n, testBase))
}
