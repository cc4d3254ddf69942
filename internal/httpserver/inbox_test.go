package httpserver

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/notification"
)

type fakeInbox struct {
	inboxFn    func(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*notification.InAppNotification, error)
	markReadFn func(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
}

func (f *fakeInbox) Inbox(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*notification.InAppNotification, error) {
	return f.inboxFn(ctx, userID, unreadOnly, limit)
}

func (f *fakeInbox) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	return f.markReadFn(ctx, userID, ids)
}

func TestInboxDefaults(t *testing.T) {
	userID := uuid.New()
	var gotUnread bool
	var gotLimit int

	s := newTestServer(t, func(d *Deps) {
		d.Inbox = &fakeInbox{
			inboxFn: func(_ context.Context, id uuid.UUID, unreadOnly bool, limit int) ([]*notification.InAppNotification, error) {
				gotUnread = unreadOnly
				gotLimit = limit
				return []*notification.InAppNotification{
					{ID: uuid.New(), UserID: id, Title: "hello", CreatedAt: time.Now()},
				}, nil
			},
		}
	})

	w := do(s, asUser(t, jsonRequest(t, http.MethodGet, "/notifications", nil), userID))

	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, gotUnread)
	assert.Equal(t, defaultInboxLimit, gotLimit)

	resp := decodeBody(t, w)
	assert.Equal(t, float64(1), resp["count"])
}

func TestInboxQueryParams(t *testing.T) {
	var gotUnread bool
	var gotLimit int

	s := newTestServer(t, func(d *Deps) {
		d.Inbox = &fakeInbox{
			inboxFn: func(_ context.Context, _ uuid.UUID, unreadOnly bool, limit int) ([]*notification.InAppNotification, error) {
				gotUnread = unreadOnly
				gotLimit = limit
				return nil, nil
			},
		}
	})

	w := do(s, asUser(t, jsonRequest(t, http.MethodGet, "/notifications?unread=true&limit=10", nil), uuid.New()))

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gotUnread)
	assert.Equal(t, 10, gotLimit)
}

func TestInboxLimitOutOfRangeFallsBack(t *testing.T) {
	var gotLimit int

	s := newTestServer(t, func(d *Deps) {
		d.Inbox = &fakeInbox{
			inboxFn: func(_ context.Context, _ uuid.UUID, _ bool, limit int) ([]*notification.InAppNotification, error) {
				gotLimit = limit
				return nil, nil
			},
		}
	})

	w := do(s, asUser(t, jsonRequest(t, http.MethodGet, "/notifications?limit=99999", nil), uuid.New()))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultInboxLimit, gotLimit)
}

func TestMarkReadSingle(t *testing.T) {
	noteID := uuid.New()
	var gotIDs []uuid.UUID

	s := newTestServer(t, func(d *Deps) {
		d.Inbox = &fakeInbox{
			markReadFn: func(_ context.Context, _ uuid.UUID, ids []uuid.UUID) (int64, error) {
				gotIDs = ids
				return int64(len(ids)), nil
			},
		}
	})

	w := do(s, asUser(t, jsonRequest(t, http.MethodPost, "/notifications/"+noteID.String()+"/read", nil), uuid.New()))

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, gotIDs, 1)
	assert.Equal(t, noteID, gotIDs[0])

	resp := decodeBody(t, w)
	assert.Equal(t, float64(1), resp["updated"])
}

func TestMarkReadAll(t *testing.T) {
	var gotIDs []uuid.UUID
	called := false

	s := newTestServer(t, func(d *Deps) {
		d.Inbox = &fakeInbox{
			markReadFn: func(_ context.Context, _ uuid.UUID, ids []uuid.UUID) (int64, error) {
				called = true
				gotIDs = ids
				return 7, nil
			},
		}
	})

	w := do(s, asUser(t, jsonRequest(t, http.MethodPost, "/notifications/all/read", nil), uuid.New()))

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
	assert.Nil(t, gotIDs)

	resp := decodeBody(t, w)
	assert.Equal(t, float64(7), resp["updated"])
}

func TestMarkReadRejectsBadID(t *testing.T) {
	s := newTestServer(t, func(d *Deps) {
		d.Inbox = &fakeInbox{}
	})

	w := do(s, asUser(t, jsonRequest(t, http.MethodPost, "/notifications/not-a-uuid/read", nil), uuid.New()))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w.Body.Bytes()))
}
