package sender

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/heraldhq/herald/internal/notification"
	"github.com/heraldhq/herald/internal/telemetry"
)

// InboxStore persists in-app inbox rows.
type InboxStore interface {
	InsertInApp(ctx context.Context, n *notification.InAppNotification) (*notification.InAppNotification, error)
}

// Publisher fans a payload out on a pub/sub channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// InAppSender writes notifications into the user's inbox and announces them
// on the user's realtime channel. The row is the source of truth; the
// publish is best effort, so a dropped announcement never fails the send.
type InAppSender struct {
	store  InboxStore
	pubsub Publisher
	logger *telemetry.ContextualLogger
}

func NewInAppSender(store InboxStore, pubsub Publisher, logger *telemetry.ContextualLogger) *InAppSender {
	return &InAppSender{store: store, pubsub: pubsub, logger: logger}
}

func (s *InAppSender) Channel() notification.Channel { return notification.ChannelInApp }

func (s *InAppSender) Send(ctx context.Context, n *notification.Notification, target notification.Target) notification.DeliveryOutcome {
	if target.UserID == uuid.Nil {
		return notification.Failed("inapp", "no_targets", "no user to deliver to", false)
	}
	start := time.Now()

	row, err := s.store.InsertInApp(ctx, &notification.InAppNotification{
		UserID: target.UserID,
		Type:   n.Type,
		Title:  n.Title,
		Body:   n.Body,
		Data:   n.Data,
	})
	if err != nil {
		s.log(ctx).WithError(err).WithField("user_id", target.UserID).Error("in-app insert failed")
		return notification.Failed("inapp", "storage_error", err.Error(), true)
	}

	if s.pubsub != nil {
		channel := fmt.Sprintf("user:%s:notifications", target.UserID)
		if err := s.pubsub.Publish(ctx, channel, row); err != nil {
			s.log(ctx).WithError(err).WithFields(logrus.Fields{
				"user_id": target.UserID,
				"channel": channel,
			}).Warn("realtime publish failed, inbox row stored")
		}
	}

	return notification.Delivered("inapp", row.ID.String(), latencyMs(start))
}

func (s *InAppSender) Health(_ context.Context) notification.HealthStatus {
	return notification.HealthStatus{Status: "healthy"}
}

func (s *InAppSender) log(ctx context.Context) *telemetry.ContextualLogger {
	if s.logger != nil {
		return s.logger
	}
	return telemetry.LogFromContext(ctx)
}
