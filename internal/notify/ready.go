// Package notify tells customers by SMS when their order is ready.
package notify

import (
	"context"
	"fmt"
	"time"

	apperrors "order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/common/metrics"
	"order-fulfillment/internal/fulfillment/events"
	"order-fulfillment/internal/fulfillment/payment"
	"order-fulfillment/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	channelSMS      = "sms"
	defaultDedupTTL = 24 * time.Hour

	StatusSent    = "sent"
	StatusSkipped = "skipped"
)

// SMSSender delivers one text message and returns the provider message id.
type SMSSender interface {
	SendSMS(ctx context.Context, phoneNumber, message string) (string, error)
}

// ReadyNotifier sends one SMS per order when it reaches ready. Redelivered
// events are absorbed by a Redis marker per order.
type ReadyNotifier struct {
	sender SMSSender
	rdb    *redis.Client
	ttl    time.Duration
	now    func() time.Time
	logger logger.Logger
}

func NewReadyNotifier(sender SMSSender, rdb *redis.Client, ttl time.Duration, log logger.Logger) *ReadyNotifier {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &ReadyNotifier{
		sender: sender,
		rdb:    rdb,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.ForComponent(log, "ready-notifier"),
	}
}

func dedupKey(orderID string) string {
	return "notify:ready:" + orderID
}

// ReadyMessage is the text sent to the customer.
func ReadyMessage(order models.Order) string {
	return fmt.Sprintf("Hi %s, your order %s is ready for pickup.", order.CustomerName, order.ID)
}

// Handle reacts to one event. It returns nil, nil for events that do not
// concern it.
func (n *ReadyNotifier) Handle(ctx context.Context, event models.Event) (*models.Notification, error) {
	order := event.Order
	if event.Type != models.EventUpdated || order.OrderStatus != models.StatusReady {
		return nil, nil
	}

	record := &models.Notification{
		OrderID: order.ID,
		Channel: channelSMS,
		Message: ReadyMessage(order),
		SentAt:  n.now().UTC(),
	}

	phone, ok := payment.NormalizePhone(order.CustomerPhone)
	if !ok {
		record.Status = StatusSkipped
		metrics.NotificationsSent.WithLabelValues(channelSMS, "invalid_phone").Inc()
		n.logger.Info("skipping ready sms, phone not reachable", map[string]interface{}{
			"orderId": order.ID,
		})
		return record, nil
	}
	record.Recipient = "+" + phone

	first, err := n.rdb.SetNX(ctx, dedupKey(order.ID), n.now().Unix(), n.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("ready sms dedupe: %w", err)
	}
	if !first {
		record.Status = StatusSkipped
		metrics.NotificationsSent.WithLabelValues(channelSMS, "duplicate").Inc()
		return record, nil
	}

	messageID, err := n.sender.SendSMS(ctx, record.Recipient, record.Message)
	if err != nil {
		// Release the marker so a redelivered event can try again.
		if delErr := n.rdb.Del(ctx, dedupKey(order.ID)).Err(); delErr != nil {
			n.logger.Warn("failed to release sms marker", map[string]interface{}{
				"orderId": order.ID,
				"error":   delErr.Error(),
			})
		}
		metrics.NotificationsSent.WithLabelValues(channelSMS, "failed").Inc()
		return nil, apperrors.NewNotificationSendFailedError(channelSMS, err).WithMetadata("orderId", order.ID)
	}

	record.Status = StatusSent
	record.MessageID = messageID
	metrics.NotificationsSent.WithLabelValues(channelSMS, "sent").Inc()
	n.logger.Info("ready sms sent", map[string]interface{}{
		"orderId":   order.ID,
		"messageId": messageID,
	})
	return record, nil
}

// Run handles events from sub until it closes or ctx is done.
func (n *ReadyNotifier) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if _, err := n.Handle(ctx, event); err != nil {
				n.logger.Warn("ready notification failed", map[string]interface{}{
					"orderId": event.Order.ID,
					"error":   err.Error(),
				})
			}
		}
	}
}
