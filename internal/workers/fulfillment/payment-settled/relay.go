// Package paymentsettled forwards payment outcomes to Zeebe so a process
// waiting on an order's payment can continue.
package paymentsettled

import (
	"context"
	"time"

	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/fulfillment/events"
	"order-fulfillment/internal/models"
)

const (
	MessageName = "fulfillment.payment.settled"
	defaultTTL  = time.Hour
)

type MessagePublisher interface {
	PublishMessage(ctx context.Context, name, correlationKey, messageID string,
		variables map[string]interface{}, ttl time.Duration) error
}

// Relay publishes one message per order and payment outcome, correlated by
// order id.
type Relay struct {
	publisher MessagePublisher
	ttl       time.Duration
	logger    logger.Logger
}

func NewRelay(publisher MessagePublisher, ttl time.Duration, log logger.Logger) *Relay {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Relay{
		publisher: publisher,
		ttl:       ttl,
		logger:    logger.ForComponent(log, "payment-settled-relay"),
	}
}

// Handle reports whether a message was published for event.
func (r *Relay) Handle(ctx context.Context, event models.Event) (bool, error) {
	order := event.Order
	if event.Type != models.EventUpdated || order.PaymentStatus == models.PaymentPending {
		return false, nil
	}

	messageID := order.ID + ":" + string(order.PaymentStatus)
	err := r.publisher.PublishMessage(ctx, MessageName, order.ID, messageID, map[string]interface{}{
		"orderId":       order.ID,
		"paymentStatus": string(order.PaymentStatus),
		"totalAmount":   order.TotalAmount,
	}, r.ttl)
	if err != nil {
		return false, err
	}

	r.logger.Debug("payment outcome relayed", map[string]interface{}{
		"orderId":       order.ID,
		"paymentStatus": string(order.PaymentStatus),
	})
	return true, nil
}

// Run handles events from sub until it closes or ctx is done.
func (r *Relay) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if _, err := r.Handle(ctx, event); err != nil {
				r.logger.Warn("payment outcome relay failed", map[string]interface{}{
					"orderId": event.Order.ID,
					"error":   err.Error(),
				})
			}
		}
	}
}
