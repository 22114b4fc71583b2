// Package events carries order change notifications between the order store
// and its consumers over Redis pub/sub. Delivery is at-least-once per
// subscriber and consumers must tolerate duplicates and reordering.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/common/metrics"
	"order-fulfillment/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	topicPrefix = "orders:branch:"
	allPattern  = topicPrefix + "*"

	subscriberBuffer = 64
)

// Topic returns the pub/sub channel of a branch.
func Topic(branchID string) string {
	return topicPrefix + branchID
}

// Channel publishes and subscribes to order events.
type Channel struct {
	rdb    *redis.Client
	now    func() time.Time
	logger logger.Logger
}

func NewChannel(rdb *redis.Client, log logger.Logger) *Channel {
	return &Channel{
		rdb:    rdb,
		now:    time.Now,
		logger: logger.ForComponent(log, "event-channel"),
	}
}

// Publish sends event to the topic of the order's branch.
func (c *Channel) Publish(ctx context.Context, event models.Event) error {
	if event.Order.BranchID == "" {
		return apperrors.NewValidationError("event order has no branch_id")
	}
	if !event.Type.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown event type %q", event.Type))
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.PublishedAt.IsZero() {
		event.PublishedAt = c.now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	topic := Topic(event.Order.BranchID)
	if err := c.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return apperrors.NewEventPublishFailedError(topic, err)
	}

	metrics.EventsPublished.WithLabelValues(string(event.Type)).Inc()
	c.logger.Debug("event published", map[string]interface{}{
		"topic":   topic,
		"type":    string(event.Type),
		"orderId": event.Order.ID,
		"eventId": event.ID,
	})
	return nil
}

// Subscribe listens to one branch. The subscription is confirmed by the
// server before Subscribe returns, so no event published afterwards is missed.
func (c *Channel) Subscribe(ctx context.Context, branchID string) (*Subscription, error) {
	if branchID == "" {
		return nil, apperrors.NewValidationError("branch_id is required")
	}
	ps := c.rdb.Subscribe(ctx, Topic(branchID))
	return c.start(ctx, ps, branchID)
}

// SubscribeAll listens to every branch.
func (c *Channel) SubscribeAll(ctx context.Context) (*Subscription, error) {
	ps := c.rdb.PSubscribe(ctx, allPattern)
	return c.start(ctx, ps, "")
}

func (c *Channel) start(ctx context.Context, ps *redis.PubSub, branchID string) (*Subscription, error) {
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	sub := &Subscription{
		ps:       ps,
		branchID: branchID,
		events:   make(chan models.Event, subscriberBuffer),
		done:     make(chan struct{}),
		logger:   c.logger,
	}
	go sub.pump(ps.Channel())
	return sub, nil
}

// Subscription delivers decoded events until closed. Events() is closed
// when the subscription ends for any reason.
type Subscription struct {
	ps       *redis.PubSub
	branchID string
	events   chan models.Event
	done     chan struct{}
	once     sync.Once
	logger   logger.Logger
}

func (s *Subscription) Events() <-chan models.Event {
	return s.events
}

func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (s *Subscription) pump(msgs <-chan *redis.Message) {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			event, ok := s.decode(msg)
			if !ok {
				continue
			}
			select {
			case s.events <- event:
			case <-s.done:
				return
			}
		}
	}
}

func (s *Subscription) decode(msg *redis.Message) (models.Event, bool) {
	var event models.Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		s.logger.Warn("dropping malformed event", map[string]interface{}{
			"channel": msg.Channel,
			"error":   err.Error(),
		})
		return event, false
	}
	if !event.Type.Valid() || event.Order.ID == "" {
		s.logger.Warn("dropping invalid event", map[string]interface{}{
			"channel": msg.Channel,
			"type":    string(event.Type),
		})
		return event, false
	}

	branch := strings.TrimPrefix(msg.Channel, topicPrefix)
	if event.Order.BranchID != branch || (s.branchID != "" && branch != s.branchID) {
		s.logger.Warn("dropping event for foreign branch", map[string]interface{}{
			"channel":  msg.Channel,
			"branchId": event.Order.BranchID,
		})
		return event, false
	}
	return event, true
}
