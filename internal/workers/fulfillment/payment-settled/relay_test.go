package paymentsettled

import (
	"context"
	"errors"
	"testing"
	"time"

	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/fulfillment/events"
	"order-fulfillment/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishMessage(ctx context.Context, name, correlationKey, messageID string,
	variables map[string]interface{}, ttl time.Duration) error {
	args := m.Called(ctx, name, correlationKey, messageID, variables, ttl)
	return args.Error(0)
}

func order(id string, payment models.PaymentStatus) models.Order {
	return models.Order{
		ID:            id,
		BranchID:      "westlands",
		TotalAmount:   700,
		OrderStatus:   models.StatusNew,
		PaymentStatus: payment,
	}
}

func TestHandle_PublishesPaidOutcome(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("PublishMessage", mock.Anything, MessageName, "KG-1", "KG-1:paid",
		map[string]interface{}{"orderId": "KG-1", "paymentStatus": "paid", "totalAmount": 700.0},
		defaultTTL).Return(nil)

	relay := NewRelay(pub, 0, logger.NewTestLogger(t))
	sent, err := relay.Handle(context.Background(), models.NewEvent(models.EventUpdated, order("KG-1", models.PaymentPaid)))

	require.NoError(t, err)
	assert.True(t, sent)
	pub.AssertExpectations(t)
}

func TestHandle_IgnoresUnsettledEvents(t *testing.T) {
	pub := new(MockPublisher)
	relay := NewRelay(pub, time.Minute, logger.NewTestLogger(t))

	tests := []struct {
		name  string
		event models.Event
	}{
		{"created", models.NewEvent(models.EventCreated, order("KG-1", models.PaymentPaid))},
		{"pending", models.NewEvent(models.EventUpdated, order("KG-1", models.PaymentPending))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sent, err := relay.Handle(context.Background(), tt.event)
			require.NoError(t, err)
			assert.False(t, sent)
		})
	}
	pub.AssertNotCalled(t, "PublishMessage")
}

func TestHandle_ReturnsPublishError(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("PublishMessage", mock.Anything, mock.Anything, mock.Anything, "KG-2:failed", mock.Anything, mock.Anything).
		Return(errors.New("unavailable"))

	relay := NewRelay(pub, time.Minute, logger.NewTestLogger(t))
	sent, err := relay.Handle(context.Background(), models.NewEvent(models.EventUpdated, order("KG-2", models.PaymentFailed)))

	assert.Error(t, err)
	assert.False(t, sent)
}

func TestRun_ConsumesSubscription(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	channel := events.NewChannel(rdb, logger.NewTestLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := channel.SubscribeAll(ctx)
	require.NoError(t, err)
	defer sub.Close()

	published := make(chan string, 1)
	pub := new(MockPublisher)
	pub.On("PublishMessage", mock.Anything, MessageName, "KG-3", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { published <- args.String(3) }).
		Return(nil)

	go NewRelay(pub, time.Minute, logger.NewTestLogger(t)).Run(ctx, sub)
	require.NoError(t, channel.Publish(ctx, models.NewEvent(models.EventUpdated, order("KG-3", models.PaymentPaid))))

	select {
	case id := <-published:
		assert.Equal(t, "KG-3:paid", id)
	case <-time.After(2 * time.Second):
		t.Fatal("payment outcome was not relayed")
	}
}
