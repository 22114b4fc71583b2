package kitchen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/fulfillment/events"
	"order-fulfillment/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Fakes
// ==========================

type MockSource struct {
	mock.Mock
}

func (m *MockSource) ActiveOrders(ctx context.Context, branchID string) ([]models.Order, error) {
	args := m.Called(ctx, branchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Order), args.Error(1)
}

func (m *MockSource) Advance(ctx context.Context, id string, target models.OrderStatus) (*models.Order, bool, error) {
	args := m.Called(ctx, id, target)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Order), args.Bool(1), args.Error(2)
}

type recordingFeed struct {
	mu        sync.Mutex
	published []models.Event
	channel   *events.Channel
}

func (f *recordingFeed) Subscribe(ctx context.Context, branchID string) (*events.Subscription, error) {
	return f.channel.Subscribe(ctx, branchID)
}

func (f *recordingFeed) Publish(ctx context.Context, event models.Event) error {
	f.mu.Lock()
	f.published = append(f.published, event)
	f.mu.Unlock()
	if f.channel != nil {
		return f.channel.Publish(ctx, event)
	}
	return nil
}

func (f *recordingFeed) events() []models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Event(nil), f.published...)
}

// ==========================
// Test Helpers
// ==========================

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func ticket(id string, status models.OrderStatus, minutesAgo int) models.Order {
	return models.Order{
		ID:            id,
		BranchID:      "westlands",
		CreatedAt:     baseTime.Add(-time.Duration(minutesAgo) * time.Minute),
		OrderStatus:   status,
		PaymentStatus: models.PaymentPending,
		Items:         []models.OrderItem{},
	}
}

func newTestDisplay(t *testing.T, source OrderSource, feed Feed) *Display {
	return NewDisplay("westlands", source, feed, Options{
		AlertsEnabled: true,
		Now:           func() time.Time { return baseTime },
	}, logger.NewTestLogger(t))
}

func ids(tickets []Ticket) []string {
	out := make([]string, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, t.Order.ID)
	}
	return out
}

// ==========================
// Apply
// ==========================

func TestApply_CreatedAddsOnceAndAlerts(t *testing.T) {
	d := newTestDisplay(t, nil, nil)

	var alerts []string
	d.OnAlert(func(o models.Order) { alerts = append(alerts, o.ID) })

	o := ticket("KG-1001", models.StatusNew, 1)
	assert.True(t, d.Apply(models.NewEvent(models.EventCreated, o)))
	assert.False(t, d.Apply(models.NewEvent(models.EventCreated, o)))

	assert.Equal(t, []string{"KG-1001"}, ids(d.Board().New))
	assert.Equal(t, []string{"KG-1001"}, alerts)
}

func TestApply_NoAlertWhenDisabled(t *testing.T) {
	d := newTestDisplay(t, nil, nil)
	d.SetAlerts(false)

	alerted := false
	d.OnAlert(func(models.Order) { alerted = true })

	d.Apply(models.NewEvent(models.EventCreated, ticket("KG-1001", models.StatusNew, 1)))
	assert.False(t, alerted)
	assert.False(t, d.Board().AlertsEnabled)
}

func TestApply_IgnoresForeignBranchAndCompletedCreates(t *testing.T) {
	d := newTestDisplay(t, nil, nil)

	foreign := ticket("KG-2001", models.StatusNew, 1)
	foreign.BranchID = "kilimani"
	assert.False(t, d.Apply(models.NewEvent(models.EventCreated, foreign)))
	assert.False(t, d.Apply(models.NewEvent(models.EventCreated, ticket("KG-1001", models.StatusCompleted, 1))))

	b := d.Board()
	assert.Empty(t, b.New)
	assert.Empty(t, b.Preparing)
	assert.Empty(t, b.Ready)
}

func TestApply_UpdatedMovesAndRemoves(t *testing.T) {
	d := newTestDisplay(t, nil, nil)
	d.Apply(models.NewEvent(models.EventCreated, ticket("KG-1001", models.StatusNew, 1)))

	assert.True(t, d.Apply(models.NewEvent(models.EventUpdated, ticket("KG-1001", models.StatusPreparing, 1))))
	assert.Equal(t, []string{"KG-1001"}, ids(d.Board().Preparing))

	assert.True(t, d.Apply(models.NewEvent(models.EventUpdated, ticket("KG-1001", models.StatusCompleted, 1))))
	b := d.Board()
	assert.Empty(t, b.New)
	assert.Empty(t, b.Preparing)
	assert.Empty(t, b.Ready)

	// completion of an unknown order changes nothing
	assert.False(t, d.Apply(models.NewEvent(models.EventUpdated, ticket("KG-9999", models.StatusCompleted, 1))))
}

func TestApply_StaleUpdateDoesNotRegress(t *testing.T) {
	d := newTestDisplay(t, nil, nil)
	d.Apply(models.NewEvent(models.EventUpdated, ticket("KG-1001", models.StatusReady, 1)))

	assert.False(t, d.Apply(models.NewEvent(models.EventUpdated, ticket("KG-1001", models.StatusPreparing, 1))))
	assert.Equal(t, []string{"KG-1001"}, ids(d.Board().Ready))
}

func TestApply_PaymentUpdateReplacesTicket(t *testing.T) {
	d := newTestDisplay(t, nil, nil)
	d.Apply(models.NewEvent(models.EventCreated, ticket("KG-1001", models.StatusNew, 1)))

	paid := ticket("KG-1001", models.StatusNew, 1)
	paid.PaymentStatus = models.PaymentPaid
	assert.True(t, d.Apply(models.NewEvent(models.EventUpdated, paid)))
	assert.False(t, d.Apply(models.NewEvent(models.EventUpdated, paid)))

	assert.Equal(t, models.PaymentPaid, d.Board().New[0].Order.PaymentStatus)
}

func TestApply_StalePendingDoesNotOverwriteSettledPayment(t *testing.T) {
	for _, settled := range []models.PaymentStatus{models.PaymentPaid, models.PaymentFailed} {
		t.Run(string(settled), func(t *testing.T) {
			d := newTestDisplay(t, nil, nil)

			o := ticket("KG-1001", models.StatusNew, 1)
			o.PaymentStatus = settled
			require.True(t, d.Apply(models.NewEvent(models.EventUpdated, o)))

			stale := ticket("KG-1001", models.StatusNew, 1)
			assert.False(t, d.Apply(models.NewEvent(models.EventUpdated, stale)))
			assert.Equal(t, settled, d.Board().New[0].Order.PaymentStatus)

			// a status move still lands even when the copy carries pending
			preparing := ticket("KG-1001", models.StatusPreparing, 1)
			assert.True(t, d.Apply(models.NewEvent(models.EventUpdated, preparing)))
			assert.Equal(t, []string{"KG-1001"}, ids(d.Board().Preparing))
			assert.Equal(t, settled, d.Board().Preparing[0].Order.PaymentStatus)
		})
	}
}

// ==========================
// Board
// ==========================

func TestBoard_OrderingAndLateness(t *testing.T) {
	d := newTestDisplay(t, nil, nil)

	for _, o := range []models.Order{
		ticket("KG-3", models.StatusNew, 2),
		ticket("KG-1", models.StatusNew, 20),
		ticket("KG-2", models.StatusNew, 15),
		ticket("KG-4", models.StatusPreparing, 16),
		ticket("KG-5", models.StatusReady, 40),
	} {
		d.Apply(models.NewEvent(models.EventUpdated, o))
	}

	b := d.Board()
	require.Equal(t, []string{"KG-1", "KG-2", "KG-3"}, ids(b.New))

	assert.True(t, b.New[0].Late)
	assert.Equal(t, 20, b.New[0].ElapsedMinutes)
	// exactly 15 minutes is not late yet
	assert.False(t, b.New[1].Late)
	assert.False(t, b.New[2].Late)
	assert.True(t, b.Preparing[0].Late)
	// ready orders are never late
	assert.False(t, b.Ready[0].Late)
	assert.Equal(t, 40, b.Ready[0].ElapsedMinutes)
}

func TestOnChange_ReceivesBoard(t *testing.T) {
	d := newTestDisplay(t, nil, nil)

	var boards []Board
	d.OnChange(func(b Board) { boards = append(boards, b) })

	o := ticket("KG-1001", models.StatusNew, 1)
	d.Apply(models.NewEvent(models.EventCreated, o))
	d.Apply(models.NewEvent(models.EventCreated, o))

	require.Len(t, boards, 1)
	assert.Equal(t, []string{"KG-1001"}, ids(boards[0].New))
}

// ==========================
// Advance
// ==========================

func TestAdvance_PersistsAndPublishes(t *testing.T) {
	source := new(MockSource)
	feed := &recordingFeed{}
	d := newTestDisplay(t, source, feed)
	d.Apply(models.NewEvent(models.EventCreated, ticket("KG-1001", models.StatusNew, 1)))

	var optimistic []string
	d.OnChange(func(b Board) {
		if len(optimistic) == 0 {
			optimistic = ids(b.Preparing)
		}
	})

	advanced := ticket("KG-1001", models.StatusPreparing, 1)
	source.On("Advance", mock.Anything, "KG-1001", models.StatusPreparing).Return(&advanced, true, nil)

	got, err := d.Advance(context.Background(), "KG-1001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreparing, got.OrderStatus)
	assert.Equal(t, []string{"KG-1001"}, optimistic)
	assert.Equal(t, []string{"KG-1001"}, ids(d.Board().Preparing))

	published := feed.events()
	require.Len(t, published, 1)
	assert.Equal(t, models.EventUpdated, published[0].Type)
	assert.Equal(t, models.StatusPreparing, published[0].Order.OrderStatus)
}

func TestAdvance_ReadyToCompletedLeavesBoard(t *testing.T) {
	source := new(MockSource)
	d := newTestDisplay(t, source, &recordingFeed{})
	d.Apply(models.NewEvent(models.EventUpdated, ticket("KG-1001", models.StatusReady, 1)))

	done := ticket("KG-1001", models.StatusCompleted, 1)
	source.On("Advance", mock.Anything, "KG-1001", models.StatusCompleted).Return(&done, true, nil)

	_, err := d.Advance(context.Background(), "KG-1001")
	require.NoError(t, err)
	assert.Empty(t, d.Board().Ready)
}

func TestAdvance_NoOpIsNotPublished(t *testing.T) {
	source := new(MockSource)
	feed := &recordingFeed{}
	d := newTestDisplay(t, source, feed)
	d.Apply(models.NewEvent(models.EventCreated, ticket("KG-1001", models.StatusNew, 1)))

	// another station already moved it
	already := ticket("KG-1001", models.StatusPreparing, 1)
	source.On("Advance", mock.Anything, "KG-1001", models.StatusPreparing).Return(&already, false, nil)

	_, err := d.Advance(context.Background(), "KG-1001")
	require.NoError(t, err)
	assert.Empty(t, feed.events())
}

func TestAdvance_FailureReconcilesWithSnapshot(t *testing.T) {
	source := new(MockSource)
	d := newTestDisplay(t, source, &recordingFeed{})
	d.Apply(models.NewEvent(models.EventCreated, ticket("KG-1001", models.StatusNew, 1)))

	source.On("Advance", mock.Anything, "KG-1001", models.StatusPreparing).
		Return(nil, false, apperrors.NewPersistenceFailedError("advance order", errors.New("connection reset")))
	source.On("ActiveOrders", mock.Anything, "westlands").
		Return([]models.Order{ticket("KG-1001", models.StatusNew, 1)}, nil)

	_, err := d.Advance(context.Background(), "KG-1001")
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))

	b := d.Board()
	assert.Equal(t, []string{"KG-1001"}, ids(b.New))
	assert.Empty(t, b.Preparing)
	source.AssertExpectations(t)
}

func TestAdvance_UnknownOrder(t *testing.T) {
	d := newTestDisplay(t, new(MockSource), &recordingFeed{})

	_, err := d.Advance(context.Background(), "KG-404")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeOrderNotFound))
}

// ==========================
// Run
// ==========================

func TestRun_SnapshotThenLiveEvents(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	channel := events.NewChannel(rdb, logger.NewTestLogger(t))
	source := new(MockSource)
	source.On("ActiveOrders", mock.Anything, "westlands").
		Return([]models.Order{ticket("KG-1000", models.StatusPreparing, 5)}, nil)

	d := newTestDisplay(t, source, &recordingFeed{channel: channel})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(d.Board().Preparing) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, channel.Publish(context.Background(),
		models.NewEvent(models.EventCreated, ticket("KG-1001", models.StatusNew, 0))))

	assert.Eventually(t, func() bool {
		return len(d.Board().New) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
