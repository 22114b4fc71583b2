package advanceorder

import (
	"context"
	"encoding/json"
	"testing"

	"order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mocks
// ==========================

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, id string) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockStore) Advance(ctx context.Context, id string, target models.OrderStatus) (*models.Order, bool, error) {
	args := m.Called(ctx, id, target)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*models.Order), args.Bool(1), args.Error(2)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event models.Event) error {
	return m.Called(ctx, event).Error(0)
}

// ==========================
// Test Helpers
// ==========================

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               TaskType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "order-fulfillment",
		ElementId:          "Activity_AdvanceOrder",
		CustomHeaders:      "{}",
		Retries:            3,
		Variables:          string(variablesJSON),
	}}
}

func newTestHandler(t *testing.T) (*Handler, *MockStore, *MockPublisher) {
	store := new(MockStore)
	pub := new(MockPublisher)
	return NewHandler(DefaultConfig(), store, pub, logger.NewTestLogger(t)), store, pub
}

func at(status models.OrderStatus) *models.Order {
	return &models.Order{ID: "KG-1", BranchID: "westlands", OrderStatus: status}
}

// ==========================
// Tests
// ==========================

func TestHandler_ParseInput(t *testing.T) {
	h, _, _ := newTestHandler(t)

	input, err := h.parseInput(createMockJob(1, map[string]interface{}{"orderId": "KG-1", "targetStatus": "ready"}))
	require.NoError(t, err)
	assert.Equal(t, "ready", input.Target)

	_, err = h.parseInput(createMockJob(2, map[string]interface{}{"orderId": "KG-1", "targetStatus": "new"}))
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))

	_, err = h.parseInput(createMockJob(3, map[string]interface{}{}))
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
}

func TestHandler_Execute_NextStatusPublishes(t *testing.T) {
	h, store, pub := newTestHandler(t)

	store.On("Get", mock.Anything, "KG-1").Return(at(models.StatusPreparing), nil)
	store.On("Advance", mock.Anything, "KG-1", models.StatusReady).Return(at(models.StatusReady), true, nil)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e models.Event) bool {
		return e.Type == models.EventUpdated && e.Order.OrderStatus == models.StatusReady
	})).Return(nil).Once()

	out, err := h.Execute(context.Background(), &Input{OrderID: "KG-1"})
	require.NoError(t, err)
	assert.Equal(t, "ready", out.OrderStatus)
	assert.True(t, out.Changed)
	pub.AssertExpectations(t)
}

func TestHandler_Execute_ReplayIsQuiet(t *testing.T) {
	h, store, pub := newTestHandler(t)

	store.On("Advance", mock.Anything, "KG-1", models.StatusReady).Return(at(models.StatusCompleted), false, nil)

	out, err := h.Execute(context.Background(), &Input{OrderID: "KG-1", Target: "ready"})
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, "completed", out.OrderStatus)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestHandler_Execute_PublishFailureStillCompletes(t *testing.T) {
	h, store, pub := newTestHandler(t)

	store.On("Advance", mock.Anything, "KG-1", models.StatusPreparing).Return(at(models.StatusPreparing), true, nil)
	pub.On("Publish", mock.Anything, mock.Anything).
		Return(errors.NewEventPublishFailedError("orders:branch:westlands", assert.AnError))

	out, err := h.Execute(context.Background(), &Input{OrderID: "KG-1", Target: "preparing"})
	require.NoError(t, err)
	assert.True(t, out.Changed)
}

func TestHandler_Execute_Rejections(t *testing.T) {
	h, store, _ := newTestHandler(t)

	store.On("Get", mock.Anything, "KG-1").Return(at(models.StatusCompleted), nil)
	_, err := h.Execute(context.Background(), &Input{OrderID: "KG-1"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidStatusTransition))

	store.On("Advance", mock.Anything, "KG-2", models.StatusReady).
		Return(nil, false, errors.NewInvalidStatusTransitionError("KG-2", "new", "ready"))
	_, err = h.Execute(context.Background(), &Input{OrderID: "KG-2", Target: "ready"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidStatusTransition))
}
