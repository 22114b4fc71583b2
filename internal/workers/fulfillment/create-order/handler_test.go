package createorder

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"order-fulfillment/internal/common/config"
	"order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/fulfillment/checkout"
	"order-fulfillment/internal/fulfillment/payment"
	"order-fulfillment/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Checkout
// ==========================

type MockCheckout struct {
	mock.Mock
}

func (m *MockCheckout) Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.Result), args.Error(1)
}

// ==========================
// Mock Job Helper
// ==========================

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)

	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               TaskType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "order-fulfillment",
		ElementId:          "Activity_CreateOrder",
		CustomHeaders:      "{}",
		Worker:             "test-worker",
		Retries:            3,
		Variables:          string(variablesJSON),
	}}
}

func validVariables() map[string]interface{} {
	return map[string]interface{}{
		"branchId":      "westlands",
		"customerName":  "Amina",
		"customerPhone": "0712345678",
		"orderType":     "pickup",
		"paymentMethod": "mpesa",
		"items": []map[string]interface{}{
			{"product_id": "latte", "quantity": 2, "selected_size": "Large"},
		},
	}
}

func placedOrder() *models.Order {
	return &models.Order{
		ID:            "KG-4821",
		BranchID:      "westlands",
		TotalAmount:   900,
		OrderStatus:   models.StatusNew,
		PaymentStatus: models.PaymentPending,
	}
}

func newTestHandler(t *testing.T) (*Handler, *MockCheckout) {
	m := new(MockCheckout)
	return NewHandler(DefaultConfig(), m, logger.NewTestLogger(t)), m
}

// ==========================
// Input Parsing
// ==========================

func TestHandler_ParseInput(t *testing.T) {
	h, _ := newTestHandler(t)

	input, err := h.parseInput(createMockJob(1, validVariables()))
	require.NoError(t, err)
	assert.Equal(t, "westlands", input.BranchID)
	require.Len(t, input.Items, 1)
	assert.Equal(t, "latte", input.Items[0].ProductID)
	assert.Equal(t, models.SizeLarge, input.Items[0].Size)

	tests := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{"missing branch", func(v map[string]interface{}) { delete(v, "branchId") }},
		{"unknown order type", func(v map[string]interface{}) { v["orderType"] = "dine-in" }},
		{"empty cart", func(v map[string]interface{}) { v["items"] = []interface{}{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := validVariables()
			tt.mutate(vars)
			_, err := h.parseInput(createMockJob(2, vars))
			assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
		})
	}
}

// ==========================
// Execute
// ==========================

func TestHandler_Execute_Success(t *testing.T) {
	h, m := newTestHandler(t)

	m.On("Checkout", mock.Anything, mock.MatchedBy(func(req checkout.Request) bool {
		return req.BranchID == "westlands" && req.PaymentMethod == models.PaymentMobileMoney
	})).Return(&checkout.Result{
		Order:         placedOrder(),
		PaymentStatus: checkout.PaymentRequested,
		Payment:       &payment.Request{OrderID: "KG-4821", CheckoutRequestID: "ws_CO_1"},
	}, nil)

	input, err := h.parseInput(createMockJob(1, validVariables()))
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "KG-4821", out.OrderID)
	assert.Equal(t, "new", out.OrderStatus)
	assert.Equal(t, "pending", out.PaymentStatus)
	assert.Equal(t, checkout.PaymentRequested, out.PaymentRequest)
	assert.Equal(t, "ws_CO_1", out.CheckoutRequestID)
	assert.Equal(t, 900.0, out.TotalAmount)
}

func TestHandler_Execute_PaymentFailureCompletes(t *testing.T) {
	h, m := newTestHandler(t)

	m.On("Checkout", mock.Anything, mock.Anything).Return(&checkout.Result{
		Order:         placedOrder(),
		PaymentStatus: checkout.PaymentFailedToRequest,
	}, errors.NewPaymentRequestRejectedError("Invalid Access Token"))

	out, err := h.Execute(context.Background(), &Input{BranchID: "westlands"})
	require.NoError(t, err)
	assert.Equal(t, checkout.PaymentFailedToRequest, out.PaymentRequest)
	assert.Empty(t, out.CheckoutRequestID)
}

func TestHandler_Execute_Refused(t *testing.T) {
	h, m := newTestHandler(t)

	m.On("Checkout", mock.Anything, mock.Anything).
		Return(nil, errors.NewItemSoldOutError("latte", "Latte"))

	out, err := h.Execute(context.Background(), &Input{BranchID: "westlands"})
	assert.Nil(t, out)
	assert.True(t, errors.HasCode(err, errors.ErrCodeItemSoldOut))
}

// ==========================
// Config
// ==========================

func TestConfigFromApp(t *testing.T) {
	cfg := ConfigFromApp(&config.Config{Workers: map[string]config.WorkerConfig{
		"create-order": {Enabled: false, MaxJobsActive: 2, Timeout: 5000},
	}})
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 2, cfg.MaxJobsActive)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.NoError(t, cfg.Validate())

	def := ConfigFromApp(&config.Config{})
	assert.True(t, def.Enabled)
	assert.Equal(t, 30*time.Second, def.Timeout)

	assert.Error(t, (&Config{MaxJobsActive: 1}).Validate())
}
