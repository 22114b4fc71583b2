// internal/fulfillment/payment/reconciler.go
package payment

import (
	"context"
	"encoding/json"
	"time"

	apperrors "order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/common/metrics"
	"order-fulfillment/internal/common/observability"
	"order-fulfillment/internal/common/validation"
	"order-fulfillment/internal/models"
)

// Provider sends payment prompts to the customer's handset.
type Provider interface {
	Push(ctx context.Context, req PushRequest) (*PushResponse, error)
}

// Store is the subset of the order store the reconciler needs.
type Store interface {
	RecordPaymentRequest(ctx context.Context, checkoutRequestID, merchantRequestID, orderID string) error
	OrderForPaymentRequest(ctx context.Context, checkoutRequestID string) (string, error)
	SetPaymentStatus(ctx context.Context, id string, status models.PaymentStatus) (*models.Order, bool, error)
}

// Publisher fans order changes out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// Request describes an accepted push.
type Request struct {
	OrderID           string `json:"order_id"`
	Phone             string `json:"phone"`
	Amount            int64  `json:"amount"`
	CheckoutRequestID string `json:"checkout_request_id"`
	MerchantRequestID string `json:"merchant_request_id"`
	CustomerMessage   string `json:"customer_message,omitempty"`
}

// Callback is the provider's asynchronous payment result.
type Callback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string           `json:"MerchantRequestID"`
			CheckoutRequestID string           `json:"CheckoutRequestID"`
			ResultCode        int              `json:"ResultCode"`
			ResultDesc        string           `json:"ResultDesc"`
			CallbackMetadata  *CallbackDetails `json:"CallbackMetadata,omitempty"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type CallbackDetails struct {
	Item []CallbackItem `json:"Item"`
}

type CallbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value,omitempty"`
}

// Succeeded reports whether the payer completed the prompt.
func (c Callback) Succeeded() bool {
	return c.Body.StkCallback.ResultCode == 0
}

// Receipt returns the provider receipt number, if present.
func (c Callback) Receipt() string {
	if c.Body.StkCallback.CallbackMetadata == nil {
		return ""
	}
	for _, item := range c.Body.StkCallback.CallbackMetadata.Item {
		if item.Name == "MpesaReceiptNumber" {
			if s, ok := item.Value.(string); ok {
				return s
			}
		}
	}
	return ""
}

// ParseCallback validates and decodes a raw webhook body.
func ParseCallback(raw []byte) (Callback, error) {
	var cb Callback
	result, err := validation.MpesaCallback.ValidateBytes(raw)
	if err != nil {
		return cb, apperrors.NewPaymentCallbackInvalidError(err.Error())
	}
	if !result.Valid {
		return cb, apperrors.NewPaymentCallbackInvalidError(result.Summary())
	}
	if err := json.Unmarshal(raw, &cb); err != nil {
		return cb, apperrors.NewPaymentCallbackInvalidError(err.Error())
	}
	return cb, nil
}

// Reconciler requests mobile money payments and settles them from provider
// callbacks. Payment status leaves pending at most once.
type Reconciler struct {
	provider  Provider
	store     Store
	publisher Publisher
	obs       *observability.Observability
	logger    logger.Logger
}

func NewReconciler(provider Provider, store Store, publisher Publisher, obs *observability.Observability, log logger.Logger) *Reconciler {
	return &Reconciler{
		provider:  provider,
		store:     store,
		publisher: publisher,
		obs:       obs,
		logger:    logger.ForComponent(log, "payment-reconciler"),
	}
}

// RequestPayment pushes a payment prompt for a mobile money order. Counter
// orders are left pending and nil is returned. Failures never touch the order.
func (r *Reconciler) RequestPayment(ctx context.Context, order *models.Order) (*Request, error) {
	if order.PaymentMethod != models.PaymentMobileMoney {
		return nil, nil
	}

	phone, ok := NormalizePhone(order.CustomerPhone)
	if !ok {
		metrics.PaymentRequests.WithLabelValues("invalid_phone").Inc()
		return nil, apperrors.NewValidationError("customer_phone is not a valid mobile number").
			WithMetadata("orderId", order.ID)
	}

	start := time.Now()
	resp, err := r.provider.Push(ctx, PushRequest{
		OrderID: order.ID,
		Phone:   phone,
		Amount:  order.TotalAmount,
	})
	if err != nil {
		r.obs.RecordPaymentRequest(ctx, time.Since(start), "rejected")
		metrics.PaymentRequests.WithLabelValues("rejected").Inc()
		r.logger.Warn("payment request failed", map[string]interface{}{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		if stdErr, ok := apperrors.AsStandard(err); ok {
			return nil, stdErr.WithMetadata("orderId", order.ID)
		}
		return nil, apperrors.NewPaymentRequestRejectedError(err.Error()).WithMetadata("orderId", order.ID)
	}
	r.obs.RecordPaymentRequest(ctx, time.Since(start), "accepted")
	metrics.PaymentRequests.WithLabelValues("accepted").Inc()

	if err := r.store.RecordPaymentRequest(ctx, resp.CheckoutRequestID, resp.MerchantRequestID, order.ID); err != nil {
		// The prompt is already on the handset; without the correlation the
		// callback cannot settle the order.
		r.logger.Error("failed to record payment correlation", map[string]interface{}{
			"orderId":           order.ID,
			"checkoutRequestId": resp.CheckoutRequestID,
			"error":             err.Error(),
		})
		return nil, err
	}

	return &Request{
		OrderID:           order.ID,
		Phone:             phone,
		Amount:            int64(order.TotalAmount),
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// HandleCallback settles the order a callback refers to. Replayed callbacks
// return the order with changed=false and publish nothing.
func (r *Reconciler) HandleCallback(ctx context.Context, cb Callback) (*models.Order, bool, error) {
	checkoutID := cb.Body.StkCallback.CheckoutRequestID
	if checkoutID == "" {
		return nil, false, apperrors.NewPaymentCallbackInvalidError("missing CheckoutRequestID")
	}

	orderID, err := r.store.OrderForPaymentRequest(ctx, checkoutID)
	if err != nil {
		metrics.PaymentCallbacks.WithLabelValues("unknown").Inc()
		return nil, false, err
	}

	status := models.PaymentFailed
	if cb.Succeeded() {
		status = models.PaymentPaid
	}

	order, changed, err := r.store.SetPaymentStatus(ctx, orderID, status)
	if err != nil {
		return nil, false, err
	}

	fields := map[string]interface{}{
		"orderId":           orderID,
		"checkoutRequestId": checkoutID,
		"resultCode":        cb.Body.StkCallback.ResultCode,
		"status":            string(status),
	}
	if !changed {
		metrics.PaymentCallbacks.WithLabelValues("duplicate").Inc()
		r.logger.Info("payment callback replayed", fields)
		return order, false, nil
	}

	metrics.PaymentCallbacks.WithLabelValues(string(status)).Inc()
	if receipt := cb.Receipt(); receipt != "" {
		fields["receipt"] = receipt
	}
	r.logger.Info("payment settled from callback", fields)

	if err := r.publisher.Publish(ctx, models.NewEvent(models.EventUpdated, *order)); err != nil {
		r.logger.Warn("failed to publish payment update", map[string]interface{}{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
	return order, true, nil
}
