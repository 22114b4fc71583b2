// internal/fulfillment/checkout/service.go
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/common/metrics"
	"order-fulfillment/internal/common/observability"
	"order-fulfillment/internal/fulfillment/enrich"
	"order-fulfillment/internal/fulfillment/inventory"
	"order-fulfillment/internal/fulfillment/payment"
	"order-fulfillment/internal/models"
)

// Payment outcomes reported on a Result.
const (
	PaymentRequested       = "requested"
	PaymentNotRequired     = "not-required"
	PaymentFailedToRequest = "failed-to-request"
)

type Gate interface {
	Validate(ctx context.Context, branchID string, items []models.CartItem) (*inventory.Snapshot, error)
}

type OrderCreator interface {
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
}

type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

type PaymentRequester interface {
	RequestPayment(ctx context.Context, order *models.Order) (*payment.Request, error)
}

// Request is a submitted checkout form.
type Request struct {
	BranchID         string               `json:"branch_id"`
	CustomerName     string               `json:"customer_name"`
	CustomerPhone    string               `json:"customer_phone"`
	OrderType        models.OrderType     `json:"order_type"`
	PaymentMethod    models.PaymentMethod `json:"payment_method"`
	DeliveryLocation *string              `json:"delivery_location"`
	Items            []models.CartItem    `json:"items"`
}

type Result struct {
	Order         *models.Order    `json:"order"`
	PaymentStatus string           `json:"payment_status"`
	Payment       *payment.Request `json:"payment,omitempty"`
}

// Service places orders: validate, gate, enrich, persist, publish, then
// request payment. Nothing is persisted unless every check before Create passes.
type Service struct {
	gate      Gate
	orders    OrderCreator
	publisher Publisher
	payments  PaymentRequester
	pricing   enrich.Pricing
	obs       *observability.Observability
	logger    logger.Logger
}

func NewService(gate Gate, orders OrderCreator, publisher Publisher, payments PaymentRequester,
	pricing enrich.Pricing, obs *observability.Observability, log logger.Logger) *Service {
	return &Service{
		gate:      gate,
		orders:    orders,
		publisher: publisher,
		payments:  payments,
		pricing:   pricing,
		obs:       obs,
		logger:    logger.ForComponent(log, "checkout"),
	}
}

// Checkout places the order. When the payment push fails the order has
// already been persisted: the Result is returned together with the payment
// error so callers can show both.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	result, err := s.checkout(ctx, req)

	outcome := outcomeOf(result, err)
	metrics.Checkouts.WithLabelValues(outcome).Inc()
	s.obs.RecordCheckout(ctx, time.Since(start), outcome)
	return result, err
}

func (s *Service) checkout(ctx context.Context, req Request) (*Result, error) {
	if err := Validate(&req); err != nil {
		return nil, err
	}

	snap, err := s.gate.Validate(ctx, req.BranchID, req.Items)
	if err != nil {
		s.logger.Info("checkout refused by inventory gate", map[string]interface{}{
			"branchId": req.BranchID,
			"code":     string(apperrors.CodeOf(err)),
		})
		return nil, err
	}

	items, err := enrich.Enrich(req.Items, snap)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.Create(ctx, &models.Order{
		CustomerName:     req.CustomerName,
		CustomerPhone:    req.CustomerPhone,
		BranchID:         req.BranchID,
		OrderType:        req.OrderType,
		PaymentMethod:    req.PaymentMethod,
		TotalAmount:      s.pricing.OrderTotal(items, req.OrderType),
		Items:            items,
		DeliveryLocation: req.DeliveryLocation,
	})
	if err != nil {
		return nil, err
	}

	if err := s.publisher.Publish(ctx, models.NewEvent(models.EventCreated, *order)); err != nil {
		s.logger.Warn("failed to publish created event", map[string]interface{}{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}

	result := &Result{Order: order, PaymentStatus: PaymentNotRequired}
	if order.PaymentMethod != models.PaymentMobileMoney {
		return result, nil
	}

	pr, err := s.payments.RequestPayment(ctx, order)
	if err != nil {
		// The order stands; staff reconcile unpaid orders by reference.
		result.PaymentStatus = PaymentFailedToRequest
		s.logger.Warn("order placed but payment request failed", map[string]interface{}{
			"orderId": order.ID,
			"code":    string(apperrors.CodeOf(err)),
		})
		if stdErr, ok := apperrors.AsStandard(err); ok {
			err = stdErr.WithMetadata("orderId", order.ID)
		}
		return result, err
	}
	result.PaymentStatus = PaymentRequested
	result.Payment = pr
	return result, nil
}

// Validate checks and normalizes the form. Text fields are trimmed in place.
func Validate(req *Request) error {
	req.BranchID = strings.TrimSpace(req.BranchID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)

	var problems []string
	if req.BranchID == "" {
		problems = append(problems, "branch_id is required")
	}
	if req.CustomerName == "" {
		problems = append(problems, "customer_name is required")
	}
	if !req.OrderType.Valid() {
		problems = append(problems, fmt.Sprintf("order_type %q is not supported", req.OrderType))
	}
	if !req.PaymentMethod.Valid() {
		problems = append(problems, fmt.Sprintf("payment_method %q is not supported", req.PaymentMethod))
	}

	if req.CustomerPhone == "" {
		problems = append(problems, "customer_phone is required")
	} else if phone, ok := payment.NormalizePhone(req.CustomerPhone); ok {
		req.CustomerPhone = phone
	} else {
		problems = append(problems, "customer_phone is not a valid mobile number")
	}

	if req.DeliveryLocation != nil {
		loc := strings.TrimSpace(*req.DeliveryLocation)
		req.DeliveryLocation = &loc
	}
	switch {
	case req.OrderType == models.OrderDelivery && (req.DeliveryLocation == nil || *req.DeliveryLocation == ""):
		problems = append(problems, "delivery_location is required for delivery orders")
	case req.OrderType != models.OrderDelivery:
		req.DeliveryLocation = nil
	}

	if len(req.Items) == 0 {
		problems = append(problems, "cart is empty")
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			problems = append(problems, fmt.Sprintf("items[%d].product_id is required", i))
		}
		if item.Quantity < 1 {
			problems = append(problems, fmt.Sprintf("items[%d].quantity must be at least 1", i))
		}
		if item.Size != "" && !item.Size.Valid() {
			problems = append(problems, fmt.Sprintf("items[%d].selected_size %q is not supported", i, item.Size))
		}
		for j, m := range item.Modifiers {
			if !m.Type.Valid() {
				problems = append(problems, fmt.Sprintf("items[%d].selected_modifiers[%d].type %q is not supported", i, j, m.Type))
			}
		}
	}

	if len(problems) > 0 {
		return apperrors.NewValidationError(strings.Join(problems, "; "))
	}
	return nil
}

func outcomeOf(result *Result, err error) string {
	switch {
	case err == nil && result != nil:
		return "placed"
	case result != nil:
		return "placed_payment_failed"
	default:
		return strings.ToLower(string(apperrors.CodeOf(err)))
	}
}
