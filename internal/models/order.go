// internal/models/order.go
package models

import (
	"fmt"
	"time"
)

type OrderStatus string

const (
	StatusNew       OrderStatus = "new"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusCompleted OrderStatus = "completed"
)

var statusRank = map[OrderStatus]int{
	StatusNew:       0,
	StatusPreparing: 1,
	StatusReady:     2,
	StatusCompleted: 3,
}

func (s OrderStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank is the position of s in the lifecycle, or -1 for unknown statuses.
func (s OrderStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Next returns the single successor of s. Completed has none.
func (s OrderStatus) Next() (OrderStatus, bool) {
	switch s {
	case StatusNew:
		return StatusPreparing, true
	case StatusPreparing:
		return StatusReady, true
	case StatusReady:
		return StatusCompleted, true
	}
	return "", false
}

// Previous returns the status from which s is reachable.
func (s OrderStatus) Previous() (OrderStatus, bool) {
	switch s {
	case StatusPreparing:
		return StatusNew, true
	case StatusReady:
		return StatusPreparing, true
	case StatusCompleted:
		return StatusReady, true
	}
	return "", false
}

func ParseOrderStatus(v string) (OrderStatus, error) {
	s := OrderStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown order status %q", v)
	}
	return s, nil
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

func (p PaymentStatus) Valid() bool {
	return p == PaymentPending || p == PaymentPaid || p == PaymentFailed
}

type OrderType string

const (
	OrderPickup   OrderType = "pickup"
	OrderDelivery OrderType = "delivery"
)

func (t OrderType) Valid() bool {
	return t == OrderPickup || t == OrderDelivery
}

type PaymentMethod string

const (
	// PaymentMobileMoney triggers an STK push to the customer's handset.
	PaymentMobileMoney PaymentMethod = "mpesa"
	// PaymentAtCounter is settled in store; the order stays pending.
	PaymentAtCounter PaymentMethod = "terminal"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMobileMoney || m == PaymentAtCounter
}

// OrderItem is the immutable snapshot of a line at purchase time. ID is the
// product id.
type OrderItem struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Quantity          int        `json:"quantity"`
	PrepQuantity      int        `json:"prep_quantity"`
	KitchenNote       string     `json:"kitchen_note"`
	SelectedSize      Size       `json:"selected_size"`
	SelectedModifiers []Modifier `json:"selected_modifiers"`
	StickerText       string     `json:"sticker_text"`
	IsBogo            bool       `json:"is_bogo"`
	PriceAtPurchase   float64    `json:"price_at_purchase"`
}

type Order struct {
	ID               string        `json:"id"`
	CreatedAt        time.Time     `json:"created_at"`
	CustomerName     string        `json:"customer_name"`
	CustomerPhone    string        `json:"customer_phone"`
	BranchID         string        `json:"branch_id"`
	OrderType        OrderType     `json:"order_type"`
	PaymentMethod    PaymentMethod `json:"payment_method"`
	TotalAmount      float64       `json:"total_amount"`
	Items            []OrderItem   `json:"items"`
	DeliveryLocation *string       `json:"delivery_location"`
	OrderStatus      OrderStatus   `json:"order_status"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
}

// Active reports whether the order still belongs on a kitchen display.
func (o *Order) Active() bool {
	return o.OrderStatus != StatusCompleted
}
