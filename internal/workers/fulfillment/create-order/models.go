package createorder

import (
	"order-fulfillment/internal/common/validation"
	"order-fulfillment/internal/models"
)

// Input mirrors the checkout request using process variable naming.
type Input struct {
	BranchID         string            `json:"branchId"`
	CustomerName     string            `json:"customerName"`
	CustomerPhone    string            `json:"customerPhone"`
	OrderType        string            `json:"orderType"`
	PaymentMethod    string            `json:"paymentMethod"`
	DeliveryLocation *string           `json:"deliveryLocation,omitempty"`
	Items            []models.CartItem `json:"items"`
}

type Output struct {
	OrderID           string  `json:"orderId"`
	OrderStatus       string  `json:"orderStatus"`
	PaymentStatus     string  `json:"paymentStatus"`
	PaymentRequest    string  `json:"paymentRequest"`
	TotalAmount       float64 `json:"totalAmount"`
	CheckoutRequestID string  `json:"checkoutRequestId,omitempty"`
}

const inputSchemaJSON = `{
  "type": "object",
  "required": ["branchId", "customerName", "customerPhone", "orderType", "paymentMethod", "items"],
  "properties": {
    "branchId": {"type": "string", "minLength": 1},
    "customerName": {"type": "string", "minLength": 1},
    "customerPhone": {"type": "string", "minLength": 9},
    "orderType": {"type": "string", "enum": ["pickup", "delivery"]},
    "paymentMethod": {"type": "string", "enum": ["mpesa", "terminal"]},
    "deliveryLocation": {"type": ["string", "null"]},
    "items": {"type": "array", "minItems": 1}
  }
}`

var inputSchema = validation.MustCompile("create-order-input", inputSchemaJSON)
