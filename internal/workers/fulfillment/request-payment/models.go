package requestpayment

import "order-fulfillment/internal/common/validation"

type Input struct {
	OrderID string `json:"orderId"`
}

type Output struct {
	OrderID           string `json:"orderId"`
	PaymentRequest    string `json:"paymentRequest"`
	CheckoutRequestID string `json:"checkoutRequestId,omitempty"`
	CustomerMessage   string `json:"customerMessage,omitempty"`
}

const (
	paymentRequested   = "requested"
	paymentNotRequired = "not-required"
)

var inputSchema = validation.MustCompile("request-payment-input", `{
  "type": "object",
  "required": ["orderId"],
  "properties": {
    "orderId": {"type": "string", "minLength": 1}
  }
}`)
