package advanceorder

import "order-fulfillment/internal/common/validation"

// Input names the order and, optionally, the status to move it to. Without
// a target the order moves to its next status.
type Input struct {
	OrderID string `json:"orderId"`
	Target  string `json:"targetStatus,omitempty"`
}

type Output struct {
	OrderID     string `json:"orderId"`
	OrderStatus string `json:"orderStatus"`
	Changed     bool   `json:"statusChanged"`
}

var inputSchema = validation.MustCompile("advance-order-input", `{
  "type": "object",
  "required": ["orderId"],
  "properties": {
    "orderId": {"type": "string", "minLength": 1},
    "targetStatus": {"type": "string", "enum": ["preparing", "ready", "completed"]}
  }
}`)
