// internal/models/notification.go
package models

import "time"

// Notification records an outbound customer message.
type Notification struct {
	OrderID   string    `json:"orderId"`
	Channel   string    `json:"channel"` // "sms"
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	Status    string    `json:"status"` // "sent", "skipped", "failed"
	MessageID string    `json:"messageId,omitempty"`
	SentAt    time.Time `json:"sentAt"`
}
