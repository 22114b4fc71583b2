// internal/models/event.go
package models

import "time"

type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
)

func (t EventType) Valid() bool {
	return t == EventCreated || t == EventUpdated
}

// Event is a change notification carrying the full order after the change.
type Event struct {
	ID          string    `json:"id,omitempty"`
	Type        EventType `json:"type"`
	Order       Order     `json:"order"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

func NewEvent(t EventType, order Order) Event {
	return Event{Type: t, Order: order}
}
