package domain

import (
	"time"

	"github.com/google/uuid"
)

// Webhook event types an account can subscribe to.
const (
	WebhookFillSettled = "fill.settled"
	WebhookOrderOut    = "order.out"
)

// Webhook represents an account's subscription to an event notification.
type Webhook struct {
	ID        uuid.UUID
	Owner     uuid.UUID
	Event     string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
}
