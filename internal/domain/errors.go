package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrBookFull               = errors.New("book_full")
	ErrOrderNotFound          = errors.New("order_not_found")
	ErrSelfTradeRejected      = errors.New("self_trade_rejected")
	ErrInvalidOrderParameters = errors.New("invalid_order_parameters")
	ErrComputeLimitReached    = errors.New("compute_limit_reached")
	ErrEventQueueFull         = errors.New("event_queue_full")
	ErrEventsMissed           = errors.New("events_missed")
	ErrMarketNotFound         = errors.New("market_not_found")
	ErrAccountNotFound        = errors.New("account_not_found")
	ErrAccountAlreadyExists   = errors.New("account_already_exists")
	ErrAccountInUse           = errors.New("account_in_use")
	ErrWebhookNotFound        = errors.New("webhook_not_found")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// GapError reports that a consumer asked for events that were evicted
// from the event queue before being read. Events in [From, Head) are
// lost and the consumer has to reconcile against position state.
type GapError struct {
	From uint64
	Head uint64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("%s: requested seq %d, oldest retained seq %d", ErrEventsMissed, e.From, e.Head)
}

// Missed returns the number of events the consumer will never see.
func (e *GapError) Missed() uint64 {
	return e.Head - e.From
}

func (e *GapError) Unwrap() error {
	return ErrEventsMissed
}
