package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Side indicates whether an order is a bid (buy) or ask (sell).
type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

// Invert returns the opposite side.
func (s Side) Invert() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

func (s Side) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

// ParseSide parses "bid" or "ask".
func ParseSide(s string) (Side, error) {
	switch s {
	case "bid":
		return SideBid, nil
	case "ask":
		return SideAsk, nil
	}
	return 0, fmt.Errorf("%w: unknown side %q", ErrInvalidOrderParameters, s)
}

// IsPriceWithinLimit reports whether a resting price on the opposite
// side is marketable for an incoming order on side s with limit price.
func (s Side) IsPriceWithinLimit(restingPrice, limitPrice int64) bool {
	if s == SideBid {
		return restingPrice <= limitPrice
	}
	return restingPrice >= limitPrice
}

// OrderType selects how the unmatched remainder of an order is handled.
type OrderType uint8

const (
	// OrderTypeLimit matches what it can and rests the remainder.
	OrderTypeLimit OrderType = iota
	// OrderTypeImmediateOrCancel matches what it can and drops the remainder.
	OrderTypeImmediateOrCancel
	// OrderTypePostOnly is rejected if it would match on arrival.
	OrderTypePostOnly
	// OrderTypePostOnlySlide moves its price one tick behind the best
	// opposing order instead of crossing.
	OrderTypePostOnlySlide
	// OrderTypeMarket has no price limit and never rests.
	OrderTypeMarket
)

var orderTypeNames = map[OrderType]string{
	OrderTypeLimit:             "limit",
	OrderTypeImmediateOrCancel: "immediate_or_cancel",
	OrderTypePostOnly:          "post_only",
	OrderTypePostOnlySlide:     "post_only_slide",
	OrderTypeMarket:            "market",
}

func (t OrderType) String() string {
	if n, ok := orderTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

// ParseOrderType parses the string form produced by String.
func ParseOrderType(s string) (OrderType, error) {
	for t, n := range orderTypeNames {
		if n == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown order type %q", ErrInvalidOrderParameters, s)
}

// CanRest reports whether an unmatched remainder may be posted to the book.
func (t OrderType) CanRest() bool {
	switch t {
	case OrderTypeLimit, OrderTypePostOnly, OrderTypePostOnlySlide:
		return true
	}
	return false
}

// IsPostOnly reports whether the order must never take liquidity.
func (t OrderType) IsPostOnly() bool {
	return t == OrderTypePostOnly || t == OrderTypePostOnlySlide
}

// SelfTradeBehavior controls what happens when a taker meets a resting
// order of the same owner.
type SelfTradeBehavior uint8

const (
	// SelfTradeDecrementTake reduces both orders by the matched size
	// without moving any position.
	SelfTradeDecrementTake SelfTradeBehavior = iota
	// SelfTradeCancelProvide cancels the resting order and keeps matching.
	SelfTradeCancelProvide
	// SelfTradeAbortTransaction rejects the whole order.
	SelfTradeAbortTransaction
)

var selfTradeNames = map[SelfTradeBehavior]string{
	SelfTradeDecrementTake:    "decrement_take",
	SelfTradeCancelProvide:    "cancel_provide",
	SelfTradeAbortTransaction: "abort_transaction",
}

func (b SelfTradeBehavior) String() string {
	if n, ok := selfTradeNames[b]; ok {
		return n
	}
	return "unknown"
}

// ParseSelfTradeBehavior parses the string form produced by String.
// An empty string selects decrement_take.
func ParseSelfTradeBehavior(s string) (SelfTradeBehavior, error) {
	if s == "" {
		return SelfTradeDecrementTake, nil
	}
	for b, n := range selfTradeNames {
		if n == s {
			return b, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown self trade behavior %q", ErrInvalidOrderParameters, s)
}

// OraclePeg prices an order relative to the oracle at placement time.
// LimitLots bounds the resolved price (ceiling for bids, floor for asks);
// zero means unbounded.
type OraclePeg struct {
	OffsetLots int64
	LimitLots  int64
}

// Order is an incoming request. It is never mutated by the engine.
type Order struct {
	Owner             uuid.UUID
	Side              Side
	Type              OrderType
	PriceLots         int64 // ignored for market and pegged orders
	MaxBaseLots       int64
	MaxQuoteLots      int64
	ClientOrderID     uint64
	ReduceOnly        bool
	TimeInForce       time.Duration // 0 means the order never expires
	SelfTradeBehavior SelfTradeBehavior
	Peg               *OraclePeg
}

// OrderID identifies a resting order. Price is the primary sort key and
// Seq, which is globally increasing per market, breaks ties by time.
type OrderID struct {
	Side      Side
	PriceLots int64
	Seq       uint64
}

// Key returns the 128-bit book key as (hi, lo). Bids store the inverted
// sequence so that for both sides a larger key at the same price means
// an earlier order on bids and a later order on asks.
func (id OrderID) Key() (hi, lo uint64) {
	lo = id.Seq
	if id.Side == SideBid {
		lo = ^lo
	}
	return uint64(id.PriceLots), lo
}

// String encodes the id as a side prefix followed by the 32 hex digit key.
func (id OrderID) String() string {
	hi, lo := id.Key()
	prefix := 'a'
	if id.Side == SideBid {
		prefix = 'b'
	}
	return fmt.Sprintf("%c%016x%016x", prefix, hi, lo)
}

// ParseOrderID decodes the form produced by OrderID.String.
func ParseOrderID(s string) (OrderID, error) {
	if len(s) != 33 {
		return OrderID{}, fmt.Errorf("%w: malformed order id %q", ErrInvalidOrderParameters, s)
	}
	var side Side
	switch s[0] {
	case 'b':
		side = SideBid
	case 'a':
		side = SideAsk
	default:
		return OrderID{}, fmt.Errorf("%w: malformed order id %q", ErrInvalidOrderParameters, s)
	}
	hi, err := strconv.ParseUint(s[1:17], 16, 64)
	if err != nil {
		return OrderID{}, fmt.Errorf("%w: malformed order id %q", ErrInvalidOrderParameters, s)
	}
	lo, err := strconv.ParseUint(s[17:], 16, 64)
	if err != nil {
		return OrderID{}, fmt.Errorf("%w: malformed order id %q", ErrInvalidOrderParameters, s)
	}
	if side == SideBid {
		lo = ^lo
	}
	return OrderID{Side: side, PriceLots: int64(hi), Seq: lo}, nil
}

// RestingOrder is an order posted to one side of the book.
type RestingOrder struct {
	ID                OrderID
	Owner             uuid.UUID
	Quantity          int64 // remaining base lots
	ClientOrderID     uint64
	Timestamp         time.Time
	ExpiresAt         time.Time // zero when the order never expires
	SelfTradeBehavior SelfTradeBehavior
}

// IsExpired reports whether the order can no longer be matched at now.
func (o RestingOrder) IsExpired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}
