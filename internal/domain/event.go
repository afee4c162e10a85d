package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType tags the variant stored in an Event.
type EventType uint8

const (
	EventFill EventType = iota
	EventOut
)

func (t EventType) String() string {
	if t == EventFill {
		return "fill"
	}
	return "out"
}

// Event is one entry of a market's event queue. Fill events use the
// taker/maker fields; out events use Owner, Side, OrderID and Quantity.
type Event struct {
	Type      EventType
	Seq       uint64
	Timestamp time.Time

	// Fill.
	TakerSide          Side
	Maker              uuid.UUID
	Taker              uuid.UUID
	MakerOrderID       OrderID
	MakerClientOrderID uint64
	TakerClientOrderID uint64
	MakerOut           bool
	PriceLots          int64

	// Out.
	Owner   uuid.UUID
	Side    Side
	OrderID OrderID // zero for the discarded remainder of a taker

	// Base lots filled (fill) or removed from the book (out).
	Quantity int64
}

// NewFillEvent builds a fill between a taker and a resting maker order.
func NewFillEvent(takerSide Side, maker RestingOrder, taker uuid.UUID, takerClientOrderID uint64, makerOut bool, priceLots, quantity int64, now time.Time) Event {
	return Event{
		Type:               EventFill,
		Timestamp:          now,
		TakerSide:          takerSide,
		Maker:              maker.Owner,
		Taker:              taker,
		MakerOrderID:       maker.ID,
		MakerClientOrderID: maker.ClientOrderID,
		TakerClientOrderID: takerClientOrderID,
		MakerOut:           makerOut,
		PriceLots:          priceLots,
		Quantity:           quantity,
	}
}

// NewOutEvent builds an event for base lots that left the book (or never
// reached it) without being filled.
func NewOutEvent(owner uuid.UUID, side Side, id OrderID, quantity int64, now time.Time) Event {
	return Event{
		Type:      EventOut,
		Timestamp: now,
		Owner:     owner,
		Side:      side,
		OrderID:   id,
		Quantity:  quantity,
	}
}
