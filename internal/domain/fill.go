package domain

import (
	"time"

	"github.com/google/uuid"
)

// Fill is a settled trade between a taker and a resting maker order.
type Fill struct {
	Market       string
	Seq          uint64
	TakerSide    Side
	Maker        uuid.UUID
	Taker        uuid.UUID
	MakerOrderID OrderID
	PriceLots    int64
	Quantity     int64
	ExecutedAt   time.Time
}

// NewFill converts a fill event drained from a market's event queue.
func NewFill(market string, e Event) Fill {
	return Fill{
		Market:       market,
		Seq:          e.Seq,
		TakerSide:    e.TakerSide,
		Maker:        e.Maker,
		Taker:        e.Taker,
		MakerOrderID: e.MakerOrderID,
		PriceLots:    e.PriceLots,
		Quantity:     e.Quantity,
		ExecutedAt:   e.Timestamp,
	}
}

// Involves reports whether owner was either side of the fill.
func (f Fill) Involves(owner uuid.UUID) bool {
	return f.Maker == owner || f.Taker == owner
}
