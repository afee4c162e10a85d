package domain

// Position is a snapshot of one owner's state in a market as seen by the
// engine. It is owned by the position store, not by the engine.
type Position struct {
	BaseLots     int64 // signed: positive is long
	QuoteLots    int64
	BidsBaseLots int64 // base lots resting on the bid side
	AsksBaseLots int64 // base lots resting on the ask side
	OpenOrders   int
}

// HasOpenOrders reports whether any order of this owner rests on the book.
func (p Position) HasOpenOrders() bool {
	return p.OpenOrders > 0
}

// IsActive reports whether the position still holds exposure or orders.
func (p Position) IsActive() bool {
	return p.BaseLots != 0 || p.QuoteLots != 0 || p.HasOpenOrders()
}
