package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/perpmatch/internal/domain"
)

// PositionHook is the position and margin state the engine reports fills
// and open orders to. The engine reads it at the start of an operation
// and writes it only when the operation succeeds.
type PositionHook interface {
	// Position returns the owner's current position in this market.
	Position(owner uuid.UUID) domain.Position
	// AvailableLots returns how many base lots owner may add on side
	// given pos, which already includes the effects staged so far by the
	// running operation.
	AvailableLots(owner uuid.UUID, side domain.Side, pos domain.Position) int64
	ApplyFill(owner uuid.UUID, baseDelta, quoteDelta, priceLots int64)
	MarkOrderOpened(owner uuid.UUID, side domain.Side, baseLots int64)
	MarkOrderReduced(owner uuid.UUID, side domain.Side, baseLots int64)
	MarkOrderClosed(owner uuid.UUID, side domain.Side, baseLots int64)
}

// Config sizes an Orderbook.
type Config struct {
	Market             domain.Market
	BookCapacity       int // per side
	EventQueueCapacity int
	Overflow           OverflowPolicy
}

// Orderbook couples the bid and ask sides of one market with its event
// queue and owns the matching algorithm. It is not safe for concurrent
// use; callers serialize operations per market.
type Orderbook struct {
	market domain.Market
	bids   *BookSide
	asks   *BookSide
	events *EventQueue
	hook   PositionHook
	seq    uint64
}

// NewOrderbook creates an empty book.
func NewOrderbook(cfg Config, hook PositionHook) (*Orderbook, error) {
	if err := cfg.Market.Validate(); err != nil {
		return nil, err
	}
	if cfg.BookCapacity <= 0 || cfg.BookCapacity > 1<<20 {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("book capacity %d out of range", cfg.BookCapacity)}
	}
	if cfg.EventQueueCapacity <= 0 {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("event queue capacity %d must be positive", cfg.EventQueueCapacity)}
	}
	if hook == nil {
		return nil, errors.New("position hook is required")
	}
	return &Orderbook{
		market: cfg.Market,
		bids:   NewBookSide(domain.SideBid, cfg.BookCapacity),
		asks:   NewBookSide(domain.SideAsk, cfg.BookCapacity),
		events: NewEventQueue(cfg.EventQueueCapacity, cfg.Overflow),
		hook:   hook,
	}, nil
}

// Market returns the market this book trades.
func (ob *Orderbook) Market() domain.Market {
	return ob.market
}

// Bids returns the bid side. Callers must not mutate it.
func (ob *Orderbook) Bids() *BookSide {
	return ob.bids
}

// Asks returns the ask side. Callers must not mutate it.
func (ob *Orderbook) Asks() *BookSide {
	return ob.asks
}

// Side returns the book side for s.
func (ob *Orderbook) Side(s domain.Side) *BookSide {
	if s == domain.SideBid {
		return ob.bids
	}
	return ob.asks
}

// Events returns the event queue drained by the settlement process.
func (ob *Orderbook) Events() *EventQueue {
	return ob.events
}

// Seq returns the last order sequence number handed out.
func (ob *Orderbook) Seq() uint64 {
	return ob.seq
}

// CancelOrder removes one resting order of owner. An order that exists
// but belongs to someone else is reported as not found.
func (ob *Orderbook) CancelOrder(owner uuid.UUID, id domain.OrderID, now time.Time) (domain.RestingOrder, error) {
	tx := ob.begin()
	defer tx.end()
	bs := tx.book(id.Side)
	order, ok := bs.Get(id)
	if !ok || order.Owner != owner {
		return domain.RestingOrder{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	tx.removeResting(bs, order, now)
	if err := tx.commit(); err != nil {
		return domain.RestingOrder{}, err
	}
	return order, nil
}

// CancelOrderByClientOrderID removes the oldest resting order of owner
// carrying clientOrderID.
func (ob *Orderbook) CancelOrderByClientOrderID(owner uuid.UUID, clientOrderID uint64, now time.Time) (domain.RestingOrder, error) {
	tx := ob.begin()
	defer tx.end()
	var target domain.RestingOrder
	var found bool
	for _, bs := range []*BookSide{tx.bids, tx.asks} {
		for o := range bs.OwnerOrders(owner) {
			if o.ClientOrderID != clientOrderID {
				continue
			}
			if !found || o.ID.Seq < target.ID.Seq {
				target, found = o, true
			}
			break
		}
	}
	if !found {
		return domain.RestingOrder{}, fmt.Errorf("%w: client order id %d", domain.ErrOrderNotFound, clientOrderID)
	}
	tx.removeResting(tx.book(target.ID.Side), target, now)
	if err := tx.commit(); err != nil {
		return domain.RestingOrder{}, err
	}
	return target, nil
}

// CancelAllOrders removes up to limit resting orders, oldest sequence
// first across both sides. A nil owner cancels orders of every owner and
// a nil side cancels on both sides. It returns how many orders were
// removed; fewer than limit means nothing eligible is left.
func (ob *Orderbook) CancelAllOrders(owner *uuid.UUID, side *domain.Side, limit uint8, now time.Time) (int, error) {
	tx := ob.begin()
	defer tx.end()
	n := tx.cancelAll(owner, side, int(limit), now)
	if err := tx.commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// ExpireOrders removes up to limit resting orders whose time in force
// has run out at now, earliest expiry first.
func (ob *Orderbook) ExpireOrders(now time.Time, limit int) (int, error) {
	tx := ob.begin()
	defer tx.end()
	n := 0
	for n < limit {
		b, okb := tx.bids.EarliestExpiry()
		a, oka := tx.asks.EarliestExpiry()
		var next domain.RestingOrder
		switch {
		case okb && oka:
			next = b
			if expiresBefore(a, b) {
				next = a
			}
		case okb:
			next = b
		case oka:
			next = a
		default:
			return ob.finishCount(tx, n)
		}
		if !next.IsExpired(now) {
			break
		}
		tx.removeResting(tx.book(next.ID.Side), next, now)
		n++
	}
	return ob.finishCount(tx, n)
}

func (ob *Orderbook) finishCount(tx *txn, n int) (int, error) {
	if err := tx.commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func expiresBefore(a, b domain.RestingOrder) bool {
	if !a.ExpiresAt.Equal(b.ExpiresAt) {
		return a.ExpiresAt.Before(b.ExpiresAt)
	}
	return a.ID.Seq < b.ID.Seq
}
