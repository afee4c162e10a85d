package engine

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/perpmatch/internal/domain"
)

type positionOpKind uint8

const (
	opFill positionOpKind = iota
	opOpened
	opReduced
	opClosed
)

// positionOp is one PositionHook call deferred until commit.
type positionOp struct {
	kind      positionOpKind
	owner     uuid.UUID
	side      domain.Side
	baseLots  int64
	quoteLots int64
	priceLots int64
}

// txn stages the effects of one book operation. Both sides are written
// in place with their undo journals on; events and position updates are
// buffered. Every txn must be closed with end, which rolls the sides back
// unless commit succeeded, so a failed operation leaves the book, the
// event queue and the hook untouched.
type txn struct {
	ob        *Orderbook
	bids      *BookSide
	asks      *BookSide
	seq       uint64
	events    []domain.Event
	ops       []positionOp
	positions map[uuid.UUID]*domain.Position
	start     savepoint
	committed bool
}

func (ob *Orderbook) begin() *txn {
	tx := &txn{
		ob:        ob,
		bids:      ob.bids,
		asks:      ob.asks,
		seq:       ob.seq,
		positions: make(map[uuid.UUID]*domain.Position),
	}
	tx.start = tx.savepoint()
	return tx
}

// end closes the txn, undoing its book writes if it was not committed.
func (tx *txn) end() {
	if !tx.committed {
		tx.rollbackTo(tx.start)
	}
	tx.bids.release()
	tx.asks.release()
}

func (tx *txn) book(s domain.Side) *BookSide {
	if s == domain.SideBid {
		return tx.bids
	}
	return tx.asks
}

// position returns owner's position with the staged updates applied.
func (tx *txn) position(owner uuid.UUID) *domain.Position {
	p, ok := tx.positions[owner]
	if !ok {
		pos := tx.ob.hook.Position(owner)
		p = &pos
		tx.positions[owner] = p
	}
	return p
}

func (tx *txn) stage(op positionOp) {
	p := tx.position(op.owner)
	switch op.kind {
	case opFill:
		p.BaseLots += op.baseLots
		p.QuoteLots += op.quoteLots
	case opOpened:
		p.OpenOrders++
		addSideLots(p, op.side, op.baseLots)
	case opReduced:
		addSideLots(p, op.side, -op.baseLots)
	case opClosed:
		p.OpenOrders--
		addSideLots(p, op.side, -op.baseLots)
	}
	tx.ops = append(tx.ops, op)
}

func addSideLots(p *domain.Position, side domain.Side, lots int64) {
	if side == domain.SideBid {
		p.BidsBaseLots += lots
	} else {
		p.AsksBaseLots += lots
	}
}

func (tx *txn) emit(e domain.Event) int {
	tx.events = append(tx.events, e)
	return len(tx.events) - 1
}

// removeResting takes an order off the book without a fill.
func (tx *txn) removeResting(bs *BookSide, order domain.RestingOrder, now time.Time) {
	if _, err := bs.Remove(order.ID); err != nil {
		return
	}
	tx.stage(positionOp{kind: opClosed, owner: order.Owner, side: bs.Side(), baseLots: order.Quantity})
	tx.emit(domain.NewOutEvent(order.Owner, bs.Side(), order.ID, order.Quantity, now))
}

// cancelAll removes up to limit orders, oldest sequence first. With a
// side filter only that side is scanned.
func (tx *txn) cancelAll(owner *uuid.UUID, side *domain.Side, limit int, now time.Time) int {
	if side != nil {
		bs := tx.book(*side)
		removed := bs.CancelAll(owner, limit)
		for _, o := range removed {
			tx.stage(positionOp{kind: opClosed, owner: o.Owner, side: *side, baseLots: o.Quantity})
			tx.emit(domain.NewOutEvent(o.Owner, *side, o.ID, o.Quantity, now))
		}
		return len(removed)
	}
	n := 0
	for n < limit {
		b, okb := tx.bids.Oldest(owner)
		a, oka := tx.asks.Oldest(owner)
		switch {
		case okb && (!oka || b.ID.Seq < a.ID.Seq):
			tx.removeResting(tx.bids, b, now)
		case oka:
			tx.removeResting(tx.asks, a, now)
		default:
			return n
		}
		n++
	}
	return n
}

type savepoint struct {
	bids      sideMark
	asks      sideMark
	seq       uint64
	events    int
	ops       int
	positions map[uuid.UUID]domain.Position
}

func (tx *txn) savepoint() savepoint {
	positions := make(map[uuid.UUID]domain.Position, len(tx.positions))
	for owner, p := range tx.positions {
		positions[owner] = *p
	}
	return savepoint{
		bids:      tx.bids.mark(),
		asks:      tx.asks.mark(),
		seq:       tx.seq,
		events:    len(tx.events),
		ops:       len(tx.ops),
		positions: positions,
	}
}

func (tx *txn) rollbackTo(sp savepoint) {
	tx.bids.rollback(sp.bids)
	tx.asks.rollback(sp.asks)
	tx.seq = sp.seq
	tx.events = tx.events[:sp.events]
	tx.ops = tx.ops[:sp.ops]
	maps.DeleteFunc(tx.positions, func(owner uuid.UUID, _ *domain.Position) bool {
		_, ok := sp.positions[owner]
		return !ok
	})
	for owner, p := range sp.positions {
		*tx.positions[owner] = p
	}
}

// commit publishes the staged state. Events are checked against the
// queue before anything is written; once that check passes commit
// cannot fail.
func (tx *txn) commit() error {
	ob := tx.ob
	if len(tx.events) > 0 && !ob.events.CanAccept(len(tx.events)) {
		return domain.ErrEventQueueFull
	}
	tx.committed = true
	ob.seq = tx.seq
	for i := range tx.events {
		seq, _ := ob.events.Push(tx.events[i])
		tx.events[i].Seq = seq
	}
	for _, op := range tx.ops {
		switch op.kind {
		case opFill:
			ob.hook.ApplyFill(op.owner, op.baseLots, op.quoteLots, op.priceLots)
		case opOpened:
			ob.hook.MarkOrderOpened(op.owner, op.side, op.baseLots)
		case opReduced:
			ob.hook.MarkOrderReduced(op.owner, op.side, op.baseLots)
		case opClosed:
			ob.hook.MarkOrderClosed(op.owner, op.side, op.baseLots)
		}
	}
	return nil
}
