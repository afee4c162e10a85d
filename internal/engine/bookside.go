package engine

import (
	"bytes"
	"iter"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/efreitasn/perpmatch/internal/domain"
)

// bookEntry is the priority-index item: the order id and the arena slot
// holding the order.
type bookEntry struct {
	id     domain.OrderID
	handle uint32
}

// ownerEntry is the secondary-index item used for cancel-all.
type ownerEntry struct {
	owner uuid.UUID
	seq   uint64
	id    domain.OrderID
}

// bidLess orders bids by price descending, then sequence ascending, so
// Min() returns the best bid (highest price, earliest order).
func bidLess(a, b bookEntry) bool {
	if a.id.PriceLots != b.id.PriceLots {
		return a.id.PriceLots > b.id.PriceLots
	}
	return a.id.Seq < b.id.Seq
}

// askLess orders asks by price ascending, then sequence ascending, so
// Min() returns the best ask (lowest price, earliest order).
func askLess(a, b bookEntry) bool {
	if a.id.PriceLots != b.id.PriceLots {
		return a.id.PriceLots < b.id.PriceLots
	}
	return a.id.Seq < b.id.Seq
}

// expiryEntry indexes orders that carry a time in force.
type expiryEntry struct {
	expiresAt int64 // unix nanoseconds
	seq       uint64
	id        domain.OrderID
}

func expiryLess(a, b expiryEntry) bool {
	if a.expiresAt != b.expiresAt {
		return a.expiresAt < b.expiresAt
	}
	return a.seq < b.seq
}

func seqLess(a, b ownerEntry) bool {
	return a.seq < b.seq
}

func ownerLess(a, b ownerEntry) bool {
	if c := bytes.Compare(a.owner[:], b.owner[:]); c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

const btreeDegree = 32

// BookSide is one side of the book: a fixed-capacity arena of resting
// orders with a B-tree priority index over it. Every occupied slot is
// referenced by exactly one entry of each index.
type BookSide struct {
	side     domain.Side
	slots    []domain.RestingOrder
	// free is a LIFO stack of unused slot handles. It starts with every
	// handle so that an insert followed by a remove restores the exact
	// arena and free-list state.
	free     []uint32
	orders   *btree.BTreeG[bookEntry]
	bySeq    *btree.BTreeG[ownerEntry]
	byOwner  *btree.BTreeG[ownerEntry]
	// byExpiry holds only orders with a non-zero ExpiresAt.
	byExpiry *btree.BTreeG[expiryEntry]

	// While recording, every arena and free-list write is journaled so
	// that rollback can undo it. The indexes are restored from lazy
	// B-tree clones taken by mark.
	recording bool
	journal   []undoEntry
}

type undoKind uint8

const (
	undoSlot undoKind = iota // slots[handle] was prev
	undoPop                  // handle was popped off free
	undoPush                 // handle was pushed onto free
)

type undoEntry struct {
	kind   undoKind
	handle uint32
	prev   domain.RestingOrder
}

// sideMark is a point a BookSide can be rolled back to.
type sideMark struct {
	journal  int
	orders   *btree.BTreeG[bookEntry]
	bySeq    *btree.BTreeG[ownerEntry]
	byOwner  *btree.BTreeG[ownerEntry]
	byExpiry *btree.BTreeG[expiryEntry]
}

// NewBookSide creates an empty side holding at most capacity orders.
func NewBookSide(side domain.Side, capacity int) *BookSide {
	less := askLess
	if side == domain.SideBid {
		less = bidLess
	}
	free := make([]uint32, capacity)
	for i := range free {
		// Top of the stack is the last element; hand out slot 0 first.
		free[i] = uint32(capacity - 1 - i)
	}
	return &BookSide{
		side:     side,
		slots:    make([]domain.RestingOrder, capacity),
		free:     free,
		orders:   btree.NewG[bookEntry](btreeDegree, less),
		bySeq:    btree.NewG[ownerEntry](btreeDegree, seqLess),
		byOwner:  btree.NewG[ownerEntry](btreeDegree, ownerLess),
		byExpiry: btree.NewG[expiryEntry](btreeDegree, expiryLess),
	}
}

// Side returns which side of the book this is.
func (bs *BookSide) Side() domain.Side {
	return bs.side
}

// Len returns the number of resting orders.
func (bs *BookSide) Len() int {
	return bs.orders.Len()
}

// Capacity returns the fixed number of slots.
func (bs *BookSide) Capacity() int {
	return len(bs.slots)
}

// Free returns the number of unused slots.
func (bs *BookSide) Free() int {
	return len(bs.free)
}

// Insert posts an order. The order's ID must carry this side and a
// sequence number not used by any other resting order.
func (bs *BookSide) Insert(order domain.RestingOrder) (domain.OrderID, error) {
	if len(bs.free) == 0 {
		return domain.OrderID{}, domain.ErrBookFull
	}
	handle := bs.free[len(bs.free)-1]
	bs.free = bs.free[:len(bs.free)-1]
	bs.record(undoPop, handle)
	bs.record(undoSlot, handle)
	bs.slots[handle] = order

	bs.orders.ReplaceOrInsert(bookEntry{id: order.ID, handle: handle})
	bs.bySeq.ReplaceOrInsert(ownerEntry{owner: order.Owner, seq: order.ID.Seq, id: order.ID})
	bs.byOwner.ReplaceOrInsert(ownerEntry{owner: order.Owner, seq: order.ID.Seq, id: order.ID})
	if !order.ExpiresAt.IsZero() {
		bs.byExpiry.ReplaceOrInsert(expiryEntry{expiresAt: order.ExpiresAt.UnixNano(), seq: order.ID.Seq, id: order.ID})
	}
	return order.ID, nil
}

// Remove deletes an order by ID and returns it.
func (bs *BookSide) Remove(id domain.OrderID) (domain.RestingOrder, error) {
	entry, ok := bs.orders.Delete(bookEntry{id: id})
	if !ok {
		return domain.RestingOrder{}, domain.ErrOrderNotFound
	}
	order := bs.slots[entry.handle]
	bs.record(undoSlot, entry.handle)
	bs.slots[entry.handle] = domain.RestingOrder{}
	bs.free = append(bs.free, entry.handle)
	bs.record(undoPush, entry.handle)

	bs.bySeq.Delete(ownerEntry{seq: id.Seq})
	bs.byOwner.Delete(ownerEntry{owner: order.Owner, seq: id.Seq})
	if !order.ExpiresAt.IsZero() {
		bs.byExpiry.Delete(expiryEntry{expiresAt: order.ExpiresAt.UnixNano(), seq: id.Seq})
	}
	return order, nil
}

// Get returns the resting order with the given ID.
func (bs *BookSide) Get(id domain.OrderID) (domain.RestingOrder, bool) {
	entry, ok := bs.orders.Get(bookEntry{id: id})
	if !ok {
		return domain.RestingOrder{}, false
	}
	return bs.slots[entry.handle], true
}

// Reduce lowers the remaining quantity of a resting order in place. The
// caller guarantees 0 < lots < current quantity.
func (bs *BookSide) Reduce(id domain.OrderID, lots int64) {
	entry, ok := bs.orders.Get(bookEntry{id: id})
	if !ok {
		return
	}
	bs.record(undoSlot, entry.handle)
	bs.slots[entry.handle].Quantity -= lots
}

// Best returns the highest-priority order, expired or not.
func (bs *BookSide) Best() (domain.RestingOrder, bool) {
	entry, ok := bs.orders.Min()
	if !ok {
		return domain.RestingOrder{}, false
	}
	return bs.slots[entry.handle], true
}

// Worst returns the lowest-priority order.
func (bs *BookSide) Worst() (domain.RestingOrder, bool) {
	entry, ok := bs.orders.Max()
	if !ok {
		return domain.RestingOrder{}, false
	}
	return bs.slots[entry.handle], true
}

// BestValid returns the highest-priority order that has not expired at
// now. It looks past at most maxScan expired orders; when there are more
// it returns the best order instead, which is priced at least as
// aggressively as any valid order behind it.
func (bs *BookSide) BestValid(now time.Time, maxScan int) (domain.RestingOrder, bool) {
	var best domain.RestingOrder
	var found, truncated bool
	skipped := 0
	bs.orders.Ascend(func(e bookEntry) bool {
		o := bs.slots[e.handle]
		if !o.IsExpired(now) {
			best, found = o, true
			return false
		}
		if skipped == maxScan {
			truncated = true
			return false
		}
		skipped++
		return true
	})
	if truncated {
		return bs.Best()
	}
	return best, found
}

// All iterates resting orders from best to worst. The sequence is lazy
// and can be ranged over any number of times; the side must not be
// mutated while it is being ranged over.
func (bs *BookSide) All() iter.Seq[domain.RestingOrder] {
	return func(yield func(domain.RestingOrder) bool) {
		bs.orders.Ascend(func(e bookEntry) bool {
			return yield(bs.slots[e.handle])
		})
	}
}

// next returns the first order strictly after id in priority order, or
// the best order when id is nil.
func (bs *BookSide) next(after *domain.OrderID) (domain.RestingOrder, bool) {
	if after == nil {
		return bs.Best()
	}
	var out domain.RestingOrder
	var found bool
	bs.orders.AscendGreaterOrEqual(bookEntry{id: *after}, func(e bookEntry) bool {
		if e.id == *after {
			return true
		}
		out, found = bs.slots[e.handle], true
		return false
	})
	return out, found
}

// EarliestExpiry returns the order with a time in force that expires
// first, ties broken by sequence.
func (bs *BookSide) EarliestExpiry() (domain.RestingOrder, bool) {
	entry, ok := bs.byExpiry.Min()
	if !ok {
		return domain.RestingOrder{}, false
	}
	return bs.Get(entry.id)
}

// Oldest returns the resting order with the lowest sequence number,
// restricted to owner when owner is non-nil.
func (bs *BookSide) Oldest(owner *uuid.UUID) (domain.RestingOrder, bool) {
	var id domain.OrderID
	var found bool
	visit := func(e ownerEntry) bool {
		id, found = e.id, true
		return false
	}
	if owner == nil {
		bs.bySeq.Ascend(visit)
	} else {
		bs.byOwner.AscendGreaterOrEqual(ownerEntry{owner: *owner}, func(e ownerEntry) bool {
			if e.owner != *owner {
				return false
			}
			return visit(e)
		})
	}
	if !found {
		return domain.RestingOrder{}, false
	}
	return bs.Get(id)
}

// OwnerOrders iterates the orders of one owner, oldest first.
func (bs *BookSide) OwnerOrders(owner uuid.UUID) iter.Seq[domain.RestingOrder] {
	return func(yield func(domain.RestingOrder) bool) {
		bs.byOwner.AscendGreaterOrEqual(ownerEntry{owner: owner}, func(e ownerEntry) bool {
			if e.owner != owner {
				return false
			}
			o, _ := bs.Get(e.id)
			return yield(o)
		})
	}
}

// CancelAll removes up to max orders, oldest sequence first, restricted
// to owner when owner is non-nil. Removed orders are returned in removal
// order so repeated calls are reproducible.
func (bs *BookSide) CancelAll(owner *uuid.UUID, max int) []domain.RestingOrder {
	var removed []domain.RestingOrder
	for len(removed) < max {
		o, ok := bs.Oldest(owner)
		if !ok {
			break
		}
		if _, err := bs.Remove(o.ID); err != nil {
			break
		}
		removed = append(removed, o)
	}
	return removed
}

// mark starts journaling writes and returns a point to roll back to.
// Taking a mark costs O(1) regardless of capacity.
func (bs *BookSide) mark() sideMark {
	bs.recording = true
	return sideMark{
		journal:  len(bs.journal),
		orders:   bs.orders.Clone(),
		bySeq:    bs.bySeq.Clone(),
		byOwner:  bs.byOwner.Clone(),
		byExpiry: bs.byExpiry.Clone(),
	}
}

// rollback undoes every write made since m, newest first. Marks taken
// after m become invalid.
func (bs *BookSide) rollback(m sideMark) {
	for i := len(bs.journal) - 1; i >= m.journal; i-- {
		u := bs.journal[i]
		switch u.kind {
		case undoSlot:
			bs.slots[u.handle] = u.prev
		case undoPop:
			bs.free = append(bs.free, u.handle)
		case undoPush:
			bs.free = bs.free[:len(bs.free)-1]
		}
	}
	bs.journal = bs.journal[:m.journal]
	// Hand the mark's trees over through fresh clones so m stays usable.
	bs.orders = m.orders.Clone()
	bs.bySeq = m.bySeq.Clone()
	bs.byOwner = m.byOwner.Clone()
	bs.byExpiry = m.byExpiry.Clone()
}

// release stops journaling and forgets every mark.
func (bs *BookSide) release() {
	bs.recording = false
	clear(bs.journal)
	bs.journal = bs.journal[:0]
}

func (bs *BookSide) record(kind undoKind, handle uint32) {
	if !bs.recording {
		return
	}
	u := undoEntry{kind: kind, handle: handle}
	if kind == undoSlot {
		u.prev = bs.slots[handle]
	}
	bs.journal = append(bs.journal, u)
}
