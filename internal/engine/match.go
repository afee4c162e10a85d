package engine

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/perpmatch/internal/domain"
)

// dropExpiredLimit bounds how many expired resting orders one placement
// removes while walking the opposing side.
const dropExpiredLimit = 5

// maxExpiredScan bounds how many expired orders the post-only check
// looks past for the best valid opposing order.
const maxExpiredScan = 32

// PlaceResult describes what a placement did.
type PlaceResult struct {
	// OrderID is set when a remainder was posted.
	OrderID    *domain.OrderID
	PostedLots int64
	// Fills holds the committed fill events, sequence numbers included.
	Fills          []domain.Event
	TakenBaseLots  int64
	TakenQuoteLots int64
	// DecrementedLots is what self-trades with decrement_take removed from
	// both sides without a fill.
	DecrementedLots int64
	Iterations      int
	// LimitReached is set when an IOC or market order stopped matching
	// because it ran out of iterations.
	LimitReached bool

	fillIdx []int
}

// NewOrder matches order against the opposing side and posts whatever
// remains when the order type allows it. limit bounds the number of
// opposing orders visited. The first few expired orders met on the way
// are dropped for free; any further expired order in the price range
// counts against limit.
//
// A nil OrderID with a nil error means nothing was posted, either because
// everything filled or because the position cap allowed zero lots.
func (ob *Orderbook) NewOrder(order domain.Order, now time.Time, oraclePriceLots int64, limit uint8) (*PlaceResult, error) {
	tx := ob.begin()
	defer tx.end()
	res, err := tx.newOrder(order, now, oraclePriceLots, int(limit))
	if err != nil {
		return nil, err
	}
	if err := tx.commit(); err != nil {
		return nil, err
	}
	for _, i := range res.fillIdx {
		res.Fills = append(res.Fills, tx.events[i])
	}
	return res, nil
}

// ReplaceAllOrders cancels up to limit resting orders of owner and then
// places orders in sequence, sharing the remaining iteration budget. The
// returned slice is parallel to orders; a nil entry means the order was
// not posted. Placement stops at the first order that hits a full book,
// a full event queue or the iteration budget, and every later order is
// reported as not placed. Invalid parameters or an aborted self-trade
// fail the whole call.
func (ob *Orderbook) ReplaceAllOrders(owner uuid.UUID, orders []domain.Order, now time.Time, oraclePriceLots int64, limit uint8) ([]*domain.OrderID, error) {
	for i, o := range orders {
		if o.Owner != owner {
			return nil, fmt.Errorf("%w: order %d belongs to another owner", domain.ErrInvalidOrderParameters, i)
		}
	}

	tx := ob.begin()
	defer tx.end()
	budget := int(limit)
	budget -= tx.cancelAll(&owner, nil, budget, now)

	ids := make([]*domain.OrderID, len(orders))
	for i, o := range orders {
		sp := tx.savepoint()
		res, err := tx.newOrder(o, now, oraclePriceLots, budget)
		if errors.Is(err, domain.ErrBookFull) || errors.Is(err, domain.ErrComputeLimitReached) {
			tx.rollbackTo(sp)
			break
		}
		if err != nil {
			return nil, err
		}
		if !ob.events.CanAccept(len(tx.events)) {
			tx.rollbackTo(sp)
			break
		}
		budget -= res.Iterations
		ids[i] = res.OrderID
	}
	if err := tx.commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func validateOrder(o domain.Order) error {
	switch {
	case o.Side != domain.SideBid && o.Side != domain.SideAsk:
		return fmt.Errorf("%w: unknown side", domain.ErrInvalidOrderParameters)
	case o.Type > domain.OrderTypeMarket:
		return fmt.Errorf("%w: unknown order type", domain.ErrInvalidOrderParameters)
	case o.SelfTradeBehavior > domain.SelfTradeAbortTransaction:
		return fmt.Errorf("%w: unknown self trade behavior", domain.ErrInvalidOrderParameters)
	case o.MaxBaseLots <= 0 || o.MaxBaseLots > domain.MaxLots:
		return fmt.Errorf("%w: max base lots %d out of range", domain.ErrInvalidOrderParameters, o.MaxBaseLots)
	case o.MaxQuoteLots <= 0:
		return fmt.Errorf("%w: max quote lots %d must be positive", domain.ErrInvalidOrderParameters, o.MaxQuoteLots)
	case o.TimeInForce < 0:
		return fmt.Errorf("%w: negative time in force", domain.ErrInvalidOrderParameters)
	case o.Type == domain.OrderTypeMarket && o.Peg != nil:
		return fmt.Errorf("%w: market orders cannot be pegged", domain.ErrInvalidOrderParameters)
	case o.Type != domain.OrderTypeMarket && o.Peg == nil && !validPrice(o.PriceLots):
		return fmt.Errorf("%w: price %d out of range", domain.ErrInvalidOrderParameters, o.PriceLots)
	}
	return nil
}

func validPrice(p int64) bool {
	return p > 0 && p <= domain.MaxLots
}

// limitPrice resolves the price an order matches up to and, for resting
// types, is posted at.
func limitPrice(o domain.Order, oraclePriceLots int64) (int64, error) {
	switch {
	case o.Type == domain.OrderTypeMarket:
		if o.Side == domain.SideBid {
			return math.MaxInt64, nil
		}
		return 1, nil
	case o.Peg != nil:
		if oraclePriceLots <= 0 {
			return 0, fmt.Errorf("%w: pegged order without an oracle price", domain.ErrInvalidOrderParameters)
		}
		price := oraclePriceLots + o.Peg.OffsetLots
		if o.Peg.LimitLots > 0 {
			if o.Side == domain.SideBid {
				price = min(price, o.Peg.LimitLots)
			} else {
				price = max(price, o.Peg.LimitLots)
			}
		}
		if !validPrice(price) {
			return 0, fmt.Errorf("%w: pegged price %d out of range", domain.ErrInvalidOrderParameters, price)
		}
		return price, nil
	}
	return o.PriceLots, nil
}

func (tx *txn) newOrder(order domain.Order, now time.Time, oraclePriceLots int64, limit int) (*PlaceResult, error) {
	if err := validateOrder(order); err != nil {
		return nil, err
	}
	price, err := limitPrice(order, oraclePriceLots)
	if err != nil {
		return nil, err
	}
	side := order.Side
	opposing := tx.book(side.Invert())

	if order.Type.IsPostOnly() {
		if best, ok := opposing.BestValid(now, maxExpiredScan); ok && side.IsPriceWithinLimit(best.ID.PriceLots, price) {
			if order.Type == domain.OrderTypePostOnly {
				return nil, fmt.Errorf("%w: post-only order would cross at %d", domain.ErrInvalidOrderParameters, best.ID.PriceLots)
			}
			price = best.ID.PriceLots + 1
			if side == domain.SideBid {
				price = best.ID.PriceLots - 1
			}
			if !validPrice(price) {
				return nil, fmt.Errorf("%w: slid price %d out of range", domain.ErrInvalidOrderParameters, price)
			}
		}
	}

	pos := tx.position(order.Owner)
	available := tx.ob.hook.AvailableLots(order.Owner, side, *pos)
	remainingBase := ComputeMaxBaseLots(order, *pos, available, tx.ob.market.ReduceOnly)
	res := &PlaceResult{}
	if remainingBase == 0 {
		return res, nil
	}
	remainingQuote := order.MaxQuoteLots

	var cursor *domain.OrderID
	dropped := 0
	quoteExhausted := false
	for remainingBase > 0 && remainingQuote > 0 {
		maker, ok := opposing.next(cursor)
		if !ok {
			break
		}
		makerPrice := maker.ID.PriceLots
		if maker.IsExpired(now) && dropped < dropExpiredLimit {
			dropped++
			tx.removeResting(opposing, maker, now)
			continue
		}
		if !side.IsPriceWithinLimit(makerPrice, price) {
			break
		}
		if maker.IsExpired(now) {
			// Past the drop cap an expired maker is stepped over but
			// still costs an iteration.
			if res.Iterations >= limit {
				res.LimitReached = true
				break
			}
			res.Iterations++
			id := maker.ID
			cursor = &id
			continue
		}
		if res.Iterations >= limit {
			res.LimitReached = true
			break
		}
		byQuote := remainingQuote / makerPrice
		if byQuote == 0 {
			quoteExhausted = true
			break
		}
		match := min(remainingBase, maker.Quantity, byQuote)
		res.Iterations++

		if maker.Owner == order.Owner {
			switch order.SelfTradeBehavior {
			case domain.SelfTradeAbortTransaction:
				return nil, fmt.Errorf("%w: order %s", domain.ErrSelfTradeRejected, maker.ID)
			case domain.SelfTradeCancelProvide:
				tx.removeResting(opposing, maker, now)
				continue
			default:
				remainingBase -= match
				remainingQuote -= match * makerPrice
				res.DecrementedLots += match
				tx.reduceResting(opposing, maker, match, false, now)
				continue
			}
		}

		quote := match * makerPrice
		remainingBase -= match
		remainingQuote -= quote
		res.TakenBaseLots += match
		res.TakenQuoteLots += quote

		makerOut := match == maker.Quantity
		res.fillIdx = append(res.fillIdx, tx.emit(domain.NewFillEvent(
			side, maker, order.Owner, order.ClientOrderID, makerOut, makerPrice, match, now,
		)))
		takerBase, takerQuote := match, -quote
		if side == domain.SideAsk {
			takerBase, takerQuote = -match, quote
		}
		tx.stage(positionOp{kind: opFill, owner: order.Owner, baseLots: takerBase, quoteLots: takerQuote, priceLots: makerPrice})
		tx.stage(positionOp{kind: opFill, owner: maker.Owner, baseLots: -takerBase, quoteLots: -takerQuote, priceLots: makerPrice})
		tx.reduceResting(opposing, maker, match, true, now)
	}

	if !order.Type.CanRest() || quoteExhausted {
		if remainingBase > 0 {
			tx.emit(domain.NewOutEvent(order.Owner, side, domain.OrderID{}, remainingBase, now))
		}
		return res, nil
	}
	if res.LimitReached {
		return nil, fmt.Errorf("%w: after %d iterations", domain.ErrComputeLimitReached, res.Iterations)
	}

	postLots := min(remainingBase, remainingQuote/price)
	if postLots <= 0 {
		return res, nil
	}
	tx.seq++
	resting := domain.RestingOrder{
		ID:                domain.OrderID{Side: side, PriceLots: price, Seq: tx.seq},
		Owner:             order.Owner,
		Quantity:          postLots,
		ClientOrderID:     order.ClientOrderID,
		Timestamp:         now,
		SelfTradeBehavior: order.SelfTradeBehavior,
	}
	if order.TimeInForce > 0 {
		resting.ExpiresAt = now.Add(order.TimeInForce)
	}
	id, err := tx.book(side).Insert(resting)
	if err != nil {
		return nil, err
	}
	tx.stage(positionOp{kind: opOpened, owner: order.Owner, side: side, baseLots: postLots})
	res.OrderID = &id
	res.PostedLots = postLots
	return res, nil
}

// reduceResting takes lots off a resting order after a fill or a
// decrement_take self-trade and closes it when nothing is left. The out
// event of a filled order carries zero lots since nothing left the book
// unfilled.
func (tx *txn) reduceResting(bs *BookSide, maker domain.RestingOrder, lots int64, filled bool, now time.Time) {
	if lots < maker.Quantity {
		bs.Reduce(maker.ID, lots)
		tx.stage(positionOp{kind: opReduced, owner: maker.Owner, side: bs.Side(), baseLots: lots})
		return
	}
	if _, err := bs.Remove(maker.ID); err != nil {
		return
	}
	tx.stage(positionOp{kind: opClosed, owner: maker.Owner, side: bs.Side(), baseLots: lots})
	outLots := lots
	if filled {
		outLots = 0
	}
	tx.emit(domain.NewOutEvent(maker.Owner, bs.Side(), maker.ID, outLots, now))
}
