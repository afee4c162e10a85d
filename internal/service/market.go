package service

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/perpmatch/internal/domain"
	"github.com/efreitasn/perpmatch/internal/engine"
	"github.com/efreitasn/perpmatch/internal/store"
)

// OrderInput is an order as submitted by a client, in native units.
type OrderInput struct {
	Side              string
	Type              string // defaults to limit
	Price             *decimal.Decimal
	Quantity          decimal.Decimal
	MaxQuote          *decimal.Decimal
	ClientOrderID     uint64
	ReduceOnly        bool
	TimeInForce       time.Duration
	SelfTradeBehavior string
	Peg               *PegInput
}

// PegInput prices an order relative to the market's oracle price.
type PegInput struct {
	Offset decimal.Decimal
	Limit  *decimal.Decimal
}

// PlaceOrderRequest is the input of Market.PlaceOrder. A nil Limit uses
// the market's default matching limit.
type PlaceOrderRequest struct {
	Owner string
	OrderInput
	Limit *uint8
}

// MarketInfo summarizes a market's configuration and occupancy.
type MarketInfo struct {
	Name         string
	BaseLotSize  int64
	QuoteLotSize int64
	ReduceOnly   bool
	OraclePrice  decimal.Decimal
	BookCapacity int
	Bids         int
	Asks         int
	EventHead    uint64
	EventNext    uint64
	EventFree    int
}

// Market serializes every operation on one order book. The engine is not
// safe for concurrent use; Market is.
type Market struct {
	mu         sync.Mutex
	book       *engine.Orderbook
	market     domain.Market
	accounts   *store.AccountStore
	oracleLots int64
	matchLimit uint8
	logger     *slog.Logger
	now        func() time.Time
}

// NewMarket creates a market whose order book reports to positions.
func NewMarket(
	cfg engine.Config,
	accounts *store.AccountStore,
	positions *store.PositionStore,
	matchLimit uint8,
	logger *slog.Logger,
) (*Market, error) {
	book, err := engine.NewOrderbook(cfg, positions.ForMarket(cfg.Market.Name))
	if err != nil {
		return nil, err
	}
	return &Market{
		book:       book,
		market:     cfg.Market,
		accounts:   accounts,
		matchLimit: matchLimit,
		logger:     logger.With(slog.String("market", cfg.Market.Name)),
		now:        time.Now,
	}, nil
}

// Name returns the market name.
func (m *Market) Name() string {
	return m.market.Name
}

// Market returns the lot description of the market.
func (m *Market) Market() domain.Market {
	return m.market
}

// SetOraclePrice sets the price pegged orders are resolved against.
func (m *Market) SetOraclePrice(price decimal.Decimal) error {
	lots, err := m.market.PriceToLots(price)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.oracleLots = lots
	m.mu.Unlock()
	return nil
}

// Info returns a snapshot of the market's configuration and occupancy.
func (m *Market) Info() MarketInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.book.Events()
	info := MarketInfo{
		Name:         m.market.Name,
		BaseLotSize:  m.market.BaseLotSize,
		QuoteLotSize: m.market.QuoteLotSize,
		ReduceOnly:   m.market.ReduceOnly,
		BookCapacity: m.book.Bids().Capacity(),
		Bids:         m.book.Bids().Len(),
		Asks:         m.book.Asks().Len(),
		EventHead:    q.Head(),
		EventNext:    q.Next(),
		EventFree:    q.Free(),
	}
	if m.oracleLots > 0 {
		info.OraclePrice = m.market.LotsToPrice(m.oracleLots)
	}
	return info
}

// PlaceOrder converts req to lots and places it on the book.
func (m *Market) PlaceOrder(req PlaceOrderRequest) (*engine.PlaceResult, error) {
	owner, err := m.owner(req.Owner)
	if err != nil {
		return nil, err
	}
	order, err := m.toOrder(owner, req.OrderInput)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.book.NewOrder(order, m.now(), m.oracleLots, m.limit(req.Limit))
	if err != nil {
		m.logger.Debug("order rejected",
			slog.String("owner", owner.String()),
			slog.String("side", order.Side.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	attrs := []any{
		slog.String("owner", owner.String()),
		slog.String("side", order.Side.String()),
		slog.String("type", order.Type.String()),
		slog.Int64("taken_lots", res.TakenBaseLots),
		slog.Int64("posted_lots", res.PostedLots),
		slog.Int("fills", len(res.Fills)),
	}
	if res.OrderID != nil {
		attrs = append(attrs, slog.String("order_id", res.OrderID.String()))
	}
	m.logger.Debug("order placed", attrs...)
	return res, nil
}

// CancelOrder cancels one resting order of owner by its order id.
func (m *Market) CancelOrder(ownerID, orderID string) (domain.RestingOrder, error) {
	owner, err := m.owner(ownerID)
	if err != nil {
		return domain.RestingOrder{}, err
	}
	id, err := domain.ParseOrderID(orderID)
	if err != nil {
		return domain.RestingOrder{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.book.CancelOrder(owner, id, m.now())
	if err != nil {
		return domain.RestingOrder{}, err
	}
	m.logger.Debug("order cancelled", slog.String("owner", owner.String()), slog.String("order_id", id.String()))
	return o, nil
}

// CancelOrderByClientOrderID cancels the oldest resting order of owner
// tagged with clientOrderID.
func (m *Market) CancelOrderByClientOrderID(ownerID string, clientOrderID uint64) (domain.RestingOrder, error) {
	owner, err := m.owner(ownerID)
	if err != nil {
		return domain.RestingOrder{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.book.CancelOrderByClientOrderID(owner, clientOrderID, m.now())
	if err != nil {
		return domain.RestingOrder{}, err
	}
	m.logger.Debug("order cancelled",
		slog.String("owner", owner.String()),
		slog.String("order_id", o.ID.String()),
		slog.Uint64("client_order_id", clientOrderID),
	)
	return o, nil
}

// CancelAllOrders cancels up to limit resting orders of owner, oldest
// first. An empty side cancels on both sides.
func (m *Market) CancelAllOrders(ownerID, side string, limit *uint8) (int, error) {
	owner, err := m.owner(ownerID)
	if err != nil {
		return 0, err
	}
	var sidePtr *domain.Side
	if side != "" {
		s, err := domain.ParseSide(side)
		if err != nil {
			return 0, err
		}
		sidePtr = &s
	}
	n := uint8(math.MaxUint8)
	if limit != nil {
		n = *limit
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	count, err := m.book.CancelAllOrders(&owner, sidePtr, n, m.now())
	if err != nil {
		return 0, err
	}
	m.logger.Debug("orders cancelled", slog.String("owner", owner.String()), slog.Int("count", count))
	return count, nil
}

// ReplaceAllOrders cancels owner's resting orders and places inputs in
// order. Entries that could not be placed are nil.
func (m *Market) ReplaceAllOrders(ownerID string, inputs []OrderInput, limit *uint8) ([]*domain.OrderID, error) {
	owner, err := m.owner(ownerID)
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, len(inputs))
	for i, in := range inputs {
		o, err := m.toOrder(owner, in)
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		orders[i] = o
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids, err := m.book.ReplaceAllOrders(owner, orders, m.now(), m.oracleLots, m.limit(limit))
	if err != nil {
		return nil, err
	}
	placed := 0
	for _, id := range ids {
		if id != nil {
			placed++
		}
	}
	m.logger.Debug("orders replaced",
		slog.String("owner", owner.String()),
		slog.Int("requested", len(orders)),
		slog.Int("placed", placed),
	)
	return ids, nil
}

// ExpireOrders removes up to limit expired resting orders.
func (m *Market) ExpireOrders(limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.book.ExpireOrders(m.now(), limit)
}

// ReadEvents returns up to max events starting at from. A *domain.GapError
// is returned together with the retained events when some were evicted.
func (m *Market) ReadEvents(from uint64, max int) ([]domain.Event, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.book.Events().Read(from, max)
}

// AckEvents releases every event below upTo.
func (m *Market) AckEvents(upTo uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.book.Events().Ack(upTo)
}

// RestingOrders returns owner's resting orders on both sides, bids first.
func (m *Market) RestingOrders(ownerID string) ([]domain.RestingOrder, error) {
	owner, err := m.owner(ownerID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	orders := make([]domain.RestingOrder, 0)
	for _, bs := range []*engine.BookSide{m.book.Bids(), m.book.Asks()} {
		for o := range bs.OwnerOrders(owner) {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

func (m *Market) limit(l *uint8) uint8 {
	if l == nil {
		return m.matchLimit
	}
	return *l
}

func (m *Market) owner(s string) (uuid.UUID, error) {
	owner, err := parseOwner(s)
	if err != nil {
		return uuid.Nil, err
	}
	if !m.accounts.Exists(owner) {
		return uuid.Nil, domain.ErrAccountNotFound
	}
	return owner, nil
}

func (m *Market) toOrder(owner uuid.UUID, in OrderInput) (domain.Order, error) {
	side, err := domain.ParseSide(in.Side)
	if err != nil {
		return domain.Order{}, err
	}
	typ := domain.OrderTypeLimit
	if in.Type != "" {
		if typ, err = domain.ParseOrderType(in.Type); err != nil {
			return domain.Order{}, err
		}
	}
	stb, err := domain.ParseSelfTradeBehavior(in.SelfTradeBehavior)
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		Owner:             owner,
		Side:              side,
		Type:              typ,
		MaxQuoteLots:      math.MaxInt64,
		ClientOrderID:     in.ClientOrderID,
		ReduceOnly:        in.ReduceOnly,
		TimeInForce:       in.TimeInForce,
		SelfTradeBehavior: stb,
	}

	if order.MaxBaseLots, err = m.market.QuantityToLots(in.Quantity); err != nil {
		return domain.Order{}, err
	}
	if order.MaxBaseLots <= 0 {
		return domain.Order{}, &domain.ValidationError{Message: "quantity must be at least one base lot"}
	}

	if in.MaxQuote != nil {
		if order.MaxQuoteLots, err = m.market.QuoteToLots(*in.MaxQuote); err != nil {
			return domain.Order{}, err
		}
		if order.MaxQuoteLots <= 0 {
			return domain.Order{}, &domain.ValidationError{Message: "max_quote must be at least one quote lot"}
		}
	}

	if in.TimeInForce < 0 {
		return domain.Order{}, &domain.ValidationError{Message: "time_in_force must not be negative"}
	}

	switch {
	case typ == domain.OrderTypeMarket:
		if in.Price != nil || in.Peg != nil {
			return domain.Order{}, &domain.ValidationError{Message: "market orders must not include price or peg"}
		}
	case in.Peg != nil:
		if in.Price != nil {
			return domain.Order{}, &domain.ValidationError{Message: "pegged orders must not include price"}
		}
		peg := &domain.OraclePeg{}
		if peg.OffsetLots, err = m.market.PriceOffsetToLots(in.Peg.Offset); err != nil {
			return domain.Order{}, err
		}
		if in.Peg.Limit != nil {
			if peg.LimitLots, err = m.market.PriceToLots(*in.Peg.Limit); err != nil {
				return domain.Order{}, err
			}
		}
		order.Peg = peg
	default:
		if in.Price == nil {
			return domain.Order{}, &domain.ValidationError{Message: fmt.Sprintf("price is required for %s orders", typ)}
		}
		if order.PriceLots, err = m.market.PriceToLots(*in.Price); err != nil {
			return domain.Order{}, err
		}
	}
	return order, nil
}
