package store

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/efreitasn/perpmatch/internal/domain"
)

type positionKey struct {
	market string
	owner  uuid.UUID
}

// PositionStore is a thread-safe in-memory store of per-market
// positions. It is the position and margin state the matching engine
// reports to, through the view returned by ForMarket.
type PositionStore struct {
	mu        sync.RWMutex
	accounts  *AccountStore
	positions map[positionKey]domain.Position
}

// NewPositionStore creates an empty PositionStore backed by accounts
// for risk limits.
func NewPositionStore(accounts *AccountStore) *PositionStore {
	return &PositionStore{
		accounts:  accounts,
		positions: make(map[positionKey]domain.Position),
	}
}

// Get returns the position of owner in market. Owners without activity
// have a zero position.
func (s *PositionStore) Get(market string, owner uuid.UUID) domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.positions[positionKey{market, owner}]
}

// ByOwner returns every market position of owner, keyed by market.
func (s *PositionStore) ByOwner(owner uuid.UUID) map[string]domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Position)
	for k, p := range s.positions {
		if k.owner == owner {
			out[k.market] = p
		}
	}
	return out
}

// CloseAccount deletes an account. It refuses with domain.ErrAccountInUse
// while the account still holds a position or resting orders in any
// market.
func (s *PositionStore) CloseAccount(owner uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, p := range s.positions {
		if k.owner != owner {
			continue
		}
		if p.IsActive() {
			return fmt.Errorf("%w: market %s", domain.ErrAccountInUse, k.market)
		}
	}
	if err := s.accounts.Delete(owner); err != nil {
		return err
	}
	for k := range s.positions {
		if k.owner == owner {
			delete(s.positions, k)
		}
	}
	return nil
}

func (s *PositionStore) update(market string, owner uuid.UUID, fn func(*domain.Position)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := positionKey{market, owner}
	p := s.positions[k]
	fn(&p)
	s.positions[k] = p
}

// ForMarket returns the view of the store a market's order book reports
// fills and open orders to.
func (s *PositionStore) ForMarket(market string) *MarketPositions {
	return &MarketPositions{store: s, market: market}
}

// MarketPositions is the positions of one market.
type MarketPositions struct {
	store  *PositionStore
	market string
}

func (m *MarketPositions) Position(owner uuid.UUID) domain.Position {
	return m.store.Get(m.market, owner)
}

// AvailableLots returns the lots the owner's risk limit still allows on
// side. Unknown owners may not trade.
func (m *MarketPositions) AvailableLots(owner uuid.UUID, side domain.Side, pos domain.Position) int64 {
	account, err := m.store.accounts.Get(owner)
	if err != nil {
		return 0
	}
	return account.AvailableLots(side, pos)
}

func (m *MarketPositions) ApplyFill(owner uuid.UUID, baseDelta, quoteDelta, _ int64) {
	m.store.update(m.market, owner, func(p *domain.Position) {
		p.BaseLots += baseDelta
		p.QuoteLots += quoteDelta
	})
}

func (m *MarketPositions) MarkOrderOpened(owner uuid.UUID, side domain.Side, baseLots int64) {
	m.store.update(m.market, owner, func(p *domain.Position) {
		p.OpenOrders++
		addOpenLots(p, side, baseLots)
	})
}

func (m *MarketPositions) MarkOrderReduced(owner uuid.UUID, side domain.Side, baseLots int64) {
	m.store.update(m.market, owner, func(p *domain.Position) {
		addOpenLots(p, side, -baseLots)
	})
}

func (m *MarketPositions) MarkOrderClosed(owner uuid.UUID, side domain.Side, baseLots int64) {
	m.store.update(m.market, owner, func(p *domain.Position) {
		p.OpenOrders--
		addOpenLots(p, side, -baseLots)
	})
}

func addOpenLots(p *domain.Position, side domain.Side, lots int64) {
	if side == domain.SideBid {
		p.BidsBaseLots += lots
	} else {
		p.AsksBaseLots += lots
	}
}
