package store

import (
	"sync"

	"github.com/google/uuid"

	"github.com/efreitasn/perpmatch/internal/domain"
)

// FillStore is a thread-safe in-memory store for settled fills, keyed by
// market with a secondary index by owner. Fills are append-only and kept
// in settlement order.
type FillStore struct {
	mu      sync.RWMutex
	fills   map[string][]domain.Fill    // market → fills
	byOwner map[uuid.UUID][]domain.Fill // maker or taker → fills
}

// NewFillStore creates an empty FillStore.
func NewFillStore() *FillStore {
	return &FillStore{
		fills:   make(map[string][]domain.Fill),
		byOwner: make(map[uuid.UUID][]domain.Fill),
	}
}

// Append records a fill under its market and both of its owners.
func (s *FillStore) Append(f domain.Fill) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fills[f.Market] = append(s.fills[f.Market], f)
	s.byOwner[f.Maker] = append(s.byOwner[f.Maker], f)
	if f.Taker != f.Maker {
		s.byOwner[f.Taker] = append(s.byOwner[f.Taker], f)
	}
}

// GetByMarket returns all fills of a market in settlement order.
// Returns an empty slice if the market has no fills.
func (s *FillStore) GetByMarket(market string) []domain.Fill {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fills := s.fills[market]
	result := make([]domain.Fill, len(fills))
	copy(result, fills)
	return result
}

// ListByOwner returns fills involving owner, newest first. If market is
// non-empty only that market's fills are included. Pagination is 1-based.
// Returns the fills for the requested page and the total count of
// matching fills before pagination.
func (s *FillStore) ListByOwner(owner uuid.UUID, market string, page, limit int) ([]domain.Fill, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byOwner[owner]

	filtered := make([]domain.Fill, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if market != "" && all[i].Market != market {
			continue
		}
		filtered = append(filtered, all[i])
	}

	total := len(filtered)

	start := (page - 1) * limit
	if start >= total {
		return []domain.Fill{}, total
	}
	end := min(start+limit, total)

	return filtered[start:end], total
}
