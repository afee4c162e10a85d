package service

import (
	"fmt"
	"slices"
	"strings"

	"github.com/efreitasn/perpmatch/internal/domain"
)

// Registry maps market names to markets. It is populated at startup and
// read-only afterwards.
type Registry struct {
	markets map[string]*Market
}

// NewRegistry creates a registry of markets. Names must be unique.
func NewRegistry(markets ...*Market) (*Registry, error) {
	r := &Registry{markets: make(map[string]*Market, len(markets))}
	for _, m := range markets {
		if _, exists := r.markets[m.Name()]; exists {
			return nil, fmt.Errorf("duplicate market %q", m.Name())
		}
		r.markets[m.Name()] = m
	}
	return r, nil
}

// Get returns the market called name or domain.ErrMarketNotFound.
func (r *Registry) Get(name string) (*Market, error) {
	m, ok := r.markets[name]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	return m, nil
}

// All returns every market sorted by name.
func (r *Registry) All() []*Market {
	out := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *Market) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return out
}
