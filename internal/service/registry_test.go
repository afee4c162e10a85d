package service

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/efreitasn/perpmatch/internal/domain"
	"github.com/efreitasn/perpmatch/internal/engine"
	"github.com/efreitasn/perpmatch/internal/store"
)

func newNamedMarket(t *testing.T, name string, positions *store.PositionStore, accounts *store.AccountStore) *Market {
	t.Helper()
	m, err := NewMarket(engine.Config{
		Market:             domain.Market{Name: name, BaseLotSize: 1, QuoteLotSize: 1},
		BookCapacity:       8,
		EventQueueCapacity: 8,
	}, accounts, positions, 8, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewMarket(%s) error: %v", name, err)
	}
	return m
}

func TestRegistry(t *testing.T) {
	accounts := store.NewAccountStore()
	positions := store.NewPositionStore(accounts)
	eth := newNamedMarket(t, "ETH-PERP", positions, accounts)
	btc := newNamedMarket(t, "BTC-PERP", positions, accounts)

	r, err := NewRegistry(eth, btc)
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	got, err := r.Get("BTC-PERP")
	if err != nil || got != btc {
		t.Errorf("Get(BTC-PERP) = %v, %v", got, err)
	}
	if _, err := r.Get("DOGE-PERP"); !errors.Is(err, domain.ErrMarketNotFound) {
		t.Errorf("expected ErrMarketNotFound, got %v", err)
	}
	all := r.All()
	if len(all) != 2 || all[0] != btc || all[1] != eth {
		t.Errorf("All() not sorted by name")
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	accounts := store.NewAccountStore()
	positions := store.NewPositionStore(accounts)
	a := newNamedMarket(t, "BTC-PERP", positions, accounts)
	b := newNamedMarket(t, "BTC-PERP", positions, accounts)

	if _, err := NewRegistry(a, b); err == nil {
		t.Fatal("expected error for duplicate market names")
	}
}

func TestNewMarket_InvalidConfig(t *testing.T) {
	accounts := store.NewAccountStore()
	_, err := NewMarket(engine.Config{
		Market:             domain.Market{Name: "BTC-PERP", BaseLotSize: 1, QuoteLotSize: 1},
		BookCapacity:       0,
		EventQueueCapacity: 8,
	}, accounts, store.NewPositionStore(accounts), 8, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected error for zero book capacity")
	}
}
