package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/perpmatch/internal/domain"
	"github.com/efreitasn/perpmatch/internal/engine"
)

func newTestCrank(t *testing.T, env *testEnv) *Crank {
	t.Helper()
	r, err := NewRegistry(env.market)
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	return NewCrank(time.Millisecond, 8, 1024, r, env.fills, nil, env.logger)
}

func TestCrank_SettlesFills(t *testing.T) {
	env := newTestEnv(t)
	c := newTestCrank(t, env)
	alice := env.account(t, 0)
	bob := env.account(t, 0)

	if _, err := env.market.PlaceOrder(limitReq(alice, "ask", "1", "300")); err != nil {
		t.Fatalf("PlaceOrder() error: %v", err)
	}
	if _, err := env.market.PlaceOrder(limitReq(bob, "bid", "1", "300")); err != nil {
		t.Fatalf("PlaceOrder() error: %v", err)
	}

	c.tick()

	fills := env.fills.GetByMarket("SOL-PERP")
	if len(fills) != 1 {
		t.Fatalf("expected 1 settled fill, got %d", len(fills))
	}
	if fills[0].Maker != uuid.MustParse(alice) || fills[0].Taker != uuid.MustParse(bob) || fills[0].Quantity != 3 {
		t.Errorf("unexpected fill: %+v", fills[0])
	}
	stats := c.Stats()
	// The maker was consumed, so its out event follows the fill.
	if stats.Ticks != 1 || stats.Fills != 1 || stats.Outs != 1 || stats.Missed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if c.Backlog() != 0 {
		t.Errorf("Backlog() = %d, want 0", c.Backlog())
	}
	if info := env.market.Info(); info.EventHead != 2 || info.EventFree != 64 {
		t.Errorf("expected the crank to ack what it read, got %+v", info)
	}

	// A second tick with nothing new settles nothing.
	c.tick()
	if n := len(env.fills.GetByMarket("SOL-PERP")); n != 1 {
		t.Errorf("expected fills to settle once, got %d", n)
	}
}

func TestCrank_BacklogCarriesAcrossTicks(t *testing.T) {
	env := newTestEnv(t)
	r, err := NewRegistry(env.market)
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	c := NewCrank(time.Millisecond, 8, 1, r, env.fills, nil, env.logger)
	alice := env.account(t, 0)
	bob := env.account(t, 0)

	if _, err := env.market.PlaceOrder(limitReq(alice, "ask", "1", "300")); err != nil {
		t.Fatalf("PlaceOrder() error: %v", err)
	}
	if _, err := env.market.PlaceOrder(limitReq(bob, "bid", "1", "300")); err != nil {
		t.Fatalf("PlaceOrder() error: %v", err)
	}

	c.tick()
	if stats := c.Stats(); stats.Fills != 1 || stats.Outs != 0 {
		t.Errorf("after first tick stats = %+v, want only the fill settled", stats)
	}
	if c.Backlog() != 1 {
		t.Errorf("Backlog() = %d, want 1", c.Backlog())
	}
	if info := env.market.Info(); info.EventFree != 64 {
		t.Errorf("expected the queue to be acked before settlement, got %+v", info)
	}

	c.tick()
	if stats := c.Stats(); stats.Fills != 1 || stats.Outs != 1 {
		t.Errorf("after second tick stats = %+v, want the out event settled", stats)
	}
	if c.Backlog() != 0 {
		t.Errorf("Backlog() = %d, want 0", c.Backlog())
	}
}

func TestCrank_ExpiresOrders(t *testing.T) {
	env := newTestEnv(t)
	c := newTestCrank(t, env)
	alice := env.account(t, 0)

	req := limitReq(alice, "bid", "1", "200")
	req.TimeInForce = time.Second
	if _, err := env.market.PlaceOrder(req); err != nil {
		t.Fatalf("PlaceOrder() error: %v", err)
	}

	c.tick()
	if c.Stats().Expired != 0 {
		t.Fatal("order expired before its time in force")
	}

	env.market.now = func() time.Time { return testNow.Add(time.Second) }
	c.tick()
	stats := c.Stats()
	if stats.Expired != 1 || stats.Outs != 1 {
		t.Errorf("expected one expiry and its out event, got %+v", stats)
	}
	pos := env.positions.Get("SOL-PERP", uuid.MustParse(alice))
	if pos.OpenOrders != 0 || pos.BidsBaseLots != 0 {
		t.Errorf("position after expiry = %+v", pos)
	}
}

func TestCrank_CountsMissedEvents(t *testing.T) {
	env := newTestEnv(t)
	m, err := NewMarket(engine.Config{
		Market:             domain.Market{Name: "TINY-PERP", BaseLotSize: 1, QuoteLotSize: 1},
		BookCapacity:       8,
		EventQueueCapacity: 2,
		Overflow:           engine.OverflowEvict,
	}, env.accounts, env.positions, 8, env.logger)
	if err != nil {
		t.Fatalf("NewMarket() error: %v", err)
	}
	r, _ := NewRegistry(m)
	c := NewCrank(time.Millisecond, 8, 1024, r, env.fills, nil, env.logger)
	alice := env.account(t, 0)

	for i := 0; i < 5; i++ {
		req := limitReq(alice, "bid", "1", "1")
		if _, err := m.PlaceOrder(req); err != nil {
			t.Fatalf("PlaceOrder() error: %v", err)
		}
		if _, err := m.CancelAllOrders(alice, "", nil); err != nil {
			t.Fatalf("CancelAllOrders() error: %v", err)
		}
	}

	c.tick()
	stats := c.Stats()
	if stats.Missed != 3 || stats.Outs != 2 {
		t.Errorf("expected 3 missed and 2 settled outs, got %+v", stats)
	}
	if _, _, err := m.ReadEvents(5, -1); err != nil {
		t.Errorf("expected the cursor to be caught up, got %v", err)
	}
	if _, _, err := m.ReadEvents(0, -1); !errors.Is(err, domain.ErrEventsMissed) {
		t.Errorf("expected ErrEventsMissed reading before head, got %v", err)
	}
}

func TestCrank_StartStops(t *testing.T) {
	env := newTestEnv(t)
	c := newTestCrank(t, env)

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for c.Stats().Ticks == 0 {
		if time.Now().After(deadline) {
			t.Fatal("crank did not tick")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
}
