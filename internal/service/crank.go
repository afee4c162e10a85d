package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/deque"

	"github.com/efreitasn/perpmatch/internal/domain"
	"github.com/efreitasn/perpmatch/internal/store"
)

// CrankStats counts what the crank has processed since it was created.
type CrankStats struct {
	Ticks   uint64
	Expired uint64
	Fills   uint64
	Outs    uint64
	Missed  uint64
}

type pendingEvent struct {
	market domain.Market
	event  domain.Event
}

// Notifier is told about every settled event. WebhookService implements it.
type Notifier interface {
	FillSettled(m domain.Market, f domain.Fill)
	OrderOut(m domain.Market, e domain.Event)
}

// Crank is the event consumer of every market. On each tick it expires
// resting orders past their time in force, drains each market's event
// queue into a backlog and acknowledges what it read. It then settles at
// most settleLimit backlog events into the fill store and the notifier.
// The rest stay in the backlog for later ticks.
type Crank struct {
	interval    time.Duration
	expireLimit int
	settleLimit int
	registry    *Registry
	fills       *store.FillStore
	notifier    Notifier
	logger      *slog.Logger

	mu      sync.Mutex // protects everything below
	cursors map[string]uint64
	backlog deque.Deque[pendingEvent]
	stats   CrankStats
}

// NewCrank creates a Crank over every market in registry. notifier may
// be nil.
func NewCrank(
	interval time.Duration,
	expireLimit int,
	settleLimit int,
	registry *Registry,
	fills *store.FillStore,
	notifier Notifier,
	logger *slog.Logger,
) *Crank {
	return &Crank{
		interval:    interval,
		expireLimit: expireLimit,
		settleLimit: settleLimit,
		registry:    registry,
		fills:       fills,
		notifier:    notifier,
		logger:      logger,
		cursors:     make(map[string]uint64),
	}
}

// Start launches a background goroutine that ticks at the configured
// interval. It stops when ctx is cancelled.
func (c *Crank) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.tick()
			}
		}
	}()
}

// Stats returns a copy of the crank counters.
func (c *Crank) Stats() CrankStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Backlog returns the number of drained events not yet settled.
func (c *Crank) Backlog() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backlog.Len()
}

func (c *Crank) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Ticks++
	for _, m := range c.registry.All() {
		// Drain first so expiry has room in a full queue.
		c.drain(m)
		c.expire(m)
		c.drain(m)
	}
	c.settle()
}

func (c *Crank) expire(m *Market) {
	n, err := m.ExpireOrders(c.expireLimit)
	if err != nil {
		c.logger.Warn("expire orders failed",
			slog.String("market", m.Name()),
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		c.stats.Expired += uint64(n)
		c.logger.Info("orders expired", slog.String("market", m.Name()), slog.Int("count", n))
	}
}

func (c *Crank) drain(m *Market) {
	from := c.cursors[m.Name()]
	events, next, err := m.ReadEvents(from, -1)
	if err != nil {
		var gap *domain.GapError
		if !errors.As(err, &gap) {
			c.logger.Error("read events failed",
				slog.String("market", m.Name()),
				slog.String("error", err.Error()),
			)
			return
		}
		// Evicted events can only be recovered from position state.
		c.stats.Missed += gap.Missed()
		c.logger.Warn("events missed",
			slog.String("market", m.Name()),
			slog.Uint64("from", gap.From),
			slog.Uint64("head", gap.Head),
			slog.Uint64("missed", gap.Missed()),
		)
	}

	for _, e := range events {
		c.backlog.PushBack(pendingEvent{market: m.Market(), event: e})
	}
	c.cursors[m.Name()] = next
	if next > from {
		m.AckEvents(next)
	}
}

func (c *Crank) settle() {
	for n := 0; n < c.settleLimit && c.backlog.Len() > 0; n++ {
		p := c.backlog.PopFront()
		switch p.event.Type {
		case domain.EventFill:
			f := domain.NewFill(p.market.Name, p.event)
			c.fills.Append(f)
			c.stats.Fills++
			if c.notifier != nil {
				c.notifier.FillSettled(p.market, f)
			}
		case domain.EventOut:
			c.stats.Outs++
			if c.notifier != nil {
				c.notifier.OrderOut(p.market, p.event)
			}
		}
	}
}
