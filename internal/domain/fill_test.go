package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewFill(t *testing.T) {
	maker := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	taker := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	resting := RestingOrder{ID: OrderID{Side: SideAsk, PriceLots: 100, Seq: 4}, Owner: maker, Quantity: 3}

	e := NewFillEvent(SideBid, resting, taker, 9, true, 100, 3, now)
	e.Seq = 17
	f := NewFill("BTC-PERP", e)

	if f.Market != "BTC-PERP" || f.Seq != 17 || f.TakerSide != SideBid {
		t.Errorf("unexpected header fields: %+v", f)
	}
	if f.Maker != maker || f.Taker != taker || f.MakerOrderID != resting.ID {
		t.Errorf("unexpected parties: %+v", f)
	}
	if f.PriceLots != 100 || f.Quantity != 3 || !f.ExecutedAt.Equal(now) {
		t.Errorf("unexpected trade fields: %+v", f)
	}
	if !f.Involves(maker) || !f.Involves(taker) || f.Involves(uuid.New()) {
		t.Error("Involves() should match only the maker and taker")
	}
}
