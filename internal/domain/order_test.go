package domain

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestSide_Invert(t *testing.T) {
	if SideBid.Invert() != SideAsk {
		t.Error("SideBid.Invert() should be SideAsk")
	}
	if SideAsk.Invert() != SideBid {
		t.Error("SideAsk.Invert() should be SideBid")
	}
}

func TestParseSide(t *testing.T) {
	tests := []struct {
		input   string
		want    Side
		wantErr bool
	}{
		{"bid", SideBid, false},
		{"ask", SideAsk, false},
		{"buy", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSide(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidOrderParameters) {
					t.Errorf("ParseSide(%q) error = %v, want ErrInvalidOrderParameters", tt.input, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseSide(%q) = %v, %v, want %v", tt.input, got, err, tt.want)
			}
		})
	}
}

func TestSide_IsPriceWithinLimit(t *testing.T) {
	tests := []struct {
		name    string
		side    Side
		resting int64
		limit   int64
		want    bool
	}{
		{"bid crosses lower ask", SideBid, 99, 100, true},
		{"bid crosses equal ask", SideBid, 100, 100, true},
		{"bid below ask", SideBid, 101, 100, false},
		{"ask crosses higher bid", SideAsk, 101, 100, true},
		{"ask crosses equal bid", SideAsk, 100, 100, true},
		{"ask above bid", SideAsk, 99, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.side.IsPriceWithinLimit(tt.resting, tt.limit); got != tt.want {
				t.Errorf("IsPriceWithinLimit(%d, %d) = %v, want %v", tt.resting, tt.limit, got, tt.want)
			}
		})
	}
}

func TestOrderType_CanRest(t *testing.T) {
	rest := map[OrderType]bool{
		OrderTypeLimit:             true,
		OrderTypePostOnly:          true,
		OrderTypePostOnlySlide:     true,
		OrderTypeImmediateOrCancel: false,
		OrderTypeMarket:            false,
	}
	for typ, want := range rest {
		if got := typ.CanRest(); got != want {
			t.Errorf("%s.CanRest() = %v, want %v", typ, got, want)
		}
	}
}

func TestParseOrderType_RoundTrip(t *testing.T) {
	for typ := range orderTypeNames {
		got, err := ParseOrderType(typ.String())
		if err != nil || got != typ {
			t.Errorf("ParseOrderType(%q) = %v, %v", typ.String(), got, err)
		}
	}
	if _, err := ParseOrderType("stop"); err == nil {
		t.Error("ParseOrderType(stop) should fail")
	}
}

func TestParseSelfTradeBehavior_DefaultsToDecrementTake(t *testing.T) {
	got, err := ParseSelfTradeBehavior("")
	if err != nil || got != SelfTradeDecrementTake {
		t.Errorf("ParseSelfTradeBehavior(\"\") = %v, %v, want decrement_take", got, err)
	}
	got, err = ParseSelfTradeBehavior("abort_transaction")
	if err != nil || got != SelfTradeAbortTransaction {
		t.Errorf("ParseSelfTradeBehavior(abort_transaction) = %v, %v", got, err)
	}
}

func TestOrderID_KeyOrdering(t *testing.T) {
	// Same price: the earlier bid must have the larger key.
	early := OrderID{Side: SideBid, PriceLots: 100, Seq: 1}
	late := OrderID{Side: SideBid, PriceLots: 100, Seq: 2}
	_, loEarly := early.Key()
	_, loLate := late.Key()
	if loEarly <= loLate {
		t.Errorf("bid key lo: early=%x late=%x, want early > late", loEarly, loLate)
	}

	earlyAsk := OrderID{Side: SideAsk, PriceLots: 100, Seq: 1}
	lateAsk := OrderID{Side: SideAsk, PriceLots: 100, Seq: 2}
	_, loEarly = earlyAsk.Key()
	_, loLate = lateAsk.Key()
	if loEarly >= loLate {
		t.Errorf("ask key lo: early=%x late=%x, want early < late", loEarly, loLate)
	}
}

func TestParseOrderID_Malformed(t *testing.T) {
	for _, s := range []string{"", "x", "c0000000000000064000000000000000a", "a000000000000006400000000000000zz"} {
		if _, err := ParseOrderID(s); !errors.Is(err, ErrInvalidOrderParameters) {
			t.Errorf("ParseOrderID(%q) error = %v, want ErrInvalidOrderParameters", s, err)
		}
	}
}

func TestProperty_OrderIDStringRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := OrderID{
			Side:      rapid.SampledFrom([]Side{SideBid, SideAsk}).Draw(t, "side"),
			PriceLots: rapid.Int64Range(1, MaxLots).Draw(t, "price"),
			Seq:       rapid.Uint64().Draw(t, "seq"),
		}
		got, err := ParseOrderID(id.String())
		if err != nil {
			t.Fatalf("ParseOrderID(%q): %v", id.String(), err)
		}
		if got != id {
			t.Fatalf("round trip: got %+v, want %+v", got, id)
		}
	})
}

func TestRestingOrder_IsExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	never := RestingOrder{}
	if never.IsExpired(now) {
		t.Error("order without expiry should never expire")
	}
	o := RestingOrder{ExpiresAt: now.Add(time.Second)}
	if o.IsExpired(now) {
		t.Error("order should not be expired before ExpiresAt")
	}
	if !o.IsExpired(now.Add(time.Second)) {
		t.Error("order should be expired at ExpiresAt")
	}
}
