package engine

import (
	"runtime"
	"testing"

	"github.com/efreitasn/perpmatch/internal/domain"
)

// bytesPerRun reports the average heap bytes allocated by one call of f.
func bytesPerRun(runs int, f func()) uint64 {
	f()
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	for range runs {
		f()
	}
	runtime.ReadMemStats(&after)
	return (after.TotalAlloc - before.TotalAlloc) / uint64(runs)
}

func TestOrderbook_OperationCostIndependentOfCapacity(t *testing.T) {
	const runs = 100
	measure := func(capacity int) (miss, roundTrip uint64) {
		ob, _ := newTestBook(t, capacity, 4*runs)
		for i := range 8 {
			mustPlace(t, ob, limitOrder(bob, domain.SideAsk, 200+int64(i), 1))
		}
		missing := domain.OrderID{Side: domain.SideBid, PriceLots: 1, Seq: 1 << 40}
		miss = bytesPerRun(runs, func() {
			_, _ = ob.CancelOrder(alice, missing, baseTime)
		})
		roundTrip = bytesPerRun(runs, func() {
			res, err := ob.NewOrder(limitOrder(alice, domain.SideBid, 99, 1), baseTime, 0, 8)
			if err != nil || res.OrderID == nil {
				t.Fatalf("NewOrder() = %+v, %v", res, err)
			}
			if _, err := ob.CancelOrder(alice, *res.OrderID, baseTime); err != nil {
				t.Fatalf("CancelOrder() error: %v", err)
			}
		})
		return miss, roundTrip
	}

	smallMiss, smallTrip := measure(16)
	largeMiss, largeTrip := measure(1 << 16)

	const slack = 4096
	if largeMiss > smallMiss+slack {
		t.Errorf("cancel miss allocates %d bytes at capacity 1<<16, want about %d as at capacity 16", largeMiss, smallMiss)
	}
	if largeTrip > smallTrip+slack {
		t.Errorf("place and cancel allocates %d bytes at capacity 1<<16, want about %d as at capacity 16", largeTrip, smallTrip)
	}
}
