package engine

import "github.com/efreitasn/perpmatch/internal/domain"

// ComputeMaxBaseLots returns how many base lots of order may actually be
// placed given the owner's position and the lots the risk layer allows.
// The result never exceeds order.MaxBaseLots and is never negative.
//
// Reduce-only orders, or any order on a reduce-only market, are further
// capped so that the position plus open orders on the same side can only
// shrink toward zero.
func ComputeMaxBaseLots(order domain.Order, pos domain.Position, availableLots int64, marketReduceOnly bool) int64 {
	maxLots := min(order.MaxBaseLots, availableLots)
	if order.ReduceOnly || marketReduceOnly {
		maxLots = min(maxLots, reducibleLots(order.Side, pos))
	}
	return max(maxLots, 0)
}

// reducibleLots is how much an order on side can still close of the
// position after the owner's open orders on that side are counted.
func reducibleLots(side domain.Side, pos domain.Position) int64 {
	switch {
	case side == domain.SideBid && pos.BaseLots < 0:
		return max(-pos.BaseLots-pos.BidsBaseLots, 0)
	case side == domain.SideAsk && pos.BaseLots > 0:
		return max(pos.BaseLots-pos.AsksBaseLots, 0)
	}
	return 0
}
