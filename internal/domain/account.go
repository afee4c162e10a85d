package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account is a trading account. RiskLimitLots caps, per market, the base
// lots an account may be exposed to counting its position and its open
// orders on the side being added to. Zero means no limit.
type Account struct {
	ID            uuid.UUID
	RiskLimitLots int64
	CreatedAt     time.Time
}

// AvailableLots returns how many base lots the account may still add on
// side given its position in one market.
func (a *Account) AvailableLots(side Side, pos Position) int64 {
	if a.RiskLimitLots == 0 {
		return MaxLots
	}
	exposure := pos.BaseLots + pos.BidsBaseLots
	if side == SideAsk {
		exposure = -pos.BaseLots + pos.AsksBaseLots
	}
	return max(a.RiskLimitLots-exposure, 0)
}
