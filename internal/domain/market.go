package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Market describes the lot sizes of one market. Prices inside the engine
// are expressed in quote lots per base lot and sizes in base lots.
type Market struct {
	Name         string
	BaseLotSize  int64 // native base units per base lot
	QuoteLotSize int64 // native quote units per quote lot
	ReduceOnly   bool
}

// Validate checks the lot sizes.
func (m Market) Validate() error {
	if m.Name == "" {
		return &ValidationError{Message: "market name must not be empty"}
	}
	if m.BaseLotSize <= 0 || m.QuoteLotSize <= 0 {
		return &ValidationError{Message: fmt.Sprintf("market %s: lot sizes must be positive", m.Name)}
	}
	return nil
}

// PriceToLots converts a native price (quote native units per base
// native unit) into quote lots per base lot. Prices that round down to
// zero lots are rejected.
func (m Market) PriceToLots(price decimal.Decimal) (int64, error) {
	lots := price.Mul(decimal.NewFromInt(m.BaseLotSize)).
		Div(decimal.NewFromInt(m.QuoteLotSize)).
		Floor()
	if !lots.IsPositive() {
		return 0, fmt.Errorf("%w: price %s is below one lot", ErrInvalidOrderParameters, price)
	}
	if !lots.LessThanOrEqual(decimal.NewFromInt(MaxLots)) {
		return 0, fmt.Errorf("%w: price %s is too large", ErrInvalidOrderParameters, price)
	}
	return lots.IntPart(), nil
}

// LotsToPrice is the inverse of PriceToLots.
func (m Market) LotsToPrice(priceLots int64) decimal.Decimal {
	return decimal.NewFromInt(priceLots).
		Mul(decimal.NewFromInt(m.QuoteLotSize)).
		Div(decimal.NewFromInt(m.BaseLotSize))
}

// QuantityToLots converts a native base quantity into whole base lots,
// rounding down.
func (m Market) QuantityToLots(quantity decimal.Decimal) (int64, error) {
	if quantity.IsNegative() {
		return 0, fmt.Errorf("%w: quantity %s is negative", ErrInvalidOrderParameters, quantity)
	}
	lots := quantity.Div(decimal.NewFromInt(m.BaseLotSize)).Floor()
	if !lots.LessThanOrEqual(decimal.NewFromInt(MaxLots)) {
		return 0, fmt.Errorf("%w: quantity %s is too large", ErrInvalidOrderParameters, quantity)
	}
	return lots.IntPart(), nil
}

// LotsToQuantity is the inverse of QuantityToLots.
func (m Market) LotsToQuantity(lots int64) decimal.Decimal {
	return decimal.NewFromInt(lots).Mul(decimal.NewFromInt(m.BaseLotSize))
}

// QuoteToLots converts a native quote amount into whole quote lots,
// rounding down.
func (m Market) QuoteToLots(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: quote amount %s is negative", ErrInvalidOrderParameters, amount)
	}
	lots := amount.Div(decimal.NewFromInt(m.QuoteLotSize)).Floor()
	if !lots.LessThanOrEqual(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("%w: quote amount %s is too large", ErrInvalidOrderParameters, amount)
	}
	return lots.IntPart(), nil
}

// LotsToQuote is the inverse of QuoteToLots.
func (m Market) LotsToQuote(lots int64) decimal.Decimal {
	return decimal.NewFromInt(lots).Mul(decimal.NewFromInt(m.QuoteLotSize))
}

// PriceOffsetToLots converts a signed native price offset into price
// lots, truncating toward zero.
func (m Market) PriceOffsetToLots(offset decimal.Decimal) (int64, error) {
	lots := offset.Mul(decimal.NewFromInt(m.BaseLotSize)).
		Div(decimal.NewFromInt(m.QuoteLotSize)).
		Truncate(0)
	if lots.Abs().GreaterThan(decimal.NewFromInt(MaxLots)) {
		return 0, fmt.Errorf("%w: price offset %s is too large", ErrInvalidOrderParameters, offset)
	}
	return lots.IntPart(), nil
}

// MaxLots bounds prices and sizes so that price × size stays inside int64.
const MaxLots = 1 << 31
