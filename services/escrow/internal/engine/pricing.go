package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceModel selects how an offer's final price is derived.
type PriceModel string

const (
	PriceFixed  PriceModel = "FIXED"
	PriceMargin PriceModel = "MARGIN"
)

// PriceConfig is the pricing declaration stored on an offer. For FIXED the
// value is the price itself; for MARGIN it is a percentage offset from the
// market price, limited to [-10, 10].
type PriceConfig struct {
	Model PriceModel
	Value decimal.Decimal
}

const pricePrecision = 8

var (
	marginFloor = decimal.NewFromInt(-10)
	marginCeil  = decimal.NewFromInt(10)
)

// ResolvePrice computes the final trade price. marketPrice may be nil for
// FIXED pricing; MARGIN pricing requires a positive market price.
func ResolvePrice(cfg PriceConfig, marketPrice *decimal.Decimal) (decimal.Decimal, error) {
	switch cfg.Model {
	case PriceFixed:
		if cfg.Value.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, fmt.Errorf("%w: fixed price must be positive", ErrInvalidPriceConfig)
		}
		return RoundAmount(cfg.Value, pricePrecision), nil
	case PriceMargin:
		if marketPrice == nil || marketPrice.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, fmt.Errorf("%w: margin pricing requires a market price", ErrInvalidPriceConfig)
		}
		if cfg.Value.LessThan(marginFloor) || cfg.Value.GreaterThan(marginCeil) {
			return decimal.Zero, fmt.Errorf("%w: margin must be between -10 and 10 percent", ErrInvalidPriceConfig)
		}
		factor := decimal.NewFromInt(1).Add(cfg.Value.Div(hundred))
		return RoundAmount(marketPrice.Mul(factor), pricePrecision), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown price model %q", ErrInvalidPriceConfig, cfg.Model)
	}
}
