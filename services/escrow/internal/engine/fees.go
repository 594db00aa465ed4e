package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyFeeConfig holds the fee parameters for one currency.
// Percentages are expressed as percent, not fractions: 0.5 means 0.5%.
type CurrencyFeeConfig struct {
	Precision    int32
	BuyerFeePct  decimal.Decimal
	SellerFeePct decimal.Decimal
	EscrowFeePct decimal.Decimal
	EscrowFeeMin decimal.Decimal
	EscrowFeeMax decimal.Decimal
	// MakerDiscountPct is subtracted from the maker side's fee percentage,
	// floored at zero.
	MakerDiscountPct decimal.Decimal
}

// FeeSchedule resolves fee configuration per currency with a default
// fallback. Currency keys are upper-case.
type FeeSchedule struct {
	Currencies map[string]CurrencyFeeConfig
	Default    CurrencyFeeConfig
}

// Fees is the result of one fee computation. All three figures are rounded
// to the currency precision with round-half-up.
type Fees struct {
	BuyerFee  decimal.Decimal
	SellerFee decimal.Decimal
	EscrowFee decimal.Decimal
}

func (f Fees) Total() decimal.Decimal {
	return f.BuyerFee.Add(f.SellerFee).Add(f.EscrowFee)
}

// SellerCost is what the seller must cover beyond the escrowed amount.
func (f Fees) SellerCost() decimal.Decimal {
	return f.SellerFee.Add(f.EscrowFee)
}

var hundred = decimal.NewFromInt(100)

// DefaultFeeSchedule returns the schedule used when no configuration
// overrides are present: fiat-style 2-decimal default, 8 decimals for
// common crypto assets.
func DefaultFeeSchedule() *FeeSchedule {
	crypto := CurrencyFeeConfig{
		Precision:        8,
		BuyerFeePct:      decimal.RequireFromString("0.5"),
		SellerFeePct:     decimal.RequireFromString("0.5"),
		EscrowFeePct:     decimal.RequireFromString("0.1"),
		EscrowFeeMin:     decimal.RequireFromString("0.0001"),
		EscrowFeeMax:     decimal.NewFromInt(100),
		MakerDiscountPct: decimal.RequireFromString("0.1"),
	}
	return &FeeSchedule{
		Currencies: map[string]CurrencyFeeConfig{
			"BTC":  crypto,
			"ETH":  crypto,
			"USDT": crypto,
		},
		Default: CurrencyFeeConfig{
			Precision:        2,
			BuyerFeePct:      decimal.RequireFromString("0.5"),
			SellerFeePct:     decimal.RequireFromString("0.5"),
			EscrowFeePct:     decimal.RequireFromString("0.1"),
			EscrowFeeMin:     decimal.RequireFromString("0.01"),
			EscrowFeeMax:     decimal.NewFromInt(1000),
			MakerDiscountPct: decimal.RequireFromString("0.1"),
		},
	}
}

func (s *FeeSchedule) configFor(currency string) CurrencyFeeConfig {
	if s == nil {
		return DefaultFeeSchedule().Default
	}
	if cfg, ok := s.Currencies[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return cfg
	}
	return s.Default
}

// Precision returns the rounding precision for a currency.
func (s *FeeSchedule) Precision(currency string) int32 {
	return s.configFor(currency).Precision
}

// Calculate computes buyer, seller, and escrow fees for a trade amount.
// makerIsBuyer selects which side receives the maker discount. The same
// rounding used here must be used by any sufficient-funds check, so
// callers compare against Fees fields rather than recomputing.
func (s *FeeSchedule) Calculate(amount decimal.Decimal, currency string, makerIsBuyer bool) (Fees, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return Fees{}, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	cfg := s.configFor(currency)

	buyerPct := cfg.BuyerFeePct
	sellerPct := cfg.SellerFeePct
	if makerIsBuyer {
		buyerPct = applyDiscount(buyerPct, cfg.MakerDiscountPct)
	} else {
		sellerPct = applyDiscount(sellerPct, cfg.MakerDiscountPct)
	}

	escrowFee := amount.Mul(cfg.EscrowFeePct).Div(hundred)
	if escrowFee.LessThan(cfg.EscrowFeeMin) {
		escrowFee = cfg.EscrowFeeMin
	}
	if cfg.EscrowFeeMax.GreaterThan(decimal.Zero) && escrowFee.GreaterThan(cfg.EscrowFeeMax) {
		escrowFee = cfg.EscrowFeeMax
	}

	return Fees{
		BuyerFee:  RoundAmount(amount.Mul(buyerPct).Div(hundred), cfg.Precision),
		SellerFee: RoundAmount(amount.Mul(sellerPct).Div(hundred), cfg.Precision),
		EscrowFee: RoundAmount(escrowFee, cfg.Precision),
	}, nil
}

func applyDiscount(pct, discount decimal.Decimal) decimal.Decimal {
	out := pct.Sub(discount)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// RoundAmount rounds with half-up semantics at the given precision.
// decimal.Round rounds half away from zero, which is half-up for the
// non-negative amounts handled here.
func RoundAmount(d decimal.Decimal, precision int32) decimal.Decimal {
	return d.Round(precision)
}
