package engine

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestResolvePriceFixed(t *testing.T) {
	price, err := ResolvePrice(PriceConfig{Model: PriceFixed, Value: decimal.RequireFromString("1.01")}, nil)
	if err != nil {
		t.Fatalf("ResolvePrice: %v", err)
	}
	if price.String() != "1.01" {
		t.Fatalf("price = %s, want 1.01", price)
	}
}

func TestResolvePriceFixedRejectsNonPositive(t *testing.T) {
	_, err := ResolvePrice(PriceConfig{Model: PriceFixed, Value: decimal.Zero}, nil)
	if !errors.Is(err, ErrInvalidPriceConfig) {
		t.Fatalf("expected ErrInvalidPriceConfig, got %v", err)
	}
}

func TestResolvePriceMargin(t *testing.T) {
	market := decimal.NewFromInt(50000)
	price, err := ResolvePrice(PriceConfig{Model: PriceMargin, Value: decimal.NewFromInt(2)}, &market)
	if err != nil {
		t.Fatalf("ResolvePrice: %v", err)
	}
	if price.String() != "51000" {
		t.Fatalf("price = %s, want 51000", price)
	}

	discount, err := ResolvePrice(PriceConfig{Model: PriceMargin, Value: decimal.NewFromInt(-5)}, &market)
	if err != nil {
		t.Fatalf("ResolvePrice: %v", err)
	}
	if discount.String() != "47500" {
		t.Fatalf("price = %s, want 47500", discount)
	}
}

func TestResolvePriceMarginRounding(t *testing.T) {
	market := decimal.RequireFromString("0.333333333333")
	price, err := ResolvePrice(PriceConfig{Model: PriceMargin, Value: decimal.NewFromInt(3)}, &market)
	if err != nil {
		t.Fatalf("ResolvePrice: %v", err)
	}
	if price.Exponent() < -8 {
		t.Fatalf("price %s not rounded to 8 decimals", price)
	}
}

func TestResolvePriceMarginRequiresMarketPrice(t *testing.T) {
	_, err := ResolvePrice(PriceConfig{Model: PriceMargin, Value: decimal.NewFromInt(2)}, nil)
	if !errors.Is(err, ErrInvalidPriceConfig) {
		t.Fatalf("expected ErrInvalidPriceConfig, got %v", err)
	}

	zero := decimal.Zero
	_, err = ResolvePrice(PriceConfig{Model: PriceMargin, Value: decimal.NewFromInt(2)}, &zero)
	if !errors.Is(err, ErrInvalidPriceConfig) {
		t.Fatalf("expected ErrInvalidPriceConfig for zero market price, got %v", err)
	}
}

func TestResolvePriceMarginOutOfRange(t *testing.T) {
	market := decimal.NewFromInt(100)
	for _, margin := range []int64{11, -11, 100} {
		_, err := ResolvePrice(PriceConfig{Model: PriceMargin, Value: decimal.NewFromInt(margin)}, &market)
		if !errors.Is(err, ErrInvalidPriceConfig) {
			t.Fatalf("margin %d: expected ErrInvalidPriceConfig, got %v", margin, err)
		}
	}
}

func TestResolvePriceUnknownModel(t *testing.T) {
	_, err := ResolvePrice(PriceConfig{Model: PriceModel("AUCTION"), Value: decimal.NewFromInt(1)}, nil)
	if !errors.Is(err, ErrInvalidPriceConfig) {
		t.Fatalf("expected ErrInvalidPriceConfig, got %v", err)
	}
}
