package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for the escrow engine. Callers classify them with
// errors.Is; wrapped messages carry the actionable detail.
var (
	ErrOfferNotFound           = errors.New("offer not found")
	ErrTradeNotFound           = errors.New("trade not found")
	ErrWalletNotFound          = errors.New("wallet not found")
	ErrDisputeNotFound         = errors.New("dispute not found")
	ErrOfferUnavailable        = errors.New("offer unavailable")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrPaymentMethodNotAllowed = errors.New("payment method not allowed")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrIllegalTransition       = errors.New("illegal transition")
	ErrInvalidPriceConfig      = errors.New("invalid price config")
	ErrInvalidInput            = errors.New("invalid input")
	ErrForbidden               = errors.New("forbidden")
)

// IllegalTransitionError wraps ErrIllegalTransition with the attempted edge.
func IllegalTransitionError(from, to TradeStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}

// IsValidation reports whether err is caller error that must not be retried.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPriceConfig) ||
		errors.Is(err, ErrInvalidInput)
}

// IsConflict reports whether err requires the caller to re-fetch state
// before retrying.
func IsConflict(err error) bool {
	return errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrOfferUnavailable) ||
		errors.Is(err, ErrPaymentMethodNotAllowed)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrOfferNotFound) ||
		errors.Is(err, ErrTradeNotFound) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrDisputeNotFound)
}
