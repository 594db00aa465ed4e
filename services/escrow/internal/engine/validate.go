package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
)

// Limits carries every configurable engine bound. Nothing here is a domain
// constant; values come from service configuration.
type Limits struct {
	MinTradeAmount       decimal.Decimal
	MaxTradeAmount       decimal.Decimal
	LargeAmountThreshold decimal.Decimal
	MaxMessageLength     int
	MinTermsLength       int
	MaxTermsLength       int
	DefaultAutoCancel    time.Duration
	// GraceWindow bounds COMPLETED -> DISPUTED re-entry; AllowRedispute
	// gates the edge entirely while its exact semantics remain open.
	GraceWindow    time.Duration
	AllowRedispute bool
}

// DefaultLimits mirrors the shipped configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		MinTradeAmount:       decimal.RequireFromString("0.01"),
		MaxTradeAmount:       decimal.NewFromInt(1_000_000),
		LargeAmountThreshold: decimal.NewFromInt(1000),
		MaxMessageLength:     1000,
		MinTermsLength:       10,
		MaxTermsLength:       5000,
		DefaultAutoCancel:    30 * time.Minute,
		GraceWindow:          72 * time.Hour,
		AllowRedispute:       true,
	}
}

// ValidateTradeAmount checks the global amount bounds. Offer-level bounds
// are enforced separately under the offer row lock.
func (l Limits) ValidateTradeAmount(amount decimal.Decimal) error {
	if amount.LessThan(l.MinTradeAmount) || amount.GreaterThan(l.MaxTradeAmount) {
		return fmt.Errorf("%w: amount must be between %s and %s",
			ErrInvalidAmount, l.MinTradeAmount.String(), l.MaxTradeAmount.String())
	}
	return nil
}

// WithinGraceWindow reports whether a completed trade may still be
// re-disputed at now.
func (l Limits) WithinGraceWindow(completedAt, now time.Time) bool {
	if !l.AllowRedispute || completedAt.IsZero() {
		return false
	}
	return now.Sub(completedAt) <= l.GraceWindow
}

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeMessage strips HTML and enforces the message length bound.
// An empty message is allowed.
func (l Limits) SanitizeMessage(s string) (string, error) {
	clean := strings.TrimSpace(strictPolicy.Sanitize(s))
	if len(clean) > l.MaxMessageLength {
		return "", fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, l.MaxMessageLength)
	}
	return clean, nil
}

// SanitizeTerms strips HTML and enforces the terms length bounds.
func (l Limits) SanitizeTerms(s string) (string, error) {
	clean := strings.TrimSpace(strictPolicy.Sanitize(s))
	if len(clean) < l.MinTermsLength {
		return "", fmt.Errorf("%w: terms must be at least %d characters", ErrInvalidInput, l.MinTermsLength)
	}
	if l.MaxTermsLength > 0 && len(clean) > l.MaxTermsLength {
		return "", fmt.Errorf("%w: terms exceed %d characters", ErrInvalidInput, l.MaxTermsLength)
	}
	return clean, nil
}

// DisputeReason is the enumerated dispute taxonomy.
type DisputeReason string

const (
	DisputePaymentNotReceived DisputeReason = "PAYMENT_NOT_RECEIVED"
	DisputePaymentNotSent     DisputeReason = "PAYMENT_NOT_SENT"
	DisputeWrongAmount        DisputeReason = "WRONG_AMOUNT"
	DisputeFraudSuspected     DisputeReason = "FRAUD_SUSPECTED"
	DisputeUnresponsive       DisputeReason = "COUNTERPARTY_UNRESPONSIVE"
	DisputeOther              DisputeReason = "OTHER"
)

func ValidDisputeReason(r DisputeReason) bool {
	switch r {
	case DisputePaymentNotReceived, DisputePaymentNotSent, DisputeWrongAmount,
		DisputeFraudSuspected, DisputeUnresponsive, DisputeOther:
		return true
	}
	return false
}

// DisputePriority derives a queue priority from the disputed amount.
func (l Limits) DisputePriority(amount decimal.Decimal) string {
	if amount.GreaterThan(l.LargeAmountThreshold) {
		return "high"
	}
	return "normal"
}
