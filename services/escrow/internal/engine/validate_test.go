package engine

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestValidateTradeAmountBounds(t *testing.T) {
	limits := DefaultLimits()

	cases := []struct {
		amount string
		ok     bool
	}{
		{"0.01", true},
		{"0.009", false},
		{"1000000", true},
		{"1000000.01", false},
		{"250", true},
	}
	for _, tc := range cases {
		err := limits.ValidateTradeAmount(decimal.RequireFromString(tc.amount))
		if tc.ok && err != nil {
			t.Errorf("amount %s: unexpected error %v", tc.amount, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %s: expected ErrInvalidAmount, got %v", tc.amount, err)
		}
	}
}

func TestSanitizeMessageStripsHTML(t *testing.T) {
	limits := DefaultLimits()
	clean, err := limits.SanitizeMessage(`<script>alert(1)</script>payment sent via <b>bank</b>`)
	if err != nil {
		t.Fatalf("SanitizeMessage: %v", err)
	}
	if strings.Contains(clean, "<") || strings.Contains(clean, "script") {
		t.Fatalf("html survived sanitization: %q", clean)
	}
	if !strings.Contains(clean, "payment sent via") {
		t.Fatalf("text content lost: %q", clean)
	}
}

func TestSanitizeMessageLength(t *testing.T) {
	limits := DefaultLimits()
	_, err := limits.SanitizeMessage(strings.Repeat("a", limits.MaxMessageLength+1))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSanitizeTermsBounds(t *testing.T) {
	limits := DefaultLimits()

	if _, err := limits.SanitizeTerms("too short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short terms, got %v", err)
	}

	clean, err := limits.SanitizeTerms("bank transfer only, reference required")
	if err != nil {
		t.Fatalf("SanitizeTerms: %v", err)
	}
	if clean == "" {
		t.Fatalf("expected sanitized terms")
	}
}

func TestWithinGraceWindow(t *testing.T) {
	limits := DefaultLimits()
	limits.GraceWindow = time.Hour

	completed := time.Now().UTC()
	if !limits.WithinGraceWindow(completed, completed.Add(30*time.Minute)) {
		t.Fatalf("expected within grace window")
	}
	if limits.WithinGraceWindow(completed, completed.Add(2*time.Hour)) {
		t.Fatalf("expected outside grace window")
	}

	limits.AllowRedispute = false
	if limits.WithinGraceWindow(completed, completed.Add(time.Minute)) {
		t.Fatalf("redispute disabled, expected false")
	}
}

func TestDisputePriority(t *testing.T) {
	limits := DefaultLimits()
	if got := limits.DisputePriority(decimal.NewFromInt(50)); got != "normal" {
		t.Fatalf("priority = %s, want normal", got)
	}
	if got := limits.DisputePriority(decimal.NewFromInt(5000)); got != "high" {
		t.Fatalf("priority = %s, want high", got)
	}
}

func TestValidDisputeReason(t *testing.T) {
	if !ValidDisputeReason(DisputeFraudSuspected) {
		t.Fatalf("expected FRAUD_SUSPECTED valid")
	}
	if ValidDisputeReason(DisputeReason("VIBES")) {
		t.Fatalf("expected unknown reason invalid")
	}
}
