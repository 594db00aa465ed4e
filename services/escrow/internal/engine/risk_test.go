package engine

import (
	"testing"

	"github.com/shopspring/decimal"
)

var allEventTypes = []EventType{
	EventTradeInitiated, EventTradePaymentSent, EventTradeReleased,
	EventTradeCompleted, EventTradeCancelled, EventTradeExpired,
	EventTradeDisputed, EventDisputeResolved,
	EventOfferCreated, EventOfferActivated, EventOfferPaused,
	EventOfferCancelled, EventOfferRejected,
	EventFundsLocked, EventFundsUnlocked, EventFundsTransferred,
	EventUnauthorizedAccess, EventSuspiciousActivity, EventRateLimitExceeded,
	EventAdminResolution, EventAdminOfferOverride, EventAdminWalletInspect,
}

// Every declared event type must have an explicit risk entry so a new kind
// cannot default into the wrong tier.
func TestRiskTableExhaustive(t *testing.T) {
	for _, et := range allEventTypes {
		if _, ok := eventRiskLevels[et]; !ok {
			t.Errorf("event type %s missing from risk table", et)
		}
	}
	if len(eventRiskLevels) != len(allEventTypes) {
		t.Errorf("risk table has %d entries, test covers %d", len(eventRiskLevels), len(allEventTypes))
	}
}

func TestClassifyRiskBaseLevels(t *testing.T) {
	threshold := decimal.NewFromInt(1000)
	cases := []struct {
		event EventType
		want  RiskLevel
	}{
		{EventFundsTransferred, RiskCritical},
		{EventUnauthorizedAccess, RiskCritical},
		{EventTradeDisputed, RiskHigh},
		{EventAdminResolution, RiskHigh},
		{EventSuspiciousActivity, RiskHigh},
		{EventTradeCancelled, RiskMedium},
		{EventRateLimitExceeded, RiskMedium},
		{EventTradeInitiated, RiskLow},
	}
	for _, tc := range cases {
		if got := ClassifyRisk(tc.event, decimal.Zero, threshold); got != tc.want {
			t.Errorf("ClassifyRisk(%s) = %s, want %s", tc.event, got, tc.want)
		}
	}
}

func TestClassifyRiskAmountEscalation(t *testing.T) {
	threshold := decimal.NewFromInt(1000)

	if got := ClassifyRisk(EventTradeInitiated, decimal.NewFromInt(5000), threshold); got != RiskMedium {
		t.Fatalf("large amount should escalate LOW to MEDIUM, got %s", got)
	}
	// Escalation never downgrades.
	if got := ClassifyRisk(EventTradeDisputed, decimal.NewFromInt(5000), threshold); got != RiskHigh {
		t.Fatalf("HIGH must stay HIGH, got %s", got)
	}
	if got := ClassifyRisk(EventTradeInitiated, decimal.NewFromInt(999), threshold); got != RiskLow {
		t.Fatalf("below threshold should stay LOW, got %s", got)
	}
}

func TestClassifyRiskUnknownEvent(t *testing.T) {
	if got := ClassifyRisk(EventType("totally.new"), decimal.Zero, decimal.NewFromInt(1000)); got != RiskHigh {
		t.Fatalf("unknown event should classify HIGH, got %s", got)
	}
}

func TestAtLeastHigh(t *testing.T) {
	if RiskMedium.AtLeastHigh() {
		t.Fatalf("MEDIUM should not alert")
	}
	if !RiskHigh.AtLeastHigh() || !RiskCritical.AtLeastHigh() {
		t.Fatalf("HIGH and CRITICAL should alert")
	}
}
