package engine

import (
	"math/rand"
	"testing"
)

func TestTradeTransitionTable(t *testing.T) {
	cases := []struct {
		from    TradeStatus
		to      TradeStatus
		allowed bool
	}{
		{TradePending, TradePaymentSent, true},
		{TradePending, TradeCancelled, true},
		{TradePending, TradeEscrowReleased, false},
		{TradePending, TradeCompleted, false},
		{TradePaymentSent, TradeEscrowReleased, true},
		{TradePaymentSent, TradeDisputed, true},
		{TradePaymentSent, TradeCancelled, true},
		{TradePaymentSent, TradeCompleted, false},
		{TradeEscrowReleased, TradeCompleted, true},
		{TradeEscrowReleased, TradeDisputed, true},
		{TradeEscrowReleased, TradeCancelled, false},
		{TradeCompleted, TradeDisputed, true},
		{TradeCompleted, TradePending, false},
		{TradeDisputed, TradeCompleted, true},
		{TradeDisputed, TradeCancelled, true},
		{TradeDisputed, TradePaymentSent, false},
		{TradeCancelled, TradePending, false},
		{TradeExpired, TradePending, false},
	}

	for _, tc := range cases {
		if got := CanTradeTransition(tc.from, tc.to); got != tc.allowed {
			t.Errorf("CanTradeTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestTerminalStatesHaveNoSuccessors(t *testing.T) {
	for _, terminal := range []TradeStatus{TradeCancelled, TradeExpired} {
		for _, next := range TradeStatuses() {
			if CanTradeTransition(terminal, next) {
				t.Errorf("terminal status %s allows transition to %s", terminal, next)
			}
		}
	}
}

// Random transition sequences must only ever advance through table edges.
func TestRandomWalksStayLegal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	statuses := TradeStatuses()

	for i := 0; i < 500; i++ {
		current := TradePending
		for step := 0; step < 10; step++ {
			next := statuses[rng.Intn(len(statuses))]
			if !CanTradeTransition(current, next) {
				continue
			}
			if len(tradeTransitions[current]) == 0 {
				t.Fatalf("walked out of terminal status %s", current)
			}
			current = next
		}
	}
}

func TestOfferTransitionTable(t *testing.T) {
	cases := []struct {
		from    OfferStatus
		to      OfferStatus
		allowed bool
	}{
		{OfferDraft, OfferPendingApproval, true},
		{OfferPendingApproval, OfferActive, true},
		{OfferPendingApproval, OfferRejected, true},
		{OfferActive, OfferPaused, true},
		{OfferPaused, OfferActive, true},
		{OfferActive, OfferCompleted, true},
		{OfferCompleted, OfferActive, false},
		{OfferRejected, OfferActive, false},
		{OfferDraft, OfferActive, false},
	}
	for _, tc := range cases {
		if got := CanOfferTransition(tc.from, tc.to); got != tc.allowed {
			t.Errorf("CanOfferTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestValidStatus(t *testing.T) {
	if !ValidTradeStatus(TradeDisputed) {
		t.Fatalf("expected DISPUTED to be valid")
	}
	if ValidTradeStatus(TradeStatus("SHIPPED")) {
		t.Fatalf("expected unknown status to be invalid")
	}
	if !ValidOfferStatus(OfferPaused) {
		t.Fatalf("expected PAUSED to be valid")
	}
}
