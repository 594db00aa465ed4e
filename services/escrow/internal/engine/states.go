package engine

// TradeStatus is the lifecycle state of an escrow trade.
type TradeStatus string

const (
	TradePending        TradeStatus = "PENDING"
	TradePaymentSent    TradeStatus = "PAYMENT_SENT"
	TradeEscrowReleased TradeStatus = "ESCROW_RELEASED"
	TradeCompleted      TradeStatus = "COMPLETED"
	TradeDisputed       TradeStatus = "DISPUTED"
	TradeCancelled      TradeStatus = "CANCELLED"
	TradeExpired        TradeStatus = "EXPIRED"
)

// OfferStatus is the lifecycle state of an advertised offer.
type OfferStatus string

const (
	OfferDraft           OfferStatus = "DRAFT"
	OfferPendingApproval OfferStatus = "PENDING_APPROVAL"
	OfferActive          OfferStatus = "ACTIVE"
	OfferPaused          OfferStatus = "PAUSED"
	OfferCompleted       OfferStatus = "COMPLETED"
	OfferCancelled       OfferStatus = "CANCELLED"
	OfferRejected        OfferStatus = "REJECTED"
	OfferExpired         OfferStatus = "EXPIRED"
)

// OfferDirection distinguishes offers to buy from offers to sell.
type OfferDirection string

const (
	DirectionBuy  OfferDirection = "BUY"
	DirectionSell OfferDirection = "SELL"
)

// tradeTransitions is the legal-transition adjacency table. COMPLETED lists
// DISPUTED, but that edge is additionally gated by the re-dispute grace
// window; see Limits.WithinGraceWindow.
var tradeTransitions = map[TradeStatus][]TradeStatus{
	TradePending:        {TradePaymentSent, TradeCancelled},
	TradePaymentSent:    {TradeEscrowReleased, TradeDisputed, TradeCancelled},
	TradeEscrowReleased: {TradeCompleted, TradeDisputed},
	TradeCompleted:      {TradeDisputed},
	TradeDisputed:       {TradeCompleted, TradeCancelled},
	TradeCancelled:      {},
	TradeExpired:        {},
}

var offerTransitions = map[OfferStatus][]OfferStatus{
	OfferDraft:           {OfferPendingApproval, OfferCancelled},
	OfferPendingApproval: {OfferActive, OfferRejected, OfferCancelled},
	OfferActive:          {OfferPaused, OfferCompleted, OfferCancelled, OfferExpired},
	OfferPaused:          {OfferActive, OfferCancelled, OfferExpired},
	OfferCompleted:       {},
	OfferCancelled:       {},
	OfferRejected:        {},
	OfferExpired:         {},
}

func CanTradeTransition(current, next TradeStatus) bool {
	for _, allowed := range tradeTransitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}

func CanOfferTransition(current, next OfferStatus) bool {
	for _, allowed := range offerTransitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminalTradeStatus reports whether a trade status has no outgoing edges
// other than the grace-window re-dispute.
func IsTerminalTradeStatus(s TradeStatus) bool {
	switch s {
	case TradeCompleted, TradeCancelled, TradeExpired:
		return true
	}
	return false
}

func IsTerminalOfferStatus(s OfferStatus) bool {
	switch s {
	case OfferCompleted, OfferCancelled, OfferRejected, OfferExpired:
		return true
	}
	return false
}

func ValidTradeStatus(s TradeStatus) bool {
	_, ok := tradeTransitions[s]
	return ok
}

func ValidOfferStatus(s OfferStatus) bool {
	_, ok := offerTransitions[s]
	return ok
}

// TradeStatuses lists every trade status, in lifecycle order.
func TradeStatuses() []TradeStatus {
	return []TradeStatus{
		TradePending,
		TradePaymentSent,
		TradeEscrowReleased,
		TradeCompleted,
		TradeDisputed,
		TradeCancelled,
		TradeExpired,
	}
}
