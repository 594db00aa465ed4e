package engine

import "github.com/shopspring/decimal"

// EventType enumerates every auditable action the engine records.
type EventType string

const (
	EventTradeInitiated   EventType = "trade.initiated"
	EventTradePaymentSent EventType = "trade.payment_sent"
	EventTradeReleased    EventType = "trade.escrow_released"
	EventTradeCompleted   EventType = "trade.completed"
	EventTradeCancelled   EventType = "trade.cancelled"
	EventTradeExpired     EventType = "trade.expired"
	EventTradeDisputed    EventType = "trade.disputed"
	EventDisputeResolved  EventType = "dispute.resolved"

	EventOfferCreated   EventType = "offer.created"
	EventOfferActivated EventType = "offer.activated"
	EventOfferPaused    EventType = "offer.paused"
	EventOfferCancelled EventType = "offer.cancelled"
	EventOfferRejected  EventType = "offer.rejected"

	EventFundsLocked      EventType = "funds.locked"
	EventFundsUnlocked    EventType = "funds.unlocked"
	EventFundsTransferred EventType = "funds.transferred"

	EventUnauthorizedAccess  EventType = "security.unauthorized_access"
	EventSuspiciousActivity  EventType = "security.suspicious_activity"
	EventRateLimitExceeded   EventType = "security.rate_limited"
	EventAdminResolution     EventType = "admin.resolution"
	EventAdminOfferOverride  EventType = "admin.offer_override"
	EventAdminWalletInspect  EventType = "admin.wallet_inspect"
)

// RiskLevel classifies the severity of an audit event.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// eventRiskLevels is the explicit event-to-risk lookup. Every EventType
// declared above must appear here; TestRiskTableExhaustive enforces it so
// a new event kind cannot silently fall into the wrong tier.
var eventRiskLevels = map[EventType]RiskLevel{
	EventTradeInitiated:   RiskLow,
	EventTradePaymentSent: RiskLow,
	EventTradeReleased:    RiskCritical,
	EventTradeCompleted:   RiskLow,
	EventTradeCancelled:   RiskMedium,
	EventTradeExpired:     RiskMedium,
	EventTradeDisputed:    RiskHigh,
	EventDisputeResolved:  RiskHigh,

	EventOfferCreated:   RiskLow,
	EventOfferActivated: RiskLow,
	EventOfferPaused:    RiskLow,
	EventOfferCancelled: RiskMedium,
	EventOfferRejected:  RiskMedium,

	EventFundsLocked:      RiskMedium,
	EventFundsUnlocked:    RiskMedium,
	EventFundsTransferred: RiskCritical,

	EventUnauthorizedAccess: RiskCritical,
	EventSuspiciousActivity: RiskHigh,
	EventRateLimitExceeded:  RiskMedium,
	EventAdminResolution:    RiskHigh,
	EventAdminOfferOverride: RiskHigh,
	EventAdminWalletInspect: RiskMedium,
}

// KnownEventTypes returns every declared event type.
func KnownEventTypes() []EventType {
	out := make([]EventType, 0, len(eventRiskLevels))
	for et := range eventRiskLevels {
		out = append(out, et)
	}
	return out
}

// ClassifyRisk derives a risk level from the event type and, when the event
// carries an amount, escalates to at least MEDIUM above the configured
// threshold. Unknown event types classify HIGH so a missing table entry is
// loud rather than quietly low-risk.
func ClassifyRisk(event EventType, amount decimal.Decimal, largeAmountThreshold decimal.Decimal) RiskLevel {
	level, ok := eventRiskLevels[event]
	if !ok {
		return RiskHigh
	}
	if amount.GreaterThan(largeAmountThreshold) && riskRank[level] < riskRank[RiskMedium] {
		return RiskMedium
	}
	return level
}

// AtLeastHigh reports whether a level should trigger a security alert.
func (r RiskLevel) AtLeastHigh() bool {
	return riskRank[r] >= riskRank[RiskHigh]
}
