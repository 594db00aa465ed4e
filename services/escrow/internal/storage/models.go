package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/engine"
)

type Wallet struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Currency   string
	WalletType string
	Balance    decimal.Decimal
	InOrder    decimal.Decimal
	UpdatedAt  time.Time
}

// Available is the spendable portion of the balance.
func (w Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.InOrder)
}

type PaymentMethod struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Name      string
	Available bool
	CreatedAt time.Time
}

type Offer struct {
	ID                      uuid.UUID
	OwnerUserID             uuid.UUID
	Direction               engine.OfferDirection
	Currency                string
	WalletType              string
	AmountRemaining         decimal.Decimal
	AmountMin               decimal.Decimal
	AmountMax               decimal.Decimal
	PriceModel              engine.PriceModel
	PriceValue              decimal.Decimal
	AllowedPaymentMethodIDs []uuid.UUID
	Status                  engine.OfferStatus
	Terms                   string
	AutoCancelMinutes       int
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (o Offer) AllowsPaymentMethod(id uuid.UUID) bool {
	for _, allowed := range o.AllowedPaymentMethodIDs {
		if allowed == id {
			return true
		}
	}
	return false
}

type Trade struct {
	ID               uuid.UUID
	OfferID          uuid.UUID
	BuyerUserID      uuid.UUID
	SellerUserID     uuid.UUID
	Amount           decimal.Decimal
	Price            decimal.Decimal
	TotalAmount      decimal.Decimal
	Currency         string
	WalletType       string
	PaymentMethodID  uuid.UUID
	Status           engine.TradeStatus
	BuyerFee         decimal.Decimal
	SellerFee        decimal.Decimal
	EscrowFee        decimal.Decimal
	PaymentSentAt    *time.Time
	EscrowReleasedAt *time.Time
	CompletedAt      *time.Time
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Timeline         []TimelineEntry
}

// FundsReleased reports whether the escrowed amount has already moved to
// the buyer. It gates which side effects a later cancellation may apply.
func (t Trade) FundsReleased() bool {
	return t.EscrowReleasedAt != nil
}

type TimelineEntry struct {
	ID        int64
	TradeID   uuid.UUID
	Event     engine.EventType
	ActorID   uuid.UUID
	Message   string
	CreatedAt time.Time
}

type Dispute struct {
	ID           uuid.UUID
	TradeID      uuid.UUID
	ReporterID   uuid.UUID
	Reason       engine.DisputeReason
	Details      string
	Status       string
	Priority     string
	Resolution   string
	ResolvedByID *uuid.UUID
	ResolvedAt   *time.Time
	CreatedAt    time.Time
}

const (
	DisputeOpen     = "OPEN"
	DisputeResolved = "RESOLVED"
)

// AuditMetadata is the structured payload attached to an audit entry.
// Fields are optional per event kind; zero values are omitted from the
// stored JSON.
type AuditMetadata struct {
	PreviousStatus string          `json:"previous_status,omitempty"`
	NewStatus      string          `json:"new_status,omitempty"`
	Amount         decimal.Decimal `json:"amount,omitempty"`
	Currency       string          `json:"currency,omitempty"`
	ActorID        string          `json:"actor_id,omitempty"`
	TradeID        string          `json:"trade_id,omitempty"`
	OfferID        string          `json:"offer_id,omitempty"`
	DisputeReason  string          `json:"dispute_reason,omitempty"`
	Resolution     string          `json:"resolution,omitempty"`
	Note           string          `json:"note,omitempty"`
}

type AuditEntry struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	EventType     engine.EventType
	EntityType    string
	EntityID      uuid.UUID
	Metadata      AuditMetadata
	RiskLevel     engine.RiskLevel
	IsAdminAction bool
	CreatedAt     time.Time
}

type InitiateTradeRequest struct {
	OfferID uuid.UUID
	ActorID uuid.UUID
	Amount  decimal.Decimal
	// Price is the already-resolved final price; margin resolution against
	// the market feed happens before the transaction opens.
	Price           decimal.Decimal
	PaymentMethodID uuid.UUID
	Message         string
}

type InitiateTradeResult struct {
	Trade *Trade
	Offer *Offer
}

type TransitionTradeRequest struct {
	TradeID uuid.UUID
	Target  engine.TradeStatus
	ActorID uuid.UUID
	IsAdmin bool
	Message string
	// Reason and Details apply to DISPUTED targets.
	Reason  engine.DisputeReason
	Details string
	// Resolution applies to admin resolution out of DISPUTED.
	Resolution string
}

type TransitionTradeResult struct {
	Trade    *Trade
	Previous engine.TradeStatus
	// NoOp is set when the requested target equals the current status;
	// retried client requests observe the committed state unchanged.
	NoOp    bool
	Dispute *Dispute
}

type CreateOfferRequest struct {
	OwnerUserID             uuid.UUID
	Direction               engine.OfferDirection
	Currency                string
	WalletType              string
	Amount                  decimal.Decimal
	AmountMin               decimal.Decimal
	AmountMax               decimal.Decimal
	PriceModel              engine.PriceModel
	PriceValue              decimal.Decimal
	AllowedPaymentMethodIDs []uuid.UUID
	Terms                   string
	AutoCancelMinutes       int
}

type TransitionOfferRequest struct {
	OfferID uuid.UUID
	Target  engine.OfferStatus
	ActorID uuid.UUID
	IsAdmin bool
}

type OfferFilter struct {
	Currency  string
	Direction engine.OfferDirection
	Limit     int
}
