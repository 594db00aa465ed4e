package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/audit"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/engine"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/notify"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/storage"
)

type TradeStore interface {
	InitiateTrade(ctx context.Context, req storage.InitiateTradeRequest) (*storage.InitiateTradeResult, error)
	TransitionTrade(ctx context.Context, req storage.TransitionTradeRequest) (*storage.TransitionTradeResult, error)
	ExpireOverdueTrades(ctx context.Context, now time.Time, limit int) ([]*storage.Trade, error)
	GetTrade(ctx context.Context, id uuid.UUID) (*storage.Trade, error)
	ListTradesForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*storage.Trade, error)
	GetOpenDispute(ctx context.Context, tradeID uuid.UUID) (*storage.Dispute, error)
	GetWallet(ctx context.Context, userID uuid.UUID, currency, walletType string) (storage.Wallet, error)
	CreateOffer(ctx context.Context, req storage.CreateOfferRequest) (*storage.Offer, error)
	TransitionOffer(ctx context.Context, req storage.TransitionOfferRequest) (*storage.Offer, error)
	GetOffer(ctx context.Context, id uuid.UUID) (*storage.Offer, error)
	ListOpenOffers(ctx context.Context, filter storage.OfferFilter) ([]*storage.Offer, error)
	ListAuditByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]storage.AuditEntry, error)
}

type PriceSource interface {
	MarketPrice(ctx context.Context, currency string) (decimal.Decimal, bool)
}

type AuditRecorder interface {
	RecordBatch(ctx context.Context, events []audit.Event)
}

type Notifier interface {
	Dispatch(ctx context.Context, n notify.Notification) error
}

// EscrowService is the orchestration layer above the transactional store.
// Audit entries and participant notifications run after commit and never
// fail the request that produced them.
type EscrowService struct {
	store    TradeStore
	prices   PriceSource
	recorder AuditRecorder
	notifier Notifier
	limits   engine.Limits
	logger   *slog.Logger
	metrics  *Metrics

	sideEffectTimeout time.Duration
	wg                sync.WaitGroup
}

func NewEscrowService(store TradeStore, prices PriceSource, recorder AuditRecorder, notifier Notifier, limits engine.Limits, logger *slog.Logger, metrics *Metrics) *EscrowService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EscrowService{
		store:             store,
		prices:            prices,
		recorder:          recorder,
		notifier:          notifier,
		limits:            limits,
		logger:            logger,
		metrics:           metrics,
		sideEffectTimeout: 10 * time.Second,
	}
}

// Wait blocks until in-flight post-commit side effects finish. Called on
// shutdown so audit entries and notifications are not cut off mid-write.
func (s *EscrowService) Wait() {
	s.wg.Wait()
}

type InitiateTradeInput struct {
	OfferID         uuid.UUID
	ActorID         uuid.UUID
	Amount          decimal.Decimal
	PaymentMethodID uuid.UUID
	Message         string
}

// InitiateTrade resolves the offer price, opens the trade, and locks the
// seller's escrow. Margin offers resolve against the market price feed
// before the store transaction opens.
func (s *EscrowService) InitiateTrade(ctx context.Context, in InitiateTradeInput) (*storage.InitiateTradeResult, error) {
	defer s.metrics.ObserveDuration("initiate_trade", time.Now())

	message, err := s.limits.SanitizeMessage(in.Message)
	if err != nil {
		return nil, err
	}

	offer, err := s.store.GetOffer(ctx, in.OfferID)
	if err != nil {
		return nil, err
	}
	price, err := s.resolveOfferPrice(ctx, offer)
	if err != nil {
		return nil, err
	}

	result, err := s.store.InitiateTrade(ctx, storage.InitiateTradeRequest{
		OfferID:         in.OfferID,
		ActorID:         in.ActorID,
		Amount:          in.Amount,
		Price:           price,
		PaymentMethodID: in.PaymentMethodID,
		Message:         message,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncTradesInitiated()

	trade := result.Trade
	s.afterCommit(func(ctx context.Context) {
		s.record(ctx, []audit.Event{
			{
				UserID:     in.ActorID,
				EventType:  engine.EventTradeInitiated,
				EntityType: "trade",
				EntityID:   trade.ID,
				Metadata: storage.AuditMetadata{
					NewStatus: string(trade.Status),
					Amount:    trade.Amount,
					Currency:  trade.Currency,
					ActorID:   in.ActorID.String(),
					TradeID:   trade.ID.String(),
					OfferID:   trade.OfferID.String(),
				},
			},
			{
				UserID:     trade.SellerUserID,
				EventType:  engine.EventFundsLocked,
				EntityType: "trade",
				EntityID:   trade.ID,
				Metadata: storage.AuditMetadata{
					Amount:   trade.Amount,
					Currency: trade.Currency,
					TradeID:  trade.ID.String(),
				},
			},
		})
		s.notifyTrade(ctx, engine.EventTradeInitiated, trade, message)
	})

	return result, nil
}

type TransitionTradeInput struct {
	TradeID    uuid.UUID
	Target     engine.TradeStatus
	ActorID    uuid.UUID
	IsAdmin    bool
	Message    string
	Reason     engine.DisputeReason
	Details    string
	Resolution string
}

// TransitionTrade advances a trade and fans out the post-commit side
// effects for the edge that was actually taken. No-op repeats produce no
// side effects.
func (s *EscrowService) TransitionTrade(ctx context.Context, in TransitionTradeInput) (*storage.TransitionTradeResult, error) {
	defer s.metrics.ObserveDuration("transition_trade", time.Now())

	message, err := s.limits.SanitizeMessage(in.Message)
	if err != nil {
		return nil, err
	}
	details, err := s.limits.SanitizeMessage(in.Details)
	if err != nil {
		return nil, err
	}

	result, err := s.store.TransitionTrade(ctx, storage.TransitionTradeRequest{
		TradeID:    in.TradeID,
		Target:     in.Target,
		ActorID:    in.ActorID,
		IsAdmin:    in.IsAdmin,
		Message:    message,
		Reason:     in.Reason,
		Details:    details,
		Resolution: in.Resolution,
	})
	if err != nil {
		s.metrics.IncTradeTransition(string(in.Target), "error")
		return nil, err
	}
	s.metrics.IncTradeTransition(string(in.Target), "ok")

	if result.NoOp {
		return result, nil
	}

	events := s.transitionAuditEvents(in, result)
	trade := result.Trade
	notifyEvent := transitionNotifyEvent(result.Previous, in.Target)
	s.afterCommit(func(ctx context.Context) {
		s.record(ctx, events)
		s.notifyTrade(ctx, notifyEvent, trade, message)
	})

	return result, nil
}

// ExpireOverdueTrades runs one sweep pass and reports how many trades it
// expired.
func (s *EscrowService) ExpireOverdueTrades(ctx context.Context, now time.Time, limit int) (int, error) {
	defer s.metrics.ObserveDuration("expire_sweep", time.Now())

	expired, err := s.store.ExpireOverdueTrades(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	s.metrics.AddTradesExpired(len(expired))

	for _, trade := range expired {
		trade := trade
		s.afterCommit(func(ctx context.Context) {
			s.record(ctx, []audit.Event{
				{
					UserID:     trade.SellerUserID,
					EventType:  engine.EventTradeExpired,
					EntityType: "trade",
					EntityID:   trade.ID,
					Metadata: storage.AuditMetadata{
						PreviousStatus: string(engine.TradePending),
						NewStatus:      string(engine.TradeExpired),
						Amount:         trade.Amount,
						Currency:       trade.Currency,
						TradeID:        trade.ID.String(),
					},
				},
				{
					UserID:     trade.SellerUserID,
					EventType:  engine.EventFundsUnlocked,
					EntityType: "trade",
					EntityID:   trade.ID,
					Metadata: storage.AuditMetadata{
						Amount:   trade.Amount,
						Currency: trade.Currency,
						TradeID:  trade.ID.String(),
					},
				},
			})
			s.notifyTrade(ctx, engine.EventTradeExpired, trade, "trade expired before payment was confirmed")
		})
	}
	return len(expired), nil
}

// GetTrade returns a trade to one of its participants or an admin. A
// non-participant request is refused and audited.
func (s *EscrowService) GetTrade(ctx context.Context, actorID uuid.UUID, isAdmin bool, tradeID uuid.UUID) (*storage.Trade, error) {
	trade, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && actorID != trade.BuyerUserID && actorID != trade.SellerUserID {
		s.recordUnauthorized(actorID, "trade", tradeID)
		return nil, fmt.Errorf("%w: actor is not a trade participant", engine.ErrForbidden)
	}
	return trade, nil
}

func (s *EscrowService) ListTradesForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*storage.Trade, error) {
	return s.store.ListTradesForUser(ctx, userID, limit)
}

func (s *EscrowService) GetOpenDispute(ctx context.Context, actorID uuid.UUID, isAdmin bool, tradeID uuid.UUID) (*storage.Dispute, error) {
	if _, err := s.GetTrade(ctx, actorID, isAdmin, tradeID); err != nil {
		return nil, err
	}
	return s.store.GetOpenDispute(ctx, tradeID)
}

// GetWallet returns a wallet to its owner or an admin. Admin reads of
// another user's wallet are audited.
func (s *EscrowService) GetWallet(ctx context.Context, actorID, ownerID uuid.UUID, currency, walletType string, isAdmin bool) (storage.Wallet, error) {
	if actorID != ownerID {
		if !isAdmin {
			s.recordUnauthorized(actorID, "wallet", ownerID)
			return storage.Wallet{}, fmt.Errorf("%w: wallet belongs to another user", engine.ErrForbidden)
		}
		s.afterCommit(func(ctx context.Context) {
			s.record(ctx, []audit.Event{{
				UserID:        actorID,
				EventType:     engine.EventAdminWalletInspect,
				EntityType:    "wallet",
				EntityID:      ownerID,
				IsAdminAction: true,
				Metadata: storage.AuditMetadata{
					ActorID:  actorID.String(),
					Currency: currency,
				},
			}})
		})
	}
	return s.store.GetWallet(ctx, ownerID, currency, walletType)
}

// CreateOffer sanitizes the terms and stores the offer as a draft.
func (s *EscrowService) CreateOffer(ctx context.Context, req storage.CreateOfferRequest) (*storage.Offer, error) {
	defer s.metrics.ObserveDuration("create_offer", time.Now())

	if strings.TrimSpace(req.Terms) != "" {
		terms, err := s.limits.SanitizeTerms(req.Terms)
		if err != nil {
			return nil, err
		}
		req.Terms = terms
	}

	offer, err := s.store.CreateOffer(ctx, req)
	if err != nil {
		return nil, err
	}
	s.metrics.IncOffersCreated()

	s.afterCommit(func(ctx context.Context) {
		s.record(ctx, []audit.Event{{
			UserID:     offer.OwnerUserID,
			EventType:  engine.EventOfferCreated,
			EntityType: "offer",
			EntityID:   offer.ID,
			Metadata: storage.AuditMetadata{
				NewStatus: string(offer.Status),
				Amount:    offer.AmountRemaining,
				Currency:  offer.Currency,
				OfferID:   offer.ID.String(),
			},
		}})
	})
	return offer, nil
}

func (s *EscrowService) TransitionOffer(ctx context.Context, req storage.TransitionOfferRequest) (*storage.Offer, error) {
	defer s.metrics.ObserveDuration("transition_offer", time.Now())

	offer, err := s.store.TransitionOffer(ctx, req)
	if err != nil {
		return nil, err
	}

	event, ok := offerAuditEvent(req, offer)
	if ok {
		s.afterCommit(func(ctx context.Context) {
			s.record(ctx, []audit.Event{event})
		})
	}
	return offer, nil
}

func (s *EscrowService) GetOffer(ctx context.Context, id uuid.UUID) (*storage.Offer, error) {
	return s.store.GetOffer(ctx, id)
}

func (s *EscrowService) ListOpenOffers(ctx context.Context, filter storage.OfferFilter) ([]*storage.Offer, error) {
	return s.store.ListOpenOffers(ctx, filter)
}

// AuditTrail returns the audit entries recorded against an entity. Admin
// only; a refused read is itself audited.
func (s *EscrowService) AuditTrail(ctx context.Context, actorID uuid.UUID, isAdmin bool, entityType string, entityID uuid.UUID, limit int) ([]storage.AuditEntry, error) {
	if !isAdmin {
		s.recordUnauthorized(actorID, entityType, entityID)
		return nil, fmt.Errorf("%w: audit trail is admin only", engine.ErrForbidden)
	}
	return s.store.ListAuditByEntity(ctx, entityType, entityID, limit)
}

func (s *EscrowService) resolveOfferPrice(ctx context.Context, offer *storage.Offer) (decimal.Decimal, error) {
	cfg := engine.PriceConfig{Model: offer.PriceModel, Value: offer.PriceValue}
	var market *decimal.Decimal
	if offer.PriceModel == engine.PriceMargin {
		if s.prices == nil {
			return decimal.Zero, fmt.Errorf("%w: no market price source configured", engine.ErrInvalidPriceConfig)
		}
		price, ok := s.prices.MarketPrice(ctx, offer.Currency)
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: no market price for %s", engine.ErrInvalidPriceConfig, offer.Currency)
		}
		market = &price
	}
	return engine.ResolvePrice(cfg, market)
}

func (s *EscrowService) transitionAuditEvents(in TransitionTradeInput, result *storage.TransitionTradeResult) []audit.Event {
	trade := result.Trade
	meta := storage.AuditMetadata{
		PreviousStatus: string(result.Previous),
		NewStatus:      string(trade.Status),
		Amount:         trade.Amount,
		Currency:       trade.Currency,
		ActorID:        in.ActorID.String(),
		TradeID:        trade.ID.String(),
	}
	base := audit.Event{
		UserID:        in.ActorID,
		EntityType:    "trade",
		EntityID:      trade.ID,
		Metadata:      meta,
		IsAdminAction: in.IsAdmin,
	}

	resolvedDispute := result.Dispute != nil && result.Dispute.Status == storage.DisputeResolved

	var events []audit.Event
	switch in.Target {
	case engine.TradePaymentSent:
		event := base
		event.EventType = engine.EventTradePaymentSent
		events = append(events, event)

	case engine.TradeEscrowReleased:
		event := base
		event.EventType = engine.EventTradeReleased
		events = append(events, event)
		transfer := base
		transfer.EventType = engine.EventFundsTransferred
		events = append(events, transfer)

	case engine.TradeCompleted:
		event := base
		if resolvedDispute {
			event.EventType = engine.EventAdminResolution
			event.Metadata.Resolution = result.Dispute.Resolution
		} else {
			event.EventType = engine.EventTradeCompleted
		}
		events = append(events, event)

	case engine.TradeCancelled:
		event := base
		if resolvedDispute {
			event.EventType = engine.EventAdminResolution
			event.Metadata.Resolution = result.Dispute.Resolution
		} else {
			event.EventType = engine.EventTradeCancelled
		}
		events = append(events, event)
		if !trade.FundsReleased() {
			unlock := base
			unlock.EventType = engine.EventFundsUnlocked
			events = append(events, unlock)
		}

	case engine.TradeDisputed:
		event := base
		event.EventType = engine.EventTradeDisputed
		if result.Dispute != nil {
			event.Metadata.DisputeReason = string(result.Dispute.Reason)
		}
		events = append(events, event)
	}
	return events
}

func transitionNotifyEvent(prev, target engine.TradeStatus) engine.EventType {
	switch target {
	case engine.TradePaymentSent:
		return engine.EventTradePaymentSent
	case engine.TradeEscrowReleased:
		return engine.EventTradeReleased
	case engine.TradeCompleted:
		if prev == engine.TradeDisputed {
			return engine.EventDisputeResolved
		}
		return engine.EventTradeCompleted
	case engine.TradeCancelled:
		if prev == engine.TradeDisputed {
			return engine.EventDisputeResolved
		}
		return engine.EventTradeCancelled
	case engine.TradeDisputed:
		return engine.EventTradeDisputed
	}
	return engine.EventType(fmt.Sprintf("trade.%s", strings.ToLower(string(target))))
}

func offerAuditEvent(req storage.TransitionOfferRequest, offer *storage.Offer) (audit.Event, bool) {
	var eventType engine.EventType
	switch req.Target {
	case engine.OfferActive:
		eventType = engine.EventOfferActivated
	case engine.OfferPaused:
		eventType = engine.EventOfferPaused
	case engine.OfferCancelled:
		eventType = engine.EventOfferCancelled
	case engine.OfferRejected:
		eventType = engine.EventOfferRejected
	default:
		return audit.Event{}, false
	}

	if req.IsAdmin && req.ActorID != offer.OwnerUserID &&
		(req.Target == engine.OfferPaused || req.Target == engine.OfferCancelled) {
		eventType = engine.EventAdminOfferOverride
	}

	return audit.Event{
		UserID:        req.ActorID,
		EventType:     eventType,
		EntityType:    "offer",
		EntityID:      offer.ID,
		IsAdminAction: req.IsAdmin,
		Metadata: storage.AuditMetadata{
			NewStatus: string(offer.Status),
			Currency:  offer.Currency,
			ActorID:   req.ActorID.String(),
			OfferID:   offer.ID.String(),
		},
	}, true
}

func (s *EscrowService) notifyTrade(ctx context.Context, event engine.EventType, trade *storage.Trade, message string) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Dispatch(ctx, notify.Notification{
		EventType:  event,
		Recipients: []uuid.UUID{trade.BuyerUserID, trade.SellerUserID},
		TradeID:    trade.ID,
		OfferID:    trade.OfferID,
		Status:     string(trade.Status),
		Amount:     trade.Amount,
		Currency:   trade.Currency,
		Message:    message,
	})
	if err != nil {
		s.logger.Warn("trade notification failed", "trade_id", trade.ID, "event_type", string(event), "error", err)
	}
}

func (s *EscrowService) recordUnauthorized(actorID uuid.UUID, entityType string, entityID uuid.UUID) {
	s.afterCommit(func(ctx context.Context) {
		s.record(ctx, []audit.Event{{
			UserID:     actorID,
			EventType:  engine.EventUnauthorizedAccess,
			EntityType: entityType,
			EntityID:   entityID,
			Metadata: storage.AuditMetadata{
				ActorID: actorID.String(),
			},
		}})
	})
}

func (s *EscrowService) record(ctx context.Context, events []audit.Event) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordBatch(ctx, events)
}

// afterCommit runs fn on its own context so a cancelled request cannot cut
// off side effects for work that already committed.
func (s *EscrowService) afterCommit(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}
