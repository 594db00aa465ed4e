package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/audit"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/engine"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/notify"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/storage"
)

type fakeStore struct {
	initiateReq      *storage.InitiateTradeRequest
	initiateResult   *storage.InitiateTradeResult
	initiateErr      error
	transitionReq    *storage.TransitionTradeRequest
	transitionResult *storage.TransitionTradeResult
	transitionErr    error
	expired          []*storage.Trade
	trade            *storage.Trade
	offer            *storage.Offer
	createOfferReq   *storage.CreateOfferRequest
	wallet           storage.Wallet
}

func (f *fakeStore) InitiateTrade(_ context.Context, req storage.InitiateTradeRequest) (*storage.InitiateTradeResult, error) {
	f.initiateReq = &req
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	return f.initiateResult, nil
}

func (f *fakeStore) TransitionTrade(_ context.Context, req storage.TransitionTradeRequest) (*storage.TransitionTradeResult, error) {
	f.transitionReq = &req
	if f.transitionErr != nil {
		return nil, f.transitionErr
	}
	return f.transitionResult, nil
}

func (f *fakeStore) ExpireOverdueTrades(_ context.Context, _ time.Time, _ int) ([]*storage.Trade, error) {
	return f.expired, nil
}

func (f *fakeStore) GetTrade(_ context.Context, _ uuid.UUID) (*storage.Trade, error) {
	if f.trade == nil {
		return nil, engine.ErrTradeNotFound
	}
	return f.trade, nil
}

func (f *fakeStore) ListTradesForUser(_ context.Context, _ uuid.UUID, _ int) ([]*storage.Trade, error) {
	return nil, nil
}

func (f *fakeStore) GetOpenDispute(_ context.Context, _ uuid.UUID) (*storage.Dispute, error) {
	return nil, engine.ErrDisputeNotFound
}

func (f *fakeStore) GetWallet(_ context.Context, _ uuid.UUID, _, _ string) (storage.Wallet, error) {
	return f.wallet, nil
}

func (f *fakeStore) CreateOffer(_ context.Context, req storage.CreateOfferRequest) (*storage.Offer, error) {
	f.createOfferReq = &req
	return f.offer, nil
}

func (f *fakeStore) TransitionOffer(_ context.Context, _ storage.TransitionOfferRequest) (*storage.Offer, error) {
	return f.offer, nil
}

func (f *fakeStore) GetOffer(_ context.Context, _ uuid.UUID) (*storage.Offer, error) {
	if f.offer == nil {
		return nil, engine.ErrOfferNotFound
	}
	return f.offer, nil
}

func (f *fakeStore) ListOpenOffers(_ context.Context, _ storage.OfferFilter) ([]*storage.Offer, error) {
	return nil, nil
}

func (f *fakeStore) ListAuditByEntity(_ context.Context, _ string, _ uuid.UUID, _ int) ([]storage.AuditEntry, error) {
	return nil, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	batches [][]audit.Event
}

func (f *fakeRecorder) RecordBatch(_ context.Context, events []audit.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, events)
}

func (f *fakeRecorder) all() []audit.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []audit.Event
	for _, batch := range f.batches {
		out = append(out, batch...)
	}
	return out
}

func (f *fakeRecorder) find(eventType engine.EventType) (audit.Event, bool) {
	for _, event := range f.all() {
		if event.EventType == eventType {
			return event, true
		}
	}
	return audit.Event{}, false
}

type fakeNotifier struct {
	mu            sync.Mutex
	err           error
	notifications []notify.Notification
}

func (f *fakeNotifier) Dispatch(_ context.Context, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.notifications = append(f.notifications, n)
	return nil
}

func (f *fakeNotifier) sent() []notify.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Notification(nil), f.notifications...)
}

type fakePrices struct {
	prices map[string]decimal.Decimal
}

func (f *fakePrices) MarketPrice(_ context.Context, currency string) (decimal.Decimal, bool) {
	price, ok := f.prices[currency]
	return price, ok
}

func newTestService(store *fakeStore, prices *fakePrices, recorder *fakeRecorder, notifier *fakeNotifier) *EscrowService {
	return NewEscrowService(store, prices, recorder, notifier, engine.DefaultLimits(), slog.Default(), nil)
}

func fixedOffer(owner uuid.UUID) *storage.Offer {
	return &storage.Offer{
		ID:          uuid.New(),
		OwnerUserID: owner,
		Direction:   engine.DirectionSell,
		Currency:    "USDT",
		PriceModel:  engine.PriceFixed,
		PriceValue:  decimal.RequireFromString("1.05"),
		Status:      engine.OfferActive,
	}
}

func tradeFixture(status engine.TradeStatus) *storage.Trade {
	return &storage.Trade{
		ID:           uuid.New(),
		OfferID:      uuid.New(),
		BuyerUserID:  uuid.New(),
		SellerUserID: uuid.New(),
		Amount:       decimal.NewFromInt(100),
		Price:        decimal.NewFromInt(1),
		Currency:     "USDT",
		Status:       status,
	}
}

func TestInitiateTradeFixedPrice(t *testing.T) {
	seller := uuid.New()
	buyer := uuid.New()
	offer := fixedOffer(seller)
	trade := tradeFixture(engine.TradePending)
	trade.BuyerUserID = buyer
	trade.SellerUserID = seller
	trade.OfferID = offer.ID

	store := &fakeStore{
		offer:          offer,
		initiateResult: &storage.InitiateTradeResult{Trade: trade, Offer: offer},
	}
	recorder := &fakeRecorder{}
	notifier := &fakeNotifier{}
	svc := newTestService(store, &fakePrices{}, recorder, notifier)

	result, err := svc.InitiateTrade(context.Background(), InitiateTradeInput{
		OfferID: offer.ID,
		ActorID: buyer,
		Amount:  decimal.NewFromInt(100),
		Message: "<b>paying via bank</b>",
	})
	if err != nil {
		t.Fatalf("InitiateTrade: %v", err)
	}
	if result.Trade.ID != trade.ID {
		t.Fatalf("unexpected trade in result")
	}
	if !store.initiateReq.Price.Equal(decimal.RequireFromString("1.05")) {
		t.Fatalf("resolved price = %s, want 1.05", store.initiateReq.Price)
	}
	if store.initiateReq.Message != "paying via bank" {
		t.Fatalf("message not sanitized: %q", store.initiateReq.Message)
	}

	svc.Wait()
	if _, ok := recorder.find(engine.EventTradeInitiated); !ok {
		t.Fatalf("missing trade.initiated audit entry")
	}
	if _, ok := recorder.find(engine.EventFundsLocked); !ok {
		t.Fatalf("missing funds.locked audit entry")
	}
	sent := notifier.sent()
	if len(sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sent))
	}
	if len(sent[0].Recipients) != 2 {
		t.Fatalf("recipients = %v, want buyer and seller", sent[0].Recipients)
	}
}

func TestInitiateTradeMarginPrice(t *testing.T) {
	offer := fixedOffer(uuid.New())
	offer.PriceModel = engine.PriceMargin
	offer.PriceValue = decimal.NewFromInt(2)
	trade := tradeFixture(engine.TradePending)

	store := &fakeStore{
		offer:          offer,
		initiateResult: &storage.InitiateTradeResult{Trade: trade, Offer: offer},
	}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(50000)}}
	svc := newTestService(store, prices, &fakeRecorder{}, &fakeNotifier{})

	if _, err := svc.InitiateTrade(context.Background(), InitiateTradeInput{
		OfferID: offer.ID,
		ActorID: uuid.New(),
		Amount:  decimal.NewFromInt(100),
	}); err != nil {
		t.Fatalf("InitiateTrade: %v", err)
	}
	if !store.initiateReq.Price.Equal(decimal.NewFromInt(51000)) {
		t.Fatalf("resolved margin price = %s, want 51000", store.initiateReq.Price)
	}
	svc.Wait()
}

func TestInitiateTradeMarginWithoutMarketPrice(t *testing.T) {
	offer := fixedOffer(uuid.New())
	offer.PriceModel = engine.PriceMargin
	offer.PriceValue = decimal.NewFromInt(2)

	store := &fakeStore{offer: offer}
	svc := newTestService(store, &fakePrices{}, &fakeRecorder{}, &fakeNotifier{})

	_, err := svc.InitiateTrade(context.Background(), InitiateTradeInput{
		OfferID: offer.ID,
		ActorID: uuid.New(),
		Amount:  decimal.NewFromInt(100),
	})
	if !errors.Is(err, engine.ErrInvalidPriceConfig) {
		t.Fatalf("expected ErrInvalidPriceConfig, got %v", err)
	}
	if store.initiateReq != nil {
		t.Fatalf("store should not be called without a market price")
	}
}

func TestTransitionNoOpSkipsSideEffects(t *testing.T) {
	trade := tradeFixture(engine.TradePaymentSent)
	store := &fakeStore{
		transitionResult: &storage.TransitionTradeResult{Trade: trade, Previous: trade.Status, NoOp: true},
	}
	recorder := &fakeRecorder{}
	notifier := &fakeNotifier{}
	svc := newTestService(store, &fakePrices{}, recorder, notifier)

	result, err := svc.TransitionTrade(context.Background(), TransitionTradeInput{
		TradeID: trade.ID,
		Target:  engine.TradePaymentSent,
		ActorID: trade.BuyerUserID,
	})
	if err != nil {
		t.Fatalf("TransitionTrade: %v", err)
	}
	if !result.NoOp {
		t.Fatalf("expected no-op result")
	}

	svc.Wait()
	if len(recorder.all()) != 0 {
		t.Fatalf("no-op should not audit, got %d events", len(recorder.all()))
	}
	if len(notifier.sent()) != 0 {
		t.Fatalf("no-op should not notify")
	}
}

func TestReleaseTransitionAuditsTransfer(t *testing.T) {
	trade := tradeFixture(engine.TradeEscrowReleased)
	now := time.Now()
	trade.EscrowReleasedAt = &now
	store := &fakeStore{
		transitionResult: &storage.TransitionTradeResult{Trade: trade, Previous: engine.TradePaymentSent},
	}
	recorder := &fakeRecorder{}
	notifier := &fakeNotifier{}
	svc := newTestService(store, &fakePrices{}, recorder, notifier)

	if _, err := svc.TransitionTrade(context.Background(), TransitionTradeInput{
		TradeID: trade.ID,
		Target:  engine.TradeEscrowReleased,
		ActorID: trade.SellerUserID,
	}); err != nil {
		t.Fatalf("TransitionTrade: %v", err)
	}

	svc.Wait()
	if _, ok := recorder.find(engine.EventTradeReleased); !ok {
		t.Fatalf("missing trade.escrow_released audit entry")
	}
	if _, ok := recorder.find(engine.EventFundsTransferred); !ok {
		t.Fatalf("missing funds.transferred audit entry")
	}
	sent := notifier.sent()
	if len(sent) != 1 || sent[0].EventType != engine.EventTradeReleased {
		t.Fatalf("notifications = %+v", sent)
	}
}

func TestAdminResolutionAudit(t *testing.T) {
	trade := tradeFixture(engine.TradeCompleted)
	dispute := &storage.Dispute{
		ID:         uuid.New(),
		TradeID:    trade.ID,
		Status:     storage.DisputeResolved,
		Resolution: "release_to_buyer",
	}
	store := &fakeStore{
		transitionResult: &storage.TransitionTradeResult{Trade: trade, Previous: engine.TradeDisputed, Dispute: dispute},
	}
	recorder := &fakeRecorder{}
	notifier := &fakeNotifier{}
	svc := newTestService(store, &fakePrices{}, recorder, notifier)

	admin := uuid.New()
	if _, err := svc.TransitionTrade(context.Background(), TransitionTradeInput{
		TradeID: trade.ID,
		Target:  engine.TradeCompleted,
		ActorID: admin,
		IsAdmin: true,
	}); err != nil {
		t.Fatalf("TransitionTrade: %v", err)
	}

	svc.Wait()
	event, ok := recorder.find(engine.EventAdminResolution)
	if !ok {
		t.Fatalf("missing admin.resolution audit entry")
	}
	if !event.IsAdminAction {
		t.Fatalf("admin resolution must be marked as admin action")
	}
	if event.Metadata.Resolution != "release_to_buyer" {
		t.Fatalf("resolution = %q", event.Metadata.Resolution)
	}
	sent := notifier.sent()
	if len(sent) != 1 || sent[0].EventType != engine.EventDisputeResolved {
		t.Fatalf("notify event = %+v", sent)
	}
}

// A failed notification must never surface to the caller of a committed
// transition.
func TestNotifierFailureDoesNotFailRequest(t *testing.T) {
	trade := tradeFixture(engine.TradePaymentSent)
	store := &fakeStore{
		transitionResult: &storage.TransitionTradeResult{Trade: trade, Previous: engine.TradePending},
	}
	svc := newTestService(store, &fakePrices{}, &fakeRecorder{}, &fakeNotifier{err: errors.New("broker down")})

	if _, err := svc.TransitionTrade(context.Background(), TransitionTradeInput{
		TradeID: trade.ID,
		Target:  engine.TradePaymentSent,
		ActorID: trade.BuyerUserID,
	}); err != nil {
		t.Fatalf("TransitionTrade should not fail on notify error: %v", err)
	}
	svc.Wait()
}

func TestExpireSweepSideEffects(t *testing.T) {
	store := &fakeStore{
		expired: []*storage.Trade{
			tradeFixture(engine.TradeExpired),
			tradeFixture(engine.TradeExpired),
		},
	}
	recorder := &fakeRecorder{}
	notifier := &fakeNotifier{}
	svc := newTestService(store, &fakePrices{}, recorder, notifier)

	count, err := svc.ExpireOverdueTrades(context.Background(), time.Now(), 100)
	if err != nil {
		t.Fatalf("ExpireOverdueTrades: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	svc.Wait()
	expiredEvents := 0
	unlockedEvents := 0
	for _, event := range recorder.all() {
		switch event.EventType {
		case engine.EventTradeExpired:
			expiredEvents++
		case engine.EventFundsUnlocked:
			unlockedEvents++
		}
	}
	if expiredEvents != 2 || unlockedEvents != 2 {
		t.Fatalf("audit events = %d expired / %d unlocked, want 2/2", expiredEvents, unlockedEvents)
	}
	if len(notifier.sent()) != 2 {
		t.Fatalf("notifications = %d, want 2", len(notifier.sent()))
	}
}

func TestGetTradeForbiddenIsAudited(t *testing.T) {
	trade := tradeFixture(engine.TradePending)
	store := &fakeStore{trade: trade}
	recorder := &fakeRecorder{}
	svc := newTestService(store, &fakePrices{}, recorder, &fakeNotifier{})

	outsider := uuid.New()
	_, err := svc.GetTrade(context.Background(), outsider, false, trade.ID)
	if !errors.Is(err, engine.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	svc.Wait()
	event, ok := recorder.find(engine.EventUnauthorizedAccess)
	if !ok {
		t.Fatalf("missing unauthorized access audit entry")
	}
	if event.UserID != outsider {
		t.Fatalf("audit user = %s, want outsider", event.UserID)
	}
}

func TestGetWalletAdminInspectIsAudited(t *testing.T) {
	owner := uuid.New()
	admin := uuid.New()
	store := &fakeStore{wallet: storage.Wallet{UserID: owner, Currency: "USDT"}}
	recorder := &fakeRecorder{}
	svc := newTestService(store, &fakePrices{}, recorder, &fakeNotifier{})

	if _, err := svc.GetWallet(context.Background(), admin, owner, "USDT", "SPOT", true); err != nil {
		t.Fatalf("GetWallet: %v", err)
	}

	svc.Wait()
	event, ok := recorder.find(engine.EventAdminWalletInspect)
	if !ok {
		t.Fatalf("missing admin.wallet_inspect audit entry")
	}
	if !event.IsAdminAction {
		t.Fatalf("wallet inspect must be marked as admin action")
	}
}

func TestGetWalletOwnerNotAudited(t *testing.T) {
	owner := uuid.New()
	store := &fakeStore{wallet: storage.Wallet{UserID: owner, Currency: "USDT"}}
	recorder := &fakeRecorder{}
	svc := newTestService(store, &fakePrices{}, recorder, &fakeNotifier{})

	if _, err := svc.GetWallet(context.Background(), owner, owner, "USDT", "SPOT", false); err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	svc.Wait()
	if len(recorder.all()) != 0 {
		t.Fatalf("owner read should not audit")
	}
}

func TestCreateOfferSanitizesTerms(t *testing.T) {
	offer := fixedOffer(uuid.New())
	store := &fakeStore{offer: offer}
	recorder := &fakeRecorder{}
	svc := newTestService(store, &fakePrices{}, recorder, &fakeNotifier{})

	if _, err := svc.CreateOffer(context.Background(), storage.CreateOfferRequest{
		OwnerUserID: offer.OwnerUserID,
		Direction:   engine.DirectionSell,
		Currency:    "USDT",
		Amount:      decimal.NewFromInt(500),
		AmountMin:   decimal.NewFromInt(10),
		AmountMax:   decimal.NewFromInt(100),
		PriceModel:  engine.PriceFixed,
		PriceValue:  decimal.NewFromInt(1),
		Terms:       "<script>alert(1)</script>bank transfer only, business hours",
	}); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if store.createOfferReq.Terms != "bank transfer only, business hours" {
		t.Fatalf("terms not sanitized: %q", store.createOfferReq.Terms)
	}

	svc.Wait()
	if _, ok := recorder.find(engine.EventOfferCreated); !ok {
		t.Fatalf("missing offer.created audit entry")
	}
}
