package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/engine"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/storage"
)

// seedTestData adds in-flight trades on top of the base fixtures: one
// trade awaiting payment confirmation and one open dispute for admin
// console testing.
func seedTestData(ctx context.Context, store *storage.Store, offerID, pmID uuid.UUID) error {
	paid, err := store.InitiateTrade(ctx, storage.InitiateTradeRequest{
		OfferID:         offerID,
		ActorID:         buyerID,
		Amount:          decimal.NewFromInt(500),
		Price:           decimal.RequireFromString("1.02"),
		PaymentMethodID: pmID,
		Message:         "sending via bank transfer shortly",
	})
	if err != nil {
		return err
	}
	if _, err := store.TransitionTrade(ctx, storage.TransitionTradeRequest{
		TradeID: paid.Trade.ID,
		Target:  engine.TradePaymentSent,
		ActorID: buyerID,
		Message: "payment sent, reference #4711",
	}); err != nil {
		return err
	}

	disputed, err := store.InitiateTrade(ctx, storage.InitiateTradeRequest{
		OfferID:         offerID,
		ActorID:         buyerID,
		Amount:          decimal.NewFromInt(250),
		Price:           decimal.RequireFromString("1.02"),
		PaymentMethodID: pmID,
	})
	if err != nil {
		return err
	}
	if _, err := store.TransitionTrade(ctx, storage.TransitionTradeRequest{
		TradeID: disputed.Trade.ID,
		Target:  engine.TradePaymentSent,
		ActorID: buyerID,
	}); err != nil {
		return err
	}
	if _, err := store.TransitionTrade(ctx, storage.TransitionTradeRequest{
		TradeID: disputed.Trade.ID,
		Target:  engine.TradeDisputed,
		ActorID: sellerID,
		Reason:  engine.DisputePaymentNotReceived,
		Details: "no incoming transfer after 40 minutes",
	}); err != nil {
		return err
	}

	return nil
}
