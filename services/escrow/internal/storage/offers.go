package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/engine"
)

// CreateOffer inserts a new offer in DRAFT. Pricing is validated here so a
// broken margin config fails at creation, not at first trade.
func (s *Store) CreateOffer(ctx context.Context, req CreateOfferRequest) (*Offer, error) {
	if req.OwnerUserID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner_user_id is required", engine.ErrInvalidInput)
	}
	if req.Direction != engine.DirectionBuy && req.Direction != engine.DirectionSell {
		return nil, fmt.Errorf("%w: direction must be BUY or SELL", engine.ErrInvalidInput)
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: offer amount must be positive", engine.ErrInvalidAmount)
	}
	if req.AmountMin.LessThanOrEqual(decimal.Zero) || req.AmountMax.LessThan(req.AmountMin) || req.AmountMax.GreaterThan(req.Amount) {
		return nil, fmt.Errorf("%w: require 0 < min <= max <= amount", engine.ErrInvalidAmount)
	}
	switch req.PriceModel {
	case engine.PriceFixed:
		if req.PriceValue.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("%w: fixed price must be positive", engine.ErrInvalidPriceConfig)
		}
	case engine.PriceMargin:
		// Resolution happens per trade; only the margin bound is static.
		if _, err := engine.ResolvePrice(engine.PriceConfig{Model: engine.PriceMargin, Value: req.PriceValue}, ptr(decimal.NewFromInt(1))); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown price model %q", engine.ErrInvalidPriceConfig, req.PriceModel)
	}
	if len(req.AllowedPaymentMethodIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one payment method is required", engine.ErrInvalidInput)
	}

	now := time.Now().UTC()
	offer := &Offer{
		ID:                      uuid.New(),
		OwnerUserID:             req.OwnerUserID,
		Direction:               req.Direction,
		Currency:                normalizeCurrency(req.Currency),
		WalletType:              normalizeWalletType(req.WalletType),
		AmountRemaining:         req.Amount,
		AmountMin:               req.AmountMin,
		AmountMax:               req.AmountMax,
		PriceModel:              req.PriceModel,
		PriceValue:              req.PriceValue,
		AllowedPaymentMethodIDs: req.AllowedPaymentMethodIDs,
		Status:                  engine.OfferDraft,
		Terms:                   req.Terms,
		AutoCancelMinutes:       req.AutoCancelMinutes,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO offers (id, owner_user_id, direction, currency, wallet_type, amount_remaining,
			amount_min, amount_max, price_model, price_value, allowed_payment_method_ids,
			status, terms, auto_cancel_minutes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
	`, offer.ID, offer.OwnerUserID, offer.Direction, offer.Currency, offer.WalletType,
		offer.AmountRemaining.String(), offer.AmountMin.String(), offer.AmountMax.String(),
		offer.PriceModel, offer.PriceValue.String(), offer.AllowedPaymentMethodIDs,
		offer.Status, offer.Terms, offer.AutoCancelMinutes, now)
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// TransitionOffer moves an offer along its lifecycle. Approval and
// rejection out of PENDING_APPROVAL are admin actions; everything else
// belongs to the owner.
func (s *Store) TransitionOffer(ctx context.Context, req TransitionOfferRequest) (*Offer, error) {
	if req.OfferID == uuid.Nil || req.ActorID == uuid.Nil {
		return nil, fmt.Errorf("%w: offer_id and actor_id are required", engine.ErrInvalidInput)
	}
	if !engine.ValidOfferStatus(req.Target) {
		return nil, fmt.Errorf("%w: unknown status %q", engine.ErrInvalidInput, req.Target)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	offer, err := s.getOfferForUpdate(ctx, tx, req.OfferID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", engine.ErrOfferNotFound, req.OfferID)
		}
		return nil, err
	}

	if offer.Status == req.Target {
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		committed = true
		return offer, nil
	}

	adminOnly := offer.Status == engine.OfferPendingApproval &&
		(req.Target == engine.OfferActive || req.Target == engine.OfferRejected)
	if adminOnly && !req.IsAdmin {
		return nil, fmt.Errorf("%w: offer approval is an admin action", engine.ErrForbidden)
	}
	if !adminOnly && !req.IsAdmin && req.ActorID != offer.OwnerUserID {
		return nil, fmt.Errorf("%w: actor does not own the offer", engine.ErrForbidden)
	}

	if !engine.CanOfferTransition(offer.Status, req.Target) {
		return nil, fmt.Errorf("%w: %s -> %s", engine.ErrIllegalTransition, offer.Status, req.Target)
	}

	now := time.Now().UTC()
	offer.Status = req.Target
	offer.UpdatedAt = now
	if _, err := tx.Exec(ctx, `
		UPDATE offers SET status = $1, updated_at = $2 WHERE id = $3
	`, offer.Status, now, offer.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true
	return offer, nil
}

func (s *Store) GetOffer(ctx context.Context, id uuid.UUID) (*Offer, error) {
	offer, err := scanOffer(s.pool.QueryRow(ctx, offerSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", engine.ErrOfferNotFound, id)
		}
		return nil, err
	}
	return offer, nil
}

// ListOpenOffers returns ACTIVE offers, optionally filtered by currency and
// direction, newest first.
func (s *Store) ListOpenOffers(ctx context.Context, filter OfferFilter) ([]*Offer, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := offerSelect + ` WHERE status = $1`
	args := []any{engine.OfferActive}
	if filter.Currency != "" {
		args = append(args, normalizeCurrency(filter.Currency))
		query += fmt.Sprintf(" AND currency = $%d", len(args))
	}
	if filter.Direction != "" {
		args = append(args, filter.Direction)
		query += fmt.Sprintf(" AND direction = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []*Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, rows.Err()
}

const offerSelect = `
	SELECT id, owner_user_id, direction, currency, wallet_type, amount_remaining::text,
	       amount_min::text, amount_max::text, price_model, price_value::text,
	       allowed_payment_method_ids, status, terms, auto_cancel_minutes, created_at, updated_at
	FROM offers`

func (s *Store) getOfferForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Offer, error) {
	return scanOffer(tx.QueryRow(ctx, offerSelect+` WHERE id = $1 FOR UPDATE`, id))
}

func scanOffer(row pgx.Row) (*Offer, error) {
	var o Offer
	var direction, priceModel, status string
	var remainingStr, minStr, maxStr, priceValueStr string
	if err := row.Scan(&o.ID, &o.OwnerUserID, &direction, &o.Currency, &o.WalletType, &remainingStr,
		&minStr, &maxStr, &priceModel, &priceValueStr,
		&o.AllowedPaymentMethodIDs, &status, &o.Terms, &o.AutoCancelMinutes, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Direction = engine.OfferDirection(direction)
	o.PriceModel = engine.PriceModel(priceModel)
	o.Status = engine.OfferStatus(status)

	var err error
	if o.AmountRemaining, err = parseDecimal("amount_remaining", remainingStr); err != nil {
		return nil, err
	}
	if o.AmountMin, err = parseDecimal("amount_min", minStr); err != nil {
		return nil, err
	}
	if o.AmountMax, err = parseDecimal("amount_max", maxStr); err != nil {
		return nil, err
	}
	if o.PriceValue, err = parseDecimal("price_value", priceValueStr); err != nil {
		return nil, err
	}
	return &o, nil
}

func ptr[T any](v T) *T {
	return &v
}
