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

// systemActorID marks sweep-driven timeline entries.
var systemActorID = uuid.Nil

// errNotExpirable signals that a sweep candidate lost the race to a user
// transition between the candidate scan and the row lock.
var errNotExpirable = errors.New("trade no longer expirable")

// TransitionTrade advances a trade along the legal-transition graph and
// applies the per-target side effects in the same transaction. A request
// whose target equals the current status is a no-op so retried client
// calls are safe.
func (s *Store) TransitionTrade(ctx context.Context, req TransitionTradeRequest) (*TransitionTradeResult, error) {
	if req.TradeID == uuid.Nil || req.ActorID == uuid.Nil {
		return nil, fmt.Errorf("%w: trade_id and actor_id are required", engine.ErrInvalidInput)
	}
	if !engine.ValidTradeStatus(req.Target) {
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

	trade, err := s.getTradeForUpdate(ctx, tx, req.TradeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", engine.ErrTradeNotFound, req.TradeID)
		}
		return nil, err
	}

	if !req.IsAdmin && req.ActorID != trade.BuyerUserID && req.ActorID != trade.SellerUserID {
		return nil, fmt.Errorf("%w: actor is not a trade participant", engine.ErrForbidden)
	}

	if trade.Status == req.Target {
		trade.Timeline, err = s.loadTimeline(ctx, tx, trade.ID)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		committed = true
		return &TransitionTradeResult{Trade: trade, Previous: trade.Status, NoOp: true}, nil
	}

	if !engine.CanTradeTransition(trade.Status, req.Target) {
		return nil, engine.IllegalTransitionError(trade.Status, req.Target)
	}

	prev := trade.Status
	now := time.Now().UTC()
	var dispute *Dispute

	switch req.Target {
	case engine.TradePaymentSent:
		if !req.IsAdmin && req.ActorID != trade.BuyerUserID {
			return nil, fmt.Errorf("%w: only the buyer confirms payment", engine.ErrForbidden)
		}
		trade.PaymentSentAt = &now

	case engine.TradeEscrowReleased:
		if !req.IsAdmin && req.ActorID != trade.SellerUserID {
			return nil, fmt.Errorf("%w: only the seller releases escrow", engine.ErrForbidden)
		}
		if err := s.releaseEscrow(ctx, tx, trade, now); err != nil {
			return nil, err
		}

	case engine.TradeCompleted:
		if prev == engine.TradeDisputed {
			if !req.IsAdmin {
				return nil, fmt.Errorf("%w: dispute resolution is an admin action", engine.ErrForbidden)
			}
			if !trade.FundsReleased() {
				if err := s.releaseEscrow(ctx, tx, trade, now); err != nil {
					return nil, err
				}
			}
			dispute, err = s.resolveOpenDispute(ctx, tx, trade.ID, req.ActorID, resolutionOrDefault(req.Resolution, "release_to_buyer"), now)
			if err != nil {
				return nil, err
			}
		}
		trade.CompletedAt = &now

	case engine.TradeCancelled:
		if prev == engine.TradeDisputed {
			if !req.IsAdmin {
				return nil, fmt.Errorf("%w: dispute resolution is an admin action", engine.ErrForbidden)
			}
			dispute, err = s.resolveOpenDispute(ctx, tx, trade.ID, req.ActorID, resolutionOrDefault(req.Resolution, "refund_to_seller"), now)
			if err != nil {
				return nil, err
			}
		}
		// Funds already moved to the buyer cannot be clawed back here;
		// post-release cancellation settles compensation out of band.
		if !trade.FundsReleased() {
			if err := s.unlockEscrow(ctx, tx, trade); err != nil {
				return nil, err
			}
		}

	case engine.TradeDisputed:
		if prev == engine.TradeCompleted && !s.limits.WithinGraceWindow(derefTime(trade.CompletedAt), now) {
			return nil, fmt.Errorf("%w: re-dispute grace window elapsed", engine.ErrIllegalTransition)
		}
		if !engine.ValidDisputeReason(req.Reason) {
			return nil, fmt.Errorf("%w: unknown dispute reason %q", engine.ErrInvalidInput, req.Reason)
		}
		dispute, err = s.createDispute(ctx, tx, trade, req, now)
		if err != nil {
			return nil, err
		}

	default:
		return nil, engine.IllegalTransitionError(prev, req.Target)
	}

	trade.Status = req.Target
	trade.UpdatedAt = now
	if _, err := tx.Exec(ctx, `
		UPDATE trades
		SET status = $1, payment_sent_at = $2, escrow_released_at = $3, completed_at = $4, updated_at = $5
		WHERE id = $6
	`, trade.Status, trade.PaymentSentAt, trade.EscrowReleasedAt, trade.CompletedAt, now, trade.ID); err != nil {
		return nil, err
	}

	if _, err := s.appendTimeline(ctx, tx, trade.ID, transitionEvent(prev, req.Target), req.ActorID, req.Message, now); err != nil {
		return nil, err
	}
	trade.Timeline, err = s.loadTimeline(ctx, tx, trade.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true

	return &TransitionTradeResult{Trade: trade, Previous: prev, Dispute: dispute}, nil
}

// ExpireOverdueTrades scans for PENDING trades past their deadline and
// expires each in its own transaction with a locked re-check, so a user
// transition racing the sweep simply wins or loses the row lock.
func (s *Store) ExpireOverdueTrades(ctx context.Context, now time.Time, limit int) ([]*Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM trades
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at
		LIMIT $3
	`, engine.TradePending, now, limit)
	if err != nil {
		return nil, err
	}
	var candidates []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, id)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	var expired []*Trade
	for _, id := range candidates {
		trade, err := s.expireTrade(ctx, id, now)
		if err != nil {
			if errors.Is(err, errNotExpirable) {
				continue
			}
			s.logger.Error("expire trade failed", "trade_id", id.String(), "error", err)
			continue
		}
		expired = append(expired, trade)
	}
	return expired, nil
}

func (s *Store) expireTrade(ctx context.Context, id uuid.UUID, now time.Time) (*Trade, error) {
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

	trade, err := s.getTradeForUpdate(ctx, tx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errNotExpirable
		}
		return nil, err
	}
	if trade.Status != engine.TradePending || trade.ExpiresAt.After(now) {
		return nil, errNotExpirable
	}

	if err := s.unlockEscrow(ctx, tx, trade); err != nil {
		return nil, err
	}

	trade.Status = engine.TradeExpired
	trade.UpdatedAt = now
	if _, err := tx.Exec(ctx, `
		UPDATE trades SET status = $1, updated_at = $2 WHERE id = $3
	`, trade.Status, now, trade.ID); err != nil {
		return nil, err
	}
	if _, err := s.appendTimeline(ctx, tx, trade.ID, engine.EventTradeExpired, systemActorID, "expired by sweep", now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true
	return trade, nil
}

// releaseEscrow moves the escrowed amount to the buyer and settles fees.
// Seller pays amount from locked funds plus seller-side fees from the
// available balance; the platform wallet collects all three fees.
func (s *Store) releaseEscrow(ctx context.Context, tx pgx.Tx, trade *Trade, now time.Time) error {
	seller, err := s.getWalletForUpdate(ctx, tx, trade.SellerUserID, trade.Currency, trade.WalletType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: seller wallet missing at release", engine.ErrWalletNotFound)
		}
		return err
	}
	if seller.InOrder.LessThan(trade.Amount) {
		return fmt.Errorf("%w: locked %s below trade amount %s",
			engine.ErrInsufficientBalance, seller.InOrder.String(), trade.Amount.String())
	}
	sellerCost := trade.SellerFee.Add(trade.EscrowFee)
	if seller.Available().LessThan(sellerCost) {
		return fmt.Errorf("%w: available %s cannot cover seller fees %s",
			engine.ErrInsufficientBalance, seller.Available().String(), sellerCost.String())
	}
	seller.Balance = seller.Balance.Sub(trade.Amount).Sub(sellerCost)
	seller.InOrder = seller.InOrder.Sub(trade.Amount)
	if err := s.updateWallet(ctx, tx, seller); err != nil {
		return err
	}

	buyer, err := s.getOrCreateWalletForUpdate(ctx, tx, trade.BuyerUserID, trade.Currency, trade.WalletType)
	if err != nil {
		return err
	}
	buyer.Balance = buyer.Balance.Add(trade.Amount.Sub(trade.BuyerFee))
	if err := s.updateWallet(ctx, tx, buyer); err != nil {
		return err
	}

	feeTotal := trade.BuyerFee.Add(sellerCost)
	if feeTotal.GreaterThan(decimal.Zero) {
		platform, err := s.getOrCreatePlatformWallet(ctx, tx, trade.Currency, trade.WalletType)
		if err != nil {
			return err
		}
		platform.Balance = platform.Balance.Add(feeTotal)
		if err := s.updateWallet(ctx, tx, platform); err != nil {
			return err
		}
	}

	trade.EscrowReleasedAt = &now
	return nil
}

// unlockEscrow returns the reservation to the seller and restores offer
// capacity. Lock order matches initiation: offer row before wallet row.
func (s *Store) unlockEscrow(ctx context.Context, tx pgx.Tx, trade *Trade) error {
	offer, err := s.getOfferForUpdate(ctx, tx, trade.OfferID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	seller, err := s.getWalletForUpdate(ctx, tx, trade.SellerUserID, trade.Currency, trade.WalletType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: seller wallet missing at unlock", engine.ErrWalletNotFound)
		}
		return err
	}
	release := trade.Amount
	if seller.InOrder.LessThan(release) {
		release = seller.InOrder
	}
	seller.InOrder = seller.InOrder.Sub(release)
	if err := s.updateWallet(ctx, tx, seller); err != nil {
		return err
	}

	if offer != nil && !engine.IsTerminalOfferStatus(offer.Status) {
		offer.AmountRemaining = offer.AmountRemaining.Add(trade.Amount)
		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE offers SET amount_remaining = $1, updated_at = $2 WHERE id = $3
		`, offer.AmountRemaining.String(), now, offer.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) createDispute(ctx context.Context, tx pgx.Tx, trade *Trade, req TransitionTradeRequest, now time.Time) (*Dispute, error) {
	d := &Dispute{
		ID:         uuid.New(),
		TradeID:    trade.ID,
		ReporterID: req.ActorID,
		Reason:     req.Reason,
		Details:    req.Details,
		Status:     DisputeOpen,
		Priority:   s.limits.DisputePriority(trade.Amount),
		CreatedAt:  now,
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO disputes (id, trade_id, reporter_id, reason, details, status, priority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.ID, d.TradeID, d.ReporterID, string(d.Reason), d.Details, d.Status, d.Priority, d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: dispute already open for trade", engine.ErrIllegalTransition)
		}
		return nil, err
	}
	return d, nil
}

func (s *Store) resolveOpenDispute(ctx context.Context, tx pgx.Tx, tradeID, resolvedBy uuid.UUID, resolution string, now time.Time) (*Dispute, error) {
	var d Dispute
	var reason string
	row := tx.QueryRow(ctx, `
		SELECT id, trade_id, reporter_id, reason, details, status, priority, resolution, created_at
		FROM disputes
		WHERE trade_id = $1 AND status = $2
		FOR UPDATE
	`, tradeID, DisputeOpen)
	if err := row.Scan(&d.ID, &d.TradeID, &d.ReporterID, &reason, &d.Details, &d.Status, &d.Priority, &d.Resolution, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no open dispute for trade %s", engine.ErrDisputeNotFound, tradeID)
		}
		return nil, err
	}
	d.Reason = engine.DisputeReason(reason)

	d.Status = DisputeResolved
	d.Resolution = resolution
	d.ResolvedByID = &resolvedBy
	d.ResolvedAt = &now
	if _, err := tx.Exec(ctx, `
		UPDATE disputes SET status = $1, resolution = $2, resolved_by_id = $3, resolved_at = $4 WHERE id = $5
	`, d.Status, d.Resolution, resolvedBy, now, d.ID); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetTrade returns the trade with its full timeline.
func (s *Store) GetTrade(ctx context.Context, id uuid.UUID) (*Trade, error) {
	trade, err := scanTrade(s.pool.QueryRow(ctx, tradeSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", engine.ErrTradeNotFound, id)
		}
		return nil, err
	}
	trade.Timeline, err = s.loadTimeline(ctx, s.pool, trade.ID)
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// ListTradesForUser returns trades where the user is buyer or seller,
// newest first, without timelines.
func (s *Store) ListTradesForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Trade, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, tradeSelect+`
		WHERE buyer_user_id = $1 OR seller_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

// GetOpenDispute returns the open dispute for a trade, if any.
func (s *Store) GetOpenDispute(ctx context.Context, tradeID uuid.UUID) (*Dispute, error) {
	var d Dispute
	var reason string
	row := s.pool.QueryRow(ctx, `
		SELECT id, trade_id, reporter_id, reason, details, status, priority, resolution, resolved_by_id, resolved_at, created_at
		FROM disputes
		WHERE trade_id = $1 AND status = $2
	`, tradeID, DisputeOpen)
	if err := row.Scan(&d.ID, &d.TradeID, &d.ReporterID, &reason, &d.Details, &d.Status, &d.Priority,
		&d.Resolution, &d.ResolvedByID, &d.ResolvedAt, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: trade %s", engine.ErrDisputeNotFound, tradeID)
		}
		return nil, err
	}
	d.Reason = engine.DisputeReason(reason)
	return &d, nil
}

const tradeSelect = `
	SELECT id, offer_id, buyer_user_id, seller_user_id, amount::text, price::text, total_amount::text,
	       currency, wallet_type, payment_method_id, status, buyer_fee::text, seller_fee::text, escrow_fee::text,
	       payment_sent_at, escrow_released_at, completed_at, expires_at, created_at, updated_at
	FROM trades`

func (s *Store) getTradeForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Trade, error) {
	return scanTrade(tx.QueryRow(ctx, tradeSelect+` WHERE id = $1 FOR UPDATE`, id))
}

func scanTrade(row pgx.Row) (*Trade, error) {
	var t Trade
	var status string
	var amountStr, priceStr, totalStr, buyerFeeStr, sellerFeeStr, escrowFeeStr string
	if err := row.Scan(&t.ID, &t.OfferID, &t.BuyerUserID, &t.SellerUserID, &amountStr, &priceStr, &totalStr,
		&t.Currency, &t.WalletType, &t.PaymentMethodID, &status, &buyerFeeStr, &sellerFeeStr, &escrowFeeStr,
		&t.PaymentSentAt, &t.EscrowReleasedAt, &t.CompletedAt, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = engine.TradeStatus(status)

	var err error
	if t.Amount, err = parseDecimal("amount", amountStr); err != nil {
		return nil, err
	}
	if t.Price, err = parseDecimal("price", priceStr); err != nil {
		return nil, err
	}
	if t.TotalAmount, err = parseDecimal("total_amount", totalStr); err != nil {
		return nil, err
	}
	if t.BuyerFee, err = parseDecimal("buyer_fee", buyerFeeStr); err != nil {
		return nil, err
	}
	if t.SellerFee, err = parseDecimal("seller_fee", sellerFeeStr); err != nil {
		return nil, err
	}
	if t.EscrowFee, err = parseDecimal("escrow_fee", escrowFeeStr); err != nil {
		return nil, err
	}
	return &t, nil
}

// queryer covers both pool and transaction reads.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) loadTimeline(ctx context.Context, q queryer, tradeID uuid.UUID) ([]TimelineEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, trade_id, event, actor_id, message, created_at
		FROM trade_timeline
		WHERE trade_id = $1
		ORDER BY id
	`, tradeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []TimelineEntry
	for rows.Next() {
		var e TimelineEntry
		var event string
		if err := rows.Scan(&e.ID, &e.TradeID, &event, &e.ActorID, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Event = engine.EventType(event)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func transitionEvent(from, to engine.TradeStatus) engine.EventType {
	switch to {
	case engine.TradePaymentSent:
		return engine.EventTradePaymentSent
	case engine.TradeEscrowReleased:
		return engine.EventTradeReleased
	case engine.TradeCompleted:
		if from == engine.TradeDisputed {
			return engine.EventDisputeResolved
		}
		return engine.EventTradeCompleted
	case engine.TradeCancelled:
		if from == engine.TradeDisputed {
			return engine.EventDisputeResolved
		}
		return engine.EventTradeCancelled
	case engine.TradeDisputed:
		return engine.EventTradeDisputed
	case engine.TradeExpired:
		return engine.EventTradeExpired
	default:
		return engine.EventType("trade." + string(to))
	}
}

func resolutionOrDefault(resolution, fallback string) string {
	if resolution == "" {
		return fallback
	}
	return resolution
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}
