package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/engine"
)

// platformUserID owns the fee wallets. Created lazily, one per currency.
var platformUserID = uuid.MustParse("00000000-0000-0000-0000-0000000000fe")

const defaultWalletType = "SPOT"

type Store struct {
	pool   *pgxpool.Pool
	fees   *engine.FeeSchedule
	limits engine.Limits
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, fees *engine.FeeSchedule, limits engine.Limits, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if fees == nil {
		fees = engine.DefaultFeeSchedule()
	}
	return &Store{
		pool:   pool,
		fees:   fees,
		limits: limits,
		logger: logger,
	}
}

// InitiateTrade runs the full initiation sequence in one transaction: offer
// row lock, amount and payment-method validation, seller escrow lock, trade
// creation, and offer capacity decrement. Any failure rolls the whole
// transaction back.
func (s *Store) InitiateTrade(ctx context.Context, req InitiateTradeRequest) (*InitiateTradeResult, error) {
	if req.OfferID == uuid.Nil || req.ActorID == uuid.Nil || req.PaymentMethodID == uuid.Nil {
		return nil, fmt.Errorf("%w: offer_id, actor_id and payment_method_id are required", engine.ErrInvalidInput)
	}
	if err := s.limits.ValidateTradeAmount(req.Amount); err != nil {
		return nil, err
	}
	if req.Price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: resolved price must be positive", engine.ErrInvalidPriceConfig)
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
	if offer.Status != engine.OfferActive {
		return nil, fmt.Errorf("%w: offer is %s", engine.ErrOfferUnavailable, offer.Status)
	}
	if offer.OwnerUserID == req.ActorID {
		return nil, fmt.Errorf("%w: cannot trade against own offer", engine.ErrOfferUnavailable)
	}

	maxAmount := offer.AmountMax
	if offer.AmountRemaining.LessThan(maxAmount) {
		maxAmount = offer.AmountRemaining
	}
	if req.Amount.LessThan(offer.AmountMin) || req.Amount.GreaterThan(maxAmount) {
		return nil, fmt.Errorf("%w: amount must be between %s and %s",
			engine.ErrInvalidAmount, offer.AmountMin.String(), maxAmount.String())
	}

	if !offer.AllowsPaymentMethod(req.PaymentMethodID) {
		return nil, fmt.Errorf("%w: method not accepted by offer", engine.ErrPaymentMethodNotAllowed)
	}
	usable, err := s.paymentMethodUsable(ctx, tx, req.ActorID, req.PaymentMethodID)
	if err != nil {
		return nil, err
	}
	if !usable {
		return nil, fmt.Errorf("%w: method does not belong to actor or is unavailable", engine.ErrPaymentMethodNotAllowed)
	}

	// BUY offer: the owner wants to buy, so the taker sells.
	makerIsBuyer := offer.Direction == engine.DirectionBuy
	buyerID, sellerID := offer.OwnerUserID, req.ActorID
	if !makerIsBuyer {
		buyerID, sellerID = req.ActorID, offer.OwnerUserID
	}

	fees, err := s.fees.Calculate(req.Amount, offer.Currency, makerIsBuyer)
	if err != nil {
		return nil, err
	}

	wallet, err := s.getWalletForUpdate(ctx, tx, sellerID, offer.Currency, offer.WalletType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: seller has no %s wallet", engine.ErrWalletNotFound, offer.Currency)
		}
		return nil, err
	}
	// The same rounded figures are used here and at release; checking
	// amount + seller-side fees up front means release cannot come up short.
	required := req.Amount.Add(fees.SellerCost())
	if wallet.Available().LessThan(required) {
		return nil, fmt.Errorf("%w: available %s, required %s",
			engine.ErrInsufficientBalance, wallet.Available().String(), required.String())
	}
	wallet.InOrder = wallet.InOrder.Add(req.Amount)
	if err := s.updateWallet(ctx, tx, wallet); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	autoCancel := time.Duration(offer.AutoCancelMinutes) * time.Minute
	if autoCancel <= 0 {
		autoCancel = s.limits.DefaultAutoCancel
	}

	trade := &Trade{
		ID:              uuid.New(),
		OfferID:         offer.ID,
		BuyerUserID:     buyerID,
		SellerUserID:    sellerID,
		Amount:          req.Amount,
		Price:           req.Price,
		TotalAmount:     engine.RoundAmount(req.Amount.Mul(req.Price), 8),
		Currency:        offer.Currency,
		WalletType:      offer.WalletType,
		PaymentMethodID: req.PaymentMethodID,
		Status:          engine.TradePending,
		BuyerFee:        fees.BuyerFee,
		SellerFee:       fees.SellerFee,
		EscrowFee:       fees.EscrowFee,
		ExpiresAt:       now.Add(autoCancel),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO trades (id, offer_id, buyer_user_id, seller_user_id, amount, price, total_amount,
			currency, wallet_type, payment_method_id, status, buyer_fee, seller_fee, escrow_fee,
			expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
	`, trade.ID, trade.OfferID, trade.BuyerUserID, trade.SellerUserID,
		trade.Amount.String(), trade.Price.String(), trade.TotalAmount.String(),
		trade.Currency, trade.WalletType, trade.PaymentMethodID, trade.Status,
		trade.BuyerFee.String(), trade.SellerFee.String(), trade.EscrowFee.String(),
		trade.ExpiresAt, now); err != nil {
		return nil, err
	}

	entry, err := s.appendTimeline(ctx, tx, trade.ID, engine.EventTradeInitiated, req.ActorID, req.Message, now)
	if err != nil {
		return nil, err
	}
	trade.Timeline = []TimelineEntry{entry}

	offer.AmountRemaining = offer.AmountRemaining.Sub(req.Amount)
	if offer.AmountRemaining.LessThanOrEqual(decimal.Zero) {
		offer.AmountRemaining = decimal.Zero
		offer.Status = engine.OfferCompleted
	}
	offer.UpdatedAt = now
	if _, err := tx.Exec(ctx, `
		UPDATE offers SET amount_remaining = $1, status = $2, updated_at = $3 WHERE id = $4
	`, offer.AmountRemaining.String(), offer.Status, now, offer.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true

	return &InitiateTradeResult{Trade: trade, Offer: offer}, nil
}

// GetWallet returns the wallet, or a zero-balance snapshot when none exists.
func (s *Store) GetWallet(ctx context.Context, userID uuid.UUID, currency, walletType string) (Wallet, error) {
	currency = normalizeCurrency(currency)
	walletType = normalizeWalletType(walletType)

	var w Wallet
	var balanceStr, inOrderStr string
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, currency, wallet_type, balance::text, in_order::text, updated_at
		FROM wallets
		WHERE user_id = $1 AND currency = $2 AND wallet_type = $3
	`, userID, currency, walletType)
	if err := row.Scan(&w.ID, &w.UserID, &w.Currency, &w.WalletType, &balanceStr, &inOrderStr, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{
				UserID:     userID,
				Currency:   currency,
				WalletType: walletType,
				Balance:    decimal.Zero,
				InOrder:    decimal.Zero,
			}, nil
		}
		return Wallet{}, err
	}
	var err error
	if w.Balance, err = decimal.NewFromString(balanceStr); err != nil {
		return Wallet{}, fmt.Errorf("parse balance: %w", err)
	}
	if w.InOrder, err = decimal.NewFromString(inOrderStr); err != nil {
		return Wallet{}, fmt.Errorf("parse in_order: %w", err)
	}
	return w, nil
}

// CreditWallet adds funds to a wallet, creating it if needed. Used by
// deposit reconciliation and seeding.
func (s *Store) CreditWallet(ctx context.Context, userID uuid.UUID, currency, walletType string, amount decimal.Decimal) (Wallet, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return Wallet{}, fmt.Errorf("%w: credit amount must be positive", engine.ErrInvalidAmount)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Wallet{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	w, err := s.getOrCreateWalletForUpdate(ctx, tx, userID, currency, walletType)
	if err != nil {
		return Wallet{}, err
	}
	w.Balance = w.Balance.Add(amount)
	if err := s.updateWallet(ctx, tx, w); err != nil {
		return Wallet{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Wallet{}, err
	}
	committed = true
	return *w, nil
}

func (s *Store) CreatePaymentMethod(ctx context.Context, userID uuid.UUID, name string) (PaymentMethod, error) {
	pm := PaymentMethod{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		Available: true,
		CreatedAt: time.Now().UTC(),
	}
	if pm.Name == "" {
		return PaymentMethod{}, fmt.Errorf("%w: payment method name is required", engine.ErrInvalidInput)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payment_methods (id, user_id, name, available, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, pm.ID, pm.UserID, pm.Name, pm.Available, pm.CreatedAt)
	if err != nil {
		return PaymentMethod{}, err
	}
	return pm, nil
}

func (s *Store) SetPaymentMethodAvailable(ctx context.Context, userID, id uuid.UUID, available bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payment_methods SET available = $1 WHERE id = $2 AND user_id = $3
	`, available, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment method %s", engine.ErrPaymentMethodNotAllowed, id)
	}
	return nil
}

func (s *Store) paymentMethodUsable(ctx context.Context, tx pgx.Tx, userID, id uuid.UUID) (bool, error) {
	var usable bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payment_methods WHERE id = $1 AND user_id = $2 AND available
		)
	`, id, userID)
	if err := row.Scan(&usable); err != nil {
		return false, err
	}
	return usable, nil
}

func (s *Store) getWalletForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency, walletType string) (*Wallet, error) {
	currency = normalizeCurrency(currency)
	walletType = normalizeWalletType(walletType)

	var w Wallet
	var balanceStr, inOrderStr string
	row := tx.QueryRow(ctx, `
		SELECT id, user_id, currency, wallet_type, balance::text, in_order::text, updated_at
		FROM wallets
		WHERE user_id = $1 AND currency = $2 AND wallet_type = $3
		FOR UPDATE
	`, userID, currency, walletType)
	if err := row.Scan(&w.ID, &w.UserID, &w.Currency, &w.WalletType, &balanceStr, &inOrderStr, &w.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if w.Balance, err = decimal.NewFromString(balanceStr); err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	if w.InOrder, err = decimal.NewFromString(inOrderStr); err != nil {
		return nil, fmt.Errorf("parse in_order: %w", err)
	}
	return &w, nil
}

func (s *Store) getOrCreateWalletForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency, walletType string) (*Wallet, error) {
	w, err := s.getWalletForUpdate(ctx, tx, userID, currency, walletType)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO wallets (user_id, currency, wallet_type, balance, in_order)
		VALUES ($1, $2, $3, 0, 0)
		ON CONFLICT (user_id, currency, wallet_type) DO NOTHING
	`, userID, normalizeCurrency(currency), normalizeWalletType(walletType)); err != nil {
		return nil, err
	}

	return s.getWalletForUpdate(ctx, tx, userID, currency, walletType)
}

// getOrCreatePlatformWallet serializes creation with an advisory lock so
// concurrent first-release transactions do not race the insert.
func (s *Store) getOrCreatePlatformWallet(ctx context.Context, tx pgx.Tx, currency, walletType string) (*Wallet, error) {
	key := "platform:" + normalizeCurrency(currency) + ":" + normalizeWalletType(walletType)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return nil, err
	}
	return s.getOrCreateWalletForUpdate(ctx, tx, platformUserID, currency, walletType)
}

func (s *Store) updateWallet(ctx context.Context, tx pgx.Tx, w *Wallet) error {
	if w.InOrder.IsNegative() || w.InOrder.GreaterThan(w.Balance) {
		return fmt.Errorf("%w: wallet %s would violate in_order <= balance",
			engine.ErrInsufficientBalance, w.ID)
	}
	now := time.Now().UTC()
	w.UpdatedAt = now
	_, err := tx.Exec(ctx, `
		UPDATE wallets SET balance = $1, in_order = $2, updated_at = $3 WHERE id = $4
	`, w.Balance.String(), w.InOrder.String(), now, w.ID)
	return err
}

func (s *Store) appendTimeline(ctx context.Context, tx pgx.Tx, tradeID uuid.UUID, event engine.EventType, actorID uuid.UUID, message string, at time.Time) (TimelineEntry, error) {
	entry := TimelineEntry{
		TradeID:   tradeID,
		Event:     event,
		ActorID:   actorID,
		Message:   message,
		CreatedAt: at,
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO trade_timeline (trade_id, event, actor_id, message, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, tradeID, string(event), actorID, message, at)
	if err := row.Scan(&entry.ID); err != nil {
		return TimelineEntry{}, err
	}
	return entry, nil
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

func normalizeWalletType(walletType string) string {
	walletType = strings.ToUpper(strings.TrimSpace(walletType))
	if walletType == "" {
		return defaultWalletType
	}
	return walletType
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
