package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"log/slog"

	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/engine"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/storage"
)

var (
	sellerID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	buyerID  = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	adminID  = uuid.MustParse("00000000-0000-0000-0000-000000000009")
)

func main() {
	env := getEnv("ESCROW_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: ESCROW_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "escrow")
	user := getEnv("POSTGRES_USER", "escrow")
	password := getEnv("POSTGRES_PASSWORD", "escrow")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := storage.ApplySchema(ctx, pool); err != nil {
		log.Fatalf("apply schema: %v", err)
	}
	fmt.Println("✓ Schema applied")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.New(pool, engine.DefaultFeeSchedule(), engine.DefaultLimits(), logger)

	if err := seedWallets(ctx, store); err != nil {
		log.Fatalf("seed wallets: %v", err)
	}
	fmt.Println("✓ Wallets seeded")

	pmID, err := seedPaymentMethods(ctx, store)
	if err != nil {
		log.Fatalf("seed payment methods: %v", err)
	}
	fmt.Println("✓ Payment methods seeded")

	offerID, err := seedOffers(ctx, store, pmID)
	if err != nil {
		log.Fatalf("seed offers: %v", err)
	}
	fmt.Println("✓ Offers seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestData(ctx, store, offerID, pmID); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nDemo identities:")
	fmt.Printf("  Seller: %s\n", sellerID)
	fmt.Printf("  Buyer:  %s\n", buyerID)
	fmt.Printf("  Admin:  %s (role 'admin')\n", adminID)
	fmt.Printf("\nActive sell offer: %s\n", offerID)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func seedWallets(ctx context.Context, store *storage.Store) error {
	credits := []struct {
		userID   uuid.UUID
		currency string
		amount   int64
	}{
		{sellerID, "USDT", 50_000},
		{sellerID, "BTC", 5},
		{buyerID, "USDT", 10_000},
	}
	for _, c := range credits {
		if _, err := store.CreditWallet(ctx, c.userID, c.currency, "SPOT", decimal.NewFromInt(c.amount)); err != nil {
			return err
		}
	}
	return nil
}

func seedPaymentMethods(ctx context.Context, store *storage.Store) (uuid.UUID, error) {
	pm, err := store.CreatePaymentMethod(ctx, buyerID, "bank transfer")
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := store.CreatePaymentMethod(ctx, buyerID, "cash in person"); err != nil {
		return uuid.Nil, err
	}
	return pm.ID, nil
}

// seedOffers walks one sell offer through DRAFT -> PENDING_APPROVAL ->
// ACTIVE so the demo environment has a tradable offer out of the box.
func seedOffers(ctx context.Context, store *storage.Store, pmID uuid.UUID) (uuid.UUID, error) {
	offer, err := store.CreateOffer(ctx, storage.CreateOfferRequest{
		OwnerUserID:             sellerID,
		Direction:               engine.DirectionSell,
		Currency:                "USDT",
		WalletType:              "SPOT",
		Amount:                  decimal.NewFromInt(10_000),
		AmountMin:               decimal.NewFromInt(100),
		AmountMax:               decimal.NewFromInt(5_000),
		PriceModel:              engine.PriceFixed,
		PriceValue:              decimal.RequireFromString("1.02"),
		AllowedPaymentMethodIDs: []uuid.UUID{pmID},
		Terms:                   "Payment within 30 minutes. Include the trade reference.",
		AutoCancelMinutes:       30,
	})
	if err != nil {
		return uuid.Nil, err
	}

	if _, err := store.TransitionOffer(ctx, storage.TransitionOfferRequest{
		OfferID: offer.ID,
		Target:  engine.OfferPendingApproval,
		ActorID: sellerID,
	}); err != nil {
		return uuid.Nil, err
	}
	if _, err := store.TransitionOffer(ctx, storage.TransitionOfferRequest{
		OfferID: offer.ID,
		Target:  engine.OfferActive,
		ActorID: adminID,
		IsAdmin: true,
	}); err != nil {
		return uuid.Nil, err
	}
	return offer.ID, nil
}
