package pricecache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const defaultKeyPrefix = "escrow:market_price:"

type cachedPrice struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// PriceCache serves market prices for margin-priced offers. Redis is the
// source of truth; a local copy is kept so a Redis outage degrades to
// slightly stale prices instead of failing every margin trade.
type PriceCache struct {
	client      *redis.Client
	prefix      string
	fallbackTTL time.Duration
	logger      *slog.Logger

	mu    sync.RWMutex
	local map[string]cachedPrice

	now func() time.Time
}

func New(client *redis.Client, prefix string, fallbackTTL time.Duration, logger *slog.Logger) *PriceCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if fallbackTTL <= 0 {
		fallbackTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceCache{
		client:      client,
		prefix:      prefix,
		fallbackTTL: fallbackTTL,
		logger:      logger,
		local:       make(map[string]cachedPrice),
		now:         time.Now,
	}
}

// MarketPrice returns the current market price for a currency, or false when
// no usable price exists. A Redis hit refreshes the local copy; a miss or a
// Redis error falls back to the local copy while it is within fallbackTTL.
func (c *PriceCache) MarketPrice(ctx context.Context, currency string) (decimal.Decimal, bool) {
	key := normalizeCurrency(currency)
	if key == "" {
		return decimal.Zero, false
	}

	if c.client != nil {
		raw, err := c.client.Get(ctx, c.prefix+key).Result()
		switch {
		case err == nil:
			price, perr := decimal.NewFromString(raw)
			if perr != nil || !price.IsPositive() {
				c.logger.Warn("malformed market price in redis", "currency", key, "value", raw)
			} else {
				c.storeLocal(key, price)
				return price, true
			}
		case err == redis.Nil:
			// No published price. Fall through to the local copy.
		default:
			c.logger.Warn("market price lookup failed, using local copy", "currency", key, "error", err)
		}
	}

	return c.localPrice(key)
}

// SetMarketPrice publishes a price to Redis and updates the local copy. The
// redisTTL bounds how long an unrefreshed price stays served cluster-wide.
func (c *PriceCache) SetMarketPrice(ctx context.Context, currency string, price decimal.Decimal, redisTTL time.Duration) error {
	key := normalizeCurrency(currency)
	if key == "" || !price.IsPositive() {
		return nil
	}
	c.storeLocal(key, price)
	if c.client == nil {
		return nil
	}
	return c.client.Set(ctx, c.prefix+key, price.String(), redisTTL).Err()
}

func (c *PriceCache) storeLocal(currency string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[currency] = cachedPrice{price: price, fetchedAt: c.now()}
}

func (c *PriceCache) localPrice(currency string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.local[currency]
	if !ok {
		return decimal.Zero, false
	}
	if c.now().Sub(entry.fetchedAt) > c.fallbackTTL {
		return decimal.Zero, false
	}
	return entry.price, true
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
