package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/techcsc21/trade4u-sub031/libs/kafka"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/engine"
)

const DefaultTopic = "notifications.trades"

// Notification is a trade-lifecycle message for the participants. Delivery
// is at-least-once; event IDs are deterministic per (event, trade, status)
// so downstream consumers can dedupe replays.
type Notification struct {
	EventType  engine.EventType
	Recipients []uuid.UUID
	TradeID    uuid.UUID
	OfferID    uuid.UUID
	Status     string
	Amount     decimal.Decimal
	Currency   string
	Message    string
}

type TradeEvent struct {
	kafka.Envelope
	Recipients []string `json:"recipients"`
	TradeID    string   `json:"trade_id,omitempty"`
	OfferID    string   `json:"offer_id,omitempty"`
	Status     string   `json:"status,omitempty"`
	Amount     string   `json:"amount,omitempty"`
	Currency   string   `json:"currency,omitempty"`
	Message    string   `json:"message,omitempty"`
}

type Dispatcher struct {
	producer kafka.Publisher
	topic    string
	logger   *slog.Logger
	attempts int
	backoff  time.Duration
}

func NewDispatcher(producer kafka.Publisher, topic string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &Dispatcher{
		producer: producer,
		topic:    topic,
		logger:   logger,
		attempts: 3,
		backoff:  100 * time.Millisecond,
	}
}

// Dispatch publishes one notification, retrying transient publish failures.
// Callers run it outside the business transaction and treat the returned
// error as log-only.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) error {
	if d == nil || d.producer == nil {
		return nil
	}

	eventID := kafka.DeterministicEventID("notify", string(n.EventType), n.TradeID.String(), n.Status)
	env, err := kafka.NewEnvelopeWithID(eventID, string(n.EventType), 1, n.TradeID.String())
	if err != nil {
		return err
	}

	payload := TradeEvent{
		Envelope:   env,
		Recipients: recipientStrings(n.Recipients),
		Status:     n.Status,
		Currency:   n.Currency,
		Message:    n.Message,
	}
	if n.TradeID != uuid.Nil {
		payload.TradeID = n.TradeID.String()
	}
	if n.OfferID != uuid.Nil {
		payload.OfferID = n.OfferID.String()
	}
	if !n.Amount.IsZero() {
		payload.Amount = n.Amount.String()
	}

	key := payload.TradeID
	if key == "" {
		key = payload.OfferID
	}

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if _, _, err := d.producer.PublishJSON(ctx, d.topic, key, payload); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < d.attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.backoff * time.Duration(attempt)):
			}
		}
	}
	d.logger.Error("notification publish exhausted retries", "topic", d.topic, "event_type", string(n.EventType), "error", lastErr)
	return lastErr
}

func recipientStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		out = append(out, id.String())
	}
	return out
}
