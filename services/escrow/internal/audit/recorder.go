package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/techcsc21/trade4u-sub031/libs/kafka"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/engine"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/storage"
)

const DefaultAlertTopic = "audit.alerts"

// Sink persists audit entries. *storage.Store satisfies it.
type Sink interface {
	InsertAuditEntries(ctx context.Context, entries []storage.AuditEntry) error
}

// Event is one auditable action. RiskLevel may be left empty; it is then
// derived from the event type and the metadata amount.
type Event struct {
	UserID        uuid.UUID
	EventType     engine.EventType
	EntityType    string
	EntityID      uuid.UUID
	Metadata      storage.AuditMetadata
	RiskLevel     engine.RiskLevel
	IsAdminAction bool
}

// SecurityAlert is the fan-out payload for HIGH and CRITICAL entries.
type SecurityAlert struct {
	kafka.Envelope
	EntryID       string `json:"entry_id"`
	UserID        string `json:"user_id"`
	AuditEvent    string `json:"audit_event"`
	EntityType    string `json:"entity_type"`
	EntityID      string `json:"entity_id"`
	RiskLevel     string `json:"risk_level"`
	IsAdminAction bool   `json:"is_admin_action"`
	Amount        string `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
}

const alertEventType = "audit.alert"

// Recorder writes risk-scored audit entries. It never fails the caller:
// storage and publish errors are logged to the service logger and swallowed,
// and a panic in the path is contained.
type Recorder struct {
	sink       Sink
	producer   kafka.Publisher
	alertTopic string
	threshold  decimal.Decimal
	logger     *slog.Logger
	metrics    *Metrics
}

func NewRecorder(sink Sink, producer kafka.Publisher, alertTopic string, largeAmountThreshold decimal.Decimal, logger *slog.Logger, metrics *Metrics) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if alertTopic == "" {
		alertTopic = DefaultAlertTopic
	}
	return &Recorder{
		sink:       sink,
		producer:   producer,
		alertTopic: alertTopic,
		threshold:  largeAmountThreshold,
		logger:     logger,
		metrics:    metrics,
	}
}

// Record appends a single audit entry.
func (r *Recorder) Record(ctx context.Context, event Event) {
	r.RecordBatch(ctx, []Event{event})
}

// RecordBatch appends several entries in one storage round trip, then fans
// HIGH and CRITICAL entries out as security alerts.
func (r *Recorder) RecordBatch(ctx context.Context, events []Event) {
	if r == nil || len(events) == 0 {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("audit recorder panicked", "panic", p)
		}
	}()

	entries := make([]storage.AuditEntry, 0, len(events))
	for _, event := range events {
		level := event.RiskLevel
		if level == "" {
			level = engine.ClassifyRisk(event.EventType, event.Metadata.Amount, r.threshold)
		}
		entries = append(entries, storage.AuditEntry{
			ID:            uuid.New(),
			UserID:        event.UserID,
			EventType:     event.EventType,
			EntityType:    event.EntityType,
			EntityID:      event.EntityID,
			Metadata:      event.Metadata,
			RiskLevel:     level,
			IsAdminAction: event.IsAdminAction,
		})
	}

	if err := r.sink.InsertAuditEntries(ctx, entries); err != nil {
		r.metrics.IncAuditFailure("storage")
		r.logger.Error("audit insert failed", "entries", len(entries), "error", err)
		// Alerts still go out; losing the row is no reason to drop the page.
	} else {
		r.metrics.AddAuditRecorded(len(entries))
	}

	for _, entry := range entries {
		if !entry.RiskLevel.AtLeastHigh() {
			continue
		}
		r.publishAlert(ctx, entry)
	}
}

func (r *Recorder) publishAlert(ctx context.Context, entry storage.AuditEntry) {
	if r.producer == nil {
		return
	}
	eventID := kafka.DeterministicEventID(alertEventType, entry.ID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, alertEventType, 1, entry.EntityID.String())
	if err != nil {
		r.logger.Error("build alert envelope failed", "error", err)
		return
	}
	alert := SecurityAlert{
		Envelope:      env,
		EntryID:       entry.ID.String(),
		UserID:        entry.UserID.String(),
		AuditEvent:    string(entry.EventType),
		EntityType:    entry.EntityType,
		EntityID:      entry.EntityID.String(),
		RiskLevel:     string(entry.RiskLevel),
		IsAdminAction: entry.IsAdminAction,
		Currency:      entry.Metadata.Currency,
	}
	if !entry.Metadata.Amount.IsZero() {
		alert.Amount = entry.Metadata.Amount.String()
	}
	if _, _, err := r.producer.PublishJSON(ctx, r.alertTopic, entry.EntityID.String(), alert); err != nil {
		r.metrics.IncAuditFailure("alert_publish")
		r.logger.Error("security alert publish failed", "topic", r.alertTopic, "risk_level", string(entry.RiskLevel), "error", err)
		return
	}
	r.metrics.IncAlertPublished(string(entry.RiskLevel))
}
