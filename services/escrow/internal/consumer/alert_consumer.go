package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/IBM/sarama"

	"github.com/techcsc21/trade4u-sub031/libs/kafka"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/audit"
)

const (
	adminNotificationsEventType = "notifications.admin"
	alertEventType              = "audit.alert"
)

// AdminNotification is the operator-facing message derived from a security
// alert. One alert produces at most one notification; replays share the
// deterministic event ID.
type AdminNotification struct {
	kafka.Envelope
	AlertID       string `json:"alert_id"`
	UserID        string `json:"user_id"`
	AuditEvent    string `json:"audit_event"`
	EntityType    string `json:"entity_type"`
	EntityID      string `json:"entity_id"`
	RiskLevel     string `json:"risk_level"`
	IsAdminAction bool   `json:"is_admin_action"`
	Amount        string `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Summary       string `json:"summary"`
}

// AlertConsumer turns audit.alerts messages into admin notifications.
type AlertConsumer struct {
	producer   kafka.Publisher
	adminTopic string
	logger     *slog.Logger
	deduper    *eventDeduper
}

func NewAlertConsumer(producer kafka.Publisher, adminTopic string, logger *slog.Logger) *AlertConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(adminTopic) == "" {
		adminTopic = adminNotificationsEventType
	}
	return &AlertConsumer{
		producer:   producer,
		adminTopic: adminTopic,
		logger:     logger,
		deduper:    newEventDeduper(50000),
	}
}

func (c *AlertConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		return kafka.DLQ(fmt.Errorf("empty kafka message"), "empty_message")
	}

	var alert audit.SecurityAlert
	if err := json.Unmarshal(msg.Value, &alert); err != nil {
		return kafka.DLQ(fmt.Errorf("decode audit.alerts: %w", err), "decode")
	}
	if err := validateAlert(&alert); err != nil {
		return kafka.DLQ(err, "invalid_event")
	}

	if c.deduper.Seen(alert.EventID) {
		c.logger.Info("duplicate security alert skipped", "event_id", alert.EventID, "entity_id", alert.EntityID)
		return nil
	}

	if c.producer == nil {
		return fmt.Errorf("kafka producer not configured")
	}

	eventID := kafka.DeterministicEventID(adminNotificationsEventType, alert.EntryID)
	env, err := kafka.NewEnvelopeWithID(eventID, adminNotificationsEventType, 1, alert.EventID)
	if err != nil {
		return err
	}
	notification := AdminNotification{
		Envelope:      env,
		AlertID:       alert.EntryID,
		UserID:        alert.UserID,
		AuditEvent:    alert.AuditEvent,
		EntityType:    alert.EntityType,
		EntityID:      alert.EntityID,
		RiskLevel:     alert.RiskLevel,
		IsAdminAction: alert.IsAdminAction,
		Amount:        alert.Amount,
		Currency:      alert.Currency,
		Summary:       summarize(&alert),
	}

	if _, _, err := c.producer.PublishJSON(ctx, c.adminTopic, alert.EntityID, notification); err != nil {
		return fmt.Errorf("publish admin notification: %w", err)
	}

	c.deduper.Mark(alert.EventID)
	return nil
}

func validateAlert(alert *audit.SecurityAlert) error {
	if err := alert.Envelope.Validate(); err != nil {
		return err
	}
	if alert.EventType != alertEventType {
		return fmt.Errorf("unexpected event_type: %s", alert.EventType)
	}
	if strings.TrimSpace(alert.EntryID) == "" {
		return fmt.Errorf("entry_id required")
	}
	if strings.TrimSpace(alert.AuditEvent) == "" {
		return fmt.Errorf("audit_event required")
	}
	if strings.TrimSpace(alert.RiskLevel) == "" {
		return fmt.Errorf("risk_level required")
	}
	return nil
}

func summarize(alert *audit.SecurityAlert) string {
	var b strings.Builder
	b.WriteString(alert.RiskLevel)
	b.WriteString(" ")
	b.WriteString(alert.AuditEvent)
	if alert.EntityType != "" {
		b.WriteString(" on ")
		b.WriteString(alert.EntityType)
		b.WriteString(" ")
		b.WriteString(alert.EntityID)
	}
	if alert.Amount != "" {
		b.WriteString(" (")
		b.WriteString(alert.Amount)
		if alert.Currency != "" {
			b.WriteString(" ")
			b.WriteString(alert.Currency)
		}
		b.WriteString(")")
	}
	return b.String()
}

type eventDeduper struct {
	mu       sync.Mutex
	maxSize  int
	order    []string
	seenByID map[string]struct{}
}

func newEventDeduper(max int) *eventDeduper {
	if max <= 0 {
		max = 10000
	}
	return &eventDeduper{
		maxSize:  max,
		seenByID: make(map[string]struct{}, max),
	}
}

func (d *eventDeduper) Seen(eventID string) bool {
	if strings.TrimSpace(eventID) == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seenByID[eventID]
	return ok
}

func (d *eventDeduper) Mark(eventID string) {
	if strings.TrimSpace(eventID) == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seenByID[eventID]; ok {
		return
	}
	d.seenByID[eventID] = struct{}{}
	d.order = append(d.order, eventID)
	if len(d.order) > d.maxSize {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seenByID, oldest)
	}
}
