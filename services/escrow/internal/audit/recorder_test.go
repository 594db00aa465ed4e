package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/engine"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/storage"
)

type fakeSink struct {
	err     error
	batches [][]storage.AuditEntry
}

func (f *fakeSink) InsertAuditEntries(_ context.Context, entries []storage.AuditEntry) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, entries)
	return nil
}

type fakeAlertPublisher struct {
	err      error
	payloads [][]byte
}

func (f *fakeAlertPublisher) PublishJSON(_ context.Context, _, _ string, value any) (int32, int64, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return 0, 0, err
	}
	f.payloads = append(f.payloads, raw)
	return 0, 1, nil
}

func (f *fakeAlertPublisher) Close() error { return nil }

func newTestRecorder(sink *fakeSink, pub *fakeAlertPublisher) *Recorder {
	return NewRecorder(sink, pub, "audit.alerts", decimal.NewFromInt(1000), slog.Default(), nil)
}

func TestRecordDerivesRiskLevel(t *testing.T) {
	sink := &fakeSink{}
	r := newTestRecorder(sink, &fakeAlertPublisher{})

	r.Record(context.Background(), Event{
		UserID:     uuid.New(),
		EventType:  engine.EventTradeInitiated,
		EntityType: "trade",
		EntityID:   uuid.New(),
		Metadata:   storage.AuditMetadata{Amount: decimal.NewFromInt(5000), Currency: "USD"},
	})

	if len(sink.batches) != 1 || len(sink.batches[0]) != 1 {
		t.Fatalf("expected one recorded entry, got %+v", sink.batches)
	}
	if got := sink.batches[0][0].RiskLevel; got != engine.RiskMedium {
		t.Fatalf("risk level = %s, want MEDIUM for large amount", got)
	}
}

func TestRecordKeepsExplicitRiskLevel(t *testing.T) {
	sink := &fakeSink{}
	r := newTestRecorder(sink, &fakeAlertPublisher{})

	r.Record(context.Background(), Event{
		UserID:     uuid.New(),
		EventType:  engine.EventTradeInitiated,
		EntityType: "trade",
		EntityID:   uuid.New(),
		RiskLevel:  engine.RiskCritical,
	})

	if got := sink.batches[0][0].RiskLevel; got != engine.RiskCritical {
		t.Fatalf("risk level = %s, want explicit CRITICAL", got)
	}
}

func TestHighRiskEntriesFanOutAlerts(t *testing.T) {
	sink := &fakeSink{}
	pub := &fakeAlertPublisher{}
	r := newTestRecorder(sink, pub)

	r.RecordBatch(context.Background(), []Event{
		{UserID: uuid.New(), EventType: engine.EventTradeInitiated, EntityType: "trade", EntityID: uuid.New()},
		{UserID: uuid.New(), EventType: engine.EventTradeReleased, EntityType: "trade", EntityID: uuid.New()},
		{UserID: uuid.New(), EventType: engine.EventTradeDisputed, EntityType: "trade", EntityID: uuid.New()},
	})

	if len(sink.batches) != 1 {
		t.Fatalf("expected one storage round trip, got %d", len(sink.batches))
	}
	// CRITICAL release and HIGH dispute alert; LOW initiation does not.
	if len(pub.payloads) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(pub.payloads))
	}
	var alert SecurityAlert
	if err := json.Unmarshal(pub.payloads[0], &alert); err != nil {
		t.Fatalf("decode alert: %v", err)
	}
	if alert.RiskLevel != string(engine.RiskCritical) {
		t.Fatalf("alert risk = %s, want CRITICAL", alert.RiskLevel)
	}
}

// Recorder failures must never propagate to the caller.
func TestRecordSwallowsSinkFailure(t *testing.T) {
	sink := &fakeSink{err: errors.New("db down")}
	pub := &fakeAlertPublisher{}
	r := newTestRecorder(sink, pub)

	r.Record(context.Background(), Event{
		UserID:     uuid.New(),
		EventType:  engine.EventTradeReleased,
		EntityType: "trade",
		EntityID:   uuid.New(),
	})

	// The alert still fans out even when the row was lost.
	if len(pub.payloads) != 1 {
		t.Fatalf("expected alert despite sink failure, got %d", len(pub.payloads))
	}
}

func TestRecordSwallowsPublishFailure(t *testing.T) {
	sink := &fakeSink{}
	r := newTestRecorder(sink, &fakeAlertPublisher{err: errors.New("broker down")})

	r.Record(context.Background(), Event{
		UserID:     uuid.New(),
		EventType:  engine.EventUnauthorizedAccess,
		EntityType: "user",
		EntityID:   uuid.New(),
	})

	if len(sink.batches) != 1 {
		t.Fatalf("entry should still be recorded, got %+v", sink.batches)
	}
}

func TestRecordWithoutProducerSkipsAlerts(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink, nil, "", decimal.NewFromInt(1000), slog.Default(), nil)

	r.Record(context.Background(), Event{
		UserID:     uuid.New(),
		EventType:  engine.EventTradeDisputed,
		EntityType: "trade",
		EntityID:   uuid.New(),
	})
	if len(sink.batches) != 1 {
		t.Fatalf("expected entry recorded without producer")
	}
}
