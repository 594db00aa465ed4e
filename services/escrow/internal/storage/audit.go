package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/engine"
)

// InsertAuditEntries appends audit records in a single batched round trip.
// The table is append-only; entries are never updated or deleted.
func (s *Store) InsertAuditEntries(ctx context.Context, entries []AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range entries {
		e := &entries[i]
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		batch.Queue(`
			INSERT INTO audit_log (id, user_id, event_type, entity_type, entity_id, metadata, risk_level, is_admin_action, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, e.ID, e.UserID, string(e.EventType), e.EntityType, e.EntityID, meta, string(e.RiskLevel), e.IsAdminAction, e.CreatedAt)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ListAuditByEntity returns audit entries for one entity, oldest first.
func (s *Store) ListAuditByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, event_type, entity_type, entity_id, metadata, risk_level, is_admin_action, created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at
		LIMIT $3
	`, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var eventType, riskLevel string
		var meta []byte
		if err := rows.Scan(&e.ID, &e.UserID, &eventType, &e.EntityType, &e.EntityID, &meta, &riskLevel, &e.IsAdminAction, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.EventType = engine.EventType(eventType)
		e.RiskLevel = engine.RiskLevel(riskLevel)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
