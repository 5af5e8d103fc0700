package services

import (
	"context"
	"fmt"
	"time"

	"realtycrm/internal/crm"
	"realtycrm/internal/database"
	"realtycrm/internal/models"
)

// HistoryRecorder keeps the audit trail of stage changes
type HistoryRecorder interface {
	Append(ctx context.Context, entry models.StageHistoryEntry) (models.StageHistoryEntry, error)
	List(ctx context.Context, kind crm.EntityKind, recordID string) ([]models.StageHistoryEntry, error)
}

// HistoryService stores stage history in the SQL database (MySQL in
// production, SQLite in development and tests)
type HistoryService struct {
	db *database.DB
}

// NewHistoryService creates a new history service
func NewHistoryService(db *database.DB) *HistoryService {
	return &HistoryService{db: db}
}

// Append inserts one transition and returns it with its row id
func (s *HistoryService) Append(ctx context.Context, entry models.StageHistoryEntry) (models.StageHistoryEntry, error) {
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_history (kind, record_id, from_stage, to_stage, changed_by, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.Kind, entry.RecordID, entry.FromStage, entry.ToStage, entry.ChangedBy, entry.ChangedAt.UnixMilli())
	if err != nil {
		return entry, fmt.Errorf("failed to insert stage history: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		entry.ID = id
	}
	entry.ChangedAt = time.UnixMilli(entry.ChangedAt.UnixMilli()).UTC()
	return entry, nil
}

// List returns the history of one record, oldest first
func (s *HistoryService) List(ctx context.Context, kind crm.EntityKind, recordID string) ([]models.StageHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, record_id, from_stage, to_stage, changed_by, changed_at
		FROM stage_history
		WHERE kind = ? AND record_id = ?
		ORDER BY changed_at ASC, id ASC
	`, string(kind), recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage history: %w", err)
	}
	defer rows.Close()

	entries := []models.StageHistoryEntry{}
	for rows.Next() {
		var e models.StageHistoryEntry
		var changedAt int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.RecordID, &e.FromStage, &e.ToStage, &e.ChangedBy, &changedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage history: %w", err)
		}
		e.ChangedAt = time.UnixMilli(changedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stage history: %w", err)
	}
	return entries, nil
}
