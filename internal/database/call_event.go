package database

import (
	"context"
	"fmt"

	"github.com/pbxlink/pbxlink/internal/database/models"
)

// callEventRepo implements CallEventRepository.
type callEventRepo struct {
	db *DB
}

// NewCallEventRepository creates a new CallEventRepository.
func NewCallEventRepository(db *DB) CallEventRepository {
	return &callEventRepo{db: db}
}

// Append adds an audit trail entry to a call. Entries are never updated.
func (r *callEventRepo) Append(ctx context.Context, callID int64, event string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO call_events (call_id, event) VALUES (?, ?)", callID, event)
	if err != nil {
		return fmt.Errorf("appending call event: %w", err)
	}
	return nil
}

// ListByCallID returns the audit trail of a call in insertion order.
func (r *callEventRepo) ListByCallID(ctx context.Context, callID int64) ([]models.CallEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, call_id, event, created_at FROM call_events WHERE call_id = ? ORDER BY id", callID)
	if err != nil {
		return nil, fmt.Errorf("listing call events: %w", err)
	}
	defer rows.Close()

	var events []models.CallEvent
	for rows.Next() {
		var e models.CallEvent
		if err := rows.Scan(&e.ID, &e.CallID, &e.Event, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning call event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
