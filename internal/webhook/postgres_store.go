package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresEventStore persists processed events in PostgreSQL.
type PostgresEventStore struct {
	db *sql.DB
}

var _ EventStore = (*PostgresEventStore)(nil)

func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (s *PostgresEventStore) Record(ctx context.Context, ev *Event) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, event_type, purchase_id, processed_at)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (event_id) DO NOTHING`,
		ev.ID, ev.Type, ev.PurchaseID, ev.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	if n == 0 {
		return ErrEventExists
	}
	return nil
}

func (s *PostgresEventStore) Get(ctx context.Context, eventID string) (*Event, error) {
	var (
		ev         Event
		purchaseID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT event_id, event_type, purchase_id, processed_at
		FROM webhook_events WHERE event_id = $1`,
		eventID,
	).Scan(&ev.ID, &ev.Type, &purchaseID, &ev.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	ev.PurchaseID = purchaseID.String
	return &ev, nil
}
