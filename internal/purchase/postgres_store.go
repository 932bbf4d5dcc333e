package purchase

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/fiscalfm/commerce/internal/pagination"
)

// PostgresStore persists purchases in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed purchase store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const purchaseColumns = `id, pdf_id, user_id, email, amount, currency, status,
	       stripe_session_id, stripe_customer_id, payment_intent_id,
	       failure_reason, created_at, updated_at, completed_at`

func (p *PostgresStore) Create(ctx context.Context, pu *Purchase) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO purchases (
			id, pdf_id, user_id, email, amount, currency, status,
			stripe_session_id, stripe_customer_id, payment_intent_id,
			failure_reason, created_at, updated_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5::NUMERIC(10,2), $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14
		)`,
		pu.ID, pu.ItemID, pu.UserID, pu.Email, pu.Amount, pu.Currency, pu.Status,
		nullString(pu.StripeSessionID), nullString(pu.StripeCustomerID), nullString(pu.PaymentIntentID),
		nullString(pu.FailureReason), pu.CreatedAt, pu.UpdatedAt, nullTime(pu.CompletedAt),
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Purchase, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id)

	pu, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return nil, ErrPurchaseNotFound
	}
	return pu, err
}

func (p *PostgresStore) GetBySessionID(ctx context.Context, sessionID string) (*Purchase, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+purchaseColumns+` FROM purchases WHERE stripe_session_id = $1`, sessionID)

	pu, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return nil, ErrPurchaseNotFound
	}
	return pu, err
}

func (p *PostgresStore) GetByPaymentIntent(ctx context.Context, intentID string) (*Purchase, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+purchaseColumns+` FROM purchases WHERE payment_intent_id = $1`, intentID)

	pu, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return nil, ErrPurchaseNotFound
	}
	return pu, err
}

func (p *PostgresStore) Update(ctx context.Context, pu *Purchase) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE purchases SET
			status = $1, stripe_session_id = $2, stripe_customer_id = $3,
			payment_intent_id = $4, failure_reason = $5,
			updated_at = $6, completed_at = $7
		WHERE id = $8`,
		pu.Status, nullString(pu.StripeSessionID), nullString(pu.StripeCustomerID),
		nullString(pu.PaymentIntentID), nullString(pu.FailureReason),
		pu.UpdatedAt, nullTime(pu.CompletedAt),
		pu.ID,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateCompleted
		}
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPurchaseNotFound
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]*Purchase, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if after != nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+purchaseColumns+`
			FROM purchases
			WHERE user_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, userID, after.CreatedAt, after.ID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+purchaseColumns+`
			FROM purchases
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, userID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return collectPurchases(rows)
}

func (p *PostgresStore) FindCompleted(ctx context.Context, userID, itemID string) (*Purchase, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE user_id = $1 AND pdf_id = $2 AND status = 'completed'
		ORDER BY completed_at DESC
		LIMIT 1`, userID, itemID)

	pu, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return nil, ErrPurchaseNotFound
	}
	return pu, err
}

func (p *PostgresStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*Purchase, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return collectPurchases(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPurchase(s scanner) (*Purchase, error) {
	pu := &Purchase{}
	var (
		sessionID     sql.NullString
		customerID    sql.NullString
		intentID      sql.NullString
		failureReason sql.NullString
		completedAt   sql.NullTime
	)

	err := s.Scan(
		&pu.ID, &pu.ItemID, &pu.UserID, &pu.Email, &pu.Amount, &pu.Currency, &pu.Status,
		&sessionID, &customerID, &intentID,
		&failureReason, &pu.CreatedAt, &pu.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	pu.StripeSessionID = sessionID.String
	pu.StripeCustomerID = customerID.String
	pu.PaymentIntentID = intentID.String
	pu.FailureReason = failureReason.String
	if completedAt.Valid {
		t := completedAt.Time
		pu.CompletedAt = &t
	}
	return pu, nil
}

func collectPurchases(rows *sql.Rows) ([]*Purchase, error) {
	var result []*Purchase
	for rows.Next() {
		pu, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pu)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
