package customers

import (
	"context"
	"database/sql"
)

// PostgresStore persists customer mappings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed mapping store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, m *Mapping) error {
	// Concurrent first checkouts can race on the same user; keep the first
	// mapping and ignore the rest.
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO stripe_customers (user_id, stripe_customer_id, email, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING`,
		m.UserID, m.StripeCustomerID, m.Email, m.CreatedAt,
	)
	return err
}

func (p *PostgresStore) GetByUserID(ctx context.Context, userID string) (*Mapping, error) {
	m := &Mapping{}
	err := p.db.QueryRowContext(ctx, `
		SELECT user_id, stripe_customer_id, email, created_at
		FROM stripe_customers
		WHERE user_id = $1`, userID,
	).Scan(&m.UserID, &m.StripeCustomerID, &m.Email, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrMappingNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
