package download

import (
	"context"
	"database/sql"
)

// PostgresStore persists download tokens in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed token store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tokenColumns = `token, purchase_id, pdf_id, user_id, redemptions,
	       max_redemptions, expires_at, created_at`

func (p *PostgresStore) Create(ctx context.Context, t *Token) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO download_tokens (
			token, purchase_id, pdf_id, user_id, redemptions,
			max_redemptions, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.Token, t.PurchaseID, t.ItemID, t.UserID, t.Redemptions,
		t.MaxRedemptions, t.ExpiresAt, t.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, token string) (*Token, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+` FROM download_tokens WHERE token = $1`, token)

	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}
	return t, err
}

// Redeem increments the redemption count in one statement so concurrent
// redemptions can never exceed the cap. A miss is disambiguated afterwards.
func (p *PostgresStore) Redeem(ctx context.Context, token string) (*Token, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE download_tokens
		SET redemptions = redemptions + 1
		WHERE token = $1
		  AND expires_at > NOW()
		  AND redemptions < max_redemptions
		RETURNING `+tokenColumns, token)

	t, err := scanToken(row)
	if err == nil {
		return t, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	// The guarded update matched nothing; figure out why.
	existing, err := p.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if existing.Redemptions >= existing.MaxRedemptions {
		return nil, ErrTokenExhausted
	}
	return nil, ErrTokenExpired
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanToken(s scanner) (*Token, error) {
	t := &Token{}
	err := s.Scan(
		&t.Token, &t.PurchaseID, &t.ItemID, &t.UserID, &t.Redemptions,
		&t.MaxRedemptions, &t.ExpiresAt, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
