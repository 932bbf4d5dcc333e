package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists catalog items in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed catalog store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const itemColumns = `id, title, description, price, currency, is_premium, file_url,
	       payment_link_id, payment_link_url, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, i *Item) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO pdfs (
			id, title, description, price, currency, is_premium, file_url,
			payment_link_id, payment_link_url, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4::NUMERIC(10,2), $5, $6, $7,
			$8, $9, $10, $11
		)`,
		i.ID, i.Title, nullString(i.Description), i.Price, i.Currency, i.Premium, i.FileURL,
		nullString(i.PaymentLinkID), nullString(i.PaymentLinkURL), i.CreatedAt, i.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrItemExists
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Item, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM pdfs WHERE id = $1`, id)

	i, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrItemNotFound
	}
	return i, err
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM pdfs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, i)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, i *Item) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE pdfs SET
			title = $1, description = $2, price = $3::NUMERIC(10,2),
			currency = $4, is_premium = $5, file_url = $6, updated_at = $7
		WHERE id = $8`,
		i.Title, nullString(i.Description), i.Price,
		i.Currency, i.Premium, i.FileURL, i.UpdatedAt,
		i.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (p *PostgresStore) SetPaymentLink(ctx context.Context, id, linkID, linkURL string) error {
	// Set-once: the WHERE clause refuses to overwrite an existing link.
	result, err := p.db.ExecContext(ctx, `
		UPDATE pdfs SET payment_link_id = $1, payment_link_url = $2, updated_at = $3
		WHERE id = $4 AND payment_link_id IS NULL`,
		linkID, linkURL, time.Now(), id,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, getErr := p.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrLinkAlreadySet
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(s scanner) (*Item, error) {
	i := &Item{}
	var (
		description sql.NullString
		linkID      sql.NullString
		linkURL     sql.NullString
	)

	err := s.Scan(
		&i.ID, &i.Title, &description, &i.Price, &i.Currency, &i.Premium, &i.FileURL,
		&linkID, &linkURL, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	i.Description = description.String
	i.PaymentLinkID = linkID.String
	i.PaymentLinkURL = linkURL.String
	return i, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
