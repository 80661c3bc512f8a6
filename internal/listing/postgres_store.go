package listing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PostgresStore is a PostgreSQL-backed Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL listing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const listingColumns = `id, seller_id, game, category, title, description, unit_price, stock, status, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, l *Listing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		l.ID, l.SellerID, l.Game, string(l.Category), l.Title, nullString(l.Description),
		l.UnitPrice.StringFixed(2), l.Stock, string(l.Status), l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Listing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	return l, err
}

func (s *PostgresStore) Update(ctx context.Context, l *Listing) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE listings
		SET title = $2, description = $3, unit_price = $4, stock = $5, status = $6, updated_at = $7
		WHERE id = $1`,
		l.ID, l.Title, nullString(l.Description), l.UnitPrice.StringFixed(2),
		l.Stock, string(l.Status), l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrListingNotFound
	}
	return nil
}

func (s *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error) {
	return s.list(ctx, `SELECT `+listingColumns+` FROM listings
		WHERE seller_id = $1 ORDER BY created_at DESC LIMIT $2`, sellerID, limit)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Listing, error) {
	return s.list(ctx, `SELECT `+listingColumns+` FROM listings
		WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, string(status), limit)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Listing, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var out []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanListing(row scanner) (*Listing, error) {
	var (
		l        Listing
		category string
		desc     sql.NullString
		price    string
		status   string
	)
	err := row.Scan(&l.ID, &l.SellerID, &l.Game, &category, &l.Title, &desc,
		&price, &l.Stock, &status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.Category = Category(category)
	l.Description = desc.String
	l.Status = Status(status)
	l.UnitPrice, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse unit price: %w", err)
	}
	return &l, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
