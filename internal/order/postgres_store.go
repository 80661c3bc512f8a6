package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/playstash/playstash/internal/listing"
	"github.com/playstash/playstash/internal/wallet"
)

// PostgresStore is a PostgreSQL-backed Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `id, buyer_id, seller_id, listing_id, quantity, unit_price, total_amount,
	platform_fee, seller_net, status, delivery_note, paid_at, delivered_at, auto_release_at,
	buyer_confirmed_at, completed_at, created_at, updated_at`

// execer lets the insert and update SQL run against either the pool or
// an open transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o *Order) error {
	return insertOrder(ctx, s.db, o)
}

func insertOrder(ctx context.Context, e execer, o *Order) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		o.ID, o.BuyerID, o.SellerID, o.ListingID, o.Quantity,
		o.UnitPrice.StringFixed(2), o.TotalAmount.StringFixed(2),
		o.PlatformFee.StringFixed(2), o.SellerNet.StringFixed(2),
		string(o.Status), nullString(o.DeliveryNote), o.PaidAt,
		nullTime(o.DeliveredAt), nullTime(o.AutoReleaseAt),
		nullTime(o.BuyerConfirmedAt), nullTime(o.CompletedAt),
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

const updateOrderSet = `
	UPDATE orders
	SET status = $2, delivery_note = $3, delivered_at = $4, auto_release_at = $5,
		buyer_confirmed_at = $6, completed_at = $7, updated_at = $8`

func updateOrderArgs(o *Order) []any {
	return []any{
		o.ID, string(o.Status), nullString(o.DeliveryNote),
		nullTime(o.DeliveredAt), nullTime(o.AutoReleaseAt),
		nullTime(o.BuyerConfirmedAt), nullTime(o.CompletedAt), o.UpdatedAt,
	}
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, o *Order) error {
	res, err := s.db.ExecContext(ctx, updateOrderSet+` WHERE id = $1`, updateOrderArgs(o)...)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return mustAffect(res, ErrOrderNotFound)
}

// UpdateOrderIf writes o only if the stored row is still in one of the
// from statuses. A row that has moved on gets ErrInvalidState, so two
// releasers racing on the same order settle at the database.
func (s *PostgresStore) UpdateOrderIf(ctx context.Context, o *Order, from ...Status) error {
	args := append(updateOrderArgs(o), pq.Array(statusStrings(from)))
	res, err := s.db.ExecContext(ctx, updateOrderSet+` WHERE id = $1 AND status = ANY($9)`, args...)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.missReason(ctx, o.ID)
	}
	return nil
}

// missReason tells a zero-row conditional update apart: the order is
// gone entirely, or it exists in a status the guard excluded.
func (s *PostgresStore) missReason(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOrderNotFound
	}
	if err != nil {
		return err
	}
	return ErrInvalidState
}

// Transition commits an order status change and its ledger legs as one
// database transaction. The order row is locked FOR UPDATE and its
// status re-checked against from before any money moves, so a stale
// in-memory Order (another process already released, a second replica
// racing the sweeper) rolls back without touching wallets.
func (s *PostgresStore) Transition(ctx context.Context, o *Order, reqs []wallet.EntryRequest, from ...Status) ([]*wallet.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM orders WHERE id = $1 FOR UPDATE`, o.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if !statusIn(Status(current), from) {
		return nil, ErrInvalidState
	}

	// Order row first, wallet rows last. Wallet rows are the final
	// locks in every transaction that touches them.
	entries, err := wallet.ApplyEntriesTx(ctx, tx, reqs)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, updateOrderSet+` WHERE id = $1`, updateOrderArgs(o)...)
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	if err := mustAffect(res, ErrOrderNotFound); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entries, nil
}

// CreatePurchase commits the stock decrement, the escrow ledger legs
// and the order insert as one database transaction. The stock check
// rides on the UPDATE's WHERE clause, so concurrent buyers of the last
// unit are serialized by the listing row lock.
func (s *PostgresStore) CreatePurchase(ctx context.Context, o *Order, reqs []wallet.EntryRequest) ([]*wallet.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE listings
		SET stock = stock - $2,
			status = CASE WHEN stock - $2 <= 0 THEN 'sold_out' ELSE status END,
			updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND stock >= $2`,
		o.ListingID, o.Quantity)
	if err != nil {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, s.stockMissReason(ctx, tx, o.ListingID)
	}

	entries, err := wallet.ApplyEntriesTx(ctx, tx, reqs)
	if err != nil {
		return nil, err
	}
	if err := insertOrder(ctx, tx, o); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *PostgresStore) stockMissReason(ctx context.Context, tx *sql.Tx, listingID string) error {
	var status string
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM listings WHERE id = $1`, listingID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return listing.ErrListingNotFound
	}
	if err != nil {
		return err
	}
	if status != "active" {
		return ErrListingUnavailable
	}
	return ErrInsufficientStock
}

func statusStrings(in []Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func statusIn(s Status, in []Status) bool {
	for _, c := range in {
		if s == c {
			return true
		}
	}
	return false
}

func (s *PostgresStore) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE buyer_id = $1 ORDER BY created_at DESC LIMIT $2`, buyerID, limit)
}

func (s *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE seller_id = $1 ORDER BY created_at DESC LIMIT $2`, sellerID, limit)
}

func (s *PostgresStore) ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]*Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status = 'delivered' AND auto_release_at IS NOT NULL AND auto_release_at <= $1
		ORDER BY auto_release_at ASC LIMIT $2`, now, limit)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const disputeColumns = `id, order_id, reason, details, status, resolution_note, resolved_by, resolved_at, created_at, updated_at`

func (s *PostgresStore) CreateDispute(ctx context.Context, d *Dispute) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disputes (`+disputeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.OrderID, d.Reason, nullString(d.Details), string(d.Status),
		nullString(d.ResolutionNote), nullString(d.ResolvedBy), nullTime(d.ResolvedAt),
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dispute: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDisputeByOrder(ctx context.Context, orderID string) (*Dispute, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE order_id = $1`, orderID)
	d, err := scanDispute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func (s *PostgresStore) UpdateDispute(ctx context.Context, d *Dispute) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE disputes
		SET reason = $2, details = $3, status = $4, resolution_note = $5,
			resolved_by = $6, resolved_at = $7, updated_at = $8
		WHERE id = $1`,
		d.ID, d.Reason, nullString(d.Details), string(d.Status),
		nullString(d.ResolutionNote), nullString(d.ResolvedBy), nullTime(d.ResolvedAt),
		d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update dispute: %w", err)
	}
	return mustAffect(res, ErrDisputeNotFound)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*Order, error) {
	var (
		o                                                Order
		unitPrice, total, fee, net, status               string
		deliveryNote                                     sql.NullString
		deliveredAt, releaseAt, confirmedAt, completedAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.ListingID, &o.Quantity,
		&unitPrice, &total, &fee, &net, &status, &deliveryNote, &o.PaidAt,
		&deliveredAt, &releaseAt, &confirmedAt, &completedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	o.Status = Status(status)
	o.DeliveryNote = deliveryNote.String
	o.DeliveredAt = timePtr(deliveredAt)
	o.AutoReleaseAt = timePtr(releaseAt)
	o.BuyerConfirmedAt = timePtr(confirmedAt)
	o.CompletedAt = timePtr(completedAt)

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&o.UnitPrice, unitPrice},
		{&o.TotalAmount, total},
		{&o.PlatformFee, fee},
		{&o.SellerNet, net},
	} {
		*f.dst, err = decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("parse order amount: %w", err)
		}
	}
	return &o, nil
}

func scanDispute(row scanner) (*Dispute, error) {
	var (
		d                                   Dispute
		status                              string
		details, resolutionNote, resolvedBy sql.NullString
		resolvedAt                          sql.NullTime
	)
	err := row.Scan(&d.ID, &d.OrderID, &d.Reason, &details, &status,
		&resolutionNote, &resolvedBy, &resolvedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Status = DisputeStatus(status)
	d.Details = details.String
	d.ResolutionNote = resolutionNote.String
	d.ResolvedBy = resolvedBy.String
	d.ResolvedAt = timePtr(resolvedAt)
	return &d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	tt := t.Time
	return &tt
}

func mustAffect(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}
