package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FundingPostgresStore persists deposit tickets and withdrawal requests
// in PostgreSQL.
type FundingPostgresStore struct {
	db *sql.DB
}

// NewFundingPostgresStore creates a new PostgreSQL-backed funding store.
func NewFundingPostgresStore(db *sql.DB) *FundingPostgresStore {
	return &FundingPostgresStore{db: db}
}

func (p *FundingPostgresStore) CreateDeposit(ctx context.Context, t *DepositTicket) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO deposit_tickets (
			id, user_id, amount, method, payment_reference, transaction_id,
			status, admin_note, reviewed_by, reviewed_at, credited_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3::NUMERIC(14,2), $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13
		)`,
		t.ID, t.UserID, t.Amount.StringFixed(2), string(t.Method),
		t.PaymentReference, nullString(t.TransactionID),
		string(t.Status), nullString(t.AdminNote), nullString(t.ReviewedBy),
		nullTime(t.ReviewedAt), nullTime(t.CreditedAt),
		t.CreatedAt, t.UpdatedAt,
	)
	return err
}

const depositColumns = `id, user_id, amount, method, payment_reference,
	COALESCE(transaction_id, ''), status, COALESCE(admin_note, ''),
	COALESCE(reviewed_by, ''), reviewed_at, credited_at, created_at, updated_at`

func (p *FundingPostgresStore) GetDeposit(ctx context.Context, id string) (*DepositTicket, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+depositColumns+` FROM deposit_tickets WHERE id = $1`, id)
	t, err := scanDeposit(row)
	if err == sql.ErrNoRows {
		return nil, ErrDepositNotFound
	}
	return t, err
}

func (p *FundingPostgresStore) UpdateDeposit(ctx context.Context, t *DepositTicket) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE deposit_tickets SET
			status = $1, admin_note = $2, reviewed_by = $3,
			reviewed_at = $4, credited_at = $5, updated_at = $6
		WHERE id = $7`,
		string(t.Status), nullString(t.AdminNote), nullString(t.ReviewedBy),
		nullTime(t.ReviewedAt), nullTime(t.CreditedAt), t.UpdatedAt, t.ID,
	)
	if err != nil {
		return err
	}
	return mustAffect(result, ErrDepositNotFound)
}

func (p *FundingPostgresStore) ListDepositsByStatus(ctx context.Context, status DepositStatus, limit int) ([]*DepositTicket, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+depositColumns+`
		FROM deposit_tickets
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*DepositTicket
	for rows.Next() {
		t, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (p *FundingPostgresStore) CreateWithdrawal(ctx context.Context, w *WithdrawalRequest) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO withdrawal_requests (
			id, user_id, amount, payout_method, account_title, account_number,
			bank_name, payout_details, status, admin_note, payout_reference,
			reviewed_by, reviewed_at, reserved_at, paid_at, created_at, updated_at
		) VALUES (
			$1, $2, $3::NUMERIC(14,2), $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17
		)`,
		w.ID, w.UserID, w.Amount.StringFixed(2), string(w.PayoutMethod),
		w.AccountTitle, w.AccountNumber,
		nullString(w.BankName), nullString(w.PayoutDetails), string(w.Status),
		nullString(w.AdminNote), nullString(w.PayoutReference),
		nullString(w.ReviewedBy), nullTime(w.ReviewedAt), nullTime(w.ReservedAt),
		nullTime(w.PaidAt), w.CreatedAt, w.UpdatedAt,
	)
	return err
}

const withdrawalColumns = `id, user_id, amount, payout_method, account_title,
	account_number, COALESCE(bank_name, ''), COALESCE(payout_details, ''),
	status, COALESCE(admin_note, ''), COALESCE(payout_reference, ''),
	COALESCE(reviewed_by, ''), reviewed_at, reserved_at, paid_at,
	created_at, updated_at`

func (p *FundingPostgresStore) GetWithdrawal(ctx context.Context, id string) (*WithdrawalRequest, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id)
	w, err := scanWithdrawal(row)
	if err == sql.ErrNoRows {
		return nil, ErrWithdrawalNotFound
	}
	return w, err
}

func (p *FundingPostgresStore) UpdateWithdrawal(ctx context.Context, w *WithdrawalRequest) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE withdrawal_requests SET
			status = $1, admin_note = $2, payout_reference = $3,
			reviewed_by = $4, reviewed_at = $5, paid_at = $6, updated_at = $7
		WHERE id = $8`,
		string(w.Status), nullString(w.AdminNote), nullString(w.PayoutReference),
		nullString(w.ReviewedBy), nullTime(w.ReviewedAt), nullTime(w.PaidAt),
		w.UpdatedAt, w.ID,
	)
	if err != nil {
		return err
	}
	return mustAffect(result, ErrWithdrawalNotFound)
}

func (p *FundingPostgresStore) ListWithdrawalsByStatus(ctx context.Context, status WithdrawalStatus, limit int) ([]*WithdrawalRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawal_requests
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func scanDeposit(s scanner) (*DepositTicket, error) {
	t := &DepositTicket{}
	var amount string
	var reviewedAt, creditedAt sql.NullTime
	err := s.Scan(
		&t.ID, &t.UserID, &amount, &t.Method, &t.PaymentReference,
		&t.TransactionID, &t.Status, &t.AdminNote,
		&t.ReviewedBy, &reviewedAt, &creditedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("wallet: corrupt amount on deposit %s: %w", t.ID, err)
	}
	t.ReviewedAt = timePtr(reviewedAt)
	t.CreditedAt = timePtr(creditedAt)
	return t, nil
}

func scanWithdrawal(s scanner) (*WithdrawalRequest, error) {
	w := &WithdrawalRequest{}
	var amount string
	var reviewedAt, reservedAt, paidAt sql.NullTime
	err := s.Scan(
		&w.ID, &w.UserID, &amount, &w.PayoutMethod, &w.AccountTitle,
		&w.AccountNumber, &w.BankName, &w.PayoutDetails,
		&w.Status, &w.AdminNote, &w.PayoutReference,
		&w.ReviewedBy, &reviewedAt, &reservedAt, &paidAt,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if w.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("wallet: corrupt amount on withdrawal %s: %w", w.ID, err)
	}
	w.ReviewedAt = timePtr(reviewedAt)
	w.ReservedAt = timePtr(reservedAt)
	w.PaidAt = timePtr(paidAt)
	return w, nil
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
	cp := t.Time
	return &cp
}

func mustAffect(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
