package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playstash/playstash/internal/idgen"
)

// PostgresStore persists wallets and ledger entries in PostgreSQL.
// Money columns are NUMERIC(14,2); non-negative balances are additionally
// enforced by CHECK constraints (see migrations/001_wallet.sql).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetOrCreate(ctx context.Context, userID string) (*Account, error) {
	// Upsert keeps first-access races single-row: the losing INSERT is a
	// no-op and both callers read the same account.
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallet_accounts (user_id, available, held, created_at, updated_at)
		VALUES ($1, 0, 0, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return nil, err
	}
	return p.Get(ctx, userID)
}

func (p *PostgresStore) Get(ctx context.Context, userID string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT user_id, available, held, created_at, updated_at
		FROM wallet_accounts WHERE user_id = $1`, userID)
	return scanAccount(row)
}

// ApplyEntries runs the whole batch in a single transaction, locking the
// affected wallet rows FOR UPDATE in ascending user-ID order.
func (p *PostgresStore) ApplyEntries(ctx context.Context, reqs []EntryRequest) ([]*Entry, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	entries, err := ApplyEntriesTx(ctx, tx, reqs)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ApplyEntriesTx applies a ledger batch inside a caller-owned transaction.
// Callers that must commit ledger legs atomically with their own row
// changes (order transitions, purchases) run their SQL and this in one tx.
// Wallet rows are locked FOR UPDATE in ascending user-ID order; wallet
// rows must always be the last rows a transaction locks.
func ApplyEntriesTx(ctx context.Context, tx *sql.Tx, reqs []EntryRequest) ([]*Entry, error) {
	for i := range reqs {
		if err := validateRequest(&reqs[i]); err != nil {
			return nil, err
		}
	}

	users := distinctUsers(reqs)

	// Ensure every wallet exists before locking.
	for _, u := range users {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO wallet_accounts (user_id, available, held, created_at, updated_at)
			VALUES ($1, 0, 0, NOW(), NOW())
			ON CONFLICT (user_id) DO NOTHING`, u); err != nil {
			return nil, err
		}
	}

	// Lock rows in ascending user-ID order. Every caller locks in the
	// same order, so overlapping batches queue instead of deadlocking.
	balances := make(map[string]*Account, len(users))
	for _, u := range users {
		row := tx.QueryRowContext(ctx, `
			SELECT user_id, available, held, created_at, updated_at
			FROM wallet_accounts WHERE user_id = $1 FOR UPDATE`, u)
		acct, err := scanAccount(row)
		if err != nil {
			return nil, err
		}
		balances[u] = acct
	}

	now := time.Now()
	entries := make([]*Entry, 0, len(reqs))
	for i := range reqs {
		req := &reqs[i]
		acct := balances[req.UserID]
		acct.Available = acct.Available.Add(req.AvailableDelta)
		acct.Held = acct.Held.Add(req.HeldDelta)
		if acct.Available.IsNegative() {
			return nil, ErrInsufficientFunds
		}
		if acct.Held.IsNegative() {
			return nil, ErrInsufficientHeldFunds
		}

		e := &Entry{
			ID:             idgen.WithPrefix("led_"),
			UserID:         req.UserID,
			Type:           req.Type,
			Direction:      req.Direction,
			Amount:         req.Amount,
			AvailableDelta: req.AvailableDelta,
			HeldDelta:      req.HeldDelta,
			AvailableAfter: acct.Available,
			HeldAfter:      acct.Held,
			Note:           req.Note,
			ReferenceType:  req.ReferenceType,
			ReferenceID:    req.ReferenceID,
			Actor:          req.Actor,
			CreatedAt:      now,
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO wallet_ledger_entries (
				id, user_id, entry_type, direction, amount,
				available_delta, held_delta, available_after, held_after,
				note, reference_type, reference_id, actor, created_at
			) VALUES (
				$1, $2, $3, $4, $5::NUMERIC(14,2),
				$6::NUMERIC(14,2), $7::NUMERIC(14,2), $8::NUMERIC(14,2), $9::NUMERIC(14,2),
				$10, $11, $12, $13, $14
			) RETURNING seq`,
			e.ID, e.UserID, string(e.Type), string(e.Direction), e.Amount.StringFixed(2),
			e.AvailableDelta.StringFixed(2), e.HeldDelta.StringFixed(2),
			e.AvailableAfter.StringFixed(2), e.HeldAfter.StringFixed(2),
			nullString(e.Note), nullString(e.ReferenceType), nullString(e.ReferenceID),
			nullString(e.Actor), e.CreatedAt,
		).Scan(&e.Seq)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	for _, u := range users {
		acct := balances[u]
		if _, err := tx.ExecContext(ctx, `
			UPDATE wallet_accounts
			SET available = $1::NUMERIC(14,2), held = $2::NUMERIC(14,2), updated_at = $3
			WHERE user_id = $4`,
			acct.Available.StringFixed(2), acct.Held.StringFixed(2), now, u); err != nil {
			return nil, err
		}
	}

	return entries, nil
}

const entryColumns = `id, user_id, entry_type, direction, amount,
		available_delta, held_delta, available_after, held_after,
		COALESCE(note, ''), COALESCE(reference_type, ''), COALESCE(reference_id, ''),
		COALESCE(actor, ''), seq, created_at`

func (p *PostgresStore) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	return p.queryEntries(ctx, `
		SELECT `+entryColumns+`
		FROM wallet_ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2`, userID, limit)
}

func (p *PostgresStore) HistoryBefore(ctx context.Context, userID string, before time.Time, beforeSeq int64, limit int) ([]*Entry, error) {
	return p.queryEntries(ctx, `
		SELECT `+entryColumns+`
		FROM wallet_ledger_entries
		WHERE user_id = $1 AND (created_at, seq) < ($2, $3)
		ORDER BY created_at DESC, seq DESC
		LIMIT $4`, userID, before, beforeSeq, limit)
}

func (p *PostgresStore) queryEntries(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var amount, availDelta, heldDelta, availAfter, heldAfter string
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Type, &e.Direction, &amount,
			&availDelta, &heldDelta, &availAfter, &heldAfter,
			&e.Note, &e.ReferenceType, &e.ReferenceID,
			&e.Actor, &e.Seq, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("wallet: corrupt amount on entry %s: %w", e.ID, err)
		}
		e.AvailableDelta, _ = decimal.NewFromString(availDelta)
		e.HeldDelta, _ = decimal.NewFromString(heldDelta)
		e.AvailableAfter, _ = decimal.NewFromString(availAfter)
		e.HeldAfter, _ = decimal.NewFromString(heldAfter)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(s scanner) (*Account, error) {
	acct := &Account{}
	var available, held string
	err := s.Scan(&acct.UserID, &available, &held, &acct.CreatedAt, &acct.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	if acct.Available, err = decimal.NewFromString(available); err != nil {
		return nil, fmt.Errorf("wallet: corrupt available balance for %s: %w", acct.UserID, err)
	}
	if acct.Held, err = decimal.NewFromString(held); err != nil {
		return nil, fmt.Errorf("wallet: corrupt held balance for %s: %w", acct.UserID, err)
	}
	return acct, nil
}

func distinctUsers(reqs []EntryRequest) []string {
	seen := make(map[string]struct{}, len(reqs))
	var users []string
	for i := range reqs {
		if _, ok := seen[reqs[i].UserID]; ok {
			continue
		}
		seen[reqs[i].UserID] = struct{}{}
		users = append(users, reqs[i].UserID)
	}
	sort.Strings(users)
	return users
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
