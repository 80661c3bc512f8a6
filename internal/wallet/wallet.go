// Package wallet owns custodial balances and the append-only ledger.
//
// Every money movement on the platform — order payment, escrow hold,
// release, fee capture, refund, deposit credit, withdrawal hold/release/
// payout — is one or more ledger entries applied through Append or
// AppendAll. Balances are mutated nowhere else. Entries are immutable
// once written; each carries the deltas applied and a snapshot of the
// wallet's balances after application.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playstash/playstash/internal/metrics"
	"github.com/playstash/playstash/internal/money"
	"github.com/playstash/playstash/internal/pagination"
)

var (
	ErrWalletNotFound        = errors.New("wallet not found")
	ErrInsufficientFunds     = errors.New("insufficient available balance")
	ErrInsufficientHeldFunds = errors.New("insufficient held balance")
	ErrInvalidAmount         = errors.New("invalid amount")
)

// Direction classifies how an entry moves money relative to the wallet.
type Direction string

const (
	DirectionCredit   Direction = "credit"
	DirectionDebit    Direction = "debit"
	DirectionTransfer Direction = "transfer" // between available and held
)

// EntryType identifies the business operation behind a ledger entry.
type EntryType string

const (
	EntryDepositCredit     EntryType = "deposit_credit"
	EntryWithdrawalHold    EntryType = "withdrawal_hold"
	EntryWithdrawalRelease EntryType = "withdrawal_release"
	EntryWithdrawalPaid    EntryType = "withdrawal_paid"
	EntryOrderPayment      EntryType = "order_payment"
	EntryOrderSaleHold     EntryType = "order_sale_hold"
	EntryOrderSaleRelease  EntryType = "order_sale_release"
	EntryOrderFeeCapture   EntryType = "order_fee_capture"
	EntryOrderRefund       EntryType = "order_refund"
	EntryAdjustment        EntryType = "adjustment"
)

// Account is a user's custodial wallet. Both balances are always >= 0.
type Account struct {
	UserID    string          `json:"userId"`
	Available decimal.Decimal `json:"available"`
	Held      decimal.Decimal `json:"held"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Entry is an immutable audit record of a single balance change.
type Entry struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Type           EntryType       `json:"type"`
	Direction      Direction       `json:"direction"`
	Amount         decimal.Decimal `json:"amount"`
	AvailableDelta decimal.Decimal `json:"availableDelta"`
	HeldDelta      decimal.Decimal `json:"heldDelta"`
	AvailableAfter decimal.Decimal `json:"availableAfter"`
	HeldAfter      decimal.Decimal `json:"heldAfter"`
	Note           string          `json:"note,omitempty"`
	ReferenceType  string          `json:"referenceType,omitempty"`
	ReferenceID    string          `json:"referenceId,omitempty"`
	Actor          string          `json:"actor,omitempty"` // empty for system-triggered
	Seq            int64           `json:"seq"`             // insertion sequence, tie-breaks ordering
	CreatedAt      time.Time       `json:"createdAt"`
}

// EntryRequest describes one entry to append.
type EntryRequest struct {
	UserID         string
	Type           EntryType
	Direction      Direction
	Amount         decimal.Decimal
	AvailableDelta decimal.Decimal
	HeldDelta      decimal.Decimal
	Note           string
	ReferenceType  string
	ReferenceID    string
	Actor          string
}

// Store persists wallet accounts and ledger entries.
//
// ApplyEntries is the atomicity boundary: every request in the batch is
// applied, in order, in a single transaction, or none are. Implementations
// must lock affected wallet rows in ascending user-ID order so concurrent
// batches over overlapping wallets cannot deadlock, and must fail with
// ErrInsufficientFunds / ErrInsufficientHeldFunds if any intermediate
// balance would go negative.
type Store interface {
	GetOrCreate(ctx context.Context, userID string) (*Account, error)
	Get(ctx context.Context, userID string) (*Account, error)
	ApplyEntries(ctx context.Context, reqs []EntryRequest) ([]*Entry, error)
	History(ctx context.Context, userID string, limit int) ([]*Entry, error)

	// HistoryBefore returns entries strictly older than the
	// (before, beforeSeq) position, newest first.
	HistoryBefore(ctx context.Context, userID string, before time.Time, beforeSeq int64, limit int) ([]*Entry, error)
}

// Ledger is the sole balance-mutation surface of the platform.
type Ledger struct {
	store Store
}

// NewLedger creates a ledger over the given store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// GetOrCreateWallet returns the user's wallet, creating it on first access.
// Safe under a concurrent first-access race: the store guarantees a single
// account per user.
func (l *Ledger) GetOrCreateWallet(ctx context.Context, userID string) (*Account, error) {
	if userID == "" {
		return nil, fmt.Errorf("wallet: empty user id")
	}
	return l.store.GetOrCreate(ctx, userID)
}

// Balance returns the user's current wallet state.
func (l *Ledger) Balance(ctx context.Context, userID string) (*Account, error) {
	return l.store.Get(ctx, userID)
}

// Append applies a single entry atomically and returns the written record.
func (l *Ledger) Append(ctx context.Context, req EntryRequest) (*Entry, error) {
	entries, err := l.AppendAll(ctx, []EntryRequest{req})
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// AppendAll applies a batch of entries in one atomic step. Used for
// multi-leg movements (buyer debit + seller hold, refund reversal + credit)
// that must not be observable half-applied.
func (l *Ledger) AppendAll(ctx context.Context, reqs []EntryRequest) ([]*Entry, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("wallet: empty entry batch")
	}
	for i := range reqs {
		if err := validateRequest(&reqs[i]); err != nil {
			return nil, err
		}
	}
	entries, err := l.store.ApplyEntries(ctx, reqs)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		metrics.LedgerEntriesTotal.WithLabelValues(string(e.Type)).Inc()
	}
	return entries, nil
}

// History returns a user's ledger entries, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.History(ctx, userID, limit)
}

// HistoryPage returns one page of a user's ledger entries plus an
// opaque cursor for the next page. An empty cursor starts at the
// newest entry.
func (l *Ledger) HistoryPage(ctx context.Context, userID, cursor string, limit int) ([]*Entry, string, error) {
	if limit <= 0 {
		limit = 50
	}

	pos, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", err
	}

	var entries []*Entry
	if pos == nil {
		entries, err = l.store.History(ctx, userID, limit+1)
	} else {
		seq, serr := strconv.ParseInt(pos.ID, 10, 64)
		if serr != nil {
			return nil, "", pagination.ErrBadCursor
		}
		entries, err = l.store.HistoryBefore(ctx, userID, pos.CreatedAt, seq, limit+1)
	}
	if err != nil {
		return nil, "", err
	}

	page, next, _ := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, string) {
		return e.CreatedAt, strconv.FormatInt(e.Seq, 10)
	})
	return page, next, nil
}

func validateRequest(req *EntryRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("wallet: entry without user id")
	}
	if req.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	// Amounts and deltas must already be at currency precision.
	if !req.Amount.Equal(money.Quantize(req.Amount)) ||
		!req.AvailableDelta.Equal(money.Quantize(req.AvailableDelta)) ||
		!req.HeldDelta.Equal(money.Quantize(req.HeldDelta)) {
		return ErrInvalidAmount
	}
	switch req.Direction {
	case DirectionCredit, DirectionDebit, DirectionTransfer:
	default:
		return fmt.Errorf("wallet: unknown direction %q", req.Direction)
	}
	return nil
}
