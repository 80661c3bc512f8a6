package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playstash/playstash/internal/idgen"
	"github.com/playstash/playstash/internal/metrics"
	"github.com/playstash/playstash/internal/money"
	"github.com/playstash/playstash/internal/syncutil"
)

var (
	ErrDepositNotFound      = errors.New("deposit ticket not found")
	ErrWithdrawalNotFound   = errors.New("withdrawal request not found")
	ErrInvalidFundingStatus = errors.New("invalid status for this operation")
	ErrInvalidPayoutMethod  = errors.New("invalid payout method")
	ErrMissingAccountTitle  = errors.New("account title is required")
	ErrMissingAccountNumber = errors.New("account number / wallet number / IBAN is required")
	ErrMissingBankName      = errors.New("bank name is required for bank transfer withdrawals")
)

// DepositStatus tracks a deposit ticket through manual review.
type DepositStatus string

const (
	DepositPending  DepositStatus = "pending"
	DepositApproved DepositStatus = "approved"
	DepositRejected DepositStatus = "rejected"
)

// WithdrawalStatus tracks a withdrawal request through review and payout.
type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
	WithdrawalPaid     WithdrawalStatus = "paid"
)

// PaymentMethod enumerates supported off-band payment rails.
type PaymentMethod string

const (
	MethodEasypaisa    PaymentMethod = "easypaisa"
	MethodJazzCash     PaymentMethod = "jazzcash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodSadaPay      PaymentMethod = "sadapay"
	MethodNayaPay      PaymentMethod = "nayapay"
)

// ValidPaymentMethod reports whether m is a supported rail.
func ValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case MethodEasypaisa, MethodJazzCash, MethodBankTransfer, MethodSadaPay, MethodNayaPay:
		return true
	}
	return false
}

// DepositTicket is a user's claim of an off-band cash-in, credited only
// once an admin verifies the receipt.
type DepositTicket struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	Amount           decimal.Decimal `json:"amount"`
	Method           PaymentMethod   `json:"method"`
	PaymentReference string          `json:"paymentReference"`
	TransactionID    string          `json:"transactionId,omitempty"`
	Status           DepositStatus   `json:"status"`
	AdminNote        string          `json:"adminNote,omitempty"`
	ReviewedBy       string          `json:"reviewedBy,omitempty"`
	ReviewedAt       *time.Time      `json:"reviewedAt,omitempty"`
	CreditedAt       *time.Time      `json:"creditedAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// WithdrawalRequest reserves held funds at creation; the reservation is
// settled by reject (release) or pay (funds leave the system).
type WithdrawalRequest struct {
	ID              string           `json:"id"`
	UserID          string           `json:"userId"`
	Amount          decimal.Decimal  `json:"amount"`
	PayoutMethod    PaymentMethod    `json:"payoutMethod"`
	AccountTitle    string           `json:"accountTitle"`
	AccountNumber   string           `json:"accountNumber"`
	BankName        string           `json:"bankName,omitempty"`
	PayoutDetails   string           `json:"payoutDetails,omitempty"`
	Status          WithdrawalStatus `json:"status"`
	AdminNote       string           `json:"adminNote,omitempty"`
	PayoutReference string           `json:"payoutReference,omitempty"`
	ReviewedBy      string           `json:"reviewedBy,omitempty"`
	ReviewedAt      *time.Time       `json:"reviewedAt,omitempty"`
	ReservedAt      *time.Time       `json:"reservedAt,omitempty"`
	PaidAt          *time.Time       `json:"paidAt,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// FundingStore persists deposit tickets and withdrawal requests.
type FundingStore interface {
	CreateDeposit(ctx context.Context, t *DepositTicket) error
	GetDeposit(ctx context.Context, id string) (*DepositTicket, error)
	UpdateDeposit(ctx context.Context, t *DepositTicket) error
	ListDepositsByStatus(ctx context.Context, status DepositStatus, limit int) ([]*DepositTicket, error)

	CreateWithdrawal(ctx context.Context, w *WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, id string) (*WithdrawalRequest, error)
	UpdateWithdrawal(ctx context.Context, w *WithdrawalRequest) error
	ListWithdrawalsByStatus(ctx context.Context, status WithdrawalStatus, limit int) ([]*WithdrawalRequest, error)
}

// Funding implements the deposit/withdrawal reservation flows on top of
// the ledger's append primitive.
type Funding struct {
	store  FundingStore
	ledger *Ledger
	locks  syncutil.ShardedMutex
	now    func() time.Time
}

// NewFunding creates the funding service.
func NewFunding(store FundingStore, ledger *Ledger) *Funding {
	return &Funding{
		store:  store,
		ledger: ledger,
		now:    time.Now,
	}
}

// WithClock overrides the time source (for tests).
func (f *Funding) WithClock(now func() time.Time) *Funding {
	f.now = now
	return f
}

// SubmitRequest carries user input for a new deposit ticket.
type SubmitDepositRequest struct {
	UserID           string `json:"-"`
	Amount           string `json:"amount" binding:"required"`
	Method           string `json:"method" binding:"required"`
	PaymentReference string `json:"paymentReference" binding:"required"`
	TransactionID    string `json:"transactionId"`
}

// SubmitDeposit records a pending cash-in claim. No balance effect until
// an admin approves it.
func (f *Funding) SubmitDeposit(ctx context.Context, req SubmitDepositRequest) (*DepositTicket, error) {
	amount, err := parsePositiveAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	method := PaymentMethod(req.Method)
	if !ValidPaymentMethod(method) {
		return nil, ErrInvalidPayoutMethod
	}
	if strings.TrimSpace(req.PaymentReference) == "" {
		return nil, fmt.Errorf("wallet: payment reference is required")
	}

	now := f.now()
	t := &DepositTicket{
		ID:               idgen.WithPrefix("dep_"),
		UserID:           req.UserID,
		Amount:           amount,
		Method:           method,
		PaymentReference: strings.TrimSpace(req.PaymentReference),
		TransactionID:    strings.TrimSpace(req.TransactionID),
		Status:           DepositPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := f.store.CreateDeposit(ctx, t); err != nil {
		return nil, err
	}
	metrics.DepositsTotal.WithLabelValues(string(t.Status)).Inc()
	return t, nil
}

// ApproveDeposit credits the user's available balance and stamps the
// ticket. Pending tickets only.
func (f *Funding) ApproveDeposit(ctx context.Context, id, reviewer, note string) (*DepositTicket, error) {
	unlock := f.locks.Lock(id)
	defer unlock()

	t, err := f.store.GetDeposit(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != DepositPending {
		return nil, ErrInvalidFundingStatus
	}

	if note == "" {
		note = "Deposit approved and credited."
	}
	if _, err := f.ledger.Append(ctx, EntryRequest{
		UserID:         t.UserID,
		Type:           EntryDepositCredit,
		Direction:      DirectionCredit,
		Amount:         t.Amount,
		AvailableDelta: t.Amount,
		Note:           note,
		ReferenceType:  "deposit_ticket",
		ReferenceID:    t.ID,
		Actor:          reviewer,
	}); err != nil {
		return nil, err
	}

	now := f.now()
	t.Status = DepositApproved
	t.AdminNote = note
	t.ReviewedBy = reviewer
	t.ReviewedAt = &now
	t.CreditedAt = &now
	t.UpdatedAt = now
	if err := f.store.UpdateDeposit(ctx, t); err != nil {
		return nil, fmt.Errorf("deposit %s credited but ticket update failed: %w", t.ID, err)
	}
	metrics.DepositsTotal.WithLabelValues(string(t.Status)).Inc()
	return t, nil
}

// RejectDeposit marks a pending ticket rejected. No balance effect.
func (f *Funding) RejectDeposit(ctx context.Context, id, reviewer, note string) (*DepositTicket, error) {
	unlock := f.locks.Lock(id)
	defer unlock()

	t, err := f.store.GetDeposit(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != DepositPending {
		return nil, ErrInvalidFundingStatus
	}

	now := f.now()
	t.Status = DepositRejected
	t.AdminNote = note
	t.ReviewedBy = reviewer
	t.ReviewedAt = &now
	t.UpdatedAt = now
	if err := f.store.UpdateDeposit(ctx, t); err != nil {
		return nil, err
	}
	metrics.DepositsTotal.WithLabelValues(string(t.Status)).Inc()
	return t, nil
}

// ReserveWithdrawalRequest carries user input for a new withdrawal.
type ReserveWithdrawalRequest struct {
	UserID        string `json:"-"`
	Amount        string `json:"amount" binding:"required"`
	PayoutMethod  string `json:"payoutMethod" binding:"required"`
	AccountTitle  string `json:"accountTitle"`
	AccountNumber string `json:"accountNumber"`
	BankName      string `json:"bankName"`
	PayoutDetails string `json:"payoutDetails"`
}

// ReserveWithdrawal validates payout details and atomically creates the
// pending request while moving amount from available to held.
func (f *Funding) ReserveWithdrawal(ctx context.Context, req ReserveWithdrawalRequest) (*WithdrawalRequest, error) {
	amount, err := parsePositiveAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	method := PaymentMethod(req.PayoutMethod)
	if !ValidPaymentMethod(method) {
		return nil, ErrInvalidPayoutMethod
	}

	title := strings.TrimSpace(req.AccountTitle)
	number := strings.TrimSpace(req.AccountNumber)
	bank := strings.TrimSpace(req.BankName)
	details := strings.TrimSpace(req.PayoutDetails)

	// Free-text payout details can stand in for structured fields.
	if details != "" {
		if title == "" {
			title = "Manual payout details"
		}
		if number == "" {
			number = "See payout details"
		}
	}
	if title == "" {
		return nil, ErrMissingAccountTitle
	}
	if number == "" {
		return nil, ErrMissingAccountNumber
	}
	if method == MethodBankTransfer && bank == "" {
		return nil, ErrMissingBankName
	}
	if details == "" {
		details = title + " | " + number
		if bank != "" {
			details = details + " | " + bank
		}
	}

	unlock := f.locks.Lock(req.UserID)
	defer unlock()

	now := f.now()
	w := &WithdrawalRequest{
		ID:            idgen.WithPrefix("wdr_"),
		UserID:        req.UserID,
		Amount:        amount,
		PayoutMethod:  method,
		AccountTitle:  title,
		AccountNumber: number,
		BankName:      bank,
		PayoutDetails: details,
		Status:        WithdrawalPending,
		ReservedAt:    &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// The hold entry fails with ErrInsufficientFunds before the request
	// exists, so a failed reservation leaves no trace.
	if _, err := f.ledger.Append(ctx, EntryRequest{
		UserID:         req.UserID,
		Type:           EntryWithdrawalHold,
		Direction:      DirectionTransfer,
		Amount:         amount,
		AvailableDelta: amount.Neg(),
		HeldDelta:      amount,
		Note:           "Funds reserved for withdrawal request.",
		ReferenceType:  "withdrawal_request",
		ReferenceID:    w.ID,
		Actor:          req.UserID,
	}); err != nil {
		return nil, err
	}

	if err := f.store.CreateWithdrawal(ctx, w); err != nil {
		// Unwind the hold; the request row never existed.
		if _, rbErr := f.ledger.Append(ctx, EntryRequest{
			UserID:         req.UserID,
			Type:           EntryWithdrawalRelease,
			Direction:      DirectionTransfer,
			Amount:         amount,
			AvailableDelta: amount,
			HeldDelta:      amount.Neg(),
			Note:           "Reservation reversed after request creation failure.",
			ReferenceType:  "withdrawal_request",
			ReferenceID:    w.ID,
		}); rbErr != nil {
			return nil, fmt.Errorf("withdrawal %s hold stuck after create failure (%v): %w", w.ID, rbErr, err)
		}
		return nil, err
	}
	metrics.WithdrawalsTotal.WithLabelValues(string(w.Status)).Inc()
	return w, nil
}

// ApproveWithdrawal moves a pending request to approved. The hold stays.
func (f *Funding) ApproveWithdrawal(ctx context.Context, id, reviewer, note string) (*WithdrawalRequest, error) {
	unlock := f.locks.Lock(id)
	defer unlock()

	w, err := f.store.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != WithdrawalPending {
		return nil, ErrInvalidFundingStatus
	}

	now := f.now()
	w.Status = WithdrawalApproved
	w.AdminNote = note
	w.ReviewedBy = reviewer
	w.ReviewedAt = &now
	w.UpdatedAt = now
	if err := f.store.UpdateWithdrawal(ctx, w); err != nil {
		return nil, err
	}
	metrics.WithdrawalsTotal.WithLabelValues(string(w.Status)).Inc()
	return w, nil
}

// RejectWithdrawal releases the held funds back to available and marks
// the request rejected. Pending and approved requests only.
func (f *Funding) RejectWithdrawal(ctx context.Context, id, reviewer, note string) (*WithdrawalRequest, error) {
	unlock := f.locks.Lock(id)
	defer unlock()

	w, err := f.store.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != WithdrawalPending && w.Status != WithdrawalApproved {
		return nil, ErrInvalidFundingStatus
	}

	if note == "" {
		note = "Withdrawal request rejected and funds returned."
	}
	if _, err := f.ledger.Append(ctx, EntryRequest{
		UserID:         w.UserID,
		Type:           EntryWithdrawalRelease,
		Direction:      DirectionTransfer,
		Amount:         w.Amount,
		AvailableDelta: w.Amount,
		HeldDelta:      w.Amount.Neg(),
		Note:           note,
		ReferenceType:  "withdrawal_request",
		ReferenceID:    w.ID,
		Actor:          reviewer,
	}); err != nil {
		return nil, err
	}

	now := f.now()
	w.Status = WithdrawalRejected
	w.AdminNote = note
	w.ReviewedBy = reviewer
	w.ReviewedAt = &now
	w.UpdatedAt = now
	if err := f.store.UpdateWithdrawal(ctx, w); err != nil {
		return nil, fmt.Errorf("withdrawal %s released but request update failed: %w", w.ID, err)
	}
	metrics.WithdrawalsTotal.WithLabelValues(string(w.Status)).Inc()
	return w, nil
}

// PayWithdrawal debits the held amount — funds leave the system — and
// marks the request paid. Pending and approved requests only.
func (f *Funding) PayWithdrawal(ctx context.Context, id, reviewer, note, payoutReference string) (*WithdrawalRequest, error) {
	unlock := f.locks.Lock(id)
	defer unlock()

	w, err := f.store.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status == WithdrawalRejected || w.Status == WithdrawalPaid {
		return nil, ErrInvalidFundingStatus
	}

	if note == "" {
		note = "Withdrawal marked as paid by finance admin."
	}
	if _, err := f.ledger.Append(ctx, EntryRequest{
		UserID:        w.UserID,
		Type:          EntryWithdrawalPaid,
		Direction:     DirectionDebit,
		Amount:        w.Amount,
		HeldDelta:     w.Amount.Neg(),
		Note:          note,
		ReferenceType: "withdrawal_request",
		ReferenceID:   w.ID,
		Actor:         reviewer,
	}); err != nil {
		return nil, err
	}

	now := f.now()
	w.Status = WithdrawalPaid
	w.AdminNote = note
	w.PayoutReference = payoutReference
	w.ReviewedBy = reviewer
	w.ReviewedAt = &now
	w.PaidAt = &now
	w.UpdatedAt = now
	if err := f.store.UpdateWithdrawal(ctx, w); err != nil {
		return nil, fmt.Errorf("withdrawal %s paid but request update failed: %w", w.ID, err)
	}
	metrics.WithdrawalsTotal.WithLabelValues(string(w.Status)).Inc()
	return w, nil
}

// GetDeposit returns a ticket by ID.
func (f *Funding) GetDeposit(ctx context.Context, id string) (*DepositTicket, error) {
	return f.store.GetDeposit(ctx, id)
}

// GetWithdrawal returns a request by ID.
func (f *Funding) GetWithdrawal(ctx context.Context, id string) (*WithdrawalRequest, error) {
	return f.store.GetWithdrawal(ctx, id)
}

// PendingDeposits lists tickets awaiting review.
func (f *Funding) PendingDeposits(ctx context.Context, limit int) ([]*DepositTicket, error) {
	if limit <= 0 {
		limit = 50
	}
	return f.store.ListDepositsByStatus(ctx, DepositPending, limit)
}

// PendingWithdrawals lists requests awaiting review.
func (f *Funding) PendingWithdrawals(ctx context.Context, limit int) ([]*WithdrawalRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	return f.store.ListWithdrawalsByStatus(ctx, WithdrawalPending, limit)
}

func parsePositiveAmount(s string) (decimal.Decimal, error) {
	d, err := money.ParsePositive(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}
