// Package order implements the escrow order lifecycle: payment into
// escrow at purchase, delivery, buyer confirmation or dispute, and the
// release or refund of held funds.
//
// Every money movement goes through the wallet ledger as a single
// atomic batch. Status changes that move money are guarded at the
// store: a transactional store commits the status write and the ledger
// legs together, and the in-memory store claims the status with a
// compare-and-swap before the batch is applied.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playstash/playstash/internal/idgen"
	"github.com/playstash/playstash/internal/listing"
	"github.com/playstash/playstash/internal/logging"
	"github.com/playstash/playstash/internal/metrics"
	"github.com/playstash/playstash/internal/money"
	"github.com/playstash/playstash/internal/syncutil"
	"github.com/playstash/playstash/internal/traces"
	"github.com/playstash/playstash/internal/wallet"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrDisputeNotFound    = errors.New("dispute not found")
	ErrNotBuyer           = errors.New("only the order's buyer may do this")
	ErrNotSeller          = errors.New("only the order's seller may do this")
	ErrSelfPurchase       = errors.New("cannot buy your own listing")
	ErrInvalidQuantity    = errors.New("quantity must be at least 1")
	ErrListingUnavailable = errors.New("listing is not available for purchase")
	ErrInsufficientStock  = errors.New("not enough stock")
	ErrInvalidState       = errors.New("order is not in a valid state for this operation")
	ErrDisputeOpen        = errors.New("a dispute is already open for this order")
	ErrDisputeResolved    = errors.New("dispute is already resolved")
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPendingDelivery Status = "pending_delivery"
	StatusDelivered       Status = "delivered"
	StatusCompleted       Status = "completed"
	StatusDisputed        Status = "disputed"
	StatusRefunded        Status = "refunded"
	StatusCancelled       Status = "cancelled"
)

// DisputeStatus is the state of an order's dispute.
type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

// Order is a purchase moving through escrow. Created once at purchase
// time and mutated only through lifecycle operations.
type Order struct {
	ID               string          `json:"id"`
	BuyerID          string          `json:"buyerId"`
	SellerID         string          `json:"sellerId"`
	ListingID        string          `json:"listingId"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unitPrice"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	PlatformFee      decimal.Decimal `json:"platformFee"`
	SellerNet        decimal.Decimal `json:"sellerNet"`
	Status           Status          `json:"status"`
	DeliveryNote     string          `json:"deliveryNote,omitempty"`
	PaidAt           time.Time       `json:"paidAt"`
	DeliveredAt      *time.Time      `json:"deliveredAt,omitempty"`
	AutoReleaseAt    *time.Time      `json:"autoReleaseAt,omitempty"`
	BuyerConfirmedAt *time.Time      `json:"buyerConfirmedAt,omitempty"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Dispute is a buyer complaint attached to an order, at most one per
// order. A resolved dispute is reactivated in place if the buyer
// disputes again.
type Dispute struct {
	ID             string        `json:"id"`
	OrderID        string        `json:"orderId"`
	Reason         string        `json:"reason"`
	Details        string        `json:"details,omitempty"`
	Status         DisputeStatus `json:"status"`
	ResolutionNote string        `json:"resolutionNote,omitempty"`
	ResolvedBy     string        `json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time    `json:"resolvedAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Store persists orders and disputes.
type Store interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	UpdateOrder(ctx context.Context, o *Order) error

	// UpdateOrderIf writes o only if the stored row is still in one of
	// the from statuses, returning ErrInvalidState otherwise. This is
	// the guard that keeps two releasers (a second replica, the
	// sweeper racing a buyer confirm) from both passing the same
	// status check.
	UpdateOrderIf(ctx context.Context, o *Order, from ...Status) error

	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Order, error)
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Order, error)

	// ListDueForRelease returns delivered orders whose auto-release
	// deadline is at or before now, oldest deadline first.
	ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]*Order, error)

	CreateDispute(ctx context.Context, d *Dispute) error
	GetDisputeByOrder(ctx context.Context, orderID string) (*Dispute, error)
	UpdateDispute(ctx context.Context, d *Dispute) error
}

// transitioner is implemented by stores that can commit an order status
// change and its ledger legs in a single database transaction, with the
// order row locked and its status re-checked before any money moves.
type transitioner interface {
	Transition(ctx context.Context, o *Order, reqs []wallet.EntryRequest, from ...Status) ([]*wallet.Entry, error)
}

// purchaser is implemented by stores that can commit the stock
// decrement, escrow legs and order insert of a purchase atomically.
type purchaser interface {
	CreatePurchase(ctx context.Context, o *Order, reqs []wallet.EntryRequest) ([]*wallet.Entry, error)
}

// Service implements the order lifecycle engine.
type Service struct {
	store      Store
	ledger     *wallet.Ledger
	listings   listing.Store
	locks      *syncutil.ShardedMutex
	feePercent decimal.Decimal
	holdWindow time.Duration
	now        func() time.Time
}

// NewService creates a new order service. feePercent is the platform
// fee in percent (e.g. 5.00); holdWindow is how long after delivery
// funds stay held before auto-release.
func NewService(store Store, ledger *wallet.Ledger, listings listing.Store, feePercent decimal.Decimal, holdWindow time.Duration) *Service {
	return &Service{
		store:      store,
		ledger:     ledger,
		listings:   listings,
		locks:      &syncutil.ShardedMutex{},
		feePercent: feePercent,
		holdWindow: holdWindow,
		now:        time.Now,
	}
}

// WithClock overrides the time source (for tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func lockKeyOrder(id string) string   { return "order:" + id }
func lockKeyListing(id string) string { return "listing:" + id }
func lockKeyWallet(id string) string  { return "wallet:" + id }

// Create purchases quantity units of a listing. Funds move buyer
// available -> seller held; the fee is carved out of held funds only at
// release time.
func (s *Service) Create(ctx context.Context, buyerID, listingID string, quantity int) (*Order, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	ctx, span := traces.StartSpan(ctx, "order.create",
		traces.UserID(buyerID), traces.ListingID(listingID))
	defer span.End()

	// First read is only to learn the seller for lock acquisition;
	// everything is re-checked under the locks.
	l, err := s.listings.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.SellerID == buyerID {
		return nil, ErrSelfPurchase
	}

	unlock := s.locks.LockAll(lockKeyListing(listingID), lockKeyWallet(buyerID), lockKeyWallet(l.SellerID))
	defer unlock()

	l, err = s.listings.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.SellerID == buyerID {
		return nil, ErrSelfPurchase
	}
	if l.Status != listing.StatusActive {
		return nil, ErrListingUnavailable
	}
	if l.Stock < quantity {
		return nil, ErrInsufficientStock
	}

	// Both parties get a wallet row before any entry is appended, so a
	// rejected debit still leaves the seller's wallet queryable.
	if _, err := s.ledger.GetOrCreateWallet(ctx, buyerID); err != nil {
		return nil, err
	}
	if _, err := s.ledger.GetOrCreateWallet(ctx, l.SellerID); err != nil {
		return nil, err
	}

	total := money.Total(l.UnitPrice, quantity)
	fee := money.Fee(total, s.feePercent)
	net := total.Sub(fee)
	now := s.now()

	o := &Order{
		ID:          idgen.WithPrefix("ord_"),
		BuyerID:     buyerID,
		SellerID:    l.SellerID,
		ListingID:   l.ID,
		Quantity:    quantity,
		UnitPrice:   l.UnitPrice,
		TotalAmount: total,
		PlatformFee: fee,
		SellerNet:   net,
		Status:      StatusPendingDelivery,
		PaidAt:      now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	reqs := []wallet.EntryRequest{
		{
			UserID:         buyerID,
			Type:           wallet.EntryOrderPayment,
			Direction:      wallet.DirectionDebit,
			Amount:         total,
			AvailableDelta: total.Neg(),
			Note:           fmt.Sprintf("Payment for %q x%d", l.Title, quantity),
			ReferenceType:  "order",
			ReferenceID:    o.ID,
			Actor:          buyerID,
		},
		{
			UserID:        l.SellerID,
			Type:          wallet.EntryOrderSaleHold,
			Direction:     wallet.DirectionCredit,
			Amount:        total,
			HeldDelta:     total,
			Note:          fmt.Sprintf("Sale of %q x%d held in escrow", l.Title, quantity),
			ReferenceType: "order",
			ReferenceID:   o.ID,
			Actor:         buyerID,
		},
	}

	// A transactional store commits the stock decrement, escrow legs
	// and order row together. The fallback decrements stock first and
	// compensates on failure.
	if pc, ok := s.store.(purchaser); ok {
		entries, err := pc.CreatePurchase(ctx, o, reqs)
		if err != nil {
			return nil, err
		}
		countLedgerEntries(entries)
	} else {
		l.Stock -= quantity
		if l.Stock == 0 {
			l.Status = listing.StatusSoldOut
		}
		l.UpdatedAt = now
		if err := s.listings.Update(ctx, l); err != nil {
			return nil, fmt.Errorf("decrement stock: %w", err)
		}

		if _, err := s.ledger.AppendAll(ctx, reqs); err != nil {
			s.restoreStock(ctx, l.ID, quantity)
			return nil, err
		}

		if err := s.store.CreateOrder(ctx, o); err != nil {
			s.compensatePayment(ctx, o)
			s.restoreStock(ctx, l.ID, quantity)
			return nil, fmt.Errorf("create order: %w", err)
		}
	}

	metrics.OrdersTotal.WithLabelValues(string(StatusPendingDelivery)).Inc()
	return o, nil
}

// countLedgerEntries records entries that were written outside
// Ledger.AppendAll, inside a store-owned transaction.
func countLedgerEntries(entries []*wallet.Entry) {
	for _, e := range entries {
		metrics.LedgerEntriesTotal.WithLabelValues(string(e.Type)).Inc()
	}
}

// transition moves an order into the state carried by o while applying
// the ledger batch, guarded by the from statuses. A transactional store
// commits both in one transaction. Otherwise the status is claimed
// first so a concurrent caller cannot pass the same guard, and the
// claim is rolled back to prev if the ledger rejects the batch.
func (s *Service) transition(ctx context.Context, o, prev *Order, reqs []wallet.EntryRequest, from ...Status) error {
	if tr, ok := s.store.(transitioner); ok {
		entries, err := tr.Transition(ctx, o, reqs, from...)
		if err != nil {
			return err
		}
		countLedgerEntries(entries)
		return nil
	}

	if err := s.store.UpdateOrderIf(ctx, o, from...); err != nil {
		return err
	}
	if _, err := s.ledger.AppendAll(ctx, reqs); err != nil {
		if revertErr := s.store.UpdateOrder(ctx, prev); revertErr != nil {
			logging.L(ctx).Error("CRITICAL: ledger batch failed and order status revert also failed",
				"order_id", o.ID, "error", err, "revert_error", revertErr)
		}
		return err
	}
	return nil
}

// restoreStock undoes a stock decrement after a later step failed.
func (s *Service) restoreStock(ctx context.Context, listingID string, quantity int) {
	l, err := s.listings.Get(ctx, listingID)
	if err == nil {
		l.Stock += quantity
		if l.Status == listing.StatusSoldOut {
			l.Status = listing.StatusActive
		}
		l.UpdatedAt = s.now()
		err = s.listings.Update(ctx, l)
	}
	if err != nil {
		logging.L(ctx).Error("CRITICAL: failed to restore listing stock after aborted order",
			"listing_id", listingID, "quantity", quantity, "error", err)
	}
}

// compensatePayment reverses the payment legs of an order whose row
// could not be persisted after funds already moved.
func (s *Service) compensatePayment(ctx context.Context, o *Order) {
	_, err := s.ledger.AppendAll(ctx, []wallet.EntryRequest{
		{
			UserID:         o.BuyerID,
			Type:           wallet.EntryAdjustment,
			Direction:      wallet.DirectionCredit,
			Amount:         o.TotalAmount,
			AvailableDelta: o.TotalAmount,
			Note:           "Reversal of aborted order payment",
			ReferenceType:  "order",
			ReferenceID:    o.ID,
		},
		{
			UserID:        o.SellerID,
			Type:          wallet.EntryAdjustment,
			Direction:     wallet.DirectionDebit,
			Amount:        o.TotalAmount,
			HeldDelta:     o.TotalAmount.Neg(),
			Note:          "Reversal of aborted order escrow hold",
			ReferenceType: "order",
			ReferenceID:   o.ID,
		},
	})
	if err != nil {
		logging.L(ctx).Error("CRITICAL: order row creation failed and payment reversal also failed; funds are held without an order",
			"order_id", o.ID, "buyer_id", o.BuyerID, "seller_id", o.SellerID,
			"amount", o.TotalAmount.StringFixed(2), "error", err)
	}
}

// Get returns an order by ID.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.store.GetOrder(ctx, id)
}

// GetDispute returns the dispute attached to an order, if any.
func (s *Service) GetDispute(ctx context.Context, orderID string) (*Dispute, error) {
	return s.store.GetDisputeByOrder(ctx, orderID)
}

// ListByBuyer returns a buyer's orders, newest first.
func (s *Service) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByBuyer(ctx, buyerID, limit)
}

// ListBySeller returns a seller's orders, newest first.
func (s *Service) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListBySeller(ctx, sellerID, limit)
}

// MarkDelivered records that the seller handed over the goods and
// starts the auto-release clock.
func (s *Service) MarkDelivered(ctx context.Context, orderID, actor, note string) (*Order, error) {
	unlock := s.locks.Lock(lockKeyOrder(orderID))
	defer unlock()

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.SellerID != actor {
		return nil, ErrNotSeller
	}
	if o.Status != StatusPendingDelivery {
		return nil, ErrInvalidState
	}

	now := s.now()
	releaseAt := now.Add(s.holdWindow)
	o.Status = StatusDelivered
	o.DeliveryNote = note
	o.DeliveredAt = &now
	o.AutoReleaseAt = &releaseAt
	o.UpdatedAt = now
	if err := s.store.UpdateOrderIf(ctx, o, StatusPendingDelivery); err != nil {
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues(string(StatusDelivered)).Inc()
	return o, nil
}

// ConfirmDelivery is the buyer accepting the goods; it releases the
// escrowed funds to the seller.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID, actor string) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != actor {
		return nil, ErrNotBuyer
	}

	unlock := s.locks.LockAll(lockKeyOrder(orderID), lockKeyWallet(o.SellerID))
	defer unlock()
	return s.releaseFunds(ctx, orderID, actor, false, false, "")
}

// ReleaseByAdmin forces the escrow release of a delivered or disputed
// order on behalf of the platform.
func (s *Service) ReleaseByAdmin(ctx context.Context, orderID, adminID, note string) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.LockAll(lockKeyOrder(orderID), lockKeyWallet(o.SellerID))
	defer unlock()
	return s.releaseFunds(ctx, orderID, adminID, true, false, note)
}

// releaseFunds moves the seller's net from held to available, captures
// the platform fee from held, and completes the order. Callers must
// hold the order and seller wallet locks.
func (s *Service) releaseFunds(ctx context.Context, orderID, actor string, actorIsAdmin, byAuto bool, note string) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusDelivered && o.Status != StatusDisputed {
		return nil, ErrInvalidState
	}
	// A dispute opened after the due-list query blocks auto-release;
	// only a manual actor may release a disputed order. The from set is
	// re-checked at the store, where a stale read cannot slip past it.
	from := []Status{StatusDelivered, StatusDisputed}
	if byAuto {
		from = []Status{StatusDelivered}
		if o.Status != StatusDelivered {
			return nil, ErrInvalidState
		}
	}

	reqs := []wallet.EntryRequest{
		{
			UserID:         o.SellerID,
			Type:           wallet.EntryOrderSaleRelease,
			Direction:      wallet.DirectionTransfer,
			Amount:         o.SellerNet,
			AvailableDelta: o.SellerNet,
			HeldDelta:      o.SellerNet.Neg(),
			Note:           "Escrow released",
			ReferenceType:  "order",
			ReferenceID:    o.ID,
			Actor:          actor,
		},
	}
	if o.PlatformFee.IsPositive() {
		reqs = append(reqs, wallet.EntryRequest{
			UserID:        o.SellerID,
			Type:          wallet.EntryOrderFeeCapture,
			Direction:     wallet.DirectionDebit,
			Amount:        o.PlatformFee,
			HeldDelta:     o.PlatformFee.Neg(),
			Note:          "Platform fee",
			ReferenceType: "order",
			ReferenceID:   o.ID,
			Actor:         actor,
		})
	}
	prev := *o
	now := s.now()
	o.Status = StatusCompleted
	o.CompletedAt = &now
	if actor == o.BuyerID && !byAuto {
		o.BuyerConfirmedAt = &now
	}
	o.UpdatedAt = now
	if err := s.transition(ctx, o, &prev, reqs, from...); err != nil {
		return nil, err
	}

	s.resolveOpenDispute(ctx, o.ID, actor, actorIsAdmin, defaultNote(note, "Resolved by funds release."))

	metrics.OrdersTotal.WithLabelValues(string(StatusCompleted)).Inc()
	if byAuto {
		metrics.AutoReleasedTotal.Inc()
	}
	return o, nil
}

// OpenDispute puts a delivered order into the disputed state, blocking
// auto-release until an admin resolves it. A previously resolved
// dispute is reopened in place.
func (s *Service) OpenDispute(ctx context.Context, orderID, actor, reason, details string) (*Dispute, error) {
	unlock := s.locks.Lock(lockKeyOrder(orderID))
	defer unlock()

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != actor {
		return nil, ErrNotBuyer
	}
	if o.Status != StatusDelivered {
		return nil, ErrInvalidState
	}

	now := s.now()
	d, err := s.store.GetDisputeByOrder(ctx, orderID)
	if err != nil && !errors.Is(err, ErrDisputeNotFound) {
		return nil, err
	}
	if err == nil && d.Status == DisputeOpen {
		return nil, ErrDisputeOpen
	}

	// Claim the order before writing the dispute. A concurrent release
	// or a second dispute attempt fails the status guard here instead
	// of both proceeding.
	prev := *o
	o.Status = StatusDisputed
	o.UpdatedAt = now
	if err := s.store.UpdateOrderIf(ctx, o, StatusDelivered); err != nil {
		return nil, err
	}

	if d != nil {
		d.Status = DisputeOpen
		d.Reason = reason
		d.Details = details
		d.ResolutionNote = ""
		d.ResolvedBy = ""
		d.ResolvedAt = nil
		d.UpdatedAt = now
		err = s.store.UpdateDispute(ctx, d)
	} else {
		d = &Dispute{
			ID:        idgen.WithPrefix("dsp_"),
			OrderID:   orderID,
			Reason:    reason,
			Details:   details,
			Status:    DisputeOpen,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = s.store.CreateDispute(ctx, d)
	}
	if err != nil {
		if revertErr := s.store.UpdateOrder(ctx, &prev); revertErr != nil {
			logging.L(ctx).Error("CRITICAL: dispute write failed and order status revert also failed",
				"order_id", orderID, "error", err, "revert_error", revertErr)
		}
		return nil, err
	}

	metrics.DisputesOpenedTotal.Inc()
	return d, nil
}

// Refund returns the full order total from the seller's held balance to
// the buyer's available balance. No fee is captured; fees are only
// realized on successful completion.
func (s *Service) Refund(ctx context.Context, orderID, actor, note string) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.LockAll(lockKeyOrder(orderID), lockKeyWallet(o.BuyerID), lockKeyWallet(o.SellerID))
	defer unlock()
	return s.refund(ctx, orderID, actor, note)
}

func (s *Service) refund(ctx context.Context, orderID, actor, note string) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch o.Status {
	case StatusPendingDelivery, StatusDelivered, StatusDisputed:
	default:
		return nil, ErrInvalidState
	}
	from := []Status{StatusPendingDelivery, StatusDelivered, StatusDisputed}

	reqs := []wallet.EntryRequest{
		{
			UserID:        o.SellerID,
			Type:          wallet.EntryOrderRefund,
			Direction:     wallet.DirectionDebit,
			Amount:        o.TotalAmount,
			HeldDelta:     o.TotalAmount.Neg(),
			Note:          defaultNote(note, "Order refunded"),
			ReferenceType: "order",
			ReferenceID:   o.ID,
			Actor:         actor,
		},
		{
			UserID:         o.BuyerID,
			Type:           wallet.EntryOrderRefund,
			Direction:      wallet.DirectionCredit,
			Amount:         o.TotalAmount,
			AvailableDelta: o.TotalAmount,
			Note:           defaultNote(note, "Order refunded"),
			ReferenceType:  "order",
			ReferenceID:    o.ID,
			Actor:          actor,
		},
	}

	prev := *o
	now := s.now()
	o.Status = StatusRefunded
	o.CompletedAt = &now
	o.UpdatedAt = now
	if err := s.transition(ctx, o, &prev, reqs, from...); err != nil {
		return nil, err
	}

	s.resolveOpenDispute(ctx, o.ID, actor, true, defaultNote(note, "Resolved by refund."))

	metrics.OrdersTotal.WithLabelValues(string(StatusRefunded)).Inc()
	return o, nil
}

// ResolveDisputeSellerWin closes an open dispute in the seller's favor
// by releasing the escrowed funds.
func (s *Service) ResolveDisputeSellerWin(ctx context.Context, orderID, reviewerID, note string) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.LockAll(lockKeyOrder(orderID), lockKeyWallet(o.SellerID))
	defer unlock()

	if err := s.requireOpenDispute(ctx, orderID); err != nil {
		return nil, err
	}
	return s.releaseFunds(ctx, orderID, reviewerID, true, false, note)
}

// ResolveDisputeBuyerRefund closes an open dispute in the buyer's favor
// by refunding the full order total.
func (s *Service) ResolveDisputeBuyerRefund(ctx context.Context, orderID, reviewerID, note string) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.LockAll(lockKeyOrder(orderID), lockKeyWallet(o.BuyerID), lockKeyWallet(o.SellerID))
	defer unlock()

	if err := s.requireOpenDispute(ctx, orderID); err != nil {
		return nil, err
	}
	return s.refund(ctx, orderID, reviewerID, note)
}

func (s *Service) requireOpenDispute(ctx context.Context, orderID string) error {
	d, err := s.store.GetDisputeByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if d.Status != DisputeOpen {
		return ErrDisputeResolved
	}
	return nil
}

// resolveOpenDispute marks the order's dispute resolved after funds
// have moved. The resolver is only attributed when the actor acted with
// admin authority.
func (s *Service) resolveOpenDispute(ctx context.Context, orderID, actor string, actorIsAdmin bool, note string) {
	d, err := s.store.GetDisputeByOrder(ctx, orderID)
	if err != nil {
		if !errors.Is(err, ErrDisputeNotFound) {
			logging.L(ctx).Warn("failed to load dispute for resolution", "order_id", orderID, "error", err)
		}
		return
	}
	if d.Status != DisputeOpen {
		return
	}

	now := s.now()
	d.Status = DisputeResolved
	d.ResolutionNote = note
	d.ResolvedAt = &now
	d.UpdatedAt = now
	if actorIsAdmin {
		d.ResolvedBy = actor
	}
	if err := s.store.UpdateDispute(ctx, d); err != nil {
		logging.L(ctx).Error("CRITICAL: funds moved but dispute resolution update failed",
			"order_id", orderID, "dispute_id", d.ID, "error", err)
	}
}

// ProcessDueReleases releases every delivered order whose auto-release
// deadline has passed. Failures are logged and skipped per order; the
// returned count is the number of orders actually released. Safe to
// re-run: a prior full success leaves nothing due.
func (s *Service) ProcessDueReleases(ctx context.Context, now time.Time) (int, error) {
	ctx, span := traces.StartSpan(ctx, "order.sweep")
	defer span.End()

	due, err := s.store.ListDueForRelease(ctx, now, 100)
	if err != nil {
		return 0, fmt.Errorf("list due orders: %w", err)
	}

	released := 0
	for _, o := range due {
		if err := s.autoRelease(ctx, o); err != nil {
			// The order may have been confirmed, disputed, or
			// refunded since listing; losing that race is normal.
			logging.L(ctx).Info("skipping auto-release", "order_id", o.ID, "error", err)
			continue
		}
		released++
	}
	return released, nil
}

func (s *Service) autoRelease(ctx context.Context, o *Order) error {
	unlock := s.locks.LockAll(lockKeyOrder(o.ID), lockKeyWallet(o.SellerID))
	defer unlock()

	_, err := s.releaseFunds(ctx, o.ID, "", false, true, "Auto-released after hold window.")
	return err
}

func defaultNote(note, fallback string) string {
	if note == "" {
		return fallback
	}
	return note
}
