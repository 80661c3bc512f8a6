//go:build integration

package order

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playstash/playstash/internal/listing"
	"github.com/playstash/playstash/internal/testutil"
	"github.com/playstash/playstash/internal/wallet"
)

type pgFixture struct {
	ledger   *wallet.Ledger
	listings *listing.Service
	orders   *Service
	store    *PostgresStore
}

func pgSetup(t *testing.T) (*pgFixture, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)

	ledger := wallet.NewLedger(wallet.NewPostgresStore(db))
	listingStore := listing.NewPostgresStore(db)
	store := NewPostgresStore(db)
	f := &pgFixture{
		ledger:   ledger,
		listings: listing.NewService(listingStore),
		orders:   NewService(store, ledger, listingStore, decimal.RequireFromString("5.00"), 72*time.Hour),
		store:    store,
	}
	return f, cleanup
}

func (f *pgFixture) fund(t *testing.T, userID, amount string) {
	t.Helper()
	amt := decimal.RequireFromString(amount)
	_, err := f.ledger.Append(context.Background(), wallet.EntryRequest{
		UserID:         userID,
		Type:           wallet.EntryDepositCredit,
		Direction:      wallet.DirectionCredit,
		Amount:         amt,
		AvailableDelta: amt,
	})
	require.NoError(t, err)
}

func (f *pgFixture) listItem(t *testing.T, sellerID string, stock int) *listing.Listing {
	t.Helper()
	l, err := f.listings.Create(context.Background(), listing.CreateRequest{
		SellerID:  sellerID,
		Game:      "World of Warcraft",
		Category:  "item",
		Title:     "Epic Mount",
		UnitPrice: "20.00",
		Stock:     stock,
	})
	require.NoError(t, err)
	return l
}

func TestPostgresOrderLifecycle(t *testing.T) {
	f, cleanup := pgSetup(t)
	defer cleanup()
	ctx := context.Background()

	f.fund(t, "pg_buyer", "100.00")
	l := f.listItem(t, "pg_seller", 3)

	o, err := f.orders.Create(ctx, "pg_buyer", l.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingDelivery, o.Status)
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("40.00")))

	// Buyer's available went down, seller holds the full amount.
	buyer, err := f.ledger.Balance(ctx, "pg_buyer")
	require.NoError(t, err)
	assert.True(t, buyer.Available.Equal(decimal.RequireFromString("60.00")), "buyer available = %s", buyer.Available)

	seller, err := f.ledger.Balance(ctx, "pg_seller")
	require.NoError(t, err)
	assert.True(t, seller.Held.Equal(decimal.RequireFromString("40.00")), "seller held = %s", seller.Held)

	_, err = f.orders.MarkDelivered(ctx, o.ID, "pg_seller", "character: Bankalt, mail sent")
	require.NoError(t, err)

	got, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, got.Status)
	require.NotNil(t, got.AutoReleaseAt)

	done, err := f.orders.ConfirmDelivery(ctx, o.ID, "pg_buyer")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	// 5% fee on 40.00 leaves the seller 38.00 available.
	seller, err = f.ledger.Balance(ctx, "pg_seller")
	require.NoError(t, err)
	assert.True(t, seller.Available.Equal(decimal.RequireFromString("38.00")), "seller available = %s", seller.Available)
	assert.True(t, seller.Held.IsZero(), "seller held = %s", seller.Held)
}

func TestPostgresListDueForRelease(t *testing.T) {
	f, cleanup := pgSetup(t)
	defer cleanup()
	ctx := context.Background()

	f.fund(t, "pg_buyer", "100.00")
	l := f.listItem(t, "pg_seller", 3)

	base := time.Now().UTC().Truncate(time.Second)
	f.orders.WithClock(func() time.Time { return base })

	o, err := f.orders.Create(ctx, "pg_buyer", l.ID, 1)
	require.NoError(t, err)
	_, err = f.orders.MarkDelivered(ctx, o.ID, "pg_seller", "")
	require.NoError(t, err)

	due, err := f.store.ListDueForRelease(ctx, base.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "deadline is 72h out, nothing due after 1h")

	due, err = f.store.ListDueForRelease(ctx, base.Add(73*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, o.ID, due[0].ID)

	released, err := f.orders.ProcessDueReleases(ctx, base.Add(73*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	got, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	// Completed orders leave the due queue.
	due, err = f.store.ListDueForRelease(ctx, base.Add(100*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestPostgresDisputeRoundTrip(t *testing.T) {
	f, cleanup := pgSetup(t)
	defer cleanup()
	ctx := context.Background()

	f.fund(t, "pg_buyer", "100.00")
	l := f.listItem(t, "pg_seller", 3)

	o, err := f.orders.Create(ctx, "pg_buyer", l.ID, 1)
	require.NoError(t, err)
	_, err = f.orders.MarkDelivered(ctx, o.ID, "pg_seller", "")
	require.NoError(t, err)

	d, err := f.orders.OpenDispute(ctx, o.ID, "pg_buyer", "item_not_received", "mailbox is empty")
	require.NoError(t, err)
	assert.Equal(t, DisputeOpen, d.Status)

	got, err := f.store.GetDisputeByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, "item_not_received", got.Reason)

	_, err = f.orders.ResolveDisputeBuyerRefund(ctx, o.ID, "pg_admin", "seller unresponsive")
	require.NoError(t, err)

	got, err = f.store.GetDisputeByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, DisputeResolved, got.Status)
	assert.Equal(t, "pg_admin", got.ResolvedBy)
	require.NotNil(t, got.ResolvedAt)

	refunded, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, refunded.Status)

	buyer, err := f.ledger.Balance(ctx, "pg_buyer")
	require.NoError(t, err)
	assert.True(t, buyer.Available.Equal(decimal.RequireFromString("100.00")), "buyer available = %s", buyer.Available)

	seller, err := f.ledger.Balance(ctx, "pg_seller")
	require.NoError(t, err)
	assert.True(t, seller.Held.IsZero())
}

func TestPostgresTransition_StaleStatusMovesNoFunds(t *testing.T) {
	f, cleanup := pgSetup(t)
	defer cleanup()
	ctx := context.Background()

	f.fund(t, "pg_buyer", "100.00")
	l := f.listItem(t, "pg_seller", 1)

	o, err := f.orders.Create(ctx, "pg_buyer", l.ID, 1)
	require.NoError(t, err)
	_, err = f.orders.MarkDelivered(ctx, o.ID, "pg_seller", "")
	require.NoError(t, err)

	// Snapshot the delivered row, as a second replica holding a
	// pre-confirm read would.
	stale, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)

	_, err = f.orders.ConfirmDelivery(ctx, o.ID, "pg_buyer")
	require.NoError(t, err)

	// Replaying the release against the snapshot rolls back at the
	// status re-check; the ledger legs never land.
	now := time.Now()
	stale.Status = StatusCompleted
	stale.CompletedAt = &now
	stale.UpdatedAt = now
	_, err = f.store.Transition(ctx, stale, []wallet.EntryRequest{{
		UserID:         "pg_seller",
		Type:           wallet.EntryOrderSaleRelease,
		Direction:      wallet.DirectionTransfer,
		Amount:         stale.SellerNet,
		AvailableDelta: stale.SellerNet,
		HeldDelta:      stale.SellerNet.Neg(),
		ReferenceType:  "order",
		ReferenceID:    stale.ID,
	}}, StatusDelivered, StatusDisputed)
	assert.ErrorIs(t, err, ErrInvalidState)

	seller, err := f.ledger.Balance(ctx, "pg_seller")
	require.NoError(t, err)
	assert.True(t, seller.Available.Equal(decimal.RequireFromString("19.00")), "seller available = %s", seller.Available)
	assert.True(t, seller.Held.IsZero(), "seller held = %s", seller.Held)
}

func TestPostgresUpdateOrderIf_GuardsStatus(t *testing.T) {
	f, cleanup := pgSetup(t)
	defer cleanup()
	ctx := context.Background()

	f.fund(t, "pg_buyer", "100.00")
	l := f.listItem(t, "pg_seller", 1)

	o, err := f.orders.Create(ctx, "pg_buyer", l.ID, 1)
	require.NoError(t, err)

	o.Status = StatusDelivered
	o.UpdatedAt = time.Now()
	require.NoError(t, f.store.UpdateOrderIf(ctx, o, StatusPendingDelivery))

	// The row already moved on; the same guard now misses.
	o.Status = StatusCancelled
	err = f.store.UpdateOrderIf(ctx, o, StatusPendingDelivery)
	assert.ErrorIs(t, err, ErrInvalidState)

	missing := &Order{ID: "ord_missing", Status: StatusDelivered, UpdatedAt: time.Now()}
	err = f.store.UpdateOrderIf(ctx, missing, StatusPendingDelivery)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestPostgresCreatePurchase_InsufficientFundsLeavesStock(t *testing.T) {
	f, cleanup := pgSetup(t)
	defer cleanup()
	ctx := context.Background()

	f.fund(t, "pg_buyer", "10.00")
	l := f.listItem(t, "pg_seller", 3)

	_, err := f.orders.Create(ctx, "pg_buyer", l.ID, 1)
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	// The stock decrement rode in the same transaction as the rejected
	// debit, so nothing was lost.
	got, err := f.listings.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)
	assert.Equal(t, listing.StatusActive, got.Status)

	orders, err := f.store.ListByBuyer(ctx, "pg_buyer", 10)
	require.NoError(t, err)
	assert.Empty(t, orders)

	buyer, err := f.ledger.Balance(ctx, "pg_buyer")
	require.NoError(t, err)
	assert.True(t, buyer.Available.Equal(decimal.RequireFromString("10.00")), "buyer available = %s", buyer.Available)
}

func TestPostgresListByBuyerAndSeller(t *testing.T) {
	f, cleanup := pgSetup(t)
	defer cleanup()
	ctx := context.Background()

	f.fund(t, "pg_buyer", "100.00")
	l := f.listItem(t, "pg_seller", 5)

	for i := 0; i < 3; i++ {
		_, err := f.orders.Create(ctx, "pg_buyer", l.ID, 1)
		require.NoError(t, err)
	}

	bought, err := f.store.ListByBuyer(ctx, "pg_buyer", 10)
	require.NoError(t, err)
	assert.Len(t, bought, 3)

	sold, err := f.store.ListBySeller(ctx, "pg_seller", 10)
	require.NoError(t, err)
	assert.Len(t, sold, 3)

	limited, err := f.store.ListByBuyer(ctx, "pg_buyer", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := f.store.ListBySeller(ctx, "pg_nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
