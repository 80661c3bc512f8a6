package wallet

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func amt(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad amount %q: %v", s, err)
	}
	return d
}

func newTestLedger() *Ledger {
	return NewLedger(NewMemoryStore())
}

func credit(t *testing.T, l *Ledger, userID, amount string) {
	t.Helper()
	_, err := l.Append(context.Background(), EntryRequest{
		UserID:         userID,
		Type:           EntryDepositCredit,
		Direction:      DirectionCredit,
		Amount:         amt(t, amount),
		AvailableDelta: amt(t, amount),
	})
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}
}

func TestGetOrCreateWallet_Idempotent(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	a, err := l.GetOrCreateWallet(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreateWallet failed: %v", err)
	}
	if !a.Available.IsZero() || !a.Held.IsZero() {
		t.Errorf("new wallet should be empty, got %s/%s", a.Available, a.Held)
	}

	credit(t, l, "alice", "100.00")

	b, err := l.GetOrCreateWallet(ctx, "alice")
	if err != nil {
		t.Fatalf("second GetOrCreateWallet failed: %v", err)
	}
	if b.Available.StringFixed(2) != "100.00" {
		t.Errorf("expected repeat call to return the same wallet, got available=%s", b.Available)
	}
}

func TestGetOrCreateWallet_ConcurrentFirstAccess(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.GetOrCreateWallet(ctx, "bob"); err != nil {
				t.Errorf("GetOrCreateWallet failed: %v", err)
			}
		}()
	}
	wg.Wait()

	credit(t, l, "bob", "10.00")
	acct, err := l.Balance(ctx, "bob")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if acct.Available.StringFixed(2) != "10.00" {
		t.Errorf("duplicate wallet suspected, available=%s", acct.Available)
	}
}

func TestAppend_RejectsNegativeBalance(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	credit(t, l, "carol", "50.00")

	_, err := l.Append(ctx, EntryRequest{
		UserID:         "carol",
		Type:           EntryOrderPayment,
		Direction:      DirectionDebit,
		Amount:         amt(t, "60.00"),
		AvailableDelta: amt(t, "-60.00"),
	})
	if err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Balance unchanged after the rejected append.
	acct, _ := l.Balance(ctx, "carol")
	if acct.Available.StringFixed(2) != "50.00" {
		t.Errorf("balance mutated by failed append: %s", acct.Available)
	}

	_, err = l.Append(ctx, EntryRequest{
		UserID:    "carol",
		Type:      EntryWithdrawalPaid,
		Direction: DirectionDebit,
		Amount:    amt(t, "1.00"),
		HeldDelta: amt(t, "-1.00"),
	})
	if err != ErrInsufficientHeldFunds {
		t.Fatalf("expected ErrInsufficientHeldFunds, got %v", err)
	}
}

func TestAppendAll_AtomicAcrossWallets(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	credit(t, l, "buyer", "30.00")

	// Second leg would push buyer negative; neither leg may apply.
	_, err := l.AppendAll(ctx, []EntryRequest{
		{
			UserID:    "seller",
			Type:      EntryOrderSaleHold,
			Direction: DirectionCredit,
			Amount:    amt(t, "40.00"),
			HeldDelta: amt(t, "40.00"),
		},
		{
			UserID:         "buyer",
			Type:           EntryOrderPayment,
			Direction:      DirectionDebit,
			Amount:         amt(t, "40.00"),
			AvailableDelta: amt(t, "-40.00"),
		},
	})
	if err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	seller, err := l.GetOrCreateWallet(ctx, "seller")
	if err != nil {
		t.Fatalf("GetOrCreateWallet failed: %v", err)
	}
	if !seller.Held.IsZero() {
		t.Errorf("partial batch applied: seller held=%s", seller.Held)
	}
	entries, _ := l.History(ctx, "seller", 10)
	if len(entries) != 0 {
		t.Errorf("failed batch left %d ledger entries", len(entries))
	}
}

func TestAppend_SnapshotsAndSequence(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	credit(t, l, "dave", "100.00")

	e, err := l.Append(ctx, EntryRequest{
		UserID:         "dave",
		Type:           EntryWithdrawalHold,
		Direction:      DirectionTransfer,
		Amount:         amt(t, "25.00"),
		AvailableDelta: amt(t, "-25.00"),
		HeldDelta:      amt(t, "25.00"),
		Note:           "hold",
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if e.AvailableAfter.StringFixed(2) != "75.00" || e.HeldAfter.StringFixed(2) != "25.00" {
		t.Errorf("wrong post-entry snapshot: %s/%s", e.AvailableAfter, e.HeldAfter)
	}

	entries, err := l.History(ctx, "dave", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Newest first, sequence tie-break.
	if entries[0].Type != EntryWithdrawalHold || entries[1].Type != EntryDepositCredit {
		t.Errorf("wrong ordering: %s then %s", entries[0].Type, entries[1].Type)
	}
	if entries[0].Seq <= entries[1].Seq {
		t.Errorf("sequence not monotonic: %d then %d", entries[0].Seq, entries[1].Seq)
	}
}

func TestAppend_RejectsUnquantizedAmounts(t *testing.T) {
	l := newTestLedger()
	d, _ := decimal.NewFromString("1.005")
	_, err := l.Append(context.Background(), EntryRequest{
		UserID:         "erin",
		Type:           EntryDepositCredit,
		Direction:      DirectionCredit,
		Amount:         d,
		AvailableDelta: d,
	})
	if err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount for sub-cent precision, got %v", err)
	}
}

func TestAppend_ConcurrentDebits_NeverNegative(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	credit(t, l, "frank", "100.00")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// 20 racing debits of 10.00 against 100.00: exactly 10 win.
			_, _ = l.Append(ctx, EntryRequest{
				UserID:         "frank",
				Type:           EntryOrderPayment,
				Direction:      DirectionDebit,
				Amount:         amt(t, "10.00"),
				AvailableDelta: amt(t, "-10.00"),
			})
		}()
	}
	wg.Wait()

	acct, _ := l.Balance(ctx, "frank")
	if acct.Available.IsNegative() {
		t.Fatalf("available went negative: %s", acct.Available)
	}
	if !acct.Available.IsZero() {
		t.Errorf("expected exactly 10 debits to win, available=%s", acct.Available)
	}

	entries, _ := l.History(ctx, "frank", 50)
	if len(entries) != 11 { // 1 credit + 10 debits
		t.Errorf("expected 11 entries, got %d", len(entries))
	}
}

func TestBalance_UnknownWallet(t *testing.T) {
	l := newTestLedger()
	if _, err := l.Balance(context.Background(), "nobody"); err != ErrWalletNotFound {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestHistory_DefaultLimit(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	for i := 0; i < 60; i++ {
		credit(t, l, "grace", "1.00")
	}
	entries, err := l.History(ctx, "grace", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 50 {
		t.Errorf("expected default limit of 50, got %d", len(entries))
	}
}

func TestHistoryPage_CursorWalksAllEntries(t *testing.T) {
	l := newTestLedger()
	for i := 0; i < 5; i++ {
		credit(t, l, "carol", "1.00")
	}

	seen := make(map[string]bool)
	cursor := ""
	pages := 0
	for {
		entries, next, err := l.HistoryPage(context.Background(), "carol", cursor, 2)
		if err != nil {
			t.Fatalf("page failed: %v", err)
		}
		pages++
		for _, e := range entries {
			if seen[e.ID] {
				t.Fatalf("entry %s returned twice", e.ID)
			}
			seen[e.ID] = true
		}
		if next == "" {
			break
		}
		cursor = next
	}

	if len(seen) != 5 {
		t.Errorf("expected 5 distinct entries across pages, got %d", len(seen))
	}
	if pages != 3 {
		t.Errorf("expected 3 pages of size 2, got %d", pages)
	}
}

func TestHistoryPage_RejectsBadCursor(t *testing.T) {
	l := newTestLedger()
	credit(t, l, "carol", "1.00")

	if _, _, err := l.HistoryPage(context.Background(), "carol", "garbage!!!", 2); err == nil {
		t.Error("expected error for malformed cursor")
	}
}
