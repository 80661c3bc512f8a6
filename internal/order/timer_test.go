package order

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playstash/playstash/internal/listing"
	"github.com/playstash/playstash/internal/wallet"
)

func TestTimer_ReleasesDueOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "buyer", "100.00")
	l := f.newListing(t, "seller", "25.00", 1)
	o, err := f.svc.Create(ctx, "buyer", l.ID, 1)
	require.NoError(t, err)
	_, err = f.svc.MarkDelivered(ctx, o.ID, "seller", "")
	require.NoError(t, err)

	// Jump the clock past the hold window; the next tick should release.
	f.now = f.now.Add(73 * time.Hour)

	timer := NewTimer(f.svc, 10*time.Millisecond, slog.Default())
	go timer.Start(ctx)
	defer timer.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := f.svc.Get(ctx, o.ID)
		require.NoError(t, err)
		if got.Status == StatusCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timer did not release the due order")
}

func TestTimer_StartStop(t *testing.T) {
	svc := NewService(NewMemoryStore(), wallet.NewLedger(wallet.NewMemoryStore()),
		listing.NewMemoryStore(), decimal.RequireFromString("5.00"), 72*time.Hour)
	timer := NewTimer(svc, 10*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go timer.Start(ctx)

	deadline := time.Now().Add(time.Second)
	for !timer.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, timer.Running())

	timer.Stop()
	deadline = time.Now().Add(time.Second)
	for timer.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, timer.Running())
}
