// Command sweep runs a single auto-release pass over delivered orders
// whose hold window has elapsed. Intended for cron or one-off operator use;
// the server runs the same sweep on a timer.
package main

import (
	"context"
	"database/sql"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/playstash/playstash/internal/config"
	"github.com/playstash/playstash/internal/listing"
	"github.com/playstash/playstash/internal/logging"
	"github.com/playstash/playstash/internal/order"
	"github.com/playstash/playstash/internal/wallet"
)

func main() {
	logger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required for a standalone sweep")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	ledger := wallet.NewLedger(wallet.NewPostgresStore(db))
	svc := order.NewService(
		order.NewPostgresStore(db),
		ledger,
		listing.NewPostgresStore(db),
		cfg.PlatformFeePercent,
		cfg.AutoReleaseWindow,
	)

	released, err := svc.ProcessDueReleases(ctx, time.Now())
	if err != nil {
		logger.Error("sweep failed", "error", err, "released", released)
		os.Exit(1)
	}

	logger.Info("sweep complete", "released", released)
}
