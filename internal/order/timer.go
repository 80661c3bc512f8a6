package order

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/playstash/playstash/internal/metrics"
	"github.com/playstash/playstash/internal/retry"
)

// Timer periodically sweeps for delivered orders past their hold window
// and auto-releases their escrowed funds.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new auto-release timer.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in auto-release sweep", "panic", fmt.Sprint(r))
		}
	}()
	t.sweep(ctx)
}

func (t *Timer) sweep(ctx context.Context) {
	start := time.Now()

	// Transient failures are retried within the tick; a sweep that
	// still fails waits for the next interval.
	var released int
	err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		var sweepErr error
		released, sweepErr = t.service.ProcessDueReleases(ctx, start)
		return sweepErr
	})

	metrics.SweepRunsTotal.Inc()
	metrics.SweepDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		t.logger.Warn("auto-release sweep failed", "error", err)
		return
	}
	if released > 0 {
		t.logger.Info("auto-released orders", "count", released)
	}
}
