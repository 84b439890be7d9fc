package worker

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// RateUpdater refreshes every known exchange rate and reports per-pair success.
type RateUpdater interface {
	UpdateAllRates(ctx context.Context) map[string]bool
}

// RateRefresher periodically refreshes exchange rates.
type RateRefresher struct {
	Converter RateUpdater
	Interval  time.Duration
	Logger    *slog.Logger
	// Immediate runs one refresh before the first tick.
	Immediate bool
}

const defaultRefreshInterval = time.Hour

// Run blocks until ctx is cancelled.
func (r *RateRefresher) Run(ctx context.Context) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := r.Interval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}

	logger.Info("rate refresher started", "interval", interval)
	defer logger.Info("rate refresher stopped")

	if r.Immediate {
		r.refresh(ctx, logger)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx, logger)
		}
	}
}

// Start runs the refresher in its own goroutine.
func (r *RateRefresher) Start(ctx context.Context) {
	go r.Run(ctx)
}

func (r *RateRefresher) refresh(ctx context.Context, logger *slog.Logger) {
	results := r.Converter.UpdateAllRates(ctx)

	var failed []string
	for pair, ok := range results {
		if !ok {
			failed = append(failed, pair)
		}
	}
	sort.Strings(failed)

	if len(failed) > 0 {
		logger.Warn("some exchange rates were not refreshed", "refreshed", len(results)-len(failed), "failed", failed)
		return
	}
	logger.Info("exchange rates refreshed", "refreshed", len(results))
}
