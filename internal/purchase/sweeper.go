package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultMaxPendingAge is how long a pending purchase may sit before the
// sweeper marks it failed. Checkout sessions expire provider-side within 24h,
// so anything pending longer than that was abandoned.
const DefaultMaxPendingAge = 24 * time.Hour

// Sweeper periodically fails pending purchases whose checkout session can no
// longer complete.
type Sweeper struct {
	store    Store
	maxAge   time.Duration
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates a new stale-purchase sweeper.
func NewSweeper(store Store, maxAge time.Duration, logger *slog.Logger) *Sweeper {
	if maxAge <= 0 {
		maxAge = DefaultMaxPendingAge
	}
	return &Sweeper{
		store:    store,
		maxAge:   maxAge,
		interval: 10 * time.Minute,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in purchase sweeper", "panic", fmt.Sprint(r))
		}
	}()
	s.Sweep(ctx)
}

// Sweep fails all pending purchases older than the configured max age.
// Exported so ops tooling can trigger a pass on demand.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.maxAge)

	stale, err := s.store.ListStalePending(ctx, cutoff, 100)
	if err != nil {
		s.logger.Warn("failed to list stale pending purchases", "error", err)
		return
	}

	for _, p := range stale {
		if err := p.Transition(StatusFailed); err != nil {
			// Lost a race with a late webhook; that's the right outcome.
			continue
		}
		p.FailureReason = "checkout session abandoned"

		if err := s.store.Update(ctx, p); err != nil {
			s.logger.Warn("failed to mark purchase abandoned",
				"purchase_id", p.ID,
				"error", err,
			)
			continue
		}
		s.logger.Info("marked abandoned purchase failed",
			"purchase_id", p.ID,
			"pdf_id", p.ItemID,
			"age", time.Since(p.CreatedAt).Round(time.Minute).String(),
		)
	}
}
