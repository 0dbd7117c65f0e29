// Package worker runs the ledger's periodic housekeeping.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Clearer releases sales whose clearing window has passed.
type Clearer interface {
	ReleaseMatured(ctx context.Context, clearingPeriod time.Duration) (int, error)
}

// Expirer cancels checkouts abandoned before payment and fails those the
// gateway never answered.
type Expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

type Sweeper struct {
	clearer        Clearer
	expirer        Expirer
	interval       time.Duration
	clearingPeriod time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSweeper(clearer Clearer, expirer Expirer, interval, clearingPeriod time.Duration) *Sweeper {
	return &Sweeper{
		clearer:        clearer,
		expirer:        expirer,
		interval:       interval,
		clearingPeriod: clearingPeriod,
	}
}

// Start runs a sweep every interval until Stop or parent is done. A
// non-positive interval leaves the sweeper off.
func (s *Sweeper) Start(parent context.Context) {
	if s.interval <= 0 {
		slog.Warn("sweeper disabled", "interval", s.interval)
		return
	}
	s.ctx, s.cancel = context.WithCancel(parent)
	s.wg.Add(1)
	go s.loop()
}

func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.Sweep(s.ctx)
		}
	}
}

// Sweep runs one pass. Failures are logged; the next tick retries.
func (s *Sweeper) Sweep(ctx context.Context) {
	if n, err := s.clearer.ReleaseMatured(ctx, s.clearingPeriod); err != nil {
		slog.ErrorContext(ctx, "release matured sales", "error", err, "released", n)
	} else if n > 0 {
		slog.InfoContext(ctx, "sales cleared", "released", n)
	}

	if n, err := s.expirer.ExpireStale(ctx); err != nil {
		slog.ErrorContext(ctx, "expire stale checkouts", "error", err, "expired", n)
	} else if n > 0 {
		slog.InfoContext(ctx, "checkouts expired", "expired", n)
	}
}
