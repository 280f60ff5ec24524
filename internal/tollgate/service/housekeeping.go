package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/metrics"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/store"
	"github.com/aussiebroadwan/tollgate/pkg/clockx"
)

const DefaultSweepInterval = 24 * time.Hour

// RetentionSweeper periodically deletes credential records that can never
// be used again, so the table does not grow without bound.
type RetentionSweeper struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration

	// Grace keeps terminal records around for this long before deletion.
	Grace time.Duration

	Clock   clockx.Clock
	Metrics *metrics.Metrics

	// Internal channels for lifecycle management
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewRetentionSweeper creates a sweeper. A non-positive interval defaults to
// one day.
func NewRetentionSweeper(st store.Store, logger *slog.Logger, interval, grace time.Duration, clock clockx.Clock) *RetentionSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if clock == nil {
		clock = clockx.System()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RetentionSweeper{
		Store:    st,
		Logger:   logger,
		Interval: interval,
		Grace:    grace,
		Clock:    clock,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background worker. It sweeps once straight away.
func (s *RetentionSweeper) Start() {
	go s.run()
	s.Logger.Info("retention sweeper started", "interval", s.Interval, "grace", s.Grace)
}

// Stop blocks until an in-progress sweep has finished.
func (s *RetentionSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
	s.Logger.Info("retention sweeper stopped")
}

func (s *RetentionSweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.sweepOnce()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stopCh:
			return
		}
	}
}

func (s *RetentionSweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.Sweep(ctx); err != nil {
		s.Logger.Error("retention sweep failed", "error", err)
	}
}

// Sweep deletes consumed and revoked records older than the grace period
// and records that expired before it. Running it twice in a row deletes
// nothing the second time.
func (s *RetentionSweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.Clock.Now().UTC().Add(-s.Grace)

	n, err := s.Store.Credentials().DeleteTerminalCredentials(ctx, cutoff)
	if err != nil {
		return 0, unavailable("delete terminal credentials", err)
	}

	s.Metrics.Swept(ctx, n)
	s.Logger.Info("retention sweep completed", "deleted", n, "cutoff", cutoff)
	return n, nil
}
