// Package scheduler runs the background jobs that keep payments and invoices
// moving when no request arrives to drive them.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StalePaymentSweeper re-queries pending push payments whose callback never came
type StalePaymentSweeper interface {
	SweepStale(ctx context.Context, limit int) (int, error)
}

// OverdueMarker flips sent invoices past their due date to overdue
type OverdueMarker interface {
	MarkOverdue(ctx context.Context, asOf time.Time, limit int) (int, error)
}

// SweeperConfig holds configuration for the pending payment sweeper
type SweeperConfig struct {
	// Enabled determines if the sweeper is active
	Enabled bool

	// Interval between runs
	Interval time.Duration

	// BatchSize caps the rows each job handles per run
	BatchSize int

	// RunTimeout is the maximum time for a single run
	RunTimeout time.Duration
}

// DefaultSweeperConfig returns default configuration
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Enabled:    true,
		Interval:   time.Minute,
		BatchSize:  50,
		RunTimeout: 45 * time.Second,
	}
}

// RunResult summarises one sweep
type RunResult struct {
	PaymentsResolved int
	InvoicesOverdue  int
}

// PendingPaymentSweeper periodically resolves stale pending payments and
// marks overdue invoices. Either job may be nil.
type PendingPaymentSweeper struct {
	payments StalePaymentSweeper
	invoices OverdueMarker
	logger   *zap.Logger
	config   SweeperConfig
	now      func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewPendingPaymentSweeper creates a new sweeper
func NewPendingPaymentSweeper(payments StalePaymentSweeper, invoices OverdueMarker, logger *zap.Logger, config SweeperConfig) *PendingPaymentSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultSweeperConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = defaults.RunTimeout
	}
	return &PendingPaymentSweeper{
		payments: payments,
		invoices: invoices,
		logger:   logger.Named("sweeper"),
		config:   config,
		now:      time.Now,
	}
}

// Start launches the sweep loop. It is a no-op when disabled or already running.
func (s *PendingPaymentSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Pending payment sweeper is disabled")
		return nil
	}
	s.isRunning = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("Pending payment sweeper started",
		zap.Duration("interval", s.config.Interval),
		zap.Int("batch_size", s.config.BatchSize))
	return nil
}

// Stop cancels the loop and waits for an in-flight run to finish
func (s *PendingPaymentSweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Pending payment sweeper stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Pending payment sweeper stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the loop is active
func (s *PendingPaymentSweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func (s *PendingPaymentSweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. Failures are logged and the other job
// still runs.
func (s *PendingPaymentSweeper) RunOnce(ctx context.Context) RunResult {
	runCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	var result RunResult
	start := time.Now()

	if s.payments != nil {
		n, err := s.payments.SweepStale(runCtx, s.config.BatchSize)
		result.PaymentsResolved = n
		if err != nil {
			s.logger.Error("Stale payment sweep failed", zap.Error(err))
		}
	}
	if s.invoices != nil {
		n, err := s.invoices.MarkOverdue(runCtx, s.now(), s.config.BatchSize)
		result.InvoicesOverdue = n
		if err != nil {
			s.logger.Error("Overdue invoice sweep failed", zap.Error(err))
		}
	}

	if result.PaymentsResolved > 0 || result.InvoicesOverdue > 0 {
		s.logger.Info("Sweep completed",
			zap.Int("payments_resolved", result.PaymentsResolved),
			zap.Int("invoices_overdue", result.InvoicesOverdue),
			zap.Duration("duration", time.Since(start)))
	}
	return result
}
