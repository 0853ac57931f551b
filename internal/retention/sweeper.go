// Package retention removes reflection sessions that have been idle too long.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/ashureev/iceberg/internal/shared"
)

// IdleDeleter is the store capability the sweeper needs.
type IdleDeleter interface {
	DeleteIdleSessions(ctx context.Context, ttl time.Duration) (int64, error)
}

// OnSweep is called after each sweep that deleted at least one session.
type OnSweep func(deleted int64)

// Sweeper deletes idle sessions on a cron schedule.
type Sweeper struct {
	repo     IdleDeleter
	ttl      time.Duration
	schedule string
	retry    shared.RetryPolicy
	onSweep  OnSweep
	logger   *slog.Logger

	mu     sync.Mutex
	cron   *rcron.Cron
	cancel context.CancelFunc
}

// NewSweeper returns a sweeper for sessions idle longer than ttl. schedule is
// any robfig/cron spec, including descriptors like "@every 10m".
func NewSweeper(repo IdleDeleter, schedule string, ttl time.Duration, onSweep OnSweep, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		repo:     repo,
		ttl:      ttl,
		schedule: schedule,
		retry:    shared.DefaultRetryPolicy,
		onSweep:  onSweep,
		logger:   logger,
	}
}

// RunOnce performs a single sweep, retrying on SQLite contention.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	var deleted int64
	err := shared.RetryOnConflict(ctx, s.retry, "retention sweep", func() error {
		n, err := s.repo.DeleteIdleSessions(ctx, s.ttl)
		deleted = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("retention sweep removed idle sessions", "count", deleted, "ttl", s.ttl)
		if s.onSweep != nil {
			s.onSweep(deleted)
		}
	}
	return deleted, nil
}

// Start registers the sweep and starts the scheduler. It returns an error for
// an invalid schedule.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := rcron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.RunOnce(runCtx); err != nil && runCtx.Err() == nil {
			s.logger.Error("retention sweep failed", "error", err)
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("invalid retention schedule %q: %w", s.schedule, err)
	}

	c.Start()
	s.cron, s.cancel = c, cancel
	s.logger.Info("retention sweeper started", "schedule", s.schedule, "ttl", s.ttl)
	return nil
}

// Run starts the sweeper and blocks until ctx is done, then stops it.
func (s *Sweeper) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop cancels any in-flight sweep and waits for running jobs to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.logger.Info("retention sweeper stopped")
}
