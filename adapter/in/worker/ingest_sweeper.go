package worker

import (
	"context"
	"time"

	"ingest_server/core/service/subscription"
	"ingest_server/pkg/logger"
)

// SweepScheduler periodically renews provider subscriptions that are
// inside the renewal margin. Gmail watches live for 7 days, Graph
// subscriptions for just under 3, so a fixed interval covers both.
type SweepScheduler struct {
	manager       *subscription.Manager
	checkInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewSweepScheduler creates a sweep scheduler with the given interval.
func NewSweepScheduler(manager *subscription.Manager, interval time.Duration) *SweepScheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SweepScheduler{
		manager:       manager,
		checkInterval: interval,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start starts the sweep scheduler.
func (s *SweepScheduler) Start() {
	logger.Info("[SweepScheduler] Starting with interval %v", s.checkInterval)
	go s.run()
}

// Stop stops the sweep scheduler.
func (s *SweepScheduler) Stop() {
	logger.Info("[SweepScheduler] Stopping...")
	s.cancel()
}

func (s *SweepScheduler) run() {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	// Sweep once at startup to catch anything that expired while down
	s.sweep()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[SweepScheduler] Stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *SweepScheduler) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	if err := s.manager.SweepExpiring(ctx); err != nil {
		logger.Error("[SweepScheduler] Sweep failed: %v", err)
	}
}
