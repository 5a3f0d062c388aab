package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/usecase"
)

// Syncer is the part of the sync engine the scheduler drives.
type Syncer interface {
	IncrementalSyncAll(ctx context.Context) usecase.SyncSummary
}

// SyncScheduler periodically runs an incremental sync for every connected mailbox.
type SyncScheduler struct {
	syncer   Syncer
	interval time.Duration
	logger   *slog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewSyncScheduler(syncer Syncer, interval time.Duration, logger *slog.Logger) *SyncScheduler {
	return &SyncScheduler{
		syncer:   syncer,
		interval: interval,
		logger:   logger.With("component", "sync_scheduler"),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the scheduler loop. A non-positive interval disables it.
func (s *SyncScheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("sync scheduler disabled")
		close(s.done)
		return
	}

	s.logger.Info("starting sync scheduler", "interval", s.interval)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runOnce(ctx)
			case <-s.stopChan:
				s.logger.Info("sync scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("sync scheduler stopped", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (s *SyncScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.done
}

func (s *SyncScheduler) runOnce(ctx context.Context) {
	start := time.Now()
	summary := s.syncer.IncrementalSyncAll(ctx)
	if summary.Attempted == 0 {
		return
	}
	s.logger.Info("scheduled sync pass finished",
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration", time.Since(start),
	)
}
