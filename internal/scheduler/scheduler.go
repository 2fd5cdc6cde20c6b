package scheduler

import (
	"context"
	"log/slog"
	"time"

	"notion_mirror/internal/domain"
)

// Syncer defines the interface for sync operations.
type Syncer interface {
	Sync(ctx context.Context, forceFull bool) (*domain.SyncResult, error)
}

// Scheduler reruns the sync on a fixed interval. A failed cycle is logged
// and swallowed; the schedule always re-arms.
type Scheduler struct {
	syncer     Syncer
	interval   time.Duration
	runTimeout time.Duration
	logger     *slog.Logger
}

func NewScheduler(syncer Syncer, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		syncer:     syncer,
		interval:   interval,
		runTimeout: 5 * time.Minute,
		logger:     logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runSync(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runSync(ctx)
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	syncCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	if _, err := s.syncer.Sync(syncCtx, false); err != nil {
		s.logger.Error("scheduled sync failed", "error", err)
	}
}
