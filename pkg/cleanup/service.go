// Package cleanup provides data retention for jobs and their artifacts.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mohamed-ali0/main-bots-api/pkg/artifacts"
	"github.com/mohamed-ali0/main-bots-api/pkg/config"
	"github.com/mohamed-ali0/main-bots-api/pkg/models"
)

// JobPruner deletes terminal job rows past retention.
type JobPruner interface {
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) ([]models.Job, error)
}

// Service periodically prunes terminal jobs older than the retention window
// together with their artifact directories. Idempotent and safe to run from
// multiple replicas: the row delete is the commit point, and removing an
// already-removed directory is a no-op.
type Service struct {
	cfg   config.RetentionConfig
	jobs  JobPruner
	store *artifacts.Store
	clock clockwork.Clock

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service. A nil clock uses the real clock.
func NewService(cfg config.RetentionConfig, jobs JobPruner, store *artifacts.Store, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		cfg:   cfg,
		jobs:  jobs,
		store: store,
		clock: clock,
	}
}

// Start launches the background retention loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"job_retention_days", s.cfg.JobRetentionDays,
		"interval", s.cfg.Interval)
}

// Stop signals the retention loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.pruneJobs(ctx)

	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.pruneJobs(ctx)
		}
	}
}

// pruneJobs deletes jobs whose retention expired and removes their artifact
// trees. Directory removal failures are logged, not retried: the row is
// already gone so the next sweep cannot see the job again, but an operator
// can still reclaim the directory by hand.
func (s *Service) pruneJobs(ctx context.Context) {
	cutoff := s.clock.Now().AddDate(0, 0, -s.cfg.JobRetentionDays)

	jobs, err := s.jobs.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: job pruning failed", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	removed := 0
	for i := range jobs {
		if err := s.store.RemoveJobDir(&jobs[i]); err != nil {
			slog.Warn("Retention: failed to remove job artifacts",
				"query_id", jobs[i].QueryID, "path", jobs[i].FolderPath, "error", err)
			continue
		}
		removed++
	}
	slog.Info("Retention: pruned old jobs", "deleted", len(jobs), "artifact_trees_removed", removed)
}
