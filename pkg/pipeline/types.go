// Package pipeline implements the five-stage harvest run: list containers,
// filter, bulk-enrich, probe appointments per item, list appointments.
// Stages run sequentially inside one job; cancellation by a newer job is
// observed between stage-4 items and inside session recovery waits.
package pipeline

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/mohamed-ali0/main-bots-api/pkg/artifacts"
	"github.com/mohamed-ali0/main-bots-api/pkg/config"
	"github.com/mohamed-ali0/main-bots-api/pkg/models"
	"github.com/mohamed-ali0/main-bots-api/pkg/upstream"
)

// Upstream is the subset of the upstream client the executor uses.
type Upstream interface {
	ListContainers(ctx context.Context, sessionID string) (*upstream.ListResult, error)
	ListAppointments(ctx context.Context, sessionID string) (*upstream.ListResult, error)
	GetBulkInfo(ctx context.Context, sessionID string, importIDs, exportIDs []string) (*upstream.BulkInfo, error)
	CheckAppointments(ctx context.Context, sessionID string, req upstream.CheckRequest) (*upstream.CheckResult, error)
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Sessions provides session reuse and explicit recovery.
type Sessions interface {
	Ensure(ctx context.Context, tenant *models.Tenant, jobOrdinal int64) (string, error)
	Recover(ctx context.Context, tenant *models.Tenant, jobOrdinal int64) (string, error)
}

// Jobs is the job-store surface the executor drives: claiming the run,
// finishing it, and checking for a superseding job.
type Jobs interface {
	SetInProgress(ctx context.Context, job *models.Job) error
	Finish(ctx context.Context, job *models.Job, status models.JobStatus, stats *models.SummaryStats, errMsg string) error
	FindNewer(ctx context.Context, tenantID int64, ordinal int64) (bool, error)
}

// Executor runs one job end to end. It is stateless across jobs; all
// per-run state lives on the stack and in the artifact tree.
type Executor struct {
	upstream Upstream
	sessions Sessions
	jobs     Jobs
	store    *artifacts.Store
	cfg      config.PipelineConfig
	clock    clockwork.Clock
}

// NewExecutor creates a pipeline executor. A nil clock uses the real clock.
func NewExecutor(up Upstream, sessions Sessions, jobs Jobs, store *artifacts.Store, cfg config.PipelineConfig, clock clockwork.Clock) *Executor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Executor{
		upstream: up,
		sessions: sessions,
		jobs:     jobs,
		store:    store,
		cfg:      cfg,
		clock:    clock,
	}
}
