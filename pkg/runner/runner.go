// Package runner launches pipeline runs in the background and tracks them
// for graceful shutdown. It is the backend of the trigger endpoint: create
// the pending job row, spawn the executor, return immediately.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mohamed-ali0/main-bots-api/pkg/models"
)

// Pipeline executes one job to a terminal state.
type Pipeline interface {
	Run(ctx context.Context, tenant *models.Tenant, job *models.Job) error
}

// JobCreator persists new pending jobs.
type JobCreator interface {
	Create(ctx context.Context, tenant *models.Tenant, platform string) (*models.Job, error)
}

// Runner owns the goroutines executing pipeline runs. One goroutine per
// job; jobs of different tenants run in parallel, jobs of the same tenant
// serialize on the store's in-progress claim.
type Runner struct {
	pipeline Pipeline
	jobs     JobCreator

	mu      sync.Mutex
	active  map[string]context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// New creates a runner.
func New(pipeline Pipeline, jobs JobCreator) *Runner {
	return &Runner{
		pipeline: pipeline,
		jobs:     jobs,
		active:   make(map[string]context.CancelFunc),
	}
}

// Trigger creates a pending job for the tenant and launches its run in the
// background. It returns as soon as the row exists; callers poll the job
// status afterwards. Two concurrent triggers create two jobs: the newer
// ordinal cancels the older run at its next observation point.
func (r *Runner) Trigger(ctx context.Context, tenant *models.Tenant) (*models.Job, error) {
	job, err := r.jobs.Create(ctx, tenant, models.PlatformEModal)
	if err != nil {
		return nil, err
	}
	if err := r.Launch(tenant, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Launch starts the executor for an already-created job.
func (r *Runner) Launch(tenant *models.Tenant, job *models.Job) error {
	// Runs outlive the triggering request, so the run context is detached
	// from it; shutdown cancels via the registry.
	runCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		cancel()
		return fmt.Errorf("runner is shutting down")
	}
	r.active[job.QueryID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer cancel()
		defer r.unregister(job.QueryID)

		if err := r.pipeline.Run(runCtx, tenant, job); err != nil {
			slog.Warn("Pipeline run ended with failure",
				"query_id", job.QueryID, "tenant_id", tenant.ID, "error", err)
		}
	}()
	return nil
}

// ActiveCount returns the number of runs currently executing.
func (r *Runner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Shutdown stops accepting new runs, cancels the contexts of running jobs,
// and waits for them to reach a terminal state or for ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	queryIDs := make([]string, 0, len(r.active))
	for queryID, cancel := range r.active {
		queryIDs = append(queryIDs, queryID)
		cancel()
	}
	r.mu.Unlock()

	if len(queryIDs) > 0 {
		slog.Info("Waiting for active runs to finish", "count", len(queryIDs), "query_ids", queryIDs)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) unregister(queryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, queryID)
}
