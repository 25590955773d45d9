// Package scheduler triggers periodic harvest runs per tenant. Each enabled
// tenant gets its own ticker goroutine; a tick is skipped when the tenant
// already has a run in progress (missed ticks coalesce).
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mohamed-ali0/main-bots-api/pkg/config"
	"github.com/mohamed-ali0/main-bots-api/pkg/models"
)

// TenantStore is the tenant surface the scheduler uses.
type TenantStore interface {
	Get(ctx context.Context, id int64) (*models.Tenant, error)
	ListScheduled(ctx context.Context) ([]models.Tenant, error)
	UpdateSchedule(ctx context.Context, tenantID int64, enabled bool, frequencyMinutes int) error
}

// JobStore reports whether a tenant already has a run in progress.
type JobStore interface {
	HasInProgress(ctx context.Context, tenantID int64) (bool, error)
}

// Trigger launches a new run for a tenant.
type Trigger interface {
	Trigger(ctx context.Context, tenant *models.Tenant) (*models.Job, error)
}

// Scheduler manages one ticker per schedule-enabled tenant.
type Scheduler struct {
	tenants TenantStore
	jobs    JobStore
	trigger Trigger
	cfg     config.SchedulerConfig
	clock   clockwork.Clock

	mu      sync.Mutex
	entries map[int64]chan struct{} // tenant_id → stop channel
	started bool
	wg      sync.WaitGroup
}

// New creates a scheduler. A nil clock uses the real clock.
func New(tenants TenantStore, jobs JobStore, trigger Trigger, cfg config.SchedulerConfig, clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		tenants: tenants,
		jobs:    jobs,
		trigger: trigger,
		cfg:     cfg,
		clock:   clock,
		entries: make(map[int64]chan struct{}),
	}
}

// Start arms a ticker for every tenant with scheduling enabled. Safe to
// call once; subsequent calls are no-ops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		slog.Warn("Scheduler already started, ignoring duplicate Start call")
		return nil
	}
	s.started = true
	s.mu.Unlock()

	tenants, err := s.tenants.ListScheduled(ctx)
	if err != nil {
		return err
	}
	for i := range tenants {
		t := tenants[i]
		s.arm(ctx, t.ID, s.frequency(t.ScheduleFrequency))
	}
	slog.Info("Scheduler started", "tenants", len(tenants))
	return nil
}

// Stop disarms all tickers and waits for tick goroutines to exit. Runs
// already triggered are not affected.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for tenantID, stopCh := range s.entries {
		close(stopCh)
		delete(s.entries, tenantID)
	}
	s.mu.Unlock()
	s.wg.Wait()
	slog.Info("Scheduler stopped")
}

// Pause disables scheduling for a tenant and disarms its ticker. A run
// already in progress is unaffected.
func (s *Scheduler) Pause(ctx context.Context, tenant *models.Tenant) error {
	if err := s.tenants.UpdateSchedule(ctx, tenant.ID, false, tenant.ScheduleFrequency); err != nil {
		return err
	}
	s.disarm(tenant.ID)
	slog.Info("Schedule paused", "tenant_id", tenant.ID)
	return nil
}

// Resume enables scheduling for a tenant and arms its ticker.
func (s *Scheduler) Resume(ctx context.Context, tenant *models.Tenant) error {
	if err := s.tenants.UpdateSchedule(ctx, tenant.ID, true, tenant.ScheduleFrequency); err != nil {
		return err
	}
	s.disarm(tenant.ID)
	s.arm(ctx, tenant.ID, s.frequency(tenant.ScheduleFrequency))
	slog.Info("Schedule resumed", "tenant_id", tenant.ID, "frequency_minutes", tenant.ScheduleFrequency)
	return nil
}

// UpdateFrequency persists a new tick frequency and re-arms the ticker if
// the tenant is currently enabled.
func (s *Scheduler) UpdateFrequency(ctx context.Context, tenant *models.Tenant, frequencyMinutes int) error {
	if err := s.tenants.UpdateSchedule(ctx, tenant.ID, tenant.ScheduleEnabled, frequencyMinutes); err != nil {
		return err
	}
	tenant.ScheduleFrequency = frequencyMinutes
	if tenant.ScheduleEnabled {
		s.disarm(tenant.ID)
		s.arm(ctx, tenant.ID, s.frequency(frequencyMinutes))
	}
	slog.Info("Schedule frequency updated", "tenant_id", tenant.ID, "frequency_minutes", frequencyMinutes)
	return nil
}

// frequency converts a tenant's configured minutes to a duration, falling
// back to the service default when unset.
func (s *Scheduler) frequency(minutes int) time.Duration {
	if minutes <= 0 {
		return s.cfg.DefaultFrequency
	}
	return time.Duration(minutes) * time.Minute
}

func (s *Scheduler) arm(ctx context.Context, tenantID int64, frequency time.Duration) {
	stopCh := make(chan struct{})

	s.mu.Lock()
	if existing, ok := s.entries[tenantID]; ok {
		close(existing)
	}
	s.entries[tenantID] = stopCh
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ticker := s.clock.NewTicker(frequency)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.Chan():
				s.tick(ctx, tenantID)
			}
		}
	}()
}

func (s *Scheduler) disarm(tenantID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stopCh, ok := s.entries[tenantID]; ok {
		close(stopCh)
		delete(s.entries, tenantID)
	}
}

// tick triggers one run unless the tenant is mid-run or was disabled since
// the ticker was armed. The tenant is re-read so frequency or enablement
// changes from other replicas are honored on the next tick.
func (s *Scheduler) tick(ctx context.Context, tenantID int64) {
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		slog.Error("Scheduler tick failed to load tenant", "tenant_id", tenantID, "error", err)
		return
	}
	if !tenant.ScheduleEnabled {
		return
	}

	busy, err := s.jobs.HasInProgress(ctx, tenantID)
	if err != nil {
		slog.Error("Scheduler tick failed to check in-progress jobs", "tenant_id", tenantID, "error", err)
		return
	}
	if busy {
		slog.Debug("Skipping scheduled run, job already in progress", "tenant_id", tenantID)
		return
	}

	job, err := s.trigger.Trigger(ctx, tenant)
	if err != nil {
		slog.Error("Scheduled trigger failed", "tenant_id", tenantID, "error", err)
		return
	}
	slog.Info("Scheduled run triggered", "tenant_id", tenantID, "query_id", job.QueryID)
}
