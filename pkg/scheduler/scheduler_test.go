package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamed-ali0/main-bots-api/pkg/config"
	"github.com/mohamed-ali0/main-bots-api/pkg/models"
)

type scheduleUpdate struct {
	tenantID  int64
	enabled   bool
	frequency int
}

type stubTenants struct {
	mu      sync.Mutex
	tenant  models.Tenant
	gets    chan struct{}
	updates []scheduleUpdate
}

func (s *stubTenants) Get(ctx context.Context, id int64) (*models.Tenant, error) {
	s.mu.Lock()
	tenant := s.tenant
	s.mu.Unlock()
	if s.gets != nil {
		select {
		case s.gets <- struct{}{}:
		default:
		}
	}
	return &tenant, nil
}

func (s *stubTenants) ListScheduled(ctx context.Context) ([]models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tenant.ScheduleEnabled {
		return nil, nil
	}
	return []models.Tenant{s.tenant}, nil
}

func (s *stubTenants) UpdateSchedule(ctx context.Context, tenantID int64, enabled bool, frequencyMinutes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, scheduleUpdate{tenantID, enabled, frequencyMinutes})
	s.tenant.ScheduleEnabled = enabled
	s.tenant.ScheduleFrequency = frequencyMinutes
	return nil
}

func (s *stubTenants) setEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenant.ScheduleEnabled = enabled
}

type stubJobs struct {
	busy    bool
	checked chan struct{}
}

func (s *stubJobs) HasInProgress(ctx context.Context, tenantID int64) (bool, error) {
	if s.checked != nil {
		select {
		case s.checked <- struct{}{}:
		default:
		}
	}
	return s.busy, nil
}

type stubTrigger struct {
	triggered chan int64
}

func (s *stubTrigger) Trigger(ctx context.Context, tenant *models.Tenant) (*models.Job, error) {
	s.triggered <- tenant.ID
	return &models.Job{QueryID: models.FormatQueryID(tenant.ID, 1700000001)}, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *stubTenants, *stubJobs, *stubTrigger, *clockwork.FakeClock) {
	t.Helper()
	tenants := &stubTenants{
		tenant: models.Tenant{ID: 7, ScheduleEnabled: true, ScheduleFrequency: 1},
		gets:   make(chan struct{}, 4),
	}
	jobs := &stubJobs{checked: make(chan struct{}, 4)}
	trigger := &stubTrigger{triggered: make(chan int64, 4)}
	clock := clockwork.NewFakeClock()
	sched := New(tenants, jobs, trigger, config.SchedulerConfig{DefaultFrequency: time.Hour}, clock)
	return sched, tenants, jobs, trigger, clock
}

func TestSchedulerTriggersOnTick(t *testing.T) {
	sched, _, _, trigger, clock := newTestScheduler(t)
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	clock.BlockUntil(1)
	clock.Advance(time.Minute)

	select {
	case tenantID := <-trigger.triggered:
		assert.Equal(t, int64(7), tenantID)
	case <-time.After(5 * time.Second):
		t.Fatal("tick never triggered a run")
	}
}

func TestSchedulerSkipsBusyTenant(t *testing.T) {
	sched, _, jobs, trigger, clock := newTestScheduler(t)
	jobs.busy = true
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	clock.BlockUntil(1)
	clock.Advance(time.Minute)

	// The tick ran its busy check; nothing may have been triggered.
	select {
	case <-jobs.checked:
	case <-time.After(5 * time.Second):
		t.Fatal("tick never checked for in-progress jobs")
	}
	assert.Empty(t, trigger.triggered)
}

func TestSchedulerHonorsDisableBetweenTicks(t *testing.T) {
	sched, tenants, jobs, trigger, clock := newTestScheduler(t)
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	// Disabled after arming: the tick re-reads the tenant and bails before
	// the busy check.
	tenants.setEnabled(false)
	clock.BlockUntil(1)
	clock.Advance(time.Minute)

	select {
	case <-tenants.gets:
	case <-time.After(5 * time.Second):
		t.Fatal("tick never re-read the tenant")
	}
	assert.Empty(t, trigger.triggered)
	assert.Empty(t, jobs.checked)
}

func TestPausePersistsAndDisarms(t *testing.T) {
	sched, tenants, _, trigger, clock := newTestScheduler(t)
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()
	clock.BlockUntil(1)

	tenant := tenants.tenant
	require.NoError(t, sched.Pause(context.Background(), &tenant))

	require.Len(t, tenants.updates, 1)
	assert.Equal(t, scheduleUpdate{tenantID: 7, enabled: false, frequency: 1}, tenants.updates[0])

	// The ticker goroutine is gone, so an advance finds no waiters and no
	// run is triggered.
	assert.Empty(t, trigger.triggered)
}

func TestResumeRearms(t *testing.T) {
	sched, tenants, _, trigger, clock := newTestScheduler(t)
	tenants.setEnabled(false)
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	tenant := tenants.tenant
	tenant.ScheduleEnabled = true
	require.NoError(t, sched.Resume(context.Background(), &tenant))

	clock.BlockUntil(1)
	clock.Advance(time.Minute)

	select {
	case tenantID := <-trigger.triggered:
		assert.Equal(t, int64(7), tenantID)
	case <-time.After(5 * time.Second):
		t.Fatal("resumed schedule never ticked")
	}
}

func TestUpdateFrequencyPersists(t *testing.T) {
	sched, tenants, _, _, clock := newTestScheduler(t)
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()
	clock.BlockUntil(1)

	tenant := tenants.tenant
	require.NoError(t, sched.UpdateFrequency(context.Background(), &tenant, 30))

	require.Len(t, tenants.updates, 1)
	assert.Equal(t, scheduleUpdate{tenantID: 7, enabled: true, frequency: 30}, tenants.updates[0])
	assert.Equal(t, 30, tenant.ScheduleFrequency)
}

func TestFrequencyFallback(t *testing.T) {
	sched, _, _, _, _ := newTestScheduler(t)
	assert.Equal(t, time.Hour, sched.frequency(0))
	assert.Equal(t, 15*time.Minute, sched.frequency(15))
}
