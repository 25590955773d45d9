package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamed-ali0/main-bots-api/pkg/artifacts"
	"github.com/mohamed-ali0/main-bots-api/pkg/config"
	"github.com/mohamed-ali0/main-bots-api/pkg/models"
	"github.com/mohamed-ali0/main-bots-api/pkg/services"
	"github.com/mohamed-ali0/main-bots-api/pkg/session"
	"github.com/mohamed-ali0/main-bots-api/pkg/spreadsheet"
	"github.com/mohamed-ali0/main-bots-api/pkg/upstream"
)

type checkReply struct {
	res *upstream.CheckResult
	err error
}

// stubUpstream scripts the five upstream calls the executor makes. Check
// replies are keyed by the submitted identifier and consumed in order; an
// item with no scripted replies succeeds with an empty calendar.
type stubUpstream struct {
	mu sync.Mutex

	containersData   []byte
	containersCount  int
	appointmentsData []byte
	appointmentCount int
	bulk             *upstream.BulkInfo

	checkReplies map[string][]checkReply
	screenshots  map[string][]byte

	listContainerCalls int
	bulkErrs           []error
	bulkImportIDs      []string
	bulkExportIDs      []string
	checks             []upstream.CheckRequest
	checkSessions      []string
}

func (u *stubUpstream) ListContainers(ctx context.Context, sessionID string) (*upstream.ListResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.listContainerCalls++
	return &upstream.ListResult{FileURL: "up://containers", Count: u.containersCount}, nil
}

func (u *stubUpstream) ListAppointments(ctx context.Context, sessionID string) (*upstream.ListResult, error) {
	return &upstream.ListResult{FileURL: "up://appointments", Count: u.appointmentCount}, nil
}

func (u *stubUpstream) GetBulkInfo(ctx context.Context, sessionID string, importIDs, exportIDs []string) (*upstream.BulkInfo, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.bulkImportIDs = importIDs
	u.bulkExportIDs = exportIDs
	if len(u.bulkErrs) > 0 {
		err := u.bulkErrs[0]
		u.bulkErrs = u.bulkErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return u.bulk, nil
}

func (u *stubUpstream) CheckAppointments(ctx context.Context, sessionID string, req upstream.CheckRequest) (*upstream.CheckResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.checks = append(u.checks, req)
	u.checkSessions = append(u.checkSessions, sessionID)

	replies := u.checkReplies[req.ContainerID]
	if len(replies) == 0 {
		return &upstream.CheckResult{CalendarFound: true}, nil
	}
	reply := replies[0]
	u.checkReplies[req.ContainerID] = replies[1:]
	if reply.err != nil {
		return nil, reply.err
	}
	return reply.res, nil
}

func (u *stubUpstream) Download(ctx context.Context, url string) ([]byte, string, error) {
	switch url {
	case "up://containers":
		return u.containersData, "application/octet-stream", nil
	case "up://appointments":
		return u.appointmentsData, "application/octet-stream", nil
	}
	if data, ok := u.screenshots[url]; ok {
		return data, "image/png", nil
	}
	return nil, "", &upstream.Error{Kind: upstream.KindPermanent, Op: "download", Message: "unknown url"}
}

type stubSessions struct {
	mu         sync.Mutex
	recoveries int
}

func (s *stubSessions) Ensure(ctx context.Context, tenant *models.Tenant, jobOrdinal int64) (string, error) {
	return "sess-1", nil
}

func (s *stubSessions) Recover(ctx context.Context, tenant *models.Tenant, jobOrdinal int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recoveries++
	return fmt.Sprintf("sess-%d", s.recoveries+1), nil
}

func (s *stubSessions) recovered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recoveries
}

type stubJobs struct {
	mu           sync.Mutex
	claimErrs    []error
	newerReplies []bool
	newerDefault bool

	finishStatus models.JobStatus
	finishStats  *models.SummaryStats
	finishMsg    string
	finishCalls  int
}

func (j *stubJobs) SetInProgress(ctx context.Context, job *models.Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.claimErrs) > 0 {
		err := j.claimErrs[0]
		j.claimErrs = j.claimErrs[1:]
		return err
	}
	return nil
}

func (j *stubJobs) Finish(ctx context.Context, job *models.Job, status models.JobStatus, stats *models.SummaryStats, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finishCalls++
	j.finishStatus = status
	j.finishStats = stats
	j.finishMsg = errMsg
	return nil
}

func (j *stubJobs) FindNewer(ctx context.Context, tenantID, ordinal int64) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.newerReplies) > 0 {
		newer := j.newerReplies[0]
		j.newerReplies = j.newerReplies[1:]
		return newer, nil
	}
	return j.newerDefault, nil
}

type fixture struct {
	executor *Executor
	up       *stubUpstream
	sessions *stubSessions
	jobs     *stubJobs
	store    *artifacts.Store
	tenant   *models.Tenant
	job      *models.Job
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	listing := listingTable()
	containersData, err := listing.Bytes()
	require.NoError(t, err)

	up := &stubUpstream{
		containersData:   containersData,
		containersCount:  listing.Len(),
		appointmentsData: []byte("appointments-workbook"),
		appointmentCount: 3,
		bulk: &upstream.BulkInfo{
			Imports: []upstream.ImportInfo{{
				ContainerID:   "MSCU1111111",
				PregatePassed: false,
				Timeline: []upstream.Milestone{
					{Milestone: colManifested, Date: "03/20/2025 08:11"},
					{Milestone: colDeparted, Date: "03/24/2025 13:10"},
				},
			}},
			Exports: []upstream.ExportInfo{{
				ContainerID:   "TCLU2222222",
				BookingNumber: "BK-7",
			}},
		},
		checkReplies: map[string][]checkReply{
			"MSCU1111111": {{res: &upstream.CheckResult{
				AvailableTimes: []string{
					"10/12/2025 09:00 AM - 10:00 AM",
					"10/10/2025 08:00 AM - 09:00 AM",
				},
				CalendarFound: true,
				ScreenshotURL: "up://shot1",
			}}},
		},
		screenshots: map[string][]byte{"up://shot1": {0x89, 0x50}},
	}

	sessions := &stubSessions{}
	jobs := &stubJobs{}
	clock := clockwork.NewFakeClockAt(time.Unix(1700000500, 0))

	root := t.TempDir()
	store := artifacts.NewStore(root)
	tenantFolder := filepath.Join(root, "acme")
	queryID := models.FormatQueryID(7, 1700000000)

	cfg := config.PipelineConfig{
		CheckpointEvery: 5,
		TruckingCompany: "K & R TRANSPORTATION LLC",
		TruckPlate:      "ABC123",
	}

	return &fixture{
		executor: NewExecutor(up, sessions, jobs, store, cfg, clock),
		up:       up,
		sessions: sessions,
		jobs:     jobs,
		store:    store,
		tenant:   &models.Tenant{ID: 7, FolderPath: tenantFolder},
		job: &models.Job{
			QueryID:    queryID,
			TenantID:   7,
			Status:     models.StatusPending,
			FolderPath: models.JobFolderPath(tenantFolder, queryID),
		},
		clock: clock,
	}
}

func loadFiltered(t *testing.T, job *models.Job) *spreadsheet.Table {
	t.Helper()
	table, err := spreadsheet.Load(artifacts.FilteredContainersPath(job))
	require.NoError(t, err)
	return table
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.executor.Run(context.Background(), f.tenant, f.job))

	assert.Equal(t, models.StatusCompleted, f.jobs.finishStatus)
	assert.Empty(t, f.jobs.finishMsg)

	stats := f.jobs.finishStats
	require.NotNil(t, stats)
	assert.Equal(t, 5, stats.TotalsList)
	assert.Equal(t, 2, stats.TotalsFiltered)
	assert.Equal(t, 1, stats.TotalsImport)
	assert.Equal(t, 1, stats.TotalsExport)
	assert.Equal(t, 2, stats.ProbesOK)
	assert.Equal(t, 0, stats.ProbesFailed)
	assert.Equal(t, 3, stats.TotalAppointments)

	// Job artifacts plus the tenant-level mirrors.
	for _, path := range []string{
		artifacts.AllContainersPath(f.job),
		artifacts.FilteredContainersPath(f.job),
		artifacts.AllAppointmentsPath(f.job),
		artifacts.MasterContainersPath(f.tenant.FolderPath),
		artifacts.MasterAppointmentsPath(f.tenant.FolderPath),
	} {
		_, err := os.Stat(path)
		assert.NoError(t, err, path)
	}

	filtered := loadFiltered(t, f.job)
	require.Equal(t, 2, filtered.Len())
	assert.Equal(t, "03/20/2025", filtered.Get(0, colManifested))
	assert.Equal(t, "03/24/2025", filtered.Get(0, colDeparted))
	assert.Equal(t, naValue, filtered.Get(0, colEmptyReceived))
	assert.Equal(t, "10/10/2025", filtered.Get(0, colApptBefore),
		"earliest slot date goes into the before column for a pick-up")
	assert.Equal(t, naValue, filtered.Get(0, colApptAfter))
	for _, col := range outputColumns {
		assert.Equal(t, naValue, filtered.Get(1, col), "export rows keep %s at N/A", col)
	}

	// Bulk enrichment was partitioned by trade type.
	assert.Equal(t, []string{"MSCU1111111"}, f.up.bulkImportIDs)
	assert.Equal(t, []string{"TCLU2222222"}, f.up.bulkExportIDs)

	require.Len(t, f.up.checks, 2)
	imp := f.up.checks[0]
	assert.Equal(t, TradeImport, imp.TradeType)
	assert.Equal(t, "Total Terminals Intl LLC", imp.Terminal)
	assert.Equal(t, MovePickFull, imp.MoveType)
	assert.Equal(t, "MSCU1111111", imp.ContainerID)
	assert.Equal(t, "K & R TRANSPORTATION LLC", imp.TruckingCompany)

	exp := f.up.checks[1]
	assert.Equal(t, TradeExport, exp.TradeType)
	assert.Equal(t, "ITS Long Beach", exp.Terminal, "exports resolve their destination terminal")
	assert.Equal(t, MoveDropFull, exp.MoveType)
	assert.Equal(t, "BK-7", exp.ContainerID, "exports probe with their booking number")

	// Probe payloads and the screenshot landed under the attempts tree.
	epoch := f.clock.Now().Unix()
	for _, path := range []string{
		filepath.Join(f.job.FolderPath, "containers_checking_attempts", "responses",
			fmt.Sprintf("MSCU1111111_%d.json", epoch)),
		filepath.Join(f.job.FolderPath, "containers_checking_attempts", "responses",
			fmt.Sprintf("TCLU2222222_%d.json", epoch)),
		filepath.Join(f.job.FolderPath, "containers_checking_attempts", "screenshots",
			fmt.Sprintf("MSCU1111111_%d.png", epoch)),
	} {
		_, err := os.Stat(path)
		assert.NoError(t, err, path)
	}

	progress := f.store.ReadProgress(f.job)
	assert.True(t, progress.Done("MSCU1111111"))
	assert.True(t, progress.Done("TCLU2222222"))
}

func TestRunRecoversSessionMidProbe(t *testing.T) {
	f := newFixture(t)
	f.up.checkReplies["MSCU1111111"] = []checkReply{
		{err: &upstream.Error{Kind: upstream.KindSessionInvalid, Op: "check_appointments", StatusCode: 400}},
		{res: &upstream.CheckResult{CalendarFound: true}},
	}

	require.NoError(t, f.executor.Run(context.Background(), f.tenant, f.job))

	assert.Equal(t, models.StatusCompleted, f.jobs.finishStatus)
	assert.Equal(t, 1, f.sessions.recovered(), "one invalidation recovers exactly once")
	assert.Equal(t, 2, f.jobs.finishStats.ProbesOK)
	assert.Equal(t, 0, f.jobs.finishStats.ProbesFailed)

	// The retried probe and everything after it ride the fresh session.
	require.Len(t, f.up.checkSessions, 3)
	assert.Equal(t, "sess-1", f.up.checkSessions[0])
	assert.Equal(t, "sess-2", f.up.checkSessions[1])
	assert.Equal(t, "sess-2", f.up.checkSessions[2])
}

func TestRunRecoversSessionDuringBulkEnrichment(t *testing.T) {
	f := newFixture(t)
	f.up.bulkErrs = []error{
		&upstream.Error{Kind: upstream.KindSessionInvalid, Op: "get_info_bulk", StatusCode: 400},
	}

	require.NoError(t, f.executor.Run(context.Background(), f.tenant, f.job))

	assert.Equal(t, models.StatusCompleted, f.jobs.finishStatus)
	assert.Equal(t, 1, f.sessions.recovered(), "the bulk call recovers exactly once and retries")
	assert.Equal(t, 2, f.jobs.finishStats.ProbesOK)
	assert.Equal(t, 0, f.jobs.finishStats.ProbesFailed)

	// The retried bulk call succeeded: milestone dates still land in the
	// filtered sheet, and every probe rides the fresh session.
	filtered := loadFiltered(t, f.job)
	assert.Equal(t, "03/20/2025", filtered.Get(0, colManifested))
	require.Len(t, f.up.checkSessions, 2)
	assert.Equal(t, "sess-2", f.up.checkSessions[0])
	assert.Equal(t, "sess-2", f.up.checkSessions[1])
}

func TestRunTransientProbeFailureDoesNotFailJob(t *testing.T) {
	f := newFixture(t)
	transient := &upstream.Error{Kind: upstream.KindTransient, Op: "check_appointments", StatusCode: 502}
	f.up.checkReplies["MSCU1111111"] = []checkReply{{err: transient}, {err: transient}}

	require.NoError(t, f.executor.Run(context.Background(), f.tenant, f.job))

	assert.Equal(t, models.StatusCompleted, f.jobs.finishStatus)
	assert.Equal(t, 1, f.jobs.finishStats.ProbesOK)
	assert.Equal(t, 1, f.jobs.finishStats.ProbesFailed)
	assert.Zero(t, f.sessions.recovered(), "transient probe failures never recover the session")

	filtered := loadFiltered(t, f.job)
	assert.Equal(t, naValue, filtered.Get(0, colApptBefore), "a failed probe leaves the column untouched")

	progress := f.store.ReadProgress(f.job)
	assert.False(t, progress.Done("MSCU1111111"))
	assert.True(t, progress.Done("TCLU2222222"))
}

func TestRunCancelledBetweenProbes(t *testing.T) {
	f := newFixture(t)
	f.jobs.newerReplies = []bool{false, true}

	err := f.executor.Run(context.Background(), f.tenant, f.job)
	require.ErrorIs(t, err, session.ErrCancelledByNewerJob)

	assert.Equal(t, models.StatusFailed, f.jobs.finishStatus)
	assert.Equal(t, "cancelled by newer job", f.jobs.finishMsg)
	assert.Len(t, f.up.checks, 1, "the second item must never be probed")
}

func TestRunExportWithoutBookingFails(t *testing.T) {
	f := newFixture(t)
	f.up.bulk.Exports = nil

	require.NoError(t, f.executor.Run(context.Background(), f.tenant, f.job))

	assert.Equal(t, models.StatusCompleted, f.jobs.finishStatus)
	assert.Equal(t, 1, f.jobs.finishStats.ProbesOK)
	assert.Equal(t, 1, f.jobs.finishStats.ProbesFailed)

	require.Len(t, f.up.checks, 1)
	assert.Equal(t, "MSCU1111111", f.up.checks[0].ContainerID,
		"an export without a booking number is failed without probing")
}

func TestRunYieldsClaimToNewerJob(t *testing.T) {
	f := newFixture(t)
	f.jobs.claimErrs = []error{services.ErrJobInProgress}
	f.jobs.newerDefault = true

	err := f.executor.Run(context.Background(), f.tenant, f.job)
	require.ErrorIs(t, err, session.ErrCancelledByNewerJob)

	assert.Equal(t, models.StatusFailed, f.jobs.finishStatus)
	assert.Equal(t, "cancelled by newer job", f.jobs.finishMsg)
	assert.Zero(t, f.up.listContainerCalls, "a superseded pending job never starts")
}

func TestRunWaitsForClaimSlot(t *testing.T) {
	f := newFixture(t)
	f.jobs.claimErrs = []error{services.ErrJobInProgress}

	errCh := make(chan error, 1)
	go func() {
		errCh <- f.executor.Run(context.Background(), f.tenant, f.job)
	}()

	// The first claim attempt is rejected; the executor sleeps one poll
	// interval before trying again.
	f.clock.BlockUntil(1)
	f.clock.Advance(claimPollInterval)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("executor never reclaimed the slot")
	}
	assert.Equal(t, models.StatusCompleted, f.jobs.finishStatus)
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.EnsureJobDirs(f.job))
	progress := models.NewCheckProgress()
	progress.Record("MSCU1111111", models.ItemStatusOK, 1700000100)
	require.NoError(t, f.store.WriteProgress(f.job, progress))

	require.NoError(t, f.executor.Run(context.Background(), f.tenant, f.job))

	assert.Equal(t, 2, f.jobs.finishStats.ProbesOK, "checkpointed items count as succeeded")
	require.Len(t, f.up.checks, 1, "checkpointed items are not re-probed")
	assert.Equal(t, "BK-7", f.up.checks[0].ContainerID)
}
