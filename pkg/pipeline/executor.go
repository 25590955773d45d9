package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mohamed-ali0/main-bots-api/pkg/artifacts"
	"github.com/mohamed-ali0/main-bots-api/pkg/models"
	"github.com/mohamed-ali0/main-bots-api/pkg/services"
	"github.com/mohamed-ali0/main-bots-api/pkg/session"
	"github.com/mohamed-ali0/main-bots-api/pkg/spreadsheet"
	"github.com/mohamed-ali0/main-bots-api/pkg/upstream"
)

// claimPollInterval is how often a pending job re-attempts to claim the
// tenant's single in-progress slot while an older job still holds it.
const claimPollInterval = 2 * time.Second

// cancelledMessage is the error_message recorded when a newer job wins.
const cancelledMessage = "cancelled by newer job"

// Run executes one job end to end and always leaves it in a terminal
// state. The returned error mirrors what was recorded on the job row.
func (e *Executor) Run(ctx context.Context, tenant *models.Tenant, job *models.Job) error {
	log := slog.With("tenant_id", tenant.ID, "query_id", job.QueryID)
	ordinal, _ := job.Ordinal()

	if err := e.claim(ctx, tenant.ID, job, ordinal); err != nil {
		log.Warn("Job never started", "error", err)
		return e.fail(job, nil, err)
	}
	log.Info("Job started")

	started := e.clock.Now()
	stats := &models.SummaryStats{}
	err := e.execute(ctx, tenant, job, ordinal, stats)
	stats.DurationSeconds = int(e.clock.Since(started).Seconds())

	if err != nil {
		log.Error("Job failed", "error", err, "duration_seconds", stats.DurationSeconds)
		return e.fail(job, stats, err)
	}
	if err := e.jobs.Finish(context.Background(), job, models.StatusCompleted, stats, ""); err != nil {
		log.Error("Failed to record job completion", "error", err)
		return err
	}
	log.Info("Job completed",
		"duration_seconds", stats.DurationSeconds,
		"probes_ok", stats.ProbesOK,
		"probes_failed", stats.ProbesFailed)
	return nil
}

// claim transitions the job to in_progress, waiting while an older job of
// the same tenant holds the slot. A newer job appearing while we wait wins
// immediately.
func (e *Executor) claim(ctx context.Context, tenantID int64, job *models.Job, ordinal int64) error {
	for {
		err := e.jobs.SetInProgress(ctx, job)
		if err == nil {
			return nil
		}
		if !errors.Is(err, services.ErrJobInProgress) {
			return err
		}

		newer, nerr := e.jobs.FindNewer(ctx, tenantID, ordinal)
		if nerr == nil && newer {
			return session.ErrCancelledByNewerJob
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(claimPollInterval):
		}
	}
}

func (e *Executor) execute(ctx context.Context, tenant *models.Tenant, job *models.Job, ordinal int64, stats *models.SummaryStats) error {
	if err := e.store.EnsureJobDirs(job); err != nil {
		return err
	}

	sessionID, err := e.sessions.Ensure(ctx, tenant, ordinal)
	if err != nil {
		return err
	}

	// Stage 1: full container listing, mirrored at the tenant level.
	containers, err := e.fetchListing(ctx, tenant, ordinal, &sessionID, e.upstream.ListContainers)
	if err != nil {
		return fmt.Errorf("container listing failed: %w", err)
	}
	stats.TotalsList = containers.count
	if err := e.store.WriteRaw(artifacts.AllContainersPath(job), containers.data); err != nil {
		return err
	}
	if err := e.store.WriteRaw(artifacts.MasterContainersPath(tenant.FolderPath), containers.data); err != nil {
		return err
	}

	// Stage 2: filter down to the work set.
	table, err := spreadsheet.FromBytes(containers.data)
	if err != nil {
		return fmt.Errorf("container listing unreadable: %w", err)
	}
	if stats.TotalsList == 0 {
		stats.TotalsList = table.Len()
	}
	filtered := Filter(table)
	stats.TotalsFiltered = filtered.Len()
	if err := e.store.WriteSpreadsheet(artifacts.FilteredContainersPath(job), filtered); err != nil {
		return err
	}
	slog.Info("Container listing filtered",
		"query_id", job.QueryID, "total", stats.TotalsList, "retained", stats.TotalsFiltered)

	// Stage 3: one bulk-enrichment call for the whole work set.
	enrich, err := e.enrich(ctx, tenant, ordinal, &sessionID, filtered, stats)
	if err != nil {
		return fmt.Errorf("bulk enrichment failed: %w", err)
	}
	if err := e.store.WriteSpreadsheet(artifacts.FilteredContainersPath(job), filtered); err != nil {
		return err
	}

	// Stage 4: sequential per-item appointment probes.
	if err := e.checkAppointments(ctx, tenant, job, ordinal, &sessionID, filtered, enrich, stats); err != nil {
		return err
	}

	// Stage 5: full appointment listing, mirrored at the tenant level.
	appointments, err := e.fetchListing(ctx, tenant, ordinal, &sessionID, e.upstream.ListAppointments)
	if err != nil {
		return fmt.Errorf("appointment listing failed: %w", err)
	}
	stats.TotalAppointments = appointments.count
	if err := e.store.WriteRaw(artifacts.AllAppointmentsPath(job), appointments.data); err != nil {
		return err
	}
	return e.store.WriteRaw(artifacts.MasterAppointmentsPath(tenant.FolderPath), appointments.data)
}

// fail records the terminal failed state. The job's own context may already
// be cancelled, so the write uses a fresh one.
func (e *Executor) fail(job *models.Job, stats *models.SummaryStats, cause error) error {
	msg := cause.Error()
	if errors.Is(cause, session.ErrCancelledByNewerJob) {
		msg = cancelledMessage
	}
	if err := e.jobs.Finish(context.Background(), job, models.StatusFailed, stats, msg); err != nil {
		slog.Error("Failed to record job failure", "query_id", job.QueryID, "error", err)
	}
	return cause
}

// listing is one fetched spreadsheet: the raw workbook bytes plus the row
// count the upstream reported alongside the download URL.
type listing struct {
	data  []byte
	count int
}

// fetchListing calls a listing endpoint and downloads the spreadsheet it
// points at, as one unit: the download URL is bound to the session that
// produced it, so a failure in either step re-lists under a fresh session.
func (e *Executor) fetchListing(ctx context.Context, tenant *models.Tenant, ordinal int64, sessionID *string,
	list func(context.Context, string) (*upstream.ListResult, error)) (*listing, error) {

	fetch := func(sess string) (*listing, error) {
		res, err := list(ctx, sess)
		if err != nil {
			return nil, err
		}
		data, _, err := e.upstream.Download(ctx, res.FileURL)
		if err != nil {
			return nil, err
		}
		return &listing{data: data, count: res.Count}, nil
	}

	out, err := fetch(*sessionID)
	if err == nil {
		return out, nil
	}
	if !upstream.IsSessionInvalid(err) && !upstream.IsTransient(err) {
		return nil, err
	}
	newSession, rerr := e.sessions.Recover(ctx, tenant, ordinal)
	if rerr != nil {
		return nil, rerr
	}
	*sessionID = newSession
	return fetch(*sessionID)
}

// enrichment is the stage-3 output consumed by stage 4.
type enrichment struct {
	pregate  map[string]bool   // import id → pregate already passed
	bookings map[string]string // export id → booking number
}

// enrich partitions the work set by trade type, makes the single bulk call,
// and writes the milestone dates of each import into the filtered table.
func (e *Executor) enrich(ctx context.Context, tenant *models.Tenant, ordinal int64, sessionID *string,
	filtered *spreadsheet.Table, stats *models.SummaryStats) (*enrichment, error) {

	var importIDs, exportIDs []string
	for i := 0; i < filtered.Len(); i++ {
		id := strings.TrimSpace(filtered.Get(i, colContainer))
		if id == "" {
			continue
		}
		if isImport(filtered.Get(i, colTradeType)) {
			importIDs = append(importIDs, id)
		} else {
			exportIDs = append(exportIDs, id)
		}
	}
	stats.TotalsImport = len(importIDs)
	stats.TotalsExport = len(exportIDs)

	result := &enrichment{
		pregate:  make(map[string]bool),
		bookings: make(map[string]string),
	}
	if len(importIDs)+len(exportIDs) == 0 {
		return result, nil
	}

	bulk, err := e.upstream.GetBulkInfo(ctx, *sessionID, importIDs, exportIDs)
	if err != nil && (upstream.IsSessionInvalid(err) || upstream.IsTransient(err)) {
		var newSession string
		newSession, err = e.sessions.Recover(ctx, tenant, ordinal)
		if err != nil {
			return nil, err
		}
		*sessionID = newSession
		bulk, err = e.upstream.GetBulkInfo(ctx, *sessionID, importIDs, exportIDs)
	}
	if err != nil {
		return nil, err
	}

	timelines := make(map[string][]upstream.Milestone, len(bulk.Imports))
	for _, info := range bulk.Imports {
		result.pregate[info.ContainerID] = info.PregatePassed
		timelines[info.ContainerID] = info.Timeline
	}
	for _, info := range bulk.Exports {
		if info.BookingNumber != "" {
			result.bookings[info.ContainerID] = info.BookingNumber
		}
	}

	// Export rows keep all five output columns at N/A.
	for i := 0; i < filtered.Len(); i++ {
		if !isImport(filtered.Get(i, colTradeType)) {
			continue
		}
		timeline, ok := timelines[strings.TrimSpace(filtered.Get(i, colContainer))]
		if !ok {
			continue
		}
		for _, col := range []string{colManifested, colDeparted, colEmptyReceived} {
			if err := filtered.Set(i, col, MilestoneDate(timeline, col)); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}
