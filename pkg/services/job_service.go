package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"

	"github.com/mohamed-ali0/main-bots-api/pkg/models"
)

// JobService manages durable job records. Every write is its own short
// transaction; the pipeline never holds a transaction across upstream calls.
type JobService struct {
	db    *sqlx.DB
	clock clockwork.Clock

	// lastOrdinal tracks the highest ordinal handed out per tenant so two
	// triggers within the same second still get strictly increasing ids.
	mu          sync.Mutex
	lastOrdinal map[int64]int64
}

// NewJobService creates a new JobService.
func NewJobService(db *sqlx.DB, clock clockwork.Clock) *JobService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &JobService{
		db:          db,
		clock:       clock,
		lastOrdinal: make(map[int64]int64),
	}
}

// nextOrdinal assigns a monotonic unix-second ordinal for the tenant.
func (s *JobService) nextOrdinal(tenantID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ordinal := s.clock.Now().Unix()
	if last := s.lastOrdinal[tenantID]; ordinal <= last {
		ordinal = last + 1
	}
	s.lastOrdinal[tenantID] = ordinal
	return ordinal
}

// Create inserts a new pending job for the tenant.
func (s *JobService) Create(ctx context.Context, tenant *models.Tenant, platform string) (*models.Job, error) {
	if platform == "" {
		platform = models.PlatformEModal
	}

	ordinal := s.nextOrdinal(tenant.ID)
	queryID := models.FormatQueryID(tenant.ID, ordinal)
	folder := models.JobFolderPath(tenant.FolderPath, queryID)

	job := &models.Job{
		QueryID:    queryID,
		TenantID:   tenant.ID,
		Platform:   platform,
		Status:     models.StatusPending,
		FolderPath: folder,
		StartedAt:  s.clock.Now().UTC(),
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO jobs (query_id, tenant_id, platform, status, folder_path, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		job.QueryID, job.TenantID, job.Platform, job.Status, job.FolderPath, job.StartedAt,
	).Scan(&job.ID)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert job %s: %w", queryID, err)
	}
	return job, nil
}

// SetInProgress promotes a pending job to in_progress. The claim succeeds
// only when the tenant has no other in-progress job. The NOT EXISTS guard
// alone does not survive two concurrent claims under READ COMMITTED (each
// statement snapshots before the other commits), so the partial unique
// index uq_jobs_tenant_in_progress is the backstop: the losing claim gets
// a unique violation, reported as ErrJobInProgress like any other miss.
func (s *JobService) SetInProgress(ctx context.Context, job *models.Job) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1
		 WHERE query_id = $2 AND status = $3
		   AND NOT EXISTS (
		       SELECT 1 FROM jobs
		       WHERE tenant_id = $4 AND status = $1 AND query_id <> $2
		   )`,
		models.StatusInProgress, job.QueryID, models.StatusPending, job.TenantID)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrJobInProgress
		}
		return fmt.Errorf("failed to claim job %s: %w", job.QueryID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read claim result for job %s: %w", job.QueryID, err)
	}
	if n == 0 {
		return ErrJobInProgress
	}
	job.Status = models.StatusInProgress
	return nil
}

// Finish writes the terminal state for a job. Terminal jobs are never
// mutated again; a second Finish is a no-op at the database.
func (s *JobService) Finish(ctx context.Context, job *models.Job, status models.JobStatus, stats *models.SummaryStats, errMsg string) error {
	if !status.Terminal() {
		return NewValidationError("status", "must be a terminal status")
	}

	completedAt := s.clock.Now().UTC()
	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, summary_stats = $2, error_message = $3, completed_at = $4
		 WHERE query_id = $5 AND status IN ($6, $7)`,
		status, stats, errPtr, completedAt,
		job.QueryID, models.StatusPending, models.StatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to finish job %s: %w", job.QueryID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s is already terminal", job.QueryID)
	}

	job.Status = status
	job.SummaryStats = stats
	job.ErrorMessage = errPtr
	job.CompletedAt = &completedAt
	return nil
}

// Get returns the job with the given query id.
func (s *JobService) Get(ctx context.Context, queryID string) (*models.Job, error) {
	var job models.Job
	err := s.db.GetContext(ctx, &job, `SELECT * FROM jobs WHERE query_id = $1`, queryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job %s: %w", queryID, err)
	}
	return &job, nil
}

// ListParams filter and paginate job listings.
type ListParams struct {
	Status   models.JobStatus
	Page     int
	PageSize int
}

// List returns a page of the tenant's jobs, newest first, with the total
// matching count.
func (s *JobService) List(ctx context.Context, tenantID int64, params ListParams) ([]models.Job, int, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 25
	}
	if params.Status != "" && !params.Status.Valid() {
		return nil, 0, NewValidationError("status", "unknown status "+string(params.Status))
	}

	where := `WHERE tenant_id = $1`
	args := []any{tenantID}
	if params.Status != "" {
		where += ` AND status = $2`
		args = append(args, params.Status)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM jobs `+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs for tenant %d: %w", tenantID, err)
	}

	query := fmt.Sprintf(
		`SELECT * FROM jobs %s ORDER BY started_at DESC LIMIT %d OFFSET %d`,
		where, params.PageSize, (params.Page-1)*params.PageSize)

	var jobs []models.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs for tenant %d: %w", tenantID, err)
	}
	return jobs, total, nil
}

// HasInProgress reports whether the tenant currently has an in-progress job.
func (s *JobService) HasInProgress(ctx context.Context, tenantID int64) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM jobs WHERE tenant_id = $1 AND status = $2`,
		tenantID, models.StatusInProgress)
	if err != nil {
		return false, fmt.Errorf("failed to count in-progress jobs for tenant %d: %w", tenantID, err)
	}
	return count > 0, nil
}

// FindNewer reports whether any job for the tenant carries an ordinal
// strictly greater than the given one. Malformed query ids are skipped:
// an unparseable id can never cancel a running job.
func (s *JobService) FindNewer(ctx context.Context, tenantID int64, ordinal int64) (bool, error) {
	var queryIDs []string
	err := s.db.SelectContext(ctx, &queryIDs,
		`SELECT query_id FROM jobs WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to list job ids for tenant %d: %w", tenantID, err)
	}
	for _, id := range queryIDs {
		if other, ok := models.ParseOrdinal(id); ok && other > ordinal {
			return true, nil
		}
	}
	return false, nil
}

// DeleteTerminalBefore removes terminal jobs completed before the cutoff
// and returns them so callers can prune their artifact trees.
func (s *JobService) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.SelectContext(ctx, &jobs,
		`DELETE FROM jobs
		 WHERE status IN ($1, $2) AND completed_at < $3
		 RETURNING *`,
		models.StatusCompleted, models.StatusFailed, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to delete jobs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return jobs, nil
}
