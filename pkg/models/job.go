package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a harvest job. Status is monotonic:
// pending → in_progress → {completed | failed}. Terminal jobs are never mutated.
type JobStatus string

// Job status constants.
const (
	StatusPending    JobStatus = "pending"
	StatusInProgress JobStatus = "in_progress"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// PlatformEModal is the only upstream platform currently implemented.
// The field is carried on every job so additional platforms can be added
// without a schema change.
const PlatformEModal = "emodal"

// Job is one pipeline run ("query") for one tenant on one platform.
type Job struct {
	ID           int64         `db:"id" json:"-"`
	QueryID      string        `db:"query_id" json:"query_id"`
	TenantID     int64         `db:"tenant_id" json:"tenant_id"`
	Platform     string        `db:"platform" json:"platform"`
	Status       JobStatus     `db:"status" json:"status"`
	FolderPath   string        `db:"folder_path" json:"folder_path"`
	SummaryStats *SummaryStats `db:"summary_stats" json:"summary_stats,omitempty"`
	ErrorMessage *string       `db:"error_message" json:"error_message,omitempty"`
	StartedAt    time.Time     `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
}

// Ordinal returns the unix-second suffix embedded in the query id.
// The ordinal defines "newer" between jobs of the same tenant.
func (j *Job) Ordinal() (int64, bool) {
	return ParseOrdinal(j.QueryID)
}

// ParseOrdinal extracts the job ordinal from a query id of the form
// "q_{tenant_id}_{unix_seconds}". It returns false on any malformed id;
// callers treat that as "no newer job" rather than an error.
func ParseOrdinal(queryID string) (int64, bool) {
	parts := strings.Split(queryID, "_")
	if len(parts) != 3 || parts[0] != "q" {
		return 0, false
	}
	ordinal, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || ordinal <= 0 {
		return 0, false
	}
	return ordinal, true
}

// FormatQueryID builds the canonical query id for a tenant and ordinal.
func FormatQueryID(tenantID, ordinal int64) string {
	return fmt.Sprintf("q_%d_%d", tenantID, ordinal)
}

// JobFolderPath derives the artifact directory owned by a job. The same
// derivation is used by the job store (to persist folder_path) and the
// artifact store (to create the tree).
func JobFolderPath(tenantFolder, queryID string) string {
	return filepath.Join(tenantFolder, "emodal", "queries", queryID)
}

// SummaryStats summarizes a completed run. Stored as a JSON column.
type SummaryStats struct {
	TotalsList        int `json:"totals_list"`
	TotalsFiltered    int `json:"totals_filtered"`
	TotalsImport      int `json:"totals_import"`
	TotalsExport      int `json:"totals_export"`
	ProbesOK          int `json:"probes_ok"`
	ProbesFailed      int `json:"probes_failed"`
	TotalAppointments int `json:"total_appointments"`
	DurationSeconds   int `json:"duration_seconds"`
}

// Value implements driver.Valuer so the stats marshal into a JSONB column.
func (s SummaryStats) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for reading the JSONB column back.
func (s *SummaryStats) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported summary_stats type %T", src)
	}
}
