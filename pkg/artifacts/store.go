// Package artifacts owns the per-tenant/per-job directory tree and provides
// atomic, idempotent writes for spreadsheets, probe payloads, screenshots,
// and the stage-4 progress checkpoint.
//
// Layout under a tenant folder:
//
//	emodal/all_containers.xlsx            master mirror, overwritten per job
//	emodal/all_appointments.xlsx          master mirror, overwritten per job
//	emodal/queries/{query_id}/            job root (job.FolderPath)
//	  all_containers.xlsx
//	  filtered_containers.xlsx
//	  all_appointments.xlsx
//	  check_progress.json
//	  containers_checking_attempts/responses/{item}_{epoch}.json
//	  containers_checking_attempts/screenshots/{item}_{epoch}.png
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mohamed-ali0/main-bots-api/pkg/models"
	"github.com/mohamed-ali0/main-bots-api/pkg/spreadsheet"
)

// Well-known artifact file names.
const (
	FileAllContainers      = "all_containers.xlsx"
	FileFilteredContainers = "filtered_containers.xlsx"
	FileAllAppointments    = "all_appointments.xlsx"
	FileCheckProgress      = "check_progress.json"

	attemptsDir    = "containers_checking_attempts"
	responsesDir   = "responses"
	screenshotsDir = "screenshots"
)

// Store provides filesystem access rooted at the configured storage path.
// Each job writes only under its own folder, so there is no cross-job
// contention.
type Store struct {
	root string
}

// NewStore creates a Store rooted at the given storage path.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the configured storage root.
func (s *Store) Root() string { return s.root }

// EnsureJobDirs creates the job root and the probe attempt subdirectories.
func (s *Store) EnsureJobDirs(job *models.Job) error {
	for _, dir := range []string{
		job.FolderPath,
		filepath.Join(job.FolderPath, attemptsDir, responsesDir),
		filepath.Join(job.FolderPath, attemptsDir, screenshotsDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create job directory %s: %w", dir, err)
		}
	}
	return nil
}

// RemoveJobDir deletes a job's entire artifact tree.
func (s *Store) RemoveJobDir(job *models.Job) error {
	if job.FolderPath == "" {
		return nil
	}
	return os.RemoveAll(job.FolderPath)
}

// AllContainersPath returns the job's raw container listing path.
func AllContainersPath(job *models.Job) string {
	return filepath.Join(job.FolderPath, FileAllContainers)
}

// FilteredContainersPath returns the job's filtered spreadsheet path.
func FilteredContainersPath(job *models.Job) string {
	return filepath.Join(job.FolderPath, FileFilteredContainers)
}

// AllAppointmentsPath returns the job's raw appointment listing path.
func AllAppointmentsPath(job *models.Job) string {
	return filepath.Join(job.FolderPath, FileAllAppointments)
}

// MasterContainersPath returns the tenant-level container mirror path.
func MasterContainersPath(tenantFolder string) string {
	return filepath.Join(tenantFolder, "emodal", FileAllContainers)
}

// MasterAppointmentsPath returns the tenant-level appointment mirror path.
func MasterAppointmentsPath(tenantFolder string) string {
	return filepath.Join(tenantFolder, "emodal", FileAllAppointments)
}

// WriteRaw atomically replaces path with data, creating parent directories
// as needed. After it returns, a reader sees either the old content or the
// new complete content — never a partial file.
func (s *Store) WriteRaw(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// Best-effort cleanup if the rename never happened.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file for %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to chmod temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// WriteSpreadsheet atomically replaces path with the serialized table.
func (s *Store) WriteSpreadsheet(path string, table *spreadsheet.Table) error {
	data, err := table.Bytes()
	if err != nil {
		return err
	}
	return s.WriteRaw(path, data)
}

// WriteResponse persists one probe response payload.
func (s *Store) WriteResponse(job *models.Job, itemID string, epoch int64, data []byte) (string, error) {
	path := filepath.Join(job.FolderPath, attemptsDir, responsesDir,
		fmt.Sprintf("%s_%d.json", itemID, epoch))
	return path, s.WriteRaw(path, data)
}

// WriteScreenshot persists one probe screenshot.
func (s *Store) WriteScreenshot(job *models.Job, itemID string, epoch int64, data []byte) (string, error) {
	path := filepath.Join(job.FolderPath, attemptsDir, screenshotsDir,
		fmt.Sprintf("%s_%d.png", itemID, epoch))
	return path, s.WriteRaw(path, data)
}

// WriteProgress atomically replaces the job's check_progress.json.
func (s *Store) WriteProgress(job *models.Job, progress *models.CheckProgress) error {
	data, err := json.MarshalIndent(progress, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal progress for %s: %w", job.QueryID, err)
	}
	return s.WriteRaw(filepath.Join(job.FolderPath, FileCheckProgress), data)
}

// ReadProgress returns the job's checkpoint. A missing or corrupt file
// yields an empty checkpoint: progress is an optimization, never a gate.
func (s *Store) ReadProgress(job *models.Job) *models.CheckProgress {
	path := filepath.Join(job.FolderPath, FileCheckProgress)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to read progress checkpoint, starting fresh",
				"query_id", job.QueryID, "error", err)
		}
		return models.NewCheckProgress()
	}

	var progress models.CheckProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		slog.Warn("Corrupt progress checkpoint, starting fresh",
			"query_id", job.QueryID, "error", err)
		return models.NewCheckProgress()
	}
	if progress.Items == nil {
		progress.Items = make(map[string]models.ItemProgress)
	}
	return &progress
}
