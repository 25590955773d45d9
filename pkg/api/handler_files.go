package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/mohamed-ali0/main-bots-api/pkg/artifacts"
)

// Spreadsheet kinds accepted by the file endpoints.
const (
	kindLatestList         = "latest_list"
	kindLatestAppointments = "latest_appointments"
	kindJobList            = "job_list"
	kindJobFiltered        = "job_filtered"
	kindJobAppointments    = "job_appointments"
)

// DownloadJobZip streams the job's artifact directory as a zip archive.
func (s *Server) DownloadJobZip(c *gin.Context) {
	job, ok := s.tenantJob(c)
	if !ok {
		return
	}
	if _, err := os.Stat(job.FolderPath); err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "no artifacts for this job yet"})
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, job.QueryID))
	c.Status(http.StatusOK)

	if err := s.store.ZipJob(job, c.Writer); err != nil {
		// Headers are already out; all we can do is log and drop the
		// connection mid-stream.
		slog.Error("Zip stream failed", "query_id", job.QueryID, "error", err)
	}
}

// GetSpreadsheet returns metadata and a download URL for one spreadsheet
// artifact, either a tenant-level master mirror or a per-job file.
func (s *Server) GetSpreadsheet(c *gin.Context) {
	path, ok := s.resolveSpreadsheet(c)
	if !ok {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "spreadsheet not available yet"})
		return
	}

	download := url.URL{
		Path: "/api/files/spreadsheet/download",
		RawQuery: url.Values{
			"kind":     {c.Query("kind")},
			"query_id": {c.Query("query_id")},
		}.Encode(),
	}
	c.JSON(http.StatusOK, spreadsheetResponse{
		Filename:    filepath.Base(path),
		Size:        info.Size(),
		DownloadURL: download.String(),
	})
}

// DownloadSpreadsheet serves the spreadsheet bytes.
func (s *Server) DownloadSpreadsheet(c *gin.Context) {
	path, ok := s.resolveSpreadsheet(c)
	if !ok {
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "spreadsheet not available yet"})
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

// resolveSpreadsheet maps a kind (plus query_id for per-job kinds) to a
// filesystem path, enforcing tenant ownership for job files.
func (s *Server) resolveSpreadsheet(c *gin.Context) (string, bool) {
	tenant := currentTenant(c)

	switch kind := c.Query("kind"); kind {
	case kindLatestList:
		return artifacts.MasterContainersPath(tenant.FolderPath), true
	case kindLatestAppointments:
		return artifacts.MasterAppointmentsPath(tenant.FolderPath), true
	case kindJobList, kindJobFiltered, kindJobAppointments:
		if c.Query("query_id") == "" {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "query_id is required for kind " + kind})
			return "", false
		}
		job, err := s.jobs.Get(c.Request.Context(), c.Query("query_id"))
		if err != nil {
			mapServiceError(c, err)
			return "", false
		}
		if job.TenantID != tenant.ID {
			c.JSON(http.StatusNotFound, errorResponse{Error: "resource not found"})
			return "", false
		}
		switch kind {
		case kindJobList:
			return artifacts.AllContainersPath(job), true
		case kindJobFiltered:
			return artifacts.FilteredContainersPath(job), true
		default:
			return artifacts.AllAppointmentsPath(job), true
		}
	default:
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown spreadsheet kind: " + kind})
		return "", false
	}
}
