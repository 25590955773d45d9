package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mohamed-ali0/main-bots-api/pkg/models"
	"github.com/mohamed-ali0/main-bots-api/pkg/services"
)

// TriggerJob creates a pending job and launches its run in the background.
// It returns immediately; callers poll GET /api/jobs/:query_id afterwards.
func (s *Server) TriggerJob(c *gin.Context) {
	tenant := currentTenant(c)

	job, err := s.trigger.Trigger(c.Request.Context(), tenant)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, triggerResponse{QueryID: job.QueryID, Status: job.Status})
}

// GetJob returns one job with status, stats, timestamps, and error.
func (s *Server) GetJob(c *gin.Context) {
	job, ok := s.tenantJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs returns the tenant's jobs, optionally filtered by status,
// newest first.
func (s *Server) ListJobs(c *gin.Context) {
	tenant := currentTenant(c)

	var query listJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid query parameters: " + err.Error()})
		return
	}
	if query.Status != "" && !models.JobStatus(query.Status).Valid() {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown status filter: " + query.Status})
		return
	}

	jobs, total, err := s.jobs.List(c.Request.Context(), tenant.ID, services.ListParams{
		Status:   models.JobStatus(query.Status),
		Page:     query.Page,
		PageSize: query.PageSize,
	})
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobListResponse{
		Jobs:     jobs,
		Total:    total,
		Page:     query.Page,
		PageSize: query.PageSize,
	})
}

// tenantJob loads the job named by the query_id path parameter and verifies
// it belongs to the acting tenant. Foreign jobs read as not found.
func (s *Server) tenantJob(c *gin.Context) (*models.Job, bool) {
	tenant := currentTenant(c)

	job, err := s.jobs.Get(c.Request.Context(), c.Param("query_id"))
	if err != nil {
		mapServiceError(c, err)
		return nil, false
	}
	if job.TenantID != tenant.ID {
		c.JSON(http.StatusNotFound, errorResponse{Error: "resource not found"})
		return nil, false
	}
	return job, true
}
