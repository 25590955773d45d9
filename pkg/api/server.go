// Package api exposes the HTTP surface: job triggering and inspection,
// artifact downloads, schedule control, and health.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mohamed-ali0/main-bots-api/pkg/artifacts"
	"github.com/mohamed-ali0/main-bots-api/pkg/config"
	"github.com/mohamed-ali0/main-bots-api/pkg/database"
	"github.com/mohamed-ali0/main-bots-api/pkg/models"
	"github.com/mohamed-ali0/main-bots-api/pkg/services"
)

// TenantReader resolves authenticated tenants.
type TenantReader interface {
	Get(ctx context.Context, id int64) (*models.Tenant, error)
	GetByToken(ctx context.Context, token string) (*models.Tenant, error)
}

// JobReader serves job lookups and listings.
type JobReader interface {
	Get(ctx context.Context, queryID string) (*models.Job, error)
	List(ctx context.Context, tenantID int64, params services.ListParams) ([]models.Job, int, error)
}

// Trigger launches a new run for a tenant.
type Trigger interface {
	Trigger(ctx context.Context, tenant *models.Tenant) (*models.Job, error)
}

// Schedule mutates a tenant's periodic harvesting.
type Schedule interface {
	Pause(ctx context.Context, tenant *models.Tenant) error
	Resume(ctx context.Context, tenant *models.Tenant) error
	UpdateFrequency(ctx context.Context, tenant *models.Tenant, frequencyMinutes int) error
}

// Server wires the HTTP handlers to the service layer.
type Server struct {
	cfg      *config.Config
	db       *database.Client
	tenants  TenantReader
	jobs     JobReader
	trigger  Trigger
	schedule Schedule
	store    *artifacts.Store
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, db *database.Client, tenants TenantReader, jobs JobReader, trigger Trigger, schedule Schedule, store *artifacts.Store) *Server {
	return &Server{
		cfg:      cfg,
		db:       db,
		tenants:  tenants,
		jobs:     jobs,
		trigger:  trigger,
		schedule: schedule,
		store:    store,
	}
}

// Router builds the gin engine with middleware and all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(requestID(), requestLogger(), gin.Recovery(), securityHeaders())

	router.GET("/health", s.Health)

	authed := router.Group("/api", s.tenantAuth())
	{
		authed.POST("/jobs/trigger", s.TriggerJob)
		authed.GET("/jobs", s.ListJobs)
		authed.GET("/jobs/:query_id", s.GetJob)
		authed.GET("/jobs/:query_id/download", s.DownloadJobZip)

		authed.GET("/files/spreadsheet", s.GetSpreadsheet)
		authed.GET("/files/spreadsheet/download", s.DownloadSpreadsheet)

		authed.GET("/schedule", s.GetSchedule)
		authed.PUT("/schedule", s.SetSchedule)
		authed.POST("/schedule/pause", s.PauseSchedule)
		authed.POST("/schedule/resume", s.ResumeSchedule)
	}
	return router
}

// Health reports service and database health.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db.DB.DB)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealth,
	})
}
