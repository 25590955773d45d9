package api

import "github.com/mohamed-ali0/main-bots-api/pkg/models"

type errorResponse struct {
	Error string `json:"error"`
}

// triggerResponse is returned by POST /api/jobs/trigger.
type triggerResponse struct {
	QueryID string           `json:"query_id"`
	Status  models.JobStatus `json:"status"`
}

// jobListResponse is the paginated payload of GET /api/jobs.
type jobListResponse struct {
	Jobs     []models.Job `json:"jobs"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

// spreadsheetResponse describes one downloadable artifact.
type spreadsheetResponse struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
}

// scheduleResponse is the tenant's current schedule state.
type scheduleResponse struct {
	Enabled          bool `json:"enabled"`
	FrequencyMinutes int  `json:"frequency_minutes"`
}
