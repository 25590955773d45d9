package api

// scheduleRequest is the body of PUT /api/schedule. Omitted fields keep
// their current values.
type scheduleRequest struct {
	Enabled          *bool `json:"enabled"`
	FrequencyMinutes *int  `json:"frequency_minutes"`
}

// listJobsQuery are the query parameters of GET /api/jobs.
type listJobsQuery struct {
	Status   string `form:"status"`
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
}
