// Package models defines the shared domain types persisted by the service:
// tenants, harvest jobs, and stage-4 progress records.
package models

import "time"

// Tenant is a managed user of the service with long-lived credentials
// against the upstream automation backend.
type Tenant struct {
	ID                int64     `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	Username          string    `db:"username" json:"username"`
	Token             string    `db:"token" json:"-"`
	FolderPath        string    `db:"folder_path" json:"folder_path"`
	SessionID         *string   `db:"session_id" json:"-"`
	ScheduleEnabled   bool      `db:"schedule_enabled" json:"schedule_enabled"`
	ScheduleFrequency int       `db:"schedule_frequency" json:"schedule_frequency"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Credentials are the tenant's upstream login credentials, read from the
// credential file under the tenant's folder (layout owned externally).
type Credentials struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	CaptchaAPIKey string `json:"captcha_api_key"`
}
