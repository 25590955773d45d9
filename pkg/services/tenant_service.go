package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	"github.com/mohamed-ali0/main-bots-api/pkg/models"
)

// TenantService manages tenant records and their persisted upstream session.
type TenantService struct {
	db *sqlx.DB
}

// NewTenantService creates a new TenantService.
func NewTenantService(db *sqlx.DB) *TenantService {
	return &TenantService{db: db}
}

// Get returns the tenant with the given id.
func (s *TenantService) Get(ctx context.Context, id int64) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.GetContext(ctx, &t, `SELECT * FROM tenants WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant %d: %w", id, err)
	}
	return &t, nil
}

// GetByToken returns the tenant owning the given bearer token.
func (s *TenantService) GetByToken(ctx context.Context, token string) (*models.Tenant, error) {
	if token == "" {
		return nil, NewValidationError("token", "required")
	}
	var t models.Tenant
	err := s.db.GetContext(ctx, &t, `SELECT * FROM tenants WHERE token = $1`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant by token: %w", err)
	}
	return &t, nil
}

// ListScheduled returns all tenants with scheduling enabled.
func (s *TenantService) ListScheduled(ctx context.Context) ([]models.Tenant, error) {
	var tenants []models.Tenant
	err := s.db.SelectContext(ctx, &tenants,
		`SELECT * FROM tenants WHERE schedule_enabled = TRUE ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled tenants: %w", err)
	}
	return tenants, nil
}

// UpdateSessionID persists the tenant's upstream session id. A nil session
// id clears the persisted session (used before recovery).
func (s *TenantService) UpdateSessionID(ctx context.Context, tenantID int64, sessionID *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET session_id = $1, updated_at = NOW() WHERE id = $2`,
		sessionID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update session id for tenant %d: %w", tenantID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSchedule persists the tenant's schedule configuration.
func (s *TenantService) UpdateSchedule(ctx context.Context, tenantID int64, enabled bool, frequencyMinutes int) error {
	if frequencyMinutes < 1 {
		return NewValidationError("frequency_minutes", "must be >= 1")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET schedule_enabled = $1, schedule_frequency = $2, updated_at = NOW() WHERE id = $3`,
		enabled, frequencyMinutes, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update schedule for tenant %d: %w", tenantID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadCredentials reads the tenant's upstream credentials from the
// credential file under the tenant folder. The file layout is owned by the
// provisioning tooling; this reader only consumes it.
func (s *TenantService) LoadCredentials(tenant *models.Tenant) (*models.Credentials, error) {
	path := filepath.Join(tenant.FolderPath, "user_cre_env.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file for tenant %d: %w", tenant.ID, err)
	}

	var wrapper struct {
		EModal models.Credentials `json:"emodal"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to parse credential file for tenant %d: %w", tenant.ID, err)
	}
	if wrapper.EModal.Username == "" || wrapper.EModal.Password == "" {
		return nil, fmt.Errorf("credential file for tenant %d is missing username or password", tenant.ID)
	}
	return &wrapper.EModal, nil
}
