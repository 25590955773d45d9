// Package session manages per-tenant upstream sessions: lazy reuse,
// explicit recovery after invalidation, and credential-rejection backoff
// that a newer job can cancel.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/mohamed-ali0/main-bots-api/pkg/config"
	"github.com/mohamed-ali0/main-bots-api/pkg/models"
	"github.com/mohamed-ali0/main-bots-api/pkg/upstream"
)

// ErrCancelledByNewerJob is returned when a newer job for the same tenant
// appears while this one is waiting out a credential-rejection backoff.
var ErrCancelledByNewerJob = errors.New("cancelled by newer job")

// UpstreamAPI is the subset of the upstream client used for acquisition.
type UpstreamAPI interface {
	AcquireSession(ctx context.Context, creds upstream.Credentials) (*upstream.SessionResult, error)
	ListActiveSessions(ctx context.Context, username string) ([]string, error)
}

// TenantStore persists the tenant's session id and loads credentials.
type TenantStore interface {
	UpdateSessionID(ctx context.Context, tenantID int64, sessionID *string) error
	LoadCredentials(tenant *models.Tenant) (*models.Credentials, error)
}

// NewerJobFinder reports whether a job newer than the given ordinal exists.
type NewerJobFinder interface {
	FindNewer(ctx context.Context, tenantID int64, ordinal int64) (bool, error)
}

// Manager owns the lifecycle of upstream sessions per tenant. Only the
// manager mutates tenant.SessionID.
type Manager struct {
	upstream UpstreamAPI
	tenants  TenantStore
	jobs     NewerJobFinder
	cfg      config.SessionConfig
	clock    clockwork.Clock
}

// NewManager creates a session manager. A nil clock uses the real clock.
func NewManager(api UpstreamAPI, tenants TenantStore, jobs NewerJobFinder, cfg config.SessionConfig, clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		upstream: api,
		tenants:  tenants,
		jobs:     jobs,
		cfg:      cfg,
		clock:    clock,
	}
}

// Ensure returns the tenant's known session without an upstream call, or
// acquires and persists a new one when none is known. jobOrdinal scopes the
// cancelable backoff; pass 0 outside a job context.
func (m *Manager) Ensure(ctx context.Context, tenant *models.Tenant, jobOrdinal int64) (string, error) {
	if tenant.SessionID != nil && *tenant.SessionID != "" {
		slog.Debug("Reusing known upstream session", "tenant_id", tenant.ID)
		return *tenant.SessionID, nil
	}
	return m.acquireAndPersist(ctx, tenant, jobOrdinal)
}

// Recover unconditionally drops the current session and acquires a new one.
// The null session is persisted before acquisition so a crash mid-recovery
// never leaves a stale session id behind.
func (m *Manager) Recover(ctx context.Context, tenant *models.Tenant, jobOrdinal int64) (string, error) {
	slog.Info("Recovering upstream session", "tenant_id", tenant.ID)

	if err := m.tenants.UpdateSessionID(ctx, tenant.ID, nil); err != nil {
		return "", fmt.Errorf("failed to clear session for tenant %d: %w", tenant.ID, err)
	}
	tenant.SessionID = nil

	return m.acquireAndPersist(ctx, tenant, jobOrdinal)
}

func (m *Manager) acquireAndPersist(ctx context.Context, tenant *models.Tenant, jobOrdinal int64) (string, error) {
	sessionID, err := m.acquire(ctx, tenant, jobOrdinal)
	if err != nil {
		return "", err
	}

	if err := m.tenants.UpdateSessionID(ctx, tenant.ID, &sessionID); err != nil {
		return "", fmt.Errorf("failed to persist session for tenant %d: %w", tenant.ID, err)
	}
	tenant.SessionID = &sessionID
	slog.Info("Upstream session established", "tenant_id", tenant.ID)
	return sessionID, nil
}

// acquire adopts an existing upstream session when one is active for the
// tenant's username, and otherwise creates a new one. A 401 from creation
// is retried with a long cancelable backoff — captcha-backed logins are
// expensive, and a newer job waiting behind us should win instead.
func (m *Manager) acquire(ctx context.Context, tenant *models.Tenant, jobOrdinal int64) (string, error) {
	creds, err := m.tenants.LoadCredentials(tenant)
	if err != nil {
		return "", err
	}

	for attempt := 1; ; attempt++ {
		sessions, err := m.upstream.ListActiveSessions(ctx, creds.Username)
		if err != nil {
			slog.Warn("Active session listing failed, falling back to acquisition",
				"tenant_id", tenant.ID, "error", err)
		} else if len(sessions) > 0 {
			slog.Info("Adopting existing upstream session",
				"tenant_id", tenant.ID, "candidates", len(sessions))
			return sessions[0], nil
		}

		result, err := m.upstream.AcquireSession(ctx, *creds)
		if err == nil {
			return result.SessionID, nil
		}
		if !upstream.IsAuthInvalid(err) {
			return "", err
		}
		if attempt >= m.cfg.AcquireMaxRetries {
			return "", fmt.Errorf("session acquisition failed after %d attempts: %w", attempt, err)
		}

		slog.Warn("Upstream rejected credentials, backing off",
			"tenant_id", tenant.ID,
			"attempt", attempt,
			"retry_in", m.cfg.AcquireRetryDelay)
		if err := m.waitOrCancel(ctx, tenant.ID, jobOrdinal); err != nil {
			return "", err
		}
	}
}

// waitOrCancel sleeps for the configured retry delay in poll quanta,
// waking between quanta to check whether a newer job has superseded this
// one. Returns ErrCancelledByNewerJob when it has.
func (m *Manager) waitOrCancel(ctx context.Context, tenantID, jobOrdinal int64) error {
	remaining := m.cfg.AcquireRetryDelay
	for remaining > 0 {
		quantum := m.cfg.CancelPollQuantum
		if quantum > remaining {
			quantum = remaining
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(quantum):
		}
		remaining -= quantum

		if jobOrdinal <= 0 {
			continue
		}
		newer, err := m.jobs.FindNewer(ctx, tenantID, jobOrdinal)
		if err != nil {
			slog.Warn("Newer-job check failed during backoff",
				"tenant_id", tenantID, "error", err)
			continue
		}
		if newer {
			return ErrCancelledByNewerJob
		}
	}
	return nil
}
