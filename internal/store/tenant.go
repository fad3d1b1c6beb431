package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mergeci/controlplane/internal/model"
)

// GetTenant retrieves a tenant by ID, or nil if it doesn't exist.
func (s *Store) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	query := `
		SELECT id, slug, plan, max_runners, max_concurrent_jobs, retention_days, storage_mb, active
		FROM tenants WHERE id = $1
	`
	t := &model.Tenant{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.Slug, &t.Plan,
		&t.Quotas.MaxRunners, &t.Quotas.MaxConcurrentJobs, &t.Quotas.RetentionDays, &t.Quotas.StorageMB,
		&t.Active,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetTenantBySlug retrieves a tenant by its URL-safe slug, used for
// subdomain-based tenant resolution.
func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	query := `
		SELECT id, slug, plan, max_runners, max_concurrent_jobs, retention_days, storage_mb, active
		FROM tenants WHERE slug = $1
	`
	t := &model.Tenant{}
	err := s.db.QueryRowContext(ctx, query, slug).Scan(
		&t.ID, &t.Slug, &t.Plan,
		&t.Quotas.MaxRunners, &t.Quotas.MaxConcurrentJobs, &t.Quotas.RetentionDays, &t.Quotas.StorageMB,
		&t.Active,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateTenant inserts a new tenant.
func (s *Store) CreateTenant(ctx context.Context, t *model.Tenant) error {
	query := `
		INSERT INTO tenants (id, slug, plan, max_runners, max_concurrent_jobs, retention_days, storage_mb, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.Slug, t.Plan,
		t.Quotas.MaxRunners, t.Quotas.MaxConcurrentJobs, t.Quotas.RetentionDays, t.Quotas.StorageMB,
		t.Active,
	)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}
