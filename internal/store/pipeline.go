package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mergeci/controlplane/internal/model"
)

// GetPipeline retrieves a pipeline by ID within a tenant, or nil if it
// doesn't exist or belongs to a different tenant.
func (s *Store) GetPipeline(ctx context.Context, tenantID, id string) (*model.Pipeline, error) {
	query := `
		SELECT id, tenant_id, name, slug, repo_url, default_branch, config_path,
			webhook_secret, active, last_execution_at
		FROM pipelines WHERE tenant_id = $1 AND id = $2
	`
	p := &model.Pipeline{}
	err := s.db.QueryRowContext(ctx, query, tenantID, id).Scan(
		&p.ID, &p.TenantID, &p.Name, &p.Slug, &p.RepoURL, &p.DefaultBranch, &p.ConfigPath,
		&p.WebhookSecret, &p.Active, &p.LastExecutionAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPipelineByRepoURL returns every active pipeline bound to repoURL, used
// to route an inbound webhook to its candidate owning pipelines.
func (s *Store) GetPipelineByRepoURL(ctx context.Context, repoURL string) ([]*model.Pipeline, error) {
	query := `
		SELECT id, tenant_id, name, slug, repo_url, default_branch, config_path,
			webhook_secret, active, last_execution_at
		FROM pipelines WHERE repo_url = $1 AND active = true
	`
	rows, err := s.db.QueryContext(ctx, query, repoURL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pipelines []*model.Pipeline
	for rows.Next() {
		p := &model.Pipeline{}
		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.Name, &p.Slug, &p.RepoURL, &p.DefaultBranch, &p.ConfigPath,
			&p.WebhookSecret, &p.Active, &p.LastExecutionAt,
		); err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

// ListPipelines returns every pipeline belonging to a tenant.
func (s *Store) ListPipelines(ctx context.Context, tenantID string) ([]*model.Pipeline, error) {
	query := `
		SELECT id, tenant_id, name, slug, repo_url, default_branch, config_path,
			webhook_secret, active, last_execution_at
		FROM pipelines WHERE tenant_id = $1 ORDER BY name
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pipelines []*model.Pipeline
	for rows.Next() {
		p := &model.Pipeline{}
		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.Name, &p.Slug, &p.RepoURL, &p.DefaultBranch, &p.ConfigPath,
			&p.WebhookSecret, &p.Active, &p.LastExecutionAt,
		); err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

// ListActivePipelines returns every active pipeline across all tenants, used
// by the schedule trigger to discover what it needs to keep cron entries
// registered for.
func (s *Store) ListActivePipelines(ctx context.Context) ([]*model.Pipeline, error) {
	query := `
		SELECT id, tenant_id, name, slug, repo_url, default_branch, config_path,
			webhook_secret, active, last_execution_at
		FROM pipelines WHERE active = true ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pipelines []*model.Pipeline
	for rows.Next() {
		p := &model.Pipeline{}
		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.Name, &p.Slug, &p.RepoURL, &p.DefaultBranch, &p.ConfigPath,
			&p.WebhookSecret, &p.Active, &p.LastExecutionAt,
		); err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

// CreatePipeline inserts a new pipeline.
func (s *Store) CreatePipeline(ctx context.Context, p *model.Pipeline) error {
	query := `
		INSERT INTO pipelines (id, tenant_id, name, slug, repo_url, default_branch, config_path, webhook_secret, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.TenantID, p.Name, p.Slug, p.RepoURL, p.DefaultBranch, p.ConfigPath, p.WebhookSecret, p.Active,
	)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	return nil
}

// TouchLastExecution stamps a pipeline's last_execution_at to now.
func (s *Store) TouchLastExecution(ctx context.Context, pipelineID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE pipelines SET last_execution_at = now() WHERE id = $1`, pipelineID)
	return err
}

// CreatePipelineConfig inserts a new immutable config version. The version
// number is the caller's responsibility (typically max(version)+1 under the
// same advisory lock used for execution numbering).
func (s *Store) CreatePipelineConfig(ctx context.Context, c *model.PipelineConfig) error {
	query := `
		INSERT INTO pipeline_configs (id, pipeline_id, version, yaml_raw, parsed, commit_sha, is_valid)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.PipelineID, c.Version, c.YAMLRaw, c.Parsed, c.CommitSHA, c.IsValid,
	)
	if err != nil {
		return fmt.Errorf("create pipeline config: %w", err)
	}
	return nil
}

// GetPipelineConfig retrieves a single config version by its ID (an
// execution's config_ref).
func (s *Store) GetPipelineConfig(ctx context.Context, id string) (*model.PipelineConfig, error) {
	query := `
		SELECT id, pipeline_id, version, yaml_raw, parsed, commit_sha, is_valid
		FROM pipeline_configs WHERE id = $1
	`
	c := &model.PipelineConfig{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.PipelineID, &c.Version, &c.YAMLRaw, &c.Parsed, &c.CommitSHA, &c.IsValid,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetLatestValidPipelineConfig returns the highest-versioned valid config for
// a pipeline, or nil if the pipeline has never had one accepted. Used by the
// schedule trigger's resync to read each pipeline's current `on.schedule`
// and to bind newly registered cron entries to that version.
func (s *Store) GetLatestValidPipelineConfig(ctx context.Context, pipelineID string) (*model.PipelineConfig, error) {
	query := `
		SELECT id, pipeline_id, version, yaml_raw, parsed, commit_sha, is_valid
		FROM pipeline_configs
		WHERE pipeline_id = $1 AND is_valid = true
		ORDER BY version DESC
		LIMIT 1
	`
	c := &model.PipelineConfig{}
	err := s.db.QueryRowContext(ctx, query, pipelineID).Scan(
		&c.ID, &c.PipelineID, &c.Version, &c.YAMLRaw, &c.Parsed, &c.CommitSHA, &c.IsValid,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// LatestPipelineConfigVersion returns the highest existing version number
// for a pipeline, or 0 if none exists yet.
func (s *Store) LatestPipelineConfigVersion(ctx context.Context, pipelineID string) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT max(version) FROM pipeline_configs WHERE pipeline_id = $1`, pipelineID,
	).Scan(&version)
	if err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}
