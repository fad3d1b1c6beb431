package store

import (
	"context"
	"fmt"

	"github.com/mergeci/controlplane/internal/model"
)

const secretColumns = `
	id, tenant_id, pipeline_id, name, ciphertext, scope, last_updated_by
`

func scanSecret(row interface {
	Scan(dest ...interface{}) error
}) (*model.Secret, error) {
	sec := &model.Secret{}
	err := row.Scan(&sec.ID, &sec.TenantID, &sec.PipelineID, &sec.Name, &sec.Ciphertext, &sec.Scope, &sec.LastUpdatedBy)
	if err != nil {
		return nil, err
	}
	return sec, nil
}

// CreateSecret inserts a new encrypted secret. The unique constraint on
// (tenant_id, pipeline_id, name) surfaces duplicate-name conflicts as a
// Postgres error the caller maps to apierr.Conflict.
func (s *Store) CreateSecret(ctx context.Context, sec *model.Secret) error {
	query := `
		INSERT INTO secrets (id, tenant_id, pipeline_id, name, ciphertext, scope, last_updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		sec.ID, sec.TenantID, sec.PipelineID, sec.Name, sec.Ciphertext, sec.Scope, sec.LastUpdatedBy)
	if err != nil {
		return fmt.Errorf("create secret: %w", err)
	}
	return nil
}

// ListSecretsForPipeline returns every organization-scoped secret for a
// tenant plus any pipeline-scoped secrets for the given pipeline, pipeline
// secrets shadowing an organization secret of the same name.
func (s *Store) ListSecretsForPipeline(ctx context.Context, tenantID, pipelineID string) ([]*model.Secret, error) {
	query := `
		SELECT ` + secretColumns + ` FROM secrets
		WHERE tenant_id = $1 AND (scope = $2 OR (scope = $3 AND pipeline_id = $4))
		ORDER BY scope
	`
	rows, err := s.db.QueryContext(ctx, query,
		tenantID, model.SecretScopeOrganization, model.SecretScopePipeline, pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byName := make(map[string]*model.Secret)
	for rows.Next() {
		sec, err := scanSecret(rows)
		if err != nil {
			return nil, err
		}
		byName[sec.Name] = sec // later rows (pipeline scope) overwrite org scope
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	secrets := make([]*model.Secret, 0, len(byName))
	for _, sec := range byName {
		secrets = append(secrets, sec)
	}
	return secrets, nil
}

// DeleteSecret removes a secret by ID within a tenant.
func (s *Store) DeleteSecret(ctx context.Context, tenantID, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return err
}
