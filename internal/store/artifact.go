package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mergeci/controlplane/internal/model"
)

const artifactColumns = `
	id, tenant_id, execution_id, job_id, name, storage_path, size_bytes,
	checksum_sha256, file_count, compression, retention_days, created_at, expires_at
`

func scanArtifact(row interface {
	Scan(dest ...interface{}) error
}) (*model.Artifact, error) {
	a := &model.Artifact{}
	err := row.Scan(
		&a.ID, &a.TenantID, &a.ExecutionID, &a.JobID, &a.Name, &a.StoragePath, &a.SizeBytes,
		&a.ChecksumSHA256, &a.FileCount, &a.Compression, &a.RetentionDays, &a.CreatedAt, &a.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CreateArtifact records a job-produced artifact, computing expires_at from
// created_at + retention_days at insert time.
func (s *Store) CreateArtifact(ctx context.Context, a *model.Artifact) error {
	query := `
		INSERT INTO artifacts (
			id, tenant_id, execution_id, job_id, name, storage_path, size_bytes,
			checksum_sha256, file_count, compression, retention_days, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12 + ($11 || ' days')::interval)
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.TenantID, a.ExecutionID, a.JobID, a.Name, a.StoragePath, a.SizeBytes,
		a.ChecksumSHA256, a.FileCount, a.Compression, a.RetentionDays, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	return nil
}

// ListArtifactsByExecution returns every non-expired artifact for an execution.
func (s *Store) ListArtifactsByExecution(ctx context.Context, executionID string) ([]*model.Artifact, error) {
	query := `
		SELECT ` + artifactColumns + ` FROM artifacts
		WHERE execution_id = $1 AND expires_at > now()
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// GetArtifact retrieves a single artifact by ID within a tenant.
func (s *Store) GetArtifact(ctx context.Context, tenantID, id string) (*model.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// DeleteExpiredArtifacts removes every artifact past its retention window,
// returning their storage paths so the caller can purge the backing blobs.
func (s *Store) DeleteExpiredArtifacts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `DELETE FROM artifacts WHERE expires_at <= now() RETURNING storage_path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
