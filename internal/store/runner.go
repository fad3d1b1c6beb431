package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mergeci/controlplane/internal/model"
)

const runnerColumns = `
	id, tenant_id, name, token_hash, type, labels, capabilities, status,
	last_heartbeat, system_info, max_concurrent_jobs, current_jobs, version
`

func scanRunner(row interface {
	Scan(dest ...interface{}) error
}) (*model.Runner, error) {
	r := &model.Runner{}
	var labels []byte
	err := row.Scan(
		&r.ID, &r.TenantID, &r.Name, &r.TokenHash, &r.Type, &labels, &r.Capabilities, &r.Status,
		&r.LastHeartbeat, &r.SystemInfo, &r.MaxConcurrentJobs, &r.CurrentJobs, &r.Version,
	)
	if err != nil {
		return nil, err
	}
	if len(labels) > 0 {
		if err := json.Unmarshal(labels, &r.Labels); err != nil {
			return nil, fmt.Errorf("unmarshal labels: %w", err)
		}
	}
	return r, nil
}

// CreateRunner registers a new runner.
func (s *Store) CreateRunner(ctx context.Context, r *model.Runner) error {
	labels, err := json.Marshal(r.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	query := `
		INSERT INTO runners (
			id, tenant_id, name, token_hash, type, labels, capabilities, status,
			last_heartbeat, system_info, max_concurrent_jobs, current_jobs, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), $9, $10, 0, $11)
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.TenantID, r.Name, r.TokenHash, r.Type, labels, r.Capabilities, r.Status,
		r.SystemInfo, r.MaxConcurrentJobs, r.Version,
	)
	if err != nil {
		return fmt.Errorf("create runner: %w", err)
	}
	return nil
}

// GetRunnerByTokenHash looks up a runner by its hashed registration token,
// used to authenticate a runner's websocket handshake.
func (s *Store) GetRunnerByTokenHash(ctx context.Context, tokenHash string) (*model.Runner, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runnerColumns+` FROM runners WHERE token_hash = $1`, tokenHash)
	r, err := scanRunner(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ListAvailableRunners returns every online, non-full runner eligible for
// dispatch: shared runners plus the given tenant's own dedicated/self-hosted
// ones.
func (s *Store) ListAvailableRunners(ctx context.Context, tenantID string) ([]*model.Runner, error) {
	query := `
		SELECT ` + runnerColumns + ` FROM runners
		WHERE status = $1 AND current_jobs < max_concurrent_jobs
			AND (tenant_id IS NULL OR tenant_id = $2)
		ORDER BY current_jobs ASC, last_heartbeat ASC
	`
	rows, err := s.db.QueryContext(ctx, query, model.RunnerOnline, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runners []*model.Runner
	for rows.Next() {
		r, err := scanRunner(rows)
		if err != nil {
			return nil, err
		}
		runners = append(runners, r)
	}
	return runners, rows.Err()
}

// IncrementRunnerJobs atomically bumps current_jobs by delta (positive on
// dispatch, negative on completion), clamped at 0.
func (s *Store) IncrementRunnerJobs(ctx context.Context, runnerID string, delta int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runners SET current_jobs = GREATEST(0, current_jobs + $2) WHERE id = $1`, runnerID, delta)
	return err
}

// Heartbeat stamps a runner's last_heartbeat and marks it online.
func (s *Store) Heartbeat(ctx context.Context, runnerID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runners SET last_heartbeat = now(), status = $2 WHERE id = $1 AND status != $3`,
		runnerID, model.RunnerOnline, model.RunnerMaintenance)
	return err
}

// MarkOfflineRunners transitions every runner whose heartbeat is older than
// the liveness threshold to offline, returning their IDs so the caller can
// requeue their in-flight jobs.
func (s *Store) MarkOfflineRunners(ctx context.Context, thresholdSeconds int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE runners SET status = $1
		WHERE status = $2 AND last_heartbeat < now() - ($3 || ' seconds')::interval
		RETURNING id
	`, model.RunnerOffline, model.RunnerOnline, thresholdSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateRunnerStatus sets a runner's status directly (e.g. maintenance mode).
func (s *Store) UpdateRunnerStatus(ctx context.Context, runnerID string, status model.RunnerStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runners SET status = $2 WHERE id = $1`, runnerID, status)
	return err
}
