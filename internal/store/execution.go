package store

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"

	"github.com/mergeci/controlplane/internal/model"
)

// pipelineLockKey folds a pipeline ID into the int64 key pg_advisory_xact_lock
// expects. Collisions are harmless: a false-shared lock only over-serializes,
// it never under-serializes.
func pipelineLockKey(pipelineID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(pipelineID))
	return int64(h.Sum64())
}

// NextExecutionNumber reserves the next sequential execution number for a
// pipeline. It takes a transaction-scoped advisory lock keyed on
// pipeline_id, so concurrent planners serialize on max(number)+1 instead of
// racing on count(existing)+1.
func (s *Store) NextExecutionNumber(ctx context.Context, tx *sql.Tx, pipelineID string) (int, error) {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, pipelineLockKey(pipelineID)); err != nil {
		return 0, fmt.Errorf("acquire pipeline advisory lock: %w", err)
	}
	var maxNumber sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT max(number) FROM executions WHERE pipeline_id = $1`, pipelineID,
	).Scan(&maxNumber)
	if err != nil {
		return 0, err
	}
	return int(maxNumber.Int64) + 1, nil
}

// CreateExecution inserts a new execution row within tx (the planner's
// commit transaction, so numbering and insertion are atomic).
func (s *Store) CreateExecution(ctx context.Context, tx *sql.Tx, e *model.Execution) error {
	query := `
		INSERT INTO executions (
			id, tenant_id, pipeline_id, config_ref, number, trigger_type, trigger_info,
			status, queued_at, environment, inputs, concurrency_group, cancel_in_progress, triggered_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := tx.ExecContext(ctx, query,
		e.ID, e.TenantID, e.PipelineID, e.ConfigRef, e.Number, e.TriggerType, e.TriggerInfo,
		e.Status, e.QueuedAt, e.Environment, e.Inputs, e.ConcurrencyGroup, e.CancelInProgress, e.TriggeredBy,
	)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// GetExecutionByID retrieves an execution by ID with no tenant scoping, for
// internal system paths (dispatch, log fan-out) that already hold the
// execution ID from a trusted source rather than a tenant-scoped API request.
func (s *Store) GetExecutionByID(ctx context.Context, id string) (*model.Execution, error) {
	query := `
		SELECT id, tenant_id, pipeline_id, config_ref, number, trigger_type, trigger_info,
			status, queued_at, started_at, finished_at, environment, inputs,
			concurrency_group, cancel_in_progress, triggered_by
		FROM executions WHERE id = $1
	`
	e := &model.Execution{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.TenantID, &e.PipelineID, &e.ConfigRef, &e.Number, &e.TriggerType, &e.TriggerInfo,
		&e.Status, &e.QueuedAt, &e.StartedAt, &e.FinishedAt, &e.Environment, &e.Inputs,
		&e.ConcurrencyGroup, &e.CancelInProgress, &e.TriggeredBy,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetExecution retrieves an execution by ID within a tenant.
func (s *Store) GetExecution(ctx context.Context, tenantID, id string) (*model.Execution, error) {
	query := `
		SELECT id, tenant_id, pipeline_id, config_ref, number, trigger_type, trigger_info,
			status, queued_at, started_at, finished_at, environment, inputs,
			concurrency_group, cancel_in_progress, triggered_by
		FROM executions WHERE tenant_id = $1 AND id = $2
	`
	e := &model.Execution{}
	err := s.db.QueryRowContext(ctx, query, tenantID, id).Scan(
		&e.ID, &e.TenantID, &e.PipelineID, &e.ConfigRef, &e.Number, &e.TriggerType, &e.TriggerInfo,
		&e.Status, &e.QueuedAt, &e.StartedAt, &e.FinishedAt, &e.Environment, &e.Inputs,
		&e.ConcurrencyGroup, &e.CancelInProgress, &e.TriggeredBy,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListExecutionsByPipeline returns the most recent executions of a
// pipeline, newest first, for the REST execution-history endpoint.
func (s *Store) ListExecutionsByPipeline(ctx context.Context, pipelineID string, limit int) ([]*model.Execution, error) {
	query := `
		SELECT id, tenant_id, pipeline_id, config_ref, number, trigger_type, trigger_info,
			status, queued_at, started_at, finished_at, environment, inputs,
			concurrency_group, cancel_in_progress, triggered_by
		FROM executions
		WHERE pipeline_id = $1
		ORDER BY number DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, pipelineID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*model.Execution
	for rows.Next() {
		e := &model.Execution{}
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.PipelineID, &e.ConfigRef, &e.Number, &e.TriggerType, &e.TriggerInfo,
			&e.Status, &e.QueuedAt, &e.StartedAt, &e.FinishedAt, &e.Environment, &e.Inputs,
			&e.ConcurrencyGroup, &e.CancelInProgress, &e.TriggeredBy,
		); err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// ListRunningByConcurrencyGroup returns every non-terminal execution sharing
// a pipeline's concurrency group, used for admission/cancellation decisions.
func (s *Store) ListRunningByConcurrencyGroup(ctx context.Context, pipelineID, group string) ([]*model.Execution, error) {
	query := `
		SELECT id, tenant_id, pipeline_id, config_ref, number, trigger_type, trigger_info,
			status, queued_at, started_at, finished_at, environment, inputs,
			concurrency_group, cancel_in_progress, triggered_by
		FROM executions
		WHERE pipeline_id = $1 AND concurrency_group = $2
			AND status NOT IN ('success', 'failed', 'cancelled', 'timeout', 'skipped')
		ORDER BY queued_at
	`
	rows, err := s.db.QueryContext(ctx, query, pipelineID, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*model.Execution
	for rows.Next() {
		e := &model.Execution{}
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.PipelineID, &e.ConfigRef, &e.Number, &e.TriggerType, &e.TriggerInfo,
			&e.Status, &e.QueuedAt, &e.StartedAt, &e.FinishedAt, &e.Environment, &e.Inputs,
			&e.ConcurrencyGroup, &e.CancelInProgress, &e.TriggeredBy,
		); err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// ListRunningByConcurrencyGroupTx is ListRunningByConcurrencyGroup run
// within the planner's commit transaction, so the concurrency decision
// reads a consistent snapshot under the same pipeline-scoped advisory lock
// NextExecutionNumber already holds.
func (s *Store) ListRunningByConcurrencyGroupTx(ctx context.Context, tx *sql.Tx, pipelineID, group string) ([]*model.Execution, error) {
	query := `
		SELECT id, tenant_id, pipeline_id, config_ref, number, trigger_type, trigger_info,
			status, queued_at, started_at, finished_at, environment, inputs,
			concurrency_group, cancel_in_progress, triggered_by
		FROM executions
		WHERE pipeline_id = $1 AND concurrency_group = $2
			AND status NOT IN ('success', 'failed', 'cancelled', 'timeout', 'skipped')
		ORDER BY queued_at
	`
	rows, err := tx.QueryContext(ctx, query, pipelineID, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*model.Execution
	for rows.Next() {
		e := &model.Execution{}
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.PipelineID, &e.ConfigRef, &e.Number, &e.TriggerType, &e.TriggerInfo,
			&e.Status, &e.QueuedAt, &e.StartedAt, &e.FinishedAt, &e.Environment, &e.Inputs,
			&e.ConcurrencyGroup, &e.CancelInProgress, &e.TriggeredBy,
		); err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// CancelExecutionTx transitions an execution to cancelled within tx.
func (s *Store) CancelExecutionTx(ctx context.Context, tx *sql.Tx, executionID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE executions SET status = $2, finished_at = now() WHERE id = $1`, executionID, model.StatusCancelled)
	return err
}

// UpdateExecutionStatus transitions an execution's status and, when the
// status is a starting/terminal one, stamps started_at/finished_at.
func (s *Store) UpdateExecutionStatus(ctx context.Context, id string, status model.Status) error {
	var query string
	switch status {
	case model.StatusRunning:
		query = `UPDATE executions SET status = $2, started_at = now() WHERE id = $1 AND started_at IS NULL`
	case model.StatusSuccess, model.StatusFailed, model.StatusCancelled, model.StatusTimeout, model.StatusSkipped:
		query = `UPDATE executions SET status = $2, finished_at = now() WHERE id = $1`
	default:
		query = `UPDATE executions SET status = $2 WHERE id = $1`
	}
	_, err := s.db.ExecContext(ctx, query, id, status)
	return err
}
