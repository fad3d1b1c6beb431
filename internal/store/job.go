package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mergeci/controlplane/internal/model"
)

// CreateJob inserts a new job within tx (the planner's fan-out commit).
// Needs and RunsOn are stored as jsonb arrays since they're ordered lists,
// not queried columns.
func (s *Store) CreateJob(ctx context.Context, tx *sql.Tx, j *model.Job) error {
	needs, err := json.Marshal(j.Needs)
	if err != nil {
		return fmt.Errorf("marshal needs: %w", err)
	}
	runsOn, err := json.Marshal(j.RunsOn)
	if err != nil {
		return fmt.Errorf("marshal runs_on: %w", err)
	}
	query := `
		INSERT INTO jobs (
			id, execution_id, name, job_key, needs, condition, matrix_values, runs_on,
			container, services, status, timeout_minutes, outputs, environment, queued_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = tx.ExecContext(ctx, query,
		j.ID, j.ExecutionID, j.Name, j.JobKey, needs, j.Condition, j.MatrixValues, runsOn,
		j.Container, j.Services, j.Status, j.TimeoutMinutes, j.Outputs, j.Environment, j.QueuedAt,
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func scanJob(row interface {
	Scan(dest ...interface{}) error
}) (*model.Job, error) {
	j := &model.Job{}
	var needs, runsOn []byte
	err := row.Scan(
		&j.ID, &j.ExecutionID, &j.Name, &j.JobKey, &needs, &j.Condition, &j.MatrixValues, &runsOn,
		&j.Container, &j.Services, &j.Status, &j.RunnerID, &j.TimeoutMinutes, &j.Outputs, &j.Environment,
		&j.QueuedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(needs) > 0 {
		if err := json.Unmarshal(needs, &j.Needs); err != nil {
			return nil, fmt.Errorf("unmarshal needs: %w", err)
		}
	}
	if len(runsOn) > 0 {
		if err := json.Unmarshal(runsOn, &j.RunsOn); err != nil {
			return nil, fmt.Errorf("unmarshal runs_on: %w", err)
		}
	}
	return j, nil
}

const jobColumns = `
	id, execution_id, name, job_key, needs, condition, matrix_values, runs_on,
	container, services, status, runner_id, timeout_minutes, outputs, environment,
	queued_at, started_at, finished_at
`

// GetJob retrieves a single job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

// ListJobsByExecution returns every job belonging to an execution.
func (s *Store) ListJobsByExecution(ctx context.Context, executionID string) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE execution_id = $1`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ListQueuedJobsForDispatch returns queued jobs across all tenants whose
// runs_on labels are worth matching against available runners. Used by the
// scheduler's dispatch loop.
func (s *Store) ListQueuedJobsForDispatch(ctx context.Context, limit int) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY queued_at LIMIT $2`,
		model.StatusQueued, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// AssignJobToRunner atomically moves a job from queued to running on a
// specific runner, returning false (no error) if another dispatcher already
// claimed it — enforcing at-most-once dispatch.
func (s *Store) AssignJobToRunner(ctx context.Context, jobID, runnerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, runner_id = $2, started_at = now() WHERE id = $3 AND status = $4`,
		model.StatusRunning, runnerID, jobID, model.StatusQueued,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseJobsForRunner requeues every job currently assigned to runnerID,
// used when the runner is marked offline (missed heartbeat or session
// disconnect) and its in-flight work must be re-dispatched elsewhere.
func (s *Store) ReleaseJobsForRunner(ctx context.Context, runnerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE jobs SET status = $1, runner_id = NULL, started_at = NULL
		WHERE runner_id = $2 AND status = $3
		RETURNING id
	`, model.StatusQueued, runnerID, model.StatusRunning)
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

// ReleaseJobAssignment rolls a job back to queued, used when the runner
// session that was about to receive it disconnects before acknowledging.
func (s *Store) ReleaseJobAssignment(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, runner_id = NULL, started_at = NULL WHERE id = $2 AND status = $3`,
		model.StatusQueued, jobID, model.StatusRunning,
	)
	return err
}

// CancelNonTerminalJobsTx transitions every non-terminal job of an
// execution to cancelled within tx, used when an older execution in a
// concurrency group is preempted by cancel_in_progress.
func (s *Store) CancelNonTerminalJobsTx(ctx context.Context, tx *sql.Tx, executionID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = $2, finished_at = now()
		WHERE execution_id = $1
			AND status NOT IN ('success', 'failed', 'cancelled', 'timeout', 'skipped')
	`, executionID, model.StatusCancelled)
	return err
}

// UpdateJobStatus transitions a job's status and, on a terminal status,
// stamps finished_at.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status model.Status) error {
	if status.Terminal() {
		_, err := s.db.ExecContext(ctx,
			`UPDATE jobs SET status = $2, finished_at = now() WHERE id = $1`, id, status)
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = $2 WHERE id = $1`, id, status)
	return err
}

// SetJobOutputs records a job's `outputs` map once it completes, visible to
// downstream jobs' `needs.<job>.outputs.<key>` conditions.
func (s *Store) SetJobOutputs(ctx context.Context, id string, outputs model.Value) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET outputs = $2 WHERE id = $1`, id, outputs)
	return err
}
