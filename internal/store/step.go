package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mergeci/controlplane/internal/model"
)

const stepColumns = `
	id, job_id, name, step_order, type, run_command, uses_action, with_inputs, shell,
	working_directory, env, condition, continue_on_error, timeout_minutes, status,
	exit_code, started_at, finished_at, outputs
`

func scanStep(row interface {
	Scan(dest ...interface{}) error
}) (*model.Step, error) {
	st := &model.Step{}
	err := row.Scan(
		&st.ID, &st.JobID, &st.Name, &st.Order, &st.Type, &st.RunCommand, &st.UsesAction, &st.With, &st.Shell,
		&st.WorkingDirectory, &st.Env, &st.Condition, &st.ContinueOnError, &st.TimeoutMinutes, &st.Status,
		&st.ExitCode, &st.StartedAt, &st.FinishedAt, &st.Outputs,
	)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// CreateStep inserts a new step within tx (the planner's fan-out commit).
func (s *Store) CreateStep(ctx context.Context, tx *sql.Tx, st *model.Step) error {
	query := `
		INSERT INTO steps (
			id, job_id, name, step_order, type, run_command, uses_action, with_inputs, shell,
			working_directory, env, condition, continue_on_error, timeout_minutes, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := tx.ExecContext(ctx, query,
		st.ID, st.JobID, st.Name, st.Order, st.Type, st.RunCommand, st.UsesAction, st.With, st.Shell,
		st.WorkingDirectory, st.Env, st.Condition, st.ContinueOnError, st.TimeoutMinutes, st.Status,
	)
	if err != nil {
		return fmt.Errorf("create step: %w", err)
	}
	return nil
}

// ListStepsByJob returns every step belonging to a job, in declaration order.
func (s *Store) ListStepsByJob(ctx context.Context, jobID string) ([]*model.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE job_id = $1 ORDER BY step_order`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*model.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// GetStep retrieves a single step by ID.
func (s *Store) GetStep(ctx context.Context, id string) (*model.Step, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM steps WHERE id = $1`, id)
	st, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return st, err
}

// UpdateStepStatus transitions a step's status, stamping started_at/
// finished_at and, on completion, its exit code.
func (s *Store) UpdateStepStatus(ctx context.Context, id string, status model.Status, exitCode *int) error {
	switch {
	case status == model.StatusRunning:
		_, err := s.db.ExecContext(ctx,
			`UPDATE steps SET status = $2, started_at = now() WHERE id = $1`, id, status)
		return err
	case status.Terminal():
		_, err := s.db.ExecContext(ctx,
			`UPDATE steps SET status = $2, exit_code = $3, finished_at = now() WHERE id = $1`, id, status, exitCode)
		return err
	default:
		_, err := s.db.ExecContext(ctx, `UPDATE steps SET status = $2 WHERE id = $1`, id, status)
		return err
	}
}

// SetStepOutputs records a step's `outputs` map (set via a runner-reported
// key=value write to $MERGECI_OUTPUT).
func (s *Store) SetStepOutputs(ctx context.Context, id string, outputs model.Value) error {
	_, err := s.db.ExecContext(ctx, `UPDATE steps SET outputs = $2 WHERE id = $1`, id, outputs)
	return err
}
