package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mergeci/controlplane/internal/model"
)

// AppendLogChunk inserts the next ordered chunk of a step's output.
// chunk_number is assigned by the caller (internal/runnersession reads
// LastChunkNumber and adds one); a chunk whose (step_id, chunk_number)
// already exists is dropped by ON CONFLICT DO NOTHING.
func (s *Store) AppendLogChunk(ctx context.Context, c model.LogChunk) error {
	query := `
		INSERT INTO log_chunks (step_id, chunk_number, content, level, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (step_id, chunk_number) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, c.StepID, c.ChunkNumber, c.Content, c.Level, c.Timestamp)
	if err != nil {
		return fmt.Errorf("append log chunk: %w", err)
	}
	return nil
}

// LastChunkNumber returns the highest chunk_number recorded for a step, or
// -1 if none exist yet, so a caller can compute the next number.
func (s *Store) LastChunkNumber(ctx context.Context, stepID string) (int, error) {
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT max(chunk_number) FROM log_chunks WHERE step_id = $1`, stepID,
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	if !n.Valid {
		return -1, nil
	}
	return int(n.Int64), nil
}

// TailLogChunksByJob returns up to limit of the most recent chunks across
// every step of a job, ordered by (step_order, chunk_number) as the spec's
// backlog ordering requires.
func (s *Store) TailLogChunksByJob(ctx context.Context, jobID string, limit int) ([]model.LogChunk, error) {
	query := `
		SELECT recent.step_id, recent.chunk_number, recent.content, recent.level, recent.timestamp
		FROM (
			SELECT lc.step_id, lc.chunk_number, lc.content, lc.level, lc.timestamp, st.step_order
			FROM log_chunks lc
			JOIN steps st ON st.id = lc.step_id
			WHERE st.job_id = $1
			ORDER BY lc.timestamp DESC LIMIT $2
		) recent
		ORDER BY recent.step_order ASC, recent.chunk_number ASC
	`
	rows, err := s.db.QueryContext(ctx, query, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []model.LogChunk
	for rows.Next() {
		var c model.LogChunk
		if err := rows.Scan(&c.StepID, &c.ChunkNumber, &c.Content, &c.Level, &c.Timestamp); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// TailLogChunksByExecution returns up to limit of the most recent chunks
// across every job of an execution, ordered by (job queued_at, step_order,
// chunk_number), for a subscriber following an execution without pinning to
// one job.
func (s *Store) TailLogChunksByExecution(ctx context.Context, executionID string, limit int) ([]model.LogChunk, error) {
	query := `
		SELECT recent.step_id, recent.chunk_number, recent.content, recent.level, recent.timestamp
		FROM (
			SELECT lc.step_id, lc.chunk_number, lc.content, lc.level, lc.timestamp,
				j.queued_at AS job_queued_at, st.step_order
			FROM log_chunks lc
			JOIN steps st ON st.id = lc.step_id
			JOIN jobs j ON j.id = st.job_id
			WHERE j.execution_id = $1
			ORDER BY lc.timestamp DESC LIMIT $2
		) recent
		ORDER BY recent.job_queued_at ASC, recent.step_order ASC, recent.chunk_number ASC
	`
	rows, err := s.db.QueryContext(ctx, query, executionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []model.LogChunk
	for rows.Next() {
		var c model.LogChunk
		if err := rows.Scan(&c.StepID, &c.ChunkNumber, &c.Content, &c.Level, &c.Timestamp); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// TailLogChunks returns up to limit of the most recent chunks for a step, in
// ascending chunk_number order, used to seed a subscriber's backlog before
// switching it to live delivery.
func (s *Store) TailLogChunks(ctx context.Context, stepID string, limit int) ([]model.LogChunk, error) {
	query := `
		SELECT step_id, chunk_number, content, level, timestamp FROM (
			SELECT step_id, chunk_number, content, level, timestamp
			FROM log_chunks WHERE step_id = $1
			ORDER BY chunk_number DESC LIMIT $2
		) recent ORDER BY chunk_number ASC
	`
	rows, err := s.db.QueryContext(ctx, query, stepID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []model.LogChunk
	for rows.Next() {
		var c model.LogChunk
		if err := rows.Scan(&c.StepID, &c.ChunkNumber, &c.Content, &c.Level, &c.Timestamp); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
