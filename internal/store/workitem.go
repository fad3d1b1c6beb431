package store

import (
	"context"
	"database/sql"
	"fmt"
)

// WorkItemKind distinguishes the outbox event types internal/dispatchloop
// polls for.
type WorkItemKind string

const (
	WorkItemJobReady       WorkItemKind = "job_ready"
	WorkItemExecutionStart WorkItemKind = "execution_start"
)

// WorkItem is an outbox row: the planner writes one in the same
// transaction as the Execution/Job rows it describes, so "commit the plan"
// and "enqueue the work" are atomic without a message broker.
type WorkItem struct {
	ID        int64
	Kind      WorkItemKind
	RefID     string // execution_id or job_id, depending on Kind
	CreatedAt sql.NullTime
	Claimed   bool
}

// EnqueueWorkItem inserts an outbox row within tx.
func (s *Store) EnqueueWorkItem(ctx context.Context, tx *sql.Tx, kind WorkItemKind, refID string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO work_items (kind, ref_id, created_at, claimed) VALUES ($1, $2, now(), false)`,
		kind, refID)
	if err != nil {
		return fmt.Errorf("enqueue work item: %w", err)
	}
	return nil
}

// ClaimWorkItems atomically claims up to limit unclaimed work items,
// returning them for processing. SKIP LOCKED lets multiple dispatchloop
// instances poll the same table without blocking each other.
func (s *Store) ClaimWorkItems(ctx context.Context, limit int) ([]WorkItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, kind, ref_id, created_at
		FROM work_items
		WHERE claimed = false
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	var items []WorkItem
	for rows.Next() {
		var wi WorkItem
		if err := rows.Scan(&wi.ID, &wi.Kind, &wi.RefID, &wi.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, wi)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, wi := range items {
		if _, err := tx.ExecContext(ctx, `UPDATE work_items SET claimed = true WHERE id = $1`, wi.ID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return items, nil
}

// DeleteWorkItem removes a processed outbox row.
func (s *Store) DeleteWorkItem(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM work_items WHERE id = $1`, id)
	return err
}
