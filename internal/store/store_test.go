package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mergeci/controlplane/internal/model"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{db: db}, mock
}

func TestGetTenant_NotFoundReturnsNilNil(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, slug, plan, max_runners, max_concurrent_jobs, retention_days, storage_mb, active FROM tenants WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(nil))

	tenant, err := s.GetTenant(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenant != nil {
		t.Errorf("expected nil tenant, got %+v", tenant)
	}
}

func TestGetTenant_Found(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"id", "slug", "plan", "max_runners", "max_concurrent_jobs", "retention_days", "storage_mb", "active"}).
		AddRow("t1", "acme", "pro", 10, 20, 30, 1024, true)
	mock.ExpectQuery(`SELECT id, slug, plan, max_runners, max_concurrent_jobs, retention_days, storage_mb, active FROM tenants WHERE id = \$1`).
		WithArgs("t1").
		WillReturnRows(rows)

	tenant, err := s.GetTenant(context.Background(), "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenant == nil || tenant.Slug != "acme" || tenant.Quotas.MaxRunners != 10 {
		t.Errorf("unexpected tenant: %+v", tenant)
	}
}

func TestNextExecutionNumber_LocksThenMaxPlusOne(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT max\(number\) FROM executions WHERE pipeline_id = \$1`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(4))
	mock.ExpectCommit()

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	n, err := s.NextExecutionNumber(context.Background(), tx, "p1")
	if err != nil {
		t.Fatalf("next execution number: %v", err)
	}
	if n != 5 {
		t.Errorf("expected number 5, got %d", n)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestNextExecutionNumber_NoPriorExecutionsStartsAtOne(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT max\(number\) FROM executions WHERE pipeline_id = \$1`).
		WithArgs("p-new").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectCommit()

	tx, _ := s.db.BeginTx(context.Background(), nil)
	n, err := s.NextExecutionNumber(context.Background(), tx, "p-new")
	if err != nil {
		t.Fatalf("next execution number: %v", err)
	}
	if n != 1 {
		t.Errorf("expected number 1 for a pipeline with no prior executions, got %d", n)
	}
	_ = tx.Commit()
}

func TestAssignJobToRunner_AlreadyClaimedReturnsFalse(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE jobs SET status = \$1, runner_id = \$2, started_at = now\(\) WHERE id = \$3 AND status = \$4`).
		WithArgs(model.StatusRunning, "runner-1", "job-1", model.StatusQueued).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.AssignJobToRunner(context.Background(), "job-1", "runner-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected assignment to fail when the job was already claimed")
	}
}

func TestAssignJobToRunner_Success(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE jobs SET status = \$1, runner_id = \$2, started_at = now\(\) WHERE id = \$3 AND status = \$4`).
		WithArgs(model.StatusRunning, "runner-1", "job-1", model.StatusQueued).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.AssignJobToRunner(context.Background(), "job-1", "runner-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected assignment to succeed")
	}
}

func TestAppendLogChunk_DuplicateChunkNumberIsNoop(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectExec(`INSERT INTO log_chunks`).
		WithArgs("step-1", 3, "hello", model.LogInfo, now).
		WillReturnResult(sqlmock.NewResult(1, 0))

	err := s.AppendLogChunk(context.Background(), model.LogChunk{
		StepID: "step-1", ChunkNumber: 3, Content: "hello", Level: model.LogInfo, Timestamp: now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestListExecutionsByPipeline_OrdersByNumberDescending(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "pipeline_id", "config_ref", "number", "trigger_type", "trigger_info",
		"status", "queued_at", "started_at", "finished_at", "environment", "inputs",
		"concurrency_group", "cancel_in_progress", "triggered_by",
	}).
		AddRow("exec-2", "tenant-1", "pipe-1", "cfg-1", 2, model.TriggerPush, nil,
			model.StatusSuccess, now, nil, nil, nil, nil, "", false, "webhook").
		AddRow("exec-1", "tenant-1", "pipe-1", "cfg-1", 1, model.TriggerPush, nil,
			model.StatusSuccess, now, nil, nil, nil, nil, "", false, "webhook")

	mock.ExpectQuery(`SELECT .* FROM executions\s+WHERE pipeline_id = \$1\s+ORDER BY number DESC\s+LIMIT \$2`).
		WithArgs("pipe-1", 10).
		WillReturnRows(rows)

	executions, err := s.ListExecutionsByPipeline(context.Background(), "pipe-1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(executions) != 2 || executions[0].Number != 2 || executions[1].Number != 1 {
		t.Errorf("got %+v", executions)
	}
}

func TestTailLogChunksByExecution_OrdersChronologically(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"step_id", "chunk_number", "content", "level", "timestamp"}).
		AddRow("step-1", 0, "building", "info", now).
		AddRow("step-2", 0, "testing", "info", now)

	mock.ExpectQuery(`SELECT recent.step_id`).
		WithArgs("exec-1", 100).
		WillReturnRows(rows)

	chunks, err := s.TailLogChunksByExecution(context.Background(), "exec-1", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 2 || chunks[0].StepID != "step-1" || chunks[1].StepID != "step-2" {
		t.Errorf("got %+v", chunks)
	}
}
