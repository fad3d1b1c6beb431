package planner

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mergeci/controlplane/internal/model"
)

const matrixYAML = `
name: ci
on:
  push:
    branches: ["main"]
jobs:
  test:
    runs-on: [linux]
    strategy:
      fail-fast: true
      matrix:
        shard: [1, 2]
    steps:
      - run: go test ./...
  publish:
    needs: [test]
    runs-on: [linux]
    steps:
      - run: make publish
`

var jobRowColumns = []string{
	"id", "execution_id", "name", "job_key", "needs", "condition", "matrix_values", "runs_on",
	"container", "services", "status", "runner_id", "timeout_minutes", "outputs", "environment",
	"queued_at", "started_at", "finished_at",
}

func TestOnJobTerminal_FailFastCancelsSiblingsAndSkipsDependent(t *testing.T) {
	planner, mock := newTestPlanner(t)
	now := time.Now()

	mock.ExpectQuery(`FROM executions WHERE id = \$1`).
		WithArgs("exec-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "pipeline_id", "config_ref", "number", "trigger_type", "trigger_info",
			"status", "queued_at", "started_at", "finished_at", "environment", "inputs",
			"concurrency_group", "cancel_in_progress", "triggered_by",
		}).AddRow(
			"exec-1", "tenant-1", "pipe-1", "cfg-1", 1, model.TriggerPush, []byte("null"),
			model.StatusRunning, now, nil, nil, []byte("null"), []byte("null"),
			"", false, "",
		))

	mock.ExpectQuery(`FROM pipeline_configs WHERE id = \$1`).
		WithArgs("cfg-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "pipeline_id", "version", "yaml_raw", "parsed", "commit_sha", "is_valid",
		}).AddRow("cfg-1", "pipe-1", 1, matrixYAML, []byte("null"), "abc123", true))

	firstListing := sqlmock.NewRows(jobRowColumns).
		AddRow("job-shard-1", "exec-1", "test", "test", []byte(`[]`), "", []byte(`{"shard":1}`), []byte(`["linux"]`),
			"", []byte("null"), model.StatusFailed, nil, 0, []byte("null"), []byte("null"), now, nil, nil).
		AddRow("job-shard-2", "exec-1", "test", "test", []byte(`[]`), "", []byte(`{"shard":2}`), []byte(`["linux"]`),
			"", []byte("null"), model.StatusRunning, nil, 0, []byte("null"), []byte("null"), now, nil, nil).
		AddRow("job-publish", "exec-1", "publish", "publish", []byte(`["test"]`), "", []byte("null"), []byte(`["linux"]`),
			"", []byte("null"), model.StatusPending, nil, 0, []byte("null"), []byte("null"), now, nil, nil)
	mock.ExpectQuery(`FROM jobs WHERE execution_id = \$1`).WillReturnRows(firstListing)
	mock.ExpectExec(`UPDATE jobs SET status = \$2, finished_at = now\(\) WHERE id = \$1`).
		WithArgs("job-shard-2", model.StatusCancelled).
		WillReturnResult(sqlmock.NewResult(0, 1))

	secondListing := sqlmock.NewRows(jobRowColumns).
		AddRow("job-shard-1", "exec-1", "test", "test", []byte(`[]`), "", []byte(`{"shard":1}`), []byte(`["linux"]`),
			"", []byte("null"), model.StatusFailed, nil, 0, []byte("null"), []byte("null"), now, nil, nil).
		AddRow("job-shard-2", "exec-1", "test", "test", []byte(`[]`), "", []byte(`{"shard":2}`), []byte(`["linux"]`),
			"", []byte("null"), model.StatusCancelled, nil, 0, []byte("null"), []byte("null"), now, nil, nil).
		AddRow("job-publish", "exec-1", "publish", "publish", []byte(`["test"]`), "", []byte("null"), []byte(`["linux"]`),
			"", []byte("null"), model.StatusPending, nil, 0, []byte("null"), []byte("null"), now, nil, nil)
	mock.ExpectQuery(`FROM jobs WHERE execution_id = \$1`).WillReturnRows(secondListing)
	mock.ExpectExec(`UPDATE jobs SET status = \$2, finished_at = now\(\) WHERE id = \$1`).
		WithArgs("job-publish", model.StatusSkipped).
		WillReturnResult(sqlmock.NewResult(0, 1))

	failedJob := &model.Job{ID: "job-shard-1", ExecutionID: "exec-1", JobKey: "test", Status: model.StatusFailed}
	if err := planner.OnJobTerminal(context.Background(), "exec-1", failedJob); err != nil {
		t.Fatalf("OnJobTerminal: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
