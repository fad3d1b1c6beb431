package dispatchloop

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mergeci/controlplane/internal/model"
	"github.com/mergeci/controlplane/internal/planner"
	"github.com/mergeci/controlplane/internal/runnerregistry"
	"github.com/mergeci/controlplane/internal/store"
)

const singleJobYAML = `
name: ci
on:
  push:
    branches: ["main"]
jobs:
  build:
    runs-on: [linux]
    steps:
      - run: go build ./...
`

func newTestLoop(t *testing.T, dispatch runnerregistry.DispatchFunc) (*Loop, sqlmock.Sqlmock, *runnerregistry.Registry) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.NewForTesting(db)
	reg := runnerregistry.New(st, dispatch)
	pl := planner.New(st)
	return New(st, pl, reg), mock, reg
}

func TestSettleExecution_ReevaluatesThenDispatchesQueuedJob(t *testing.T) {
	dispatched := make(chan string, 1)
	loop, mock, reg := newTestLoop(t, func(runnerID string, job *model.Job) error {
		dispatched <- job.ID
		return nil
	})
	reg.Register(model.Runner{
		ID: "runner-1", Type: model.RunnerShared, Status: model.RunnerOnline,
		Labels: []string{"linux"}, MaxConcurrentJobs: 5, LastHeartbeat: time.Now(),
	})
	reg.MarkConnected("runner-1")

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
		}).AddRow("cfg-1", "pipe-1", 1, singleJobYAML, []byte("null"), "abc123", true))

	// Reevaluate: no pending jobs to re-scan (build is already queued).
	mock.ExpectQuery(`FROM jobs WHERE execution_id = \$1`).
		WillReturnRows(sqlmock.NewRows(jobRowColumnsForTest()).
			AddRow("job-1", "exec-1", "build", "build", []byte(`[]`), "", []byte("null"), []byte(`["linux"]`),
				"", []byte("null"), model.StatusQueued, nil, 0, []byte("null"), []byte("null"), now, nil, nil))

	// settleExecution's own dispatch listing.
	mock.ExpectQuery(`FROM jobs WHERE execution_id = \$1`).
		WillReturnRows(sqlmock.NewRows(jobRowColumnsForTest()).
			AddRow("job-1", "exec-1", "build", "build", []byte(`[]`), "", []byte("null"), []byte(`["linux"]`),
				"", []byte("null"), model.StatusQueued, nil, 0, []byte("null"), []byte("null"), now, nil, nil))

	mock.ExpectExec(`UPDATE jobs SET status = \$1, runner_id = \$2, started_at = now\(\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE runners SET current_jobs`).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := loop.settleExecution(context.Background(), "exec-1"); err != nil {
		t.Fatalf("settleExecution: %v", err)
	}

	select {
	case jobID := <-dispatched:
		if jobID != "job-1" {
			t.Errorf("expected job-1 dispatched, got %s", jobID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected job to be dispatched")
	}
}

func TestProcessItem_UnknownKindErrors(t *testing.T) {
	loop, _, _ := newTestLoop(t, nil)
	err := loop.processItem(context.Background(), store.WorkItem{Kind: "bogus", RefID: "x"})
	if err == nil {
		t.Fatal("expected an error for an unknown work item kind")
	}
}

func TestDispatchJob_NoAssignableRunnerDoesNotPanic(t *testing.T) {
	loop, _, _ := newTestLoop(t, func(string, *model.Job) error { return errors.New("unreachable") })
	// No runner registered, so Dispatch returns ok=false, nil error; this
	// just exercises the no-panic path when nothing is assignable.
	loop.dispatchJob(context.Background(), "tenant-1", &model.Job{ID: "job-1", RunsOn: []string{"linux"}})
}

func jobRowColumnsForTest() []string {
	return []string{
		"id", "execution_id", "name", "job_key", "needs", "condition", "matrix_values", "runs_on",
		"container", "services", "status", "runner_id", "timeout_minutes", "outputs", "environment",
		"queued_at", "started_at", "finished_at",
	}
}
