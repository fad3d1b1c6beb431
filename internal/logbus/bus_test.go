package logbus

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"

	"github.com/mergeci/controlplane/internal/model"
	"github.com/mergeci/controlplane/internal/store"
)

func newTestBus(t *testing.T) (*Bus, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.NewForTesting(db)

	// Point at an address nothing listens on: publish must stay
	// fire-and-forget even when the broker is unreachable.
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { rdb.Close() })

	return New(rdb, st), mock
}

func TestPublishLog_UnreachableBrokerDoesNotError(t *testing.T) {
	bus, mock := newTestBus(t)
	mock.ExpectExec(`INSERT INTO log_chunks`).WillReturnResult(sqlmock.NewResult(0, 1))

	chunk := model.LogChunk{
		StepID:      "step-1",
		ChunkNumber: 0,
		Content:     "hello",
		Level:       model.LogInfo,
		Timestamp:   time.Now(),
	}
	if err := bus.PublishLog(context.Background(), "exec-1", "job-1", chunk); err != nil {
		t.Fatalf("expected PublishLog to swallow a broker error, got %v", err)
	}
}

func TestPublishLog_StorageErrorPropagates(t *testing.T) {
	bus, mock := newTestBus(t)
	mock.ExpectExec(`INSERT INTO log_chunks`).WillReturnError(context.DeadlineExceeded)

	chunk := model.LogChunk{StepID: "step-1", ChunkNumber: 0, Content: "x", Level: model.LogInfo, Timestamp: time.Now()}
	if err := bus.PublishLog(context.Background(), "exec-1", "job-1", chunk); err == nil {
		t.Fatal("expected a storage error to propagate")
	}
}

func TestPublishStatus_UnreachableBrokerDoesNotPanic(t *testing.T) {
	bus, _ := newTestBus(t)
	bus.PublishStatus(context.Background(), "exec-1", "job-1", "job-1", model.StatusSuccess, map[string]interface{}{"ok": true})
}

func TestTopicNaming(t *testing.T) {
	if got := jobTopic("abc"); got != "logs_job_abc" {
		t.Errorf("jobTopic = %q", got)
	}
	if got := executionTopic("abc"); got != "logs_execution_abc" {
		t.Errorf("executionTopic = %q", got)
	}
}

func TestSubscribeJob_BacklogThenHistoryComplete(t *testing.T) {
	bus, mock := newTestBus(t)
	rows := sqlmock.NewRows([]string{"step_id", "chunk_number", "content", "level", "timestamp"}).
		AddRow("step-1", 0, "line one", "info", time.Now()).
		AddRow("step-1", 1, "line two", "info", time.Now())
	mock.ExpectQuery(`SELECT recent.step_id`).WillReturnRows(rows)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	frames, err := bus.SubscribeJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	first := <-frames
	if first.Type != "log" || first.Content != "line one" {
		t.Errorf("expected first backlog frame, got %+v", first)
	}
	second := <-frames
	if second.Type != "log" || second.Content != "line two" {
		t.Errorf("expected second backlog frame, got %+v", second)
	}
	marker := <-frames
	if marker.Type != "history_complete" {
		t.Errorf("expected history_complete marker, got %+v", marker)
	}
}

func TestSubscribeExecution_BacklogThenHistoryComplete(t *testing.T) {
	bus, mock := newTestBus(t)
	rows := sqlmock.NewRows([]string{"step_id", "chunk_number", "content", "level", "timestamp"}).
		AddRow("step-1", 0, "build started", "info", time.Now())
	mock.ExpectQuery(`SELECT recent.step_id`).WillReturnRows(rows)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	frames, err := bus.SubscribeExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	first := <-frames
	if first.Type != "log" || first.Content != "build started" {
		t.Errorf("expected backlog frame, got %+v", first)
	}
	marker := <-frames
	if marker.Type != "history_complete" {
		t.Errorf("expected history_complete marker, got %+v", marker)
	}
}
