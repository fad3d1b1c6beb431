package httpapi

import (
	"bytes"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mergeci/controlplane/internal/artifactstore"
	"github.com/mergeci/controlplane/internal/config"
)

var artifactRowColumns = []string{
	"id", "tenant_id", "execution_id", "job_id", "name", "storage_path", "size_bytes",
	"checksum_sha256", "file_count", "compression", "retention_days", "created_at", "expires_at",
}

func newTestServerWithArtifacts(t *testing.T) (*Server, sqlmock.Sqlmock, *artifactstore.LocalStore) {
	t.Helper()
	srv, mock := newTestServer(t, config.Config{})
	store, err := artifactstore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	srv.artifacts = store
	return srv, mock, store
}

func TestHandleDownloadArtifact_StreamsStoredBytes(t *testing.T) {
	srv, mock, store := newTestServerWithArtifacts(t)

	if _, err := store.Put("tenant-1/exec-1/job-1/report.tar.gz", bytes.NewReader([]byte("archive contents"))); err != nil {
		t.Fatalf("Put: %v", err)
	}

	mock.ExpectQuery(`SELECT .* FROM artifacts WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs("tenant-1", "artifact-1").
		WillReturnRows(sqlmock.NewRows(artifactRowColumns).
			AddRow("artifact-1", "tenant-1", "exec-1", "job-1", "report.tar.gz",
				"tenant-1/exec-1/job-1/report.tar.gz", int64(17), "deadbeef", 3, "gzip", 30,
				time.Now().Add(-time.Hour), time.Now().Add(29*24*time.Hour)))

	req := httptest.NewRequest("GET", "/artifacts/artifact-1/download", nil)
	req = req.WithContext(contextWithActor(req.Context(), actor{TenantID: "tenant-1"}))
	req = mux.SetURLVars(req, map[string]string{"id": "artifact-1"})
	rec := httptest.NewRecorder()

	srv.handleDownloadArtifact(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "archive contents" {
		t.Errorf("body = %q", got)
	}
	if got := rec.Header().Get("X-Checksum-SHA256"); got != "deadbeef" {
		t.Errorf("checksum header = %q", got)
	}
}

func TestHandleDownloadArtifact_ExpiredIsGone(t *testing.T) {
	srv, mock, _ := newTestServerWithArtifacts(t)

	mock.ExpectQuery(`SELECT .* FROM artifacts WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs("tenant-1", "artifact-1").
		WillReturnRows(sqlmock.NewRows(artifactRowColumns).
			AddRow("artifact-1", "tenant-1", "exec-1", "job-1", "report.tar.gz",
				"tenant-1/exec-1/job-1/report.tar.gz", int64(17), "deadbeef", 3, "", 30,
				time.Now().Add(-31*24*time.Hour), time.Now().Add(-24*time.Hour)))

	req := httptest.NewRequest("GET", "/artifacts/artifact-1/download", nil)
	req = req.WithContext(contextWithActor(req.Context(), actor{TenantID: "tenant-1"}))
	req = mux.SetURLVars(req, map[string]string{"id": "artifact-1"})
	rec := httptest.NewRecorder()

	srv.handleDownloadArtifact(rec, req)

	if rec.Code != 410 {
		t.Errorf("status = %d, want 410", rec.Code)
	}
}

func TestHandleDownloadArtifact_NotFound(t *testing.T) {
	srv, mock, _ := newTestServerWithArtifacts(t)

	mock.ExpectQuery(`SELECT .* FROM artifacts WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs("tenant-1", "missing").
		WillReturnRows(sqlmock.NewRows(artifactRowColumns))

	req := httptest.NewRequest("GET", "/artifacts/missing/download", nil)
	req = req.WithContext(contextWithActor(req.Context(), actor{TenantID: "tenant-1"}))
	req = mux.SetURLVars(req, map[string]string{"id": "missing"})
	rec := httptest.NewRecorder()

	srv.handleDownloadArtifact(rec, req)

	if rec.Code != 404 {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
