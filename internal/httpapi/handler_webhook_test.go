package httpapi

import (
	"bytes"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mergeci/controlplane/internal/config"
)

func TestHandleGitHubWebhook_PingIsAcknowledgedWithoutTouchingStorage(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})

	req := httptest.NewRequest("POST", "/webhooks/github", nil)
	req.Header.Set("X-GitHub-Event", "ping")
	rec := httptest.NewRecorder()

	srv.handleGitHubWebhook(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGitHubWebhook_UnboundRepoIsAcknowledgedNotError(t *testing.T) {
	srv, mock := newTestServer(t, config.Config{})

	mock.ExpectQuery(`SELECT .* FROM pipelines WHERE repo_url = \$1 AND active = true`).
		WithArgs("https://github.com/acme/widgets.git").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "name", "slug", "repo_url", "default_branch", "config_path",
			"webhook_secret", "active", "last_execution_at",
		}))

	payload := []byte(`{
		"ref": "refs/heads/main",
		"before": "aaa",
		"after": "bbb",
		"repository": {"clone_url": "https://github.com/acme/widgets.git", "full_name": "acme/widgets"},
		"pusher": {"name": "dev"},
		"sender": {"login": "dev"}
	}`)
	req := httptest.NewRequest("POST", "/webhooks/github", bytes.NewReader(payload))
	req.Header.Set("X-GitHub-Event", "push")
	rec := httptest.NewRecorder()

	srv.handleGitHubWebhook(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
