package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mergeci/controlplane/internal/config"
)

func TestHandleCreateAPIKey_DefaultsToWildcardScope(t *testing.T) {
	srv, mock := newTestServer(t, config.Config{})

	mock.ExpectExec(`INSERT INTO api_keys`).WillReturnResult(sqlmock.NewResult(1, 1))

	body, _ := json.Marshal(createAPIKeyRequest{Name: "ci bot"})
	req := httptest.NewRequest("POST", "/api-keys", bytes.NewReader(body))
	req = req.WithContext(contextWithActor(req.Context(), actor{TenantID: "tenant-1"}))
	rec := httptest.NewRecorder()

	srv.handleCreateAPIKey(rec, req)

	if rec.Code != 201 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp createAPIKeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Key == "" {
		t.Error("expected the full key to be returned exactly once")
	}
	if len(resp.APIKey.Scopes) != 1 || resp.APIKey.Scopes[0] != "*" {
		t.Errorf("got scopes %v, want [*]", resp.APIKey.Scopes)
	}
}

func TestHandleCreateAPIKey_RequiresName(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})

	body, _ := json.Marshal(createAPIKeyRequest{})
	req := httptest.NewRequest("POST", "/api-keys", bytes.NewReader(body))
	req = req.WithContext(contextWithActor(req.Context(), actor{TenantID: "tenant-1"}))
	rec := httptest.NewRecorder()

	srv.handleCreateAPIKey(rec, req)

	if rec.Code != 400 {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleRevokeAPIKey_ScopesToActorTenant(t *testing.T) {
	srv, mock := newTestServer(t, config.Config{})

	mock.ExpectExec(`UPDATE api_keys SET revoked = true WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs("key-1", "tenant-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest("DELETE", "/api-keys/key-1", nil)
	req = req.WithContext(contextWithActor(req.Context(), actor{TenantID: "tenant-1"}))
	req = mux.SetURLVars(req, map[string]string{"id": "key-1"})
	rec := httptest.NewRecorder()

	srv.handleRevokeAPIKey(rec, req)

	if rec.Code != 204 {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
