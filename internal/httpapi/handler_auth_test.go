package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mergeci/controlplane/internal/auth"
	"github.com/mergeci/controlplane/internal/config"
)

var testCreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestHandleLogin_Success(t *testing.T) {
	srv, mock := newTestServer(t, config.Config{})

	passwordHash, err := auth.HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	mock.ExpectQuery(`SELECT .* FROM tenants WHERE slug = \$1`).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "slug", "plan", "max_runners", "max_concurrent_jobs", "retention_days", "storage_mb", "active",
		}).AddRow("tenant-1", "acme", "free", 5, 10, 30, 1024, true))
	mock.ExpectQuery(`SELECT .* FROM users WHERE tenant_id = \$1 AND email = \$2`).
		WithArgs("tenant-1", "dev@acme.test").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "email", "password_hash", "created_at"}).
			AddRow("user-1", "tenant-1", "dev@acme.test", passwordHash, testCreatedAt))

	body, _ := json.Marshal(loginRequest{TenantSlug: "acme", Email: "dev@acme.test", Password: "correct horse battery staple"})
	req := httptest.NewRequest("POST", "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.handleLogin(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" || resp.TokenType != "Bearer" {
		t.Errorf("got response %+v", resp)
	}
}

func TestHandleLogin_WrongPasswordRejected(t *testing.T) {
	srv, mock := newTestServer(t, config.Config{})

	passwordHash, _ := auth.HashPassword("the-real-password")

	mock.ExpectQuery(`SELECT .* FROM tenants WHERE slug = \$1`).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "slug", "plan", "max_runners", "max_concurrent_jobs", "retention_days", "storage_mb", "active",
		}).AddRow("tenant-1", "acme", "free", 5, 10, 30, 1024, true))
	mock.ExpectQuery(`SELECT .* FROM users WHERE tenant_id = \$1 AND email = \$2`).
		WithArgs("tenant-1", "dev@acme.test").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "email", "password_hash", "created_at"}).
			AddRow("user-1", "tenant-1", "dev@acme.test", passwordHash, testCreatedAt))

	body, _ := json.Marshal(loginRequest{TenantSlug: "acme", Email: "dev@acme.test", Password: "wrong-password"})
	req := httptest.NewRequest("POST", "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.handleLogin(rec, req)

	if rec.Code != 401 {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestHandleLogin_MissingFieldsRejected(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})

	body, _ := json.Marshal(loginRequest{TenantSlug: "acme"})
	req := httptest.NewRequest("POST", "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.handleLogin(rec, req)

	if rec.Code != 400 {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleRefresh_IssuesNewTokenPair(t *testing.T) {
	srv, mock := newTestServer(t, config.Config{})

	issuer := auth.NewIssuer(srv.cfg.JWTSigningKey)
	refreshToken, err := issuer.IssueRefreshToken("user-1", "tenant-1")
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}

	mock.ExpectQuery(`SELECT .* FROM users WHERE id = \$1`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "email", "password_hash", "created_at"}).
			AddRow("user-1", "tenant-1", "dev@acme.test", "irrelevant-hash", testCreatedAt))

	body, _ := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	req := httptest.NewRequest("POST", "/auth/refresh", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.handleRefresh(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleRefresh_AccessTokenRejected(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})

	issuer := auth.NewIssuer(srv.cfg.JWTSigningKey)
	accessToken, err := issuer.IssueAccessToken("user-1", "tenant-1")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	body, _ := json.Marshal(refreshRequest{RefreshToken: accessToken})
	req := httptest.NewRequest("POST", "/auth/refresh", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.handleRefresh(rec, req)

	if rec.Code != 401 {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestHandleMe_RequiresUserActor(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req = req.WithContext(contextWithActor(req.Context(), actor{TenantID: "tenant-1", APIKeyID: "key-1"}))
	rec := httptest.NewRecorder()

	srv.handleMe(rec, req)

	if rec.Code != 401 {
		t.Errorf("status = %d, want 401 for an API-key actor with no user", rec.Code)
	}
}
