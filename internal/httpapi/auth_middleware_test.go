package httpapi

import (
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mergeci/controlplane/internal/auth"
	"github.com/mergeci/controlplane/internal/config"
	"github.com/mergeci/controlplane/internal/store"
)

func newTestServer(t *testing.T, cfg config.Config) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if cfg.JWTSigningKey == "" {
		cfg.JWTSigningKey = "test-signing-key"
	}
	st := store.NewForTesting(db)
	return New(cfg, st, nil, nil, nil, nil, nil, nil), mock
}

func TestResolveActor_BearerTokenWins(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})

	issuer := auth.NewIssuer(srv.cfg.JWTSigningKey)
	token, err := issuer.IssueAccessToken("user-1", "tenant-1")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	a, err := srv.resolveActor(req)
	if err != nil {
		t.Fatalf("resolveActor: %v", err)
	}
	if a.TenantID != "tenant-1" || a.UserID != "user-1" {
		t.Errorf("got actor %+v", a)
	}
}

func TestResolveActor_RefreshTokenRejectedAsBearer(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})

	issuer := auth.NewIssuer(srv.cfg.JWTSigningKey)
	token, err := issuer.IssueRefreshToken("user-1", "tenant-1")
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	if _, err := srv.resolveActor(req); err == nil {
		t.Fatal("expected a refresh token to be rejected for request authentication")
	}
}

func TestResolveActor_APIKeyHeader(t *testing.T) {
	srv, mock := newTestServer(t, config.Config{})

	hash := auth.HashToken("mci_live_abcdef")
	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "name", "key_prefix", "key_hash", "scopes", "created_at", "last_used_at", "revoked",
	}).AddRow("key-1", "tenant-2", "ci bot", "mci_live", hash, []byte(`["pipelines:read"]`), nil, nil, false)
	mock.ExpectQuery(`SELECT .* FROM api_keys WHERE key_hash = \$1 AND revoked = false`).
		WithArgs(hash).
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE api_keys SET last_used_at = now\(\) WHERE id = \$1`).
		WithArgs("key-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest("GET", "/pipelines", nil)
	req.Header.Set("X-API-Key", "mci_live_abcdef")

	a, err := srv.resolveActor(req)
	if err != nil {
		t.Fatalf("resolveActor: %v", err)
	}
	if a.TenantID != "tenant-2" || a.APIKeyID != "key-1" {
		t.Errorf("got actor %+v", a)
	}
	if len(a.Scopes) != 1 || a.Scopes[0] != "pipelines:read" {
		t.Errorf("got scopes %v", a.Scopes)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestResolveActor_RevokedAPIKeyRejected(t *testing.T) {
	srv, mock := newTestServer(t, config.Config{})

	hash := auth.HashToken("mci_live_revoked")
	mock.ExpectQuery(`SELECT .* FROM api_keys WHERE key_hash = \$1 AND revoked = false`).
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "name", "key_prefix", "key_hash", "scopes", "created_at", "last_used_at", "revoked",
		}))

	req := httptest.NewRequest("GET", "/pipelines", nil)
	req.Header.Set("X-API-Key", "mci_live_revoked")

	if _, err := srv.resolveActor(req); err == nil {
		t.Fatal("expected unknown api key to be rejected")
	}
}

func TestResolveActor_NoCredentialsRejectedInSaaSMode(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{DeploymentMode: config.ModeSaaS})

	req := httptest.NewRequest("GET", "/pipelines", nil)
	if _, err := srv.resolveActor(req); err == nil {
		t.Fatal("expected request with no credentials to be rejected in SaaS mode")
	}
}

func TestResolveActor_DefaultTenantFallbackInSelfHostedMode(t *testing.T) {
	srv, mock := newTestServer(t, config.Config{
		DeploymentMode:    config.ModeSelfHosted,
		DefaultTenantSlug: "default",
	})

	mock.ExpectQuery(`SELECT .* FROM tenants WHERE slug = \$1`).
		WithArgs("default").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "slug", "plan", "max_runners", "max_concurrent_jobs", "retention_days", "storage_mb", "active",
		}).AddRow("tenant-default", "default", "free", 5, 10, 30, 1024, true))

	req := httptest.NewRequest("GET", "/pipelines", nil)
	a, err := srv.resolveActor(req)
	if err != nil {
		t.Fatalf("resolveActor: %v", err)
	}
	if a.TenantID != "tenant-default" {
		t.Errorf("got tenant %q", a.TenantID)
	}
}

func TestResolveTenantFromHost(t *testing.T) {
	srv, mock := newTestServer(t, config.Config{})

	mock.ExpectQuery(`SELECT .* FROM tenants WHERE slug = \$1`).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "slug", "plan", "max_runners", "max_concurrent_jobs", "retention_days", "storage_mb", "active",
		}).AddRow("tenant-acme", "acme", "pro", 20, 50, 90, 4096, true))

	req := httptest.NewRequest("GET", "/pipelines", nil)
	req.Host = "acme.mergeci.example"

	tenantID, ok := srv.resolveTenantFromHost(req)
	if !ok || tenantID != "tenant-acme" {
		t.Errorf("got (%q, %v)", tenantID, ok)
	}
}

func TestResolveTenantFromHost_SkipsPlatformSubdomains(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})

	req := httptest.NewRequest("GET", "/pipelines", nil)
	req.Host = "api.mergeci.example"

	if _, ok := srv.resolveTenantFromHost(req); ok {
		t.Error("platform subdomain api. should not resolve to a tenant")
	}
}
