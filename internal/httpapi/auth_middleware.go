package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/mergeci/controlplane/internal/apierr"
	"github.com/mergeci/controlplane/internal/auth"
	"github.com/mergeci/controlplane/internal/config"
	"github.com/mergeci/controlplane/internal/logging"
)

// subdomainsSkipped are hostnames that identify the platform itself rather
// than a tenant, so they fall through to the default-tenant resolution step.
var subdomainsSkipped = map[string]bool{"www": true, "api": true, "app": true, "admin": true}

// requireAuth resolves the caller's identity, in order: a Bearer user JWT,
// an X-API-Key header, the tenant named by the request's subdomain (other
// than those in subdomainsSkipped), then — only in self-hosted mode — the
// configured default tenant. It stashes the resolved actor and tenant ID on the
// request context and rejects the request with 401 if none apply.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, err := s.resolveActor(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		ctx := contextWithActor(r.Context(), a)
		ctx = logging.ContextWithTenant(ctx, a.TenantID)
		if a.UserID != "" {
			ctx = context.WithValue(ctx, logging.UserIDKey, a.UserID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) resolveActor(r *http.Request) (actor, error) {
	if bearer := bearerToken(r); bearer != "" {
		claims, err := s.issuer.Validate(bearer)
		if err != nil {
			return actor{}, apierr.Unauthorized("invalid or expired token")
		}
		if claims.TokenUse != "access" {
			return actor{}, apierr.Unauthorized("refresh tokens cannot authenticate requests")
		}
		return actor{TenantID: claims.TenantID, UserID: claims.UserID, Scopes: []string{"*"}}, nil
	}

	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		rec, err := s.store.GetAPIKeyByHash(r.Context(), auth.HashToken(apiKey))
		if err != nil {
			return actor{}, apierr.Fatal("look up api key", err)
		}
		if rec == nil || rec.Revoked {
			return actor{}, apierr.Unauthorized("invalid api key")
		}
		if err := s.store.TouchAPIKeyLastUsed(r.Context(), rec.ID); err != nil {
			log.WithError(err).Warn("failed to stamp api key last-used")
		}
		return actor{TenantID: rec.TenantID, Scopes: rec.Scopes, APIKeyID: rec.ID}, nil
	}

	if tenantID, ok := s.resolveTenantFromHost(r); ok {
		return actor{TenantID: tenantID, Scopes: []string{"*"}}, nil
	}

	if s.cfg.DeploymentMode == config.ModeSelfHosted {
		tenant, err := s.store.GetTenantBySlug(r.Context(), s.cfg.DefaultTenantSlug)
		if err != nil {
			return actor{}, apierr.Fatal("look up default tenant", err)
		}
		if tenant != nil {
			return actor{TenantID: tenant.ID, Scopes: []string{"*"}}, nil
		}
	}

	return actor{}, apierr.Unauthorized("authentication required")
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

// resolveTenantFromHost maps a request's subdomain (tenant.mergeci.example)
// to a tenant slug. Bare hosts and platform subdomains (www/api/app/admin)
// don't resolve, falling through to the default-tenant step.
func (s *Server) resolveTenantFromHost(r *http.Request) (string, bool) {
	host := r.Host
	if idx := strings.Index(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	parts := strings.Split(host, ".")
	if len(parts) < 3 {
		return "", false
	}
	sub := parts[0]
	if subdomainsSkipped[sub] {
		return "", false
	}
	tenant, err := s.store.GetTenantBySlug(r.Context(), sub)
	if err != nil || tenant == nil || !tenant.Active {
		return "", false
	}
	return tenant.ID, true
}

// requireScope returns an error unless the current actor's scopes authorize
// resource:action, used by handlers that accept both user and API-key auth
// but want to additionally gate machine-credential access.
func requireScope(r *http.Request, resource, action string) error {
	a, ok := actorFromContext(r.Context())
	if !ok {
		return apierr.Unauthorized("authentication required")
	}
	if !auth.AnyAllows(a.Scopes, resource, action) {
		return apierr.Unauthorized("insufficient scope for " + resource + ":" + action)
	}
	return nil
}
