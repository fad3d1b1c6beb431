// Package httpapi is the REST and WebSocket ingress for the control plane:
// webhook delivery, user/API-key authentication, minimal pipeline/execution
// CRUD, artifact download, and the runner/log WebSocket upgrade routes.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mergeci/controlplane/internal/artifactstore"
	"github.com/mergeci/controlplane/internal/auth"
	"github.com/mergeci/controlplane/internal/config"
	"github.com/mergeci/controlplane/internal/logbus"
	"github.com/mergeci/controlplane/internal/planner"
	"github.com/mergeci/controlplane/internal/runnerregistry"
	"github.com/mergeci/controlplane/internal/runnersession"
	"github.com/mergeci/controlplane/internal/secretbox"
	"github.com/mergeci/controlplane/internal/store"
)

// Server bundles every dependency a handler might need. Handlers are methods
// on *Server so they share this one set of collaborators without a global.
type Server struct {
	cfg      config.Config
	store    *store.Store
	registry *runnerregistry.Registry
	planner  *planner.Planner
	bus      *logbus.Bus
	hub      *runnersession.Hub
	secrets  *secretbox.Box
	artifacts artifactstore.Store
	issuer   *auth.Issuer
}

// New constructs a Server from already-wired collaborators.
func New(cfg config.Config, st *store.Store, registry *runnerregistry.Registry, pl *planner.Planner, bus *logbus.Bus, hub *runnersession.Hub, secrets *secretbox.Box, artifacts artifactstore.Store) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		registry:  registry,
		planner:   pl,
		bus:       bus,
		hub:       hub,
		secrets:   secrets,
		artifacts: artifacts,
		issuer:    auth.NewIssuer(cfg.JWTSigningKey),
	}
}

// Router builds the complete mux.Router with the middleware chain and every
// route mounted. requestTimeout bounds ordinary handlers; WebSocket routes
// are mounted outside the timeout middleware since they're meant to live long.
func (s *Server) Router(requestTimeout time.Duration) http.Handler {
	r := mux.NewRouter()
	r.Use(recoveryMiddleware, loggingMiddleware, securityHeadersMiddleware, corsMiddleware)

	api := r.PathPrefix("/").Subrouter()
	api.Use(timeoutMiddleware(requestTimeout))

	api.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	api.HandleFunc("/webhooks/github", s.handleGitHubWebhook).Methods(http.MethodPost)

	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.Handle("/auth/me", s.requireAuth(http.HandlerFunc(s.handleMe))).Methods(http.MethodGet)

	authed := api.PathPrefix("/").Subrouter()
	authed.Use(s.requireAuth)

	authed.HandleFunc("/pipelines", s.handleCreatePipeline).Methods(http.MethodPost)
	authed.HandleFunc("/pipelines", s.handleListPipelines).Methods(http.MethodGet)
	authed.HandleFunc("/pipelines/{id}", s.handleGetPipeline).Methods(http.MethodGet)
	authed.HandleFunc("/pipelines/{id}/configs", s.handleCreatePipelineConfig).Methods(http.MethodPost)
	authed.HandleFunc("/pipelines/{id}/executions", s.handleTriggerExecution).Methods(http.MethodPost)
	authed.HandleFunc("/pipelines/{id}/executions", s.handleListExecutionsForPipeline).Methods(http.MethodGet)

	authed.HandleFunc("/executions/{id}", s.handleGetExecution).Methods(http.MethodGet)
	authed.HandleFunc("/executions/{id}/jobs", s.handleListJobs).Methods(http.MethodGet)
	authed.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	authed.HandleFunc("/jobs/{id}/steps", s.handleListSteps).Methods(http.MethodGet)

	authed.HandleFunc("/runners", s.handleRegisterRunner).Methods(http.MethodPost)
	authed.HandleFunc("/runners", s.handleListRunners).Methods(http.MethodGet)

	authed.HandleFunc("/secrets", s.handleCreateSecret).Methods(http.MethodPost)
	authed.HandleFunc("/pipelines/{id}/secrets", s.handleListSecrets).Methods(http.MethodGet)
	authed.HandleFunc("/secrets/{id}", s.handleDeleteSecret).Methods(http.MethodDelete)

	authed.HandleFunc("/executions/{id}/artifacts", s.handleListArtifacts).Methods(http.MethodGet)
	authed.HandleFunc("/artifacts/{id}", s.handleGetArtifact).Methods(http.MethodGet)
	authed.HandleFunc("/artifacts/{id}/download", s.handleDownloadArtifact).Methods(http.MethodGet)

	authed.HandleFunc("/api-keys", s.handleCreateAPIKey).Methods(http.MethodPost)
	authed.HandleFunc("/api-keys", s.handleListAPIKeys).Methods(http.MethodGet)
	authed.HandleFunc("/api-keys/{id}", s.handleRevokeAPIKey).Methods(http.MethodDelete)

	// WebSocket upgrades run their own lifetime; they must not be wrapped by
	// the request timeout middleware above.
	r.HandleFunc("/runner/{runner_id}", s.hub.HandleConnect).Methods(http.MethodGet)
	r.HandleFunc("/ws/logs/{execution_id}/{job_id}", s.handleLogStream).Methods(http.MethodGet)
	r.HandleFunc("/ws/logs/{execution_id}", s.handleLogStream).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// actorKey is the request-context key for the resolved tenant/user/scope
// triple produced by the auth middleware.
type actorKey struct{}

// actor is the authenticated identity a request is acting as, whether it
// came from a user JWT or an API key.
type actor struct {
	TenantID string
	UserID   string // empty for API-key auth
	Scopes   []string
	APIKeyID string // empty for user auth
}

func contextWithActor(ctx context.Context, a actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func actorFromContext(ctx context.Context) (actor, bool) {
	a, ok := ctx.Value(actorKey{}).(actor)
	return a, ok
}
