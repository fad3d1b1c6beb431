package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/mergeci/controlplane/internal/apierr"
	"github.com/mergeci/controlplane/internal/auth"
	"github.com/mergeci/controlplane/internal/model"
)

type registerRunnerRequest struct {
	Name              string     `json:"name"`
	Type              string     `json:"type"`
	Labels            []string   `json:"labels"`
	MaxConcurrentJobs int        `json:"max_concurrent_jobs"`
	Capabilities      model.Value `json:"capabilities"`
}

type registerRunnerResponse struct {
	Runner *model.Runner `json:"runner"`
	Token  string        `json:"token"`
}

// handleRegisterRunner mints a fresh runner registration token and persists
// the runner record. The full token is returned exactly once; only its hash
// is stored, matching the API key issuance flow.
func (s *Server) handleRegisterRunner(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())

	var req registerRunnerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, apierr.Validation("name is required"))
		return
	}
	runnerType := model.RunnerDedicated
	if req.Type != "" {
		runnerType = model.RunnerType(req.Type)
	}
	maxJobs := req.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = 1
	}

	token, hash, err := auth.NewRunnerToken()
	if err != nil {
		writeError(w, r, apierr.Fatal("mint runner token", err))
		return
	}

	tenantID := a.TenantID
	runner := &model.Runner{
		ID:                uuid.NewString(),
		TenantID:          &tenantID,
		Name:              req.Name,
		TokenHash:         hash,
		Type:              runnerType,
		Labels:            req.Labels,
		Capabilities:      req.Capabilities,
		Status:            model.RunnerOffline,
		MaxConcurrentJobs: maxJobs,
	}
	if err := s.store.CreateRunner(r.Context(), runner); err != nil {
		writeError(w, r, apierr.Fatal("create runner", err))
		return
	}
	s.registry.Register(*runner)

	writeJSON(w, http.StatusCreated, registerRunnerResponse{Runner: runner, Token: token})
}

func (s *Server) handleListRunners(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())
	runners, err := s.store.ListAvailableRunners(r.Context(), a.TenantID)
	if err != nil {
		writeError(w, r, apierr.Fatal("list runners", err))
		return
	}
	writeJSON(w, http.StatusOK, runners)
}
