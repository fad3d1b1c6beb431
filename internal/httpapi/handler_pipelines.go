package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mergeci/controlplane/internal/apierr"
	"github.com/mergeci/controlplane/internal/model"
	"github.com/mergeci/controlplane/internal/planner"
	"github.com/mergeci/controlplane/pkg/pipeline"
)

type createPipelineRequest struct {
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	RepoURL       string `json:"repo_url"`
	DefaultBranch string `json:"default_branch"`
	ConfigPath    string `json:"config_path"`
}

func (s *Server) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())

	var req createPipelineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == "" || req.Slug == "" || req.RepoURL == "" {
		writeError(w, r, apierr.Validation("name, slug, and repo_url are required"))
		return
	}
	if req.DefaultBranch == "" {
		req.DefaultBranch = "main"
	}
	if req.ConfigPath == "" {
		req.ConfigPath = ".mergeci/pipeline.yml"
	}

	webhookSecret, err := randomSecret()
	if err != nil {
		writeError(w, r, apierr.Fatal("generate webhook secret", err))
		return
	}

	p := &model.Pipeline{
		ID:            uuid.NewString(),
		TenantID:      a.TenantID,
		Name:          req.Name,
		Slug:          req.Slug,
		RepoURL:       req.RepoURL,
		DefaultBranch: req.DefaultBranch,
		ConfigPath:    req.ConfigPath,
		WebhookSecret: webhookSecret,
		Active:        true,
	}
	if err := s.store.CreatePipeline(r.Context(), p); err != nil {
		writeError(w, r, apierr.Fatal("create pipeline", err))
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())
	pipelines, err := s.store.ListPipelines(r.Context(), a.TenantID)
	if err != nil {
		writeError(w, r, apierr.Fatal("list pipelines", err))
		return
	}
	writeJSON(w, http.StatusOK, pipelines)
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())
	id := mux.Vars(r)["id"]
	p, err := s.store.GetPipeline(r.Context(), a.TenantID, id)
	if err != nil {
		writeError(w, r, apierr.Fatal("get pipeline", err))
		return
	}
	if p == nil {
		writeError(w, r, apierr.NotFound("pipeline", id))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type createPipelineConfigRequest struct {
	YAML      string `json:"yaml"`
	CommitSHA string `json:"commit_sha"`
}

// handleCreatePipelineConfig registers a new immutable config version,
// parsing and validating it but accepting it regardless of validity — an
// invalid config is simply never picked up as "latest valid" by the
// webhook or schedule triggers, letting callers inspect validation_errors.
func (s *Server) handleCreatePipelineConfig(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())
	pipelineID := mux.Vars(r)["id"]

	p, err := s.store.GetPipeline(r.Context(), a.TenantID, pipelineID)
	if err != nil {
		writeError(w, r, apierr.Fatal("get pipeline", err))
		return
	}
	if p == nil {
		writeError(w, r, apierr.NotFound("pipeline", pipelineID))
		return
	}

	var req createPipelineConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.YAML == "" {
		writeError(w, r, apierr.Validation("yaml is required"))
		return
	}

	cfg, errs := pipeline.Load(req.YAML)
	validationErrors := make([]string, len(errs))
	for i, e := range errs {
		validationErrors[i] = e.Error()
	}

	version, err := s.store.LatestPipelineConfigVersion(r.Context(), pipelineID)
	if err != nil {
		writeError(w, r, apierr.Fatal("look up latest config version", err))
		return
	}

	var parsed interface{}
	if cfg != nil {
		parsed = cfg
	}

	record := &model.PipelineConfig{
		ID:               uuid.NewString(),
		PipelineID:       pipelineID,
		Version:          version + 1,
		YAMLRaw:          req.YAML,
		Parsed:           model.NewValue(parsed),
		CommitSHA:        req.CommitSHA,
		IsValid:          len(errs) == 0,
		ValidationErrors: validationErrors,
	}
	if err := s.store.CreatePipelineConfig(r.Context(), record); err != nil {
		writeError(w, r, apierr.Fatal("create pipeline config", err))
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

type triggerExecutionRequest struct {
	Inputs map[string]interface{} `json:"inputs"`
}

// handleTriggerExecution plans a manually-triggered execution against a
// pipeline's latest valid config, the `workflow_dispatch` path through the
// planner.
func (s *Server) handleTriggerExecution(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())
	pipelineID := mux.Vars(r)["id"]

	p, err := s.store.GetPipeline(r.Context(), a.TenantID, pipelineID)
	if err != nil {
		writeError(w, r, apierr.Fatal("get pipeline", err))
		return
	}
	if p == nil {
		writeError(w, r, apierr.NotFound("pipeline", pipelineID))
		return
	}
	if !p.Active {
		writeError(w, r, apierr.Conflict("pipeline is not active"))
		return
	}

	var req triggerExecutionRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	storedCfg, err := s.store.GetLatestValidPipelineConfig(r.Context(), pipelineID)
	if err != nil {
		writeError(w, r, apierr.Fatal("load pipeline config", err))
		return
	}
	if storedCfg == nil {
		writeError(w, r, apierr.Conflict("pipeline has no valid config to run"))
		return
	}
	cfg, errs := pipeline.Load(storedCfg.YAMLRaw)
	if len(errs) > 0 {
		writeError(w, r, apierr.Conflict("pipeline's latest config is no longer valid"))
		return
	}
	if !cfg.On.Has("workflow_dispatch") {
		writeError(w, r, apierr.Validation("pipeline does not accept manual triggers"))
		return
	}

	exec, err := s.planner.Plan(r.Context(), planner.Request{
		TenantID:    a.TenantID,
		PipelineID:  pipelineID,
		ConfigRef:   storedCfg.ID,
		Config:      cfg,
		TriggerType: model.TriggerManual,
		TriggerInfo: model.NewValue(map[string]interface{}{"triggered_by": a.UserID}),
		Environment: model.NewValue(cfg.Env),
		Inputs:      model.NewValue(req.Inputs),
		TriggeredBy: a.UserID,
	})
	if err != nil {
		writeError(w, r, apierr.Fatal("plan execution", err))
		return
	}
	if err := s.store.TouchLastExecution(r.Context(), pipelineID); err != nil {
		log.WithError(err).Warn("failed to stamp pipeline last-execution time")
	}
	writeJSON(w, http.StatusCreated, exec)
}

func (s *Server) handleListExecutionsForPipeline(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())
	pipelineID := mux.Vars(r)["id"]
	p, err := s.store.GetPipeline(r.Context(), a.TenantID, pipelineID)
	if err != nil {
		writeError(w, r, apierr.Fatal("get pipeline", err))
		return
	}
	if p == nil {
		writeError(w, r, apierr.NotFound("pipeline", pipelineID))
		return
	}
	execs, err := s.store.ListExecutionsByPipeline(r.Context(), pipelineID, 50)
	if err != nil {
		writeError(w, r, apierr.Fatal("list executions", err))
		return
	}
	writeJSON(w, http.StatusOK, execs)
}
