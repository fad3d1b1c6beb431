package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mergeci/controlplane/internal/apierr"
	"github.com/mergeci/controlplane/internal/model"
)

type createSecretRequest struct {
	Name       string `json:"name"`
	Value      string `json:"value"`
	Scope      string `json:"scope"`       // "organization" or "pipeline"
	PipelineID string `json:"pipeline_id"` // required when scope is "pipeline"
}

// handleCreateSecret encrypts a plaintext secret value under the tenant's
// derived key before it ever touches storage; the plaintext is discarded
// once the response is written.
func (s *Server) handleCreateSecret(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())

	var req createSecretRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == "" || req.Value == "" {
		writeError(w, r, apierr.Validation("name and value are required"))
		return
	}

	scope := model.SecretScopeOrganization
	var pipelineID *string
	if req.Scope == string(model.SecretScopePipeline) {
		if req.PipelineID == "" {
			writeError(w, r, apierr.Validation("pipeline_id is required for pipeline-scoped secrets"))
			return
		}
		scope = model.SecretScopePipeline
		pipelineID = &req.PipelineID
	}

	ciphertext, err := s.secrets.Encrypt(a.TenantID, []byte(req.Value))
	if err != nil {
		writeError(w, r, apierr.Fatal("encrypt secret", err))
		return
	}

	sec := &model.Secret{
		ID:            uuid.NewString(),
		TenantID:      a.TenantID,
		PipelineID:    pipelineID,
		Name:          req.Name,
		Ciphertext:    ciphertext,
		Scope:         scope,
		LastUpdatedBy: a.UserID,
	}
	if err := s.store.CreateSecret(r.Context(), sec); err != nil {
		writeError(w, r, apierr.Conflict("a secret with this name already exists in this scope"))
		return
	}
	writeJSON(w, http.StatusCreated, sec)
}

// handleListSecrets returns secret metadata only; Ciphertext is never
// serialized (its json tag is "-") and plaintext is never reconstructed here.
func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())
	pipelineID := mux.Vars(r)["id"]
	secrets, err := s.store.ListSecretsForPipeline(r.Context(), a.TenantID, pipelineID)
	if err != nil {
		writeError(w, r, apierr.Fatal("list secrets", err))
		return
	}
	writeJSON(w, http.StatusOK, secrets)
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())
	id := mux.Vars(r)["id"]
	if err := s.store.DeleteSecret(r.Context(), a.TenantID, id); err != nil {
		writeError(w, r, apierr.Fatal("delete secret", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
