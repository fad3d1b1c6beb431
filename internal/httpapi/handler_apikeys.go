package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mergeci/controlplane/internal/apierr"
	"github.com/mergeci/controlplane/internal/auth"
	"github.com/mergeci/controlplane/internal/model"
)

type createAPIKeyRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type createAPIKeyResponse struct {
	APIKey *model.APIKey `json:"api_key"`
	Key    string        `json:"key"`
}

// handleCreateAPIKey mints a new API key and returns its full value exactly
// once; only the hash and display prefix are ever persisted.
func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())

	var req createAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, apierr.Validation("name is required"))
		return
	}
	if len(req.Scopes) == 0 {
		req.Scopes = []string{"*"}
	}

	issued, err := auth.NewAPIKey()
	if err != nil {
		writeError(w, r, apierr.Fatal("mint api key", err))
		return
	}

	rec := &model.APIKey{
		ID:        uuid.NewString(),
		TenantID:  a.TenantID,
		Name:      req.Name,
		KeyPrefix: issued.KeyPrefix,
		KeyHash:   issued.KeyHash,
		Scopes:    req.Scopes,
	}
	if err := s.store.CreateAPIKey(r.Context(), rec); err != nil {
		writeError(w, r, apierr.Fatal("create api key", err))
		return
	}
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{APIKey: rec, Key: issued.FullKey})
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())
	keys, err := s.store.ListAPIKeys(r.Context(), a.TenantID)
	if err != nil {
		writeError(w, r, apierr.Fatal("list api keys", err))
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())
	id := mux.Vars(r)["id"]
	if err := s.store.RevokeAPIKey(r.Context(), a.TenantID, id); err != nil {
		writeError(w, r, apierr.Fatal("revoke api key", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
