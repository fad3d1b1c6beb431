package httpapi

import (
	"net/http"

	"github.com/mergeci/controlplane/internal/apierr"
	"github.com/mergeci/controlplane/internal/auth"
	"github.com/mergeci/controlplane/internal/model"
)

type loginRequest struct {
	TenantSlug string `json:"tenant_slug"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Email == "" || req.Password == "" || req.TenantSlug == "" {
		writeError(w, r, apierr.Validation("tenant_slug, email, and password are required"))
		return
	}

	tenant, err := s.store.GetTenantBySlug(r.Context(), req.TenantSlug)
	if err != nil {
		writeError(w, r, apierr.Fatal("look up tenant", err))
		return
	}
	if tenant == nil || !tenant.Active {
		writeError(w, r, apierr.Unauthorized("invalid credentials"))
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), tenant.ID, req.Email)
	if err != nil {
		writeError(w, r, apierr.Fatal("look up user", err))
		return
	}
	if user == nil || !auth.ComparePassword(user.PasswordHash, req.Password) {
		writeError(w, r, apierr.Unauthorized("invalid credentials"))
		return
	}

	s.issueTokens(w, r, user)
}

func (s *Server) issueTokens(w http.ResponseWriter, r *http.Request, user *model.User) {
	access, err := s.issuer.IssueAccessToken(user.ID, user.TenantID)
	if err != nil {
		writeError(w, r, apierr.Fatal("issue access token", err))
		return
	}
	refresh, err := s.issuer.IssueRefreshToken(user.ID, user.TenantID)
	if err != nil {
		writeError(w, r, apierr.Fatal("issue refresh token", err))
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	claims, err := s.issuer.Validate(req.RefreshToken)
	if err != nil || claims.TokenUse != "refresh" {
		writeError(w, r, apierr.Unauthorized("invalid or expired refresh token"))
		return
	}

	user, err := s.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, r, apierr.Fatal("look up user", err))
		return
	}
	if user == nil {
		writeError(w, r, apierr.Unauthorized("user no longer exists"))
		return
	}
	s.issueTokens(w, r, user)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	a, ok := actorFromContext(r.Context())
	if !ok || a.UserID == "" {
		writeError(w, r, apierr.Unauthorized("not authenticated as a user"))
		return
	}
	user, err := s.store.GetUserByID(r.Context(), a.UserID)
	if err != nil {
		writeError(w, r, apierr.Fatal("look up user", err))
		return
	}
	if user == nil {
		writeError(w, r, apierr.NotFound("user", a.UserID))
		return
	}
	writeJSON(w, http.StatusOK, user)
}
