package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mergeci/controlplane/internal/apierr"
)

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())
	executionID := mux.Vars(r)["id"]
	exec, err := s.store.GetExecution(r.Context(), a.TenantID, executionID)
	if err != nil {
		writeError(w, r, apierr.Fatal("get execution", err))
		return
	}
	if exec == nil {
		writeError(w, r, apierr.NotFound("execution", executionID))
		return
	}
	artifacts, err := s.store.ListArtifactsByExecution(r.Context(), executionID)
	if err != nil {
		writeError(w, r, apierr.Fatal("list artifacts", err))
		return
	}
	writeJSON(w, http.StatusOK, artifacts)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())
	id := mux.Vars(r)["id"]
	artifact, err := s.store.GetArtifact(r.Context(), a.TenantID, id)
	if err != nil {
		writeError(w, r, apierr.Fatal("get artifact", err))
		return
	}
	if artifact == nil {
		writeError(w, r, apierr.NotFound("artifact", id))
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

// handleDownloadArtifact streams an artifact's stored bytes back to the
// caller. It reports the original checksum in an X-Checksum-SHA256 response
// header, set before the body is written, rather than an ETag, since the archive on disk is content-addressed by name, not hash.
func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())
	id := mux.Vars(r)["id"]
	artifact, err := s.store.GetArtifact(r.Context(), a.TenantID, id)
	if err != nil {
		writeError(w, r, apierr.Fatal("get artifact", err))
		return
	}
	if artifact == nil {
		writeError(w, r, apierr.NotFound("artifact", id))
		return
	}
	if artifact.Expired(time.Now().UTC()) {
		writeError(w, r, apierr.Gone("artifact has passed its retention window"))
		return
	}

	rc, err := s.artifacts.Open(artifact.StoragePath)
	if err != nil {
		writeError(w, r, apierr.Fatal("open artifact storage", err))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+artifact.Name+`"`)
	w.Header().Set("X-Checksum-SHA256", artifact.ChecksumSHA256)
	if _, err := io.Copy(w, rc); err != nil {
		log.WithError(err).WithField("artifact_id", id).Warn("artifact download interrupted")
	}
}
