package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mergeci/controlplane/internal/apierr"
)

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())
	id := mux.Vars(r)["id"]
	exec, err := s.store.GetExecution(r.Context(), a.TenantID, id)
	if err != nil {
		writeError(w, r, apierr.Fatal("get execution", err))
		return
	}
	if exec == nil {
		writeError(w, r, apierr.NotFound("execution", id))
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
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
	jobs, err := s.store.ListJobsByExecution(r.Context(), executionID)
	if err != nil {
		writeError(w, r, apierr.Fatal("list jobs", err))
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())
	id := mux.Vars(r)["id"]
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, r, apierr.Fatal("get job", err))
		return
	}
	if job == nil {
		writeError(w, r, apierr.NotFound("job", id))
		return
	}
	exec, err := s.store.GetExecution(r.Context(), a.TenantID, job.ExecutionID)
	if err != nil {
		writeError(w, r, apierr.Fatal("get owning execution", err))
		return
	}
	if exec == nil {
		writeError(w, r, apierr.NotFound("job", id))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFromContext(r.Context())
	jobID := mux.Vars(r)["id"]
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, r, apierr.Fatal("get job", err))
		return
	}
	if job == nil {
		writeError(w, r, apierr.NotFound("job", jobID))
		return
	}
	exec, err := s.store.GetExecution(r.Context(), a.TenantID, job.ExecutionID)
	if err != nil {
		writeError(w, r, apierr.Fatal("get owning execution", err))
		return
	}
	if exec == nil {
		writeError(w, r, apierr.NotFound("job", jobID))
		return
	}
	steps, err := s.store.ListStepsByJob(r.Context(), jobID)
	if err != nil {
		writeError(w, r, apierr.Fatal("list steps", err))
		return
	}
	writeJSON(w, http.StatusOK, steps)
}
