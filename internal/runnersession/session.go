// Package runnersession implements the persistent, authenticated WebSocket
// channel a runner process uses to receive job assignments and report
// status, logs, and artifacts back to the control plane.
package runnersession

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mergeci/controlplane/internal/auth"
	"github.com/mergeci/controlplane/internal/logbus"
	"github.com/mergeci/controlplane/internal/model"
	"github.com/mergeci/controlplane/internal/planner"
	"github.com/mergeci/controlplane/internal/runnerregistry"
	"github.com/mergeci/controlplane/internal/secretbox"
	"github.com/mergeci/controlplane/internal/store"
)

var log = logrus.WithField("component", "runnersession")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// frame is the envelope every message in either direction carries.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Session is one live runner connection.
type Session struct {
	runnerID string
	tenantID string
	conn     *websocket.Conn
	writeMu  sync.Mutex

	store    *store.Store
	registry *runnerregistry.Registry
	planner  *planner.Planner
	bus      *logbus.Bus
}

// Hub owns the set of live sessions and performs the handshake.
type Hub struct {
	store    *store.Store
	registry *runnerregistry.Registry
	planner  *planner.Planner
	secrets  *secretbox.Box
	bus      *logbus.Bus

	mu       sync.RWMutex
	sessions map[string]*Session // runner_id -> session
}

// NewHub constructs a Hub. The registry's DispatchFunc should be set to
// Hub.Send so runnerregistry.Dispatch can push job_assignment frames.
func NewHub(st *store.Store, registry *runnerregistry.Registry, pl *planner.Planner, secrets *secretbox.Box, bus *logbus.Bus) *Hub {
	return &Hub{
		store:    st,
		registry: registry,
		planner:  pl,
		secrets:  secrets,
		bus:      bus,
		sessions: make(map[string]*Session),
	}
}

// HandleConnect upgrades /runner/{runner_id}?token=... after verifying the
// bearer token against the runner's stored token_hash.
func (h *Hub) HandleConnect(w http.ResponseWriter, r *http.Request) {
	runnerID := mux.Vars(r)["runner_id"]
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	runner, err := h.store.GetRunnerByTokenHash(r.Context(), auth.HashToken(token))
	if err != nil {
		log.WithError(err).Error("lookup runner by token hash")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if runner == nil || runner.ID != runnerID || !hmac.Equal([]byte(runner.TokenHash), []byte(auth.HashToken(token))) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	tenantID := ""
	if runner.TenantID != nil {
		tenantID = *runner.TenantID
	}
	sess := &Session{
		runnerID: runnerID,
		tenantID: tenantID,
		conn:     conn,
		store:    h.store,
		registry: h.registry,
		planner:  h.planner,
		bus:      h.bus,
	}

	h.mu.Lock()
	h.sessions[runnerID] = sess
	h.mu.Unlock()

	h.registry.MarkConnected(runnerID)
	if err := h.store.Heartbeat(r.Context(), runnerID); err != nil {
		log.WithError(err).Warn("failed to stamp initial heartbeat")
	}
	sess.send("connected", map[string]string{"runner_id": runnerID})

	log.WithField("runner_id", runnerID).Info("runner session connected")
	sess.readLoop(h)
	h.forget(runnerID)
}

// Send pushes a job_assignment frame to runnerID's live session. It
// satisfies runnerregistry.DispatchFunc: an error here (no live session, or
// the assignment couldn't be built) tells the registry to roll the
// assignment back.
func (h *Hub) Send(runnerID string, job *model.Job) error {
	h.mu.RLock()
	sess, ok := h.sessions[runnerID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no live session for runner %s", runnerID)
	}

	payload, err := h.jobAssignmentPayload(context.Background(), job)
	if err != nil {
		return fmt.Errorf("build job assignment for %s: %w", job.ID, err)
	}
	return sess.send("job_assignment", payload)
}

// SendCancel pushes a job_cancel frame to a runner, best-effort.
func (h *Hub) SendCancel(runnerID, jobID string) {
	h.mu.RLock()
	sess, ok := h.sessions[runnerID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := sess.send("job_cancel", map[string]string{"job_id": jobID}); err != nil {
		log.WithError(err).WithField("runner_id", runnerID).Warn("failed to send job_cancel")
	}
}

func (h *Hub) forget(runnerID string) {
	h.mu.Lock()
	delete(h.sessions, runnerID)
	h.mu.Unlock()
	h.registry.MarkDisconnected(runnerID)
}

// jobAssignmentPayload builds the job_assignment{job:{id, steps, env,
// container, secrets_materialized}} body: it loads the job's steps, resolves
// the execution's pipeline so it can look up the secrets visible to it, and
// decrypts each one under the execution's tenant key. Secret values never
// touch storage logs — only this in-memory payload and the runner's process
// environment see the plaintext.
func (h *Hub) jobAssignmentPayload(ctx context.Context, job *model.Job) (map[string]interface{}, error) {
	steps, err := h.store.ListStepsByJob(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	stepPayloads := make([]map[string]interface{}, 0, len(steps))
	for _, st := range steps {
		stepPayloads = append(stepPayloads, map[string]interface{}{
			"id":                st.ID,
			"order":             st.Order,
			"type":              st.Type,
			"run":               st.RunCommand,
			"uses":              st.UsesAction,
			"with":              st.With.Raw(),
			"shell":             st.Shell,
			"working_directory": st.WorkingDirectory,
			"env":               st.Env.Raw(),
			"condition":         st.Condition,
			"continue_on_error": st.ContinueOnError,
			"timeout_minutes":   st.TimeoutMinutes,
		})
	}

	secretsMaterialized, err := h.materializeSecrets(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("materialize secrets: %w", err)
	}

	return map[string]interface{}{
		"job": map[string]interface{}{
			"id":                   job.ID,
			"container":            job.Container,
			"services":             job.Services.Raw(),
			"env":                  job.Environment.Raw(),
			"matrix":               job.MatrixValues.Raw(),
			"timeout_minutes":      job.TimeoutMinutes,
			"steps":                stepPayloads,
			"secrets_materialized": secretsMaterialized,
		},
	}, nil
}

// materializeSecrets resolves the execution behind job, looks up every
// secret visible to its pipeline, and decrypts each under the execution's
// tenant. A job whose execution no longer exists gets an empty secret set;
// a storage error while loading the execution or its secrets is returned,
// and a secret that fails to decrypt is logged and left out.
func (h *Hub) materializeSecrets(ctx context.Context, job *model.Job) (map[string]string, error) {
	exec, err := h.store.GetExecutionByID(ctx, job.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", job.ExecutionID, err)
	}
	if exec == nil {
		return map[string]string{}, nil
	}

	secrets, err := h.store.ListSecretsForPipeline(ctx, exec.TenantID, exec.PipelineID)
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}

	materialized := make(map[string]string, len(secrets))
	for _, sec := range secrets {
		plaintext, err := h.secrets.Decrypt(exec.TenantID, sec.Ciphertext)
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{"secret_id": sec.ID, "tenant_id": exec.TenantID}).
				Error("failed to decrypt secret for job dispatch, omitting it")
			continue
		}
		materialized[sec.Name] = string(plaintext)
	}
	return materialized, nil
}

func (s *Session) send(msgType string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(frame{Type: msgType, Data: payload})
}

// readLoop pumps inbound frames until the connection closes or a read
// fails, routing each by its type. A single malformed frame gets an error
// reply but the session stays open; the runner's own protocol bugs
// shouldn't tear down a session mid-job.
func (s *Session) readLoop(h *Hub) {
	defer s.conn.Close()

	s.conn.SetReadLimit(1 << 20)
	_ = s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			if isMalformedFrameError(err) {
				log.WithError(err).WithField("runner_id", s.runnerID).Warn("malformed frame from runner")
				if sendErr := s.send("error", map[string]string{"message": "malformed frame: " + err.Error()}); sendErr != nil {
					return
				}
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).WithField("runner_id", s.runnerID).Warn("runner session closed unexpectedly")
			}
			return
		}

		if err := s.handleFrame(h, f); err != nil {
			log.WithError(err).WithFields(logrus.Fields{"runner_id": s.runnerID, "type": f.Type}).
				Warn("failed to handle runner frame")
			_ = s.send("error", map[string]string{"message": err.Error()})
		}
	}
}

// isMalformedFrameError reports whether err came from the JSON decode step
// of ReadJSON rather than the underlying websocket read: a bad envelope
// shouldn't tear down the session, but a broken connection should.
func isMalformedFrameError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var unsupportedErr *json.UnsupportedTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.As(err, &unsupportedErr)
}

func (s *Session) handleFrame(h *Hub, f frame) error {
	ctx := context.Background()

	switch f.Type {
	case "heartbeat":
		var hb struct {
			CurrentJobs int         `json:"current_jobs"`
			SystemInfo  interface{} `json:"system_info"`
		}
		if err := json.Unmarshal(f.Data, &hb); err != nil {
			return fmt.Errorf("decode heartbeat: %w", err)
		}
		s.registry.Heartbeat(s.runnerID, hb.CurrentJobs, model.NewValue(hb.SystemInfo))
		return s.store.Heartbeat(ctx, s.runnerID)

	case "log":
		var entry struct {
			ExecutionID string `json:"execution_id"`
			JobID       string `json:"job_id"`
			StepID      string `json:"step_id"`
			Content     string `json:"content"`
			Level       string `json:"level"`
		}
		if err := json.Unmarshal(f.Data, &entry); err != nil {
			return fmt.Errorf("decode log: %w", err)
		}
		chunk := model.LogChunk{
			StepID:    entry.StepID,
			Content:   entry.Content,
			Level:     model.LogLevel(entry.Level),
			Timestamp: time.Now().UTC(),
		}
		next, err := s.store.LastChunkNumber(ctx, entry.StepID)
		if err != nil {
			return fmt.Errorf("load chunk number: %w", err)
		}
		chunk.ChunkNumber = next + 1
		return s.bus.PublishLog(ctx, entry.ExecutionID, entry.JobID, chunk)

	case "status_update":
		var upd struct {
			ExecutionID string          `json:"execution_id"`
			JobID       string          `json:"job_id"`
			StepID      string          `json:"step_id,omitempty"`
			EntityType  string          `json:"entity_type"` // "job" or "step"
			Status      model.Status    `json:"status"`
			ExitCode    *int            `json:"exit_code,omitempty"`
			Outputs     json.RawMessage `json:"outputs,omitempty"`
		}
		if err := json.Unmarshal(f.Data, &upd); err != nil {
			return fmt.Errorf("decode status_update: %w", err)
		}
		return s.applyStatusUpdate(ctx, upd.ExecutionID, upd.JobID, upd.StepID, upd.EntityType, upd.Status, upd.ExitCode, upd.Outputs)

	case "job_complete":
		var jc struct {
			ExecutionID string          `json:"execution_id"`
			JobID       string          `json:"job_id"`
			Status      model.Status    `json:"status"`
			Outputs     json.RawMessage `json:"outputs,omitempty"`
		}
		if err := json.Unmarshal(f.Data, &jc); err != nil {
			return fmt.Errorf("decode job_complete: %w", err)
		}
		if err := s.store.UpdateJobStatus(ctx, jc.JobID, jc.Status); err != nil {
			return fmt.Errorf("update job status: %w", err)
		}
		var outputs model.Value
		if len(jc.Outputs) > 0 {
			if err := json.Unmarshal(jc.Outputs, &outputs); err != nil {
				return fmt.Errorf("decode job_complete outputs: %w", err)
			}
			if !outputs.IsNull() {
				if err := s.store.SetJobOutputs(ctx, jc.JobID, outputs); err != nil {
					return fmt.Errorf("set job outputs: %w", err)
				}
			}
		}
		s.registry.Release(ctx, s.runnerID)
		s.bus.PublishStatus(ctx, jc.ExecutionID, jc.JobID, jc.JobID, jc.Status, outputs.Raw())

		if jc.Status.Terminal() && s.planner != nil {
			job, err := s.store.GetJob(ctx, jc.JobID)
			if err != nil {
				return fmt.Errorf("reload job %s: %w", jc.JobID, err)
			}
			if job != nil {
				if err := s.planner.OnJobTerminal(ctx, jc.ExecutionID, job); err != nil {
					return fmt.Errorf("planner follow-up for job %s: %w", jc.JobID, err)
				}
			}
		}
		return nil

	case "artifact_ready":
		var ar struct {
			ArtifactID string `json:"artifact_id"`
		}
		if err := json.Unmarshal(f.Data, &ar); err != nil {
			return fmt.Errorf("decode artifact_ready: %w", err)
		}
		log.WithFields(logrus.Fields{"runner_id": s.runnerID, "artifact_id": ar.ArtifactID}).Info("artifact ready")
		return nil

	default:
		return fmt.Errorf("unknown frame type %q", f.Type)
	}
}

// applyStatusUpdate persists a job or step transition, fans the change out
// over the log bus, and — for job transitions — asks the planner to
// re-evaluate downstream readiness and fail-fast siblings.
func (s *Session) applyStatusUpdate(ctx context.Context, executionID, jobID, stepID, entityType string, status model.Status, exitCode *int, rawOutputs json.RawMessage) error {
	var outputs model.Value
	if len(rawOutputs) > 0 {
		if err := json.Unmarshal(rawOutputs, &outputs); err != nil {
			return fmt.Errorf("decode outputs: %w", err)
		}
	}

	switch entityType {
	case "step":
		if err := s.store.UpdateStepStatus(ctx, stepID, status, exitCode); err != nil {
			return fmt.Errorf("update step status: %w", err)
		}
		if !outputs.IsNull() {
			if err := s.store.SetStepOutputs(ctx, stepID, outputs); err != nil {
				return fmt.Errorf("set step outputs: %w", err)
			}
		}
		s.bus.PublishStatus(ctx, executionID, jobID, stepID, status, outputs.Raw())
		return nil

	case "job":
		if err := s.store.UpdateJobStatus(ctx, jobID, status); err != nil {
			return fmt.Errorf("update job status: %w", err)
		}
		if !outputs.IsNull() {
			if err := s.store.SetJobOutputs(ctx, jobID, outputs); err != nil {
				return fmt.Errorf("set job outputs: %w", err)
			}
		}
		s.bus.PublishStatus(ctx, executionID, jobID, jobID, status, outputs.Raw())

		if status.Terminal() && s.planner != nil {
			job, err := s.store.GetJob(ctx, jobID)
			if err != nil {
				return fmt.Errorf("reload job %s: %w", jobID, err)
			}
			if job != nil {
				if err := s.planner.OnJobTerminal(ctx, executionID, job); err != nil {
					return fmt.Errorf("planner follow-up for job %s: %w", jobID, err)
				}
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown status_update entity_type %q", entityType)
	}
}
