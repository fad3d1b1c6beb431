package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mergeci/controlplane/internal/logbus"
)

var logStreamUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleLogStream upgrades /ws/logs/{execution_id}[/{job_id}] and relays
// logbus Frames to the client as JSON text messages until the connection
// closes. Authentication calls resolveActor directly, the same resolution
// requireAuth uses, and answers 401 itself. The route is mounted outside the
// timeout middleware, since a long-lived connection has no fixed deadline to
// enforce.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	a, err := s.resolveActor(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	executionID := vars["execution_id"]
	jobID := vars["job_id"]

	exec, err := s.store.GetExecution(r.Context(), a.TenantID, executionID)
	if err != nil || exec == nil {
		http.Error(w, "execution not found", http.StatusNotFound)
		return
	}

	conn, err := logStreamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("log stream websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	var frames <-chan logbus.Frame
	if jobID != "" {
		frames, err = s.bus.SubscribeJob(ctx, jobID)
	} else {
		frames, err = s.bus.SubscribeExecution(ctx, executionID)
	}
	if err != nil {
		log.WithError(err).Error("subscribe to log bus")
		return
	}

	for frame := range frames {
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
	}
}
