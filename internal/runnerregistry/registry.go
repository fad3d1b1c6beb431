// Package runnerregistry keeps an in-memory mirror of runner state,
// authoritative storage stays in Postgres, so that label matching and
// dispatch selection never pay a database round trip on the hot path.
package runnerregistry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mergeci/controlplane/internal/model"
	"github.com/mergeci/controlplane/internal/store"
)

var log = logrus.WithField("component", "runnerregistry")

// DispatchFunc sends a job_assignment frame to a connected runner session.
// It must return an error if the runner's session isn't actually open, so
// Dispatch can roll the assignment back.
type DispatchFunc func(runnerID string, job *model.Job) error

// runnerState mirrors a Runner row plus whether its session is currently
// attached to this process.
type runnerState struct {
	model.Runner
	connected bool
}

// Registry is the in-memory runner mirror plus the dispatch decision logic.
type Registry struct {
	mu       sync.RWMutex
	runners  map[string]*runnerState
	store    *store.Store
	dispatch DispatchFunc
	rescan   chan struct{}
}

// New constructs an empty Registry. Hydrate loads existing runners from
// storage before dispatch begins. dispatch may be nil at construction time
// when the real sender (runnersession.Hub) itself depends on the Registry;
// call SetDispatch once the hub exists.
func New(st *store.Store, dispatch DispatchFunc) *Registry {
	return &Registry{
		runners:  make(map[string]*runnerState),
		store:    st,
		dispatch: dispatch,
		rescan:   make(chan struct{}, 1),
	}
}

// SetDispatch wires the sender after both sides of the Registry/Hub
// constructor cycle exist.
func (r *Registry) SetDispatch(dispatch DispatchFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatch = dispatch
}

// Hydrate loads every runner row for tenantID (or all tenants if empty)
// into the in-memory mirror at startup.
func (r *Registry) Hydrate(ctx context.Context, tenantID string) error {
	runners, err := r.store.ListAvailableRunners(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("hydrate runners: %w", err)
	}
	r.mu.Lock()
	for _, runner := range runners {
		r.runners[runner.ID] = &runnerState{Runner: *runner}
	}
	r.mu.Unlock()
	return nil
}

// Register adds or replaces a runner in the mirror, e.g. after a new
// registration or a reconnect, and pokes a rescan since capacity increased.
func (r *Registry) Register(runner model.Runner) {
	r.mu.Lock()
	r.runners[runner.ID] = &runnerState{Runner: runner}
	r.mu.Unlock()
	r.pokeRescan()
}

// MarkConnected flags a runner's session as attached, set once its
// websocket handshake succeeds.
func (r *Registry) MarkConnected(runnerID string) {
	r.mu.Lock()
	if rs, ok := r.runners[runnerID]; ok {
		rs.connected = true
		rs.Status = model.RunnerOnline
	}
	r.mu.Unlock()
	r.pokeRescan()
}

// MarkDisconnected flags a runner's session as gone; per the protocol,
// session loss is equivalent to an immediate offline mark.
func (r *Registry) MarkDisconnected(runnerID string) {
	r.mu.Lock()
	if rs, ok := r.runners[runnerID]; ok {
		rs.connected = false
		rs.Status = model.RunnerOffline
	}
	r.mu.Unlock()
}

// Heartbeat updates a runner's last-known system info and job count.
func (r *Registry) Heartbeat(runnerID string, currentJobs int, systemInfo model.Value) {
	r.mu.Lock()
	if rs, ok := r.runners[runnerID]; ok {
		rs.LastHeartbeat = time.Now().UTC()
		rs.CurrentJobs = currentJobs
		rs.SystemInfo = systemInfo
		if rs.Status == model.RunnerOffline {
			rs.Status = model.RunnerOnline
			r.pokeRescan()
		}
	}
	r.mu.Unlock()
}

func (r *Registry) pokeRescan() {
	select {
	case r.rescan <- struct{}{}:
	default:
	}
}

// Rescan is signaled whenever runner capacity may have increased: a new
// registration, a reconnect, a heartbeat flipping offline to online, or a
// job completing and freeing a slot.
func (r *Registry) Rescan() <-chan struct{} {
	return r.rescan
}

// assignable reports whether runner can run a job whose runs_on labels are
// required and which belongs to tenantID.
func assignable(rs *runnerState, tenantID string, required []string) bool {
	if rs.Status != model.RunnerOnline || !rs.connected {
		return false
	}
	if rs.CurrentJobs >= rs.MaxConcurrentJobs {
		return false
	}
	if rs.Type != model.RunnerShared {
		if rs.TenantID == nil || *rs.TenantID != tenantID {
			return false
		}
	}
	have := make(map[string]bool, len(rs.Labels))
	for _, l := range rs.Labels {
		have[l] = true
	}
	for _, want := range required {
		if !have[want] {
			return false
		}
	}
	return true
}

// selectRunner picks the assignable runner with the lowest current job
// count, ties broken by the most recent heartbeat.
func (r *Registry) selectRunner(tenantID string, labels []string) *runnerState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *runnerState
	for _, rs := range r.runners {
		if !assignable(rs, tenantID, labels) {
			continue
		}
		if best == nil ||
			rs.CurrentJobs < best.CurrentJobs ||
			(rs.CurrentJobs == best.CurrentJobs && rs.LastHeartbeat.After(best.LastHeartbeat)) {
			best = rs
		}
	}
	return best
}

// Dispatch attempts to assign job to the best available runner. It returns
// ok=false (no error) when no runner currently qualifies — the job stays
// queued for a later rescan. Assignment is atomic with at-most-once
// semantics: the storage-level claim and the in-memory increment only
// happen together, and a failed session send rolls both back.
func (r *Registry) Dispatch(ctx context.Context, tenantID string, job *model.Job) (ok bool, runnerID string, err error) {
	candidate := r.selectRunner(tenantID, job.RunsOn)
	if candidate == nil {
		return false, "", nil
	}
	runnerID = candidate.ID

	claimed, err := r.store.AssignJobToRunner(ctx, job.ID, runnerID)
	if err != nil {
		return false, "", fmt.Errorf("assign job %s to runner %s: %w", job.ID, runnerID, err)
	}
	if !claimed {
		// Another dispatcher already claimed this job; not an error.
		return false, "", nil
	}

	r.mu.Lock()
	if rs, ok := r.runners[runnerID]; ok {
		rs.CurrentJobs++
	}
	r.mu.Unlock()
	if err := r.store.IncrementRunnerJobs(ctx, runnerID, 1); err != nil {
		log.WithError(err).Warn("failed to persist runner job count increment")
	}

	r.mu.RLock()
	dispatch := r.dispatch
	r.mu.RUnlock()

	if err := dispatch(runnerID, job); err != nil {
		log.WithError(err).WithFields(logrus.Fields{"job_id": job.ID, "runner_id": runnerID}).
			Warn("runner session not connected at dispatch, rolling back")
		r.rollback(ctx, job.ID, runnerID)
		return false, "", nil
	}
	return true, runnerID, nil
}

func (r *Registry) rollback(ctx context.Context, jobID, runnerID string) {
	if err := r.store.ReleaseJobAssignment(ctx, jobID); err != nil {
		log.WithError(err).Error("failed to release job assignment during rollback")
	}
	r.mu.Lock()
	if rs, ok := r.runners[runnerID]; ok && rs.CurrentJobs > 0 {
		rs.CurrentJobs--
	}
	r.mu.Unlock()
	if err := r.store.IncrementRunnerJobs(ctx, runnerID, -1); err != nil {
		log.WithError(err).Warn("failed to persist runner job count decrement during rollback")
	}
}

// Release decrements a runner's job count when a job completes, then pokes
// a rescan since a slot just freed up.
func (r *Registry) Release(ctx context.Context, runnerID string) {
	r.mu.Lock()
	if rs, ok := r.runners[runnerID]; ok && rs.CurrentJobs > 0 {
		rs.CurrentJobs--
	}
	r.mu.Unlock()
	if err := r.store.IncrementRunnerJobs(ctx, runnerID, -1); err != nil {
		log.WithError(err).Warn("failed to persist runner job count decrement")
	}
	r.pokeRescan()
}

// SweepOffline marks runners whose heartbeat is older than thresholdSeconds
// offline, both in storage and in the mirror, and requeues their in-flight
// jobs so they can be re-dispatched elsewhere.
func (r *Registry) SweepOffline(ctx context.Context, thresholdSeconds int) error {
	offlineIDs, err := r.store.MarkOfflineRunners(ctx, thresholdSeconds)
	if err != nil {
		return fmt.Errorf("mark offline runners: %w", err)
	}
	for _, id := range offlineIDs {
		r.MarkDisconnected(id)
		jobIDs, err := r.store.ReleaseJobsForRunner(ctx, id)
		if err != nil {
			log.WithError(err).WithField("runner_id", id).Error("failed to release jobs for offline runner")
			continue
		}
		if len(jobIDs) > 0 {
			log.WithFields(logrus.Fields{"runner_id": id, "jobs": jobIDs}).Warn("runner went offline, requeued in-flight jobs")
			r.pokeRescan()
		}
	}
	return nil
}

// RunHeartbeatSweep runs SweepOffline on a ticker until ctx is cancelled,
// mirroring the teacher's ticker-driven background-worker shape.
func (r *Registry) RunHeartbeatSweep(ctx context.Context, interval time.Duration, thresholdSeconds int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.SweepOffline(ctx, thresholdSeconds); err != nil {
				log.WithError(err).Error("heartbeat sweep failed")
			}
		}
	}
}
