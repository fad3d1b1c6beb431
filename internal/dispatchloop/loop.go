// Package dispatchloop drains the execution planner's outbox and turns
// newly-ready jobs into dispatch attempts against the runner registry. It
// is the consumer half of the outbox pattern: the planner's transaction
// writes a work_items row atomically with the Execution/Job rows it
// describes; this loop is free to poll and fall behind, since unclaimed rows
// simply wait in the table. ClaimWorkItems marks the rows it returns as
// claimed, and the loop deletes a row only once its work has been processed;
// a row whose processing fails stays claimed and is not claimed again.
package dispatchloop

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/mergeci/controlplane/internal/model"
	"github.com/mergeci/controlplane/internal/planner"
	"github.com/mergeci/controlplane/internal/runnerregistry"
	"github.com/mergeci/controlplane/internal/store"
	"github.com/mergeci/controlplane/pkg/pipeline"
)

var log = logrus.WithField("component", "dispatchloop")

const defaultBatchSize = 50

// rescanRate bounds how often a registry rescan signal triggers a real
// ListQueuedJobsForDispatch scan: Register/MarkConnected/heartbeat-recovery
// can all fire in quick bursts (a whole runner fleet reconnecting at once),
// and without a limit each one would drive its own full table scan. A
// dropped signal isn't lost work — the next regular ticker drain, or the
// next rescan that the bucket admits, picks up whatever it missed.
const rescanRate = 2 // per second
const rescanBurst = 1

// Loop is the outbox-polling worker.
type Loop struct {
	store         *store.Store
	planner       *planner.Planner
	registry      *runnerregistry.Registry
	batchSize     int
	rescanLimiter *rate.Limiter
}

// New constructs a Loop. Call Run in its own goroutine.
func New(st *store.Store, pl *planner.Planner, reg *runnerregistry.Registry) *Loop {
	return &Loop{
		store:         st,
		planner:       pl,
		registry:      reg,
		batchSize:     defaultBatchSize,
		rescanLimiter: rate.NewLimiter(rate.Limit(rescanRate), rescanBurst),
	}
}

// Run polls work_items on interval, mirroring the teacher's ticker-driven
// background-worker shape, and additionally drains immediately whenever the
// registry signals new capacity (a runner reconnected, freed a slot, or
// came back online) so a freed runner doesn't sit idle until the next tick.
// The rescan path is rate-limited since it can fire far more often than the
// ticker.
func (l *Loop) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.drainWorkItems(ctx)
		case <-l.registry.Rescan():
			if l.rescanLimiter.Allow() {
				l.dispatchAlreadyQueued(ctx)
			}
		}
	}
}

func (l *Loop) drainWorkItems(ctx context.Context) {
	items, err := l.store.ClaimWorkItems(ctx, l.batchSize)
	if err != nil {
		log.WithError(err).Error("claim work items")
		return
	}
	for _, item := range items {
		if err := l.processItem(ctx, item); err != nil {
			log.WithError(err).WithFields(logrus.Fields{"kind": item.Kind, "ref_id": item.RefID}).
				Warn("failed to process work item, leaving it claimed for inspection")
			continue
		}
		if err := l.store.DeleteWorkItem(ctx, item.ID); err != nil {
			log.WithError(err).Warn("failed to delete processed work item")
		}
	}
}

func (l *Loop) processItem(ctx context.Context, item store.WorkItem) error {
	switch item.Kind {
	case store.WorkItemExecutionStart:
		return l.settleExecution(ctx, item.RefID)
	case store.WorkItemJobReady:
		job, err := l.store.GetJob(ctx, item.RefID)
		if err != nil {
			return fmt.Errorf("load job %s: %w", item.RefID, err)
		}
		if job == nil {
			return nil
		}
		return l.settleExecution(ctx, job.ExecutionID)
	default:
		return fmt.Errorf("unknown work item kind %q", item.Kind)
	}
}

// settleExecution reloads an execution's frozen config, re-evaluates every
// pending job's readiness against current sibling state, then dispatches
// whatever is now queued.
func (l *Loop) settleExecution(ctx context.Context, executionID string) error {
	exec, err := l.store.GetExecutionByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load execution %s: %w", executionID, err)
	}
	if exec == nil {
		return nil
	}

	stored, err := l.store.GetPipelineConfig(ctx, exec.ConfigRef)
	if err != nil {
		return fmt.Errorf("load pipeline config %s: %w", exec.ConfigRef, err)
	}
	if stored == nil {
		return fmt.Errorf("pipeline config %s not found", exec.ConfigRef)
	}
	cfg, errs := pipeline.Load(stored.YAMLRaw)
	if len(errs) > 0 {
		return fmt.Errorf("reparse frozen config %s: %v", exec.ConfigRef, errs[0])
	}

	if err := l.planner.Reevaluate(ctx, cfg, executionID); err != nil {
		return fmt.Errorf("reevaluate readiness: %w", err)
	}

	jobs, err := l.store.ListJobsByExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	for _, job := range jobs {
		if job.Status != model.StatusQueued {
			continue
		}
		l.dispatchJob(ctx, exec.TenantID, job)
	}
	return nil
}

// dispatchAlreadyQueued re-attempts dispatch for every already-queued job
// across all tenants, used on a registry rescan signal rather than waiting
// for the next work_items poll.
func (l *Loop) dispatchAlreadyQueued(ctx context.Context) {
	jobs, err := l.store.ListQueuedJobsForDispatch(ctx, l.batchSize)
	if err != nil {
		log.WithError(err).Error("list queued jobs for rescan dispatch")
		return
	}
	for _, job := range jobs {
		exec, err := l.store.GetExecutionByID(ctx, job.ExecutionID)
		if err != nil {
			log.WithError(err).WithField("job_id", job.ID).Error("load execution for rescan dispatch")
			continue
		}
		if exec == nil {
			continue
		}
		l.dispatchJob(ctx, exec.TenantID, job)
	}
}

func (l *Loop) dispatchJob(ctx context.Context, tenantID string, job *model.Job) {
	ok, runnerID, err := l.registry.Dispatch(ctx, tenantID, job)
	if err != nil {
		log.WithError(err).WithField("job_id", job.ID).Error("dispatch attempt failed")
		return
	}
	if ok {
		log.WithFields(logrus.Fields{"job_id": job.ID, "runner_id": runnerID}).Info("job dispatched")
	}
}
