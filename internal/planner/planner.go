// Package planner turns a matched trigger into a frozen, persisted
// Execution: it numbers the execution, expands its jobs and matrices,
// enforces concurrency-group admission, and hands the result off to the
// dispatch loop via an outbox row — all inside one database transaction.
package planner

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mergeci/controlplane/internal/model"
	"github.com/mergeci/controlplane/internal/store"
	"github.com/mergeci/controlplane/pkg/matrix"
	"github.com/mergeci/controlplane/pkg/pipeline"
)

var log = logrus.WithField("component", "planner")

// Planner persists the execution/job/step fan-out for a matched trigger.
type Planner struct {
	store *store.Store
}

// New constructs a Planner backed by st.
func New(st *store.Store) *Planner {
	return &Planner{store: st}
}

// Request is everything the planner needs to fan out one execution.
type Request struct {
	TenantID    string
	PipelineID  string
	ConfigRef   string // pipeline_configs.id this execution is frozen against
	Config      *pipeline.Config
	TriggerType model.TriggerType
	TriggerInfo model.Value
	Environment model.Value
	Inputs      model.Value
	TriggeredBy string
}

// Plan numbers, persists, and fans out a new execution within a single
// transaction, returning the created Execution. Job instances are created
// either `queued` (ready to dispatch immediately) or `pending` (held back
// by a `needs` dependency or a concurrency-group conflict).
func (p *Planner) Plan(ctx context.Context, req Request) (*model.Execution, error) {
	tx, err := p.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin plan transaction: %w", err)
	}
	defer tx.Rollback()

	number, err := p.store.NextExecutionNumber(ctx, tx, req.PipelineID)
	if err != nil {
		return nil, fmt.Errorf("allocate execution number: %w", err)
	}

	group, cancelInProgress := "", false
	if req.Config.Concurrency != nil {
		group = req.Config.Concurrency.Group
		cancelInProgress = req.Config.Concurrency.CancelInProgress
	}

	admit := true
	if group != "" {
		olds, err := p.store.ListRunningByConcurrencyGroupTx(ctx, tx, req.PipelineID, group)
		if err != nil {
			return nil, fmt.Errorf("list concurrency group: %w", err)
		}
		if len(olds) > 0 {
			if cancelInProgress {
				for _, old := range olds {
					if err := p.store.CancelExecutionTx(ctx, tx, old.ID); err != nil {
						return nil, fmt.Errorf("cancel superseded execution %s: %w", old.ID, err)
					}
					if err := p.store.CancelNonTerminalJobsTx(ctx, tx, old.ID); err != nil {
						return nil, fmt.Errorf("cancel superseded jobs for %s: %w", old.ID, err)
					}
				}
			} else {
				admit = false
			}
		}
	}

	exec := &model.Execution{
		ID:               uuid.NewString(),
		TenantID:         req.TenantID,
		PipelineID:       req.PipelineID,
		ConfigRef:        req.ConfigRef,
		Number:           number,
		TriggerType:      req.TriggerType,
		TriggerInfo:      req.TriggerInfo,
		Status:           model.StatusPending,
		QueuedAt:         time.Now().UTC(),
		Environment:      req.Environment,
		Inputs:           req.Inputs,
		ConcurrencyGroup: group,
		CancelInProgress: cancelInProgress,
		TriggeredBy:      req.TriggeredBy,
	}
	if err := p.store.CreateExecution(ctx, tx, exec); err != nil {
		return nil, err
	}

	if err := p.expandJobs(ctx, tx, exec, req.Config, admit); err != nil {
		return nil, fmt.Errorf("expand jobs: %w", err)
	}

	if err := p.store.EnqueueWorkItem(ctx, tx, store.WorkItemExecutionStart, exec.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit plan: %w", err)
	}

	log.WithFields(logrus.Fields{
		"execution_id": exec.ID,
		"pipeline_id":  req.PipelineID,
		"number":       number,
		"admitted":     admit,
	}).Info("execution planned")

	return exec, nil
}

// expandJobs runs the matrix expander over every configured job and
// persists one Job (plus its Steps) per combination, in job declaration
// order. A job with an unsatisfied `needs` list, or whose execution was
// not admitted by the concurrency gate, starts `pending` rather than
// `queued` — it becomes dispatchable once readiness.Reevaluate runs.
func (p *Planner) expandJobs(ctx context.Context, tx *sql.Tx, exec *model.Execution, cfg *pipeline.Config, admit bool) error {
	for _, key := range cfg.JobOrder {
		jobCfg := cfg.Jobs[key]
		var combos []matrix.Combination
		if jobCfg.Strategy != nil {
			combos = matrix.Expand(jobCfg.Strategy.Matrix)
		} else {
			combos = []matrix.Combination{{}}
		}

		for _, combo := range combos {
			status := model.StatusQueued
			if len(jobCfg.Needs) > 0 || !admit {
				status = model.StatusPending
			}

			runsOn := make([]string, len(jobCfg.RunsOn))
			copy(runsOn, jobCfg.RunsOn)

			job := &model.Job{
				ID:             uuid.NewString(),
				ExecutionID:    exec.ID,
				Name:           combo.DisplayName(jobCfg.Name),
				JobKey:         jobCfg.Key,
				Needs:          jobCfg.Needs,
				Condition:      jobCfg.Condition,
				MatrixValues:   model.NewValue(combo.Values),
				RunsOn:         runsOn,
				Container:      jobCfg.Container,
				Services:       model.NewValue(jobCfg.Services),
				Status:         status,
				TimeoutMinutes: jobCfg.TimeoutMinutes,
				Environment:    model.NewValue(envMapToInterface(jobCfg.Env)),
				QueuedAt:       time.Now().UTC(),
			}
			if err := p.store.CreateJob(ctx, tx, job); err != nil {
				return err
			}

			for i, stepCfg := range jobCfg.Steps {
				stepType := model.StepRun
				if stepCfg.StepType() == "uses" {
					stepType = model.StepUses
				}
				step := &model.Step{
					ID:               uuid.NewString(),
					JobID:            job.ID,
					Name:             stepCfg.Name,
					Order:            i,
					Type:             stepType,
					RunCommand:       stepCfg.Run,
					UsesAction:       stepCfg.Uses,
					With:             model.NewValue(stepCfg.With),
					Shell:            stepCfg.Shell,
					WorkingDirectory: stepCfg.WorkingDirectory,
					Env:              model.NewValue(envMapToInterface(stepCfg.Env)),
					Condition:        stepCfg.Condition,
					ContinueOnError:  stepCfg.ContinueOnError,
					TimeoutMinutes:   stepCfg.TimeoutMinutes,
					Status:           model.StatusPending,
				}
				if err := p.store.CreateStep(ctx, tx, step); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// OnJobTerminal is the follow-up a runner session's status_update handler
// calls once a job reaches a terminal status: it reloads the execution's
// frozen config, applies fail_fast cancellation for a failed job's
// siblings, then re-evaluates every pending job's readiness so newly
// satisfied `needs` dependents become queued.
func (p *Planner) OnJobTerminal(ctx context.Context, executionID string, job *model.Job) error {
	exec, err := p.store.GetExecutionByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load execution %s: %w", executionID, err)
	}
	if exec == nil {
		return fmt.Errorf("execution %s not found", executionID)
	}

	stored, err := p.store.GetPipelineConfig(ctx, exec.ConfigRef)
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

	if job.Status == model.StatusFailed {
		if err := p.HandleJobFailure(ctx, cfg, job); err != nil {
			return fmt.Errorf("handle job failure: %w", err)
		}
	}
	return p.Reevaluate(ctx, cfg, executionID)
}

func envMapToInterface(m map[string]string) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
