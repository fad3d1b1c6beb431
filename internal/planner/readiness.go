package planner

import (
	"context"
	"fmt"

	"github.com/mergeci/controlplane/internal/condition"
	"github.com/mergeci/controlplane/internal/model"
	"github.com/mergeci/controlplane/pkg/pipeline"
)

// Reevaluate re-scans every pending job of an execution and transitions the
// ones whose dependencies have resolved: to `queued` when all `needs` jobs
// succeeded (or the job's own condition overrides), to `skipped` when any
// dependency failed/was cancelled/timed out and no override applies. Called
// after any job's terminal transition.
func (p *Planner) Reevaluate(ctx context.Context, cfg *pipeline.Config, executionID string) error {
	jobs, err := p.store.ListJobsByExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	byKey := make(map[string][]*model.Job) // job_key -> all matrix instances
	for _, j := range jobs {
		byKey[j.JobKey] = append(byKey[j.JobKey], j)
	}

	for _, job := range jobs {
		if job.Status != model.StatusPending {
			continue
		}
		jobCfg := cfg.Jobs[job.JobKey]
		if jobCfg == nil {
			continue
		}

		allDone := true
		anyBad := false
		needsCtx := map[string]condition.NeedsOutcome{}
		for _, needKey := range jobCfg.Needs {
			instances := byKey[needKey]
			for _, inst := range instances {
				if !inst.Status.Terminal() {
					allDone = false
				}
				if inst.Status == model.StatusFailed || inst.Status == model.StatusCancelled || inst.Status == model.StatusTimeout {
					anyBad = true
				}
				outputs, _ := inst.Outputs.Map()
				needsCtx[needKey] = condition.NeedsOutcome{Status: inst.Status, Outputs: outputs}
			}
		}
		if !allDone {
			continue
		}

		expr := jobCfg.Condition
		if expr == "" {
			expr = condition.DefaultJobCondition
		}
		matrixValues, _ := job.MatrixValues.Map()
		ok := condition.Evaluate(expr, condition.Context{
			Needs:     needsCtx,
			Matrix:    matrixValues,
			Env:       nil,
			OverallOK: !anyBad,
			AnyFailed: anyBad,
		})

		newStatus := model.StatusSkipped
		if ok {
			newStatus = model.StatusQueued
		}
		if err := p.store.UpdateJobStatus(ctx, job.ID, newStatus); err != nil {
			return fmt.Errorf("transition job %s: %w", job.ID, err)
		}
	}
	return nil
}

// HandleJobFailure applies `fail_fast` semantics: when a job belonging to a
// matrix strategy with fail_fast=true fails, every other non-terminal
// (pending, queued or running) sibling instance of the same job key is
// cancelled.
func (p *Planner) HandleJobFailure(ctx context.Context, cfg *pipeline.Config, failedJob *model.Job) error {
	jobCfg := cfg.Jobs[failedJob.JobKey]
	if jobCfg == nil || jobCfg.Strategy == nil || !jobCfg.Strategy.FailFast {
		return nil
	}
	jobs, err := p.store.ListJobsByExecution(ctx, failedJob.ExecutionID)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	for _, sibling := range jobs {
		if sibling.ID == failedJob.ID || sibling.JobKey != failedJob.JobKey {
			continue
		}
		if sibling.Status.Terminal() {
			continue
		}
		if err := p.store.UpdateJobStatus(ctx, sibling.ID, model.StatusCancelled); err != nil {
			return fmt.Errorf("cancel sibling %s: %w", sibling.ID, err)
		}
	}
	return nil
}
