// Package schedule keeps a robfig/cron scheduler in sync with every active
// pipeline's `on.schedule` entries and fires a planned execution whenever
// one is due. It replaces the teacher's hand-rolled, acknowledged-buggy
// `parseNextCronExecution` with the library already required by go.mod.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/mergeci/controlplane/internal/model"
	"github.com/mergeci/controlplane/internal/planner"
	"github.com/mergeci/controlplane/internal/store"
	"github.com/mergeci/controlplane/pkg/pipeline"
)

var log = logrus.WithField("component", "schedule")

// Scheduler registers one cron entry per `on.schedule` line across every
// active pipeline's current config, and fans each firing into the planner.
type Scheduler struct {
	store   *store.Store
	planner *planner.Planner
	cron    *cron.Cron

	mu      sync.Mutex
	entries map[string]map[string]cron.EntryID // pipelineID -> cron expr -> registered entry
}

// New constructs a Scheduler. The cron parser accepts both the standard
// 5-field form and an optional leading seconds field, matching
// pkg/pipeline's isWellFormedCron acceptance of 5 or 6 fields.
func New(st *store.Store, pl *planner.Planner) *Scheduler {
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	return &Scheduler{
		store:   st,
		planner: pl,
		cron:    cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		entries: make(map[string]map[string]cron.EntryID),
	}
}

// Run starts the underlying cron runner and re-syncs registered entries
// against the store on resyncInterval until ctx is canceled. It resyncs once
// immediately so a freshly-started control plane doesn't wait a full
// interval before its first schedule fires.
func (s *Scheduler) Run(ctx context.Context, resyncInterval time.Duration) {
	s.cron.Start()
	defer func() { <-s.cron.Stop().Done() }()

	if err := s.resync(ctx); err != nil {
		log.WithError(err).Error("initial schedule resync failed")
	}

	ticker := time.NewTicker(resyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.resync(ctx); err != nil {
				log.WithError(err).Error("schedule resync failed")
			}
		}
	}
}

// resync reloads every active pipeline's current config and brings the cron
// runner's registered entries in line with what each config's `on.schedule`
// block actually declares: new entries are added, removed or changed ones
// are dropped, and pipelines that went inactive (or disappeared) lose all of
// their entries.
func (s *Scheduler) resync(ctx context.Context) error {
	pipelines, err := s.store.ListActivePipelines(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(pipelines))
	for _, p := range pipelines {
		seen[p.ID] = true
		s.resyncPipelineLocked(ctx, p)
	}
	for pipelineID := range s.entries {
		if !seen[pipelineID] {
			s.removeEntriesLocked(pipelineID)
		}
	}
	return nil
}

func (s *Scheduler) resyncPipelineLocked(ctx context.Context, p *model.Pipeline) {
	stored, err := s.store.GetLatestValidPipelineConfig(ctx, p.ID)
	if err != nil {
		log.WithError(err).WithField("pipeline_id", p.ID).Warn("load latest pipeline config for schedule resync")
		return
	}
	if stored == nil {
		s.removeEntriesLocked(p.ID)
		return
	}

	cfg, errs := pipeline.Load(stored.YAMLRaw)
	if len(errs) > 0 {
		log.WithField("pipeline_id", p.ID).Warn("pipeline's current config fails to parse, clearing its schedule")
		s.removeEntriesLocked(p.ID)
		return
	}

	desired := make(map[string]bool, len(cfg.On.Schedule))
	for _, entry := range cfg.On.Schedule {
		desired[entry.Cron] = true
	}

	existing := s.entries[p.ID]
	for cronExpr, entryID := range existing {
		if !desired[cronExpr] {
			s.cron.Remove(entryID)
			delete(existing, cronExpr)
		}
	}

	for cronExpr := range desired {
		if _, ok := existing[cronExpr]; ok {
			continue
		}
		pipelineID, tenantID, configID, expr := p.ID, p.TenantID, stored.ID, cronExpr
		entryID, err := s.cron.AddFunc(expr, func() {
			s.fire(context.Background(), pipelineID, tenantID, configID, expr)
		})
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{"pipeline_id": p.ID, "cron": cronExpr}).
				Error("register cron entry")
			continue
		}
		if s.entries[p.ID] == nil {
			s.entries[p.ID] = make(map[string]cron.EntryID)
		}
		s.entries[p.ID][cronExpr] = entryID
	}
}

func (s *Scheduler) removeEntriesLocked(pipelineID string) {
	for _, entryID := range s.entries[pipelineID] {
		s.cron.Remove(entryID)
	}
	delete(s.entries, pipelineID)
}

// fire plans a new schedule-triggered execution against the config version
// that was current when the entry was registered. resync keeps an entry for
// as long as its cron expression is still declared, so a newer accepted
// config that declares the same expression does not re-bind the entry; only
// entries registered for newly declared expressions use the newer config_ref.
func (s *Scheduler) fire(ctx context.Context, pipelineID, tenantID, configID, cronExpr string) {
	stored, err := s.store.GetPipelineConfig(ctx, configID)
	if err != nil {
		log.WithError(err).WithField("pipeline_id", pipelineID).Error("load config for scheduled firing")
		return
	}
	if stored == nil {
		return
	}
	cfg, errs := pipeline.Load(stored.YAMLRaw)
	if len(errs) > 0 {
		log.WithField("pipeline_id", pipelineID).Warn("scheduled config no longer parses, skipping firing")
		return
	}

	exec, err := s.planner.Plan(ctx, planner.Request{
		TenantID:    tenantID,
		PipelineID:  pipelineID,
		ConfigRef:   stored.ID,
		Config:      cfg,
		TriggerType: model.TriggerSchedule,
		TriggerInfo: model.NewValue(map[string]interface{}{"cron": cronExpr, "fired_at": time.Now().UTC().Format(time.RFC3339)}),
		Environment: model.NewValue(nil),
		Inputs:      model.NewValue(nil),
		TriggeredBy: "schedule",
	})
	if err != nil {
		log.WithError(err).WithField("pipeline_id", pipelineID).Error("plan scheduled execution")
		return
	}

	if err := s.store.TouchLastExecution(ctx, pipelineID); err != nil {
		log.WithError(err).WithField("pipeline_id", pipelineID).Warn("touch last execution after scheduled firing")
	}

	log.WithFields(logrus.Fields{
		"pipeline_id":  pipelineID,
		"execution_id": exec.ID,
		"cron":         cronExpr,
	}).Info("scheduled execution planned")
}
