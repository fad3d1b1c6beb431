package httpapi

import (
	"io"
	"net/http"

	"github.com/mergeci/controlplane/internal/apierr"
	"github.com/mergeci/controlplane/internal/model"
	"github.com/mergeci/controlplane/internal/planner"
	"github.com/mergeci/controlplane/pkg/pipeline"
	"github.com/mergeci/controlplane/pkg/signature"
	"github.com/mergeci/controlplane/pkg/trigger"
	"github.com/mergeci/controlplane/pkg/webhookevent"
)

// handleGitHubWebhook is the single ingress for GitHub-style webhook
// deliveries. It resolves the delivering pipeline by matching the event's
// repository against every pipeline bound to that repo URL, takes the first
// of them whose secret verifies the signature, checks the `on:` trigger
// conditions in that pipeline's latest valid config, and plans at most one
// execution for it; other pipelines bound to the same repo are not
// evaluated for this delivery.
func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeError(w, r, apierr.Validation("could not read request body"))
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "ping" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	}

	parsed, err := webhookevent.ParseGitHubEvent(eventType, body)
	if err != nil {
		writeError(w, r, apierr.Validation("could not parse webhook payload: "+err.Error()))
		return
	}

	var repoURL string
	switch ev := parsed.(type) {
	case *webhookevent.PushEvent:
		repoURL = ev.Repository.CloneURL
	case *webhookevent.PullRequestEvent:
		repoURL = ev.Repository.CloneURL
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "event_type": eventType})
		return
	}

	candidates, err := s.store.GetPipelineByRepoURL(r.Context(), repoURL)
	if err != nil {
		writeError(w, r, apierr.Fatal("look up pipelines for repo", err))
		return
	}
	if len(candidates) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "no pipeline bound to this repository"})
		return
	}

	sigCandidates := make([]signature.Pipeline, len(candidates))
	byID := make(map[string]*model.Pipeline, len(candidates))
	for i, p := range candidates {
		sigCandidates[i] = signature.Pipeline{ID: p.ID, Secret: p.WebhookSecret}
		byID[p.ID] = p
	}
	pipelineID, ok := signature.VerifyAny(body, r.Header.Get("X-Hub-Signature-256"), sigCandidates)
	if !ok {
		writeError(w, r, apierr.Unauthorized("webhook signature verification failed"))
		return
	}

	matched := byID[pipelineID]
	storedCfg, err := s.store.GetLatestValidPipelineConfig(r.Context(), matched.ID)
	if err != nil {
		writeError(w, r, apierr.Fatal("load pipeline config", err))
		return
	}
	if storedCfg == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pipeline has no valid config"})
		return
	}
	cfg, errs := pipeline.Load(storedCfg.YAMLRaw)
	if len(errs) > 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pipeline config currently invalid"})
		return
	}

	var triggerType model.TriggerType
	var triggerInfo map[string]interface{}
	matches := false

	switch ev := parsed.(type) {
	case *webhookevent.PushEvent:
		matches = trigger.MatchesPush(cfg.On, ev)
		triggerType = model.TriggerPush
		triggerInfo = map[string]interface{}{
			"ref": ev.Ref, "before": ev.Before, "after": ev.After,
			"branch": ev.Branch, "sender": ev.Sender.Login,
		}
	case *webhookevent.PullRequestEvent:
		matches = trigger.MatchesPullRequest(cfg.On, ev)
		triggerType = model.TriggerPullRequest
		triggerInfo = map[string]interface{}{
			"action": ev.Action, "number": ev.Number, "head_sha": ev.HeadSHA,
			"head_branch": ev.HeadBranch, "base_branch": ev.BaseBranch, "sender": ev.Sender.Login,
		}
	}

	if !matches {
		writeJSON(w, http.StatusOK, map[string]string{"status": "no trigger matched"})
		return
	}

	exec, err := s.planner.Plan(r.Context(), planner.Request{
		TenantID:    matched.TenantID,
		PipelineID:  matched.ID,
		ConfigRef:   storedCfg.ID,
		Config:      cfg,
		TriggerType: triggerType,
		TriggerInfo: model.NewValue(triggerInfo),
		Environment: model.NewValue(cfg.Env),
		TriggeredBy: "webhook",
	})
	if err != nil {
		writeError(w, r, apierr.Fatal("plan execution", err))
		return
	}
	if err := s.store.TouchLastExecution(r.Context(), matched.ID); err != nil {
		log.WithError(err).Warn("failed to stamp pipeline last-execution time")
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"executions_triggered": 1,
		"execution_ids":        []string{exec.ID},
	})
}
