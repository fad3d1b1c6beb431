// Package trigger decides whether a parsed webhook event should produce an
// execution of a pipeline, given its normalized trigger configuration.
package trigger

import (
	"github.com/mergeci/controlplane/pkg/matcher"
	"github.com/mergeci/controlplane/pkg/pipeline"
	"github.com/mergeci/controlplane/pkg/webhookevent"
)

// MatchesPush implements §4.4's push algorithm.
func MatchesPush(cfg pipeline.OnConfig, ev *webhookevent.PushEvent) bool {
	if !cfg.Has("push") {
		return false
	}
	pc := cfg.Push
	if pc == nil {
		return true
	}
	if isEmptyPushPull(*pc) {
		return true
	}

	if ev.IsTag {
		if matcher.MatchList(ev.Tag, pc.TagsIgnore) {
			return false
		}
		if len(pc.Tags) == 0 {
			return false
		}
		if !matcher.MatchList(ev.Tag, pc.Tags) {
			return false
		}
	} else {
		if matcher.MatchList(ev.Branch, pc.BranchesIgnore) {
			return false
		}
		if len(pc.Branches) > 0 && !matcher.MatchList(ev.Branch, pc.Branches) {
			return false
		}
	}

	if len(pc.PathsIgnore) > 0 && len(ev.ChangedFiles) > 0 && allMatch(ev.ChangedFiles, pc.PathsIgnore) {
		return false
	}
	if len(pc.Paths) > 0 && !anyMatch(ev.ChangedFiles, pc.Paths) {
		return false
	}

	return true
}

// MatchesPullRequest implements §4.4's pull_request algorithm: path filters
// are accepted in the config but never enforced here, since GitHub's PR
// webhook payload carries no changed-file list.
func MatchesPullRequest(cfg pipeline.OnConfig, ev *webhookevent.PullRequestEvent) bool {
	if !cfg.Has("pull_request") {
		return false
	}
	prc := cfg.PullRequest
	if prc == nil {
		return true
	}

	types := prc.Types
	if len(types) == 0 {
		types = pipeline.DefaultPullRequestTypes
	}
	if !contains(types, ev.Action) {
		return false
	}

	if matcher.MatchList(ev.BaseBranch, prc.BranchesIgnore) {
		return false
	}
	if len(prc.Branches) > 0 && !matcher.MatchList(ev.BaseBranch, prc.Branches) {
		return false
	}

	return true
}

func isEmptyPushPull(pc pipeline.PushPullConfig) bool {
	return len(pc.Branches) == 0 && len(pc.BranchesIgnore) == 0 &&
		len(pc.Paths) == 0 && len(pc.PathsIgnore) == 0 &&
		len(pc.Tags) == 0 && len(pc.TagsIgnore) == 0
}

func allMatch(files, patterns []string) bool {
	for _, f := range files {
		if !matcher.MatchList(f, patterns) {
			return false
		}
	}
	return true
}

func anyMatch(files, patterns []string) bool {
	for _, f := range files {
		if matcher.MatchList(f, patterns) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
