package trigger

import (
	"testing"

	"github.com/mergeci/controlplane/pkg/pipeline"
	"github.com/mergeci/controlplane/pkg/webhookevent"
)

func mustLoad(t *testing.T, y string) pipeline.OnConfig {
	t.Helper()
	cfg, errs := pipeline.Load(y)
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	return cfg.On
}

// S1 — push to main.
func TestMatchesPush_S1(t *testing.T) {
	on := mustLoad(t, `
on:
  push:
    branches: [main, 'release/**']
jobs:
  a: {runs-on: [x], steps: [{run: echo}]}
`)
	ev := &webhookevent.PushEvent{Ref: "refs/heads/main", After: "abc"}
	deriveForTest(ev)
	if !MatchesPush(on, ev) {
		t.Fatal("expected push to main to match")
	}
}

// S2 — path-ignore suppresses.
func TestMatchesPush_S2(t *testing.T) {
	on := mustLoad(t, `
on:
  push:
    paths-ignore: ['**/*.md']
jobs:
  a: {runs-on: [x], steps: [{run: echo}]}
`)
	ev := &webhookevent.PushEvent{Ref: "refs/heads/main", After: "abc", ChangedFiles: []string{"README.md", "docs/a.md"}}
	deriveForTest(ev)
	if MatchesPush(on, ev) {
		t.Fatal("expected path-ignore to suppress execution")
	}
}

// S3 — tags opt-in.
func TestMatchesPush_S3(t *testing.T) {
	on := mustLoad(t, `
on:
  push:
    branches: [main]
jobs:
  a: {runs-on: [x], steps: [{run: echo}]}
`)
	ev := &webhookevent.PushEvent{Ref: "refs/tags/v1.0", After: "abc"}
	deriveForTest(ev)
	if MatchesPush(on, ev) {
		t.Fatal("expected tag push to be rejected when tags not listed (opt-in)")
	}
}

func TestMatchesPush_NoPushKey(t *testing.T) {
	on := mustLoad(t, `
on:
  pull_request: {}
jobs:
  a: {runs-on: [x], steps: [{run: echo}]}
`)
	ev := &webhookevent.PushEvent{Ref: "refs/heads/main", After: "abc"}
	deriveForTest(ev)
	if MatchesPush(on, ev) {
		t.Fatal("expected no match when no push key exists")
	}
}

func TestMatchesPullRequest_ActionFilter(t *testing.T) {
	on := mustLoad(t, `
on:
  pull_request:
    branches: [main]
jobs:
  a: {runs-on: [x], steps: [{run: echo}]}
`)
	ev := &webhookevent.PullRequestEvent{Action: "closed", BaseBranch: "main"}
	if MatchesPullRequest(on, ev) {
		t.Fatal("expected closed action to be rejected by default types filter")
	}
	ev.Action = "opened"
	if !MatchesPullRequest(on, ev) {
		t.Fatal("expected opened action against base main to match")
	}
}

// deriveForTest re-applies branch/tag derivation for hand-built PushEvent
// fixtures (mirrors the derivation ParseGitHubEvent performs).
func deriveForTest(ev *webhookevent.PushEvent) {
	const heads = "refs/heads/"
	const tags = "refs/tags/"
	if len(ev.Ref) >= len(heads) && ev.Ref[:len(heads)] == heads {
		ev.Branch = ev.Ref[len(heads):]
		ev.IsBranch = true
	} else if len(ev.Ref) >= len(tags) && ev.Ref[:len(tags)] == tags {
		ev.Tag = ev.Ref[len(tags):]
		ev.IsTag = true
	}
}
