package webhookevent

import "testing"

// S1-shaped push payload.
const pushPayload = `{
  "ref": "refs/heads/main",
  "before": "000",
  "after": "abc",
  "commits": [
    {"id": "abc", "message": "fix", "added": ["src/x.go"], "removed": [], "modified": ["README.md"]}
  ],
  "repository": {"full_name": "acme/widgets", "clone_url": "https://example.com/acme/widgets.git", "default_branch": "main", "private": false},
  "sender": {"login": "alice"}
}`

func TestParseGitHubEvent_Push(t *testing.T) {
	got, err := ParseGitHubEvent("push", []byte(pushPayload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	push, ok := got.(*PushEvent)
	if !ok {
		t.Fatalf("expected *PushEvent, got %T", got)
	}
	if push.Branch != "main" || !push.IsBranch || push.IsTag {
		t.Errorf("branch derivation wrong: %+v", push)
	}
	if push.CommitSHA != "abc" {
		t.Errorf("commit_sha = %q, want abc", push.CommitSHA)
	}
	wantFiles := map[string]bool{"src/x.go": true, "README.md": true}
	if len(push.ChangedFiles) != 2 {
		t.Fatalf("changed_files = %v", push.ChangedFiles)
	}
	for _, f := range push.ChangedFiles {
		if !wantFiles[f] {
			t.Errorf("unexpected changed file %q", f)
		}
	}
}

func TestParseGitHubEvent_TagPush(t *testing.T) {
	body := `{"ref": "refs/tags/v1.0.0", "after": "abc", "repository": {"full_name": "acme/widgets"}}`
	got, err := ParseGitHubEvent("push", []byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	push := got.(*PushEvent)
	if !push.IsTag || push.IsBranch || push.Tag != "v1.0.0" {
		t.Errorf("tag derivation wrong: %+v", push)
	}
}

func TestParseGitHubEvent_PullRequestForkDetection(t *testing.T) {
	body := `{
	  "action": "opened",
	  "number": 42,
	  "pull_request": {
	    "title": "add feature",
	    "state": "open",
	    "head": {"sha": "deadbeef", "ref": "feature", "repo": {"full_name": "bob/widgets"}},
	    "base": {"ref": "main", "repo": {"full_name": "acme/widgets"}}
	  },
	  "repository": {"full_name": "acme/widgets"},
	  "sender": {"login": "bob"}
	}`
	got, err := ParseGitHubEvent("pull_request", []byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pr := got.(*PullRequestEvent)
	if !pr.IsFork {
		t.Error("expected fork PR to be detected")
	}
	if pr.BaseBranch != "main" || pr.HeadBranch != "feature" {
		t.Errorf("branch fields wrong: %+v", pr)
	}
}

func TestParseGitHubEvent_UnknownEventIgnored(t *testing.T) {
	got, err := ParseGitHubEvent("star", []byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown event type, got %v", got)
	}
}

func TestParseGitHubEvent_Ping(t *testing.T) {
	got, err := ParseGitHubEvent("ping", []byte(`{"zen": "Keep it logically awesome."}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ping, ok := got.(*PingEvent)
	if !ok || ping.Zen == "" {
		t.Errorf("expected ping event with zen text, got %+v", got)
	}
}
