// Package webhookevent normalizes vendor webhook payloads into
// PushEvent/PullRequestEvent records with their derived fields.
package webhookevent

import "strings"

// Repository is the common repository shape carried on both event types.
type Repository struct {
	FullName      string `json:"full_name"`
	CloneURL      string `json:"clone_url"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

// Sender identifies who triggered the webhook.
type Sender struct {
	Login string `json:"login"`
}

// Commit is one entry in a push event's commit list.
type Commit struct {
	ID           string   `json:"id"`
	Message      string   `json:"message"`
	AuthorName   string   `json:"author_name"`
	AuthorEmail  string   `json:"author_email"`
	Added        []string `json:"added"`
	Removed      []string `json:"removed"`
	Modified     []string `json:"modified"`
}

// PushEvent is the normalized form of a `push` webhook.
type PushEvent struct {
	Ref        string      `json:"ref"`
	Before     string      `json:"before"`
	After      string      `json:"after"`
	Created    bool        `json:"created"`
	Deleted    bool        `json:"deleted"`
	Forced     bool        `json:"forced"`
	BaseRef    string      `json:"base_ref"`
	Commits    []Commit    `json:"commits"`
	HeadCommit *Commit     `json:"head_commit"`
	Repository Repository  `json:"repository"`
	Sender     Sender      `json:"sender"`

	// Derived fields.
	Branch       string   `json:"branch"`
	Tag          string   `json:"tag"`
	IsTag        bool     `json:"is_tag"`
	IsBranch     bool     `json:"is_branch"`
	CommitSHA    string   `json:"commit_sha"`
	ChangedFiles []string `json:"changed_files"`
}

// PullRequestEvent is the normalized form of a `pull_request` webhook.
type PullRequestEvent struct {
	Action     string     `json:"action"`
	Number     int        `json:"number"`
	Title      string     `json:"title"`
	State      string     `json:"state"`
	Merged     bool       `json:"merged"`
	HeadSHA    string     `json:"head_sha"`
	HeadBranch string     `json:"head_branch"`
	BaseBranch string     `json:"base_branch"`
	HeadRepo   string     `json:"head_repo"`
	BaseRepo   string     `json:"base_repo"`
	IsFork     bool       `json:"is_fork"`
	Repository Repository `json:"repository"`
	Sender     Sender     `json:"sender"`
}

// PingEvent is the trivial record returned for a `ping` webhook; it
// acknowledges receipt without triggering any pipeline.
type PingEvent struct {
	Zen string `json:"zen"`
}

const (
	refHeadsPrefix = "refs/heads/"
	refTagsPrefix  = "refs/tags/"
)

// derivePush fills in the derived fields of a PushEvent from its raw fields.
func derivePush(e *PushEvent) {
	switch {
	case strings.HasPrefix(e.Ref, refHeadsPrefix):
		e.Branch = strings.TrimPrefix(e.Ref, refHeadsPrefix)
		e.IsBranch = true
	case strings.HasPrefix(e.Ref, refTagsPrefix):
		e.Tag = strings.TrimPrefix(e.Ref, refTagsPrefix)
		e.IsTag = true
	}
	e.CommitSHA = e.After

	seen := map[string]bool{}
	var files []string
	addAll := func(list []string) {
		for _, f := range list {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	for _, c := range e.Commits {
		addAll(c.Added)
		addAll(c.Removed)
		addAll(c.Modified)
	}
	e.ChangedFiles = files
}

// derivePullRequest fills in the derived fields of a PullRequestEvent.
func derivePullRequest(e *PullRequestEvent) {
	e.IsFork = e.HeadRepo != e.BaseRepo
}
