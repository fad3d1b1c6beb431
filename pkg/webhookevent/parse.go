package webhookevent

import "encoding/json"

// rawCommit mirrors GitHub's commit JSON shape for decoding.
type rawCommit struct {
	ID          string   `json:"id"`
	Message     string   `json:"message"`
	Added       []string `json:"added"`
	Removed     []string `json:"removed"`
	Modified    []string `json:"modified"`
	Author      struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"author"`
}

func (c rawCommit) toCommit() Commit {
	return Commit{
		ID:          c.ID,
		Message:     c.Message,
		AuthorName:  c.Author.Name,
		AuthorEmail: c.Author.Email,
		Added:       c.Added,
		Removed:     c.Removed,
		Modified:    c.Modified,
	}
}

type rawPush struct {
	Ref        string      `json:"ref"`
	Before     string      `json:"before"`
	After      string      `json:"after"`
	Created    bool        `json:"created"`
	Deleted    bool        `json:"deleted"`
	Forced     bool        `json:"forced"`
	BaseRef    *string     `json:"base_ref"`
	Commits    []rawCommit `json:"commits"`
	HeadCommit *rawCommit  `json:"head_commit"`
	Repository rawRepo     `json:"repository"`
	Sender     Sender      `json:"sender"`
}

type rawRepo struct {
	FullName      string `json:"full_name"`
	CloneURL      string `json:"clone_url"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

func (r rawRepo) toRepository() Repository {
	return Repository{
		FullName:      r.FullName,
		CloneURL:      r.CloneURL,
		DefaultBranch: r.DefaultBranch,
		Private:       r.Private,
	}
}

type rawPullRequest struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Title string `json:"title"`
		State string `json:"state"`
		Merged bool  `json:"merged"`
		Head   struct {
			SHA   string  `json:"sha"`
			Ref   string  `json:"ref"`
			Repo  rawRepo `json:"repo"`
		} `json:"head"`
		Base struct {
			Ref  string  `json:"ref"`
			Repo rawRepo `json:"repo"`
		} `json:"base"`
	} `json:"pull_request"`
	Repository rawRepo `json:"repository"`
	Sender     Sender  `json:"sender"`
}

type rawPing struct {
	Zen string `json:"zen"`
}

// ParseGitHubEvent normalizes a GitHub webhook body given its
// `X-GitHub-Event` header value. It returns (nil, nil) for event types this
// control plane does not model — per the specification, unknown events are
// ignored rather than treated as an error.
func ParseGitHubEvent(eventType string, body []byte) (interface{}, error) {
	switch eventType {
	case "push":
		var raw rawPush
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, err
		}
		ev := &PushEvent{
			Ref:        raw.Ref,
			Before:     raw.Before,
			After:      raw.After,
			Created:    raw.Created,
			Deleted:    raw.Deleted,
			Forced:     raw.Forced,
			Repository: raw.Repository.toRepository(),
			Sender:     raw.Sender,
		}
		if raw.BaseRef != nil {
			ev.BaseRef = *raw.BaseRef
		}
		for _, c := range raw.Commits {
			ev.Commits = append(ev.Commits, c.toCommit())
		}
		if raw.HeadCommit != nil {
			hc := raw.HeadCommit.toCommit()
			ev.HeadCommit = &hc
		}
		derivePush(ev)
		return ev, nil

	case "pull_request":
		var raw rawPullRequest
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, err
		}
		ev := &PullRequestEvent{
			Action:     raw.Action,
			Number:     raw.Number,
			Title:      raw.PullRequest.Title,
			State:      raw.PullRequest.State,
			Merged:     raw.PullRequest.Merged,
			HeadSHA:    raw.PullRequest.Head.SHA,
			HeadBranch: raw.PullRequest.Head.Ref,
			BaseBranch: raw.PullRequest.Base.Ref,
			HeadRepo:   raw.PullRequest.Head.Repo.FullName,
			BaseRepo:   raw.PullRequest.Base.Repo.FullName,
			Repository: raw.Repository.toRepository(),
			Sender:     raw.Sender,
		}
		derivePullRequest(ev)
		return ev, nil

	case "ping":
		var raw rawPing
		_ = json.Unmarshal(body, &raw)
		return &PingEvent{Zen: raw.Zen}, nil

	default:
		return nil, nil
	}
}
