// Package pipeline loads, normalizes, and validates the CI/CD pipeline
// YAML configuration — a subset of GitHub Actions workflow syntax.
package pipeline

import "github.com/mergeci/controlplane/pkg/matrix"

// Config is the normalized top-level pipeline document.
type Config struct {
	Name        string
	On          OnConfig
	Env         map[string]string
	Defaults    map[string]interface{}
	Concurrency *ConcurrencyConfig
	Jobs        map[string]*JobConfig
	JobOrder    []string
}

// OnConfig holds the normalized trigger configuration. Only the triggers
// actually present in the document have a non-nil pointer / non-empty slice.
type OnConfig struct {
	Push             *PushPullConfig
	PullRequest      *PullRequestConfig
	Schedule         []ScheduleEntry
	WorkflowDispatch *WorkflowDispatchConfig
	Keys             []string // trigger names present, in declaration order
}

// Has reports whether the named trigger key was present in `on`, regardless
// of whether it carries any configuration.
func (o OnConfig) Has(key string) bool {
	for _, k := range o.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// PushPullConfig is the shared branches/paths/tags filter shape for push
// and pull_request triggers.
type PushPullConfig struct {
	Branches       []string
	BranchesIgnore []string
	Paths          []string
	PathsIgnore    []string
	Tags           []string
	TagsIgnore     []string
}

// PullRequestConfig extends PushPullConfig with the PR action type filter.
type PullRequestConfig struct {
	PushPullConfig
	Types []string
}

// ScheduleEntry is one `on.schedule` cron entry.
type ScheduleEntry struct {
	Cron string
}

// WorkflowDispatchConfig lists the manual-trigger input definitions.
type WorkflowDispatchConfig struct {
	Inputs     map[string]WorkflowInput
	InputOrder []string
}

// WorkflowInput is one workflow_dispatch input definition.
type WorkflowInput struct {
	Description string
	Required    bool
	Default     interface{}
	Type        string
	Options     []string
}

// ConcurrencyConfig is the top-level or job-level concurrency block.
type ConcurrencyConfig struct {
	Group            string
	CancelInProgress bool
}

// JobConfig is one normalized `jobs.<key>` entry.
type JobConfig struct {
	Key            string
	Name           string
	RunsOn         []string
	Needs          []string
	Condition      string
	Container      string
	Services       map[string]interface{}
	Env            map[string]string
	Steps          []StepConfig
	Strategy       *StrategyConfig
	TimeoutMinutes int
	Outputs        map[string]string
	Concurrency    *ConcurrencyConfig
}

// StepConfig is one normalized step within a job.
type StepConfig struct {
	Name             string
	ID               string
	Run              string
	Uses             string
	With             map[string]interface{}
	Env              map[string]string
	WorkingDirectory string
	Shell            string
	Condition        string
	ContinueOnError  bool
	TimeoutMinutes   int
}

// StepType reports whether the step is a shell command or an action reference.
func (s StepConfig) StepType() string {
	if s.Run != "" {
		return "run"
	}
	return "uses"
}

// StrategyConfig is the job-level `strategy` block.
type StrategyConfig struct {
	FailFast    bool
	MaxParallel int
	Matrix      matrix.Matrix
}

// DefaultPullRequestTypes is the implicit `types` filter when a
// pull_request trigger config omits it.
var DefaultPullRequestTypes = []string{"opened", "synchronize", "reopened"}
