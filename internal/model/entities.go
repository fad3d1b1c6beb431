package model

import "time"

// Status is the terminal/non-terminal lifecycle state shared by Execution,
// Job, and Step (§3 of the specification).
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status is an absorbing, final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled, StatusTimeout, StatusSkipped:
		return true
	default:
		return false
	}
}

// TriggerType enumerates how an Execution came to exist.
type TriggerType string

const (
	TriggerPush        TriggerType = "push"
	TriggerPullRequest TriggerType = "pull_request"
	TriggerSchedule    TriggerType = "schedule"
	TriggerManual      TriggerType = "manual"
	TriggerWebhook     TriggerType = "webhook"
	TriggerAPI         TriggerType = "api"
)

// RunnerType distinguishes shared runners (any tenant) from dedicated ones.
type RunnerType string

const (
	RunnerShared     RunnerType = "shared"
	RunnerDedicated  RunnerType = "dedicated"
	RunnerSelfHosted RunnerType = "self_hosted"
)

// RunnerStatus is the liveness/availability state of a Runner.
type RunnerStatus string

const (
	RunnerOnline      RunnerStatus = "online"
	RunnerOffline     RunnerStatus = "offline"
	RunnerBusy        RunnerStatus = "busy"
	RunnerMaintenance RunnerStatus = "maintenance"
)

// SecretScope distinguishes organization-wide secrets from pipeline-scoped ones.
type SecretScope string

const (
	SecretScopeOrganization SecretScope = "organization"
	SecretScopePipeline     SecretScope = "pipeline"
)

// Quotas bounds a tenant's resource consumption.
type Quotas struct {
	MaxRunners        int `json:"max_runners"`
	MaxConcurrentJobs int `json:"max_concurrent_jobs"`
	RetentionDays     int `json:"retention_days"`
	StorageMB         int `json:"storage_mb"`
}

// Tenant is the root of isolation: every other entity carries a TenantID.
type Tenant struct {
	ID     string `db:"id" json:"id"`
	Slug   string `db:"slug" json:"slug"`
	Plan   string `db:"plan" json:"plan"`
	Quotas Quotas `db:"-" json:"quotas"`
	Active bool   `db:"active" json:"active"`
}

// Pipeline is a registered YAML workflow bound to a source repository.
type Pipeline struct {
	ID              string     `db:"id" json:"id"`
	TenantID        string     `db:"tenant_id" json:"tenant_id"`
	Name            string     `db:"name" json:"name"`
	Slug            string     `db:"slug" json:"slug"`
	RepoURL         string     `db:"repo_url" json:"repo_url"`
	DefaultBranch   string     `db:"default_branch" json:"default_branch"`
	ConfigPath      string     `db:"config_path" json:"config_path"`
	WebhookSecret   string     `db:"webhook_secret" json:"-"`
	Active          bool       `db:"active" json:"active"`
	LastExecutionAt *time.Time `db:"last_execution_at" json:"last_execution_at,omitempty"`
}

// PipelineConfig is a single, immutable, versioned snapshot of a pipeline's YAML.
type PipelineConfig struct {
	ID               string   `db:"id" json:"id"`
	PipelineID       string   `db:"pipeline_id" json:"pipeline_id"`
	Version          int      `db:"version" json:"version"`
	YAMLRaw          string   `db:"yaml_raw" json:"yaml_raw"`
	Parsed           Value    `db:"parsed" json:"parsed"`
	CommitSHA        string   `db:"commit_sha" json:"commit_sha"`
	IsValid          bool     `db:"is_valid" json:"is_valid"`
	ValidationErrors []string `db:"-" json:"validation_errors,omitempty"`
}

// Execution is one run of a pipeline at a specific config version.
type Execution struct {
	ID                string      `db:"id" json:"id"`
	TenantID          string      `db:"tenant_id" json:"tenant_id"`
	PipelineID        string      `db:"pipeline_id" json:"pipeline_id"`
	ConfigRef         string      `db:"config_ref" json:"config_ref"`
	Number            int         `db:"number" json:"number"`
	TriggerType       TriggerType `db:"trigger_type" json:"trigger_type"`
	TriggerInfo       Value       `db:"trigger_info" json:"trigger_info"`
	Status            Status      `db:"status" json:"status"`
	QueuedAt          time.Time   `db:"queued_at" json:"queued_at"`
	StartedAt         *time.Time  `db:"started_at" json:"started_at,omitempty"`
	FinishedAt        *time.Time  `db:"finished_at" json:"finished_at,omitempty"`
	Environment       Value       `db:"environment" json:"environment"`
	Inputs            Value       `db:"inputs" json:"inputs"`
	ConcurrencyGroup  string      `db:"concurrency_group" json:"concurrency_group,omitempty"`
	CancelInProgress  bool        `db:"cancel_in_progress" json:"cancel_in_progress"`
	TriggeredBy       string      `db:"triggered_by" json:"triggered_by,omitempty"`
}

// Job is one vertex of the execution DAG.
type Job struct {
	ID             string     `db:"id" json:"id"`
	ExecutionID    string     `db:"execution_id" json:"execution_id"`
	Name           string     `db:"name" json:"name"`
	JobKey         string     `db:"job_key" json:"job_key"`
	Needs          []string   `db:"-" json:"needs,omitempty"`
	Condition      string     `db:"condition" json:"condition,omitempty"`
	MatrixValues   Value      `db:"matrix_values" json:"matrix_values,omitempty"`
	RunsOn         []string   `db:"-" json:"runs_on"`
	Container      string     `db:"container" json:"container,omitempty"`
	Services       Value      `db:"services" json:"services,omitempty"`
	Status         Status     `db:"status" json:"status"`
	RunnerID       *string    `db:"runner_id" json:"runner_id,omitempty"`
	TimeoutMinutes int        `db:"timeout_minutes" json:"timeout_minutes,omitempty"`
	Outputs        Value      `db:"outputs" json:"outputs,omitempty"`
	Environment    Value      `db:"environment" json:"environment,omitempty"`
	QueuedAt       time.Time  `db:"queued_at" json:"queued_at"`
	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt     *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// StepType distinguishes a shell command step from an action-reference step.
type StepType string

const (
	StepRun  StepType = "run"
	StepUses StepType = "uses"
)

// Step is one sequential unit within a Job.
type Step struct {
	ID                string     `db:"id" json:"id"`
	JobID             string     `db:"job_id" json:"job_id"`
	Name              string     `db:"name" json:"name"`
	Order             int        `db:"step_order" json:"order"`
	Type              StepType   `db:"type" json:"type"`
	RunCommand        string     `db:"run_command" json:"run_command,omitempty"`
	UsesAction        string     `db:"uses_action" json:"uses_action,omitempty"`
	With              Value      `db:"with_inputs" json:"with,omitempty"`
	Shell             string     `db:"shell" json:"shell,omitempty"`
	WorkingDirectory  string     `db:"working_directory" json:"working_directory,omitempty"`
	Env               Value      `db:"env" json:"env,omitempty"`
	Condition         string     `db:"condition" json:"condition,omitempty"`
	ContinueOnError   bool       `db:"continue_on_error" json:"continue_on_error"`
	TimeoutMinutes    int        `db:"timeout_minutes" json:"timeout_minutes,omitempty"`
	Status            Status     `db:"status" json:"status"`
	ExitCode          *int       `db:"exit_code" json:"exit_code,omitempty"`
	StartedAt         *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt        *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	Outputs           Value      `db:"outputs" json:"outputs,omitempty"`
}

// LogLevel mirrors the level tag on a LogChunk.
type LogLevel string

const (
	LogDebug   LogLevel = "debug"
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogChunk is one ordered fragment of a step's output.
type LogChunk struct {
	StepID      string    `db:"step_id" json:"step_id"`
	ChunkNumber int       `db:"chunk_number" json:"chunk_number"`
	Content     string    `db:"content" json:"content"`
	Level       LogLevel  `db:"level" json:"level"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
}

// Runner is an external worker process registered to execute jobs.
type Runner struct {
	ID               string       `db:"id" json:"id"`
	TenantID         *string      `db:"tenant_id" json:"tenant_id,omitempty"`
	Name             string       `db:"name" json:"name"`
	TokenHash        string       `db:"token_hash" json:"-"`
	Type             RunnerType   `db:"type" json:"type"`
	Labels           []string     `db:"-" json:"labels"`
	Capabilities     Value        `db:"capabilities" json:"capabilities,omitempty"`
	Status           RunnerStatus `db:"status" json:"status"`
	LastHeartbeat    time.Time    `db:"last_heartbeat" json:"last_heartbeat"`
	SystemInfo       Value        `db:"system_info" json:"system_info,omitempty"`
	MaxConcurrentJobs int         `db:"max_concurrent_jobs" json:"max_concurrent_jobs"`
	CurrentJobs      int          `db:"current_jobs" json:"current_jobs"`
	Version          string       `db:"version" json:"version,omitempty"`
}

// Secret is a tenant- or pipeline-scoped encrypted credential.
type Secret struct {
	ID              string      `db:"id" json:"id"`
	TenantID        string      `db:"tenant_id" json:"tenant_id"`
	PipelineID      *string     `db:"pipeline_id" json:"pipeline_id,omitempty"`
	Name            string      `db:"name" json:"name"`
	Ciphertext      string      `db:"ciphertext" json:"-"`
	Scope           SecretScope `db:"scope" json:"scope"`
	LastUpdatedBy   string      `db:"last_updated_by" json:"last_updated_by,omitempty"`
}

// Artifact is a named bundle of files produced by a Job.
type Artifact struct {
	ID             string    `db:"id" json:"id"`
	TenantID       string    `db:"tenant_id" json:"tenant_id"`
	ExecutionID    string    `db:"execution_id" json:"execution_id"`
	JobID          string    `db:"job_id" json:"job_id"`
	Name           string    `db:"name" json:"name"`
	StoragePath    string    `db:"storage_path" json:"storage_path"`
	SizeBytes      int64     `db:"size_bytes" json:"size_bytes"`
	ChecksumSHA256 string    `db:"checksum_sha256" json:"checksum_sha256"`
	FileCount      int       `db:"file_count" json:"file_count"`
	Compression    string    `db:"compression" json:"compression,omitempty"`
	RetentionDays  int       `db:"retention_days" json:"retention_days"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	ExpiresAt      time.Time `db:"expires_at" json:"expires_at"`
}

// Expired reports whether the artifact's retention window has passed.
func (a Artifact) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// User is a human account authenticating against the REST API with a JWT.
type User struct {
	ID           string    `db:"id" json:"id"`
	TenantID     string    `db:"tenant_id" json:"tenant_id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// APIKey is a long-lived, scoped credential minted for machine access,
// identified and verified by the SHA-256 hash of its full key string.
type APIKey struct {
	ID         string     `db:"id" json:"id"`
	TenantID   string     `db:"tenant_id" json:"tenant_id"`
	Name       string     `db:"name" json:"name"`
	KeyPrefix  string     `db:"key_prefix" json:"key_prefix"`
	KeyHash    string     `db:"key_hash" json:"-"`
	Scopes     []string   `db:"-" json:"scopes"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	Revoked    bool       `db:"revoked" json:"revoked"`
}
