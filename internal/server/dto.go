package server

import (
	"stageline/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	Description *string `json:"description,omitempty"`
}

type SubmitRunRequest struct {
	Description        string         `json:"description"`
	Category           *string        `json:"category,omitempty" enum:"new_project,bug_fix,enhancement,refactor"`
	ThresholdOverrides map[string]int `json:"threshold_overrides,omitempty"`
	SkipStages         []string       `json:"skip_stages,omitempty"`
	MaxRetries         *int           `json:"max_retries,omitempty"`
}

type ImportConfigRequest struct {
	YAML string `json:"yaml"`
}

type CreateIssueRequest struct {
	Title string `json:"title"`
}

type CreateAPIKeyRequest struct {
	ActorID string  `json:"actor_id"`
	Name    *string `json:"name,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	Project domain.Project `json:"project"`
}

type ProjectListResponse struct {
	Projects []domain.Project `json:"projects"`
}

type ProjectStatusResponse struct {
	ProjectID string        `json:"project_id"`
	Status    string        `json:"status"`
	LastRun   *RunSummary   `json:"last_run,omitempty"`
	Context   ContextDigest `json:"context"`
}

type ContextDigest struct {
	ArtifactCount  int     `json:"artifact_count"`
	OpenIssueCount int     `json:"open_issue_count"`
	IterationID    *string `json:"iteration_id,omitempty"`
}

type RunSummary struct {
	ID          string `json:"id"`
	Phase       string `json:"phase"`
	Category    string `json:"category"`
	IterationID string `json:"iteration_id,omitempty"`
	Description string `json:"description"`
	StartedAt   string `json:"started_at"`
	FinishedAt  string `json:"finished_at,omitempty"`
}

type RunListResponse struct {
	Runs []RunSummary `json:"runs"`
}

type ReportResponse struct {
	Report domain.WorkflowReport `json:"report"`
}

type IterationListResponse struct {
	Iterations []domain.Iteration `json:"iterations"`
}

type ArtifactResponse struct {
	Artifact domain.Artifact `json:"artifact"`
}

type ArtifactListResponse struct {
	Artifacts []domain.Artifact `json:"artifacts"`
}

type IssueResponse struct {
	Issue domain.Issue `json:"issue"`
}

type IssueListResponse struct {
	Issues []domain.Issue `json:"issues"`
}

type EventListResponse struct {
	Events []domain.Event `json:"events"`
	Cursor int64          `json:"cursor"`
}

type ConfigYAMLResponse struct {
	YAML string `json:"yaml"`
}

// APIKeyResponse carries the plaintext key exactly once, at creation.
type APIKeyResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	Key     string `json:"key,omitempty"`
}

type APIKeyListResponse struct {
	Keys []domain.APIKey `json:"keys"`
}
