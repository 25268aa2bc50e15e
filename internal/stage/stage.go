package stage

import (
	"context"

	"stageline/internal/domain"
)

// Request is everything a runner gets for one stage attempt. Feedback is
// populated on retries with the gate shortfall description.
type Request struct {
	RunID       string                `json:"run_id"`
	ProjectID   string                `json:"project_id"`
	IterationID string                `json:"iteration_id"`
	Stage       domain.StageSpec      `json:"stage"`
	Attempt     int                   `json:"attempt"`
	Feedback    string                `json:"feedback,omitempty"`
	Context     domain.ProjectContext `json:"context"`
}

// Draft is an artifact produced by a runner before the tracker assigns
// its revision.
type Draft struct {
	LogicalPath string              `json:"logical_path"`
	Kind        domain.ArtifactKind `json:"kind"`
	Content     string              `json:"content"`
}

type Output struct {
	Artifacts []Draft `json:"artifacts"`
	Notes     string  `json:"notes,omitempty"`
}

// Runner executes one stage attempt. Implementations must honor ctx
// cancellation; the executor applies the per-stage timeout.
type Runner interface {
	Run(ctx context.Context, req Request) (Output, error)
}
