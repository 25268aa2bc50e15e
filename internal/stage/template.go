package stage

import (
	"context"
	"fmt"

	"stageline/internal/domain"
)

// TemplateRunner produces a deterministic document per stage. It is the
// default runner when no execution command is configured and keeps the
// pipeline usable end to end without an external worker.
type TemplateRunner struct{}

var stageKinds = map[string]domain.ArtifactKind{
	"requirements-analysis": domain.KindRequirements,
	"defect-analysis":       domain.KindRequirements,
	"architecture-design":   domain.KindDesign,
	"architecture-review":   domain.KindDesign,
	"refactor-planning":     domain.KindDesign,
	"implementation":        domain.KindImplementation,
	"refactor-execution":    domain.KindImplementation,
}

func (TemplateRunner) Run(ctx context.Context, req Request) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	kind, ok := stageKinds[req.Stage.Name]
	if !ok {
		kind = domain.KindOther
	}
	content := fmt.Sprintf("# %s\n\nTask: %s\nAttempt: %d\n", req.Stage.Name, req.Stage.Task, req.Attempt)
	if req.Feedback != "" {
		content += fmt.Sprintf("\nAddressed feedback: %s\n", req.Feedback)
	}
	return Output{
		Artifacts: []Draft{{
			LogicalPath: fmt.Sprintf("stages/%s.md", req.Stage.Name),
			Kind:        kind,
			Content:     content,
		}},
	}, nil
}
