package app

import (
	"context"
	"errors"
	"fmt"

	"stageline/internal/config"
	"stageline/internal/domain"
	"stageline/internal/repo"
)

// LoadProjectContext builds the immutable snapshot handed to the
// classifier, planner, runners and scorers. A missing project yields an
// empty context rather than an error. HasExistingProject means the
// project carries prior work (artifacts or iterations), not merely a
// registered row; a freshly initialized project still classifies as a
// new project.
func LoadProjectContext(ctx context.Context, r repo.Repo, projectID string) (domain.ProjectContext, error) {
	pctx := domain.ProjectContext{ProjectID: projectID}

	_, err := r.GetProject(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return pctx, nil
	}
	if err != nil {
		return pctx, err
	}

	artifacts, err := r.ListArtifacts(ctx, repo.ArtifactFilters{ProjectID: projectID, LatestOnly: true})
	if err != nil {
		return pctx, err
	}
	for _, a := range artifacts {
		pctx.ArtifactPaths = append(pctx.ArtifactPaths, a.LogicalPath)
		pctx.ArtifactKinds = append(pctx.ArtifactKinds, string(a.Kind))
	}

	issues, err := r.ListIssues(ctx, projectID, "open")
	if err != nil {
		return pctx, err
	}
	for _, issue := range issues {
		pctx.OpenIssues = append(pctx.OpenIssues, issue.Title)
	}

	recent, err := r.LatestEvents(ctx, 10, projectID, "", "", "")
	if err != nil {
		return pctx, err
	}
	for _, e := range recent {
		pctx.RecentChanges = append(pctx.RecentChanges, fmt.Sprintf("%s %s", e.Type, e.EntityID))
	}

	iterations, err := r.ListIterations(ctx, projectID, 1)
	if err != nil {
		return pctx, err
	}
	if len(iterations) > 0 {
		id := iterations[0].ID
		pctx.IterationID = &id
	}
	pctx.HasExistingProject = len(artifacts) > 0 || len(iterations) > 0
	return pctx, nil
}

// ResolveProjectAndConfig picks the target project (explicit ID or the
// workspace's single project) and the effective config: the stored
// per-project config wins, then the workspace stageline.yml, then the
// built-in defaults.
func ResolveProjectAndConfig(ctx context.Context, r repo.Repo, workspace, projectID string) (domain.Project, *config.Config, error) {
	var (
		p   domain.Project
		err error
	)
	if projectID != "" {
		p, err = r.GetProject(ctx, projectID)
	} else {
		p, err = r.SingleProject(ctx)
	}
	if err != nil {
		return domain.Project{}, nil, err
	}

	cfg, err := r.GetProjectConfig(ctx, p.ID)
	if err == nil {
		return p, cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, nil, err
	}
	cfg, err = config.LoadOptional(workspace)
	if err != nil {
		return domain.Project{}, nil, err
	}
	if cfg == nil {
		cfg = config.Default(p.ID)
	}
	return p, cfg, nil
}
