package app_test

import (
	"context"
	"testing"

	"stageline/internal/app"
	"stageline/internal/config"
	"stageline/internal/db"
	"stageline/internal/domain"
	"stageline/internal/engine"
	"stageline/internal/migrate"
)

func newContextEnv(t *testing.T) (engine.Engine, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return engine.New(conn, config.Default("proj-1")), context.Background()
}

func TestLoadProjectContextMissingProject(t *testing.T) {
	eng, ctx := newContextEnv(t)
	pctx, err := app.LoadProjectContext(ctx, eng.Repo, "ghost")
	if err != nil {
		t.Fatalf("load context: %v", err)
	}
	if pctx.HasExistingProject {
		t.Fatal("missing project reported as existing")
	}
	if pctx.ProjectID != "ghost" {
		t.Fatalf("project id = %s, want ghost", pctx.ProjectID)
	}
}

func TestLoadProjectContextFreshProject(t *testing.T) {
	eng, ctx := newContextEnv(t)
	if _, err := eng.InitProject(ctx, "proj-1", "test", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	pctx, err := app.LoadProjectContext(ctx, eng.Repo, "proj-1")
	if err != nil {
		t.Fatalf("load context: %v", err)
	}
	// A registered project with no iterations or artifacts carries no
	// prior work.
	if pctx.HasExistingProject {
		t.Fatal("fresh project reported as existing")
	}
}

func TestLoadProjectContextWithPriorWork(t *testing.T) {
	eng, ctx := newContextEnv(t)
	if _, err := eng.InitProject(ctx, "proj-1", "test", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	it, err := eng.Tracker.StartIteration(ctx, "proj-1", domain.CategoryNewProject, "run-1")
	if err != nil {
		t.Fatalf("start iteration: %v", err)
	}
	if _, err := eng.Tracker.RecordArtifact(ctx, "proj-1", it.ID, "requirements-analysis",
		"requirements/initial.md", domain.KindRequirements, "initial requirements"); err != nil {
		t.Fatalf("record artifact: %v", err)
	}
	pctx, err := app.LoadProjectContext(ctx, eng.Repo, "proj-1")
	if err != nil {
		t.Fatalf("load context: %v", err)
	}
	if !pctx.HasExistingProject {
		t.Fatal("project with recorded work not reported as existing")
	}
	if len(pctx.ArtifactPaths) != 1 || pctx.ArtifactPaths[0] != "requirements/initial.md" {
		t.Fatalf("artifact paths = %v", pctx.ArtifactPaths)
	}
	if pctx.IterationID == nil || *pctx.IterationID != it.ID {
		t.Fatalf("iteration id = %v, want %s", pctx.IterationID, it.ID)
	}
}
