package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"stageline/internal/config"
	"stageline/internal/db"
	"stageline/internal/domain"
	"stageline/internal/engine"
	"stageline/internal/gate"
	"stageline/internal/migrate"
	"stageline/internal/repo"
	"stageline/internal/stage"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

// newBareEnv initializes a project with no prior iterations or artifacts.
func newBareEnv(t *testing.T, projectID string) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default(projectID)
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	eng.Tracker.Now = eng.Now
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, projectID, "test", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

// newTestEnv is newBareEnv plus one recorded iteration and artifact, so
// proj-1 counts as an existing project with prior work.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	env := newBareEnv(t, "proj-1")
	it, err := env.Engine.Tracker.StartIteration(env.Ctx, "proj-1", domain.CategoryNewProject, "bootstrap-run")
	if err != nil {
		t.Fatalf("seed iteration: %v", err)
	}
	if _, err := env.Engine.Tracker.RecordArtifact(env.Ctx, "proj-1", it.ID, "requirements-analysis",
		"requirements/initial.md", domain.KindRequirements, "initial requirements"); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}
	return env
}

func TestExecuteNewProjectCompletes(t *testing.T) {
	// Freshly initialized project with no prior work: the empty context
	// alone decides the category, even without greenfield keywords.
	env := newBareEnv(t, "green-1")
	report, err := env.Engine.Execute(env.Ctx, engine.RunRequest{
		ProjectID:   "green-1",
		Description: "build an internal inventory tracker for the warehouse team",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if report.Category != domain.CategoryNewProject {
		t.Fatalf("category = %s, want new_project", report.Category)
	}
	if report.FinalPhase != domain.PhaseCompleted {
		t.Fatalf("final phase = %s, want completed (warnings: %v)", report.FinalPhase, report.Warnings)
	}
	if report.Completion != 1.0 {
		t.Fatalf("completion = %v, want 1.0", report.Completion)
	}
	if len(report.Gates) != 3 {
		t.Fatalf("gates = %d, want 3", len(report.Gates))
	}
	if len(report.Artifacts) == 0 {
		t.Fatal("expected artifacts from template runner")
	}
}

func TestExecuteMissingProject(t *testing.T) {
	env := newBareEnv(t, "proj-1")
	_, err := env.Engine.Execute(env.Ctx, engine.RunRequest{
		ProjectID:   "ghost",
		Description: "fix the broken login",
		ActorID:     "tester",
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExecuteFreshProjectKeywordsDoNotDecide(t *testing.T) {
	env := newBareEnv(t, "green-2")
	report, err := env.Engine.Execute(env.Ctx, engine.RunRequest{
		ProjectID:   "green-2",
		Description: "fix the broken login flow",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if report.Category != domain.CategoryNewProject {
		t.Fatalf("category = %s, want new_project on a project with no prior work", report.Category)
	}
}

func TestExecuteBugFixPipeline(t *testing.T) {
	env := newTestEnv(t)
	report, err := env.Engine.Execute(env.Ctx, engine.RunRequest{
		ProjectID:   "proj-1",
		Description: "the login is broken after the auth update",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if report.Category != domain.CategoryBugFix {
		t.Fatalf("category = %s, want bug_fix", report.Category)
	}
	var names []string
	for _, sr := range report.StageHistory {
		names = append(names, sr.Stage)
	}
	if len(names) < 2 || names[0] != "defect-analysis" || names[len(names)-1] != "implementation" {
		t.Fatalf("stage history = %v, want defect-analysis then implementation", names)
	}
	if report.IterationID == "" {
		t.Fatal("missing iteration id")
	}
}

// phaseScorer scripts gate outcomes per phase, failing the first
// development evaluation.
type phaseScorer struct {
	devCalls *int
	criteria int
}

func (s phaseScorer) Score(ctx context.Context, in gate.ScoreInput) (gate.ScoreResult, error) {
	if in.Phase != domain.PhaseDevelopment {
		return gate.ScoreResult{Score: 97}, nil
	}
	*s.devCalls++
	if *s.devCalls <= s.criteria {
		return gate.ScoreResult{Score: 70}, nil
	}
	return gate.ScoreResult{Score: 97}, nil
}

func TestExecuteRetryThenPass(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	env.Engine.Scorer = phaseScorer{devCalls: &calls, criteria: 4}

	report, err := env.Engine.Execute(env.Ctx, engine.RunRequest{
		ProjectID:   "proj-1",
		Description: "fix the broken export bug",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if report.FinalPhase != domain.PhaseCompleted {
		t.Fatalf("final phase = %s, want completed", report.FinalPhase)
	}
	// The implementation stage ran twice: once initially, once on retry.
	attempts := 0
	for _, sr := range report.StageHistory {
		if sr.Stage == "implementation" && sr.Status == domain.StageSucceeded {
			attempts++
		}
	}
	if attempts != 2 {
		t.Fatalf("implementation attempts = %d, want 2", attempts)
	}
	retried, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "proj-1", "retry.issued", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(retried) != 1 {
		t.Fatalf("retry events = %d, want 1", len(retried))
	}
}

type criticalScorer struct{}

func (criticalScorer) Score(ctx context.Context, in gate.ScoreInput) (gate.ScoreResult, error) {
	if in.Phase == domain.PhaseDevelopment && in.Criterion == "security.findings" {
		return gate.ScoreResult{Score: 97, CriticalFindings: 1}, nil
	}
	return gate.ScoreResult{Score: 97}, nil
}

func TestExecuteCriticalFindingAborts(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Scorer = criticalScorer{}

	report, err := env.Engine.Execute(env.Ctx, engine.RunRequest{
		ProjectID:   "proj-1",
		Description: "fix the broken login",
		ActorID:     "tester",
	})
	if !errors.Is(err, domain.ErrCriticalOverride) {
		t.Fatalf("err = %v, want ErrCriticalOverride", err)
	}
	if report.FinalPhase != domain.PhaseFailed {
		t.Fatalf("final phase = %s, want failed", report.FinalPhase)
	}
	if len(report.Warnings) == 0 {
		t.Fatal("expected abort reason in warnings")
	}
}

func TestExecuteAmbiguousRequestFails(t *testing.T) {
	env := newTestEnv(t)
	report, err := env.Engine.Execute(env.Ctx, engine.RunRequest{
		ProjectID:   "proj-1",
		Description: "   ",
		ActorID:     "tester",
	})
	if !errors.Is(err, domain.ErrClassificationAmbiguous) {
		t.Fatalf("err = %v, want ErrClassificationAmbiguous", err)
	}
	if report.FinalPhase != domain.PhaseFailed {
		t.Fatalf("final phase = %s, want failed", report.FinalPhase)
	}
}

func TestExecuteCategoryOverride(t *testing.T) {
	env := newTestEnv(t)
	report, err := env.Engine.Execute(env.Ctx, engine.RunRequest{
		ProjectID:        "proj-1",
		Description:      "the login is broken",
		OverrideCategory: domain.CategoryRefactor,
		ActorID:          "tester",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if report.Category != domain.CategoryRefactor {
		t.Fatalf("category = %s, want refactor", report.Category)
	}
}

// cancelRunner cancels the run mid-stage.
type cancelRunner struct {
	cancel  context.CancelFunc
	inner   stage.Runner
	trigger string
}

func (c cancelRunner) Run(ctx context.Context, req stage.Request) (stage.Output, error) {
	if req.Stage.Name == c.trigger {
		c.cancel()
		return stage.Output{}, context.Canceled
	}
	return c.inner.Run(ctx, req)
}

func TestExecuteCancellation(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(env.Ctx)
	defer cancel()
	env.Engine.Runner = cancelRunner{cancel: cancel, inner: stage.TemplateRunner{}, trigger: "implementation"}

	report, err := env.Engine.Execute(ctx, engine.RunRequest{
		ProjectID:   "proj-1",
		Description: "fix the broken login",
		ActorID:     "tester",
	})
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if report.FinalPhase != domain.PhaseFailed {
		t.Fatalf("final phase = %s, want failed", report.FinalPhase)
	}
	// The defect-analysis stage finished before cancellation and stays
	// recorded.
	if len(report.StageHistory) == 0 {
		t.Fatal("expected partial stage history")
	}
}

func TestExecuteEventTrail(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Execute(env.Ctx, engine.RunRequest{
		ProjectID:   "proj-1",
		Description: "fix the broken login",
		ActorID:     "tester",
	}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, evtType := range []string{"run.started", "run.classified", "stage.started", "stage.completed", "gate.evaluated", "run.completed"} {
		evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 5, "proj-1", evtType, "", "")
		if err != nil {
			t.Fatal(err)
		}
		if len(evts) == 0 {
			t.Fatalf("no %s event recorded", evtType)
		}
	}
}

func TestExecuteSkipStages(t *testing.T) {
	env := newTestEnv(t)
	report, err := env.Engine.Execute(env.Ctx, engine.RunRequest{
		ProjectID:   "proj-1",
		Description: "fix the broken login",
		SkipStages:  []string{"implementation"},
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var skipped bool
	for _, sr := range report.StageHistory {
		if sr.Stage == "implementation" && sr.Status == domain.StageSkipped {
			skipped = true
		}
	}
	if !skipped {
		t.Fatal("implementation was not skipped")
	}
	if report.Completion >= 1.0 {
		t.Fatalf("completion = %v, want < 1.0 with a skipped stage", report.Completion)
	}
}
