package gate

import (
	"context"
	"testing"
	"time"

	"stageline/internal/config"
	"stageline/internal/domain"
)

type staticScorer struct {
	score     int
	criticals int
}

func (s staticScorer) Score(ctx context.Context, in ScoreInput) (ScoreResult, error) {
	return ScoreResult{Score: s.score, CriticalFindings: s.criticals}, nil
}

func testEvaluator(t *testing.T, fallback Scorer) Evaluator {
	t.Helper()
	e := New(config.Default("proj-1"), nil, fallback)
	e.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestEvaluatePass(t *testing.T) {
	e := testEvaluator(t, staticScorer{score: 97})
	got, err := e.Evaluate(context.Background(), domain.PhasePlanning, nil, domain.ProjectContext{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Passed {
		t.Fatalf("gate failed with score %v", got.Score)
	}
	if got.Severity != domain.SeverityInfo {
		t.Fatalf("severity = %s, want info", got.Severity)
	}
	if got.Score != 97 {
		t.Fatalf("score = %v, want 97", got.Score)
	}
	if len(got.Recommendations) != 0 {
		t.Fatalf("unexpected recommendations: %v", got.Recommendations)
	}
}

func TestEvaluateWarningBand(t *testing.T) {
	// 88 is below the planning threshold of 95 but within 10 points.
	e := testEvaluator(t, staticScorer{score: 88})
	got, err := e.Evaluate(context.Background(), domain.PhasePlanning, nil, domain.ProjectContext{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Passed {
		t.Fatal("gate passed below threshold")
	}
	if got.Severity != domain.SeverityWarning {
		t.Fatalf("severity = %s, want warning", got.Severity)
	}
}

func TestEvaluateBlockingBand(t *testing.T) {
	e := testEvaluator(t, staticScorer{score: 70})
	got, err := e.Evaluate(context.Background(), domain.PhasePlanning, nil, domain.ProjectContext{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Severity != domain.SeverityBlocking {
		t.Fatalf("severity = %s, want blocking", got.Severity)
	}
	if len(got.Recommendations) == 0 {
		t.Fatal("expected per-criterion recommendations")
	}
}

func TestEvaluateCriticalFindingsFailHighScore(t *testing.T) {
	e := testEvaluator(t, staticScorer{score: 99, criticals: 1})
	got, err := e.Evaluate(context.Background(), domain.PhaseDevelopment, nil, domain.ProjectContext{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Passed {
		t.Fatal("gate passed despite critical findings")
	}
	if got.Severity != domain.SeverityBlocking {
		t.Fatalf("severity = %s, want blocking", got.Severity)
	}
}

func TestEvaluateThresholdOverride(t *testing.T) {
	e := testEvaluator(t, staticScorer{score: 88})
	override := 80
	got, err := e.Evaluate(context.Background(), domain.PhasePlanning, nil, domain.ProjectContext{}, &override)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Passed {
		t.Fatalf("gate failed with score %v against override %d", got.Score, override)
	}
}

func TestEvaluatePerCriterionScorers(t *testing.T) {
	cfg := config.Default("proj-1")
	e := New(cfg, map[string]Scorer{
		"acceptance.coverage": staticScorer{score: 60},
	}, staticScorer{score: 95})
	got, err := e.Evaluate(context.Background(), domain.PhaseValidation, nil, domain.ProjectContext{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// 60*0.40 + 95*0.35 + 95*0.25 = 81, below the validation threshold of 85.
	if got.Passed {
		t.Fatalf("gate passed with score %v", got.Score)
	}
	failing := FailingCriteria(got)
	if len(failing) != 1 || failing[0].Name != "acceptance.coverage" {
		t.Fatalf("failing = %+v, want acceptance.coverage only", failing)
	}
}

func TestEvaluateUnknownPhase(t *testing.T) {
	e := testEvaluator(t, staticScorer{score: 90})
	if _, err := e.Evaluate(context.Background(), domain.PhaseContextAnalysis, nil, domain.ProjectContext{}, nil); err == nil {
		t.Fatal("expected error for phase without a gate")
	}
}
