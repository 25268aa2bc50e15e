package feedback

import (
	"strings"
	"testing"

	"stageline/internal/config"
	"stageline/internal/domain"
)

func testManager(t *testing.T) Manager {
	t.Helper()
	return New(config.Default("proj-1"))
}

func planningStages() []domain.StageSpec {
	return []domain.StageSpec{
		{Name: "requirements-analysis", Phase: domain.PhasePlanning},
		{Name: "architecture-design", Phase: domain.PhasePlanning},
		{Name: "implementation", Phase: domain.PhaseDevelopment},
	}
}

func failedGate(criterion string, score, threshold, criticals int) domain.QualityGateResult {
	return domain.QualityGateResult{
		Phase:    domain.PhasePlanning,
		Score:    float64(score),
		Passed:   false,
		Severity: domain.SeverityWarning,
		Criteria: []domain.QualityCriterion{
			{Name: criterion, Weight: 1.0, Score: score, Threshold: threshold, CriticalFindings: criticals},
		},
	}
}

func TestDecideRetryTargetsOwningStages(t *testing.T) {
	m := testManager(t)
	got := m.Decide(failedGate("requirements.completeness", 70, 90, 0), 0, planningStages())
	if got.Decision != domain.DecisionRetry {
		t.Fatalf("decision = %s, want retry", got.Decision)
	}
	if len(got.TargetStages) != 1 || got.TargetStages[0] != "requirements-analysis" {
		t.Fatalf("targets = %v, want [requirements-analysis]", got.TargetStages)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", got.RetryCount)
	}
	if !strings.Contains(got.Feedback, "requirements.completeness scored 70") {
		t.Fatalf("feedback = %q, want criterion shortfall named", got.Feedback)
	}
}

func TestDecideOwnerAbsentFromPlanAccepts(t *testing.T) {
	m := testManager(t)
	// architecture.compliance is owned by design/review stages, none of
	// which are in a bug-fix plan.
	planned := []domain.StageSpec{
		{Name: "defect-analysis", Phase: domain.PhasePlanning},
		{Name: "implementation", Phase: domain.PhaseDevelopment},
	}
	got := m.Decide(failedGate("architecture.compliance", 70, 90, 0), 0, planned)
	if got.Decision != domain.DecisionAcceptWithWarnings {
		t.Fatalf("decision = %s, want accept_with_warnings", got.Decision)
	}
	if len(got.TargetStages) != 0 {
		t.Fatalf("targets = %v, want none", got.TargetStages)
	}
}

func TestDecideExhaustedAcceptsWarnings(t *testing.T) {
	m := testManager(t)
	g := failedGate("requirements.completeness", 88, 90, 0)
	got := m.Decide(g, m.MaxRetries, planningStages())
	if got.Decision != domain.DecisionAcceptWithWarnings {
		t.Fatalf("decision = %s, want accept_with_warnings", got.Decision)
	}
}

func TestDecideExhaustedBlockingAborts(t *testing.T) {
	m := testManager(t)
	g := failedGate("requirements.completeness", 60, 90, 0)
	g.Severity = domain.SeverityBlocking
	got := m.Decide(g, m.MaxRetries, planningStages())
	if got.Decision != domain.DecisionAbort {
		t.Fatalf("decision = %s, want abort", got.Decision)
	}
}

func TestDecideCriticalFindingsAbortImmediately(t *testing.T) {
	m := testManager(t)
	g := failedGate("security.findings", 95, 90, 2)
	g.Severity = domain.SeverityBlocking
	got := m.Decide(g, 0, planningStages())
	if got.Decision != domain.DecisionAbort {
		t.Fatalf("decision = %s, want abort on critical findings", got.Decision)
	}
	if !strings.Contains(got.Feedback, "critical finding") {
		t.Fatalf("feedback = %q, want critical findings named", got.Feedback)
	}
}

func TestDecideRetryCountsAccumulate(t *testing.T) {
	m := testManager(t)
	g := failedGate("requirements.completeness", 70, 90, 0)
	first := m.Decide(g, 0, planningStages())
	second := m.Decide(g, first.RetryCount, planningStages())
	if second.Decision != domain.DecisionRetry {
		t.Fatalf("decision = %s, want retry within budget", second.Decision)
	}
	third := m.Decide(g, second.RetryCount, planningStages())
	if third.Decision == domain.DecisionRetry {
		t.Fatalf("decision = %s, want budget exhausted after %d retries", third.Decision, m.MaxRetries)
	}
}
