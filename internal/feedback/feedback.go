package feedback

import (
	"fmt"
	"strings"

	"stageline/internal/config"
	"stageline/internal/domain"
	"stageline/internal/gate"
)

// Manager decides what happens after a failed quality gate: retry the
// owning stages with targeted feedback, accept the result with warnings,
// or abort the run.
type Manager struct {
	MaxRetries int
	Owners     map[string][]string
}

func New(cfg *config.Config) Manager {
	return Manager{MaxRetries: cfg.Feedback.MaxRetries, Owners: cfg.Feedback.Owners}
}

// Decide maps one failed gate result to a feedback action. retries is the
// number of retries already spent on this phase; planned is the run's
// stage list, which bounds the retry target set.
func (m Manager) Decide(g domain.QualityGateResult, retries int, planned []domain.StageSpec) domain.FeedbackAction {
	failing := gate.FailingCriteria(g)
	action := domain.FeedbackAction{
		Phase:      g.Phase,
		RetryCount: retries,
		Feedback:   describe(g, failing),
	}

	if criticalCount(failing) > 0 {
		action.Decision = domain.DecisionAbort
		return action
	}

	targets := m.targetStages(failing, planned)
	if len(targets) == 0 {
		// Nothing in this run can address the shortfall.
		action.Decision = domain.DecisionAcceptWithWarnings
		return action
	}

	if retries >= m.MaxRetries {
		if g.Severity == domain.SeverityBlocking {
			action.Decision = domain.DecisionAbort
		} else {
			action.Decision = domain.DecisionAcceptWithWarnings
		}
		return action
	}

	action.Decision = domain.DecisionRetry
	action.TargetStages = targets
	action.RetryCount = retries + 1
	return action
}

// targetStages intersects the owners of failing criteria with the planned
// stage set, preserving plan order and deduplicating.
func (m Manager) targetStages(failing []domain.QualityCriterion, planned []domain.StageSpec) []string {
	owned := map[string]bool{}
	for _, cr := range failing {
		for _, stage := range m.Owners[cr.Name] {
			owned[stage] = true
		}
	}
	var targets []string
	for _, st := range planned {
		if owned[st.Name] {
			targets = append(targets, st.Name)
		}
	}
	return targets
}

func criticalCount(failing []domain.QualityCriterion) int {
	n := 0
	for _, cr := range failing {
		n += cr.CriticalFindings
	}
	return n
}

// describe produces the feedback text handed to retried stages: which
// criteria fell short and by how much.
func describe(g domain.QualityGateResult, failing []domain.QualityCriterion) string {
	var parts []string
	for _, cr := range failing {
		if cr.CriticalFindings > 0 {
			parts = append(parts, fmt.Sprintf("%s has %d critical finding(s)", cr.Name, cr.CriticalFindings))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s scored %d, needs %d", cr.Name, cr.Score, cr.Threshold))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s gate scored %.1f, below threshold", g.Phase, g.Score)
	}
	return fmt.Sprintf("%s gate failed: %s", g.Phase, strings.Join(parts, "; "))
}
