package gate

import (
	"context"
	"fmt"
	"math"
	"time"

	"stageline/internal/config"
	"stageline/internal/domain"
)

// Scorer produces a 0-100 score and a critical-finding count for one
// quality criterion. Implementations range from static heuristics to
// external analyzers.
type Scorer interface {
	Score(ctx context.Context, in ScoreInput) (ScoreResult, error)
}

type ScoreInput struct {
	Phase     domain.Phase
	Criterion string
	Artifacts []domain.Artifact
	Project   domain.ProjectContext
}

type ScoreResult struct {
	Score            int
	CriticalFindings int
}

// Evaluator applies the configured quality gate for a phase: every
// criterion is scored, weighted into a composite, and compared to the
// gate threshold. Any critical finding fails the gate outright.
type Evaluator struct {
	Gates   map[string]config.GateSpec
	Scorers map[string]Scorer
	Default Scorer
	Now     func() time.Time
}

func New(cfg *config.Config, scorers map[string]Scorer, fallback Scorer) Evaluator {
	return Evaluator{Gates: cfg.Quality.Gates, Scorers: scorers, Default: fallback, Now: time.Now}
}

func (e Evaluator) scorerFor(criterion string) (Scorer, error) {
	if s, ok := e.Scorers[criterion]; ok {
		return s, nil
	}
	if e.Default != nil {
		return e.Default, nil
	}
	return nil, fmt.Errorf("no scorer for criterion %s", criterion)
}

// Evaluate runs the gate for phase. thresholdOverride, when non-nil,
// replaces the configured gate threshold for this run only.
func (e Evaluator) Evaluate(ctx context.Context, phase domain.Phase, artifacts []domain.Artifact, pctx domain.ProjectContext, thresholdOverride *int) (domain.QualityGateResult, error) {
	spec, ok := e.Gates[string(phase)]
	if !ok {
		return domain.QualityGateResult{}, fmt.Errorf("no quality gate configured for phase %s", phase)
	}
	threshold := spec.Threshold
	if thresholdOverride != nil {
		threshold = *thresholdOverride
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	result := domain.QualityGateResult{
		Phase:       phase,
		Threshold:   threshold,
		EvaluatedAt: now().UTC().Format(time.RFC3339),
	}

	weighted := 0.0
	criticals := 0
	for _, cr := range spec.Criteria {
		scorer, err := e.scorerFor(cr.Name)
		if err != nil {
			return domain.QualityGateResult{}, err
		}
		sr, err := scorer.Score(ctx, ScoreInput{Phase: phase, Criterion: cr.Name, Artifacts: artifacts, Project: pctx})
		if err != nil {
			return domain.QualityGateResult{}, fmt.Errorf("score %s: %w", cr.Name, err)
		}
		if sr.Score < 0 {
			sr.Score = 0
		}
		if sr.Score > 100 {
			sr.Score = 100
		}
		weighted += float64(sr.Score) * cr.Weight
		criticals += sr.CriticalFindings
		result.Criteria = append(result.Criteria, domain.QualityCriterion{
			Name:             cr.Name,
			Weight:           cr.Weight,
			Score:            sr.Score,
			Threshold:        cr.Threshold,
			CriticalFindings: sr.CriticalFindings,
		})
		if sr.Score < cr.Threshold {
			result.Recommendations = append(result.Recommendations,
				fmt.Sprintf("raise %s from %d to at least %d", cr.Name, sr.Score, cr.Threshold))
		}
	}

	result.Score = math.Round(weighted*100) / 100
	result.Passed = result.Score >= float64(threshold) && criticals == 0
	result.Severity = severityFor(result.Score, threshold, criticals, result.Passed)
	if criticals > 0 {
		result.Recommendations = append(result.Recommendations,
			fmt.Sprintf("resolve %d critical finding(s) before the gate can pass", criticals))
	}
	return result, nil
}

// severityFor bands the shortfall: within 10 points of the threshold is a
// warning, further out is blocking. Critical findings are always blocking.
func severityFor(score float64, threshold, criticals int, passed bool) domain.Severity {
	if passed {
		return domain.SeverityInfo
	}
	if criticals > 0 {
		return domain.SeverityBlocking
	}
	if score < float64(threshold)-10 {
		return domain.SeverityBlocking
	}
	return domain.SeverityWarning
}

// FailingCriteria returns the criteria below their own thresholds.
func FailingCriteria(g domain.QualityGateResult) []domain.QualityCriterion {
	var failing []domain.QualityCriterion
	for _, cr := range g.Criteria {
		if cr.Score < cr.Threshold || cr.CriticalFindings > 0 {
			failing = append(failing, cr)
		}
	}
	return failing
}
