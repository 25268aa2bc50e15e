package score

import (
	"context"
	"strings"

	"stageline/internal/domain"
	"stageline/internal/gate"
)

// Heuristic is the default scorer: it grades a criterion from the
// artifacts the phase produced. It is intentionally coarse; projects
// needing real analysis plug in their own scorers per criterion.
type Heuristic struct{}

// criterionKinds maps each criterion to the artifact kinds that can
// satisfy it.
var criterionKinds = map[string][]domain.ArtifactKind{
	"requirements.completeness":  {domain.KindRequirements},
	"architecture.compliance":    {domain.KindDesign, domain.KindImplementation},
	"scope.clarity":              {domain.KindRequirements, domain.KindDesign},
	"risk.coverage":              {domain.KindRequirements, domain.KindDesign},
	"code.quality":               {domain.KindImplementation},
	"test.coverage":              {domain.KindTest, domain.KindImplementation},
	"security.findings":          {domain.KindImplementation},
	"acceptance.coverage":        {domain.KindTest, domain.KindValidation, domain.KindImplementation},
	"regression.safety":          {domain.KindTest, domain.KindImplementation},
	"documentation.completeness": {domain.KindRequirements, domain.KindDesign},
}

func (Heuristic) Score(ctx context.Context, in gate.ScoreInput) (gate.ScoreResult, error) {
	if err := ctx.Err(); err != nil {
		return gate.ScoreResult{}, err
	}
	kinds, ok := criterionKinds[in.Criterion]
	if !ok {
		kinds = []domain.ArtifactKind{domain.KindOther}
	}

	if len(in.Artifacts) == 0 {
		return gate.ScoreResult{Score: 0}, nil
	}

	matched := 0
	substance := 0
	criticals := 0
	for _, a := range in.Artifacts {
		if !kindMatches(a.Kind, kinds) {
			continue
		}
		matched++
		if len(a.Content) >= 40 {
			substance += 10
		} else {
			substance += 5
		}
		criticals += countCritical(a.Content)
	}
	if matched == 0 {
		// Nothing speaks to this criterion; treat absence of evidence as
		// neutral rather than failing.
		return gate.ScoreResult{Score: 95}, nil
	}
	score := 85 + substance
	if score > 100 {
		score = 100
	}
	return gate.ScoreResult{Score: score, CriticalFindings: criticals}, nil
}

func kindMatches(kind domain.ArtifactKind, accepted []domain.ArtifactKind) bool {
	for _, k := range accepted {
		if k == kind {
			return true
		}
	}
	return false
}

// countCritical counts "CRITICAL:" markers left by runners in artifact
// content. External workers use the marker to force a gate failure.
func countCritical(content string) int {
	return strings.Count(content, "CRITICAL:")
}

// Static always returns the same result. Test and dry-run scorer.
type Static struct {
	Value     int
	Criticals int
}

func (s Static) Score(ctx context.Context, in gate.ScoreInput) (gate.ScoreResult, error) {
	return gate.ScoreResult{Score: s.Value, CriticalFindings: s.Criticals}, nil
}
