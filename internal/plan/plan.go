package plan

import (
	"fmt"
	"strings"

	"stageline/internal/config"
	"stageline/internal/domain"
)

// Conditional-stage predicates named by sequence "when" clauses.
const whenDesignArtifacts = "design-artifacts"

// Planner expands a classification into an ordered stage pipeline: the
// category's base sequence, minus conditional stages whose predicate does
// not hold, plus specialist stages whose trigger keywords match.
type Planner struct {
	Sequences map[string][]config.SequenceStage
	Triggers  []config.TriggerRule
}

func New(cfg *config.Config) Planner {
	return Planner{Sequences: cfg.Planner.Sequences, Triggers: cfg.Planner.Triggers}
}

// Plan returns the immutable stage list for one run. The plan never changes
// after this call; retries re-execute planned stages, they never replan.
func (p Planner) Plan(category domain.RequestCategory, description string, pctx domain.ProjectContext) ([]domain.StageSpec, error) {
	base, ok := p.Sequences[string(category)]
	if !ok {
		return nil, fmt.Errorf("no sequence for category %s", category)
	}

	var stages []domain.StageSpec
	for _, st := range base {
		if st.When != "" && !predicateHolds(st.When, pctx) {
			continue
		}
		stages = append(stages, domain.StageSpec{
			Name:                 st.Name,
			Phase:                domain.Phase(st.Phase),
			Task:                 description,
			RequiresQualityCheck: true,
		})
	}

	stages = insertSpecialists(stages, p.matchTriggers(description), description)

	// Refactor pipelines skip the per-stage quality check on the final
	// execution stage; the development gate still runs.
	if category == domain.CategoryRefactor && len(stages) > 0 {
		stages[len(stages)-1].RequiresQualityCheck = false
	}

	// Each stage depends on everything before it.
	for i := range stages {
		for j := 0; j < i; j++ {
			stages[i].DependsOn = append(stages[i].DependsOn, stages[j].Name)
		}
	}
	return stages, nil
}

func predicateHolds(when string, pctx domain.ProjectContext) bool {
	switch when {
	case whenDesignArtifacts:
		return pctx.HasArtifactKind(domain.KindDesign)
	}
	return false
}

func (p Planner) matchTriggers(description string) []string {
	lowered := strings.ToLower(description)
	var matched []string
	for _, tr := range p.Triggers {
		for _, kw := range tr.Keywords {
			if strings.Contains(lowered, strings.ToLower(kw)) {
				matched = append(matched, tr.Stage)
				break
			}
		}
	}
	return matched
}

// insertSpecialists places triggered specialist stages after the last
// planning stage when one exists, otherwise before the first development
// stage, otherwise at the end.
func insertSpecialists(stages []domain.StageSpec, specialists []string, description string) []domain.StageSpec {
	if len(specialists) == 0 {
		return stages
	}
	at := len(stages)
	lastPlanning := -1
	firstDevelopment := -1
	for i, st := range stages {
		if st.Phase == domain.PhasePlanning {
			lastPlanning = i
		}
		if st.Phase == domain.PhaseDevelopment && firstDevelopment < 0 {
			firstDevelopment = i
		}
	}
	if lastPlanning >= 0 {
		at = lastPlanning + 1
	} else if firstDevelopment >= 0 {
		at = firstDevelopment
	}

	var inserted []domain.StageSpec
	for _, name := range specialists {
		inserted = append(inserted, domain.StageSpec{
			Name:                 name,
			Phase:                domain.PhasePlanning,
			Task:                 description,
			RequiresQualityCheck: true,
		})
	}
	out := make([]domain.StageSpec, 0, len(stages)+len(inserted))
	out = append(out, stages[:at]...)
	out = append(out, inserted...)
	out = append(out, stages[at:]...)
	return out
}
