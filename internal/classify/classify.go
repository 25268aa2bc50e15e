package classify

import (
	"strings"

	"stageline/internal/config"
	"stageline/internal/domain"
)

// Classifier buckets a request description into one of the four request
// categories using the ordered keyword rule table from config. Rule order
// is the tie-break order.
type Classifier struct {
	Rules []config.ClassifierRule
}

func New(cfg *config.Config) Classifier {
	return Classifier{Rules: cfg.Classifier.Rules}
}

// Classify scores every rule against the lowercased description and picks
// the category with the most keyword hits. An empty project context (no
// existing project) forces NewProject unconditionally, before any keyword
// or emptiness check; an explicit override skips matching entirely. A
// description with no keyword signal at all is ambiguous, not a tie.
func (c Classifier) Classify(description string, pctx domain.ProjectContext, override domain.RequestCategory) (domain.Classification, error) {
	if override != "" {
		if !override.Valid() {
			return domain.Classification{}, domain.ErrClassificationAmbiguous
		}
		return domain.Classification{Category: override, Confidence: 1.0, Overridden: true}, nil
	}
	if !pctx.HasExistingProject {
		return domain.Classification{Category: domain.CategoryNewProject, Confidence: 1.0}, nil
	}
	if strings.TrimSpace(description) == "" {
		return domain.Classification{}, domain.ErrClassificationAmbiguous
	}

	lowered := strings.ToLower(description)
	matches := map[domain.RequestCategory]int{}
	total := 0
	best := domain.Classification{}
	for _, rule := range c.Rules {
		count := 0
		for _, kw := range rule.Keywords {
			count += strings.Count(lowered, strings.ToLower(kw))
		}
		cat := domain.RequestCategory(rule.Category)
		matches[cat] = count
		total += count
		// Strictly-greater keeps earlier rules winning ties.
		if best.Category == "" || count > matches[best.Category] {
			best.Category = cat
		}
	}
	if total == 0 {
		return domain.Classification{}, domain.ErrClassificationAmbiguous
	}
	best.Matches = matches
	best.Confidence = float64(matches[best.Category]) / float64(total)
	return best, nil
}
