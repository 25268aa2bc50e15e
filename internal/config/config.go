package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models stageline.yml: the data-driven tables the orchestrator
// runs on (classifier rules, stage sequences, quality gates, feedback
// owners) plus execution settings.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Classifier struct {
		// Rules is ordered; earlier entries win ties.
		Rules []ClassifierRule `yaml:"rules"`
	} `yaml:"classifier"`
	Planner struct {
		Sequences map[string][]SequenceStage `yaml:"sequences"`
		Triggers  []TriggerRule              `yaml:"triggers"`
	} `yaml:"planner"`
	Quality struct {
		Gates map[string]GateSpec `yaml:"gates"`
	} `yaml:"quality"`
	Feedback struct {
		MaxRetries int                 `yaml:"max_retries"`
		Owners     map[string][]string `yaml:"owners"`
	} `yaml:"feedback"`
	Execution struct {
		StageTimeoutSeconds int    `yaml:"stage_timeout_seconds"`
		Command             string `yaml:"command"`
	} `yaml:"execution"`
}

type ClassifierRule struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// SequenceStage is one entry of a category's base sequence. When names a
// planner predicate ("design-artifacts") gating conditional stages.
type SequenceStage struct {
	Name  string `yaml:"name"`
	Phase string `yaml:"phase"`
	When  string `yaml:"when,omitempty"`
}

// TriggerRule inserts a specialist stage when any keyword matches the
// request description.
type TriggerRule struct {
	Stage    string   `yaml:"stage"`
	Keywords []string `yaml:"keywords"`
}

type GateSpec struct {
	Threshold int             `yaml:"threshold"`
	Criteria  []CriterionSpec `yaml:"criteria"`
}

type CriterionSpec struct {
	Name      string  `yaml:"name"`
	Weight    float64 `yaml:"weight"`
	Threshold int     `yaml:"threshold"`
}

// InvariantError reports a quality-gate table that violates a startup
// invariant. It is fatal at load time, never at run time.
type InvariantError struct {
	Gate   string
	Detail string
}

func (e InvariantError) Error() string {
	return fmt.Sprintf("planning invariant violation: gate %s: %s", e.Gate, e.Detail)
}

var knownCategories = map[string]bool{
	"new_project": true,
	"bug_fix":     true,
	"enhancement": true,
	"refactor":    true,
}

var knownPhases = map[string]bool{
	"planning":    true,
	"development": true,
	"validation":  true,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sl project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure. Gate weight sums
// are checked here so violations surface before any run starts.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "software-project" {
		return fmt.Errorf("config.project.kind must be 'software-project'")
	}
	if len(c.Classifier.Rules) == 0 {
		return fmt.Errorf("config.classifier.rules is required")
	}
	for i, rule := range c.Classifier.Rules {
		if !knownCategories[rule.Category] {
			return fmt.Errorf("classifier rule %d has unknown category %s", i, rule.Category)
		}
		if len(rule.Keywords) == 0 {
			return fmt.Errorf("classifier rule for %s has no keywords", rule.Category)
		}
	}
	if len(c.Planner.Sequences) == 0 {
		return fmt.Errorf("config.planner.sequences is required")
	}
	stageNames := map[string]bool{}
	for cat := range knownCategories {
		seq, ok := c.Planner.Sequences[cat]
		if !ok || len(seq) == 0 {
			return fmt.Errorf("planner sequence for category %s is missing", cat)
		}
		for _, st := range seq {
			if st.Name == "" {
				return fmt.Errorf("sequence for %s has a stage without a name", cat)
			}
			if !knownPhases[st.Phase] {
				return fmt.Errorf("stage %s has unknown phase %s", st.Name, st.Phase)
			}
			stageNames[st.Name] = true
		}
	}
	for _, tr := range c.Planner.Triggers {
		if tr.Stage == "" {
			return fmt.Errorf("planner trigger has empty stage name")
		}
		if len(tr.Keywords) == 0 {
			return fmt.Errorf("trigger for stage %s has no keywords", tr.Stage)
		}
		stageNames[tr.Stage] = true
	}
	if len(c.Quality.Gates) == 0 {
		return fmt.Errorf("config.quality.gates is required")
	}
	criterionNames := map[string]bool{}
	for phase, gate := range c.Quality.Gates {
		if !knownPhases[phase] {
			return fmt.Errorf("quality gate for unknown phase %s", phase)
		}
		if gate.Threshold <= 0 || gate.Threshold > 100 {
			return InvariantError{Gate: phase, Detail: fmt.Sprintf("threshold %d out of range (1-100]", gate.Threshold)}
		}
		if len(gate.Criteria) == 0 {
			return InvariantError{Gate: phase, Detail: "no criteria defined"}
		}
		sum := 0.0
		for _, cr := range gate.Criteria {
			if cr.Name == "" {
				return InvariantError{Gate: phase, Detail: "criterion without a name"}
			}
			if cr.Weight <= 0 || cr.Weight > 1 {
				return InvariantError{Gate: phase, Detail: fmt.Sprintf("criterion %s weight %v out of range (0,1]", cr.Name, cr.Weight)}
			}
			sum += cr.Weight
			criterionNames[cr.Name] = true
		}
		if math.Abs(sum-1.0) > 1e-9 {
			return InvariantError{Gate: phase, Detail: fmt.Sprintf("criterion weights sum to %v, want 1.0", sum)}
		}
	}
	if c.Feedback.MaxRetries < 0 {
		return fmt.Errorf("config.feedback.max_retries must be >= 0")
	}
	for crit, owners := range c.Feedback.Owners {
		if !criterionNames[crit] {
			return fmt.Errorf("feedback owner entry for unknown criterion %s", crit)
		}
		if len(owners) == 0 {
			return fmt.Errorf("criterion %s has no owning stages", crit)
		}
		for _, stage := range owners {
			if !stageNames[stage] {
				return fmt.Errorf("criterion %s owned by unknown stage %s", crit, stage)
			}
		}
	}
	if c.Execution.StageTimeoutSeconds < 0 {
		return fmt.Errorf("config.execution.stage_timeout_seconds must be >= 0")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stageline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "software-project"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  kind: software-project

classifier:
  # Rule order is the tie-break order: the narrowest interpretation wins.
  rules:
    - category: bug_fix
      keywords: [broken, bug, defect, crash, error, failure, regression, incorrect, not working, "fix "]
    - category: enhancement
      keywords: ["add ", extend, enhance, improve, "support for", new feature, additional]
    - category: refactor
      keywords: [refactor, restructure, reorganize, clean up, simplify, technical debt, decouple, modularize]
    - category: new_project
      keywords: [from scratch, greenfield, new project, brand new, bootstrap, initial version]

planner:
  sequences:
    new_project:
      - {name: requirements-analysis, phase: planning}
      - {name: architecture-design, phase: planning}
      - {name: implementation, phase: development}
    bug_fix:
      - {name: defect-analysis, phase: planning}
      - {name: implementation, phase: development}
    enhancement:
      - {name: requirements-analysis, phase: planning}
      - {name: architecture-review, phase: planning, when: design-artifacts}
      - {name: implementation, phase: development}
    refactor:
      - {name: refactor-planning, phase: planning}
      - {name: refactor-execution, phase: development}
  triggers:
    - stage: historian-specialist
      keywords: [real-time, historian, time-series, telemetry, sampling rate]
    - stage: compliance-specialist
      keywords: [regulatory, compliance, audit trail, gmp, gxp]
    - stage: traceability-specialist
      keywords: [genealogy, traceability, lineage, batch record]
    - stage: performance-specialist
      keywords: [performance, optimize, latency, throughput, profiling]
    - stage: integration-specialist
      keywords: [integration, interface with, erp, mes, opc]

quality:
  gates:
    planning:
      threshold: 95
      criteria:
        - {name: requirements.completeness, weight: 0.35, threshold: 90}
        - {name: architecture.compliance, weight: 0.30, threshold: 90}
        - {name: scope.clarity, weight: 0.20, threshold: 85}
        - {name: risk.coverage, weight: 0.15, threshold: 80}
    development:
      threshold: 90
      criteria:
        - {name: code.quality, weight: 0.30, threshold: 85}
        - {name: architecture.compliance, weight: 0.25, threshold: 85}
        - {name: test.coverage, weight: 0.25, threshold: 80}
        - {name: security.findings, weight: 0.20, threshold: 90}
    validation:
      threshold: 85
      criteria:
        - {name: acceptance.coverage, weight: 0.40, threshold: 80}
        - {name: regression.safety, weight: 0.35, threshold: 80}
        - {name: documentation.completeness, weight: 0.25, threshold: 75}

feedback:
  max_retries: 2
  owners:
    requirements.completeness: [requirements-analysis, defect-analysis]
    architecture.compliance: [architecture-design, architecture-review, refactor-planning]
    scope.clarity: [requirements-analysis, refactor-planning]
    risk.coverage: [requirements-analysis, defect-analysis, refactor-planning]
    code.quality: [implementation, refactor-execution]
    test.coverage: [implementation]
    security.findings: [implementation, refactor-execution]
    acceptance.coverage: [implementation]
    regression.safety: [implementation, refactor-execution]
    documentation.completeness: [requirements-analysis, architecture-design]

execution:
  stage_timeout_seconds: 600
  command: ""
`
