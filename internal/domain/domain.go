package domain

import "errors"

// RequestCategory is the classified intent of a change request.
type RequestCategory string

const (
	CategoryNewProject  RequestCategory = "new_project"
	CategoryBugFix      RequestCategory = "bug_fix"
	CategoryEnhancement RequestCategory = "enhancement"
	CategoryRefactor    RequestCategory = "refactor"
)

// Tag returns the short form used inside iteration identifiers.
func (c RequestCategory) Tag() string {
	switch c {
	case CategoryNewProject:
		return "newproject"
	case CategoryBugFix:
		return "bugfix"
	case CategoryEnhancement:
		return "enhancement"
	case CategoryRefactor:
		return "refactor"
	}
	return "unknown"
}

// Valid reports whether c is one of the four known categories.
func (c RequestCategory) Valid() bool {
	switch c {
	case CategoryNewProject, CategoryBugFix, CategoryEnhancement, CategoryRefactor:
		return true
	}
	return false
}

// Phase is a workflow run's position in the state machine.
type Phase string

const (
	PhaseContextAnalysis Phase = "context_analysis"
	PhasePlanning        Phase = "planning"
	PhaseDevelopment     Phase = "development"
	PhaseValidation      Phase = "validation"
	PhaseCompleted       Phase = "completed"
	PhaseFailed          Phase = "failed"
)

// GatedPhases lists the phases that end with a quality gate, in order.
var GatedPhases = []Phase{PhasePlanning, PhaseDevelopment, PhaseValidation}

// Terminal reports whether the phase permits no further mutation.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Next returns the phase that follows p on the success path.
func (p Phase) Next() Phase {
	switch p {
	case PhaseContextAnalysis:
		return PhasePlanning
	case PhasePlanning:
		return PhaseDevelopment
	case PhaseDevelopment:
		return PhaseValidation
	case PhaseValidation:
		return PhaseCompleted
	}
	return p
}

type StageStatus string

const (
	StageIdle      StageStatus = "idle"
	StageActive    StageStatus = "active"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityBlocking Severity = "blocking"
)

type ArtifactKind string

const (
	KindRequirements   ArtifactKind = "requirements"
	KindDesign         ArtifactKind = "design"
	KindImplementation ArtifactKind = "implementation"
	KindTest           ArtifactKind = "test"
	KindValidation     ArtifactKind = "validation"
	KindOther          ArtifactKind = "other"
)

// FeedbackDecision is the outcome of the feedback loop after a failed gate.
type FeedbackDecision string

const (
	DecisionRetry              FeedbackDecision = "retry"
	DecisionAcceptWithWarnings FeedbackDecision = "accept_with_warnings"
	DecisionAbort              FeedbackDecision = "abort"
)

// Recoverable run-level conditions. Only config invariant violations and
// malformed input escape as hard orchestrator failures.
var (
	ErrClassificationAmbiguous = errors.New("classification ambiguous: no category signal and no override")
	ErrRetryExhausted          = errors.New("retry budget exhausted")
	ErrCriticalOverride        = errors.New("critical findings force gate failure")
	ErrCancelled               = errors.New("run cancelled")
)

type Project struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// ProjectContext is the immutable snapshot every component reads. It is
// built once per workflow invocation and never mutated afterwards.
type ProjectContext struct {
	ProjectID          string   `json:"project_id"`
	HasExistingProject bool     `json:"has_existing_project"`
	ArtifactPaths      []string `json:"artifact_paths,omitempty"`
	ArtifactKinds      []string `json:"artifact_kinds,omitempty"`
	OpenIssues         []string `json:"open_issues,omitempty"`
	RecentChanges      []string `json:"recent_changes,omitempty"`
	IterationID        *string  `json:"iteration_id,omitempty"`
}

// HasArtifactKind reports whether the snapshot contains an artifact of kind.
// ArtifactKinds is index-aligned with ArtifactPaths.
func (c ProjectContext) HasArtifactKind(kind ArtifactKind) bool {
	for _, k := range c.ArtifactKinds {
		if k == string(kind) {
			return true
		}
	}
	return false
}

// Classification is the classifier's verdict for one request.
type Classification struct {
	Category   RequestCategory         `json:"category"`
	Confidence float64                 `json:"confidence"`
	Matches    map[RequestCategory]int `json:"matches,omitempty"`
	Overridden bool                    `json:"overridden,omitempty"`
}

// StageSpec is one planned unit of pipeline work. Immutable once planned;
// each stage implicitly depends on every stage preceding it in the plan.
type StageSpec struct {
	Name                 string   `json:"name"`
	Phase                Phase    `json:"phase" enum:"planning,development,validation"`
	Task                 string   `json:"task"`
	RequiresQualityCheck bool     `json:"requires_quality_check"`
	DependsOn            []string `json:"depends_on,omitempty"`
}

// StageResult records one execution attempt of a stage. Retries append new
// results; a result is never reused.
type StageResult struct {
	Stage     string      `json:"stage"`
	Phase     Phase       `json:"phase"`
	Status    StageStatus `json:"status" enum:"idle,active,succeeded,failed,skipped"`
	Attempt   int         `json:"attempt"`
	Artifacts []Artifact  `json:"artifacts,omitempty"`
	Errors    []string    `json:"errors,omitempty"`
	Feedback  string      `json:"feedback,omitempty"`
	StartedAt string      `json:"started_at" format:"date-time"`
	EndedAt   string      `json:"ended_at,omitempty" format:"date-time"`
}

// QualityCriterion is one weighted quality dimension within a phase.
// Weights within a phase sum to 1.0; scores are 0-100.
type QualityCriterion struct {
	Name             string  `json:"name"`
	Weight           float64 `json:"weight"`
	Score            int     `json:"score"`
	Threshold        int     `json:"threshold"`
	CriticalFindings int     `json:"critical_findings,omitempty"`
}

type QualityGateResult struct {
	Phase           Phase              `json:"phase"`
	Score           float64            `json:"score"`
	Threshold       int                `json:"threshold"`
	Passed          bool               `json:"passed"`
	Severity        Severity           `json:"severity" enum:"info,warning,blocking"`
	Criteria        []QualityCriterion `json:"criteria"`
	Recommendations []string           `json:"recommendations,omitempty"`
	EvaluatedAt     string             `json:"evaluated_at" format:"date-time"`
}

// FeedbackAction is the feedback loop's decision after a failed gate.
type FeedbackAction struct {
	Decision     FeedbackDecision `json:"decision" enum:"retry,accept_with_warnings,abort"`
	Phase        Phase            `json:"phase"`
	TargetStages []string         `json:"target_stages,omitempty"`
	Feedback     string           `json:"feedback,omitempty"`
	RetryCount   int              `json:"retry_count"`
}

// Artifact is a revisioned output of one stage. Revisions for a logical
// path only grow; records are superseded, never deleted.
type Artifact struct {
	ID          string       `json:"id"`
	ProjectID   string       `json:"project_id"`
	IterationID string       `json:"iteration_id"`
	LogicalPath string       `json:"logical_path"`
	Stage       string       `json:"stage"`
	Kind        ArtifactKind `json:"kind" enum:"requirements,design,implementation,test,validation,other"`
	Revision    int          `json:"revision"`
	Content     string       `json:"content,omitempty"`
	CreatedAt   string       `json:"created_at" format:"date-time"`
}

type Iteration struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Ordinal   int             `json:"ordinal"`
	Category  RequestCategory `json:"category"`
	RunID     string          `json:"run_id"`
	CreatedAt string          `json:"created_at" format:"date-time"`
}

// WorkflowRun is the aggregate owned by the orchestrator for one
// invocation. It is serialized into the run record once terminal.
type WorkflowRun struct {
	ID          string                      `json:"id"`
	ProjectID   string                      `json:"project_id"`
	Description string                      `json:"description"`
	Phase       Phase                       `json:"phase"`
	Category    RequestCategory             `json:"category"`
	IterationID string                      `json:"iteration_id"`
	Stages      []StageSpec                 `json:"stages"`
	History     []StageResult               `json:"history"`
	Gates       map[Phase]QualityGateResult `json:"gates"`
	Retries     map[Phase]int               `json:"retries"`
	Warnings    []string                    `json:"warnings,omitempty"`
	StartedAt   string                      `json:"started_at" format:"date-time"`
	FinishedAt  string                      `json:"finished_at,omitempty" format:"date-time"`
}

// CompletionFraction is distinct planned stages executed to success over
// total planned stages.
func (r WorkflowRun) CompletionFraction() float64 {
	if len(r.Stages) == 0 {
		return 0
	}
	done := map[string]bool{}
	for _, h := range r.History {
		if h.Status == StageSucceeded {
			done[h.Stage] = true
		}
	}
	return float64(len(done)) / float64(len(r.Stages))
}

// WorkflowReport is the caller-facing summary every run produces, aborted
// runs included.
type WorkflowReport struct {
	RunID           string              `json:"run_id"`
	ProjectID       string              `json:"project_id"`
	IterationID     string              `json:"iteration_id"`
	Category        RequestCategory     `json:"category"`
	FinalPhase      Phase               `json:"final_phase"`
	PhaseScores     map[Phase]float64   `json:"phase_scores"`
	Gates           []QualityGateResult `json:"gates"`
	Artifacts       []Artifact          `json:"artifacts"`
	StageHistory    []StageResult       `json:"stage_history"`
	Recommendations []string            `json:"recommendations,omitempty"`
	Warnings        []string            `json:"warnings,omitempty"`
	Completion      float64             `json:"completion"`
	StartedAt       string              `json:"started_at" format:"date-time"`
	FinishedAt      string              `json:"finished_at" format:"date-time"`
}

type Issue struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Status    string `json:"status" enum:"open,closed"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
