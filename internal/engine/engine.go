package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stageline/internal/app"
	"stageline/internal/classify"
	"stageline/internal/config"
	"stageline/internal/domain"
	"stageline/internal/events"
	"stageline/internal/feedback"
	"stageline/internal/gate"
	"stageline/internal/plan"
	"stageline/internal/repo"
	"stageline/internal/score"
	"stageline/internal/stage"
	"stageline/internal/track"
)

// Engine owns the workflow state machine. One Execute call takes a change
// request from classification through planning, staged execution, quality
// gates and feedback loops to a terminal report.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Tracker *track.Tracker
	Runner  stage.Runner
	Scorers map[string]gate.Scorer
	Scorer  gate.Scorer
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	e := Engine{
		DB:      db,
		Repo:    r,
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Tracker: track.New(db, r),
		Runner:  stage.TemplateRunner{},
		Scorer:  score.Heuristic{},
		Now:     time.Now,
	}
	if cfg != nil && cfg.Execution.Command != "" {
		e.Runner = stage.NewCommandRunner(cfg.Execution.Command)
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) ts() string {
	return e.now().UTC().Format(time.RFC3339)
}

// InitProject initializes a new project with migrations already run.
func (e Engine) InitProject(ctx context.Context, projectID, description, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:          projectID,
		Kind:        "software-project",
		Status:      "active",
		Description: description,
		CreatedAt:   e.ts(),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,kind,status,description,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Kind, p.Status, nullable(p.Description), p.CreatedAt); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	now := e.ts()
	if _, err := tx.ExecContext(ctx, `INSERT INTO project_configs(project_id,yaml,updated_at) VALUES (?,?,?)`,
		p.ID, config.GenerateDefault(p.ID), now); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.init", p.ID, "project", p.ID, actorID, events.EventPayload{"status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// CreateIssue records an open issue against a project.
func (e Engine) CreateIssue(ctx context.Context, projectID, title, actorID string) (domain.Issue, error) {
	if title == "" {
		return domain.Issue{}, errors.New("title is required")
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.Issue{}, err
	}
	now := e.ts()
	issue := domain.Issue{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Title:     title,
		Status:    "open",
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO issues(id,project_id,title,status,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		issue.ID, issue.ProjectID, issue.Title, issue.Status, issue.CreatedAt, issue.UpdatedAt); err != nil {
		return domain.Issue{}, err
	}
	if err := e.Events.Append(ctx, tx, "issue.opened", projectID, "issue", issue.ID, actorID, events.EventPayload{"title": title}); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

// CloseIssue marks an issue closed.
func (e Engine) CloseIssue(ctx context.Context, issueID, actorID string) (domain.Issue, error) {
	issue, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return domain.Issue{}, err
	}
	now := e.ts()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `UPDATE issues SET status='closed', updated_at=? WHERE id=?`, now, issueID); err != nil {
		return domain.Issue{}, err
	}
	if err := e.Events.Append(ctx, tx, "issue.closed", issue.ProjectID, "issue", issueID, actorID, nil); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	issue.Status = "closed"
	issue.UpdatedAt = now
	return issue, nil
}

// effectiveConfig prefers the stored per-project config, then the config
// the engine was constructed with, then built-in defaults.
func (e Engine) effectiveConfig(ctx context.Context, projectID string) (*config.Config, error) {
	cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if e.Config != nil {
		return e.Config, nil
	}
	return config.Default(projectID), nil
}

// RunRequest are the parameters of one workflow invocation.
type RunRequest struct {
	ProjectID          string
	Description        string
	OverrideCategory   domain.RequestCategory
	ThresholdOverrides map[domain.Phase]int
	SkipStages         []string
	MaxRetries         *int
	ActorID            string
}

// Execute drives a workflow run to a terminal phase. Every run produces a
// report, aborted runs included; the error signals why the run did not
// complete.
func (e Engine) Execute(ctx context.Context, req RunRequest) (domain.WorkflowReport, error) {
	if req.ActorID == "" {
		req.ActorID = "system"
	}
	if _, err := e.Repo.GetProject(ctx, req.ProjectID); err != nil {
		return domain.WorkflowReport{}, fmt.Errorf("project %s: %w", req.ProjectID, err)
	}
	cfg, err := e.effectiveConfig(ctx, req.ProjectID)
	if err != nil {
		return domain.WorkflowReport{}, err
	}
	pctx, err := app.LoadProjectContext(ctx, e.Repo, req.ProjectID)
	if err != nil {
		return domain.WorkflowReport{}, err
	}

	run := domain.WorkflowRun{
		ID:          uuid.NewString(),
		ProjectID:   req.ProjectID,
		Description: req.Description,
		Phase:       domain.PhaseContextAnalysis,
		Gates:       map[domain.Phase]domain.QualityGateResult{},
		Retries:     map[domain.Phase]int{},
		StartedAt:   e.ts(),
	}
	if err := e.beginRun(ctx, run, req.ActorID); err != nil {
		return domain.WorkflowReport{}, err
	}

	classifier := classify.New(cfg)
	cls, err := classifier.Classify(req.Description, pctx, req.OverrideCategory)
	if err != nil {
		return e.failRun(ctx, &run, req.ActorID, err.Error(), err)
	}
	run.Category = cls.Category

	it, err := e.Tracker.StartIteration(ctx, req.ProjectID, cls.Category, run.ID)
	if err != nil {
		return e.failRun(ctx, &run, req.ActorID, fmt.Sprintf("start iteration: %v", err), err)
	}
	run.IterationID = it.ID
	if err := e.recordClassification(ctx, &run, cls, req.ActorID); err != nil {
		return domain.WorkflowReport{}, err
	}

	planner := plan.New(cfg)
	stages, err := planner.Plan(cls.Category, req.Description, pctx)
	if err != nil {
		return e.failRun(ctx, &run, req.ActorID, fmt.Sprintf("plan: %v", err), err)
	}
	run.Stages = stages

	maxRetries := cfg.Feedback.MaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	manager := feedback.Manager{MaxRetries: maxRetries, Owners: cfg.Feedback.Owners}
	evaluator := gate.New(cfg, e.Scorers, e.scorer())
	evaluator.Now = e.Now

	for _, phase := range domain.GatedPhases {
		if err := e.enterPhase(ctx, &run, phase, req.ActorID); err != nil {
			return domain.WorkflowReport{}, err
		}
		report, done, err := e.runPhase(ctx, &run, cfg, phase, pctx, req, manager, evaluator, maxRetries)
		if done {
			return report, err
		}
	}

	run.Phase = domain.PhaseCompleted
	run.FinishedAt = e.ts()
	report, err := e.buildReport(ctx, run)
	if err != nil {
		return domain.WorkflowReport{}, err
	}
	if err := e.finishRun(ctx, run, report, "run.completed", req.ActorID, nil); err != nil {
		return domain.WorkflowReport{}, err
	}
	return report, nil
}

func (e Engine) scorer() gate.Scorer {
	if e.Scorer != nil {
		return e.Scorer
	}
	return score.Heuristic{}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
