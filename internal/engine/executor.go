package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stageline/internal/config"
	"stageline/internal/domain"
	"stageline/internal/events"
	"stageline/internal/feedback"
	"stageline/internal/gate"
	"stageline/internal/repo"
	"stageline/internal/stage"
)

func (e Engine) beginRun(ctx context.Context, run domain.WorkflowRun, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRun(ctx, tx, run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "run.started", run.ProjectID, "run", run.ID, actorID, events.EventPayload{
		"description": run.Description,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) recordClassification(ctx context.Context, run *domain.WorkflowRun, cls domain.Classification, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetRunIteration(ctx, tx, run.ID, run.IterationID, run.Category); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "run.classified", run.ProjectID, "run", run.ID, actorID, events.EventPayload{
		"category":   string(cls.Category),
		"confidence": cls.Confidence,
		"overridden": cls.Overridden,
		"iteration":  run.IterationID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) enterPhase(ctx context.Context, run *domain.WorkflowRun, phase domain.Phase, actorID string) error {
	run.Phase = phase
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateRunPhase(ctx, tx, run.ID, phase); err != nil {
		return err
	}
	return tx.Commit()
}

// runPhase executes a gated phase to its gate verdict, looping through
// feedback retries. done is true when the run reached a terminal state.
func (e Engine) runPhase(ctx context.Context, run *domain.WorkflowRun, cfg *config.Config, phase domain.Phase, pctx domain.ProjectContext, req RunRequest, manager feedback.Manager, evaluator gate.Evaluator, maxRetries int) (domain.WorkflowReport, bool, error) {
	targets := stagesOfPhase(run.Stages, phase)
	feedbackText := ""
	for {
		if ctx.Err() != nil {
			report, err := e.failRun(ctx, run, req.ActorID, "run cancelled", domain.ErrCancelled)
			return report, true, err
		}
		if err := e.executeStages(ctx, run, cfg, targets, feedbackText, pctx, req, maxRetries); err != nil {
			report, ferr := e.failRun(ctx, run, req.ActorID, err.Error(), err)
			return report, true, ferr
		}

		artifacts, err := e.runArtifacts(ctx, *run)
		if err != nil {
			return domain.WorkflowReport{}, true, err
		}
		g, err := evaluator.Evaluate(ctx, phase, artifacts, pctx, thresholdOverride(req, phase))
		if err != nil {
			report, ferr := e.failRun(ctx, run, req.ActorID, fmt.Sprintf("gate %s: %v", phase, err), err)
			return report, true, ferr
		}
		run.Gates[phase] = g
		if err := e.recordGate(ctx, run, g, req.ActorID); err != nil {
			return domain.WorkflowReport{}, true, err
		}
		if g.Passed {
			return domain.WorkflowReport{}, false, nil
		}

		action := manager.Decide(g, run.Retries[phase], run.Stages)
		switch action.Decision {
		case domain.DecisionRetry:
			run.Retries[phase] = action.RetryCount
			feedbackText = action.Feedback
			targets = specsByName(run.Stages, action.TargetStages)
			if err := e.recordRetry(ctx, run, action, req.ActorID); err != nil {
				return domain.WorkflowReport{}, true, err
			}
		case domain.DecisionAcceptWithWarnings:
			run.Warnings = append(run.Warnings, fmt.Sprintf("%s gate accepted with warnings: %s", phase, action.Feedback))
			return domain.WorkflowReport{}, false, nil
		case domain.DecisionAbort:
			cause := domain.ErrRetryExhausted
			if criticalFindings(g) > 0 {
				cause = domain.ErrCriticalOverride
			}
			report, err := e.failRun(ctx, run, req.ActorID, action.Feedback, cause)
			return report, true, err
		}
	}
}

// executeStages runs the given stages in plan order. A runner failure is
// retried with the same budget the gates use; exhaustion fails the run.
func (e Engine) executeStages(ctx context.Context, run *domain.WorkflowRun, cfg *config.Config, specs []domain.StageSpec, feedbackText string, pctx domain.ProjectContext, req RunRequest, maxRetries int) error {
	skip := map[string]bool{}
	for _, name := range req.SkipStages {
		skip[name] = true
	}
	for _, spec := range specs {
		if ctx.Err() != nil {
			return domain.ErrCancelled
		}
		if skip[spec.Name] {
			sr := domain.StageResult{
				Stage:     spec.Name,
				Phase:     spec.Phase,
				Status:    domain.StageSkipped,
				Attempt:   e.attemptsFor(*run, spec.Name) + 1,
				StartedAt: e.ts(),
				EndedAt:   e.ts(),
			}
			run.History = append(run.History, sr)
			if err := e.recordStageResult(ctx, run, sr, req.ActorID, "stage.completed"); err != nil {
				return err
			}
			continue
		}
		if err := e.executeWithRetries(ctx, run, cfg, spec, feedbackText, pctx, req, maxRetries); err != nil {
			return err
		}
	}
	return nil
}

func (e Engine) executeWithRetries(ctx context.Context, run *domain.WorkflowRun, cfg *config.Config, spec domain.StageSpec, feedbackText string, pctx domain.ProjectContext, req RunRequest, maxRetries int) error {
	fb := feedbackText
	for {
		attempt := e.attemptsFor(*run, spec.Name) + 1
		sr, err := e.executeStage(ctx, run, cfg, spec, attempt, fb, pctx, req.ActorID)
		run.History = append(run.History, sr)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return domain.ErrCancelled
		}
		if attempt > maxRetries {
			return fmt.Errorf("stage %s failed after %d attempt(s): %w", spec.Name, attempt, domain.ErrRetryExhausted)
		}
		fb = fmt.Sprintf("previous attempt failed: %v", err)
	}
}

// executeStage runs one attempt under the configured timeout and persists
// the result. The returned error is the runner's failure, already folded
// into the stage result.
func (e Engine) executeStage(ctx context.Context, run *domain.WorkflowRun, cfg *config.Config, spec domain.StageSpec, attempt int, feedbackText string, pctx domain.ProjectContext, actorID string) (domain.StageResult, error) {
	sr := domain.StageResult{
		Stage:     spec.Name,
		Phase:     spec.Phase,
		Status:    domain.StageActive,
		Attempt:   attempt,
		Feedback:  feedbackText,
		StartedAt: e.ts(),
	}
	if err := e.appendEvent(ctx, run, "stage.started", actorID, events.EventPayload{
		"stage":   spec.Name,
		"attempt": attempt,
	}); err != nil {
		return sr, err
	}

	runCtx := ctx
	if cfg.Execution.StageTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Execution.StageTimeoutSeconds)*time.Second)
		defer cancel()
	}
	out, err := e.Runner.Run(runCtx, stage.Request{
		RunID:       run.ID,
		ProjectID:   run.ProjectID,
		IterationID: run.IterationID,
		Stage:       spec,
		Attempt:     attempt,
		Feedback:    feedbackText,
		Context:     pctx,
	})
	sr.EndedAt = e.ts()
	if err != nil {
		sr.Status = domain.StageFailed
		sr.Errors = []string{err.Error()}
		if recErr := e.recordStageResult(ctx, run, sr, actorID, "stage.failed"); recErr != nil {
			return sr, recErr
		}
		return sr, err
	}

	for _, draft := range out.Artifacts {
		a, err := e.Tracker.RecordArtifact(ctx, run.ProjectID, run.IterationID, spec.Name, draft.LogicalPath, draft.Kind, draft.Content)
		if err != nil {
			sr.Status = domain.StageFailed
			sr.Errors = []string{fmt.Sprintf("record artifact %s: %v", draft.LogicalPath, err)}
			if recErr := e.recordStageResult(ctx, run, sr, actorID, "stage.failed"); recErr != nil {
				return sr, recErr
			}
			return sr, err
		}
		sr.Artifacts = append(sr.Artifacts, a)
	}
	sr.Status = domain.StageSucceeded
	if err := e.recordStageResult(ctx, run, sr, actorID, "stage.completed"); err != nil {
		return sr, err
	}
	return sr, nil
}

func (e Engine) recordStageResult(ctx context.Context, run *domain.WorkflowRun, sr domain.StageResult, actorID, evtType string) error {
	// Results are recorded even when the attempt was cancelled.
	ctx = context.WithoutCancel(ctx)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertStageResult(ctx, tx, run.ID, sr); err != nil {
		return err
	}
	payload := events.EventPayload{
		"stage":   sr.Stage,
		"status":  string(sr.Status),
		"attempt": sr.Attempt,
	}
	if len(sr.Errors) > 0 {
		payload["errors"] = sr.Errors
	}
	if err := e.Events.Append(ctx, tx, evtType, run.ProjectID, "run", run.ID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) recordGate(ctx context.Context, run *domain.WorkflowRun, g domain.QualityGateResult, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertGateResult(ctx, tx, run.ID, g); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "gate.evaluated", run.ProjectID, "run", run.ID, actorID, events.EventPayload{
		"phase":    string(g.Phase),
		"score":    g.Score,
		"passed":   g.Passed,
		"severity": string(g.Severity),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) recordRetry(ctx context.Context, run *domain.WorkflowRun, action domain.FeedbackAction, actorID string) error {
	return e.appendEvent(ctx, run, "retry.issued", actorID, events.EventPayload{
		"phase":    string(action.Phase),
		"retry":    action.RetryCount,
		"targets":  action.TargetStages,
		"feedback": action.Feedback,
	})
}

func (e Engine) appendEvent(ctx context.Context, run *domain.WorkflowRun, evtType, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, run.ProjectID, "run", run.ID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) runArtifacts(ctx context.Context, run domain.WorkflowRun) ([]domain.Artifact, error) {
	if run.IterationID == "" {
		return nil, nil
	}
	return e.Repo.ListArtifacts(ctx, repo.ArtifactFilters{
		ProjectID:   run.ProjectID,
		IterationID: run.IterationID,
		LatestOnly:  true,
	})
}

func (e Engine) attemptsFor(run domain.WorkflowRun, stageName string) int {
	n := 0
	for _, sr := range run.History {
		if sr.Stage == stageName {
			n++
		}
	}
	return n
}

// failRun finalizes an aborted or errored run. The returned error is the
// cause; the report is still fully populated. Persistence runs detached
// from the caller's context so a cancelled run still records its terminal
// state.
func (e Engine) failRun(ctx context.Context, run *domain.WorkflowRun, actorID, reason string, cause error) (domain.WorkflowReport, error) {
	ctx = context.WithoutCancel(ctx)
	run.Phase = domain.PhaseFailed
	run.FinishedAt = e.ts()
	if reason != "" {
		run.Warnings = append(run.Warnings, reason)
	}
	report, err := e.buildReport(ctx, *run)
	if err != nil {
		return domain.WorkflowReport{}, err
	}
	if err := e.finishRun(ctx, *run, report, "run.failed", actorID, events.EventPayload{"reason": reason}); err != nil {
		return domain.WorkflowReport{}, err
	}
	return report, cause
}

func (e Engine) finishRun(ctx context.Context, run domain.WorkflowRun, report domain.WorkflowReport, evtType, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.FinishRun(ctx, tx, run.ID, run.Phase, run.FinishedAt, report); err != nil {
		return err
	}
	if payload == nil {
		payload = events.EventPayload{}
	}
	payload["phase"] = string(run.Phase)
	payload["completion"] = report.Completion
	if err := e.Events.Append(ctx, tx, evtType, run.ProjectID, "run", run.ID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) buildReport(ctx context.Context, run domain.WorkflowRun) (domain.WorkflowReport, error) {
	artifacts, err := e.runArtifacts(ctx, run)
	if err != nil {
		return domain.WorkflowReport{}, err
	}
	report := domain.WorkflowReport{
		RunID:        run.ID,
		ProjectID:    run.ProjectID,
		IterationID:  run.IterationID,
		Category:     run.Category,
		FinalPhase:   run.Phase,
		PhaseScores:  map[domain.Phase]float64{},
		Artifacts:    artifacts,
		StageHistory: run.History,
		Warnings:     run.Warnings,
		Completion:   run.CompletionFraction(),
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}
	if report.FinishedAt == "" {
		report.FinishedAt = e.ts()
	}
	for _, phase := range domain.GatedPhases {
		g, ok := run.Gates[phase]
		if !ok {
			continue
		}
		report.PhaseScores[phase] = g.Score
		report.Gates = append(report.Gates, g)
		report.Recommendations = append(report.Recommendations, g.Recommendations...)
	}
	return report, nil
}

func stagesOfPhase(stages []domain.StageSpec, phase domain.Phase) []domain.StageSpec {
	var out []domain.StageSpec
	for _, st := range stages {
		if st.Phase == phase {
			out = append(out, st)
		}
	}
	return out
}

func specsByName(stages []domain.StageSpec, names []string) []domain.StageSpec {
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	var out []domain.StageSpec
	for _, st := range stages {
		if want[st.Name] {
			out = append(out, st)
		}
	}
	return out
}

func thresholdOverride(req RunRequest, phase domain.Phase) *int {
	if req.ThresholdOverrides == nil {
		return nil
	}
	if v, ok := req.ThresholdOverrides[phase]; ok {
		return &v
	}
	return nil
}

func criticalFindings(g domain.QualityGateResult) int {
	n := 0
	for _, cr := range g.Criteria {
		n += cr.CriticalFindings
	}
	return n
}
