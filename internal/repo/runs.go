package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"stageline/internal/domain"
)

func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run domain.WorkflowRun) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO runs(id,project_id,phase,category,iteration_id,description,started_at) VALUES (?,?,?,?,?,?,?)`,
		run.ID, run.ProjectID, string(run.Phase), string(run.Category), nullable(run.IterationID), run.Description, run.StartedAt)
	return err
}

func (r Repo) UpdateRunPhase(ctx context.Context, tx *sql.Tx, runID string, phase domain.Phase) error {
	_, err := tx.ExecContext(ctx, `UPDATE runs SET phase=? WHERE id=?`, string(phase), runID)
	return err
}

func (r Repo) SetRunIteration(ctx context.Context, tx *sql.Tx, runID, iterationID string, category domain.RequestCategory) error {
	_, err := tx.ExecContext(ctx, `UPDATE runs SET iteration_id=?, category=? WHERE id=?`, iterationID, string(category), runID)
	return err
}

// FinishRun records the terminal phase and the serialized report.
func (r Repo) FinishRun(ctx context.Context, tx *sql.Tx, runID string, phase domain.Phase, finishedAt string, report domain.WorkflowReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE runs SET phase=?, finished_at=?, report_json=? WHERE id=?`,
		string(phase), finishedAt, string(payload), runID)
	return err
}

type RunRow struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	Phase       domain.Phase    `json:"phase"`
	Category    domain.RequestCategory `json:"category"`
	IterationID string          `json:"iteration_id,omitempty"`
	Description string          `json:"description"`
	StartedAt   string          `json:"started_at"`
	FinishedAt  string          `json:"finished_at,omitempty"`
}

func scanRunRow(scan func(dest ...any) error) (RunRow, error) {
	var row RunRow
	var phase, category string
	var iterationID, finishedAt sql.NullString
	err := scan(&row.ID, &row.ProjectID, &phase, &category, &iterationID, &row.Description, &row.StartedAt, &finishedAt)
	if err != nil {
		return row, err
	}
	row.Phase = domain.Phase(phase)
	row.Category = domain.RequestCategory(category)
	if iterationID.Valid {
		row.IterationID = iterationID.String
	}
	if finishedAt.Valid {
		row.FinishedAt = finishedAt.String
	}
	return row, nil
}

func (r Repo) GetRun(ctx context.Context, id string) (RunRow, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,project_id,phase,category,iteration_id,description,started_at,finished_at FROM runs WHERE id=?`, id)
	res, err := scanRunRow(row.Scan)
	if err == sql.ErrNoRows {
		return res, ErrNotFound
	}
	return res, err
}

// GetRunReport returns the report for a finished run, ErrNotFound while the
// run is still in flight.
func (r Repo) GetRunReport(ctx context.Context, id string) (domain.WorkflowReport, error) {
	var payload sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT report_json FROM runs WHERE id=?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.WorkflowReport{}, ErrNotFound
	}
	if err != nil {
		return domain.WorkflowReport{}, err
	}
	if !payload.Valid {
		return domain.WorkflowReport{}, ErrNotFound
	}
	var report domain.WorkflowReport
	if err := json.Unmarshal([]byte(payload.String), &report); err != nil {
		return domain.WorkflowReport{}, err
	}
	return report, nil
}

type RunFilters struct {
	ProjectID string
	Phase     string
	Limit     int
}

func (r Repo) ListRuns(ctx context.Context, f RunFilters) ([]RunRow, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Phase != "" {
		clauses = append(clauses, "phase=?")
		args = append(args, f.Phase)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,project_id,phase,category,iteration_id,description,started_at,finished_at FROM runs ` + where + ` ORDER BY started_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []RunRow
	for rows.Next() {
		row, err := scanRunRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, rows.Err()
}

func (r Repo) InsertStageResult(ctx context.Context, tx *sql.Tx, runID string, sr domain.StageResult) error {
	var errorsJSON any
	if len(sr.Errors) > 0 {
		payload, err := json.Marshal(sr.Errors)
		if err != nil {
			return err
		}
		errorsJSON = string(payload)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO stage_results(run_id,stage,phase,status,attempt,errors_json,feedback,started_at,ended_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		runID, sr.Stage, string(sr.Phase), string(sr.Status), sr.Attempt, errorsJSON, nullable(sr.Feedback), sr.StartedAt, nullable(sr.EndedAt))
	return err
}

func (r Repo) ListStageResults(ctx context.Context, runID string) ([]domain.StageResult, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT stage,phase,status,attempt,errors_json,feedback,started_at,ended_at FROM stage_results WHERE run_id=? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StageResult
	for rows.Next() {
		var sr domain.StageResult
		var phase, status string
		var errorsJSON, feedback, endedAt sql.NullString
		if err := rows.Scan(&sr.Stage, &phase, &status, &sr.Attempt, &errorsJSON, &feedback, &sr.StartedAt, &endedAt); err != nil {
			return nil, err
		}
		sr.Phase = domain.Phase(phase)
		sr.Status = domain.StageStatus(status)
		if errorsJSON.Valid {
			if err := json.Unmarshal([]byte(errorsJSON.String), &sr.Errors); err != nil {
				return nil, err
			}
		}
		if feedback.Valid {
			sr.Feedback = feedback.String
		}
		if endedAt.Valid {
			sr.EndedAt = endedAt.String
		}
		res = append(res, sr)
	}
	return res, rows.Err()
}

func (r Repo) InsertGateResult(ctx context.Context, tx *sql.Tx, runID string, g domain.QualityGateResult) error {
	detail, err := json.Marshal(g)
	if err != nil {
		return err
	}
	passed := 0
	if g.Passed {
		passed = 1
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO gate_results(run_id,phase,score,passed,severity,detail_json,evaluated_at) VALUES (?,?,?,?,?,?,?)`,
		runID, string(g.Phase), g.Score, passed, string(g.Severity), string(detail), g.EvaluatedAt)
	return err
}

func (r Repo) ListGateResults(ctx context.Context, runID string) ([]domain.QualityGateResult, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT detail_json FROM gate_results WHERE run_id=? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QualityGateResult
	for rows.Next() {
		var detail string
		if err := rows.Scan(&detail); err != nil {
			return nil, err
		}
		var g domain.QualityGateResult
		if err := json.Unmarshal([]byte(detail), &g); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}
