package repo

import (
	"context"
	"database/sql"
	"strings"

	"stageline/internal/domain"
)

func (r Repo) InsertIssue(ctx context.Context, issue domain.Issue) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO issues(id,project_id,title,status,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		issue.ID, issue.ProjectID, issue.Title, issue.Status, issue.CreatedAt, issue.UpdatedAt)
	return err
}

func (r Repo) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	var issue domain.Issue
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,title,status,created_at,updated_at FROM issues WHERE id=?`, id).
		Scan(&issue.ID, &issue.ProjectID, &issue.Title, &issue.Status, &issue.CreatedAt, &issue.UpdatedAt)
	if err == sql.ErrNoRows {
		return issue, ErrNotFound
	}
	return issue, err
}

func (r Repo) UpdateIssueStatus(ctx context.Context, id, status, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE issues SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListIssues(ctx context.Context, projectID, status string) ([]domain.Issue, error) {
	clauses := []string{"project_id=?"}
	args := []any{projectID}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	query := `SELECT id,project_id,title,status,created_at,updated_at FROM issues WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		var issue domain.Issue
		if err := rows.Scan(&issue.ID, &issue.ProjectID, &issue.Title, &issue.Status, &issue.CreatedAt, &issue.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, issue)
	}
	return res, rows.Err()
}
