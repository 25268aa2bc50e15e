package repo

import (
	"context"
	"database/sql"
	"strings"

	"stageline/internal/domain"
)

// NextArtifactRevision reads the highest revision for a logical path inside
// the caller's tx. Revisions only grow; the UNIQUE constraint on
// (project_id, logical_path, revision) backstops concurrent writers.
func (r Repo) NextArtifactRevision(ctx context.Context, tx *sql.Tx, projectID, logicalPath string) (int, error) {
	var max int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(revision),0) FROM artifacts WHERE project_id=? AND logical_path=?`,
		projectID, logicalPath).Scan(&max)
	return max + 1, err
}

func (r Repo) InsertArtifact(ctx context.Context, tx *sql.Tx, a domain.Artifact) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO artifacts(id,project_id,iteration_id,logical_path,stage,kind,revision,content,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ProjectID, a.IterationID, a.LogicalPath, a.Stage, string(a.Kind), a.Revision, nullable(a.Content), a.CreatedAt)
	return err
}

func (r Repo) GetArtifact(ctx context.Context, id string) (domain.Artifact, error) {
	var a domain.Artifact
	var kind string
	var content sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,iteration_id,logical_path,stage,kind,revision,content,created_at FROM artifacts WHERE id=?`, id).
		Scan(&a.ID, &a.ProjectID, &a.IterationID, &a.LogicalPath, &a.Stage, &kind, &a.Revision, &content, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.Kind = domain.ArtifactKind(kind)
	if content.Valid {
		a.Content = content.String
	}
	return a, err
}

type ArtifactFilters struct {
	ProjectID   string
	IterationID string
	Stage       string
	Kind        string
	LatestOnly  bool
	Limit       int
}

func (r Repo) ListArtifacts(ctx context.Context, f ArtifactFilters) ([]domain.Artifact, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.IterationID != "" {
		clauses = append(clauses, "iteration_id=?")
		args = append(args, f.IterationID)
	}
	if f.Stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, f.Stage)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.LatestOnly {
		clauses = append(clauses, `revision = (SELECT MAX(revision) FROM artifacts a2 WHERE a2.project_id=artifacts.project_id AND a2.logical_path=artifacts.logical_path)`)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,project_id,iteration_id,logical_path,stage,kind,revision,content,created_at FROM artifacts ` + where + ` ORDER BY logical_path ASC, revision DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var kind string
		var content sql.NullString
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.IterationID, &a.LogicalPath, &a.Stage, &kind, &a.Revision, &content, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Kind = domain.ArtifactKind(kind)
		if content.Valid {
			a.Content = content.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ArtifactHistory returns every revision for one logical path, oldest first.
func (r Repo) ArtifactHistory(ctx context.Context, projectID, logicalPath string) ([]domain.Artifact, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,iteration_id,logical_path,stage,kind,revision,content,created_at FROM artifacts WHERE project_id=? AND logical_path=? ORDER BY revision ASC`,
		projectID, logicalPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var kind string
		var content sql.NullString
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.IterationID, &a.LogicalPath, &a.Stage, &kind, &a.Revision, &content, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Kind = domain.ArtifactKind(kind)
		if content.Valid {
			a.Content = content.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
