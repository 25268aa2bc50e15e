package track

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"stageline/internal/domain"
	"stageline/internal/repo"
)

// Tracker mints iteration identifiers and revisioned artifact records.
// Ordinals and revisions are read-then-insert inside one transaction, with
// a per-project lock serializing in-process writers; the UNIQUE
// constraints backstop anything else.
type Tracker struct {
	DB   *sql.DB
	Repo repo.Repo
	Now  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(db *sql.DB, r repo.Repo) *Tracker {
	return &Tracker{DB: db, Repo: r, Now: time.Now, locks: map[string]*sync.Mutex{}}
}

func (t *Tracker) projectLock(projectID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[projectID] = l
	}
	return l
}

// StartIteration allocates the next ordinal for the project and records
// the iteration. The identifier is "<ordinal>-<category tag>-<timestamp>".
func (t *Tracker) StartIteration(ctx context.Context, projectID string, category domain.RequestCategory, runID string) (domain.Iteration, error) {
	lock := t.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Iteration{}, err
	}
	defer tx.Rollback()

	max, err := t.Repo.MaxIterationOrdinal(ctx, tx, projectID)
	if err != nil {
		return domain.Iteration{}, err
	}
	now := t.Now().UTC()
	it := domain.Iteration{
		ID:        fmt.Sprintf("%03d-%s-%s", max+1, category.Tag(), now.Format("20060102T150405Z")),
		ProjectID: projectID,
		Ordinal:   max + 1,
		Category:  category,
		RunID:     runID,
		CreatedAt: now.Format(time.RFC3339),
	}
	if err := t.Repo.InsertIteration(ctx, tx, it); err != nil {
		return domain.Iteration{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Iteration{}, err
	}
	return it, nil
}

// RecordArtifact stores content under the next revision for its logical
// path. Existing revisions are never touched.
func (t *Tracker) RecordArtifact(ctx context.Context, projectID, iterationID, stage, logicalPath string, kind domain.ArtifactKind, content string) (domain.Artifact, error) {
	lock := t.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Artifact{}, err
	}
	defer tx.Rollback()

	rev, err := t.Repo.NextArtifactRevision(ctx, tx, projectID, logicalPath)
	if err != nil {
		return domain.Artifact{}, err
	}
	a := domain.Artifact{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		IterationID: iterationID,
		LogicalPath: logicalPath,
		Stage:       stage,
		Kind:        kind,
		Revision:    rev,
		Content:     content,
		CreatedAt:   t.Now().UTC().Format(time.RFC3339),
	}
	if err := t.Repo.InsertArtifact(ctx, tx, a); err != nil {
		return domain.Artifact{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Artifact{}, err
	}
	return a, nil
}
