package track_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"stageline/internal/db"
	"stageline/internal/domain"
	"stageline/internal/migrate"
	"stageline/internal/repo"
	"stageline/internal/track"
)

func newTestTracker(t *testing.T) (*track.Tracker, repo.Repo) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	if err := r.InsertProject(ctx, domain.Project{
		ID: "proj-1", Kind: "software-project", Status: "active",
		CreatedAt: "2026-03-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	tr := track.New(conn, r)
	tr.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return tr, r
}

func TestIterationOrdinalsMonotonic(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	first, err := tr.StartIteration(ctx, "proj-1", domain.CategoryBugFix, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := tr.StartIteration(ctx, "proj-1", domain.CategoryEnhancement, "run-2")
	if err != nil {
		t.Fatal(err)
	}
	if first.Ordinal != 1 || second.Ordinal != 2 {
		t.Fatalf("ordinals = %d, %d, want 1, 2", first.Ordinal, second.Ordinal)
	}
	want := "001-bugfix-20260301T120000Z"
	if first.ID != want {
		t.Fatalf("iteration id = %s, want %s", first.ID, want)
	}
}

func TestIterationOrdinalsConcurrent(t *testing.T) {
	tr, r := newTestTracker(t)
	ctx := context.Background()

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_, err := tr.StartIteration(ctx, "proj-1", domain.CategoryBugFix, fmt.Sprintf("run-%d", i))
			errs <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
	}
	iterations, err := r.ListIterations(ctx, "proj-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(iterations) != n {
		t.Fatalf("got %d iterations, want %d", len(iterations), n)
	}
	seen := map[int]bool{}
	for _, it := range iterations {
		if seen[it.Ordinal] {
			t.Fatalf("duplicate ordinal %d", it.Ordinal)
		}
		seen[it.Ordinal] = true
	}
}

func TestArtifactRevisionsGrow(t *testing.T) {
	tr, r := newTestTracker(t)
	ctx := context.Background()

	it, err := tr.StartIteration(ctx, "proj-1", domain.CategoryBugFix, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	first, err := tr.RecordArtifact(ctx, "proj-1", it.ID, "implementation", "src/login.go", domain.KindImplementation, "v1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := tr.RecordArtifact(ctx, "proj-1", it.ID, "implementation", "src/login.go", domain.KindImplementation, "v2")
	if err != nil {
		t.Fatal(err)
	}
	if first.Revision != 1 || second.Revision != 2 {
		t.Fatalf("revisions = %d, %d, want 1, 2", first.Revision, second.Revision)
	}

	history, err := r.ArtifactHistory(ctx, "proj-1", "src/login.go")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].Content != "v1" || history[1].Content != "v2" {
		t.Fatalf("history = %+v, want both revisions oldest first", history)
	}

	latest, err := r.ListArtifacts(ctx, repo.ArtifactFilters{ProjectID: "proj-1", LatestOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 1 || latest[0].Revision != 2 {
		t.Fatalf("latest = %+v, want single revision 2", latest)
	}
}
