package score

import (
	"context"
	"testing"

	"stageline/internal/domain"
	"stageline/internal/gate"
)

func artifact(kind domain.ArtifactKind, content string) domain.Artifact {
	return domain.Artifact{Kind: kind, Content: content}
}

func TestHeuristicNoArtifacts(t *testing.T) {
	got, err := Heuristic{}.Score(context.Background(), gate.ScoreInput{Criterion: "code.quality"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Score != 0 {
		t.Fatalf("score = %d, want 0 with no artifacts", got.Score)
	}
}

func TestHeuristicMatchingArtifacts(t *testing.T) {
	long := "a detailed implementation document with plenty of substance"
	got, err := Heuristic{}.Score(context.Background(), gate.ScoreInput{
		Criterion: "code.quality",
		Artifacts: []domain.Artifact{artifact(domain.KindImplementation, long)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Score != 95 {
		t.Fatalf("score = %d, want 95", got.Score)
	}
}

func TestHeuristicUnmatchedIsNeutral(t *testing.T) {
	got, err := Heuristic{}.Score(context.Background(), gate.ScoreInput{
		Criterion: "code.quality",
		Artifacts: []domain.Artifact{artifact(domain.KindRequirements, "requirements only")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Score != 95 {
		t.Fatalf("score = %d, want neutral 95", got.Score)
	}
}

func TestHeuristicCriticalMarkers(t *testing.T) {
	got, err := Heuristic{}.Score(context.Background(), gate.ScoreInput{
		Criterion: "security.findings",
		Artifacts: []domain.Artifact{artifact(domain.KindImplementation, "CRITICAL: sql injection in login handler")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.CriticalFindings != 1 {
		t.Fatalf("criticals = %d, want 1", got.CriticalFindings)
	}
}
