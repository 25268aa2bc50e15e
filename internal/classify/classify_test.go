package classify

import (
	"errors"
	"testing"

	"stageline/internal/config"
	"stageline/internal/domain"
)

func testClassifier(t *testing.T) Classifier {
	t.Helper()
	return New(config.Default("proj-1"))
}

func existingProject() domain.ProjectContext {
	return domain.ProjectContext{ProjectID: "proj-1", HasExistingProject: true}
}

func TestClassifyEmptyContextForcesNewProject(t *testing.T) {
	c := testClassifier(t)
	got, err := c.Classify("fix the broken login flow", domain.ProjectContext{ProjectID: "proj-1"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Category != domain.CategoryNewProject {
		t.Fatalf("category = %s, want new_project", got.Category)
	}
}

func TestClassifyKeywordCounting(t *testing.T) {
	c := testClassifier(t)
	cases := []struct {
		desc string
		want domain.RequestCategory
	}{
		{"the login is broken after the auth update", domain.CategoryBugFix},
		{"add support for exporting reports as pdf", domain.CategoryEnhancement},
		{"refactor the storage layer to decouple persistence", domain.CategoryRefactor},
		{"bootstrap a brand new service from scratch", domain.CategoryNewProject},
	}
	for _, tc := range cases {
		got, err := c.Classify(tc.desc, existingProject(), "")
		if err != nil {
			t.Fatalf("%q: %v", tc.desc, err)
		}
		if got.Category != tc.want {
			t.Fatalf("%q: category = %s, want %s", tc.desc, got.Category, tc.want)
		}
	}
}

func TestClassifyTieBreakPrefersBugFix(t *testing.T) {
	c := testClassifier(t)
	// One bug_fix keyword and one enhancement keyword: rule order decides.
	got, err := c.Classify("improve the crash handling", existingProject(), "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Category != domain.CategoryBugFix {
		t.Fatalf("category = %s, want bug_fix on tie", got.Category)
	}
}

func TestClassifyOverride(t *testing.T) {
	c := testClassifier(t)
	got, err := c.Classify("the login is broken", existingProject(), domain.CategoryRefactor)
	if err != nil {
		t.Fatal(err)
	}
	if got.Category != domain.CategoryRefactor || !got.Overridden {
		t.Fatalf("got %+v, want overridden refactor", got)
	}
	if got.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", got.Confidence)
	}
}

func TestClassifyEmptyDescription(t *testing.T) {
	c := testClassifier(t)
	_, err := c.Classify("   ", existingProject(), "")
	if !errors.Is(err, domain.ErrClassificationAmbiguous) {
		t.Fatalf("err = %v, want ErrClassificationAmbiguous", err)
	}
}

func TestClassifyEmptyDescriptionGreenfield(t *testing.T) {
	c := testClassifier(t)
	// No prior work: NewProject wins even without a description.
	got, err := c.Classify("", domain.ProjectContext{ProjectID: "proj-1"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Category != domain.CategoryNewProject {
		t.Fatalf("category = %s, want new_project", got.Category)
	}
	if got.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", got.Confidence)
	}
}

func TestClassifyNoSignalIsAmbiguous(t *testing.T) {
	c := testClassifier(t)
	_, err := c.Classify("build a thing", existingProject(), "")
	if !errors.Is(err, domain.ErrClassificationAmbiguous) {
		t.Fatalf("err = %v, want ErrClassificationAmbiguous", err)
	}
}

func TestClassifyConfidence(t *testing.T) {
	c := testClassifier(t)
	got, err := c.Classify("fix the bug causing a crash and another error", existingProject(), "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Category != domain.CategoryBugFix {
		t.Fatalf("category = %s, want bug_fix", got.Category)
	}
	if got.Confidence <= 0 || got.Confidence > 1 {
		t.Fatalf("confidence = %v, want in (0,1]", got.Confidence)
	}
}
