package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default("proj-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Project.ID != "proj-1" {
		t.Fatalf("project id = %s", cfg.Project.ID)
	}
	if cfg.Feedback.MaxRetries != 2 {
		t.Fatalf("max retries = %d, want 2", cfg.Feedback.MaxRetries)
	}
	if len(cfg.Planner.Sequences) != 4 {
		t.Fatalf("sequences = %d, want 4", len(cfg.Planner.Sequences))
	}
}

func TestGenerateDefaultRoundTrip(t *testing.T) {
	raw := GenerateDefault("proj-1")
	cfg, err := FromYAML([]byte(raw))
	if err != nil {
		t.Fatalf("parse generated yaml: %v", err)
	}
	if cfg.Quality.Gates["planning"].Threshold != 95 {
		t.Fatalf("planning threshold = %d", cfg.Quality.Gates["planning"].Threshold)
	}
	if cfg.Quality.Gates["development"].Threshold != 90 {
		t.Fatalf("development threshold = %d", cfg.Quality.Gates["development"].Threshold)
	}
	if cfg.Quality.Gates["validation"].Threshold != 85 {
		t.Fatalf("validation threshold = %d", cfg.Quality.Gates["validation"].Threshold)
	}
}

func TestValidateWeightSum(t *testing.T) {
	cfg := Default("proj-1")
	gate := cfg.Quality.Gates["planning"]
	gate.Criteria[0].Weight = 0.5 // sum now 1.15
	cfg.Quality.Gates["planning"] = gate
	err := cfg.Validate()
	var ie InvariantError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want InvariantError", err)
	}
	if ie.Gate != "planning" {
		t.Fatalf("gate = %s, want planning", ie.Gate)
	}
}

func TestValidateThresholdRange(t *testing.T) {
	cfg := Default("proj-1")
	gate := cfg.Quality.Gates["development"]
	gate.Threshold = 0
	cfg.Quality.Gates["development"] = gate
	var ie InvariantError
	if !errors.As(cfg.Validate(), &ie) {
		t.Fatal("expected InvariantError for zero threshold")
	}
}

func TestValidateUnknownCategory(t *testing.T) {
	cfg := Default("proj-1")
	cfg.Classifier.Rules = append(cfg.Classifier.Rules, ClassifierRule{
		Category: "hotfix",
		Keywords: []string{"urgent"},
	})
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown category")
	}
}

func TestValidateMissingSequence(t *testing.T) {
	cfg := Default("proj-1")
	delete(cfg.Planner.Sequences, "refactor")
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing sequence")
	}
}

func TestValidateOwnerReferencesStage(t *testing.T) {
	cfg := Default("proj-1")
	cfg.Feedback.Owners["code.quality"] = []string{"no-such-stage"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown owning stage")
	}
}

func TestValidateOwnerReferencesCriterion(t *testing.T) {
	cfg := Default("proj-1")
	cfg.Feedback.Owners["made.up"] = []string{"implementation"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown criterion")
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := LoadOptional(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Fatal("expected nil config for missing file")
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "stageline.yml"), []byte(GenerateDefault("ws-proj")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Project.ID != "ws-proj" {
		t.Fatalf("project id = %s", cfg.Project.ID)
	}
}
