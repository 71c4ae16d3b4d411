package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecipeLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
recipes:
  review:
    prompt: "Review the diff"
    model: some/model
    persona: reviewer
    yolo: true
    quiet: true
    error_if: "(?i)problems found"
`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	r, err := cfg.RecipeByName("review")
	if err != nil {
		t.Fatalf("RecipeByName failed: %v", err)
	}
	if r.Prompt != "Review the diff" {
		t.Errorf("Prompt = %q", r.Prompt)
	}
	if r.Model != "some/model" || r.Persona != "reviewer" {
		t.Errorf("overrides not parsed: %+v", r)
	}
	if r.Yolo == nil || !*r.Yolo {
		t.Error("expected yolo override to be set true")
	}
	if !r.Quiet {
		t.Error("expected quiet to be set")
	}
	if r.ErrorIf != "(?i)problems found" {
		t.Errorf("ErrorIf = %q", r.ErrorIf)
	}
}

func TestRecipeByNameUnknown(t *testing.T) {
	cfg := Config{Recipes: map[string]Recipe{
		"beta":  {Prompt: "b"},
		"alpha": {Prompt: "a"},
	}}
	_, err := cfg.RecipeByName("gamma")
	if err == nil {
		t.Fatal("expected an error for an unknown recipe")
	}
	if !strings.Contains(err.Error(), "alpha, beta") {
		t.Errorf("error should list configured recipes sorted, got %v", err)
	}
}

func TestRecipeValidation(t *testing.T) {
	tests := []struct {
		name        string
		recipes     map[string]Recipe
		errorString string
	}{
		{
			name:    "valid recipe passes",
			recipes: map[string]Recipe{"check": {Prompt: "hi", ErrorIf: "fail"}},
		},
		{
			name:        "missing prompt fails",
			recipes:     map[string]Recipe{"check": {Model: "m"}},
			errorString: "needs a prompt or a prompt_file",
		},
		{
			name:        "bad error_if fails",
			recipes:     map[string]Recipe{"check": {Prompt: "hi", ErrorIf: "(["}},
			errorString: "invalid error_if",
		},
		{
			name:        "empty name fails",
			recipes:     map[string]Recipe{"": {Prompt: "hi"}},
			errorString: "empty name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRecipes(tt.recipes)
			if tt.errorString == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.errorString) {
				t.Errorf("error %q should contain %q", err, tt.errorString)
			}
		})
	}
}

func TestRecipeMatchesError(t *testing.T) {
	r := Recipe{Prompt: "check", ErrorIf: "(?m)^FAIL"}

	matched, err := r.MatchesError("all good here")
	if err != nil || matched {
		t.Errorf("clean response: matched=%v err=%v", matched, err)
	}
	matched, err = r.MatchesError("ran checks\nFAIL: two tests broke")
	if err != nil {
		t.Fatalf("MatchesError failed: %v", err)
	}
	if !matched {
		t.Error("expected the failing response to match")
	}

	none := Recipe{Prompt: "check"}
	matched, err = none.MatchesError("FAIL everywhere")
	if err != nil || matched {
		t.Errorf("recipe without error_if must never match, got matched=%v err=%v", matched, err)
	}
}

func TestRecipeReadPromptPrefersFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.md")
	if err := os.WriteFile(path, []byte("from the file"), 0644); err != nil {
		t.Fatal(err)
	}

	r := Recipe{Prompt: "inline", PromptFile: path}
	got, err := r.ReadPrompt()
	if err != nil {
		t.Fatalf("ReadPrompt failed: %v", err)
	}
	if got != "from the file" {
		t.Errorf("ReadPrompt = %q, want file contents", got)
	}

	inline := Recipe{Prompt: "inline"}
	got, err = inline.ReadPrompt()
	if err != nil || got != "inline" {
		t.Errorf("ReadPrompt = %q, %v, want inline prompt", got, err)
	}

	missing := Recipe{PromptFile: filepath.Join(dir, "nope.md")}
	if _, err := missing.ReadPrompt(); err == nil {
		t.Error("expected an error for a missing prompt file")
	}
}
