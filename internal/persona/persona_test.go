package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetBuiltin(t *testing.T) {
	prompt, err := Get("strict")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(prompt, "Swiss clock") {
		t.Fatalf("prompt = %q", prompt)
	}
}

func TestGetUnknown(t *testing.T) {
	if _, err := Get("nonexistent"); err == nil {
		t.Fatal("expected error for unknown persona")
	}
}

func TestGetEmptyName(t *testing.T) {
	prompt, err := Get("")
	if err != nil || prompt != "" {
		t.Fatalf("Get(\"\") = %q, %v", prompt, err)
	}
}

func TestFileBeatsBuiltin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strict")
	if err := os.WriteFile(path, []byte("You are a custom persona.\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	prompt, err := Get(path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if prompt != "You are a custom persona." {
		t.Fatalf("prompt = %q", prompt)
	}
}

func TestListIncludesAllBuiltins(t *testing.T) {
	out := List()
	for _, p := range builtins {
		if !strings.Contains(out, p.Name) {
			t.Errorf("List missing %s", p.Name)
		}
	}
}
