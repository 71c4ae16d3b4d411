package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		expectError bool
		errorString string
	}{
		{
			name:        "valid config passes",
			modifyFunc:  func(c *Config) {},
			expectError: false,
		},
		{
			name: "negative temperature fails",
			modifyFunc: func(c *Config) {
				c.Temperature = -0.5
			},
			expectError: true,
			errorString: "temperature must be between",
		},
		{
			name: "temperature > 2.0 fails",
			modifyFunc: func(c *Config) {
				c.Temperature = 3.0
			},
			expectError: true,
			errorString: "temperature must be between",
		},
		{
			name: "request timeout > 600 fails",
			modifyFunc: func(c *Config) {
				c.RequestTimeoutSeconds = 9999
			},
			expectError: true,
			errorString: "request_timeout_seconds cannot exceed",
		},
		{
			name: "shell timeout > 600 fails",
			modifyFunc: func(c *Config) {
				c.ShellTimeoutSeconds = 9999
			},
			expectError: true,
			errorString: "shell_timeout_seconds cannot exceed",
		},
		{
			name: "tool call limit > 200 fails",
			modifyFunc: func(c *Config) {
				c.ToolCallLimit = 500
			},
			expectError: true,
			errorString: "tool_call_limit cannot exceed",
		},
		{
			name: "empty auto_approve pattern fails",
			modifyFunc: func(c *Config) {
				c.AutoApprove = map[string][]string{"shell": {"  "}}
			},
			expectError: true,
			errorString: "auto_approve pattern",
		},
		{
			name: "empty history path fails",
			modifyFunc: func(c *Config) {
				c.HistoryPath = ""
			},
			expectError: true,
			errorString: "history_path must be set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				Temperature:           0.7,
				RequestTimeoutSeconds: 90,
				ShellTimeoutSeconds:   60,
				ToolCallLimit:         24,
				HistoryPath:           "/tmp/.history",
			}

			tt.modifyFunc(&cfg)

			err := cfg.validate()

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorString) {
					t.Errorf("Expected error containing %q, got %q", tt.errorString, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	if cfg.BaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Provider != "openrouter" {
		t.Errorf("Provider = %q", cfg.Provider)
	}
	if cfg.ToolCallLimit != DefaultToolCallLimit {
		t.Errorf("ToolCallLimit = %d, want %d", cfg.ToolCallLimit, DefaultToolCallLimit)
	}
	if cfg.WorkspaceRoot != "." {
		t.Errorf("WorkspaceRoot = %q", cfg.WorkspaceRoot)
	}
	if cfg.ResponseFile != "PLAN.md" {
		t.Errorf("ResponseFile = %q, want PLAN.md", cfg.ResponseFile)
	}
	if len(cfg.GuardedTools) == 0 {
		t.Error("GuardedTools empty, want default guarded set")
	}
	found := false
	for _, name := range cfg.GuardedTools {
		if name == "shell" {
			found = true
		}
	}
	if !found {
		t.Error("shell missing from default guarded tools")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
model: test/model
provider: openrouter
tool_call_limit: 5
yolo: true
auto_approve:
  shell:
    - "^go test\\b"
    - "^ls\\b"
guarded_tools:
  - shell
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "test/model" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.ToolCallLimit != 5 {
		t.Errorf("ToolCallLimit = %d", cfg.ToolCallLimit)
	}
	if !cfg.Yolo {
		t.Error("Yolo not set")
	}
	if got := cfg.AutoApprove["shell"]; len(got) != 2 {
		t.Errorf("AutoApprove[shell] = %v", got)
	}
	if len(cfg.GuardedTools) != 1 || cfg.GuardedTools[0] != "shell" {
		t.Errorf("GuardedTools = %v", cfg.GuardedTools)
	}
}

func TestGetConfigDirEnvOverride(t *testing.T) {
	t.Setenv("KOTA_CONFIG_DIR", "/tmp/kota-test")
	if got := GetConfigDir(); got != "/tmp/kota-test" {
		t.Fatalf("GetConfigDir = %q", got)
	}
}

func TestModelFor(t *testing.T) {
	cfg := Config{
		Model:          "fallback/model",
		ProviderModels: map[string]string{"openrouter": "custom/model"},
	}
	if got := cfg.ModelFor("openrouter"); got != "custom/model" {
		t.Errorf("ModelFor(openrouter) = %q", got)
	}
	if got := cfg.ModelFor("mock"); got != DefaultMockModel {
		t.Errorf("ModelFor(mock) = %q", got)
	}
	if got := cfg.ModelFor("other"); got != "fallback/model" {
		t.Errorf("ModelFor(other) = %q", got)
	}
}
