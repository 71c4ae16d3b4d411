package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kota/internal/prompts"
)

// Provider-specific default model constants
const (
	DefaultOpenRouterModel = "deepseek/deepseek-chat-v3-0324"
	DefaultMockModel       = "mock-model"
)

// DefaultToolCallLimit bounds how many tool rounds a single user turn
// may spend before the loop stops and reports back.
const DefaultToolCallLimit = 24

// Config captures the tunable runtime settings for the agent.
type Config struct {
	Model                 string              `yaml:"model"`
	BaseURL               string              `yaml:"base_url"`
	Provider              string              `yaml:"provider"`
	ProviderModels        map[string]string   `yaml:"provider_models"`
	Temperature           float64             `yaml:"temperature"`
	SystemPrompt          string              `yaml:"system_prompt"`
	Persona               string              `yaml:"persona"`
	RequestTimeoutSeconds int                 `yaml:"request_timeout_seconds"`
	ConversationDir       string              `yaml:"conversation_dir"`
	WorkspaceRoot         string              `yaml:"workspace_root"`
	ShellTimeoutSeconds   int                 `yaml:"shell_timeout_seconds"`
	HistoryPath           string              `yaml:"history_path"`
	AuditPath             string              `yaml:"audit_path"`
	ResponseFile          string              `yaml:"response_file"`
	ToolCallLimit         int                 `yaml:"tool_call_limit"`
	Yolo                  bool                `yaml:"yolo"`
	GuardedTools          []string            `yaml:"guarded_tools"`
	AutoApprove           map[string][]string `yaml:"auto_approve"`
	Recipes               map[string]Recipe   `yaml:"recipes"`
}

// defaultGuardedTools lists the tools with side effects that prompt
// for confirmation unless approved for the session or auto-approved.
var defaultGuardedTools = []string{
	"write_file",
	"edit_file",
	"shell",
	"make_directory",
	"remove_path",
	"move_path",
	"copy_path",
	"web_fetch",
}

// EnsureDefaultConfig creates config.yaml with provider-appropriate
// defaults if it doesn't exist.
func EnsureDefaultConfig(provider string) error {
	configDir := GetConfigDir()
	configPath := filepath.Join(configDir, "config.yaml")

	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	cfg := Config{}
	switch strings.ToLower(provider) {
	case "mock":
		cfg.Model = DefaultMockModel
	default:
		cfg.Model = DefaultOpenRouterModel
	}
	cfg.Provider = strings.ToLower(provider)
	cfg.ProviderModels = map[string]string{
		"openrouter": DefaultOpenRouterModel,
		"mock":       DefaultMockModel,
	}
	cfg.Temperature = 0.2
	cfg.WorkspaceRoot = "."
	cfg.ToolCallLimit = DefaultToolCallLimit
	cfg.GuardedTools = append([]string(nil), defaultGuardedTools...)
	cfg.AutoApprove = map[string][]string{}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// LoadUserConfig loads configuration from ~/.kota/config.yaml.
// Checks KOTA_CONFIG_PATH environment variable first.
// If the file doesn't exist, returns defaults.
func LoadUserConfig() (Config, error) {
	configPath := os.Getenv("KOTA_CONFIG_PATH")
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := Config{}
		cfg.applyDefaults()
		return cfg, nil
	}

	return Load(configPath)
}

// Load reads the YAML configuration from disk and injects sane defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.cleanSystemPrompt()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills in optional values to keep the YAML file concise.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.Provider == "" {
		c.Provider = "openrouter"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 90
	}
	if c.ConversationDir == "" {
		c.ConversationDir = filepath.Join(GetConfigDir(), "conversations")
	}
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = "."
	}
	if c.ShellTimeoutSeconds <= 0 {
		c.ShellTimeoutSeconds = 60
	}
	if c.HistoryPath == "" {
		c.HistoryPath = filepath.Join(GetConfigDir(), "history")
	}
	if c.AuditPath == "" {
		c.AuditPath = filepath.Join(GetConfigDir(), "audit.db")
	}
	if c.ResponseFile == "" {
		c.ResponseFile = "PLAN.md"
	}
	if c.ToolCallLimit <= 0 {
		c.ToolCallLimit = DefaultToolCallLimit
	}
	if c.GuardedTools == nil {
		c.GuardedTools = append([]string(nil), defaultGuardedTools...)
	}
}

// cleanSystemPrompt removes the base prompt and environment context if
// present, ensuring only the user's custom portion is stored.
func (c *Config) cleanSystemPrompt() {
	c.SystemPrompt = prompts.ExtractUserPortion(c.SystemPrompt)
}

func (c Config) validate() error {
	if c.Temperature < 0 || c.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0 and 2.0 (got %f)", c.Temperature)
	}
	if c.RequestTimeoutSeconds > 600 {
		return fmt.Errorf("request_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	if c.ShellTimeoutSeconds > 600 {
		return fmt.Errorf("shell_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	if c.ToolCallLimit > 200 {
		return fmt.Errorf("tool_call_limit cannot exceed 200")
	}
	if strings.TrimSpace(c.HistoryPath) == "" {
		return fmt.Errorf("history_path must be set")
	}
	for tool, patterns := range c.AutoApprove {
		if strings.TrimSpace(tool) == "" {
			return fmt.Errorf("auto_approve contains an empty tool name")
		}
		for _, p := range patterns {
			if strings.TrimSpace(p) == "" {
				return fmt.Errorf("auto_approve pattern for %s is empty", tool)
			}
		}
	}
	if err := validateRecipes(c.Recipes); err != nil {
		return err
	}
	return nil
}

// RequestTimeout turns the integer value into a duration for HTTP clients.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ShellTimeout exposes the configured duration for sandboxed shell commands.
func (c Config) ShellTimeout() time.Duration {
	return time.Duration(c.ShellTimeoutSeconds) * time.Second
}

// OverrideWorkspaceRoot swaps the workspace root at runtime.
func (c *Config) OverrideWorkspaceRoot(root string) {
	if c == nil {
		return
	}
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return
	}
	c.WorkspaceRoot = trimmed
}

func GetConfigDir() string {
	if configDir := os.Getenv("KOTA_CONFIG_DIR"); configDir != "" {
		return configDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kota"
	}
	return filepath.Join(home, ".kota")
}

// ModelFor returns the configured model for the given provider key,
// falling back to provider-appropriate defaults.
func (c Config) ModelFor(provider string) string {
	provider = strings.ToLower(provider)

	if len(c.ProviderModels) > 0 {
		if model := strings.TrimSpace(c.ProviderModels[provider]); model != "" {
			return model
		}
	}

	switch provider {
	case "openrouter":
		return DefaultOpenRouterModel
	case "mock":
		return DefaultMockModel
	default:
		return c.Model
	}
}

// Save writes the config to the user's config file.
func Save(c Config) error {
	configPath := os.Getenv("KOTA_CONFIG_PATH")
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
