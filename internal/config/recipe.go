package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Recipe is a named invocation preset for one-shot runs. It bundles a
// prompt with optional provider, model, and persona overrides so a
// repeated invocation collapses to a single flag. The error_if pattern
// turns the run into a check: when the final response matches, the
// process exits non-zero.
type Recipe struct {
	Prompt     string `yaml:"prompt"`
	PromptFile string `yaml:"prompt_file"`
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Persona    string `yaml:"persona"`
	Yolo       *bool  `yaml:"yolo"`
	Quiet      bool   `yaml:"quiet"`
	ErrorIf    string `yaml:"error_if"`
}

// ReadPrompt resolves the recipe prompt. A prompt_file wins over the
// inline prompt when both are set.
func (r Recipe) ReadPrompt() (string, error) {
	if strings.TrimSpace(r.PromptFile) != "" {
		data, err := os.ReadFile(r.PromptFile)
		if err != nil {
			return "", fmt.Errorf("read prompt file %s: %w", r.PromptFile, err)
		}
		return string(data), nil
	}
	return r.Prompt, nil
}

// MatchesError reports whether the response trips the recipe's
// error_if pattern. Recipes without a pattern never match.
func (r Recipe) MatchesError(response string) (bool, error) {
	if r.ErrorIf == "" {
		return false, nil
	}
	re, err := regexp.Compile(r.ErrorIf)
	if err != nil {
		return false, fmt.Errorf("compile error_if %q: %w", r.ErrorIf, err)
	}
	return re.MatchString(response), nil
}

// RecipeByName looks up a configured recipe, listing the available
// names in the error when the lookup misses.
func (c Config) RecipeByName(name string) (Recipe, error) {
	if r, ok := c.Recipes[name]; ok {
		return r, nil
	}
	names := make([]string, 0, len(c.Recipes))
	for n := range c.Recipes {
		names = append(names, n)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return Recipe{}, fmt.Errorf("unknown recipe %q (no recipes configured)", name)
	}
	return Recipe{}, fmt.Errorf("unknown recipe %q (configured: %s)", name, strings.Join(names, ", "))
}

func validateRecipes(recipes map[string]Recipe) error {
	for name, r := range recipes {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("recipes contains an entry with an empty name")
		}
		if strings.TrimSpace(r.Prompt) == "" && strings.TrimSpace(r.PromptFile) == "" {
			return fmt.Errorf("recipe %s needs a prompt or a prompt_file", name)
		}
		if r.ErrorIf != "" {
			if _, err := regexp.Compile(r.ErrorIf); err != nil {
				return fmt.Errorf("recipe %s has an invalid error_if pattern: %v", name, err)
			}
		}
	}
	return nil
}
