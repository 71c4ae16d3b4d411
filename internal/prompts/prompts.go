package prompts

import (
	_ "embed"
	"strings"
	"sync"
)

//go:embed system_kota.txt
var baseSystemPrompt string

var (
	metadataMu sync.RWMutex
	metadata   string
)

// PlanPreamble frames a user request as a planning task. Plan mode
// wraps every prompt with this text so the model reasons about the
// approach instead of editing files.
const PlanPreamble = "You are in planning mode. Analyze the request below and produce a concrete, numbered implementation plan. " +
	"Read files as needed to ground the plan in the actual code, but do not modify anything yet. " +
	"End with any open questions for the user.\n\nRequest:\n"

// Base returns the built-in system prompt.
func Base() string {
	return strings.TrimSpace(baseSystemPrompt)
}

// Combine joins the built-in prompt with an optional persona and an
// optional user-provided prompt. The persona leads so its voice
// colors everything after it.
func Combine(persona, user string) string {
	var sections []string
	if p := strings.TrimSpace(persona); p != "" {
		sections = append(sections, p)
	}
	sections = append(sections, Base())

	if meta := getMetadata(); meta != "" {
		sections = append(sections, "## Environment Context\n"+meta)
	}

	if trimmed := strings.TrimSpace(user); trimmed != "" {
		sections = append(sections, trimmed)
	}

	return strings.Join(sections, "\n\n")
}

// WrapPlan prefixes input with the planning preamble.
func WrapPlan(input string) string {
	return PlanPreamble + input
}

// ExtractUserPortion strips the base prompt and environment context from a combined prompt,
// returning only the user's custom portion. If the input doesn't contain the base prompt,
// returns the input unchanged.
func ExtractUserPortion(combined string) string {
	combined = strings.TrimSpace(combined)
	if combined == "" {
		return ""
	}

	base := Base()

	// If the combined text starts with the base prompt, strip it
	if strings.HasPrefix(combined, base) {
		remaining := strings.TrimSpace(combined[len(base):])

		// Also strip environment context section if present
		envHeader := "## Environment Context"
		if idx := strings.Index(remaining, envHeader); idx == 0 {
			// Find the end of the environment section (next ## header or end of string)
			afterHeader := remaining[len(envHeader):]
			if nextSection := strings.Index(afterHeader, "\n##"); nextSection != -1 {
				remaining = strings.TrimSpace(afterHeader[nextSection:])
			} else {
				// Environment context is at the end, look for double newline
				parts := strings.SplitN(remaining, "\n\n", 2)
				if len(parts) > 1 {
					remaining = strings.TrimSpace(parts[1])
				} else {
					remaining = ""
				}
			}
		}

		return remaining
	}

	// Input doesn't start with base prompt, return as-is
	return combined
}

// SetMetadata defines the environment metadata appended to the system prompt.
func SetMetadata(info string) {
	metadataMu.Lock()
	defer metadataMu.Unlock()
	metadata = strings.TrimSpace(info)
}

func getMetadata() string {
	metadataMu.RLock()
	defer metadataMu.RUnlock()
	return metadata
}
