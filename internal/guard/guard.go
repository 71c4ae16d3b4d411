// Package guard wraps tools whose side effects need user sign-off.
// A guarded tool asks for confirmation before every call until the
// user grants session-wide approval or a configured auto-approve
// pattern matches the call's arguments.
package guard

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"kota/internal/logging"
	"kota/internal/tooling"
)

// ErrCancelled is the tool-level error produced when the user denies
// a confirmation prompt. It is reported to the model like any other
// tool failure and never aborts the conversation.
var ErrCancelled = errors.New("Action cancelled by user")

// Decision is the user's answer to a confirmation prompt.
type Decision int

const (
	Deny Decision = iota
	AllowOnce
	AllowSession
)

// ParseAnswer maps a raw confirmation reply to a Decision. Matching
// is case-insensitive; anything unrecognized counts as a denial.
func ParseAnswer(answer string) Decision {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return AllowOnce
	case "s", "session":
		return AllowSession
	default:
		return Deny
	}
}

// Confirmer blocks until the user answers a confirmation prompt.
type Confirmer interface {
	Confirm(prompt, preview string) (Decision, error)
}

// Options configure a set of guards built by Apply.
type Options struct {
	// Yolo disables confirmation entirely.
	Yolo bool
	// AutoApprove maps tool name to regex patterns matched against
	// the call's argument preview. A matching call skips the prompt.
	AutoApprove map[string][]string
	Confirmer   Confirmer
}

// Guard intercepts Call on a wrapped tool. Session approval is a
// one-way flag: once the user answers "session" the guard never
// prompts again for that tool.
type Guard struct {
	tool     tooling.Tool
	name     string
	yolo     bool
	always   atomic.Bool
	patterns []*regexp.Regexp

	confirmer Confirmer
	promptMu  *sync.Mutex
}

// New wraps tool with a confirmation guard. Auto-approve patterns
// that fail to compile are dropped and logged, so a broken pattern
// can never widen what gets approved.
func New(tool tooling.Tool, opts Options, promptMu *sync.Mutex) *Guard {
	name := tool.Definition().Function.Name
	g := &Guard{
		tool:      tool,
		name:      name,
		yolo:      opts.Yolo,
		confirmer: opts.Confirmer,
		promptMu:  promptMu,
	}
	for _, raw := range opts.AutoApprove[name] {
		pattern, err := regexp.Compile(raw)
		if err != nil {
			logging.ErrorLog("guard: invalid auto_approve pattern %q for %s: %v", raw, name, err)
			continue
		}
		g.patterns = append(g.patterns, pattern)
	}
	return g
}

// Apply wraps every tool whose name appears in guarded. Unlisted
// tools pass through untouched. All guards share one prompt mutex so
// concurrent tool calls cannot interleave their confirmation prompts.
func Apply(tools []tooling.Tool, guarded []string, opts Options) []tooling.Tool {
	names := make(map[string]bool, len(guarded))
	for _, n := range guarded {
		names[n] = true
	}
	promptMu := &sync.Mutex{}
	out := make([]tooling.Tool, 0, len(tools))
	for _, tool := range tools {
		if names[tool.Definition().Function.Name] {
			out = append(out, New(tool, opts, promptMu))
		} else {
			out = append(out, tool)
		}
	}
	return out
}

func (g *Guard) Definition() tooling.ToolDefinition {
	return g.tool.Definition()
}

func (g *Guard) Call(ctx context.Context, args map[string]any) (string, error) {
	preview := tooling.ArgPreview(g.name, args)
	if err := g.approve(ctx, preview); err != nil {
		return "", err
	}
	return g.tool.Call(ctx, args)
}

func (g *Guard) approve(ctx context.Context, preview string) error {
	if g.yolo {
		return nil
	}
	if g.always.Load() {
		logging.DevLog("guard: %s approved for session", g.name)
		return nil
	}
	for _, pattern := range g.patterns {
		if pattern.MatchString(preview) {
			logging.DevLog("guard: %s auto-approved by pattern %s", g.name, pattern)
			return nil
		}
	}
	if g.confirmer == nil {
		return fmt.Errorf("tool %s requires confirmation but no confirmer is configured", g.name)
	}

	g.promptMu.Lock()
	decision, err := g.confirmer.Confirm(
		fmt.Sprintf("Confirm tool %s call?", strings.ToUpper(g.name)),
		preview,
	)
	g.promptMu.Unlock()
	if err != nil {
		return err
	}

	switch decision {
	case AllowSession:
		g.always.Store(true)
		return nil
	case AllowOnce:
		return nil
	default:
		logging.UserLog("guard: %s denied by user", g.name)
		return ErrCancelled
	}
}
