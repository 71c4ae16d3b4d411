package agent

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kota/internal/llm"
	"kota/internal/prompts"
	"kota/internal/tooling"
	"kota/internal/ui"
)

func newTestREPL(t *testing.T, client llm.Client, opts REPLOptions) (*REPL, *bytes.Buffer) {
	t.Helper()
	states := newTestStates(t)
	loop := NewLoop(client, tooling.NewRegistry(), states, LoopOptions{Model: "m", RoundLimit: 5})
	var out bytes.Buffer
	console := ui.NewConsoleWriter(&out, strings.NewReader(""))
	return NewREPL(loop, states, console, opts), &out
}

func TestRunOneShotReturnsResponse(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{textResponse("all checks passed")}}
	repl, out := newTestREPL(t, client, REPLOptions{})

	got, err := repl.RunOneShot(context.Background(), "run the checks")
	if err != nil {
		t.Fatalf("RunOneShot: %v", err)
	}
	if got != "all checks passed" {
		t.Fatalf("response = %q", got)
	}
	if !strings.Contains(out.String(), "all checks passed") {
		t.Fatalf("response not rendered, output: %q", out.String())
	}
}

func TestWriteWithoutResponseCreatesNoFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "PLAN.md")
	repl, out := newTestREPL(t, &scriptedClient{}, REPLOptions{ResponseFile: target})

	if exit := repl.handleLine(context.Background(), "/write"); exit {
		t.Fatal("handleLine requested exit")
	}
	if !strings.Contains(out.String(), "No assistant response to write yet.") {
		t.Fatalf("missing notice, output: %q", out.String())
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatal("file was created despite empty history")
	}
}

func TestWritePersistsLastResponse(t *testing.T) {
	target := filepath.Join(t.TempDir(), "PLAN.md")
	client := &scriptedClient{responses: []llm.ChatResponse{textResponse("the plan")}}
	repl, _ := newTestREPL(t, client, REPLOptions{ResponseFile: target})

	repl.handleLine(context.Background(), "make a plan")
	repl.handleLine(context.Background(), "/write")

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read %s: %v", target, err)
	}
	if string(data) != "the plan\n" {
		t.Fatalf("file content %q", string(data))
	}
}

func TestWriteExplicitPathOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "notes.md")
	client := &scriptedClient{responses: []llm.ChatResponse{textResponse("notes")}}
	repl, _ := newTestREPL(t, client, REPLOptions{ResponseFile: filepath.Join(dir, "PLAN.md")})

	repl.handleLine(context.Background(), "hi")
	repl.handleLine(context.Background(), "/write "+target)

	if _, err := os.Stat(target); err != nil {
		t.Fatalf("explicit target not written: %v", err)
	}
}

func TestPlanModeWrapsInput(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{textResponse("a plan")}}
	repl, _ := newTestREPL(t, client, REPLOptions{})

	repl.handleLine(context.Background(), "/plan")
	repl.handleLine(context.Background(), "add caching")

	if len(client.requests) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(client.requests))
	}
	msgs := client.requests[0].Messages
	last := msgs[len(msgs)-1]
	if last.Role != "user" || !strings.HasPrefix(last.Content, prompts.PlanPreamble) {
		t.Fatalf("plan mode did not wrap input: %q", last.Content)
	}
	if !strings.HasSuffix(last.Content, "add caching") {
		t.Fatalf("original request missing: %q", last.Content)
	}
}

func TestCodeModeSendsVerbatim(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{textResponse("ok")}}
	repl, _ := newTestREPL(t, client, REPLOptions{})

	repl.handleLine(context.Background(), "add caching")

	msgs := client.requests[0].Messages
	last := msgs[len(msgs)-1]
	if last.Content != "add caching" {
		t.Fatalf("code mode altered input: %q", last.Content)
	}
}

func TestGoSwitchesModeAndImplements(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{textResponse("implementing")}}
	repl, _ := newTestREPL(t, client, REPLOptions{StartInPlan: true})

	repl.handleLine(context.Background(), "/go")

	if repl.mode != ModeCode {
		t.Fatalf("mode is %v, want code", repl.mode)
	}
	if len(client.requests) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(client.requests))
	}
	msgs := client.requests[0].Messages
	if msgs[len(msgs)-1].Content != "Implement the plan." {
		t.Fatalf("unexpected synthesized input: %q", msgs[len(msgs)-1].Content)
	}
}

func TestGoInCodeModeIsNoOp(t *testing.T) {
	client := &scriptedClient{}
	repl, out := newTestREPL(t, client, REPLOptions{})

	repl.handleLine(context.Background(), "/go")

	if len(client.requests) != 0 {
		t.Fatalf("no provider call expected, got %d", len(client.requests))
	}
	if !strings.Contains(out.String(), "Already in code mode.") {
		t.Fatalf("missing notice, output: %q", out.String())
	}
}

func TestUnknownCommandFallsThroughToModel(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{textResponse("ok")}}
	repl, _ := newTestREPL(t, client, REPLOptions{})

	repl.handleLine(context.Background(), "/frobnicate the cache")

	if len(client.requests) != 1 {
		t.Fatalf("expected input to reach the model, got %d calls", len(client.requests))
	}
	msgs := client.requests[0].Messages
	if msgs[len(msgs)-1].Content != "/frobnicate the cache" {
		t.Fatalf("input altered: %q", msgs[len(msgs)-1].Content)
	}
}

func TestExitCommands(t *testing.T) {
	for _, line := range []string{"/quit", "/exit", "exit"} {
		repl, _ := newTestREPL(t, &scriptedClient{}, REPLOptions{})
		if !repl.handleLine(context.Background(), line) {
			t.Errorf("%q did not request exit", line)
		}
	}
}

func TestRoundLimitNotice(t *testing.T) {
	var responses []llm.ChatResponse
	for i := 0; i < 3; i++ {
		responses = append(responses, toolResponse("partial", toolCall("c", "ghost", `{}`)))
	}
	client := &scriptedClient{responses: responses}
	repl, out := newTestREPL(t, client, REPLOptions{})
	repl.loop.roundLimit = 2

	repl.handleLine(context.Background(), "go")

	if !strings.Contains(out.String(), "Tool call limit reached") {
		t.Fatalf("missing round limit notice, output: %q", out.String())
	}
	if !strings.Contains(out.String(), "partial") {
		t.Fatalf("last assistant text not rendered, output: %q", out.String())
	}
}
