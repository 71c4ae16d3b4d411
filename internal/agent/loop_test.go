package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"kota/internal/llm"
	"kota/internal/state"
	"kota/internal/tooling"
)

// scriptedClient replays a fixed sequence of responses and records
// the requests it saw.
type scriptedClient struct {
	mu        sync.Mutex
	responses []llm.ChatResponse
	requests  []llm.ChatRequest
	calls     int
	err       error
}

func (c *scriptedClient) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return llm.ChatResponse{}, c.err
	}
	if c.calls >= len(c.responses) {
		return llm.ChatResponse{}, fmt.Errorf("unexpected provider call %d", c.calls+1)
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func textResponse(content string) llm.ChatResponse {
	return llm.ChatResponse{Choices: []llm.ChatChoice{{
		Message:      state.Message{Role: "assistant", Content: content},
		FinishReason: "stop",
	}}}
}

func toolResponse(content string, calls ...state.ToolCall) llm.ChatResponse {
	return llm.ChatResponse{Choices: []llm.ChatChoice{{
		Message:      state.Message{Role: "assistant", Content: content, ToolCalls: calls},
		FinishReason: "tool_calls",
	}}}
}

func toolCall(id, name, args string) state.ToolCall {
	return state.ToolCall{ID: id, Type: "function", Function: state.FunctionCall{Name: name, Arguments: args}}
}

// echoTool records invocations and answers with its own name.
type echoTool struct {
	name  string
	delay time.Duration
	err   error

	mu    sync.Mutex
	calls int
}

func (e *echoTool) Definition() tooling.ToolDefinition {
	return tooling.ToolDefinition{Type: "function", Function: tooling.ToolFunction{Name: e.name}}
}

func (e *echoTool) Call(ctx context.Context, args map[string]any) (string, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.err != nil {
		return "", e.err
	}
	return "result from " + e.name, nil
}

func (e *echoTool) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func newTestStates(t *testing.T) *state.Manager {
	t.Helper()
	mgr, err := state.NewManager("system", t.TempDir(), log.New(testWriter{t}, "", 0))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func TestTurnReturnsPlainText(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{textResponse("hello")}}
	loop := NewLoop(client, tooling.NewRegistry(), newTestStates(t), LoopOptions{Model: "m", RoundLimit: 5})

	got, err := loop.Turn(context.Background(), "hi", loop.states.Current())
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", client.calls)
	}
}

func TestTurnNilConversationIsSingleShot(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{textResponse("once")}}
	states := newTestStates(t)
	loop := NewLoop(client, tooling.NewRegistry(), states, LoopOptions{Model: "m", RoundLimit: 5, SystemPrompt: "be brief"})

	got, err := loop.Turn(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if got != "once" {
		t.Fatalf("got %q, want %q", got, "once")
	}

	msgs := client.requests[0].Messages
	if msgs[0].Role != "system" || msgs[0].Content != "be brief" {
		t.Fatalf("system prompt missing from scratch history: %+v", msgs[0])
	}
	// The managed conversation stays untouched.
	for _, msg := range states.Current().Messages() {
		if msg.Content == "hi" || msg.Content == "once" {
			t.Fatal("single-shot turn leaked into managed history")
		}
	}
}

func TestTurnDispatchesToolsThenReturns(t *testing.T) {
	tool := &echoTool{name: "lookup"}
	client := &scriptedClient{responses: []llm.ChatResponse{
		toolResponse("", toolCall("c1", "lookup", `{}`)),
		textResponse("done"),
	}}
	states := newTestStates(t)
	loop := NewLoop(client, tooling.NewRegistry(tool), states, LoopOptions{Model: "m", RoundLimit: 5})

	got, err := loop.Turn(context.Background(), "go", states.Current())
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if got != "done" {
		t.Fatalf("got %q, want %q", got, "done")
	}
	if tool.callCount() != 1 {
		t.Fatalf("tool called %d times, want 1", tool.callCount())
	}

	var toolMsg *state.Message
	for _, msg := range states.Current().Messages() {
		if msg.Role == "tool" {
			m := msg
			toolMsg = &m
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message recorded")
	}
	if toolMsg.ToolCallID != "c1" || toolMsg.Content != "result from lookup" {
		t.Fatalf("unexpected tool message: %+v", toolMsg)
	}
}

func TestTurnRoundLimit(t *testing.T) {
	tool := &echoTool{name: "lookup"}
	// The model wants five tool rounds; the cap is three.
	var responses []llm.ChatResponse
	for i := 0; i < 5; i++ {
		responses = append(responses, toolResponse(fmt.Sprintf("working %d", i), toolCall(fmt.Sprintf("c%d", i), "lookup", `{}`)))
	}
	responses = append(responses, textResponse("never reached"))
	client := &scriptedClient{responses: responses}
	states := newTestStates(t)
	loop := NewLoop(client, tooling.NewRegistry(tool), states, LoopOptions{Model: "m", RoundLimit: 3})

	got, err := loop.Turn(context.Background(), "go", states.Current())
	if !errors.Is(err, ErrRoundLimit) {
		t.Fatalf("expected ErrRoundLimit, got %v", err)
	}
	if got != "working 2" {
		t.Fatalf("last text %q, want %q", got, "working 2")
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 provider calls, got %d", client.calls)
	}
	if tool.callCount() != 3 {
		t.Fatalf("expected 3 tool dispatches, got %d", tool.callCount())
	}
}

func TestTurnToolErrorDoesNotAbort(t *testing.T) {
	tool := &echoTool{name: "lookup", err: errors.New("disk full")}
	client := &scriptedClient{responses: []llm.ChatResponse{
		toolResponse("", toolCall("c1", "lookup", `{}`)),
		textResponse("recovered"),
	}}
	states := newTestStates(t)
	loop := NewLoop(client, tooling.NewRegistry(tool), states, LoopOptions{Model: "m", RoundLimit: 5})

	got, err := loop.Turn(context.Background(), "go", states.Current())
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if got != "recovered" {
		t.Fatalf("got %q, want %q", got, "recovered")
	}

	found := false
	for _, msg := range states.Current().Messages() {
		if msg.Role == "tool" && strings.Contains(msg.Content, "tool error: disk full") {
			found = true
		}
	}
	if !found {
		t.Fatal("tool error was not fed back as a tool message")
	}
}

func TestTurnUnknownToolBecomesMessage(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{
		toolResponse("", toolCall("c1", "ghost", `{}`)),
		textResponse("ok"),
	}}
	states := newTestStates(t)
	loop := NewLoop(client, tooling.NewRegistry(), states, LoopOptions{Model: "m", RoundLimit: 5})

	if _, err := loop.Turn(context.Background(), "go", states.Current()); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	found := false
	for _, msg := range states.Current().Messages() {
		if msg.Role == "tool" && strings.Contains(msg.Content, "not registered") {
			found = true
		}
	}
	if !found {
		t.Fatal("missing-tool message not recorded")
	}
}

func TestDispatchRoundKeepsRequestOrder(t *testing.T) {
	slow := &echoTool{name: "slow", delay: 30 * time.Millisecond}
	fast := &echoTool{name: "fast"}
	client := &scriptedClient{responses: []llm.ChatResponse{
		toolResponse("", toolCall("c1", "slow", `{}`), toolCall("c2", "fast", `{}`)),
		textResponse("ok"),
	}}
	states := newTestStates(t)
	loop := NewLoop(client, tooling.NewRegistry(slow, fast), states, LoopOptions{Model: "m", RoundLimit: 5})

	if _, err := loop.Turn(context.Background(), "go", states.Current()); err != nil {
		t.Fatalf("Turn: %v", err)
	}

	var order []string
	for _, msg := range states.Current().Messages() {
		if msg.Role == "tool" {
			order = append(order, msg.ToolCallID)
		}
	}
	if len(order) != 2 || order[0] != "c1" || order[1] != "c2" {
		t.Fatalf("tool results out of request order: %v", order)
	}
}

func TestTurnTruncatesOversizedResults(t *testing.T) {
	big := &staticTool{name: "dump", result: strings.Repeat("x", maxToolResultSize+100)}
	client := &scriptedClient{responses: []llm.ChatResponse{
		toolResponse("", toolCall("c1", "dump", `{}`)),
		textResponse("ok"),
	}}
	states := newTestStates(t)
	loop := NewLoop(client, tooling.NewRegistry(big), states, LoopOptions{Model: "m", RoundLimit: 5})

	if _, err := loop.Turn(context.Background(), "go", states.Current()); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	for _, msg := range states.Current().Messages() {
		if msg.Role == "tool" {
			if !strings.Contains(msg.Content, "[TRUNCATED") {
				t.Fatal("oversized result was not truncated")
			}
			if len(msg.Content) > maxToolResultSize+200 {
				t.Fatalf("truncated result still too large: %d", len(msg.Content))
			}
		}
	}
}

func TestTurnTruncationKeepsValidUTF8(t *testing.T) {
	// Three-byte runes never line up with the byte cap, so a naive
	// byte slice would split one in half.
	big := &staticTool{name: "dump", result: strings.Repeat("世", maxToolResultSize/3+100)}
	client := &scriptedClient{responses: []llm.ChatResponse{
		toolResponse("", toolCall("c1", "dump", `{}`)),
		textResponse("ok"),
	}}
	states := newTestStates(t)
	loop := NewLoop(client, tooling.NewRegistry(big), states, LoopOptions{Model: "m", RoundLimit: 5})

	if _, err := loop.Turn(context.Background(), "go", states.Current()); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	for _, msg := range states.Current().Messages() {
		if msg.Role != "tool" {
			continue
		}
		if !strings.Contains(msg.Content, "[TRUNCATED") {
			t.Fatal("oversized result was not truncated")
		}
		if !utf8.ValidString(msg.Content) {
			t.Fatal("truncation split a rune and produced invalid UTF-8")
		}
	}
}

func TestTruncateAtRune(t *testing.T) {
	s := "ab世界"
	tests := []struct {
		limit int
		want  string
	}{
		{len(s), s},
		{len(s) + 5, s},
		{5, "ab世"},
		{4, "ab"},
		{3, "ab"},
		{2, "ab"},
		{0, ""},
	}
	for _, tt := range tests {
		if got := truncateAtRune(s, tt.limit); got != tt.want {
			t.Errorf("truncateAtRune(%q, %d) = %q, want %q", s, tt.limit, got, tt.want)
		}
	}
}

type staticTool struct {
	name   string
	result string
}

func (s *staticTool) Definition() tooling.ToolDefinition {
	return tooling.ToolDefinition{Type: "function", Function: tooling.ToolFunction{Name: s.name}}
}

func (s *staticTool) Call(ctx context.Context, args map[string]any) (string, error) {
	return s.result, nil
}

// recordingHooks captures dispatch events; optionally panics to prove
// hooks cannot break a turn.
type recordingHooks struct {
	mu      sync.Mutex
	calls   []string
	results []string
	panics  bool
}

func (h *recordingHooks) OnToolCall(id, name, preview string) {
	h.mu.Lock()
	h.calls = append(h.calls, id+"|"+name+"|"+preview)
	h.mu.Unlock()
	if h.panics {
		panic("hook exploded")
	}
}

func (h *recordingHooks) OnToolResult(id, name, result string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	outcome := "ok"
	if err != nil {
		outcome = "err"
	}
	h.results = append(h.results, id+"|"+name+"|"+outcome)
}

func TestHooksObserveDispatch(t *testing.T) {
	hooks := &recordingHooks{}
	tool := &echoTool{name: "lookup"}
	client := &scriptedClient{responses: []llm.ChatResponse{
		toolResponse("", toolCall("c1", "lookup", `{"path":"a.txt"}`)),
		textResponse("ok"),
	}}
	states := newTestStates(t)
	loop := NewLoop(client, tooling.NewRegistry(tool), states, LoopOptions{Model: "m", RoundLimit: 5, Hooks: []DispatchHooks{hooks}})

	if _, err := loop.Turn(context.Background(), "go", states.Current()); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if len(hooks.calls) != 1 || hooks.calls[0] != "c1|lookup|a.txt" {
		t.Fatalf("unexpected call hooks: %v", hooks.calls)
	}
	if len(hooks.results) != 1 || hooks.results[0] != "c1|lookup|ok" {
		t.Fatalf("unexpected result hooks: %v", hooks.results)
	}
}

func TestPanickingHookDoesNotAbortTurn(t *testing.T) {
	hooks := &recordingHooks{panics: true}
	tool := &echoTool{name: "lookup"}
	client := &scriptedClient{responses: []llm.ChatResponse{
		toolResponse("", toolCall("c1", "lookup", `{}`)),
		textResponse("survived"),
	}}
	states := newTestStates(t)
	loop := NewLoop(client, tooling.NewRegistry(tool), states, LoopOptions{Model: "m", RoundLimit: 5, Hooks: []DispatchHooks{hooks}})

	got, err := loop.Turn(context.Background(), "go", states.Current())
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if got != "survived" {
		t.Fatalf("got %q, want %q", got, "survived")
	}
	if tool.callCount() != 1 {
		t.Fatalf("tool called %d times, want 1", tool.callCount())
	}
}

func TestTurnNonRetryableProviderError(t *testing.T) {
	client := &scriptedClient{err: llm.NewProviderError("openrouter", llm.ErrorTypeAuth, "401", "bad key")}
	states := newTestStates(t)
	loop := NewLoop(client, tooling.NewRegistry(), states, LoopOptions{Model: "m", RoundLimit: 5})

	_, err := loop.Turn(context.Background(), "go", states.Current())
	if err == nil {
		t.Fatal("expected error")
	}
	if pe, ok := llm.IsProviderError(err); !ok || pe.Type != llm.ErrorTypeAuth {
		t.Fatalf("expected auth provider error, got %v", err)
	}
	if client.calls != 0 {
		// calls counter only increments on scripted responses; the
		// stubbed error path never consumes one.
		t.Fatalf("unexpected scripted responses consumed: %d", client.calls)
	}
}
