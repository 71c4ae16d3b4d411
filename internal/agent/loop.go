package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"kota/internal/llm"
	"kota/internal/logging"
	"kota/internal/state"
	"kota/internal/tooling"
)

// ErrRoundLimit reports that a turn stopped because the model kept
// requesting tools past the configured round cap. The text returned
// alongside it is still usable; callers render this as a notice, not
// a failure.
var ErrRoundLimit = errors.New("tool call limit reached")

// maxToolResultSize caps what a single tool result may feed back into
// the conversation.
const maxToolResultSize = 50000

// Indicator shows activity while a provider call is in flight. The
// returned function clears the display and is safe to call twice.
type Indicator interface {
	StartThinking() func()
}

// Loop drives one conversation: it sends the history to the provider,
// dispatches the tool calls each response requests, and repeats until
// the model answers in plain text or the round cap trips.
type Loop struct {
	client llm.Client
	tools  *tooling.Registry
	states *state.Manager
	hooks  []DispatchHooks

	indicator    Indicator
	model        string
	temperature  float64
	roundLimit   int
	systemPrompt string
}

type LoopOptions struct {
	Model       string
	Temperature float64
	RoundLimit  int
	Indicator   Indicator
	Hooks       []DispatchHooks
	// SystemPrompt seeds the throwaway history of a nil-conversation
	// turn. Managed conversations carry their own system message.
	SystemPrompt string
}

func NewLoop(client llm.Client, tools *tooling.Registry, states *state.Manager, opts LoopOptions) *Loop {
	limit := opts.RoundLimit
	if limit <= 0 {
		limit = 24
	}
	return &Loop{
		client:       client,
		tools:        tools,
		states:       states,
		hooks:        opts.Hooks,
		indicator:    opts.Indicator,
		model:        opts.Model,
		temperature:  opts.Temperature,
		roundLimit:   limit,
		systemPrompt: opts.SystemPrompt,
	}
}

// Turn runs one user input to completion. A nil conversation gets
// throwaway single-shot history. The returned string is the
// assistant's final text; on ErrRoundLimit it is the last text the
// model produced before the cap.
func (l *Loop) Turn(ctx context.Context, input string, conv *state.Conversation) (string, error) {
	if conv == nil {
		conv = state.NewConversation(l.systemPrompt)
	}
	conv.Append(state.Message{Role: "user", Content: input})
	if err := l.save(conv); err != nil {
		return "", err
	}

	lastText := ""
	for round := 0; round < l.roundLimit; round++ {
		choice, err := l.chatOnce(ctx, conv)
		if err != nil {
			return "", err
		}

		conv.Append(choice.Message)
		if err := l.save(conv); err != nil {
			return "", err
		}
		if choice.Message.Content != "" {
			lastText = choice.Message.Content
		}

		if len(choice.Message.ToolCalls) == 0 {
			return choice.Message.Content, nil
		}
		if err := l.dispatchRound(ctx, conv, choice.Message.ToolCalls); err != nil {
			return "", err
		}
	}

	logging.DevLog("turn hit round limit (%d)", l.roundLimit)
	return lastText, ErrRoundLimit
}

func (l *Loop) chatOnce(ctx context.Context, conv *state.Conversation) (llm.ChatChoice, error) {
	clear := func() {}
	if l.indicator != nil {
		clear = l.indicator.StartThinking()
	}
	defer clear()

	messages := conv.Messages()
	logging.DevLog("invoking provider with %d messages (~%d chars)", len(messages), conversationCharCount(messages))

	req := llm.ChatRequest{
		Model:       l.model,
		Messages:    messages,
		Tools:       l.tools.Definitions(),
		Temperature: l.temperature,
	}
	resp, err := l.callProviderWithRetry(ctx, req)
	if err != nil {
		return llm.ChatChoice{}, fmt.Errorf("chat completion: %w", err)
	}
	if resp.Usage != nil {
		logging.DevLog("token usage: prompt=%d completion=%d total=%d",
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	}
	if len(resp.Choices) == 0 {
		return llm.ChatChoice{}, fmt.Errorf("no choices returned")
	}
	return resp.Choices[0], nil
}

// dispatchRound runs one round's tool calls concurrently and appends
// the results in request order. A failing tool becomes a role:"tool"
// message for the model to read; it never aborts the turn.
func (l *Loop) dispatchRound(ctx context.Context, conv *state.Conversation, calls []state.ToolCall) error {
	results := make([]state.Message, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call state.ToolCall) {
			defer wg.Done()
			results[i] = l.dispatch(ctx, call)
		}(i, call)
	}
	wg.Wait()

	for _, msg := range results {
		conv.Append(msg)
	}
	return l.save(conv)
}

func (l *Loop) dispatch(ctx context.Context, call state.ToolCall) state.Message {
	name := call.Function.Name
	msg := state.Message{Role: "tool", Name: name, ToolCallID: call.ID}

	tool, ok := l.tools.Lookup(name)
	if !ok {
		msg.Content = fmt.Sprintf("tool %s not registered", name)
		logging.ErrorLog(msg.Content)
		return msg
	}

	args := map[string]any{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			msg.Content = fmt.Sprintf("invalid args for %s: %v", name, err)
			logging.ErrorLog(msg.Content)
			return msg
		}
	}

	fireToolCall(l.hooks, call.ID, name, tooling.ArgPreview(name, args))

	start := time.Now()
	result, err := tool.Call(ctx, args)
	dur := time.Since(start).Round(time.Millisecond)
	if err != nil {
		result = fmt.Sprintf("tool error: %v", err)
		logging.ErrorLog("tool %s failed after %s: %v", name, dur, err)
	} else {
		logging.DevLog("tool %s completed: %d bytes in %s", name, len(result), dur)
		if len(result) > maxToolResultSize {
			original := len(result)
			kept := truncateAtRune(result, maxToolResultSize)
			result = kept + fmt.Sprintf("\n\n[TRUNCATED: Tool result too large (%d chars). Showing first %d chars. Use more specific filters, smaller ranges, or pagination.]", original, len(kept))
		}
	}

	fireToolResult(l.hooks, call.ID, name, result, err)
	msg.Content = result
	return msg
}

func (l *Loop) callProviderWithRetry(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	const (
		maxRetries   = 5
		initialDelay = time.Second
		maxDelay     = 16 * time.Second
	)
	delay := initialDelay
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		start := time.Now()
		resp, err := l.client.Chat(ctx, req)
		elapsed := time.Since(start).Round(time.Millisecond)
		if err == nil {
			logging.DevLog("provider call succeeded in %s (attempt %d/%d)", elapsed, attempt, maxRetries)
			return resp, nil
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return llm.ChatResponse{}, context.Canceled
		}

		if pe, ok := llm.IsProviderError(err); ok {
			if !pe.Retryable {
				return llm.ChatResponse{}, err
			}
			if pe.RetryAfter != nil && *pe.RetryAfter > delay {
				delay = *pe.RetryAfter
			}
		}

		lastErr = err
		if attempt == maxRetries {
			break
		}
		logging.DevLog("retrying provider call (attempt %d/%d) after %v", attempt+1, maxRetries, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return llm.ChatResponse{}, context.Canceled
		case <-timer.C:
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return llm.ChatResponse{}, lastErr
}

func (l *Loop) save(conv *state.Conversation) error {
	if conv.Key() == "" {
		// Throwaway single-shot history is never persisted.
		return nil
	}
	if err := l.states.Save(conv); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// truncateAtRune cuts s to at most limit bytes without splitting a
// multi-byte rune, so the truncated text stays valid UTF-8.
func truncateAtRune(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

func conversationCharCount(messages []state.Message) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content)
	}
	return total
}
