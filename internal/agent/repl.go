package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"kota/internal/logging"
	"kota/internal/prompts"
	"kota/internal/state"
	"kota/internal/ui"
)

// Mode selects how raw input is framed before it reaches the model.
type Mode int

const (
	// ModeCode sends input verbatim.
	ModeCode Mode = iota
	// ModePlan wraps input with the planning preamble so the model
	// analyzes instead of editing.
	ModePlan
)

func (m Mode) String() string {
	if m == ModePlan {
		return "plan"
	}
	return "code"
}

var commandSuggestions = []prompt.Suggest{
	{Text: "/plan", Description: "switch to plan mode (analysis only)"},
	{Text: "/code", Description: "switch to code mode"},
	{Text: "/go", Description: "switch to code mode and implement the plan"},
	{Text: "/write", Description: "save the last response to a file (/write [path])"},
	{Text: "/help", Description: "show available commands"},
	{Text: "/tools", Description: "list registered tools"},
	{Text: "/quit", Description: "exit the program"},
	{Text: "/exit", Description: "exit the program"},
}

type interruptTracker struct {
	mu     sync.Mutex
	last   time.Time
	window time.Duration
}

func newInterruptTracker(window time.Duration) *interruptTracker {
	return &interruptTracker{window: window}
}

func (t *interruptTracker) secondPress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.window {
		t.last = time.Time{}
		return true
	}
	t.last = now
	return false
}

type promptExit struct{}

// REPL owns the interactive session: it reads lines, consumes local
// slash commands, and sends everything else through the loop.
type REPL struct {
	loop    *Loop
	states  *state.Manager
	console *ui.Console

	historyPath  string
	responseFile string
	mode         Mode
	isTTY        bool
}

type REPLOptions struct {
	HistoryPath  string
	ResponseFile string
	StartInPlan  bool
}

func NewREPL(loop *Loop, states *state.Manager, console *ui.Console, opts REPLOptions) *REPL {
	responseFile := opts.ResponseFile
	if responseFile == "" {
		responseFile = "PLAN.md"
	}
	mode := ModeCode
	if opts.StartInPlan {
		mode = ModePlan
	}
	return &REPL{
		loop:         loop,
		states:       states,
		console:      console,
		historyPath:  opts.HistoryPath,
		responseFile: responseFile,
		mode:         mode,
		isTTY:        term.IsTerminal(int(os.Stdin.Fd())),
	}
}

// Run starts the prompt and blocks until the session finishes.
func (r *REPL) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := newInterruptTracker(2 * time.Second)
	if r.isTTY {
		return r.runPrompt(ctx, cancel, tracker)
	}
	go r.handleInterrupts(ctx, cancel, tracker)
	return r.runNonInteractive(ctx, cancel)
}

// RunOneShot sends a single prompt through the loop with throwaway
// history and renders the response. The response is also returned so
// callers can inspect it, e.g. a recipe's error_if check.
func (r *REPL) RunOneShot(ctx context.Context, input string) (string, error) {
	if r.mode == ModePlan {
		input = prompts.WrapPlan(input)
	}
	response, err := r.loop.Turn(ctx, input, nil)
	if errors.Is(err, ErrRoundLimit) {
		err = nil
		defer r.console.Println("(Tool call limit reached; returning last response.)")
	}
	if err != nil {
		return "", err
	}
	if response != "" {
		r.console.Markdown(response)
	}
	return response, nil
}

func (r *REPL) runPrompt(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) (err error) {
	r.console.Println("Welcome to Kota. Type '/help' for commands; anything else goes to the model.")

	history := loadInputHistory(r.historyPath)

	var restore func()
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if st, terr := term.GetState(fd); terr == nil {
			restore = func() { _ = term.Restore(fd, st) }
		}
	}
	if restore != nil {
		defer restore()
	}

	var exitRequested atomic.Bool
	defer func() {
		if rec := recover(); rec != nil {
			if _, ok := rec.(promptExit); ok {
				err = nil
				return
			}
			panic(rec)
		}
	}()

	executor := func(in string) {
		if exitRequested.Load() || ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(in)
		if line == "" {
			return
		}
		history.Add(line)
		if exit := r.handleLine(ctx, line); exit {
			exitRequested.Store(true)
			cancel()
			panic(promptExit{})
		}
	}

	p := prompt.New(
		executor,
		commandCompleter,
		prompt.OptionHistory(history.Entries()),
		prompt.OptionTitle("Kota"),
		prompt.OptionLivePrefix(func() (string, bool) {
			return fmt.Sprintf("[%s:%s] > ", r.states.CurrentKey(), r.mode), true
		}),
		prompt.OptionAddKeyBind(
			prompt.KeyBind{
				Key: prompt.ControlC,
				Fn: func(buf *prompt.Buffer) {
					if tracker.secondPress() {
						r.console.Println("\nReceived second Ctrl+C, exiting.")
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
					r.console.Println("\n(Press Ctrl+C again within 2s to exit)")
				},
			},
			prompt.KeyBind{
				Key: prompt.ControlD,
				Fn: func(buf *prompt.Buffer) {
					if buf.Text() == "" {
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
				},
			},
		),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool {
			if exitRequested.Load() {
				return true
			}
			select {
			case <-ctx.Done():
				return true
			default:
				return false
			}
		}),
	)

	p.Run()
	return nil
}

func commandCompleter(doc prompt.Document) []prompt.Suggest {
	word := doc.GetWordBeforeCursor()
	prefix := strings.TrimLeft(doc.TextBeforeCursor(), " \t")
	if !strings.HasPrefix(prefix, "/") {
		return nil
	}
	return prompt.FilterHasPrefix(commandSuggestions, word, true)
}

func (r *REPL) runNonInteractive(ctx context.Context, cancel context.CancelFunc) error {
	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		r.console.Printf("[%s:%s] > ", r.states.CurrentKey(), r.mode)

		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				r.console.Println()
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if exit := r.handleLine(ctx, strings.TrimRight(line, "\r\n")); exit {
			cancel()
			return nil
		}
	}
}

func (r *REPL) handleInterrupts(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			if tracker.secondPress() {
				r.console.Println("\nReceived second Ctrl+C, exiting.")
				cancel()
				return
			}
			r.console.Println("\n(Press Ctrl+C again within 2s to exit)")
		}
	}
}

// handleLine processes one line of input. It returns true when the
// session should end.
func (r *REPL) handleLine(ctx context.Context, input string) bool {
	line := strings.TrimSpace(input)
	if line == "" {
		return false
	}
	if line == "exit" {
		return true
	}
	if strings.HasPrefix(line, "/") {
		exit, consumed := r.handleCommand(ctx, line)
		if consumed {
			return exit
		}
		// Unknown command falls through to the model.
	}
	r.submit(ctx, line)
	return false
}

// handleCommand runs a slash command. The second return reports
// whether the line was consumed; unknown commands are not, so the
// model sees them as ordinary input.
func (r *REPL) handleCommand(ctx context.Context, line string) (exit, consumed bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, true
	case "/plan":
		if r.mode == ModePlan {
			r.console.Println("Already in plan mode.")
			return false, true
		}
		r.mode = ModePlan
		r.console.Println("Plan mode: prompts are framed as planning requests.")
		return false, true
	case "/code":
		if r.mode == ModeCode {
			r.console.Println("Already in code mode.")
			return false, true
		}
		r.mode = ModeCode
		r.console.Println("Code mode: prompts go to the model verbatim.")
		return false, true
	case "/go":
		if r.mode == ModeCode {
			r.console.Println("Already in code mode.")
			return false, true
		}
		r.mode = ModeCode
		r.console.Println("Code mode: implementing the plan.")
		r.submit(ctx, "Implement the plan.")
		return false, true
	case "/write":
		target := r.responseFile
		if len(fields) > 1 {
			target = fields[1]
		}
		r.writeLastResponse(target)
		return false, true
	case "/help":
		r.printHelp()
		return false, true
	case "/tools":
		r.printTools()
		return false, true
	default:
		return false, false
	}
}

// submit frames input per the current mode and runs one turn.
func (r *REPL) submit(ctx context.Context, input string) {
	if r.mode == ModePlan {
		input = prompts.WrapPlan(input)
	}

	logging.DevLog("dispatching prompt: %d chars", len(input))
	response, err := r.loop.Turn(ctx, input, r.states.Current())
	roundLimited := errors.Is(err, ErrRoundLimit)
	if err != nil && !roundLimited {
		logging.ErrorLog("agent error: %v", err)
		r.console.Printf("Error: %v\n", err)
		return
	}
	if response != "" {
		r.console.Markdown(response)
	}
	if roundLimited {
		r.console.Println("(Tool call limit reached; returning last response.)")
	}
}

// writeLastResponse persists the most recent assistant text. No file
// is created when there is nothing to write.
func (r *REPL) writeLastResponse(path string) {
	content, ok := r.states.Current().LastAssistant()
	if !ok {
		r.console.Println("No assistant response to write yet.")
		return
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		r.console.Printf("Failed to write %s: %v\n", path, err)
		return
	}
	r.console.Printf("Wrote last response to %s\n", path)
}

func (r *REPL) printHelp() {
	r.console.Println("Commands:")
	for _, s := range commandSuggestions {
		r.console.Printf("  %-8s %s\n", s.Text, s.Description)
	}
	r.console.Println("Anything else is sent to the model. Bare 'exit' also quits.")
}

func (r *REPL) printTools() {
	r.console.Println("Registered tools:")
	for _, def := range r.loop.tools.Definitions() {
		r.console.Printf("  %-18s %s\n", def.Function.Name, def.Function.Description)
	}
}
