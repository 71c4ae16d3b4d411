// Package ui owns terminal output for the interactive session:
// markdown rendering, the waiting indicator, and confirmation
// prompts for guarded tools.
package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"kota/internal/guard"
)

// Console serializes writes to the terminal. One instance is shared
// by the conversation loop and every guard.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	ask    io.Writer
	in     *bufio.Reader
	render *glamour.TermRenderer
	isTTY  bool
}

// NewConsoleWriter builds a console over explicit streams. Output is
// plain text with no terminal styling.
func NewConsoleWriter(out io.Writer, in io.Reader) *Console {
	return &Console{out: out, ask: out, in: bufio.NewReader(in)}
}

// NewQuietConsole drops conversational output entirely. Confirmation
// prompts still appear, routed to stderr so they survive when stdout
// carries only the final response.
func NewQuietConsole() *Console {
	return &Console{out: io.Discard, ask: os.Stderr, in: bufio.NewReader(os.Stdin)}
}

func NewConsole() *Console {
	c := &Console{
		out:   os.Stdout,
		ask:   os.Stdout,
		in:    bufio.NewReader(os.Stdin),
		isTTY: term.IsTerminal(int(os.Stdout.Fd())),
	}
	if c.isTTY {
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(0),
		); err == nil {
			c.render = r
		}
	}
	return c
}

func (c *Console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) Println(args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, args...)
}

// Markdown renders text through glamour when stdout is a terminal
// and falls back to the raw string otherwise.
func (c *Console) Markdown(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.render != nil {
		if rendered, err := c.render.Render(text); err == nil {
			fmt.Fprint(c.out, rendered)
			return
		}
	}
	fmt.Fprintln(c.out, text)
}

const thinkingLabel = "Thinking..."

// StartThinking shows the waiting indicator and returns a function
// that clears it. The clear function is safe to call more than once
// and must run on every exit path, including errors.
func (c *Console) StartThinking() func() {
	c.mu.Lock()
	if c.isTTY {
		fmt.Fprint(c.out, thinkingLabel)
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.isTTY {
				fmt.Fprint(c.out, "\r"+strings.Repeat(" ", len(thinkingLabel))+"\r")
			}
		})
	}
}

// Confirm implements guard.Confirmer over stdin. The guard's shared
// mutex already serializes callers, so reads never interleave.
func (c *Console) Confirm(prompt, preview string) (guard.Decision, error) {
	c.mu.Lock()
	if preview != "" {
		fmt.Fprintf(c.ask, "\n  %s\n", preview)
	}
	fmt.Fprintf(c.ask, "%s [y/n/s] ", prompt)
	c.mu.Unlock()

	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return guard.Deny, err
	}
	return guard.ParseAnswer(line), nil
}
