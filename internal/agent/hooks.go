package agent

import (
	"sync"
	"time"

	"kota/internal/audit"
	"kota/internal/logging"
	"kota/internal/ui"
)

// DispatchHooks observes tool dispatch. Implementations run
// synchronously on the dispatching goroutine and must be side-effect
// only: a hook cannot veto or alter a call, and a panicking hook is
// logged and swallowed. The id is the provider's tool-call ID and is
// unique within a round, so hooks can pair a result with its call even
// when the same tool runs concurrently.
type DispatchHooks interface {
	OnToolCall(id, name, preview string)
	OnToolResult(id, name, result string, err error)
}

func fireToolCall(hooks []DispatchHooks, id, name, preview string) {
	for _, h := range hooks {
		runHook(func() { h.OnToolCall(id, name, preview) })
	}
}

func fireToolResult(hooks []DispatchHooks, id, name, result string, err error) {
	for _, h := range hooks {
		runHook(func() { h.OnToolResult(id, name, result, err) })
	}
}

func runHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorLog("dispatch hook panicked: %v", r)
		}
	}()
	fn()
}

// consoleHooks shows each dispatch on the terminal as it happens.
type consoleHooks struct {
	console *ui.Console
}

// NewConsoleHooks wires the console as a dispatch observer.
func NewConsoleHooks(console *ui.Console) DispatchHooks {
	return &consoleHooks{console: console}
}

func (c *consoleHooks) OnToolCall(id, name, preview string) {
	if preview != "" {
		c.console.Printf("* %s: %s\n", name, preview)
		return
	}
	c.console.Printf("* %s\n", name)
}

func (c *consoleHooks) OnToolResult(id, name, result string, err error) {
	if err != nil {
		c.console.Printf("  %s failed: %v\n", name, err)
	}
}

// auditHooks records every dispatch in the audit trail. Trail failures
// are logged and never reach the conversation loop.
type auditHooks struct {
	trail   *audit.Trail
	session string

	mu     sync.Mutex
	starts map[string]time.Time
}

// NewAuditHooks wires an audit trail as a dispatch observer for the
// named session.
func NewAuditHooks(trail *audit.Trail, session string) DispatchHooks {
	return &auditHooks{trail: trail, session: session, starts: make(map[string]time.Time)}
}

func (a *auditHooks) OnToolCall(id, name, preview string) {
	a.mu.Lock()
	a.starts[id] = time.Now()
	a.mu.Unlock()
	if err := a.trail.RecordCall(a.session, name, preview); err != nil {
		logging.DevLog("audit record call failed: %v", err)
	}
}

func (a *auditHooks) OnToolResult(id, name, result string, err error) {
	var duration time.Duration
	a.mu.Lock()
	if start, ok := a.starts[id]; ok {
		duration = time.Since(start)
		delete(a.starts, id)
	}
	a.mu.Unlock()
	if rerr := a.trail.RecordResult(a.session, name, err, duration); rerr != nil {
		logging.DevLog("audit record result failed: %v", rerr)
	}
}
