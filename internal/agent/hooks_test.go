package agent

import (
	"path/filepath"
	"testing"
	"time"

	"kota/internal/audit"
)

func TestAuditHooksPairResultsByCallID(t *testing.T) {
	trail, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer trail.Close()

	hooks := NewAuditHooks(trail, "sess").(*auditHooks)
	hooks.OnToolCall("call-1", "shell", "sleep 5")
	hooks.OnToolCall("call-2", "shell", "pwd")

	// Backdate the first call so a mispaired result is unmistakable:
	// if the second result consumed the first start, its recorded
	// duration would be near an hour instead of near zero.
	hooks.mu.Lock()
	hooks.starts["call-1"] = time.Now().Add(-time.Hour)
	hooks.mu.Unlock()

	// The second call finishes first.
	hooks.OnToolResult("call-2", "shell", "done", nil)

	hooks.mu.Lock()
	_, firstPending := hooks.starts["call-1"]
	_, secondPending := hooks.starts["call-2"]
	hooks.mu.Unlock()
	if !firstPending {
		t.Error("first call's start was consumed by the second call's result")
	}
	if secondPending {
		t.Error("second call's start should be cleared by its result")
	}

	hooks.OnToolResult("call-1", "shell", "done", nil)

	events, err := trail.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	// Newest first: the first call's result, then the second's.
	if events[0].DurationMs < 3_500_000 {
		t.Errorf("first call recorded %dms, want about an hour", events[0].DurationMs)
	}
	if events[1].DurationMs > 60_000 {
		t.Errorf("second call recorded %dms, want a near-zero duration", events[1].DurationMs)
	}
}
