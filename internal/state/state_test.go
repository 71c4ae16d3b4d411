package state

import (
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager("system", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestSummariesSortedByRecency(t *testing.T) {
	m := newTestManager(t)

	first := m.Current()
	first.Append(Message{Role: "user", Content: "older"})
	if err := m.Save(first); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Push the second conversation's update time past the first.
	m.mu.Lock()
	m.currentKey = "chat-2"
	m.mu.Unlock()
	second := m.Current()
	second.Append(Message{Role: "user", Content: "newer"})
	second.updatedAt = first.updatedAt.Add(time.Minute)
	if err := m.Save(second); err != nil {
		t.Fatalf("Save: %v", err)
	}

	sums := m.Summaries()
	if len(sums) != 2 {
		t.Fatalf("got %d summaries, want 2", len(sums))
	}
	if sums[0].Key != "chat-2" || sums[1].Key != first.Key() {
		t.Fatalf("summaries not sorted by recency: %v", sums)
	}
	if sums[0].MessageCount != 2 {
		t.Fatalf("MessageCount = %d, want 2 (system + user)", sums[0].MessageCount)
	}
}

func TestStandaloneConversationHasNoKey(t *testing.T) {
	conv := NewConversation("be brief")
	if conv.Key() != "" {
		t.Fatalf("Key = %q, want empty", conv.Key())
	}
	msgs := conv.Messages()
	if len(msgs) != 1 || msgs[0].Role != "system" || msgs[0].Content != "be brief" {
		t.Fatalf("unexpected seed messages: %v", msgs)
	}
}
