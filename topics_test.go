package teamchat

import "testing"

func TestTopicTableLifecycle(t *testing.T) {
	table := newTopicTable()

	subID, open := table.add("/topic/conversation/1", "ui", func(string, Event) {})
	if !open || subID == "" {
		t.Fatalf("first listener: subID=%q open=%v", subID, open)
	}

	// Second listener shares the physical subscription.
	subID2, open := table.add("/topic/conversation/1", "audit", func(string, Event) {})
	if open || subID2 != subID {
		t.Fatalf("second listener: subID=%q open=%v", subID2, open)
	}
	if n := table.listenerCount("/topic/conversation/1"); n != 2 {
		t.Fatalf("listener count = %d", n)
	}

	// Re-registering the same id replaces, not stacks.
	table.add("/topic/conversation/1", "ui", func(string, Event) {})
	if n := table.listenerCount("/topic/conversation/1"); n != 2 {
		t.Fatalf("listener count after replace = %d", n)
	}

	// Removing one of two listeners keeps the subscription.
	if _, closeSub := table.remove("/topic/conversation/1", "audit"); closeSub {
		t.Fatal("subscription closed while a listener remained")
	}

	// Removing the last listener tears it down and forgets the topic.
	gone, closeSub := table.remove("/topic/conversation/1", "ui")
	if !closeSub || gone != subID {
		t.Fatalf("last removal: subID=%q closeSub=%v", gone, closeSub)
	}
	if _, ok := table.resolve(subID, ""); ok {
		t.Error("closed subscription still resolvable")
	}

	// Removing from an unknown topic or id is a no-op.
	if _, closeSub := table.remove("/topic/conversation/1", "ui"); closeSub {
		t.Error("double removal reported a teardown")
	}
}

func TestTopicTableReplaceChangesHandler(t *testing.T) {
	table := newTopicTable()
	var hits []string

	table.add("/topic/conversation/1", "ui", func(string, Event) { hits = append(hits, "old") })
	table.add("/topic/conversation/1", "ui", func(string, Event) { hits = append(hits, "new") })

	for _, h := range table.handlers("/topic/conversation/1") {
		h("/topic/conversation/1", &MessageEvent{})
	}
	if len(hits) != 1 || hits[0] != "new" {
		t.Fatalf("hits = %v, want only the replacement handler", hits)
	}
}

func TestTopicTableResolve(t *testing.T) {
	table := newTopicTable()
	subID, _ := table.add("/topic/conversation/5", "ui", func(string, Event) {})

	if topic, ok := table.resolve(subID, ""); !ok || topic != "/topic/conversation/5" {
		t.Errorf("resolve by subID = %q, %v", topic, ok)
	}
	// Destination fallback for brokers that omit the subscription header.
	if topic, ok := table.resolve("", "/topic/conversation/5"); !ok || topic != "/topic/conversation/5" {
		t.Errorf("resolve by destination = %q, %v", topic, ok)
	}
	if _, ok := table.resolve("bogus", "/topic/other"); ok {
		t.Error("resolved an unknown frame")
	}
}

func TestTopicTableWiredOncePerSession(t *testing.T) {
	table := newTopicTable()
	table.add("/topic/conversation/7", "ui", func(string, Event) {})

	if !table.markWired("/topic/conversation/7") {
		t.Fatal("first markWired = false")
	}
	// A second claimant, such as a connect replay racing a Subscribe, must
	// be refused so the subscription id is sent at most once.
	if table.markWired("/topic/conversation/7") {
		t.Error("second markWired = true")
	}

	// A new session starts with nothing on the wire.
	table.clearWired()
	if !table.markWired("/topic/conversation/7") {
		t.Error("markWired after clearWired = false")
	}

	// Unregistered topics are never wired.
	if table.markWired("/topic/conversation/8") {
		t.Error("markWired claimed an unregistered topic")
	}

	// Removing the last listener forgets the wired state with the topic.
	table.remove("/topic/conversation/7", "ui")
	table.add("/topic/conversation/7", "ui", func(string, Event) {})
	if !table.markWired("/topic/conversation/7") {
		t.Error("fresh registration inherited wired state")
	}
}

func TestTopicTableSnapshot(t *testing.T) {
	table := newTopicTable()
	a, _ := table.add("/topic/conversation/1", "ui", func(string, Event) {})
	b, _ := table.add("/user/queue/notifications", "ui", func(string, Event) {})

	snap := table.snapshot()
	if len(snap) != 2 || snap["/topic/conversation/1"] != a || snap["/user/queue/notifications"] != b {
		t.Fatalf("snapshot = %v", snap)
	}
}
