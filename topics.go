package teamchat

import (
	"sync"

	"github.com/google/uuid"
)

// TopicHandler receives decoded events for a topic the caller listens to.
type TopicHandler func(topic string, event Event)

// topicEntry tracks one logical topic: its broker subscription id, whether
// that id has been sent on the current session, and the listeners fanned out
// to.
type topicEntry struct {
	subID     string
	wired     bool
	listeners map[string]TopicHandler
}

// topicTable is the bookkeeping behind the multiplexer: one physical broker
// subscription per topic, shared by any number of named listeners. It only
// records intent; the connection manager performs the wire operations it is
// told are needed.
type topicTable struct {
	mu     sync.Mutex
	topics map[string]*topicEntry
	bySub  map[string]string
}

func newTopicTable() *topicTable {
	return &topicTable{
		topics: make(map[string]*topicEntry),
		bySub:  make(map[string]string),
	}
}

// add registers a listener under listenerID, replacing any previous handler
// with the same id. When this is the first listener for the topic a fresh
// subscription id is minted and returned with subscribe=true.
func (t *topicTable) add(topic, listenerID string, h TopicHandler) (subID string, subscribe bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.topics[topic]
	if !ok {
		entry = &topicEntry{
			subID:     uuid.NewString(),
			listeners: make(map[string]TopicHandler),
		}
		t.topics[topic] = entry
		t.bySub[entry.subID] = topic
		subscribe = true
	}
	entry.listeners[listenerID] = h
	return entry.subID, subscribe
}

// remove drops a listener. When the last listener for the topic goes away
// the topic is forgotten entirely and its subscription id is returned with
// unsubscribe=true so the wire subscription can be torn down.
func (t *topicTable) remove(topic, listenerID string) (subID string, unsubscribe bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.topics[topic]
	if !ok {
		return "", false
	}
	if _, ok := entry.listeners[listenerID]; !ok {
		return "", false
	}
	delete(entry.listeners, listenerID)
	if len(entry.listeners) > 0 {
		return "", false
	}
	delete(t.topics, topic)
	delete(t.bySub, entry.subID)
	return entry.subID, true
}

// resolve maps an inbound frame back to its topic, preferring the
// subscription header and falling back to the destination.
func (t *topicTable) resolve(subID, destination string) (topic string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if subID != "" {
		if topic, ok = t.bySub[subID]; ok {
			return topic, true
		}
	}
	if _, ok = t.topics[destination]; ok {
		return destination, true
	}
	return "", false
}

// handlers snapshots the listeners for a topic so dispatch runs without
// holding the table lock.
func (t *topicTable) handlers(topic string) []TopicHandler {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.topics[topic]
	if !ok {
		return nil
	}
	out := make([]TopicHandler, 0, len(entry.listeners))
	for _, h := range entry.listeners {
		out = append(out, h)
	}
	return out
}

// markWired claims the wire send for a topic's subscription. Exactly one
// caller per session gets true; a SUBSCRIBE frame is sent only by that
// caller, so a connect replay and a concurrent Subscribe cannot both send
// the same subscription id.
func (t *topicTable) markWired(topic string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.topics[topic]
	if !ok || entry.wired {
		return false
	}
	entry.wired = true
	return true
}

// clearWired resets the wire state of every topic. Called when the session
// drops so the next connect replays everything.
func (t *topicTable) clearWired() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, entry := range t.topics {
		entry.wired = false
	}
}

// snapshot returns every topic and its subscription id, for replaying
// subscriptions after a reconnect.
func (t *topicTable) snapshot() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]string, len(t.topics))
	for topic, entry := range t.topics {
		out[topic] = entry.subID
	}
	return out
}

// listenerCount reports how many listeners a topic has.
func (t *topicTable) listenerCount(topic string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.topics[topic]
	if !ok {
		return 0
	}
	return len(entry.listeners)
}
