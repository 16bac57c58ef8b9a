package store

import "sync"

// Topic identifies one class of rows for change subscription.
type Topic string

const (
	TopicProjects Topic = "projects"
	TopicTurns    Topic = "turns"
	TopicDrafts   Topic = "drafts"
	TopicLectures Topic = "lectures"
	TopicOutputs  Topic = "outputs"
)

// Notifier delivers coalesced change signals per topic. A signal means "rows
// under this topic changed, re-read what you care about"; it carries no
// payload. Delivery never blocks a writer: each subscriber channel holds at
// most one pending signal.
type Notifier struct {
	mu     sync.Mutex
	subs   map[Topic]map[int]chan struct{}
	nextID int
	closed bool
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[Topic]map[int]chan struct{})}
}

// Subscribe returns a signal channel for topic and a cancel function. The
// channel is closed on cancel or when the notifier shuts down.
func (n *Notifier) Subscribe(topic Topic) (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan struct{}, 1)
	if n.closed {
		close(ch)
		return ch, func() {}
	}

	id := n.nextID
	n.nextID++
	if n.subs[topic] == nil {
		n.subs[topic] = make(map[int]chan struct{})
	}
	n.subs[topic][id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[topic][id]; ok {
			delete(n.subs[topic], id)
			close(sub)
		}
	}
	return ch, cancel
}

// Notify signals every subscriber of topic. Signals coalesce: a subscriber
// that has not drained its previous signal receives nothing new.
func (n *Notifier) Notify(topic Topic) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close shuts the notifier down and closes all subscriber channels.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for _, subs := range n.subs {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
	}
}
