package automation

import "sync"

// Event is a progress or completion notification published to live
// subscribers of a run.
type Event struct {
	Type       string `json:"type"`
	RunID      string `json:"runId"`
	Step       *int   `json:"step,omitempty"`
	TotalSteps *int   `json:"totalSteps,omitempty"`
	Status     string `json:"status,omitempty"`
	Action     string `json:"action,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Event types pushed to subscribers.
const (
	EventTypeProgress = "progress"
	EventTypeComplete = "complete"
)

const subscriberBuffer = 16

// Subscriber is one live observer of a run's event stream. Its channel is
// closed when the subscriber is removed, either explicitly or because it
// stopped draining events.
type Subscriber struct {
	runID string
	ch    chan Event
}

// Events returns the subscriber's event channel.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// RunID returns the run this subscriber observes.
func (s *Subscriber) RunID() string {
	return s.runID
}

// Broker is an in-memory registry of live run observers. It is process-local
// state owned by the composition root and injected where needed; nothing
// about it is persisted and it starts empty on every boot.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[*Subscriber]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe registers a new observer for runID.
func (b *Broker) Subscribe(runID string) *Subscriber {
	sub := &Subscriber{runID: runID, ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[runID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		b.subs[runID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes an observer and closes its channel. Safe to call more
// than once; the empty set is pruned immediately.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

// Publish delivers an event to every live observer of runID. Delivery is
// best-effort: an observer that is not draining its channel is dropped so a
// stalled client cannot affect the run or other observers.
func (b *Broker) Publish(runID string, event Event) {
	event.RunID = runID

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[runID]
	if !ok {
		return
	}
	for sub := range set {
		select {
		case sub.ch <- event:
		default:
			b.removeLocked(sub)
		}
	}
}

// SubscriberCount returns the number of live observers for runID.
func (b *Broker) SubscriberCount(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[runID])
}

func (b *Broker) removeLocked(sub *Subscriber) {
	set, ok := b.subs[sub.runID]
	if !ok {
		return
	}
	if _, present := set[sub]; !present {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(b.subs, sub.runID)
	}
}
