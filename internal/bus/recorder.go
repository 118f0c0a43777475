package bus

import "sync"

// Recorder collects every event published on a bus. It is meant for tests
// and for the CLI's --trace output.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	stop   func()
}

// NewRecorder subscribes a recorder to b for the given kinds (all if none).
func NewRecorder(b *Bus, kinds ...Kind) *Recorder {
	r := &Recorder{}
	r.stop = b.Subscribe(func(e Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	}, kinds...)
	return r
}

// Events returns a copy of the recorded events in publish order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded payloads of one kind.
func (r *Recorder) OfKind(k Kind) []Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Payload
	for _, e := range r.events {
		if e.Kind() == k {
			out = append(out, e.Payload)
		}
	}
	return out
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Stop unsubscribes the recorder.
func (r *Recorder) Stop() {
	r.stop()
}
