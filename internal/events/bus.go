package events

import "sync"

// Event types published on the bus.
const (
	TypeSessionStarted  = "session_started"
	TypeSessionFinished = "session_finished"
	TypeWindowCompleted = "window_completed"
	TypeWindowFailed    = "window_failed"
	TypeBatchFinished   = "batch_finished"
)

// Event is one progress notification from the orchestrator.
type Event struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Window    int    `json:"window,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Bus is in-process pub/sub for progress events. Publish never blocks; a
// slow subscriber misses events rather than stalling processing.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

func NewBus() *Bus { return &Bus{} }

func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
