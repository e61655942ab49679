package activity

import (
	"context"
	"sync"
)

// CaptureHook keeps every event it sees. Tests and dry runs use it in place
// of a real sink.
type CaptureHook struct {
	Events []Event
	// Err is returned from every Notify call after the event is recorded.
	Err error
	mu  sync.Mutex
}

// Notify records the event.
func (h *CaptureHook) Notify(_ context.Context, event Event) error {
	h.mu.Lock()
	h.Events = append(h.Events, NormalizeEvent(event))
	h.mu.Unlock()
	return h.Err
}

// Verbs lists the recorded verbs in arrival order.
func (h *CaptureHook) Verbs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	verbs := make([]string, 0, len(h.Events))
	for _, event := range h.Events {
		verbs = append(verbs, event.Verb)
	}
	return verbs
}
