package notification

import "sync"

// Notifier accepts notifications for best-effort delivery. Implementations
// must return immediately.
type Notifier interface {
	Notify(req Request)
}

var _ Notifier = (*Dispatcher)(nil)

// Recorder is a Notifier that keeps every request in memory. Used in tests.
type Recorder struct {
	mu       sync.Mutex
	requests []Request
}

func (r *Recorder) Notify(req Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
}

// Requests returns a copy of the recorded requests.
func (r *Recorder) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Request, len(r.requests))
	copy(out, r.requests)
	return out
}

// Templates returns the template IDs of recorded requests, in order.
func (r *Recorder) Templates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.requests))
	for i, req := range r.requests {
		out[i] = req.TemplateID
	}
	return out
}
