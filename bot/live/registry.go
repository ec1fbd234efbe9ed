// Package live tracks in-flight messenger runs and serves them over HTTP so
// a chat user can watch progress from a browser.
package live

import (
	"sync"

	"relay"
)

const (
	maxRuns        = 120
	maxRunEvents   = 300
	completedTTLMs = 2 * 3600 * 1000
	previewLimit   = 2000
)

// Event is one progress line of a run.
type Event struct {
	At   int64  `json:"at"`
	Text string `json:"text"`
}

// Run is the published state of one messenger request.
type Run struct {
	ID            string  `json:"id"`
	ChatID        string  `json:"chatId"`
	Prompt        string  `json:"prompt"`
	Actor         string  `json:"actor"`
	Status        string  `json:"status"`
	Detail        string  `json:"detail,omitempty"`
	CreatedAt     int64   `json:"createdAt"`
	UpdatedAt     int64   `json:"updatedAt"`
	Completed     bool    `json:"completed"`
	Error         string  `json:"error,omitempty"`
	ResultPreview string  `json:"resultPreview,omitempty"`
	Events        []Event `json:"events"`
}

// Registry holds bounded run state. Writers never block on readers; readers
// get copies.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*Run
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

// Create registers a new run and returns its id.
func (r *Registry) Create(chatID, prompt, actor string) string {
	now := relay.NowUnixMilli()
	run := &Run{
		ID:        relay.NewID(),
		ChatID:    chatID,
		Prompt:    prompt,
		Actor:     actor,
		Status:    "running",
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
	r.evictLocked()
	return run.ID
}

// SetStatus updates the live status line of a run.
func (r *Registry) SetStatus(id, status, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok || run.Completed {
		return
	}
	run.Status = status
	run.Detail = detail
	run.UpdatedAt = relay.NowUnixMilli()
}

// Append adds a progress event, capping the ring at maxRunEvents.
func (r *Registry) Append(id, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok || run.Completed {
		return
	}
	run.Events = append(run.Events, Event{At: relay.NowUnixMilli(), Text: text})
	if len(run.Events) > maxRunEvents {
		run.Events = run.Events[len(run.Events)-maxRunEvents:]
	}
	run.UpdatedAt = relay.NowUnixMilli()
}

// Complete marks the run finished successfully.
func (r *Registry) Complete(id, result string) {
	r.finish(id, "completed", result, "")
}

// Fail marks the run finished with an error.
func (r *Registry) Fail(id, errText string) {
	r.finish(id, "failed: "+errText, "", errText)
}

func (r *Registry) finish(id, status, result, errText string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok || run.Completed {
		return
	}
	run.Completed = true
	run.Status = status
	run.Error = errText
	if len(result) > previewLimit {
		result = result[:previewLimit] + "…"
	}
	run.ResultPreview = result
	run.UpdatedAt = relay.NowUnixMilli()
}

// Get returns a snapshot copy of a run.
func (r *Registry) Get(id string) (Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return Run{}, false
	}
	out := *run
	out.Events = append([]Event(nil), run.Events...)
	return out, true
}

// Len reports the number of tracked runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// evictLocked drops completed runs older than the TTL once the registry
// grows past maxRuns. Running and recently completed runs are never
// evicted, so the registry may hold more than maxRuns entries while they
// stay fresh.
func (r *Registry) evictLocked() {
	if len(r.runs) <= maxRuns {
		return
	}
	cutoff := relay.NowUnixMilli() - completedTTLMs
	for id, run := range r.runs {
		if run.Completed && run.UpdatedAt < cutoff {
			delete(r.runs, id)
		}
	}
}
