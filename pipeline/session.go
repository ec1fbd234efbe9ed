package pipeline

import (
	"sync"

	"relay"
)

const (
	// dedupWindowMs drops a consecutive event with identical summary and
	// detail arriving within this window.
	dedupWindowMs = 800
	// maxSessionEvents bounds the per-session event ring.
	maxSessionEvents = 400
)

// EventSource tags where a session event came from.
type EventSource string

const (
	SourceStdout EventSource = "stdout"
	SourceStderr EventSource = "stderr"
	SourceSystem EventSource = "system"
)

// SessionStatus is the lifecycle state of an executor session.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// SessionEvent is one entry in a session's event log.
type SessionEvent struct {
	At      int64       `json:"at"`
	Source  EventSource `json:"source"`
	Summary string      `json:"summary"`
	Detail  string      `json:"detail,omitempty"`
}

// Session is one pipeline run's structured log.
type Session struct {
	ID            string         `json:"id"`
	Actor         string         `json:"actor"`
	Objective     string         `json:"objective"`
	StartedAt     int64          `json:"startedAt"`
	FinishedAt    int64          `json:"finishedAt,omitempty"`
	Status        SessionStatus  `json:"status"`
	Events        []SessionEvent `json:"events"`
	ResultSummary string         `json:"resultSummary,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
}

// SessionLog holds at most one active session plus the most recent finished
// one. Beginning a new session replaces a still-active one; nesting is not
// supported.
type SessionLog struct {
	mu     sync.Mutex
	active *Session
	last   *Session
}

// NewSessionLog creates an empty SessionLog.
func NewSessionLog() *SessionLog {
	return &SessionLog{}
}

// Begin starts a new session. A still-active session is finalized as failed
// and retained as the last session.
func (l *SessionLog) Begin(actor, objective string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active != nil {
		l.active.Status = StatusFailed
		l.active.ErrorMessage = "superseded by a new session"
		l.active.FinishedAt = relay.NowUnixMilli()
		l.last = l.active
	}
	l.active = &Session{
		ID:        relay.NewID(),
		Actor:     actor,
		Objective: objective,
		StartedAt: relay.NowUnixMilli(),
		Status:    StatusRunning,
	}
}

// Event appends an event to the active session. Consecutive duplicates
// within the dedup window are dropped; the ring keeps the newest events.
func (l *SessionLog) Event(source EventSource, summary, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return
	}
	now := relay.NowUnixMilli()
	if n := len(l.active.Events); n > 0 {
		prev := l.active.Events[n-1]
		if prev.Summary == summary && prev.Detail == detail && now-prev.At < dedupWindowMs {
			return
		}
	}
	l.active.Events = append(l.active.Events, SessionEvent{
		At:      now,
		Source:  source,
		Summary: summary,
		Detail:  detail,
	})
	if len(l.active.Events) > maxSessionEvents {
		l.active.Events = l.active.Events[len(l.active.Events)-maxSessionEvents:]
	}
}

// Complete finishes the active session successfully.
func (l *SessionLog) Complete(resultSummary string) {
	l.finish(StatusCompleted, resultSummary, "")
}

// Fail finishes the active session with an error message.
func (l *SessionLog) Fail(errorMessage string) {
	l.finish(StatusFailed, "", errorMessage)
}

func (l *SessionLog) finish(status SessionStatus, result, errMsg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return
	}
	l.active.Status = status
	l.active.ResultSummary = result
	l.active.ErrorMessage = errMsg
	l.active.FinishedAt = relay.NowUnixMilli()
	l.last = l.active
	l.active = nil
}

// Last returns a copy of the most recent finished session, or nil.
func (l *SessionLog) Last() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copySession(l.last)
}

// Active returns a copy of the running session, or nil.
func (l *SessionLog) Active() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copySession(l.active)
}

func copySession(s *Session) *Session {
	if s == nil {
		return nil
	}
	dup := *s
	dup.Events = make([]SessionEvent, len(s.Events))
	copy(dup.Events, s.Events)
	return &dup
}
