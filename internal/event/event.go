// Package event defines the records the session core emits and the sink
// contract observers implement to receive them.
//
// Emitters never wait on observers: Sink methods are fire-and-forget and
// the Bus hands every subscriber its own bounded queue, dropping events
// for a subscriber that falls behind rather than stalling the session.
package event

import (
	"time"
)

// Severity grades an event.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// StatusEvent reports a session status change or a headline result
// (probe outcome, proxy applied).
type StatusEvent struct {
	Time      time.Time
	Severity  Severity
	SessionID string
	Status    string // session status after the change, or a probe outcome
	Message   string
	Err       error // set for failures; Failed carries the launch error
}

// LogEvent is one line of diagnostic output.
type LogEvent struct {
	Time      time.Time
	Severity  Severity
	SessionID string
	Op        string // originating operation, e.g. "connect" or "output.stderr"
	Message   string
}

// Sink receives events.  Implementations must return quickly.
type Sink interface {
	OnStatus(StatusEvent)
	OnLog(LogEvent)
}

// Now is the event clock, always UTC.
var Now = func() time.Time { return time.Now().UTC() } //nolint:gochecknoglobals

// Status builds a StatusEvent stamped with Now.
func Status(sev Severity, sessionID, status, msg string, err error) StatusEvent {
	return StatusEvent{
		Time:      Now(),
		Severity:  sev,
		SessionID: sessionID,
		Status:    status,
		Message:   msg,
		Err:       err,
	}
}

// Log builds a LogEvent stamped with Now.
func Log(sev Severity, sessionID, op, msg string) LogEvent {
	return LogEvent{
		Time:      Now(),
		Severity:  sev,
		SessionID: sessionID,
		Op:        op,
		Message:   msg,
	}
}

// ── Adapters ─────────────────────────────────────────────────────────

// Funcs adapts plain functions to a Sink.  Nil fields are ignored.
type Funcs struct {
	Status func(StatusEvent)
	Log    func(LogEvent)
}

func (f Funcs) OnStatus(e StatusEvent) {
	if f.Status != nil {
		f.Status(e)
	}
}

func (f Funcs) OnLog(e LogEvent) {
	if f.Log != nil {
		f.Log(e)
	}
}

// Discard drops every event.
var Discard Sink = Funcs{} //nolint:gochecknoglobals
