// Package session implements the connection-session state machine.
//
// A Controller owns at most one session.  It validates the profile,
// starts the client through a Launcher, waits a grace interval and then
// decides whether the session is up.  Disconnect terminates the client
// and asks the proxy configurator to put the system proxy back.
//
//	Idle → Connecting → Connected → Disconnecting → Idle
//	           └──→ Failed → Idle
//
// Every blocking step runs on a background goroutine.  One transition
// may be in flight at a time; requests arriving meanwhile are rejected
// with ErrBusy and the caller retries.
//
// Known limitations: a client that dies after Connected is not noticed
// here (poll Alive, or use the monitor package), and a connect in its
// grace interval cannot be cancelled; wait for it to settle, then call
// Disconnect.
package session

import (
	"context"
	"time"

	"sshvpn/internal/launcher"
	"sshvpn/internal/profile"
	"sshvpn/internal/proxy"
)

// Defaults for Options.
const (
	DefaultGraceInterval  = 3 * time.Second
	DefaultTerminateGrace = 5 * time.Second
	DefaultProxyTimeout   = 30 * time.Second
)

// Status is the externally visible session state.
type Status int

const (
	Idle Status = iota
	Connecting
	Connected
	Disconnecting
	// Failed is transient: it is reported once, then the controller
	// resets to Idle.
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Launcher starts client processes.  *launcher.Launcher implements it.
type Launcher interface {
	// Check verifies the external binaries mode needs.  It is called
	// synchronously from Connect.
	Check(ctx context.Context, mode profile.Mode) error
	Command(p profile.Profile) launcher.Spec
	Launch(p profile.Profile, onLine launcher.LineFunc) (launcher.Process, error)
}

// ProxyController changes the system proxy.  *proxy.Configurator
// implements it and logs its own failures.
type ProxyController interface {
	Enable(ctx context.Context, port int) (proxy.Outcome, error)
	Disable(ctx context.Context) error
}

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	Status      Status        `json:"status"`
	SessionID   string        `json:"session_id,omitempty"`
	Profile     string        `json:"profile,omitempty"`
	Destination string        `json:"destination,omitempty"`
	Mode        string        `json:"mode,omitempty"`
	Endpoint    string        `json:"endpoint,omitempty"`
	PID         int           `json:"pid,omitempty"`
	ConnectedAt time.Time     `json:"connected_at,omitempty"`
	Proxy       proxy.Outcome `json:"proxy"`
	LastError   string        `json:"last_error,omitempty"`
}
