// Package errors provides the error taxonomy for sshvpn.
//
// Sentinels classify a failure; the structured types carry the context
// (field, binary, captured stderr, proxy strategy) a human needs to act on
// it.  Every structured type unwraps to its sentinel so callers can use
// [Is] without caring about the concrete type.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	// ErrInvalidProfile rejects a profile before any side effect.
	ErrInvalidProfile = errors.New("invalid profile")
	// ErrMissingDependency means a required external binary is absent.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrLaunchFailed means the child exited or could not be started.
	ErrLaunchFailed = errors.New("launch failed")
	// ErrProxyConfig is a best-effort proxy failure; never fatal.
	ErrProxyConfig = errors.New("proxy configuration failed")
	// ErrTerminationTimeout means a graceful stop escalated to a kill.
	ErrTerminationTimeout = errors.New("termination timed out")
	// ErrBusy rejects a request while the session is not idle or a
	// transition is still running.
	ErrBusy = errors.New("session busy")
	// ErrNotConnected rejects operations that need a live session.
	ErrNotConnected = errors.New("not connected")
	// ErrInvalidConfig rejects a flag or environment setting.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ── Structured error types ───────────────────────────────────────────

// ProfileError describes an invalid profile field.
type ProfileError struct {
	Field   string      // profile field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ProfileError) Error() string {
	msg := fmt.Sprintf("profile: %s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

func (e *ProfileError) Unwrap() error { return ErrInvalidProfile }

// ConfigError describes an invalid flag or environment value.
type ConfigError struct {
	Field   string      // flag name without dashes
	Value   interface{} // the invalid value (nil if missing)
	Message string
	Hint    string
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// DependencyError names an external binary that could not be found.
type DependencyError struct {
	Binary  string   // executable that is missing, e.g. "sshuttle"
	Install []string // suggested install commands
	Err     error    // lookup / probe failure
}

func (e *DependencyError) Error() string {
	msg := fmt.Sprintf("%s not found", e.Binary)
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	if len(e.Install) > 0 {
		msg += "; install with: " + strings.Join(e.Install, " or ")
	}
	return msg
}

func (e *DependencyError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMissingDependency}
	}
	return []error{ErrMissingDependency, e.Err}
}

// LaunchError reports a child process that died before it was usable.
type LaunchError struct {
	Command string // program name, e.g. "sshpass"
	Stderr  string // captured stderr, trimmed
	Err     error  // exit status or start error
}

func (e *LaunchError) Error() string {
	msg := e.Command + ": connection failed"
	switch {
	case e.Stderr != "":
		msg += ": " + e.Stderr
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	default:
		msg += ": unknown error"
	}
	return msg
}

func (e *LaunchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrLaunchFailed}
	}
	return []error{ErrLaunchFailed, e.Err}
}

// ProxyError wraps a failure of one proxy strategy operation.
type ProxyError struct {
	Strategy string // "gnome", "nmcli", "windows", "advisory"
	Op       string // "capture", "apply", "restore"
	Err      error
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy %s %s: %v", e.Strategy, e.Op, e.Err)
}

func (e *ProxyError) Unwrap() []error { return []error{ErrProxyConfig, e.Err} }

// ── Constructors ─────────────────────────────────────────────────────

// InvalidField builds a ProfileError without a hint.
func InvalidField(field string, value interface{}, msg string) *ProfileError {
	return &ProfileError{Field: field, Value: value, Message: msg}
}

// WrapProxy creates a ProxyError.  A nil err yields nil.
func WrapProxy(strategy, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProxyError{Strategy: strategy, Op: op, Err: err}
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use sshvpn/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
