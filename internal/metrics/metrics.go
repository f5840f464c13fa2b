// Package metrics provides lightweight, lock-free counters for tracking
// what an sshvpn process has done: sessions, failures, proxy changes,
// probes and reconnects.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one sshvpn process.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	connectAttempts atomic.Int64
	connectRejected atomic.Int64
	sessionsActive  atomic.Int64
	sessionsTotal   atomic.Int64
	launchFailures  atomic.Int64
	disconnects     atomic.Int64
	forcedKills     atomic.Int64
	proxyApplied    atomic.Int64
	proxyErrors     atomic.Int64
	probesTotal     atomic.Int64
	probesFailed    atomic.Int64
	reconnects      atomic.Int64
	eventsDropped   atomic.Int64
	errorsTotal     atomic.Int64

	mu              sync.RWMutex
	startTime       time.Time
	lastConnected   time.Time
	lastHealthCheck time.Time
	lastError       time.Time
	lastErrorMsg    string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session metrics ──────────────────────────────────────────────────

// ConnectAttempt counts an accepted connect request.
func (c *Collector) ConnectAttempt() {
	if c == nil {
		return
	}
	c.connectAttempts.Add(1)
}

// ConnectRejected counts a connect or disconnect refused as busy.
func (c *Collector) ConnectRejected() {
	if c == nil {
		return
	}
	c.connectRejected.Add(1)
}

// SessionEstablished marks a session that passed its grace check.
func (c *Collector) SessionEstablished() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
	c.mu.Lock()
	c.lastConnected = time.Now()
	c.mu.Unlock()
}

// SessionEnded records a completed disconnect of an established session.
func (c *Collector) SessionEnded(forced bool) {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
	c.disconnects.Add(1)
	if forced {
		c.forcedKills.Add(1)
	}
}

// LaunchFailed counts a child that died or could not start.
func (c *Collector) LaunchFailed() {
	if c == nil {
		return
	}
	c.launchFailures.Add(1)
}

// ActiveSessions returns the number of established sessions (0 or 1
// for a single controller).
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// LaunchFailures returns the lifetime launch failure count.
func (c *Collector) LaunchFailures() int64 {
	if c == nil {
		return 0
	}
	return c.launchFailures.Load()
}

// ── Proxy metrics ────────────────────────────────────────────────────

// ProxyApplied counts a system proxy change that took effect.
func (c *Collector) ProxyApplied() {
	if c == nil {
		return
	}
	c.proxyApplied.Add(1)
}

// ProxyError counts a failed proxy capture, apply or restore.
func (c *Collector) ProxyError() {
	if c == nil {
		return
	}
	c.proxyErrors.Add(1)
}

// ProxyErrors returns the lifetime proxy error count.
func (c *Collector) ProxyErrors() int64 {
	if c == nil {
		return 0
	}
	return c.proxyErrors.Load()
}

// ── Probe / monitor metrics ──────────────────────────────────────────

// ProbeCompleted records a reachability or liveness probe.
func (c *Collector) ProbeCompleted(ok bool) {
	if c == nil {
		return
	}
	c.probesTotal.Add(1)
	if !ok {
		c.probesFailed.Add(1)
	}
}

// Reconnect records a monitor-driven reconnect attempt.
func (c *Collector) Reconnect() {
	if c == nil {
		return
	}
	c.reconnects.Add(1)
}

// Reconnects returns the total reconnect count.
func (c *Collector) Reconnects() int64 {
	if c == nil {
		return 0
	}
	return c.reconnects.Load()
}

// EventDropped counts an event a slow subscriber never received.
func (c *Collector) EventDropped() {
	if c == nil {
		return
	}
	c.eventsDropped.Add(1)
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Health ───────────────────────────────────────────────────────────

// RecordHealthCheck updates the last health check timestamp.
func (c *Collector) RecordHealthCheck() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lastHealthCheck = time.Now()
	c.mu.Unlock()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	ConnectAttempts  int64  `json:"connect_attempts"`
	ConnectRejected  int64  `json:"connect_rejected"`
	SessionsActive   int64  `json:"sessions_active"`
	SessionsTotal    int64  `json:"sessions_total"`
	LaunchFailures   int64  `json:"launch_failures"`
	Disconnects      int64  `json:"disconnects"`
	ForcedKills      int64  `json:"forced_kills"`
	ProxyApplied     int64  `json:"proxy_applied"`
	ProxyErrors      int64  `json:"proxy_errors"`
	ProbesTotal      int64  `json:"probes_total"`
	ProbesFailed     int64  `json:"probes_failed"`
	Reconnects       int64  `json:"reconnects"`
	EventsDropped    int64  `json:"events_dropped"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastConnected    string `json:"last_connected,omitempty"`
	LastHealthCheck  string `json:"last_health_check,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:          time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectAttempts: c.connectAttempts.Load(),
		ConnectRejected: c.connectRejected.Load(),
		SessionsActive:  c.sessionsActive.Load(),
		SessionsTotal:   c.sessionsTotal.Load(),
		LaunchFailures:  c.launchFailures.Load(),
		Disconnects:     c.disconnects.Load(),
		ForcedKills:     c.forcedKills.Load(),
		ProxyApplied:    c.proxyApplied.Load(),
		ProxyErrors:     c.proxyErrors.Load(),
		ProbesTotal:     c.probesTotal.Load(),
		ProbesFailed:    c.probesFailed.Load(),
		Reconnects:      c.reconnects.Load(),
		EventsDropped:   c.eventsDropped.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
	}
	if !c.lastConnected.IsZero() {
		s.LastConnected = c.lastConnected.UTC().Format(time.RFC3339)
	}
	if !c.lastHealthCheck.IsZero() {
		s.LastHealthCheck = c.lastHealthCheck.UTC().Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.UTC().Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
