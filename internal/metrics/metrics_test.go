package metrics

import (
	"encoding/json"
	"testing"
)

func TestCollector_SessionLifecycle(t *testing.T) {
	c := New()

	c.ConnectAttempt()
	c.SessionEstablished()
	if c.ActiveSessions() != 1 {
		t.Errorf("active = %d, want 1", c.ActiveSessions())
	}

	c.SessionEnded(true)
	if c.ActiveSessions() != 0 {
		t.Errorf("active = %d, want 0", c.ActiveSessions())
	}

	snap := c.Snapshot()
	if snap.SessionsTotal != 1 || snap.Disconnects != 1 || snap.ForcedKills != 1 {
		t.Errorf("snap = %+v", snap)
	}
	if snap.LastConnected == "" {
		t.Error("expected last_connected timestamp")
	}
}

func TestCollector_Failures(t *testing.T) {
	c := New()

	c.ConnectAttempt()
	c.LaunchFailed()
	c.ConnectRejected()
	c.ConnectRejected()

	if c.LaunchFailures() != 1 {
		t.Errorf("launch failures = %d, want 1", c.LaunchFailures())
	}
	if snap := c.Snapshot(); snap.ConnectRejected != 2 || snap.ConnectAttempts != 1 {
		t.Errorf("snap = %+v", snap)
	}
}

func TestCollector_ProxyAndProbes(t *testing.T) {
	c := New()

	c.ProxyApplied()
	c.ProxyError()
	c.ProxyError()
	c.ProbeCompleted(true)
	c.ProbeCompleted(false)
	c.Reconnect()
	c.EventDropped()

	if c.ProxyErrors() != 2 {
		t.Errorf("proxy errors = %d, want 2", c.ProxyErrors())
	}
	if c.Reconnects() != 1 {
		t.Errorf("reconnects = %d, want 1", c.Reconnects())
	}
	snap := c.Snapshot()
	if snap.ProbesTotal != 2 || snap.ProbesFailed != 1 {
		t.Errorf("probes = %d/%d", snap.ProbesFailed, snap.ProbesTotal)
	}
	if snap.ProxyApplied != 1 || snap.EventsDropped != 1 {
		t.Errorf("snap = %+v", snap)
	}
}

func TestCollector_Errors(t *testing.T) {
	c := New()

	c.RecordError("first error")
	c.RecordError("second error")

	if c.ErrorCount() != 2 {
		t.Errorf("errors = %d, want 2", c.ErrorCount())
	}
	snap := c.Snapshot()
	if snap.LastErrorMessage != "second error" {
		t.Errorf("last error = %q", snap.LastErrorMessage)
	}
}

func TestCollector_HealthCheck(t *testing.T) {
	c := New()
	c.RecordHealthCheck()

	snap := c.Snapshot()
	if snap.LastHealthCheck == "" {
		t.Error("expected non-empty health check timestamp")
	}
}

func TestCollector_JSON(t *testing.T) {
	c := New()
	c.SessionEstablished()
	c.ProxyApplied()

	raw := c.JSON()
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("JSON parse error: %v", err)
	}
	if snap.SessionsActive != 1 {
		t.Errorf("JSON active = %d", snap.SessionsActive)
	}
	if snap.ProxyApplied != 1 {
		t.Errorf("JSON proxy applied = %d", snap.ProxyApplied)
	}
}

func TestNilCollector_NoOps(t *testing.T) {
	var c *Collector

	// None of these should panic.
	c.ConnectAttempt()
	c.ConnectRejected()
	c.SessionEstablished()
	c.SessionEnded(false)
	c.LaunchFailed()
	c.ProxyApplied()
	c.ProxyError()
	c.ProbeCompleted(false)
	c.Reconnect()
	c.EventDropped()
	c.RecordError("test")
	c.RecordHealthCheck()

	if c.ActiveSessions() != 0 || c.LaunchFailures() != 0 || c.ErrorCount() != 0 {
		t.Error("nil collector should return 0")
	}

	snap := c.Snapshot()
	if snap.SessionsTotal != 0 {
		t.Error("nil snapshot should be zero")
	}

	if j := c.JSON(); j == "" {
		t.Error("nil JSON should return valid JSON")
	}
}
