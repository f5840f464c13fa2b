// Package proxy points the operating system's proxy settings at the
// local SOCKS endpoint and puts them back afterwards.
//
// Each platform mechanism is a Strategy.  The Configurator captures the
// prior settings once, before its first change, and restores exactly
// those values on Disable, so a disconnect is the inverse of a connect.
package proxy

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	vpnerr "sshvpn/internal/errors"
	"sshvpn/internal/event"
	"sshvpn/internal/metrics"
	"sshvpn/util"
)

// Setting is one captured value.  Absent records that the value did
// not exist, so restoring it means deleting it.
type Setting struct {
	Key    string
	Value  string
	Absent bool
}

// Snapshot is the prior proxy configuration held between Enable and
// Disable.
type Snapshot struct {
	Strategy string
	Settings []Setting
}

// Get returns the captured value for key.
func (s Snapshot) Get(key string) (Setting, bool) {
	for _, kv := range s.Settings {
		if kv.Key == key {
			return kv, true
		}
	}
	return Setting{}, false
}

// Strategy is one way of changing the system proxy.
type Strategy interface {
	Name() string
	Capture(ctx context.Context) (Snapshot, error)
	Apply(ctx context.Context, port int) error
	Restore(ctx context.Context, snap Snapshot) error
}

// Advisor is implemented by strategies that cannot change anything and
// instead tell the user what to do.
type Advisor interface {
	Advice(port int) []string
}

// Outcome says what Enable actually did.
type Outcome int

const (
	// OutcomeNone means nothing happened (Enable failed).
	OutcomeNone Outcome = iota
	// OutcomeApplied means the system proxy now points at the tunnel.
	OutcomeApplied
	// OutcomeAdvisory means instructions were printed and nothing
	// was changed.  It is not a success.
	OutcomeAdvisory
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeAdvisory:
		return "advisory"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Endpoint is the SOCKS address applied for port.
func Endpoint(port int) string {
	return util.LoopbackEndpoint(port)
}

// Configurator owns the snapshot and serializes changes.
type Configurator struct {
	strategy Strategy
	sink     event.Sink
	metrics  *metrics.Collector

	mu       sync.Mutex
	snapshot *Snapshot
}

// New returns a Configurator using strategy.
func New(strategy Strategy, sink event.Sink, m *metrics.Collector) *Configurator {
	if sink == nil {
		sink = event.Discard
	}
	return &Configurator{strategy: strategy, sink: sink, metrics: m}
}

// Strategy returns the name of the active strategy.
func (c *Configurator) Strategy() string { return c.strategy.Name() }

// Held returns a copy of the snapshot, if one is held.
func (c *Configurator) Held() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return Snapshot{}, false
	}
	return cloneSnapshot(*c.snapshot), true
}

// Enable points the system proxy at 127.0.0.1:port.  The prior settings
// are captured only if no snapshot is held; a second Enable before
// Disable keeps the first snapshot.
func (c *Configurator) Enable(ctx context.Context, port int) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if a, ok := c.strategy.(Advisor); ok {
		for _, line := range a.Advice(port) {
			c.log(event.SeverityWarn, "proxy.enable", line)
		}
		return OutcomeAdvisory, nil
	}

	name := c.strategy.Name()
	if c.snapshot == nil {
		snap, err := c.strategy.Capture(ctx)
		if err != nil {
			return OutcomeNone, c.fail("proxy.enable", vpnerr.WrapProxy(name, "capture", err))
		}
		snap.Strategy = name
		c.snapshot = &snap
		c.log(event.SeverityInfo, "proxy.enable", "Proxy settings backed up ("+name+")")
	}

	if err := c.strategy.Apply(ctx, port); err != nil {
		// The snapshot stays: a partial apply still needs undoing.
		return OutcomeNone, c.fail("proxy.enable", vpnerr.WrapProxy(name, "apply", err))
	}
	c.metrics.ProxyApplied()
	c.log(event.SeverityInfo, "proxy.enable",
		fmt.Sprintf("System proxy set to SOCKS %s (%s)", Endpoint(port), name))
	return OutcomeApplied, nil
}

// Disable restores the held snapshot and clears it.  Without a snapshot
// it does nothing.  If restoring fails the snapshot is kept so a later
// Disable can retry.
func (c *Configurator) Disable(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot == nil {
		return nil
	}
	name := c.strategy.Name()
	if err := c.strategy.Restore(ctx, *c.snapshot); err != nil {
		return c.fail("proxy.disable", vpnerr.WrapProxy(name, "restore", err))
	}
	c.snapshot = nil
	c.log(event.SeverityInfo, "proxy.disable", "Proxy settings restored ("+name+")")
	return nil
}

func (c *Configurator) fail(op string, err error) error {
	c.metrics.ProxyError()
	c.metrics.RecordError(err.Error())
	c.log(event.SeverityError, op, err.Error())
	return err
}

func (c *Configurator) log(sev event.Severity, op, msg string) {
	c.sink.OnLog(event.Log(sev, "", op, msg))
}

func cloneSnapshot(s Snapshot) Snapshot {
	s.Settings = append([]Setting(nil), s.Settings...)
	return s
}

func portString(port int) string { return strconv.Itoa(port) }
