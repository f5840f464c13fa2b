package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	vpnerr "sshvpn/internal/errors"
	"sshvpn/internal/event"
	"sshvpn/internal/launcher"
	"sshvpn/internal/metrics"
	"sshvpn/internal/profile"
	"sshvpn/internal/proxy"
)

// Options configures a Controller.  Launcher is required.
type Options struct {
	Launcher Launcher
	Proxy    ProxyController // nil disables proxy handling
	Sink     event.Sink
	Metrics  *metrics.Collector

	GraceInterval  time.Duration // wait before the liveness check
	TerminateGrace time.Duration // SIGTERM to kill
	ProxyTimeout   time.Duration // bound on each proxy call

	// AutoProxy enables the system proxy as soon as a tunnel session
	// is Connected.
	AutoProxy bool
}

// Controller is the session state machine.  All state is guarded by mu;
// inFlight marks a transition whose background half has not finished.
type Controller struct {
	opts Options
	sink event.Sink

	mu          sync.Mutex
	status      Status
	inFlight    bool
	settled     chan struct{}
	sessionID   string
	active      *profile.Profile
	proc        launcher.Process
	lastErr     error
	connectedAt time.Time
	proxyState  proxy.Outcome
}

// New returns an Idle controller.
func New(opts Options) *Controller {
	if opts.GraceInterval <= 0 {
		opts.GraceInterval = DefaultGraceInterval
	}
	if opts.TerminateGrace <= 0 {
		opts.TerminateGrace = DefaultTerminateGrace
	}
	if opts.ProxyTimeout <= 0 {
		opts.ProxyTimeout = DefaultProxyTimeout
	}
	sink := opts.Sink
	if sink == nil {
		sink = event.Discard
	}
	settled := make(chan struct{})
	close(settled)
	return &Controller{opts: opts, sink: sink, settled: settled}
}

// ── Connect ──────────────────────────────────────────────────────────

// Connect starts a session for p.  It returns once the request has been
// accepted; the outcome arrives as events.  Synchronous failures are
// ErrBusy (not Idle, or a transition is running), ErrInvalidProfile and
// ErrMissingDependency; none of them spawn a process or change state.
// ctx bounds only the dependency check.
func (c *Controller) Connect(ctx context.Context, p profile.Profile) error {
	c.mu.Lock()
	if c.status != Idle || c.inFlight {
		st := c.status
		c.mu.Unlock()
		return c.reject("connect", st)
	}
	if err := p.Validate(); err != nil {
		c.mu.Unlock()
		c.rejectIdle("connect", err)
		return err
	}
	c.beginLocked()
	c.mu.Unlock()

	if err := c.opts.Launcher.Check(ctx, p.Mode); err != nil {
		c.mu.Lock()
		c.endLocked()
		c.mu.Unlock()
		c.rejectIdle("connect", err)
		return err
	}

	p = p.Clone()
	id := uuid.NewString()

	c.mu.Lock()
	c.status = Connecting
	c.sessionID = id
	c.active = &p
	c.lastErr = nil
	c.proxyState = proxy.OutcomeNone
	c.mu.Unlock()

	c.opts.Metrics.ConnectAttempt()
	msg := fmt.Sprintf("Connecting to %s:%d...", p.Destination(), p.Port)
	c.log(event.SeverityInfo, id, "connect", msg)
	c.emit(event.SeverityInfo, id, Connecting, msg, nil)

	go c.runConnect(id, p)
	return nil
}

func (c *Controller) runConnect(id string, p profile.Profile) {
	spec := c.opts.Launcher.Command(p)
	c.log(event.SeverityInfo, id, "connect", "Executing: "+spec.String())

	proc, err := c.opts.Launcher.Launch(p, func(s launcher.Stream, line string) {
		sev := event.SeverityInfo
		if s == launcher.StreamStderr {
			sev = event.SeverityWarn
		}
		c.log(sev, id, event.OutputOpPrefix+string(s), line)
	})
	if err != nil {
		c.fail(id, err)
		return
	}

	c.mu.Lock()
	c.proc = proc
	c.mu.Unlock()

	time.Sleep(c.opts.GraceInterval)

	if !proc.IsAlive() {
		_, stderr := proc.Output()
		c.fail(id, &vpnerr.LaunchError{Command: spec.Path, Stderr: strings.TrimSpace(stderr)})
		return
	}

	now := time.Now().UTC()
	c.mu.Lock()
	c.status = Connected
	c.connectedAt = now
	c.mu.Unlock()
	c.opts.Metrics.SessionEstablished()

	var msg string
	if p.Mode == profile.ModeFullVPN {
		msg = fmt.Sprintf("Full VPN tunnel active using sshuttle; all traffic is routed through %s", p.Host)
	} else {
		msg = "SOCKS proxy running on " + proxy.Endpoint(p.SocksPort)
	}
	c.log(event.SeverityInfo, id, "connect", "SSH VPN connection established successfully!")
	c.emit(event.SeverityInfo, id, Connected, msg, nil)

	if c.opts.AutoProxy && c.opts.Proxy != nil && p.Mode == profile.ModeTunnelSocks {
		c.applyProxy(id, p.SocksPort)
	}

	c.mu.Lock()
	c.endLocked()
	c.mu.Unlock()
}

// fail reports err as Failed and then resets to Idle.
func (c *Controller) fail(id string, err error) {
	c.mu.Lock()
	c.status = Failed
	c.lastErr = err
	c.mu.Unlock()

	c.opts.Metrics.LaunchFailed()
	c.opts.Metrics.RecordError(err.Error())
	c.log(event.SeverityError, id, "connect", err.Error())
	c.emit(event.SeverityError, id, Failed, "Connection failed", err)

	c.mu.Lock()
	c.resetLocked()
	c.endLocked()
	c.mu.Unlock()
	c.emit(event.SeverityInfo, id, Idle, "", nil)
}

// ── Disconnect ───────────────────────────────────────────────────────

// Disconnect tears the session down.  It is a no-op when Idle and
// returns ErrBusy while another transition runs.  Termination and
// proxy restore run in the background; the controller always ends Idle
// regardless of their errors.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	if c.inFlight {
		st := c.status
		c.mu.Unlock()
		return c.reject("disconnect", st)
	}
	if c.status == Idle {
		c.mu.Unlock()
		return nil
	}
	c.beginLocked()
	c.status = Disconnecting
	id, proc := c.sessionID, c.proc
	c.mu.Unlock()

	c.log(event.SeverityInfo, id, "disconnect", "Disconnecting SSH VPN...")
	c.emit(event.SeverityInfo, id, Disconnecting, "Disconnecting...", nil)

	go c.runDisconnect(id, proc)
	return nil
}

func (c *Controller) runDisconnect(id string, proc launcher.Process) {
	forced := false
	if proc != nil {
		if err := proc.Terminate(c.opts.TerminateGrace); err != nil {
			forced = vpnerr.Is(err, vpnerr.ErrTerminationTimeout)
			c.log(event.SeverityWarn, id, "disconnect", err.Error())
		}
	}

	if c.opts.Proxy != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ProxyTimeout)
		// Errors are logged by the configurator and never block Idle.
		_ = c.opts.Proxy.Disable(ctx)
		cancel()
	}

	c.mu.Lock()
	c.resetLocked()
	c.endLocked()
	c.mu.Unlock()

	c.opts.Metrics.SessionEnded(forced)
	c.log(event.SeverityInfo, id, "disconnect", "SSH VPN disconnected")
	c.emit(event.SeverityInfo, id, Idle, "Disconnected", nil)
}

// Shutdown waits for any running transition, disconnects, and waits for
// that to finish too.
func (c *Controller) Shutdown(ctx context.Context) error {
	for {
		select {
		case <-c.Settled():
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := c.Disconnect(); vpnerr.Is(err, vpnerr.ErrBusy) {
			continue
		}
		select {
		case <-c.Settled():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ── System proxy ─────────────────────────────────────────────────────

// EnableProxy points the system proxy at the session's SOCKS endpoint.
// It needs a Connected tunnel-mode session.
func (c *Controller) EnableProxy(ctx context.Context) (proxy.Outcome, error) {
	if c.opts.Proxy == nil {
		return proxy.OutcomeNone, fmt.Errorf("no proxy configurator: %w", vpnerr.ErrProxyConfig)
	}

	c.mu.Lock()
	if c.status != Connected {
		c.mu.Unlock()
		return proxy.OutcomeNone, fmt.Errorf("enable proxy: %w", vpnerr.ErrNotConnected)
	}
	if c.inFlight {
		st := c.status
		c.mu.Unlock()
		return proxy.OutcomeNone, c.reject("enable proxy", st)
	}
	if c.active.Mode != profile.ModeTunnelSocks {
		c.mu.Unlock()
		return proxy.OutcomeNone, fmt.Errorf("enable proxy: full VPN mode has no SOCKS endpoint: %w", vpnerr.ErrNotConnected)
	}
	c.beginLocked()
	id, port := c.sessionID, c.active.SocksPort
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.endLocked()
		c.mu.Unlock()
	}()
	return c.applyProxyCtx(ctx, id, port)
}

func (c *Controller) applyProxy(id string, port int) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ProxyTimeout)
	defer cancel()
	_, _ = c.applyProxyCtx(ctx, id, port)
}

func (c *Controller) applyProxyCtx(ctx context.Context, id string, port int) (proxy.Outcome, error) {
	out, err := c.opts.Proxy.Enable(ctx, port)
	if err != nil {
		return out, err
	}
	c.mu.Lock()
	if c.sessionID == id {
		c.proxyState = out
	}
	c.mu.Unlock()
	if out == proxy.OutcomeAdvisory {
		c.log(event.SeverityWarn, id, "proxy.enable", "System proxy not changed; see the instructions above")
	}
	return out, nil
}

// ── Queries ──────────────────────────────────────────────────────────

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Settled returns a channel that is closed once no transition is in
// flight.  Call it again after starting a new transition.
func (c *Controller) Settled() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settled
}

// Alive reports whether a Connected session's client is still running.
// The controller never polls this itself.
func (c *Controller) Alive() bool {
	c.mu.Lock()
	proc, st := c.proc, c.status
	c.mu.Unlock()
	return st == Connected && proc != nil && proc.IsAlive()
}

// Snapshot returns a copy of the current state.  The password is never
// included.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Status:      c.status,
		SessionID:   c.sessionID,
		ConnectedAt: c.connectedAt,
		Proxy:       c.proxyState,
	}
	if c.active != nil {
		s.Profile = c.active.Name
		s.Destination = fmt.Sprintf("%s:%d", c.active.Destination(), c.active.Port)
		s.Mode = c.active.Mode.String()
		if c.active.Mode == profile.ModeTunnelSocks {
			s.Endpoint = proxy.Endpoint(c.active.SocksPort)
		}
	}
	if c.proc != nil {
		s.PID = c.proc.PID()
	}
	if c.status == Failed && c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// ── internals ────────────────────────────────────────────────────────

// beginLocked marks a transition in flight.
func (c *Controller) beginLocked() {
	c.inFlight = true
	c.settled = make(chan struct{})
}

// endLocked clears the in-flight mark and releases Settled waiters.
func (c *Controller) endLocked() {
	if !c.inFlight {
		return
	}
	c.inFlight = false
	close(c.settled)
}

// resetLocked returns the session fields to Idle.
func (c *Controller) resetLocked() {
	c.status = Idle
	c.sessionID = ""
	c.active = nil
	c.proc = nil
	c.lastErr = nil
	c.connectedAt = time.Time{}
	c.proxyState = proxy.OutcomeNone
}

func (c *Controller) reject(op string, st Status) error {
	c.opts.Metrics.ConnectRejected()
	err := fmt.Errorf("%s: session is %s: %w", op, st, vpnerr.ErrBusy)
	c.log(event.SeverityWarn, "", op, err.Error())
	return err
}

// rejectIdle reports a synchronous failure that left the state Idle.
func (c *Controller) rejectIdle(op string, err error) {
	c.opts.Metrics.RecordError(err.Error())
	c.log(event.SeverityError, "", op, err.Error())
	c.emit(event.SeverityError, "", Idle, "Connection not started", err)
}

func (c *Controller) emit(sev event.Severity, id string, st Status, msg string, err error) {
	c.sink.OnStatus(event.Status(sev, id, st.String(), msg, err))
}

func (c *Controller) log(sev event.Severity, id, op, msg string) {
	c.sink.OnLog(event.Log(sev, id, op, msg))
}
