// Package monitor watches a Connected session and brings it back when
// the client process dies.
//
// The session controller never polls its own child.  A Watcher does so
// from the outside: every Interval it asks Alive, and optionally pushes
// a request through the SOCKS endpoint.  When the session is found dead
// it is torn down through Disconnect, so the system proxy is restored,
// and then reconnected with backoff behind a circuit breaker.
package monitor

import (
	"context"
	"fmt"
	"time"

	vpnerr "sshvpn/internal/errors"
	"sshvpn/internal/event"
	"sshvpn/internal/metrics"
	"sshvpn/internal/probe"
	"sshvpn/internal/profile"
	"sshvpn/internal/retry"
	"sshvpn/internal/session"
	"sshvpn/util"
)

// Defaults for Options.
const (
	DefaultInterval      = 10 * time.Second
	DefaultSOCKSFailures = 3
)

// Session is the part of *session.Controller a Watcher drives.
type Session interface {
	Connect(ctx context.Context, p profile.Profile) error
	Disconnect() error
	Status() session.Status
	Alive() bool
	Settled() <-chan struct{}
}

// SOCKSCheck reports whether a request through endpoint reaches target.
type SOCKSCheck func(ctx context.Context, endpoint, target string) (time.Duration, error)

// Options configures a Watcher.
type Options struct {
	Interval time.Duration

	// CheckSOCKS enables the end-to-end check for tunnel sessions.
	// SOCKSFailures consecutive failures count as a dead session.
	CheckSOCKS    bool
	SOCKSTarget   string
	SOCKSFailures int
	SOCKSTimeout  time.Duration
	Check         SOCKSCheck // defaults to probe.CheckSOCKS

	Backoff *retry.Backoff
	Breaker *retry.CircuitBreaker

	Sink    event.Sink
	Metrics *metrics.Collector
}

// Watcher supervises one session.
type Watcher struct {
	s    Session
	p    profile.Profile
	opts Options
	sink event.Sink

	socksFailures int
}

// New returns a Watcher that reconnects s with p.
func New(s Session, p profile.Profile, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.SOCKSFailures <= 0 {
		opts.SOCKSFailures = DefaultSOCKSFailures
	}
	if opts.SOCKSTarget == "" {
		opts.SOCKSTarget = probe.DefaultSOCKSTarget
	}
	if opts.SOCKSTimeout <= 0 {
		opts.SOCKSTimeout = opts.Interval / 2
	}
	if opts.Check == nil {
		opts.Check = probe.CheckSOCKS
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.DefaultBackoff()
	}
	if opts.Breaker == nil {
		opts.Breaker = retry.NewCircuitBreaker(nil)
	}
	sink := opts.Sink
	if sink == nil {
		sink = event.Discard
	}
	return &Watcher{s: s, p: p.Clone(), opts: opts, sink: sink}
}

// Run polls until ctx is done, the session is disconnected by someone
// else, or a reconnect gives up.  It returns nil in the first two cases.
func (w *Watcher) Run(ctx context.Context) error {
	tick := time.NewTicker(w.opts.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}

		switch w.s.Status() {
		case session.Idle:
			w.log(event.SeverityInfo, "Session ended; watcher stopping")
			return nil
		case session.Connected:
		default:
			continue
		}

		if w.healthy(ctx) {
			w.opts.Metrics.RecordHealthCheck()
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := w.recover(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (w *Watcher) healthy(ctx context.Context) bool {
	if !w.s.Alive() {
		w.log(event.SeverityError, "SSH VPN connection lost")
		return false
	}
	if !w.opts.CheckSOCKS || w.p.Mode != profile.ModeTunnelSocks {
		return true
	}

	cctx, cancel := context.WithTimeout(ctx, w.opts.SOCKSTimeout)
	defer cancel()
	_, err := w.opts.Check(cctx, util.LoopbackEndpoint(w.p.SocksPort), w.opts.SOCKSTarget)
	w.opts.Metrics.ProbeCompleted(err == nil)
	if err == nil {
		w.socksFailures = 0
		return true
	}

	w.socksFailures++
	w.log(event.SeverityWarn, fmt.Sprintf("SOCKS check failed (%d/%d): %v",
		w.socksFailures, w.opts.SOCKSFailures, err))
	if w.socksFailures < w.opts.SOCKSFailures {
		return true
	}
	w.log(event.SeverityError, "SOCKS endpoint unresponsive")
	return false
}

// recover tears the dead session down and reconnects it.
func (w *Watcher) recover(ctx context.Context) error {
	w.socksFailures = 0
	w.opts.Metrics.Reconnect()
	w.opts.Metrics.RecordError("session lost")

	if err := w.teardown(ctx); err != nil {
		return err
	}

	w.log(event.SeverityInfo, "Reconnecting...")
	err := w.opts.Backoff.Do(ctx, func(attempt int) error {
		err := w.opts.Breaker.Execute(func() error { return w.reconnect(ctx) })
		switch {
		case err == nil:
			return nil
		case vpnerr.Is(err, retry.ErrOpen),
			vpnerr.Is(err, vpnerr.ErrInvalidProfile),
			vpnerr.Is(err, vpnerr.ErrMissingDependency):
			return retry.Permanent(err)
		}
		w.log(event.SeverityWarn, fmt.Sprintf("reconnect attempt %d: %v", attempt, err))
		return err
	})
	if err != nil {
		w.opts.Metrics.RecordError("reconnect: " + err.Error())
		w.log(event.SeverityError, "Giving up: "+err.Error())
		return fmt.Errorf("reconnect: %w", err)
	}
	w.log(event.SeverityInfo, "Reconnected")
	return nil
}

// teardown disconnects whatever is left of the session and waits for
// the controller to reach Idle.
func (w *Watcher) teardown(ctx context.Context) error {
	for {
		if err := w.settle(ctx); err != nil {
			return err
		}
		err := w.s.Disconnect()
		if vpnerr.Is(err, vpnerr.ErrBusy) {
			continue
		}
		if err != nil {
			return err
		}
		if err := w.settle(ctx); err != nil {
			return err
		}
		if w.s.Status() == session.Idle {
			return nil
		}
	}
}

// reconnect makes one connect attempt and waits for its outcome.
func (w *Watcher) reconnect(ctx context.Context) error {
	if err := w.s.Connect(ctx, w.p); err != nil {
		if vpnerr.Is(err, vpnerr.ErrBusy) {
			_ = w.teardown(ctx)
		}
		return err
	}
	if err := w.settle(ctx); err != nil {
		return retry.Permanent(err)
	}
	if st := w.s.Status(); st != session.Connected {
		return fmt.Errorf("session is %s after connect: %w", st, vpnerr.ErrLaunchFailed)
	}
	return nil
}

func (w *Watcher) settle(ctx context.Context) error {
	select {
	case <-w.s.Settled():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher) log(sev event.Severity, msg string) {
	w.sink.OnLog(event.Log(sev, "", "watch", msg))
}
