package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"sshvpn/config"
	"sshvpn/internal/api"
	vpnerr "sshvpn/internal/errors"
	"sshvpn/internal/event"
	"sshvpn/internal/launcher"
	"sshvpn/internal/metrics"
	"sshvpn/internal/monitor"
	"sshvpn/internal/profile"
	"sshvpn/internal/proxy"
	"sshvpn/internal/retry"
	"sshvpn/internal/session"
	"sshvpn/util"
)

// shutdownTimeout bounds the teardown after ctx is cancelled: client
// termination plus the proxy restore.
const shutdownTimeout = 45 * time.Second

func runConnect(ctx context.Context, args []string) error {
	cfg := loadConfig()
	var help, save bool
	fs := newFlagSet("connect", cfg, &help)
	addProfileFlags(fs, cfg)
	fs.BoolVar(&save, "save", false, "Save the resulting profile under --name before connecting")

	fs.BoolVar(&cfg.AutoProxy, "auto-proxy", cfg.AutoProxy, "Point the system proxy at the tunnel once connected")
	fs.StringVar(&cfg.ProxyStrategy, "proxy-strategy", cfg.ProxyStrategy, "System proxy mechanism: auto, gnome, nmcli, windows, advisory")
	fs.DurationVar(&cfg.GraceInterval, "grace", cfg.GraceInterval, "How long the client must survive before the session is up")
	fs.DurationVar(&cfg.TerminateGrace, "terminate-grace", cfg.TerminateGrace, "Wait between SIGTERM and SIGKILL on disconnect")
	fs.DurationVar(&cfg.ProxyTimeout, "proxy-timeout", cfg.ProxyTimeout, "Bound on each system proxy change")

	fs.BoolVar(&cfg.Watch, "watch", cfg.Watch, "Reconnect automatically when the client dies")
	fs.DurationVar(&cfg.WatchInterval, "watch-interval", cfg.WatchInterval, "Liveness poll period under --watch")
	fs.BoolVar(&cfg.WatchSOCKS, "watch-socks", cfg.WatchSOCKS, "Also check that requests pass through the SOCKS endpoint")
	fs.StringVar(&cfg.SOCKSTarget, "socks-target", cfg.SOCKSTarget, "host:port dialled through the tunnel by --watch-socks")
	fs.IntVar(&cfg.MaxReconnectAttempts, "max-reconnects", cfg.MaxReconnectAttempts, "Reconnect attempts before giving up (0 = unlimited)")
	fs.DurationVar(&cfg.MaxReconnectBackoff, "max-backoff", cfg.MaxReconnectBackoff, "Cap on the wait between reconnect attempts")

	fs.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "Serve the status API on this loopback host:port")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if help {
		printCommandUsage(fs, "sshvpn connect [options] [user@]host[:port]")
		return nil
	}
	if err := applyDestination(cfg, fs.Args()); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store := profile.NewYAMLStore(cfg.StorePath)
	p, err := resolveProfile(cfg, store, save)
	if err != nil {
		return err
	}
	if err := checkDestination(p); err != nil {
		return err
	}
	if err := fillPassword(&p, cfg.AskPassword); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if save {
		if err := saveProfile(store, p); err != nil {
			return err
		}
	}

	logger := newLogger(cfg)
	m := metrics.New()
	bus, closeBus := newEvents(logger, m)
	defer closeBus()

	l := launcher.New()
	l.SSHPass, l.SSH, l.SSHuttle = cfg.SSHPassBinary, cfg.SSHBinary, cfg.SSHuttleBinary
	for _, err := range l.Preflight() {
		logger.Warn("%v", err)
	}

	strategy, err := proxy.ByName(cfg.ProxyStrategy, runtime.GOOS, exec.LookPath,
		proxy.Binaries{GSettings: cfg.GSettingsBinary, NMCli: cfg.NMCliBinary}, nil)
	if err != nil {
		return err
	}
	logger.Verbose("System proxy strategy: %s", strategy.Name())

	tap := newSessionTap(bus)
	ctrl := session.New(session.Options{
		Launcher:       l,
		Proxy:          proxy.New(strategy, bus, m),
		Sink:           tap,
		Metrics:        m,
		GraceInterval:  cfg.GraceInterval,
		TerminateGrace: cfg.TerminateGrace,
		ProxyTimeout:   cfg.ProxyTimeout,
		AutoProxy:      cfg.AutoProxy,
	})

	if err := ctrl.Connect(ctx, p); err != nil {
		return err
	}
	select {
	case <-ctrl.Settled():
	case <-ctx.Done():
		// The grace wait cannot be cut short; let it finish, then tear down.
		return shutdown(ctrl, logger)
	}
	if ctrl.Status() != session.Connected {
		if err := tap.failure(); err != nil {
			return err
		}
		return fmt.Errorf("connect: %w", vpnerr.ErrLaunchFailed)
	}

	if cfg.StatusAddr != "" {
		srv := api.New(ctrl, api.Options{Addr: cfg.StatusAddr, Logger: logger, Metrics: m})
		addr, err := srv.Start()
		if err != nil {
			_ = shutdown(ctrl, logger)
			return fmt.Errorf("status API: %w", err)
		}
		logger.Info("Status API on http://%s/%s/status", addr, api.APIVersion)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Stop(sctx); err != nil {
				logger.Warn("status API: %v", err)
			}
		}()
	}

	runErr := wait(ctx, cfg, ctrl, p, tap, bus, m, logger)
	if err := shutdown(ctrl, logger); err != nil && runErr == nil {
		runErr = err
	}
	if cfg.Verbose >= int(util.LogVerbose) {
		fmt.Fprintln(stderr, m.JSON())
	}
	return runErr
}

// wait blocks until the user interrupts, the session is ended through
// the status API, or the watcher gives up.
func wait(ctx context.Context, cfg *config.Config, ctrl *session.Controller, p profile.Profile,
	tap *sessionTap, bus *event.Bus, m *metrics.Collector, logger *util.Logger) error {
	if !cfg.Watch {
		logger.Info("Press Ctrl+C to disconnect")
		select {
		case <-ctx.Done():
		case <-tap.idle:
		}
		return nil
	}

	w := monitor.New(ctrl, p, monitor.Options{
		Interval:    cfg.WatchInterval,
		CheckSOCKS:  cfg.WatchSOCKS,
		SOCKSTarget: cfg.SOCKSTargetAddr(),
		Backoff: &retry.Backoff{
			InitialDelay: time.Second,
			MaxDelay:     cfg.MaxReconnectBackoff,
			Multiplier:   2,
			MaxAttempts:  cfg.MaxReconnectAttempts,
			Jitter:       true,
			OnRetry: func(attempt int, delay time.Duration, _ error) {
				logger.Verbose("reconnect attempt %d failed, next in %s", attempt, delay.Truncate(time.Millisecond))
			},
		},
		Breaker: retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
			MaxFailures:  5,
			ResetTimeout: cfg.MaxReconnectBackoff,
			HalfOpenMax:  1,
			OnStateChange: func(from, to retry.State) {
				logger.Debug("reconnect circuit %s -> %s", from, to)
			},
		}),
		Sink:    bus,
		Metrics: m,
	})
	logger.Info("Watching session every %s; press Ctrl+C to disconnect", cfg.WatchInterval)
	return w.Run(ctx)
}

func shutdown(ctrl *session.Controller, logger *util.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ctrl.Shutdown(ctx); err != nil {
		logger.Error("shutdown: %v", err)
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// ── Session tap ──────────────────────────────────────────────────────

// sessionTap forwards controller events to the bus and remembers what
// the CLI needs to report: the launch error of a Failed session and
// the moment a Connected session goes back to Idle.
type sessionTap struct {
	next event.Sink

	mu        sync.Mutex
	failErr   error
	connected bool

	idle chan struct{} // receives once per Connected → Idle
}

func newSessionTap(next event.Sink) *sessionTap {
	return &sessionTap{next: next, idle: make(chan struct{}, 1)}
}

func (t *sessionTap) OnStatus(e event.StatusEvent) {
	t.mu.Lock()
	switch e.Status {
	case session.Failed.String():
		t.failErr = e.Err
	case session.Connected.String():
		t.connected = true
	case session.Idle.String():
		if t.connected {
			t.connected = false
			select {
			case t.idle <- struct{}{}:
			default:
			}
		}
	}
	t.mu.Unlock()
	t.next.OnStatus(e)
}

func (t *sessionTap) OnLog(e event.LogEvent) { t.next.OnLog(e) }

func (t *sessionTap) failure() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failErr
}

// ── Saving ───────────────────────────────────────────────────────────

func saveProfile(store profile.Store, p profile.Profile) error {
	if p.Name == "" {
		return errors.New("--save needs a profile name (-n)")
	}
	all, err := store.LoadAll()
	if err != nil {
		return err
	}
	if err := store.SaveAll(profile.Upsert(all, p)); err != nil {
		return err
	}
	fmt.Fprintf(stderr, "Saved profile %q\n", p.Name)
	return nil
}
