package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"sshvpn/internal/metrics"
	"sshvpn/internal/probe"
	"sshvpn/internal/profile"
	"sshvpn/util"
)

// ── ping ─────────────────────────────────────────────────────────────

func runPing(ctx context.Context, args []string) error {
	cfg := loadConfig()
	var help bool
	fs := newFlagSet("ping", cfg, &help)
	fs.StringVarP(&cfg.ProfileName, "name", "n", cfg.ProfileName, "Ping the server of this saved profile")
	fs.IntVarP(&cfg.PingCount, "count", "c", cfg.PingCount, "Echo requests to send")
	fs.DurationVar(&cfg.PingTimeout, "timeout", cfg.PingTimeout, "Give up after this long")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if help {
		printCommandUsage(fs, "sshvpn ping [options] [user@]host[:port]")
		return nil
	}
	if err := applyDestination(cfg, fs.Args()); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	p, err := resolveProfile(cfg, profile.NewYAMLStore(cfg.StorePath), false)
	if err != nil {
		return err
	}
	if p.Host == "" {
		return errors.New("nothing to ping: give a host or a saved profile (-n)")
	}

	logger := newLogger(cfg)
	m := metrics.New()
	bus, closeBus := newEvents(logger, m)
	defer closeBus()

	pinger := probe.NewPinger(bus, m)
	pinger.Binary = cfg.PingBinary
	pinger.Count = cfg.PingCount
	pinger.Timeout = cfg.PingTimeout

	select {
	case res := <-pinger.Start(p.Host):
		if res.Outcome != probe.Reachable {
			return fmt.Errorf("%s is %s", res.Host, res.Outcome)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── check ────────────────────────────────────────────────────────────

func runCheck(ctx context.Context, args []string) error {
	cfg := loadConfig()
	var help, socks bool
	fs := newFlagSet("check", cfg, &help)
	addProfileFlags(fs, cfg)
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "known_hosts file (default ~/.ssh/known_hosts)")
	fs.BoolVar(&cfg.UseSSHAgent, "agent", cfg.UseSSHAgent, "Offer keys from ssh-agent")
	fs.DurationVar(&cfg.SSHTimeout, "timeout", cfg.SSHTimeout, "Bound on dial plus handshake")
	fs.BoolVar(&socks, "socks", false, "Also dial through the local SOCKS endpoint of the profile")
	fs.StringVar(&cfg.SOCKSTarget, "socks-target", cfg.SOCKSTarget, "host:port dialled through the SOCKS endpoint")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if help {
		printCommandUsage(fs, "sshvpn check [options] [user@]host[:port]")
		return nil
	}
	if err := applyDestination(cfg, fs.Args()); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	p, err := resolveProfile(cfg, profile.NewYAMLStore(cfg.StorePath), false)
	if err != nil {
		return err
	}
	if err := checkDestination(p); err != nil {
		return err
	}
	// A password is optional here: without one the check only covers
	// reachability and the host key.
	if !cfg.UseSSHAgent {
		if err := fillPassword(&p, cfg.AskPassword); err != nil && !errors.Is(err, errNoPassword) {
			return err
		}
	}

	res, err := probe.ProbeSSH(ctx, probe.SSHTarget{
		User:       p.Username,
		Host:       p.Host,
		Port:       p.Port,
		Password:   p.Password,
		UseAgent:   cfg.UseSSHAgent,
		KnownHosts: cfg.KnownHostsPath,
		Timeout:    cfg.SSHTimeout,
	})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Server:\t%s\n", res.Address)
	fmt.Fprintf(tw, "Version:\t%s\n", res.ServerVersion)
	fmt.Fprintf(tw, "Host key:\t%s %s (%s)\n", res.KeyType, res.Fingerprint, res.HostKey)
	switch {
	case res.Authenticated:
		fmt.Fprintf(tw, "Login:\tok\n")
	case res.AuthErr != nil:
		fmt.Fprintf(tw, "Login:\tfailed: %v\n", res.AuthErr)
	}
	fmt.Fprintf(tw, "Handshake:\t%s\n", res.Elapsed.Round(time.Millisecond))

	var socksErr error
	if socks {
		endpoint := util.LoopbackEndpoint(p.SocksPort)
		rtt, err := probe.CheckSOCKS(ctx, endpoint, cfg.SOCKSTargetAddr())
		if err != nil {
			fmt.Fprintf(tw, "SOCKS:\t%s failed: %v\n", endpoint, err)
			socksErr = err
		} else {
			fmt.Fprintf(tw, "SOCKS:\t%s -> %s in %s\n", endpoint, cfg.SOCKSTargetAddr(), rtt.Round(time.Millisecond))
		}
	}
	tw.Flush()

	switch {
	case res.HostKey == probe.HostKeyMismatch:
		return fmt.Errorf("host key for %s does not match known_hosts", res.Address)
	case res.AuthErr != nil:
		return fmt.Errorf("login as %s: %w", p.Username, res.AuthErr)
	}
	return socksErr
}
