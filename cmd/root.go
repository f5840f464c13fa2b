// Package cmd wires up the CLI subcommands and dispatches to the session
// core, the probes and the profile store.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"sshvpn/config"
	"sshvpn/internal/event"
	"sshvpn/internal/metrics"
	"sshvpn/internal/profile"
	"sshvpn/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X sshvpn/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Output streams; tests replace them.
var (
	stdout io.Writer = os.Stdout //nolint:gochecknoglobals
	stderr io.Writer = os.Stderr //nolint:gochecknoglobals
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string) error
}

func commands() []command {
	return []command{
		{"connect", "Start a tunnel or full VPN session and hold it open", runConnect},
		{"ping", "Ping the server of a profile or a host", runPing},
		{"check", "Handshake with an SSH server and report its host key", runCheck},
		{"profiles", "List, show, save, delete or import saved profiles", runProfiles},
		{"pac", "Write a proxy auto-config file for the SOCKS port", runPAC},
		{"version", "Print version and exit", runVersion},
	}
}

// Execute parses args and runs the selected subcommand.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}
	switch args[0] {
	case "-h", "--help", "help":
		printUsage()
		return nil
	case "--version":
		return runVersion(ctx, nil)
	}
	for _, c := range commands() {
		if c.name == args[0] {
			return c.run(ctx, args[1:])
		}
	}
	return fmt.Errorf("unknown command %q (use --help for usage)", args[0])
}

func runVersion(context.Context, []string) error {
	fmt.Fprintf(stdout, "sshvpn %s\n", version)
	return nil
}

// ── shared flag wiring ───────────────────────────────────────────────

// newFlagSet returns a FlagSet carrying the options every subcommand
// shares.  cfg is pre-loaded with defaults and the environment.
func newFlagSet(name string, cfg *config.Config, help *bool) *flag.FlagSet {
	fs := flag.NewFlagSet("sshvpn "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.StorePath, "store", cfg.StorePath, "Profile store file")
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&cfg.Timestamps, "timestamps", "t", cfg.Timestamps, "Prefix log lines with UTC timestamps")
	fs.BoolVarP(help, "help", "h", false, "Show this help")
	return fs
}

// addProfileFlags registers the connection fields shared by connect,
// check, ping and profiles save.
func addProfileFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVarP(&cfg.ProfileName, "name", "n", cfg.ProfileName, "Saved profile name")
	fs.StringVarP(&cfg.Username, "user", "u", cfg.Username, "SSH username")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "SSH server port (default 22)")
	fs.IntVarP(&cfg.SocksPort, "socks-port", "D", cfg.SocksPort, "Local SOCKS port (default 1080)")
	fs.StringVarP(&cfg.ExtraOptions, "options", "o", cfg.ExtraOptions, "Extra ssh client options")
	fs.StringVarP(&cfg.Mode, "mode", "m", cfg.Mode, "Connection mode: tunnel or vpn")
	fs.BoolVar(&cfg.AskPassword, "ask-password", cfg.AskPassword, "Prompt for the password even if one is saved")
}

func loadConfig() *config.Config {
	cfg := config.Defaults()
	config.LoadFromEnv(cfg)
	return cfg
}

// applyDestination fills user, host and port from a positional
// [user@]host[:port].
func applyDestination(cfg *config.Config, rest []string) error {
	switch len(rest) {
	case 0:
		return nil
	case 1:
	default:
		return fmt.Errorf("too many arguments: %s", strings.Join(rest, " "))
	}
	user, host, port, err := config.ParseDestination(rest[0])
	if err != nil {
		return err
	}
	if user != "" {
		cfg.Username = user
	}
	cfg.Host = host
	if strings.Contains(rest[0], ":") {
		cfg.Port = port
	}
	return nil
}

// resolveProfile builds the profile for a command: the saved one named
// by -n with flags laid over it, or one built from flags alone.  An
// unknown name is an error unless allowNew is set.
func resolveProfile(cfg *config.Config, store profile.Store, allowNew bool) (profile.Profile, error) {
	base := profile.New(cfg.ProfileName)
	if cfg.ProfileName != "" {
		all, err := store.LoadAll()
		if err != nil {
			return profile.Profile{}, err
		}
		saved, ok := profile.Find(all, cfg.ProfileName)
		switch {
		case ok:
			base = saved
		case !allowNew:
			return profile.Profile{}, fmt.Errorf("no saved profile named %q", cfg.ProfileName)
		}
	}
	return cfg.Overlay(base)
}

// checkDestination reports a missing user or host before any prompt.
func checkDestination(p profile.Profile) error {
	if strings.TrimSpace(p.Username) == "" || strings.TrimSpace(p.Host) == "" {
		return p.Validate()
	}
	return nil
}

func newLogger(cfg *config.Config) *util.Logger {
	logger := util.NewLogger(cfg.Verbose)
	logger.SetOutput(stderr)
	if cfg.Timestamps {
		logger.SetTimestamps(true)
	}
	return logger
}

// newEvents returns a bus printing through logger.  Call the returned
// function to flush and close it.
func newEvents(logger *util.Logger, m *metrics.Collector) (*event.Bus, func()) {
	bus := event.NewBus(0)
	bus.OnDrop = m.EventDropped
	bus.Subscribe(event.NewLoggerSink(logger))
	return bus, bus.Close
}

func printUsage() {
	fmt.Fprintf(stderr, `sshvpn - SSH tunnel and VPN session manager v%s

Runs an SSH dynamic-forward tunnel (SOCKS) or an sshuttle full VPN,
optionally points the system proxy at it, and restores everything on exit.

Usage:
  sshvpn <command> [options]

Commands:
`, version)
	for _, c := range commands() {
		fmt.Fprintf(stderr, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(stderr, `
Run "sshvpn <command> --help" for the options of a command.

Examples:
  sshvpn connect alice@vpn.example.com                 SOCKS tunnel on 127.0.0.1:1080
  sshvpn connect -n office --auto-proxy --watch        Saved profile, system proxy, reconnect
  sshvpn connect -m vpn alice@vpn.example.com:2222     Route all traffic with sshuttle
  sshvpn profiles save -n office alice@vpn.example.com Save a profile (prompts for password)
  sshvpn check -n office                               Verify the server and credentials
`)
}

func printCommandUsage(fs *flag.FlagSet, synopsis string) {
	fmt.Fprintf(stderr, "Usage:\n  %s\n\nOptions:\n", synopsis)
	fs.PrintDefaults()
}
