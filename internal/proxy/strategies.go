package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strconv"
	"strings"

	"sshvpn/util"
)

// Strategy names.
const (
	NameGnome    = "gnome"
	NameNMCli    = "nmcli"
	NameWindows  = "windows"
	NameAdvisory = "advisory"
	NameAuto     = "auto"
)

// Runner executes a settings utility and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs real binaries.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return string(out), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return string(out), fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return string(out), nil
}

// ── GNOME (gsettings) ────────────────────────────────────────────────

const (
	gnomeSchema      = "org.gnome.system.proxy"
	gnomeSocksSchema = "org.gnome.system.proxy.socks"
)

// gnomeKeys are captured and restored in this order.
var gnomeKeys = [][2]string{
	{gnomeSchema, "mode"},
	{gnomeSocksSchema, "host"},
	{gnomeSocksSchema, "port"},
}

// Gnome drives org.gnome.system.proxy through gsettings.
type Gnome struct {
	Binary string
	Runner Runner
}

func (g *Gnome) Name() string { return NameGnome }

// Capture reads the current values in GVariant text form ("'none'",
// "''", "0"), which gsettings set accepts back unchanged.
func (g *Gnome) Capture(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	for _, k := range gnomeKeys {
		out, err := g.Runner.Run(ctx, g.Binary, "get", k[0], k[1])
		if err != nil {
			return Snapshot{}, err
		}
		snap.Settings = append(snap.Settings, Setting{Key: k[0] + " " + k[1], Value: strings.TrimSpace(out)})
	}
	return snap, nil
}

func (g *Gnome) Apply(ctx context.Context, port int) error {
	for _, args := range [][]string{
		{"set", gnomeSchema, "mode", "manual"},
		{"set", gnomeSocksSchema, "host", util.LoopbackHost},
		{"set", gnomeSocksSchema, "port", portString(port)},
	} {
		if _, err := g.Runner.Run(ctx, g.Binary, args...); err != nil {
			return err
		}
	}
	return nil
}

// Restore writes back every captured key, continuing past failures.
func (g *Gnome) Restore(ctx context.Context, snap Snapshot) error {
	var errs []error
	for _, kv := range snap.Settings {
		schema, key, ok := strings.Cut(kv.Key, " ")
		if !ok {
			errs = append(errs, fmt.Errorf("malformed key %q", kv.Key))
			continue
		}
		if _, err := g.Runner.Run(ctx, g.Binary, "set", schema, key, kv.Value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ── NetworkManager (nmcli) ───────────────────────────────────────────

// NMConnectionPrefix names the proxy connections this tool creates.
const NMConnectionPrefix = "ssh-vpn-proxy-"

// NMConnectionName is the connection created for port.
func NMConnectionName(port int) string { return NMConnectionPrefix + portString(port) }

// NMCli adds a dedicated NetworkManager proxy connection.  The snapshot
// lists the tool's connections that already existed, and Restore
// deletes any that were added since.
type NMCli struct {
	Binary string
	Runner Runner
}

func (n *NMCli) Name() string { return NameNMCli }

func (n *NMCli) Capture(ctx context.Context) (Snapshot, error) {
	names, err := n.ours(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	for _, name := range names {
		snap.Settings = append(snap.Settings, Setting{Key: "connection", Value: name})
	}
	return snap, nil
}

func (n *NMCli) Apply(ctx context.Context, port int) error {
	name := NMConnectionName(port)
	if _, err := n.Runner.Run(ctx, n.Binary,
		"connection", "add", "type", "proxy",
		"con-name", name,
		"proxy.method", "socks5",
		"proxy.host", util.LoopbackHost,
		"proxy.port", portString(port),
		"ipv4.method", "auto",
	); err != nil {
		return err
	}
	_, err := n.Runner.Run(ctx, n.Binary, "connection", "up", name)
	return err
}

func (n *NMCli) Restore(ctx context.Context, snap Snapshot) error {
	keep := make(map[string]bool)
	for _, kv := range snap.Settings {
		keep[kv.Value] = true
	}
	names, err := n.ours(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range names {
		if keep[name] {
			continue
		}
		if _, err := n.Runner.Run(ctx, n.Binary, "connection", "delete", name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ours lists existing connections carrying NMConnectionPrefix.
func (n *NMCli) ours(ctx context.Context) ([]string, error) {
	out, err := n.Runner.Run(ctx, n.Binary, "-t", "-f", "NAME", "connection", "show")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if name := strings.TrimSpace(line); strings.HasPrefix(name, NMConnectionPrefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

// ── Windows (registry) ───────────────────────────────────────────────

// Registry value names under HKCU Internet Settings.
const (
	RegProxyEnable = "ProxyEnable"
	RegProxyServer = "ProxyServer"
)

// Settings is the subset of a registry key the Windows strategy uses.
// golang.org/x/sys/windows/registry.Key satisfies it.
type Settings interface {
	GetIntegerValue(name string) (uint64, uint32, error)
	GetStringValue(name string) (string, uint32, error)
	SetDWordValue(name string, value uint32) error
	SetStringValue(name, value string) error
	DeleteValue(name string) error
	Close() error
}

// Windows edits the per-user Internet Settings key.
type Windows struct {
	Open func() (Settings, error)
}

func (w *Windows) Name() string { return NameWindows }

func (w *Windows) Capture(context.Context) (Snapshot, error) {
	k, err := w.Open()
	if err != nil {
		return Snapshot{}, err
	}
	defer k.Close()

	var snap Snapshot
	enable, _, err := k.GetIntegerValue(RegProxyEnable)
	switch {
	case isNotExist(err):
		snap.Settings = append(snap.Settings, Setting{Key: RegProxyEnable, Absent: true})
	case err != nil:
		return Snapshot{}, fmt.Errorf("read %s: %w", RegProxyEnable, err)
	default:
		snap.Settings = append(snap.Settings, Setting{Key: RegProxyEnable, Value: fmt.Sprint(enable)})
	}

	server, _, err := k.GetStringValue(RegProxyServer)
	switch {
	case isNotExist(err):
		snap.Settings = append(snap.Settings, Setting{Key: RegProxyServer, Absent: true})
	case err != nil:
		return Snapshot{}, fmt.Errorf("read %s: %w", RegProxyServer, err)
	default:
		snap.Settings = append(snap.Settings, Setting{Key: RegProxyServer, Value: server})
	}
	return snap, nil
}

func (w *Windows) Apply(_ context.Context, port int) error {
	k, err := w.Open()
	if err != nil {
		return err
	}
	defer k.Close()
	if err := k.SetDWordValue(RegProxyEnable, 1); err != nil {
		return fmt.Errorf("write %s: %w", RegProxyEnable, err)
	}
	if err := k.SetStringValue(RegProxyServer, "socks="+Endpoint(port)); err != nil {
		return fmt.Errorf("write %s: %w", RegProxyServer, err)
	}
	return nil
}

// Restore writes back the captured values.  A ProxyEnable that did not
// exist before is written as 0 rather than deleted, so the proxy flag
// always ends up cleared.
func (w *Windows) Restore(_ context.Context, snap Snapshot) error {
	k, err := w.Open()
	if err != nil {
		return err
	}
	defer k.Close()

	var errs []error
	if kv, ok := snap.Get(RegProxyServer); ok {
		if kv.Absent {
			if err := k.DeleteValue(RegProxyServer); err != nil && !isNotExist(err) {
				errs = append(errs, fmt.Errorf("delete %s: %w", RegProxyServer, err))
			}
		} else if err := k.SetStringValue(RegProxyServer, kv.Value); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", RegProxyServer, err))
		}
	}

	var enable uint32
	if kv, ok := snap.Get(RegProxyEnable); ok && !kv.Absent {
		n, err := strconv.ParseUint(kv.Value, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("captured %s %q: %w", RegProxyEnable, kv.Value, err))
		}
		enable = uint32(n)
	}
	if err := k.SetDWordValue(RegProxyEnable, enable); err != nil {
		errs = append(errs, fmt.Errorf("write %s: %w", RegProxyEnable, err))
	}
	return errors.Join(errs...)
}

// ERROR_FILE_NOT_FOUND matches fs.ErrNotExist through syscall.Errno.
func isNotExist(err error) bool {
	return err != nil && errors.Is(err, fs.ErrNotExist)
}

// ── Advisory ─────────────────────────────────────────────────────────

// Advisory changes nothing.  Enable reports OutcomeAdvisory and logs
// the shell exports the user can run.
type Advisory struct{}

func (Advisory) Name() string { return NameAdvisory }

func (Advisory) Capture(context.Context) (Snapshot, error) { return Snapshot{}, nil }

func (Advisory) Apply(context.Context, int) error { return nil }

func (Advisory) Restore(context.Context, Snapshot) error { return nil }

func (Advisory) Advice(port int) []string {
	url := "socks5://" + Endpoint(port)
	return []string{
		"No system proxy mechanism available; nothing was changed.",
		"Export these variables in your shell:",
		"export http_proxy=" + url,
		"export https_proxy=" + url,
		"export ALL_PROXY=" + url,
		"Or per command: curl --socks5 " + Endpoint(port) + " http://example.com",
	}
}

// ── Selection ────────────────────────────────────────────────────────

// Binaries names the settings utilities; empty fields use the defaults.
type Binaries struct {
	GSettings string
	NMCli     string
}

func (b Binaries) withDefaults() Binaries {
	if b.GSettings == "" {
		b.GSettings = "gsettings"
	}
	if b.NMCli == "" {
		b.NMCli = "nmcli"
	}
	return b
}

// Select picks the strategy for goos: the registry on Windows, then
// gsettings, then NetworkManager, then advisory output.
func Select(goos string, lookPath func(string) (string, error), bin Binaries, run Runner) Strategy {
	bin = bin.withDefaults()
	if run == nil {
		run = ExecRunner{}
	}
	if goos == "windows" {
		return &Windows{Open: openInternetSettings}
	}
	if _, err := lookPath(bin.GSettings); err == nil {
		return &Gnome{Binary: bin.GSettings, Runner: run}
	}
	if _, err := lookPath(bin.NMCli); err == nil {
		return &NMCli{Binary: bin.NMCli, Runner: run}
	}
	return Advisory{}
}

// ByName returns the named strategy; NameAuto (or "") defers to Select.
func ByName(name, goos string, lookPath func(string) (string, error), bin Binaries, run Runner) (Strategy, error) {
	bin = bin.withDefaults()
	if run == nil {
		run = ExecRunner{}
	}
	switch name {
	case "", NameAuto:
		return Select(goos, lookPath, bin, run), nil
	case NameGnome:
		return &Gnome{Binary: bin.GSettings, Runner: run}, nil
	case NameNMCli:
		return &NMCli{Binary: bin.NMCli, Runner: run}, nil
	case NameWindows:
		return &Windows{Open: openInternetSettings}, nil
	case NameAdvisory:
		return Advisory{}, nil
	}
	return nil, fmt.Errorf("unknown proxy strategy %q (want auto, gnome, nmcli, windows or advisory)", name)
}
