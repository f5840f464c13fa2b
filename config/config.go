// Package config defines the runtime configuration for sshvpn and the
// helpers that turn command-line text into profile fields.
package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	vpnerr "sshvpn/internal/errors"
	"sshvpn/internal/profile"
	"sshvpn/util"
)

// Config holds every tuneable for one sshvpn invocation.
type Config struct {
	// ── Profile ──────────────────────────────────────────────────────
	ProfileName  string // saved profile to load (-n)
	StorePath    string
	Username     string
	Host         string
	Port         int
	SocksPort    int
	ExtraOptions string // raw client options, split on whitespace
	Mode         string // "tunnel" or "vpn"
	AskPassword  bool   // prompt even when a saved password exists

	// ── Session ──────────────────────────────────────────────────────
	GraceInterval  time.Duration
	TerminateGrace time.Duration
	ProxyTimeout   time.Duration
	AutoProxy      bool
	ProxyStrategy  string

	// ── Supervision ──────────────────────────────────────────────────
	Watch                bool
	WatchInterval        time.Duration
	WatchSOCKS           bool
	SOCKSTarget          string
	MaxReconnectAttempts int
	MaxReconnectBackoff  time.Duration

	// ── Probes ───────────────────────────────────────────────────────
	PingCount      int
	PingTimeout    time.Duration
	SSHTimeout     time.Duration
	KnownHostsPath string
	UseSSHAgent    bool

	// ── External programs ────────────────────────────────────────────
	SSHPassBinary   string
	SSHBinary       string
	SSHuttleBinary  string
	PingBinary      string
	GSettingsBinary string
	NMCliBinary     string

	// ── Status API ───────────────────────────────────────────────────
	StatusAddr string

	// ── Output ───────────────────────────────────────────────────────
	Verbose    int
	Timestamps bool
}

// Defaults returns a Config populated from defaults.go.  Connection
// fields stay zero so that a saved profile is not overridden; Overlay
// fills whatever is still missing.
func Defaults() *Config {
	return &Config{
		StorePath:            DefaultStorePath(),
		GraceInterval:        DefaultGraceInterval,
		TerminateGrace:       DefaultTerminateGrace,
		ProxyTimeout:         DefaultProxyTimeout,
		ProxyStrategy:        DefaultProxyStrategy,
		WatchInterval:        DefaultWatchInterval,
		SOCKSTarget:          DefaultSOCKSTarget,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		MaxReconnectBackoff:  DefaultMaxReconnectBackoff,
		PingCount:            DefaultPingCount,
		PingTimeout:          DefaultPingTimeout,
		SSHTimeout:           DefaultSSHTimeout,
		SSHPassBinary:        DefaultSSHPassBinary,
		SSHBinary:            DefaultSSHBinary,
		SSHuttleBinary:       DefaultSSHuttleBinary,
		PingBinary:           DefaultPingBinary,
		GSettingsBinary:      DefaultGSettingsBinary,
		NMCliBinary:          DefaultNMCliBinary,
		Verbose:              1,
	}
}

// ── Destination parser ───────────────────────────────────────────────

// destRe matches [user@]host[:port].
var destRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseDestination extracts user, host and port from a string such as
// "alice@vpn.example.com:2222".  Port defaults to 22.
func ParseDestination(spec string) (user, host string, port int, err error) {
	m := destRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid destination %q: expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid destination port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ── Profile assembly ─────────────────────────────────────────────────

// Overlay copies every non-zero connection field of c onto base.  Flags
// given on the command line therefore win over a saved profile.  Pass
// profile.New for a profile built from flags alone.
func (c *Config) Overlay(base profile.Profile) (profile.Profile, error) {
	p := base.Clone()
	if c.Username != "" {
		p.Username = c.Username
	}
	if c.Host != "" {
		p.Host = c.Host
	}
	if c.Port != 0 {
		p.Port = c.Port
	}
	if c.SocksPort != 0 {
		p.SocksPort = c.SocksPort
	}
	if c.ExtraOptions != "" {
		p.ExtraOptions = profile.ParseOptions(c.ExtraOptions)
	}
	if c.Mode != "" {
		m, err := profile.ParseMode(c.Mode)
		if err != nil {
			return p, &vpnerr.ConfigError{Field: "mode", Value: c.Mode, Message: err.Error(), Hint: "use tunnel or vpn"}
		}
		p.Mode = m
	}
	return p.WithDefaults(), nil
}

// SOCKSTargetAddr returns SOCKSTarget as host:port; a bare host gets
// port 80.
func (c *Config) SOCKSTargetAddr() string {
	host, port, err := util.SplitHostPort(c.SOCKSTarget, 80)
	if err != nil {
		return c.SOCKSTarget
	}
	return util.FormatAddr(host, port)
}

// ── Validation ───────────────────────────────────────────────────────

var proxyStrategies = []string{"auto", "gnome", "nmcli", "windows", "advisory"}

// Validate checks that the configuration is internally consistent.  It
// does not check profile fields; profile.Validate does that at connect.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return &vpnerr.ConfigError{Field: "port", Value: c.Port, Message: "out of range 1-65535"}
	}
	if c.SocksPort < 0 || c.SocksPort > 65535 {
		return &vpnerr.ConfigError{Field: "socks-port", Value: c.SocksPort, Message: "out of range 1-65535"}
	}
	if c.Mode != "" {
		if _, err := profile.ParseMode(c.Mode); err != nil {
			return &vpnerr.ConfigError{Field: "mode", Value: c.Mode, Message: "unknown mode", Hint: "use tunnel or vpn"}
		}
	}
	if !contains(proxyStrategies, c.ProxyStrategy) {
		return &vpnerr.ConfigError{
			Field:   "proxy-strategy",
			Value:   c.ProxyStrategy,
			Message: "unknown strategy",
			Hint:    "use " + strings.Join(proxyStrategies, ", "),
		}
	}
	if c.GraceInterval <= 0 {
		return &vpnerr.ConfigError{Field: "grace", Value: c.GraceInterval, Message: "must be positive",
			Hint: "the client needs a moment to authenticate before it is judged alive"}
	}
	if c.TerminateGrace <= 0 {
		return &vpnerr.ConfigError{Field: "terminate-grace", Value: c.TerminateGrace, Message: "must be positive"}
	}
	if m, _ := profile.ParseMode(c.Mode); c.AutoProxy && c.Mode != "" && m == profile.ModeFullVPN {
		return &vpnerr.ConfigError{Field: "auto-proxy", Message: "has no effect in vpn mode",
			Hint: "full VPN mode routes all traffic already; drop --auto-proxy"}
	}
	if c.Watch && c.WatchInterval <= 0 {
		return &vpnerr.ConfigError{Field: "watch-interval", Value: c.WatchInterval, Message: "must be positive"}
	}
	if c.WatchSOCKS && !c.Watch {
		return &vpnerr.ConfigError{Field: "watch-socks", Message: "requires --watch",
			Hint: "add --watch to enable supervision"}
	}
	if c.SOCKSTarget != "" {
		if _, _, err := util.SplitHostPort(c.SOCKSTarget, 80); err != nil {
			return &vpnerr.ConfigError{Field: "socks-target", Value: c.SOCKSTarget, Message: err.Error(),
				Hint: "use host or host:port"}
		}
	}
	if c.StatusAddr != "" {
		host, _, err := net.SplitHostPort(c.StatusAddr)
		if err != nil {
			return &vpnerr.ConfigError{Field: "status-addr", Value: c.StatusAddr, Message: "expected host:port"}
		}
		if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			return &vpnerr.ConfigError{Field: "status-addr", Value: c.StatusAddr, Message: "must be a loopback address",
				Hint: "the status API can disconnect the session; bind it to 127.0.0.1"}
		}
	}
	if c.PingCount < 1 {
		return &vpnerr.ConfigError{Field: "count", Value: c.PingCount, Message: "must be at least 1"}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
