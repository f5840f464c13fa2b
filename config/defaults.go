package config

import (
	"time"

	"sshvpn/internal/launcher"
	"sshvpn/internal/monitor"
	"sshvpn/internal/probe"
	"sshvpn/internal/profile"
	"sshvpn/internal/session"
)

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags and environment variable loading.  Most of them are
// owned by the package that uses them and only re-exported here.

const (
	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = profile.DefaultPort

	// DefaultSocksPort is the local dynamic-forward port.
	DefaultSocksPort = profile.DefaultSocksPort

	// DefaultGraceInterval is how long a new client must stay alive
	// before the session counts as Connected.
	DefaultGraceInterval = session.DefaultGraceInterval

	// DefaultTerminateGrace is the wait between SIGTERM and SIGKILL.
	DefaultTerminateGrace = session.DefaultTerminateGrace

	// DefaultProxyTimeout bounds each system proxy change.
	DefaultProxyTimeout = session.DefaultProxyTimeout

	// DefaultProxyStrategy picks the platform mechanism at runtime.
	DefaultProxyStrategy = "auto"

	// DefaultWatchInterval is the liveness poll period under --watch.
	DefaultWatchInterval = monitor.DefaultInterval

	// DefaultSOCKSTarget is dialled through the tunnel by --watch-socks.
	DefaultSOCKSTarget = probe.DefaultSOCKSTarget

	// DefaultMaxReconnectAttempts is how many times to retry after the
	// client dies.
	DefaultMaxReconnectAttempts = 10

	// DefaultMaxReconnectBackoff caps the exponential backoff between
	// reconnection attempts.
	DefaultMaxReconnectBackoff = 60 * time.Second

	// DefaultPingCount and DefaultPingTimeout drive "sshvpn ping".
	DefaultPingCount   = probe.DefaultPingCount
	DefaultPingTimeout = probe.DefaultPingTimeout

	// DefaultSSHTimeout bounds the "sshvpn check" handshake.
	DefaultSSHTimeout = probe.DefaultSSHTimeout

	DefaultSSHPassBinary   = launcher.DefaultSSHPass
	DefaultSSHBinary       = launcher.DefaultSSH
	DefaultSSHuttleBinary  = launcher.DefaultSSHuttle
	DefaultPingBinary      = probe.DefaultPingBinary
	DefaultGSettingsBinary = "gsettings"
	DefaultNMCliBinary     = "nmcli"
)

// DefaultStorePath is where saved profiles live unless SSHVPN_STORE or
// --store says otherwise.
func DefaultStorePath() string { return profile.DefaultStorePath() }
