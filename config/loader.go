package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the SSHVPN_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// syntax ("1500ms") or a bare number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("SSHVPN_STORE"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("SSHVPN_PROFILE"); v != "" {
		cfg.ProfileName = v
	}
	if v := os.Getenv("SSHVPN_USER"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("SSHVPN_HOST"); v != "" {
		cfg.Host = v
	}
	if v := envInt("SSHVPN_PORT"); v > 0 {
		cfg.Port = v
	}
	if v := envInt("SSHVPN_SOCKS_PORT"); v > 0 {
		cfg.SocksPort = v
	}
	if v := os.Getenv("SSHVPN_OPTIONS"); v != "" {
		cfg.ExtraOptions = v
	}
	if v := os.Getenv("SSHVPN_MODE"); v != "" {
		cfg.Mode = strings.ToLower(v)
	}

	// Session
	if v := envDuration("SSHVPN_GRACE"); v > 0 {
		cfg.GraceInterval = v
	}
	if v := envDuration("SSHVPN_TERMINATE_GRACE"); v > 0 {
		cfg.TerminateGrace = v
	}
	if envBool("SSHVPN_AUTO_PROXY") {
		cfg.AutoProxy = true
	}
	if v := os.Getenv("SSHVPN_PROXY_STRATEGY"); v != "" {
		cfg.ProxyStrategy = strings.ToLower(v)
	}

	// Supervision
	if envBool("SSHVPN_WATCH") {
		cfg.Watch = true
	}
	if v := envDuration("SSHVPN_WATCH_INTERVAL"); v > 0 {
		cfg.WatchInterval = v
	}
	if envBool("SSHVPN_WATCH_SOCKS") {
		cfg.WatchSOCKS = true
	}
	if v := envInt("SSHVPN_MAX_RECONNECTS"); v > 0 {
		cfg.MaxReconnectAttempts = v
	}

	// Probes
	if v := os.Getenv("SSHVPN_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}
	if envBool("SSHVPN_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}

	// External programs
	if v := os.Getenv("SSHVPN_SSHPASS"); v != "" {
		cfg.SSHPassBinary = v
	}
	if v := os.Getenv("SSHVPN_SSH"); v != "" {
		cfg.SSHBinary = v
	}
	if v := os.Getenv("SSHVPN_SSHUTTLE"); v != "" {
		cfg.SSHuttleBinary = v
	}
	if v := os.Getenv("SSHVPN_PING"); v != "" {
		cfg.PingBinary = v
	}

	// Status API and output
	if v := os.Getenv("SSHVPN_STATUS_ADDR"); v != "" {
		cfg.StatusAddr = v
	}
	if v := envInt("SSHVPN_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	if envBool("SSHVPN_TIMESTAMPS") {
		cfg.Timestamps = true
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return secondsDuration(n)
	}
	return 0
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
