// Package profile defines the connection profile consumed by the session
// controller, its validation rules, and the file store that keeps named
// profiles between runs.
package profile

import (
	"fmt"
	"strconv"
	"strings"

	vpnerr "sshvpn/internal/errors"
)

// ── Defaults ─────────────────────────────────────────────────────────

const (
	// DefaultPort is the standard SSH port.
	DefaultPort = 22
	// DefaultSocksPort is the local dynamic-forward port.
	DefaultSocksPort = 1080
	// DefaultOptions are the client flags a fresh profile starts with.
	DefaultOptions = "-o StrictHostKeyChecking=no -o ServerAliveInterval=60"
)

// ── Mode ─────────────────────────────────────────────────────────────

// Mode selects what the launched process does with the SSH session.
type Mode int

const (
	// ModeTunnelSocks exposes a local SOCKS endpoint (ssh -D).
	ModeTunnelSocks Mode = iota
	// ModeFullVPN routes all traffic through sshuttle.
	ModeFullVPN
)

// Labels written by the desktop app into saved_vpns.json; still accepted on input.
const (
	legacyTunnelLabel = "SSH Tunnel"
	legacyVPNLabel    = "Full VPN (sshuttle)"
)

func (m Mode) String() string {
	switch m {
	case ModeTunnelSocks:
		return "tunnel"
	case ModeFullVPN:
		return "vpn"
	default:
		return "unknown"
	}
}

// ParseMode accepts "tunnel", "vpn" and the legacy form labels.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tunnel", "socks", strings.ToLower(legacyTunnelLabel):
		return ModeTunnelSocks, nil
	case "vpn", "full", "sshuttle", strings.ToLower(legacyVPNLabel):
		return ModeFullVPN, nil
	}
	return 0, &vpnerr.ProfileError{
		Field:   "mode",
		Value:   s,
		Message: "unknown connection mode",
		Hint:    `use "tunnel" or "vpn"`,
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if m != ModeTunnelSocks && m != ModeFullVPN {
		return nil, fmt.Errorf("unknown mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ── Profile ──────────────────────────────────────────────────────────

// Profile is one saved connection.  It is treated as an immutable value:
// the controller copies it on connect and never writes back.
type Profile struct {
	Name         string   `yaml:"name"`
	Username     string   `yaml:"username"`
	Host         string   `yaml:"host"`
	Password     string   `yaml:"password"`
	Port         int      `yaml:"port"`
	ExtraOptions []string `yaml:"extra_options,omitempty"`
	SocksPort    int      `yaml:"socks_port"`
	Mode         Mode     `yaml:"mode"`
}

// New returns a profile with the default ports and client options.
func New(name string) Profile {
	return Profile{
		Name:         name,
		Port:         DefaultPort,
		SocksPort:    DefaultSocksPort,
		ExtraOptions: ParseOptions(DefaultOptions),
	}
}

// Destination returns "user@host" as handed to the SSH client.
func (p Profile) Destination() string {
	return p.Username + "@" + p.Host
}

// WithDefaults fills zero ports with their defaults.
func (p Profile) WithDefaults() Profile {
	if p.Port == 0 {
		p.Port = DefaultPort
	}
	if p.SocksPort == 0 {
		p.SocksPort = DefaultSocksPort
	}
	return p
}

// Clone returns a copy that shares no slices with p.
func (p Profile) Clone() Profile {
	p.ExtraOptions = append([]string(nil), p.ExtraOptions...)
	return p
}

// Validate checks the fields required before a connect attempt.  The
// returned error wraps ErrInvalidProfile.  ExtraOptions are passed to
// the client verbatim and are not inspected.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Username) == "" {
		return requiredField("username")
	}
	if strings.TrimSpace(p.Host) == "" {
		return requiredField("host")
	}
	if p.Password == "" {
		return requiredField("password")
	}
	if err := checkPort("port", p.Port); err != nil {
		return err
	}
	if err := checkPort("socks_port", p.SocksPort); err != nil {
		return err
	}
	if p.Mode != ModeTunnelSocks && p.Mode != ModeFullVPN {
		return vpnerr.InvalidField("mode", int(p.Mode), "unknown connection mode")
	}
	return nil
}

// ── Form helpers ─────────────────────────────────────────────────────

// ParsePort converts a text field into a port.  Empty text yields def.
func ParsePort(field, text string, def int) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return def, nil
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, &vpnerr.ProfileError{
			Field:   field,
			Value:   text,
			Message: "must be a valid number",
		}
	}
	if err := checkPort(field, n); err != nil {
		return 0, err
	}
	return n, nil
}

// ParseOptions splits a client option string on whitespace.
func ParseOptions(text string) []string {
	return strings.Fields(text)
}

// FormatOptions is the inverse of ParseOptions for display.
func FormatOptions(opts []string) string {
	return strings.Join(opts, " ")
}

func requiredField(field string) error {
	return &vpnerr.ProfileError{
		Field:   field,
		Message: "required",
		Hint:    "username, host and password must all be filled in",
	}
}

func checkPort(field string, n int) error {
	if n < 1 || n > 65535 {
		return &vpnerr.ProfileError{
			Field:   field,
			Value:   n,
			Message: "out of range 1-65535",
		}
	}
	return nil
}
