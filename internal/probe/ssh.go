package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultSSHTimeout bounds the dial plus handshake.
const DefaultSSHTimeout = 10 * time.Second

// HostKeyStatus is what known_hosts says about the server key.
type HostKeyStatus int

const (
	HostKeyUnchecked HostKeyStatus = iota // no known_hosts file
	HostKeyKnown
	HostKeyUnknown
	HostKeyMismatch
)

func (s HostKeyStatus) String() string {
	switch s {
	case HostKeyKnown:
		return "known"
	case HostKeyUnknown:
		return "unknown"
	case HostKeyMismatch:
		return "MISMATCH"
	default:
		return "unchecked"
	}
}

// SSHTarget is the server to probe.
type SSHTarget struct {
	User       string
	Host       string
	Port       int
	Password   string
	UseAgent   bool
	KnownHosts string // empty: ~/.ssh/known_hosts
	Timeout    time.Duration
}

// SSHResult describes what the handshake found.  The probe never
// rejects a host key; it only reports it, since the real client does
// its own verification according to the profile's options.
type SSHResult struct {
	Address       string
	ServerVersion string
	KeyType       string
	Fingerprint   string // SHA256:...
	HostKey       HostKeyStatus
	Authenticated bool
	AuthErr       error
	Elapsed       time.Duration
}

// ProbeSSH dials target and runs the SSH handshake.  An error means the
// server could not be reached or did not speak SSH; a rejected login is
// reported through Authenticated and AuthErr instead.
func ProbeSSH(ctx context.Context, target SSHTarget) (SSHResult, error) {
	if target.Port == 0 {
		target.Port = 22
	}
	if target.Timeout == 0 {
		target.Timeout = DefaultSSHTimeout
	}
	addr := net.JoinHostPort(target.Host, strconv.Itoa(target.Port))
	res := SSHResult{Address: addr}

	checker, err := loadKnownHosts(target.KnownHosts)
	if err != nil {
		return res, err
	}

	var sawKey bool
	cfg := &ssh.ClientConfig{
		User: target.User,
		Auth: authMethods(target),
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			sawKey = true
			res.KeyType = key.Type()
			res.Fingerprint = ssh.FingerprintSHA256(key)
			res.HostKey = classifyHostKey(checker, hostname, remote, key)
			return nil
		},
		Timeout: target.Timeout,
	}

	ctx, cancel := context.WithTimeout(ctx, target.Timeout)
	defer cancel()

	start := time.Now()
	var dialer net.Dialer
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return res, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer tcpConn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = tcpConn.SetDeadline(deadline)
	}

	conn := &versionConn{Conn: tcpConn}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	res.Elapsed = time.Since(start)
	res.ServerVersion = conn.version()
	if err != nil {
		if !sawKey {
			return res, fmt.Errorf("ssh handshake with %s: %w", addr, err)
		}
		res.AuthErr = err
		return res, nil
	}
	res.Authenticated = true
	res.ServerVersion = string(sshConn.ServerVersion())
	ssh.NewClient(sshConn, chans, reqs).Close()
	return res, nil
}

func authMethods(target SSHTarget) []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if target.Password != "" {
		methods = append(methods, ssh.Password(target.Password))
	}
	if target.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			if c, err := net.Dial("unix", sock); err == nil {
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(c).Signers))
			}
		}
	}
	return methods
}

// ── host-key classification ──────────────────────────────────────────

func loadKnownHosts(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts from %s: %w", path, err)
	}
	return cb, nil
}

func classifyHostKey(cb ssh.HostKeyCallback, hostname string, remote net.Addr, key ssh.PublicKey) HostKeyStatus {
	if cb == nil {
		return HostKeyUnchecked
	}
	err := cb(hostname, remote, key)
	if err == nil {
		return HostKeyKnown
	}
	var ke *knownhosts.KeyError
	if errors.As(err, &ke) && len(ke.Want) > 0 {
		return HostKeyMismatch
	}
	return HostKeyUnknown
}

// ── version capture ──────────────────────────────────────────────────

// versionConn remembers the server identification line so it can be
// reported even when authentication fails.
type versionConn struct {
	net.Conn

	mu   sync.Mutex
	buf  []byte
	line string
	done bool
}

const maxVersionScan = 4096

func (c *versionConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.mu.Lock()
		if !c.done {
			c.scan(p[:n])
		}
		c.mu.Unlock()
	}
	return n, err
}

// scan must be called with mu held.
func (c *versionConn) scan(p []byte) {
	c.buf = append(c.buf, p...)
	for {
		i := bytes.IndexByte(c.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(c.buf[:i], "\r")
		c.buf = c.buf[i+1:]
		if bytes.HasPrefix(line, []byte("SSH-")) {
			c.line = string(line)
			c.done = true
			c.buf = nil
			return
		}
	}
	if len(c.buf) > maxVersionScan {
		c.done = true
		c.buf = nil
	}
}

func (c *versionConn) version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.line
}
