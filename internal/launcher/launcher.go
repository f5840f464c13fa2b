// Package launcher builds the client command line for a profile and
// starts it as a supervised child process.
//
// Passwords never appear on the command line: sshpass reads them from
// the SSHPASS environment variable (-e), so they are invisible to ps and
// to anything that logs a Spec.
package launcher

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	vpnerr "sshvpn/internal/errors"
	"sshvpn/internal/profile"
)

// Default binary names, looked up on PATH.
const (
	DefaultSSHPass  = "sshpass"
	DefaultSSH      = "ssh"
	DefaultSSHuttle = "sshuttle"

	// PasswordEnv is the variable sshpass -e reads.
	PasswordEnv = "SSHPASS"

	// FullRoute is the subnet sshuttle forwards in full-VPN mode.
	FullRoute = "0.0.0.0/0"

	versionTimeout = 5 * time.Second
)

var (
	sshpassInstall  = []string{"sudo apt install sshpass"}
	sshInstall      = []string{"sudo apt install openssh-client"}
	sshuttleInstall = []string{"sudo apt install sshuttle", "pip install sshuttle"}
)

// Spec is a fully resolved command.
type Spec struct {
	Path string   // program name or path
	Args []string // arguments after Path
	Env  []string // extra KEY=VALUE entries; may carry secrets
}

// String renders the command line.  Env is deliberately left out.
func (s Spec) String() string {
	parts := make([]string, 0, len(s.Args)+1)
	parts = append(parts, s.Path)
	for _, a := range s.Args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Launcher turns profiles into running client processes.
type Launcher struct {
	SSHPass  string
	SSH      string
	SSHuttle string

	// LookPath and Run are the process-boundary hooks; tests replace them.
	LookPath func(file string) (string, error)
	Run      func(ctx context.Context, name string, args ...string) error

	// WaitDelay bounds how long output pipes may stay open after the
	// child exits (a grandchild can inherit them).
	WaitDelay time.Duration
}

// New returns a Launcher using the default binary names.
func New() *Launcher {
	return &Launcher{
		SSHPass:   DefaultSSHPass,
		SSH:       DefaultSSH,
		SSHuttle:  DefaultSSHuttle,
		LookPath:  exec.LookPath,
		Run:       runQuiet,
		WaitDelay: time.Second,
	}
}

// Check verifies the binaries mode needs.  For full-VPN mode it runs
// "sshuttle --version", which blocks for a moment; callers treat that
// as part of the synchronous connect validation.
func (l *Launcher) Check(ctx context.Context, mode profile.Mode) error {
	if _, err := l.LookPath(l.SSHPass); err != nil {
		return &vpnerr.DependencyError{Binary: l.SSHPass, Install: sshpassInstall, Err: err}
	}
	switch mode {
	case profile.ModeFullVPN:
		if err := l.Run(ctx, l.SSHuttle, "--version"); err != nil {
			return &vpnerr.DependencyError{Binary: l.SSHuttle, Install: sshuttleInstall, Err: err}
		}
	default:
		if _, err := l.LookPath(l.SSH); err != nil {
			return &vpnerr.DependencyError{Binary: l.SSH, Install: sshInstall, Err: err}
		}
	}
	return nil
}

// Preflight reports every helper that is missing from PATH.  Nothing
// here is fatal; the CLI prints the results as warnings at startup.
func (l *Launcher) Preflight() []error {
	var errs []error
	for _, dep := range []struct {
		bin     string
		install []string
	}{
		{l.SSHPass, sshpassInstall},
		{l.SSH, sshInstall},
		{l.SSHuttle, sshuttleInstall},
	} {
		if _, err := l.LookPath(dep.bin); err != nil {
			errs = append(errs, &vpnerr.DependencyError{Binary: dep.bin, Install: dep.install, Err: err})
		}
	}
	return errs
}

// Command builds the invocation for p.  ExtraOptions are passed through
// verbatim and unvalidated.
func (l *Launcher) Command(p profile.Profile) Spec {
	args := []string{"-e"}

	switch p.Mode {
	case profile.ModeFullVPN:
		sshCmd := strings.Join(append([]string{l.SSH}, p.ExtraOptions...), " ")
		args = append(args, l.SSHuttle,
			"-r", fmt.Sprintf("%s:%d", p.Destination(), p.Port),
			"-e", sshCmd,
			FullRoute,
		)
	default:
		args = append(args, l.SSH)
		args = append(args, p.ExtraOptions...)
		args = append(args,
			"-D", strconv.Itoa(p.SocksPort),
			"-N",
			"-p", strconv.Itoa(p.Port),
			p.Destination(),
		)
	}

	return Spec{
		Path: l.SSHPass,
		Args: args,
		Env:  []string{PasswordEnv + "=" + p.Password},
	}
}

// Launch starts the client for p.  Every output line is passed to
// onLine (which may be nil) as it arrives.
func (l *Launcher) Launch(p profile.Profile, onLine LineFunc) (Process, error) {
	spec := l.Command(p)
	child, err := Start(spec, onLine, l.WaitDelay)
	if err != nil {
		return nil, &vpnerr.LaunchError{Command: spec.Path, Err: err}
	}
	return child, nil
}

func runQuiet(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).Run()
}
