package cmd

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"sshvpn/internal/profile"
)

// PasswordEnv supplies the password non-interactively.
const PasswordEnv = "SSHVPN_PASSWORD"

// errNoPassword is returned when a password is needed but none was
// saved, SSHVPN_PASSWORD is unset and stdin is not a terminal.
var errNoPassword = errors.New("no password: save one in the profile, set " + PasswordEnv + " or run from a terminal")

// readPassword and isTerminal are the terminal boundary; tests replace them.
var (
	readPassword = func() ([]byte, error) { return term.ReadPassword(int(os.Stdin.Fd())) } //nolint:gochecknoglobals
	isTerminal   = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }               //nolint:gochecknoglobals
)

// fillPassword makes sure p carries a password.  Order: a saved one
// (unless ask is set), the environment, then an interactive prompt.
func fillPassword(p *profile.Profile, ask bool) error {
	if p.Password != "" && !ask {
		return nil
	}
	if v := os.Getenv(PasswordEnv); v != "" && !ask {
		p.Password = v
		return nil
	}
	if !isTerminal() {
		if p.Password != "" {
			return nil
		}
		return errNoPassword
	}

	fmt.Fprintf(stderr, "Password for %s: ", p.Destination())
	pass, err := readPassword()
	fmt.Fprintln(stderr)
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	if len(pass) == 0 {
		return errNoPassword
	}
	p.Password = string(pass)
	return nil
}
