//go:build windows

package launcher

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

// Windows has no SIGTERM; the error sends Terminate straight to Kill.
func signalTerm(p *os.Process) error {
	return p.Signal(os.Interrupt)
}

func forceKill(p *os.Process) error {
	return p.Kill()
}
