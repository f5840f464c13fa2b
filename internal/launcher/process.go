package launcher

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	vpnerr "sshvpn/internal/errors"
)

// Stream names one of the child's output pipes.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// LineFunc receives one output line, without its trailing newline.  It
// is called from the pipe copy goroutines and must not block.
type LineFunc func(stream Stream, line string)

// Process is a handle on a running client.
type Process interface {
	PID() int
	IsAlive() bool
	// Terminate asks the process to stop and waits up to grace before
	// killing it.  A forced kill returns an error wrapping
	// ErrTerminationTimeout.
	Terminate(grace time.Duration) error
	// Output returns everything written to stdout and stderr.  It
	// blocks until the process has exited and its pipes are drained.
	Output() (stdout, stderr string)
}

// Child is the exec-backed Process.
type Child struct {
	cmd    *exec.Cmd
	stdout *lineWriter
	stderr *lineWriter
	done   chan struct{}

	mu      sync.Mutex
	exitErr error
}

// Start runs spec with stdin on the null device and both output pipes
// captured.  The child gets its own process group so Terminate reaches
// anything it spawns (sshpass runs ssh, sshuttle runs ssh).
func Start(spec Spec, onLine LineFunc, waitDelay time.Duration) (*Child, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Stdin = nil
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	c := &Child{
		cmd:    cmd,
		stdout: &lineWriter{stream: StreamStdout, onLine: onLine},
		stderr: &lineWriter{stream: StreamStderr, onLine: onLine},
		done:   make(chan struct{}),
	}
	cmd.Stdout = c.stdout
	cmd.Stderr = c.stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go c.wait()
	return c, nil
}

func (c *Child) wait() {
	err := c.cmd.Wait()
	c.stdout.flush()
	c.stderr.flush()
	c.mu.Lock()
	c.exitErr = err
	c.mu.Unlock()
	close(c.done)
}

func (c *Child) PID() int { return c.cmd.Process.Pid }

func (c *Child) IsAlive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Done is closed once the process has exited and its output is drained.
func (c *Child) Done() <-chan struct{} { return c.done }

// ExitErr returns the result of Wait, or nil while the process runs.
func (c *Child) ExitErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErr
}

func (c *Child) Terminate(grace time.Duration) error {
	if !c.IsAlive() {
		return nil
	}
	proc := c.cmd.Process

	if err := signalTerm(proc); err != nil {
		// No polite signal on this platform, or it could not be sent.
		if kerr := forceKill(proc); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			return fmt.Errorf("kill pid %d: %w", proc.Pid, kerr)
		}
		<-c.done
		return nil
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-c.done:
		return nil
	case <-timer.C:
	}

	if err := forceKill(proc); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", proc.Pid, err)
	}
	<-c.done
	return fmt.Errorf("pid %d still running after %s: %w", proc.Pid, grace, vpnerr.ErrTerminationTimeout)
}

func (c *Child) Output() (stdout, stderr string) {
	<-c.done
	return c.stdout.String(), c.stderr.String()
}

// ── line splitting ───────────────────────────────────────────────────

// lineWriter keeps a full copy of a stream and hands complete lines to
// onLine as they arrive.
type lineWriter struct {
	stream Stream
	onLine LineFunc

	mu      sync.Mutex
	all     bytes.Buffer
	partial []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.all.Write(p)
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.emit(w.partial[:i])
		w.partial = append(w.partial[:0], w.partial[i+1:]...)
	}
	return len(p), nil
}

// flush emits a trailing line that had no newline.
func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.emit(w.partial)
		w.partial = nil
	}
}

func (w *lineWriter) emit(line []byte) {
	if w.onLine == nil {
		return
	}
	w.onLine(w.stream, strings.TrimRight(string(line), "\r"))
}

func (w *lineWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.all.String()
}
