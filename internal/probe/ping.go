// Package probe holds the reachability checks that run outside a
// session: the platform ping utility, an SSH handshake against the
// target, and a dial through the local SOCKS endpoint.
package probe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	vpnerr "sshvpn/internal/errors"
	"sshvpn/internal/event"
	"sshvpn/internal/metrics"
)

// Ping defaults.
const (
	DefaultPingBinary  = "ping"
	DefaultPingCount   = 4
	DefaultPingTimeout = 10 * time.Second
)

// Outcome classifies a ping run.
type Outcome int

const (
	Reachable Outcome = iota
	Unreachable
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	case TimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// Result is the outcome of one probe.
type Result struct {
	Host    string
	Outcome Outcome
	Output  string // combined ping output
	Err     error  // exit status, timeout or start failure
	Elapsed time.Duration
}

// Pinger runs the platform ping utility.
type Pinger struct {
	Binary  string
	Count   int
	Timeout time.Duration
	GOOS    string // selects -c or -n; defaults to runtime.GOOS

	Sink    event.Sink
	Metrics *metrics.Collector
}

// NewPinger returns a Pinger with the default count and timeout.
func NewPinger(sink event.Sink, m *metrics.Collector) *Pinger {
	return &Pinger{
		Binary:  DefaultPingBinary,
		Count:   DefaultPingCount,
		Timeout: DefaultPingTimeout,
		GOOS:    runtime.GOOS,
		Sink:    sink,
		Metrics: m,
	}
}

// Args returns the ping arguments for host.
func (p *Pinger) Args(host string) []string {
	flag := "-c"
	if p.GOOS == "windows" {
		flag = "-n"
	}
	return []string{flag, strconv.Itoa(p.Count), host}
}

// Probe pings host and blocks until ping exits or the timeout elapses.
func (p *Pinger) Probe(ctx context.Context, host string) Result {
	res := Result{Host: host, Outcome: Unreachable}
	host = strings.TrimSpace(host)
	if host == "" {
		res.Err = vpnerr.InvalidField("host", nil, "required")
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, p.Binary, p.Args(host)...)
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	res.Elapsed = time.Since(start)
	res.Output = string(out)

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Outcome = TimedOut
		res.Err = fmt.Errorf("ping %s: no answer within %s", host, p.Timeout)
	case err == nil:
		res.Outcome = Reachable
	default:
		res.Err = fmt.Errorf("ping %s: %w", host, err)
	}
	p.Metrics.ProbeCompleted(res.Outcome == Reachable)
	return res
}

// Start runs Probe on its own goroutine.  The returned channel delivers
// exactly one Result and is then closed.  Progress and the outcome are
// also reported to the Sink.
func (p *Pinger) Start(host string) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		sink := p.sink()
		sink.OnLog(event.Log(event.SeverityInfo, "", "ping", "Pinging "+host+"..."))

		res := p.Probe(context.Background(), host)

		sc := bufio.NewScanner(strings.NewReader(res.Output))
		for sc.Scan() {
			if line := strings.TrimRight(sc.Text(), "\r"); line != "" {
				sink.OnLog(event.Log(event.SeverityInfo, "", "ping", line))
			}
		}

		sev, msg := event.SeverityInfo, fmt.Sprintf("%s is %s", host, res.Outcome)
		if res.Outcome != Reachable {
			sev = event.SeverityError
			if res.Err != nil {
				sink.OnLog(event.Log(sev, "", "ping", res.Err.Error()))
			}
		}
		sink.OnStatus(event.Status(sev, "", res.Outcome.String(), msg, res.Err))
		ch <- res
	}()
	return ch
}

func (p *Pinger) sink() event.Sink {
	if p.Sink == nil {
		return event.Discard
	}
	return p.Sink
}
