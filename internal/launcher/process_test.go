package launcher

import (
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	vpnerr "sshvpn/internal/errors"
)

func sh(t *testing.T, script string, env ...string) Spec {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	return Spec{Path: "/bin/sh", Args: []string{"-c", script}, Env: env}
}

func TestStart_StreamsLines(t *testing.T) {
	var mu sync.Mutex
	var got []string
	c, err := Start(sh(t, `printf 'one\r\ntwo\n'; printf 'err\n' >&2; printf 'tail'`), func(s Stream, line string) {
		mu.Lock()
		got = append(got, string(s)+":"+line)
		mu.Unlock()
	}, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	stdout, stderr := c.Output()
	if stdout != "one\r\ntwo\ntail" {
		t.Errorf("stdout = %q", stdout)
	}
	if stderr != "err\n" {
		t.Errorf("stderr = %q", stderr)
	}

	mu.Lock()
	defer mu.Unlock()
	want := map[string]bool{"stdout:one": true, "stdout:two": true, "stdout:tail": true, "stderr:err": true}
	if len(got) != len(want) {
		t.Fatalf("lines = %q", got)
	}
	for _, l := range got {
		if !want[l] {
			t.Errorf("unexpected line %q", l)
		}
	}
}

func TestStart_StdinIsNull(t *testing.T) {
	c, err := Start(sh(t, `if read line; then echo "got:$line"; else echo eof; fi`), nil, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	stdout, _ := c.Output()
	if strings.TrimSpace(stdout) != "eof" {
		t.Errorf("stdout = %q, want eof", stdout)
	}
}

func TestStart_Env(t *testing.T) {
	c, err := Start(sh(t, `echo "$SSHPASS"`, "SSHPASS=s3cret"), nil, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	stdout, _ := c.Output()
	if strings.TrimSpace(stdout) != "s3cret" {
		t.Errorf("stdout = %q", stdout)
	}
	if c.ExitErr() != nil {
		t.Errorf("ExitErr = %v", c.ExitErr())
	}
}

func TestTerminate_Graceful(t *testing.T) {
	c, err := Start(sh(t, `sleep 30`), nil, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := c.Terminate(5 * time.Second); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("graceful stop took too long")
	}
	if c.IsAlive() {
		t.Error("still alive")
	}
	// Already stopped: nothing to do.
	if err := c.Terminate(time.Second); err != nil {
		t.Errorf("second Terminate: %v", err)
	}
}

// TestTerminate_Forced uses a child that ignores SIGTERM, so the grace
// period runs out and the kill path is taken.
func TestTerminate_Forced(t *testing.T) {
	c, err := Start(sh(t, `trap '' TERM; echo ready; sleep 30`), nil, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	// Give the shell time to install the trap.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !strings.Contains(c.stdout.String(), "ready") {
		time.Sleep(10 * time.Millisecond)
	}

	err = c.Terminate(200 * time.Millisecond)
	if !vpnerr.Is(err, vpnerr.ErrTerminationTimeout) {
		t.Fatalf("expected ErrTerminationTimeout, got %v", err)
	}
	if c.IsAlive() {
		t.Error("process should be killed")
	}
}

func TestLineWriter_SplitAcrossWrites(t *testing.T) {
	var got []string
	w := &lineWriter{stream: StreamStderr, onLine: func(_ Stream, l string) { got = append(got, l) }}
	w.Write([]byte("Perm"))
	w.Write([]byte("ission denied\nnext"))
	w.flush()

	if len(got) != 2 || got[0] != "Permission denied" || got[1] != "next" {
		t.Errorf("got %q", got)
	}
	if w.String() != "Permission denied\nnext" {
		t.Errorf("String() = %q", w.String())
	}
}
