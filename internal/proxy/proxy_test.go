package proxy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	vpnerr "sshvpn/internal/errors"
	"sshvpn/internal/event"
	"sshvpn/internal/metrics"
)

// ── fakes ────────────────────────────────────────────────────────────

// fakeDesktop emulates gsettings and nmcli over an in-memory state.
type fakeDesktop struct {
	mu        sync.Mutex
	gsettings map[string]string // "schema key" -> GVariant text
	conns     map[string]bool
	calls     []string
	failOn    string // substring of a call that should fail
}

func newFakeDesktop() *fakeDesktop {
	return &fakeDesktop{
		gsettings: map[string]string{
			"org.gnome.system.proxy mode":       "'none'",
			"org.gnome.system.proxy.socks host": "''",
			"org.gnome.system.proxy.socks port": "0",
		},
		conns: map[string]bool{"Wired connection 1": true},
	}
}

func (f *fakeDesktop) Run(_ context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)
	if f.failOn != "" && strings.Contains(call, f.failOn) {
		return "", fmt.Errorf("%s: exit status 1", call)
	}

	switch name {
	case "gsettings":
		key := args[1] + " " + args[2]
		switch args[0] {
		case "get":
			return f.gsettings[key] + "\n", nil
		case "set":
			f.gsettings[key] = args[3]
			return "", nil
		}
	case "nmcli":
		switch {
		case args[0] == "-t":
			var names []string
			for n := range f.conns {
				names = append(names, n)
			}
			sort.Strings(names)
			return strings.Join(names, "\n") + "\n", nil
		case args[1] == "add":
			f.conns[args[5]] = true
			return "", nil
		case args[1] == "up":
			return "", nil
		case args[1] == "delete":
			delete(f.conns, args[2])
			return "", nil
		}
	}
	return "", fmt.Errorf("unexpected call %q", call)
}

func (f *fakeDesktop) state() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.gsettings))
	for k, v := range f.gsettings {
		out[k] = v
	}
	return out
}

// fakeRegistry emulates the Internet Settings key.
type fakeRegistry struct {
	ints map[string]uint64
	strs map[string]string
}

func (r *fakeRegistry) GetIntegerValue(name string) (uint64, uint32, error) {
	v, ok := r.ints[name]
	if !ok {
		return 0, 0, fs.ErrNotExist
	}
	return v, 4, nil
}

func (r *fakeRegistry) GetStringValue(name string) (string, uint32, error) {
	v, ok := r.strs[name]
	if !ok {
		return "", 0, fs.ErrNotExist
	}
	return v, 1, nil
}

func (r *fakeRegistry) SetDWordValue(name string, v uint32) error {
	r.ints[name] = uint64(v)
	return nil
}

func (r *fakeRegistry) SetStringValue(name, v string) error {
	r.strs[name] = v
	return nil
}

func (r *fakeRegistry) DeleteValue(name string) error {
	if _, ok := r.strs[name]; !ok {
		if _, ok := r.ints[name]; !ok {
			return fs.ErrNotExist
		}
	}
	delete(r.strs, name)
	delete(r.ints, name)
	return nil
}

func (r *fakeRegistry) Close() error { return nil }

func (r *fakeRegistry) open() (Settings, error) { return r, nil }

// countingStrategy records captures so first-writer-wins can be observed.
type countingStrategy struct {
	captures int
	current  string
}

func (s *countingStrategy) Name() string { return "counting" }

func (s *countingStrategy) Capture(context.Context) (Snapshot, error) {
	s.captures++
	return Snapshot{Settings: []Setting{{Key: "value", Value: s.current}}}, nil
}

func (s *countingStrategy) Apply(_ context.Context, port int) error {
	s.current = fmt.Sprintf("socks:%d", port)
	return nil
}

func (s *countingStrategy) Restore(_ context.Context, snap Snapshot) error {
	kv, _ := snap.Get("value")
	s.current = kv.Value
	return nil
}

type logRecorder struct {
	mu   sync.Mutex
	logs []event.LogEvent
}

func (r *logRecorder) OnStatus(event.StatusEvent) {}
func (r *logRecorder) OnLog(e event.LogEvent) {
	r.mu.Lock()
	r.logs = append(r.logs, e)
	r.mu.Unlock()
}

func (r *logRecorder) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sb strings.Builder
	for _, e := range r.logs {
		sb.WriteString(e.Message + "\n")
	}
	return sb.String()
}

// ── Configurator ─────────────────────────────────────────────────────

func TestConfigurator_FirstWriterWins(t *testing.T) {
	s := &countingStrategy{current: "original"}
	c := New(s, nil, nil)
	ctx := context.Background()

	if _, err := c.Enable(ctx, 1080); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Enable(ctx, 1081); err != nil {
		t.Fatal(err)
	}
	if s.captures != 1 {
		t.Errorf("captures = %d, want 1", s.captures)
	}
	snap, ok := c.Held()
	if !ok {
		t.Fatal("expected a held snapshot")
	}
	if kv, _ := snap.Get("value"); kv.Value != "original" {
		t.Errorf("snapshot = %q, want the first capture", kv.Value)
	}

	if err := c.Disable(ctx); err != nil {
		t.Fatal(err)
	}
	if s.current != "original" {
		t.Errorf("restored %q, want original", s.current)
	}
	if _, ok := c.Held(); ok {
		t.Error("snapshot should be cleared after restore")
	}
}

func TestConfigurator_DisableWithoutSnapshot(t *testing.T) {
	s := &countingStrategy{current: "x"}
	c := New(s, nil, nil)
	if err := c.Disable(context.Background()); err != nil {
		t.Fatalf("no-op Disable returned %v", err)
	}
	if s.current != "x" || s.captures != 0 {
		t.Error("Disable without snapshot must not touch anything")
	}
}

func TestConfigurator_GnomeRoundTrip(t *testing.T) {
	desk := newFakeDesktop()
	desk.gsettings["org.gnome.system.proxy mode"] = "'auto'"
	desk.gsettings["org.gnome.system.proxy.socks host"] = "'corp-proxy'"
	desk.gsettings["org.gnome.system.proxy.socks port"] = "3128"
	before := desk.state()

	m := metrics.New()
	c := New(&Gnome{Binary: "gsettings", Runner: desk}, nil, m)
	ctx := context.Background()

	out, err := c.Enable(ctx, 1080)
	if err != nil || out != OutcomeApplied {
		t.Fatalf("Enable = %v, %v", out, err)
	}
	applied := desk.state()
	if applied["org.gnome.system.proxy mode"] != "manual" ||
		applied["org.gnome.system.proxy.socks host"] != "127.0.0.1" ||
		applied["org.gnome.system.proxy.socks port"] != "1080" {
		t.Errorf("applied state = %v", applied)
	}

	if err := c.Disable(ctx); err != nil {
		t.Fatal(err)
	}
	if after := desk.state(); !reflect.DeepEqual(after, before) {
		t.Errorf("restored state = %v\nwant %v", after, before)
	}
	if m.Snapshot().ProxyApplied != 1 {
		t.Error("apply not counted")
	}
}

func TestConfigurator_NMCliRoundTrip(t *testing.T) {
	desk := newFakeDesktop()
	desk.conns["ssh-vpn-proxy-9000"] = true // left over from an earlier run
	c := New(&NMCli{Binary: "nmcli", Runner: desk}, nil, nil)
	ctx := context.Background()

	if out, err := c.Enable(ctx, 1080); err != nil || out != OutcomeApplied {
		t.Fatalf("Enable = %v, %v", out, err)
	}
	if !desk.conns["ssh-vpn-proxy-1080"] {
		t.Fatal("connection not added")
	}
	if err := c.Disable(ctx); err != nil {
		t.Fatal(err)
	}
	if desk.conns["ssh-vpn-proxy-1080"] {
		t.Error("added connection should be deleted")
	}
	if !desk.conns["ssh-vpn-proxy-9000"] || !desk.conns["Wired connection 1"] {
		t.Error("pre-existing connections must survive restore")
	}
}

func TestConfigurator_WindowsRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		ints     map[string]uint64
		strs     map[string]string
		wantInts map[string]uint64
		wantStrs map[string]string
	}{
		{
			name:     "existing values",
			ints:     map[string]uint64{RegProxyEnable: 1},
			strs:     map[string]string{RegProxyServer: "http=corp:8080"},
			wantInts: map[string]uint64{RegProxyEnable: 1},
			wantStrs: map[string]string{RegProxyServer: "http=corp:8080"},
		},
		{
			name:     "nothing set before",
			ints:     map[string]uint64{},
			strs:     map[string]string{},
			wantInts: map[string]uint64{RegProxyEnable: 0},
			wantStrs: map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &fakeRegistry{ints: tt.ints, strs: tt.strs}
			c := New(&Windows{Open: reg.open}, nil, nil)
			ctx := context.Background()

			if out, err := c.Enable(ctx, 1080); err != nil || out != OutcomeApplied {
				t.Fatalf("Enable = %v, %v", out, err)
			}
			if reg.ints[RegProxyEnable] != 1 || reg.strs[RegProxyServer] != "socks=127.0.0.1:1080" {
				t.Errorf("applied = %v %v", reg.ints, reg.strs)
			}
			if err := c.Disable(ctx); err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(reg.ints, tt.wantInts) || !reflect.DeepEqual(reg.strs, tt.wantStrs) {
				t.Errorf("restored = %v %v, want %v %v", reg.ints, reg.strs, tt.wantInts, tt.wantStrs)
			}
		})
	}
}

func TestConfigurator_AdvisoryIsNotSuccess(t *testing.T) {
	rec := &logRecorder{}
	c := New(Advisory{}, rec, nil)

	out, err := c.Enable(context.Background(), 1080)
	if err != nil {
		t.Fatal(err)
	}
	if out != OutcomeAdvisory || out == OutcomeApplied {
		t.Errorf("Outcome = %v, want advisory", out)
	}
	if _, ok := c.Held(); ok {
		t.Error("advisory must not hold a snapshot")
	}
	if !strings.Contains(rec.text(), "export ALL_PROXY=socks5://127.0.0.1:1080") {
		t.Errorf("missing export instructions:\n%s", rec.text())
	}
}

func TestConfigurator_ApplyFailure(t *testing.T) {
	desk := newFakeDesktop()
	desk.failOn = "set org.gnome.system.proxy.socks port"
	rec := &logRecorder{}
	m := metrics.New()
	c := New(&Gnome{Binary: "gsettings", Runner: desk}, rec, m)

	out, err := c.Enable(context.Background(), 1080)
	if out != OutcomeNone {
		t.Errorf("Outcome = %v", out)
	}
	var pe *vpnerr.ProxyError
	if !vpnerr.As(err, &pe) || pe.Strategy != NameGnome || pe.Op != "apply" {
		t.Fatalf("expected gnome apply ProxyError, got %v", err)
	}
	if !vpnerr.Is(err, vpnerr.ErrProxyConfig) {
		t.Error("should wrap ErrProxyConfig")
	}
	if m.ProxyErrors() != 1 {
		t.Errorf("proxy errors = %d", m.ProxyErrors())
	}
	if !strings.Contains(rec.text(), "exit status 1") {
		t.Errorf("failure not logged:\n%s", rec.text())
	}

	// The partial change is still undone.
	desk.failOn = ""
	if err := c.Disable(context.Background()); err != nil {
		t.Fatal(err)
	}
	if desk.state()["org.gnome.system.proxy mode"] != "'none'" {
		t.Error("mode not restored after partial apply")
	}
}

func TestConfigurator_RestoreFailureKeepsSnapshot(t *testing.T) {
	desk := newFakeDesktop()
	c := New(&Gnome{Binary: "gsettings", Runner: desk}, nil, nil)
	ctx := context.Background()
	if _, err := c.Enable(ctx, 1080); err != nil {
		t.Fatal(err)
	}

	desk.failOn = "set org.gnome.system.proxy mode"
	if err := c.Disable(ctx); !vpnerr.Is(err, vpnerr.ErrProxyConfig) {
		t.Fatalf("expected ErrProxyConfig, got %v", err)
	}
	if _, ok := c.Held(); !ok {
		t.Fatal("snapshot should survive a failed restore")
	}

	desk.failOn = ""
	if err := c.Disable(ctx); err != nil {
		t.Fatal(err)
	}
	if desk.state()["org.gnome.system.proxy mode"] != "'none'" {
		t.Error("retry did not restore")
	}
}

// ── Selection ────────────────────────────────────────────────────────

func TestSelect(t *testing.T) {
	tests := []struct {
		goos      string
		available []string
		want      string
	}{
		{"windows", nil, NameWindows},
		{"linux", []string{"gsettings", "nmcli"}, NameGnome},
		{"linux", []string{"nmcli"}, NameNMCli},
		{"linux", nil, NameAdvisory},
		{"darwin", nil, NameAdvisory},
	}
	for _, tt := range tests {
		t.Run(tt.goos+"/"+strings.Join(tt.available, ","), func(t *testing.T) {
			lookPath := func(f string) (string, error) {
				for _, a := range tt.available {
					if a == f {
						return "/usr/bin/" + f, nil
					}
				}
				return "", errors.New("not found")
			}
			if got := Select(tt.goos, lookPath, Binaries{}, nil).Name(); got != tt.want {
				t.Errorf("Select = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestByName(t *testing.T) {
	none := func(string) (string, error) { return "", errors.New("no") }
	for _, name := range []string{NameGnome, NameNMCli, NameWindows, NameAdvisory} {
		s, err := ByName(name, "linux", none, Binaries{}, nil)
		if err != nil || s.Name() != name {
			t.Errorf("ByName(%q) = %v, %v", name, s, err)
		}
	}
	if s, err := ByName("", "linux", none, Binaries{}, nil); err != nil || s.Name() != NameAdvisory {
		t.Errorf("ByName(auto) = %v, %v", s, err)
	}
	if _, err := ByName("kde", "linux", none, Binaries{}, nil); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

// ── PAC ──────────────────────────────────────────────────────────────

func TestWritePAC(t *testing.T) {
	dir := t.TempDir()
	path, err := WritePAC(dir, 1080)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != ".ssh-vpn-proxy-1080.pac" {
		t.Errorf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `return "SOCKS5 127.0.0.1:1080";`) {
		t.Errorf("content:\n%s", data)
	}
}
