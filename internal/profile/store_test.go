package profile

import (
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"

	vpnerr "sshvpn/internal/errors"
)

func TestYAMLStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profiles.yaml")
	s := NewYAMLStore(path)

	in := []Profile{
		{Name: "zeta", Username: "z", Host: "h2", Password: "p", Port: 2222, SocksPort: 1081, Mode: ModeFullVPN},
		{Name: "alpha", Username: "a", Host: "h1", Password: "p", Port: 22, SocksPort: 1080,
			ExtraOptions: []string{"-o", "ServerAliveInterval=60"}},
	}
	if err := s.SaveAll(in); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	out, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(out) != 2 || out[0].Name != "alpha" || out[1].Name != "zeta" {
		t.Fatalf("expected sorted profiles, got %+v", out)
	}
	if !reflect.DeepEqual(out[0], in[1]) {
		t.Errorf("alpha = %+v, want %+v", out[0], in[1])
	}
	if out[1].Mode != ModeFullVPN {
		t.Errorf("zeta mode = %v", out[1].Mode)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "mode: vpn") {
		t.Errorf("mode should be stored as text:\n%s", data)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("perm = %o, want 600", perm)
		}
	}
}

func TestYAMLStore_MissingFile(t *testing.T) {
	s := NewYAMLStore(filepath.Join(t.TempDir(), "none.yaml"))
	out, err := s.LoadAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty set, got %v", out)
	}
}

func TestYAMLStore_FillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	doc := "profiles:\n  - name: min\n    username: u\n    host: h\n    password: p\n    mode: SSH Tunnel\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := NewYAMLStore(path).LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(out) != 1 || out[0].Port != 22 || out[0].SocksPort != 1080 {
		t.Errorf("got %+v", out)
	}
}

func TestYAMLStore_RejectsBadMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	doc := "profiles:\n  - name: x\n    mode: carrier-pigeon\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewYAMLStore(path).LoadAll(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestYAMLStore_RequiresName(t *testing.T) {
	s := NewYAMLStore(filepath.Join(t.TempDir(), "p.yaml"))
	err := s.SaveAll([]Profile{{Username: "u"}})
	if !vpnerr.Is(err, vpnerr.ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}
}

func TestSetHelpers(t *testing.T) {
	var set []Profile
	set = Upsert(set, Profile{Name: "a", Host: "1"})
	set = Upsert(set, Profile{Name: "b", Host: "2"})
	set = Upsert(set, Profile{Name: "a", Host: "3"})

	if len(set) != 2 {
		t.Fatalf("len = %d, want 2", len(set))
	}
	if p, ok := Find(set, "a"); !ok || p.Host != "3" {
		t.Errorf("Find(a) = %+v, %v", p, ok)
	}

	set, ok := Remove(set, "a")
	if !ok || len(set) != 1 || set[0].Name != "b" {
		t.Errorf("Remove(a) = %+v, %v", set, ok)
	}
	if _, ok := Remove(set, "missing"); ok {
		t.Error("Remove of missing name should report false")
	}
}

func TestImportLegacy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved_vpns.json")
	doc := `{
    "office": {
        "username": "bob",
        "ip": "10.0.0.5",
        "password": "x",
        "port": "22",
        "ssh_options": "-o StrictHostKeyChecking=no",
        "socks_port": "1080",
        "connection_type": "SSH Tunnel"
    },
    "home": {
        "username": "alice",
        "ip": "vpn.example.com",
        "password": "y",
        "port": "",
        "ssh_options": "",
        "socks_port": "",
        "connection_type": "Full VPN (sshuttle)"
    },
    "broken": {
        "username": "c",
        "ip": "h",
        "password": "z",
        "port": "abc"
    }
}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := ImportLegacy(path)
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Errorf("expected error naming the broken entry, got %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 imported profiles, got %d", len(out))
	}

	home, office := out[0], out[1]
	if home.Name != "home" || home.Mode != ModeFullVPN || home.Port != 22 || home.SocksPort != 1080 {
		t.Errorf("home = %+v", home)
	}
	if len(home.ExtraOptions) != 4 {
		t.Errorf("home should get default options, got %q", home.ExtraOptions)
	}
	if office.Host != "10.0.0.5" || office.Mode != ModeTunnelSocks {
		t.Errorf("office = %+v", office)
	}
	if err := office.Validate(); err != nil {
		t.Errorf("imported profile should validate: %v", err)
	}
}
