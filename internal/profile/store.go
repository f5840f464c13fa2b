package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	vpnerr "sshvpn/internal/errors"
)

// Store persists named profiles.  The core only ever loads or saves the
// whole set; where and how it is kept is up to the implementation.
type Store interface {
	LoadAll() ([]Profile, error)
	SaveAll(profiles []Profile) error
}

// ── YAML file store ──────────────────────────────────────────────────

// storeFile is the on-disk layout.
type storeFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// YAMLStore keeps profiles in a single YAML file.  The file holds
// passwords in clear text and is written with mode 0600.
type YAMLStore struct {
	Path string
}

// NewYAMLStore returns a store backed by path.
func NewYAMLStore(path string) *YAMLStore {
	return &YAMLStore{Path: path}
}

// DefaultStorePath is ~/.config/sshvpn/profiles.yaml (or the platform
// equivalent of the user config directory).
func DefaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "sshvpn", "profiles.yaml")
}

// LoadAll reads every profile.  A missing file is an empty set.
func (s *YAMLStore) LoadAll() ([]Profile, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading profiles: %w", err)
	}

	var f storeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.Path, err)
	}
	for i := range f.Profiles {
		f.Profiles[i] = f.Profiles[i].WithDefaults()
	}
	return f.Profiles, nil
}

// SaveAll replaces the file with profiles, sorted by name.
func (s *YAMLStore) SaveAll(profiles []Profile) error {
	for _, p := range profiles {
		if strings.TrimSpace(p.Name) == "" {
			return vpnerr.InvalidField("name", nil, "required to save a profile")
		}
	}

	out := make([]Profile, len(profiles))
	copy(out, profiles)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	data, err := yaml.Marshal(storeFile{Profiles: out})
	if err != nil {
		return fmt.Errorf("encoding profiles: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("creating profile dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".profiles-*.yaml")
	if err != nil {
		return fmt.Errorf("writing profiles: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing profiles: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing profiles: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing profiles: %w", err)
	}
	return os.Rename(tmp.Name(), s.Path)
}

// ── Set helpers ──────────────────────────────────────────────────────

// Find returns the profile called name.
func Find(profiles []Profile, name string) (Profile, bool) {
	for _, p := range profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// Upsert replaces the profile with the same name or appends p.
func Upsert(profiles []Profile, p Profile) []Profile {
	for i := range profiles {
		if profiles[i].Name == p.Name {
			profiles[i] = p
			return profiles
		}
	}
	return append(profiles, p)
}

// Remove drops the profile called name and reports whether it existed.
func Remove(profiles []Profile, name string) ([]Profile, bool) {
	for i := range profiles {
		if profiles[i].Name == name {
			return append(profiles[:i], profiles[i+1:]...), true
		}
	}
	return profiles, false
}

// ── Legacy import ────────────────────────────────────────────────────

// legacyEntry is one value of the desktop app's saved_vpns.json, where
// every field was stored as the raw form text.
type legacyEntry struct {
	Username       string `json:"username"`
	IP             string `json:"ip"`
	Password       string `json:"password"`
	Port           string `json:"port"`
	SSHOptions     string `json:"ssh_options"`
	SocksPort      string `json:"socks_port"`
	ConnectionType string `json:"connection_type"`
}

// ImportLegacy reads a saved_vpns.json file ({"name": {...}, ...}) and
// converts each entry.  Entries with unparseable ports are reported
// together; the valid ones are still returned.
func ImportLegacy(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading legacy profiles: %w", err)
	}

	var raw map[string]legacyEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		out  []Profile
		errs []error
	)
	for _, name := range names {
		p, err := raw[name].convert(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out = append(out, p)
	}
	return out, vpnerr.Join(errs...)
}

func (e legacyEntry) convert(name string) (Profile, error) {
	port, err := ParsePort("port", e.Port, DefaultPort)
	if err != nil {
		return Profile{}, err
	}
	socks, err := ParsePort("socks_port", e.SocksPort, DefaultSocksPort)
	if err != nil {
		return Profile{}, err
	}
	mode, err := ParseMode(e.ConnectionType)
	if err != nil {
		return Profile{}, err
	}
	opts := e.SSHOptions
	if opts == "" {
		opts = DefaultOptions
	}
	return Profile{
		Name:         name,
		Username:     strings.TrimSpace(e.Username),
		Host:         strings.TrimSpace(e.IP),
		Password:     e.Password,
		Port:         port,
		ExtraOptions: ParseOptions(opts),
		SocksPort:    socks,
		Mode:         mode,
	}, nil
}
