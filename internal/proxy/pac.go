package proxy

import (
	"fmt"
	"os"
	"path/filepath"
)

// PACFileName is the file written for port.
func PACFileName(port int) string {
	return fmt.Sprintf(".ssh-vpn-proxy-%d.pac", port)
}

// PACContent returns a proxy auto-config script sending everything to
// the local SOCKS endpoint.
func PACContent(port int) string {
	return fmt.Sprintf(`
function FindProxyForURL(url, host) {
    return "SOCKS5 %s";
}
`, Endpoint(port))
}

// WritePAC writes the PAC file into dir (the home directory if empty)
// and returns its path.
func WritePAC(dir string, port int) (string, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locating home directory: %w", err)
		}
		dir = home
	}
	path := filepath.Join(dir, PACFileName(port))
	if err := os.WriteFile(path, []byte(PACContent(port)), 0o644); err != nil {
		return "", fmt.Errorf("writing PAC file: %w", err)
	}
	return path, nil
}
