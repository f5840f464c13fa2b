package util

import (
	"fmt"
	"net"
	"strconv"
)

// LoopbackHost is the address local SOCKS endpoints are bound to.
const LoopbackHost = "127.0.0.1"

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// LoopbackEndpoint returns "127.0.0.1:port".
func LoopbackEndpoint(port int) string {
	return FormatAddr(LoopbackHost, port)
}

// SplitHostPort accepts "host" or "host:port" and fills in defaultPort
// when the port is missing.
func SplitHostPort(hostPort string, defaultPort int) (string, int, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		// No port component.
		if hostPort == "" {
			return "", 0, fmt.Errorf("empty address")
		}
		return hostPort, defaultPort, nil
	}
	if host == "" {
		return "", 0, fmt.Errorf("missing host in %q", hostPort)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", LoopbackHost+":0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
