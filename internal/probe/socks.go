package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// DefaultSOCKSTarget is dialled through the tunnel when no target is given.
const DefaultSOCKSTarget = "example.com:80"

// CheckSOCKS opens a TCP connection to target through the SOCKS5
// server at endpoint and closes it again.  It returns how long the
// connect took.
func CheckSOCKS(ctx context.Context, endpoint, target string) (time.Duration, error) {
	if target == "" {
		target = DefaultSOCKSTarget
	}
	d, err := proxy.SOCKS5("tcp", endpoint, nil, &net.Dialer{})
	if err != nil {
		return 0, fmt.Errorf("socks %s: %w", endpoint, err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return 0, fmt.Errorf("socks %s: dialer does not support contexts", endpoint)
	}

	start := time.Now()
	conn, err := cd.DialContext(ctx, "tcp", target)
	if err != nil {
		return 0, fmt.Errorf("socks %s -> %s: %w", endpoint, target, err)
	}
	elapsed := time.Since(start)
	conn.Close()
	return elapsed, nil
}
