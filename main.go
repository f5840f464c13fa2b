// sshvpn runs an SSH SOCKS tunnel or an sshuttle full VPN and keeps the
// system proxy in step with it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sshvpn/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "sshvpn: %v\n", err)
		os.Exit(1)
	}
}
