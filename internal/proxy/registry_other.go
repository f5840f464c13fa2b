//go:build !windows

package proxy

import (
	"fmt"
	"runtime"
)

func openInternetSettings() (Settings, error) {
	return nil, fmt.Errorf("windows registry not available on %s", runtime.GOOS)
}
