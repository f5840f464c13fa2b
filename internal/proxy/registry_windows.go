//go:build windows

package proxy

import (
	"golang.org/x/sys/windows/registry"
)

const internetSettingsPath = `Software\Microsoft\Windows\CurrentVersion\Internet Settings`

func openInternetSettings() (Settings, error) {
	k, err := registry.OpenKey(registry.CURRENT_USER, internetSettingsPath,
		registry.QUERY_VALUE|registry.SET_VALUE)
	if err != nil {
		return nil, err
	}
	return k, nil
}
