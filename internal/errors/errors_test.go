package errors

import (
	"fmt"
	"io"
	"testing"
)

func TestProfileError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  ProfileError
		want string
	}{
		{
			name: "with value and hint",
			err: ProfileError{
				Field:   "port",
				Value:   99999,
				Message: "out of range 1-65535",
				Hint:    "use a port between 1 and 65535",
			},
			want: "profile: port=99999: out of range 1-65535\n  hint: use a port between 1 and 65535",
		},
		{
			name: "missing value no hint",
			err: ProfileError{
				Field:   "username",
				Message: "required",
			},
			want: "profile: username: required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestProfileError_Unwrap(t *testing.T) {
	err := InvalidField("host", nil, "required")
	if !Is(err, ErrInvalidProfile) {
		t.Error("ProfileError should match ErrInvalidProfile")
	}
}

func TestDependencyError(t *testing.T) {
	inner := fmt.Errorf("exec: not found")
	err := &DependencyError{
		Binary:  "sshuttle",
		Install: []string{"sudo apt install sshuttle", "pip install sshuttle"},
		Err:     inner,
	}
	want := "sshuttle not found (exec: not found); install with: sudo apt install sshuttle or pip install sshuttle"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if !Is(err, ErrMissingDependency) {
		t.Error("should match ErrMissingDependency")
	}
	if !Is(err, inner) {
		t.Error("should unwrap to inner error")
	}
}

func TestLaunchError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  LaunchError
		want string
	}{
		{"stderr wins", LaunchError{Command: "sshpass", Stderr: "Permission denied", Err: io.EOF}, "sshpass: connection failed: Permission denied"},
		{"err fallback", LaunchError{Command: "sshpass", Err: io.EOF}, "sshpass: connection failed: EOF"},
		{"nothing", LaunchError{Command: "sshpass"}, "sshpass: connection failed: unknown error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if !Is(&tt.err, ErrLaunchFailed) {
				t.Error("should match ErrLaunchFailed")
			}
		})
	}
}

func TestWrapProxy(t *testing.T) {
	if WrapProxy("gnome", "apply", nil) != nil {
		t.Error("nil error should stay nil")
	}
	err := WrapProxy("gnome", "apply", io.ErrUnexpectedEOF)
	if got, want := err.Error(), "proxy gnome apply: unexpected EOF"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if !Is(err, ErrProxyConfig) || !Is(err, io.ErrUnexpectedEOF) {
		t.Error("should match both ErrProxyConfig and the cause")
	}
	var pe *ProxyError
	if !As(err, &pe) || pe.Strategy != "gnome" {
		t.Errorf("As failed: %+v", pe)
	}
}

func TestSentinels(t *testing.T) {
	// Verify sentinel errors are distinct.
	sentinels := []error{
		ErrInvalidProfile, ErrMissingDependency, ErrLaunchFailed,
		ErrProxyConfig, ErrTerminationTimeout, ErrBusy, ErrNotConnected,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && Is(a, b) {
				t.Errorf("sentinel %d and %d should not match", i, j)
			}
		}
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{
		Field:   "proxy-strategy",
		Value:   "kde",
		Message: "unknown strategy",
		Hint:    "use auto, gnome, nmcli, windows or advisory",
	}
	want := "config: --proxy-strategy=kde: unknown strategy\n  hint: use auto, gnome, nmcli, windows or advisory"
	if got := err.Error(); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
	if !Is(fmt.Errorf("load: %w", err), ErrInvalidConfig) {
		t.Error("ConfigError should match ErrInvalidConfig")
	}
}
