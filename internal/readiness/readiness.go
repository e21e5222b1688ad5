// Package readiness notifies a supervising service manager (systemd) that
// the wrapper has finished warming up, or is shutting down. Outside of
// systemd (no NOTIFY_SOCKET) both calls are harmless no-ops.
package readiness

import "github.com/coreos/go-systemd/v22/daemon"

// Ready notifies the service manager that startup has completed: the
// pool and the listener are both accepting work.
func Ready() error {
	_, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	return err
}

// Stopping notifies the service manager that graceful shutdown has begun.
func Stopping() error {
	_, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	return err
}
