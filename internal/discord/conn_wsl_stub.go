//go:build !linux && !windows

package discord

func ipcUnavailable() error { return ErrIPCNotAvailable }
