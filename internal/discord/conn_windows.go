//go:build windows

package discord

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

// pipeName returns the named pipe of IPC slot i. Stable, Canary and PTB
// builds share the same pipe names.
func pipeName(i int) string {
	return fmt.Sprintf(`\\.\pipe\discord-ipc-%d`, i)
}

// connectToDiscord dials the first Discord named pipe slot that answers.
func connectToDiscord() (net.Conn, error) {
	var lastErr error
	for i := range maxIPCSlots {
		timeout := dialTimeout
		conn, err := winio.DialPipe(pipeName(i), &timeout)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %w", ErrIPCNotAvailable, lastErr)
}
