//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals lists the signals that stop the daemon: Ctrl+C and the
// SIGTERM sent by service managers.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
