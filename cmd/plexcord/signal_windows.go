//go:build windows

package main

import "os"

// shutdownSignals lists the signals that stop the daemon. The runtime maps
// CTRL_BREAK and console close events to os.Interrupt.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
