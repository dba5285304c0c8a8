//go:build linux

package discord

import (
	"fmt"
	"os"
	"strings"
)

// ipcUnavailable returns ErrIPCNotAvailable, with a relay hint under WSL.
//
// Under WSL2, Discord runs on the Windows host and its named pipe is not
// visible to Linux processes. A socat + npiperelay.exe bridge that listens on
// /tmp/discord-ipc-0 makes it reachable through the regular socket probe:
//
//	socat UNIX-LISTEN:/tmp/discord-ipc-0,fork EXEC:"npiperelay.exe -ep -s //./pipe/discord-ipc-0"
func ipcUnavailable() error {
	if runningUnderWSL() {
		return fmt.Errorf("%w: running under WSL, bridge the Windows pipe to /tmp/discord-ipc-0 with socat and npiperelay.exe", ErrIPCNotAvailable)
	}
	return ErrIPCNotAvailable
}

func runningUnderWSL() bool {
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return true
	}
	data, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
}
