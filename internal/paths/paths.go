// Package paths centralizes file and directory names used across the project.
// All data directory file names are defined here as the single source of truth.
package paths

import (
	"os"
	"path/filepath"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	PIDFile    = "plexcord.pid"
	ConfigFile = "config.toml"
	SetupFile  = "setup.json"
	LogFile    = "plexcord.log"
	PausedFile = "paused"
	StatusFile = "status.json"
)

// Application identity.
const (
	BinaryName = "plexcord"
	AppDirName = "Plexcord" // relative to os.UserConfigDir
)

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// Default returns the DataDir under the user's configuration directory.
func Default() (DataDir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return DataDir{}, err
	}
	return DataDir{Root: filepath.Join(base, AppDirName)}, nil
}

// PID returns the full path to the PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Config returns the full path to the daemon config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Setup returns the full path to the persisted setup blob.
func (d DataDir) Setup() string { return filepath.Join(d.Root, SetupFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// Paused returns the full path to the operator pause marker.
func (d DataDir) Paused() string { return filepath.Join(d.Root, PausedFile) }

// Status returns the full path to the status surface file.
func (d DataDir) Status() string { return filepath.Join(d.Root, StatusFile) }
