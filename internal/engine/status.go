package engine

import (
	"fmt"
	"time"
)

// ///////////////////////////////////////////////
// State
// ///////////////////////////////////////////////

// State is the reconciliation loop's position in its state machine.
type State int

const (
	DisconnectedSource State = iota
	DisconnectedBroadcast
	Reconciling
	PausedByOperator
)

var stateNames = map[State]string{
	DisconnectedSource:    "disconnected_source",
	DisconnectedBroadcast: "disconnected_broadcast",
	Reconciling:           "reconciling",
	PausedByOperator:      "paused_by_operator",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ///////////////////////////////////////////////
// Error Kinds
// ///////////////////////////////////////////////

// ErrorKind classifies the most recent failure.
type ErrorKind int

const (
	ErrNone ErrorKind = iota
	// SourceConnectivity: Plex unreachable or token rejected.
	SourceConnectivity
	// BroadcastConnectivity: Discord absent, rejected a command, or dropped.
	BroadcastConnectivity
	// MetadataLookup failures degrade to not found and are never reported.
	MetadataLookup
	// Configuration errors are fatal at startup.
	Configuration
)

var errorKindNames = map[ErrorKind]string{
	ErrNone:               "",
	SourceConnectivity:    "source_connectivity",
	BroadcastConnectivity: "broadcast_connectivity",
	MetadataLookup:        "metadata_lookup",
	Configuration:         "configuration",
}

func (k ErrorKind) String() string {
	return errorKindNames[k]
}

func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ///////////////////////////////////////////////
// Status
// ///////////////////////////////////////////////

// Color is the status indicator shown by the tray.
type Color string

const (
	ColorIdle     Color = "idle"
	ColorPlaying  Color = "playing"
	ColorPaused   Color = "paused"
	ColorError    Color = "error"
	ColorWarning  Color = "warning"
	ColorDisabled Color = "disabled"
)

// Status texts.
const (
	TextIdle                = "Idle"
	TextPlaying             = "Playing"
	TextPaused              = "Paused"
	TextPlexError           = "Plex Error"
	TextPlexDisconnected    = "Plex Disconnected"
	TextDiscordDisconnected = "Discord Disconnected"
	TextPresencePaused      = "Presence Paused"
	TextConfigurationError  = "Configuration Error"
)

// Status is the snapshot published once per tick.
type Status struct {
	Text      string    `json:"text"`
	Color     Color     `json:"color"`
	State     State     `json:"state"`
	LastError ErrorKind `json:"last_error,omitempty"`
	// Error is the message of the most recent failure.
	Error string `json:"error,omitempty"`
	// Activity is the current "details - state" line, empty when idle.
	Activity        string    `json:"activity,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
	LatestVersion   string    `json:"latest_version,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// UnmarshalText parses a name produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for k, name := range stateNames {
		if name == string(b) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// UnmarshalText parses a name produced by MarshalText.
func (k *ErrorKind) UnmarshalText(b []byte) error {
	for kind, name := range errorKindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", b)
}
