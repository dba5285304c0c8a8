// Package discord provides a client for Discord's local IPC socket,
// enabling Rich Presence updates via the SET_ACTIVITY command.
//
// The [Client] type manages connection lifecycle and command framing.
// Every command waits for Discord's matching response, so a rejected
// activity or a dropped socket surfaces as an error from the call that
// caused it. Platform-specific socket discovery is handled by conn_unix.go
// and conn_windows.go.
package discord

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

var (
	// ErrNotConnected is returned when an operation requires an active connection.
	ErrNotConnected = errors.New("not connected")
	// ErrClosedByPeer is returned when Discord sends a close frame.
	ErrClosedByPeer = errors.New("connection closed by discord")
)

// CommandError is returned when Discord answers a command with an ERROR event.
type CommandError struct {
	Code    int
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("discord error %d: %s", e.Code, e.Message)
}

// ///////////////////////////////////////////////
// Data Types
// ///////////////////////////////////////////////

// ActivityType selects the verb Discord shows before the application name.
type ActivityType int

const (
	ActivityPlaying   ActivityType = 0
	ActivityListening ActivityType = 2
	ActivityWatching  ActivityType = 3
)

// Button represents a clickable button in a Discord Rich Presence activity.
type Button struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Timestamps bounds the progress bar shown under an activity, in Unix seconds.
type Timestamps struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

// Assets holds image keys and tooltip text for an activity.
type Assets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
	SmallImage string `json:"small_image,omitempty"`
	SmallText  string `json:"small_text,omitempty"`
}

// Activity represents a Discord Rich Presence activity.
type Activity struct {
	Type       ActivityType `json:"type"`
	Details    string       `json:"details,omitempty"`
	State      string       `json:"state,omitempty"`
	Timestamps *Timestamps  `json:"timestamps,omitempty"`
	Assets     *Assets      `json:"assets,omitempty"`
	Buttons    []Button     `json:"buttons,omitempty"`
}

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

const (
	// dialTimeout bounds each socket or pipe connection attempt.
	dialTimeout = 2 * time.Second
	// commandTimeout bounds the write and response read of one command.
	commandTimeout = 5 * time.Second
)

// Dialer opens a raw connection to the Discord IPC endpoint.
type Dialer func() (net.Conn, error)

// Client manages a connection to Discord's IPC socket.
type Client struct {
	appID string
	dial  Dialer

	// mu protects conn and nonce from concurrent access.
	mu    sync.Mutex
	conn  net.Conn
	nonce uint64
}

// NewClient creates a new Discord IPC client for the given application ID
// using platform socket discovery.
func NewClient(appID string) *Client {
	return NewClientWithDialer(appID, connectToDiscord)
}

// NewClientWithDialer creates a client that connects through dial.
func NewClientWithDialer(appID string, dial Dialer) *Client {
	return &Client{appID: appID, dial: dial}
}

// AppID returns the application ID sent in the handshake.
func (c *Client) AppID() string {
	return c.appID
}

// Connect establishes a connection to Discord via IPC and sends the handshake.
// Any existing connection is closed first.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropLocked()

	conn, err := c.dial()
	if err != nil {
		return err
	}
	c.conn = conn

	if err := c.handshake(); err != nil {
		c.dropLocked()
		return err
	}
	return nil
}

// SetActivity sends a SET_ACTIVITY command to Discord and waits for the
// acknowledgement.
func (c *Client) SetActivity(activity *Activity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sendCommand("SET_ACTIVITY", map[string]any{
		"pid":      os.Getpid(),
		"activity": activity,
	})
}

// ClearActivity sends a SET_ACTIVITY command with a nil activity.
func (c *Client) ClearActivity() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sendCommand("SET_ACTIVITY", map[string]any{
		"pid":      os.Getpid(),
		"activity": nil,
	})
}

// Close clears the activity and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	// Best-effort clear before closing.
	_ = c.sendCommand("SET_ACTIVITY", map[string]any{
		"pid":      os.Getpid(),
		"activity": nil,
	})

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Disconnect closes the connection without clearing the activity.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
}

// Connected reports whether the client has an active connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// dropLocked closes and forgets the current connection. The caller must hold c.mu.
func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// handshake sends the initial handshake frame to Discord and validates the
// response. The caller must hold c.mu.
func (c *Client) handshake() error {
	payload, err := json.Marshal(map[string]any{
		"v":         1,
		"client_id": c.appID,
	})
	if err != nil {
		return fmt.Errorf("marshaling handshake: %w", err)
	}

	_ = c.conn.SetDeadline(time.Now().Add(commandTimeout))
	defer c.conn.SetDeadline(time.Time{})

	if err := WriteFrame(c.conn, OpHandshake, payload); err != nil {
		return fmt.Errorf("writing handshake: %w", err)
	}

	opcode, respData, err := DecodeFrame(c.conn)
	if err != nil {
		return fmt.Errorf("reading handshake response: %w", err)
	}
	if opcode == OpClose {
		return fmt.Errorf("handshake rejected: %w: %s", ErrClosedByPeer, closeReason(respData))
	}
	if opcode != OpFrame {
		return fmt.Errorf("unexpected handshake response opcode: %d", opcode)
	}

	var resp response
	if err := json.Unmarshal(respData, &resp); err != nil {
		return fmt.Errorf("parsing handshake response: %w", err)
	}
	if resp.Evt == "ERROR" {
		return fmt.Errorf("handshake rejected: %s", resp.Data.Message)
	}
	return nil
}

// response is the subset of a command response frame the client inspects.
type response struct {
	Cmd   string `json:"cmd"`
	Evt   string `json:"evt"`
	Nonce string `json:"nonce"`
	Data  struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"data"`
}

// sendCommand writes a command frame and reads frames until the response
// carrying the same nonce arrives. Pings are answered inline. Any I/O failure
// or close frame drops the connection. The caller must hold c.mu.
func (c *Client) sendCommand(cmd string, args map[string]any) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	c.nonce++
	nonce := strconv.FormatUint(c.nonce, 10)

	payload, err := json.Marshal(map[string]any{
		"cmd":   cmd,
		"args":  args,
		"nonce": nonce,
	})
	if err != nil {
		return fmt.Errorf("marshaling command: %w", err)
	}

	_ = c.conn.SetDeadline(time.Now().Add(commandTimeout))
	if err := WriteFrame(c.conn, OpFrame, payload); err != nil {
		c.dropLocked()
		return fmt.Errorf("writing command: %w", err)
	}

	for {
		opcode, data, err := DecodeFrame(c.conn)
		if err != nil {
			c.dropLocked()
			return fmt.Errorf("reading %s response: %w", cmd, err)
		}

		switch opcode {
		case OpClose:
			c.dropLocked()
			return fmt.Errorf("%w: %s", ErrClosedByPeer, closeReason(data))
		case OpPing:
			if err := WriteFrame(c.conn, OpPong, data); err != nil {
				c.dropLocked()
				return fmt.Errorf("writing pong: %w", err)
			}
			continue
		case OpFrame:
		default:
			continue
		}

		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.dropLocked()
			return fmt.Errorf("parsing %s response: %w", cmd, err)
		}
		if resp.Nonce != nonce {
			continue
		}
		_ = c.conn.SetDeadline(time.Time{})
		if resp.Evt == "ERROR" {
			return &CommandError{Code: resp.Data.Code, Message: resp.Data.Message}
		}
		return nil
	}
}

// closeReason extracts the message from a close frame payload.
func closeReason(data []byte) string {
	var v struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &v); err != nil || v.Message == "" {
		return "no reason given"
	}
	return v.Message
}
