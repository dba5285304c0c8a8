// Tests for the [Client] type covering handshake, activity commands and their
// acknowledgements, nonce uniqueness, and connection teardown on failure.
package discord

import (
	"errors"
	"net"
	"os"
	"testing"

	"github.com/goccy/go-json"
)

// ///////////////////////////////////////////////
// Test Helpers
// ///////////////////////////////////////////////

// readFrame is a test helper that reads a single frame from a connection.
func readFrame(t *testing.T, conn net.Conn) (Opcode, map[string]any) {
	t.Helper()
	opcode, payload, err := DecodeFrame(conn)
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("failed to parse frame payload: %v", err)
	}
	return opcode, m
}

// writeJSONFrame writes v as a frame with the given opcode.
func writeJSONFrame(t *testing.T, conn net.Conn, op Opcode, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal frame: %v", err)
	}
	if err := WriteFrame(conn, op, payload); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
}

// writeReadyResponse writes a READY event response frame to the connection.
func writeReadyResponse(t *testing.T, conn net.Conn) {
	t.Helper()
	writeJSONFrame(t, conn, OpFrame, map[string]any{"cmd": "DISPATCH", "evt": "READY"})
}

// ack answers the command m with a success response.
func ack(t *testing.T, conn net.Conn, m map[string]any) {
	t.Helper()
	writeJSONFrame(t, conn, OpFrame, map[string]any{"cmd": m["cmd"], "evt": nil, "nonce": m["nonce"]})
}

// pipeClient returns a client wired to one end of a net.Pipe and the server end.
func pipeClient(t *testing.T) (*Client, net.Conn) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		serverConn.Close()
		clientConn.Close()
	})
	c := NewClient("test-app-id")
	c.conn = clientConn
	return c, serverConn
}

// ///////////////////////////////////////////////
// Client.Connect
// ///////////////////////////////////////////////

func TestClient_Connect_UsesDialer(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()

	c := NewClientWithDialer("app-42", func() (net.Conn, error) { return clientConn, nil })

	done := make(chan error, 1)
	go func() { done <- c.Connect() }()

	opcode, m := readFrame(t, serverConn)
	if opcode != OpHandshake {
		t.Fatalf("expected opcode %d (HANDSHAKE), got %d", OpHandshake, opcode)
	}
	if v, _ := m["v"].(float64); v != 1 {
		t.Fatalf("expected v=1, got %v", m["v"])
	}
	if m["client_id"] != "app-42" {
		t.Fatalf("expected client_id=app-42, got %v", m["client_id"])
	}
	writeReadyResponse(t, serverConn)

	if err := <-done; err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	if !c.Connected() {
		t.Fatal("expected Connected() after successful handshake")
	}
	if c.AppID() != "app-42" {
		t.Errorf("AppID() = %q", c.AppID())
	}
}

func TestClient_Connect_DialError(t *testing.T) {
	c := NewClientWithDialer("app", func() (net.Conn, error) { return nil, ErrIPCNotAvailable })
	if err := c.Connect(); !errors.Is(err, ErrIPCNotAvailable) {
		t.Fatalf("expected ErrIPCNotAvailable, got %v", err)
	}
	if c.Connected() {
		t.Fatal("client should not be connected after dial failure")
	}
}

func TestClient_Connect_ClosesOldConnection(t *testing.T) {
	oldServer, oldClient := net.Pipe()
	defer oldServer.Close()

	c := NewClientWithDialer("app", func() (net.Conn, error) { return nil, ErrIPCNotAvailable })
	c.conn = oldClient

	_ = c.Connect()

	if _, err := oldClient.Write([]byte("test")); err == nil {
		t.Error("expected old connection to be closed, but write succeeded")
	}
}

func TestClient_Connect_HandshakeRejected(t *testing.T) {
	tests := []struct {
		name  string
		reply func(t *testing.T, conn net.Conn)
	}{
		{"error event", func(t *testing.T, conn net.Conn) {
			writeJSONFrame(t, conn, OpFrame, map[string]any{
				"cmd": "DISPATCH", "evt": "ERROR",
				"data": map[string]any{"code": 4000, "message": "Invalid Client ID"},
			})
		}},
		{"close frame", func(t *testing.T, conn net.Conn) {
			writeJSONFrame(t, conn, OpClose, map[string]any{"code": 4000, "message": "Invalid Client ID"})
		}},
		{"hang up", func(t *testing.T, conn net.Conn) { conn.Close() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serverConn, clientConn := net.Pipe()
			defer serverConn.Close()

			c := NewClientWithDialer("bad", func() (net.Conn, error) { return clientConn, nil })
			done := make(chan error, 1)
			go func() { done <- c.Connect() }()

			readFrame(t, serverConn)
			tt.reply(t, serverConn)

			if err := <-done; err == nil {
				t.Fatal("expected handshake error")
			}
			if c.Connected() {
				t.Fatal("connection should be dropped after a rejected handshake")
			}
		})
	}
}

// ///////////////////////////////////////////////
// Client.SetActivity
// ///////////////////////////////////////////////

func TestClient_SetActivity(t *testing.T) {
	c, serverConn := pipeClient(t)

	activity := &Activity{
		Type:       ActivityWatching,
		Details:    "Arrival",
		State:      "Playing",
		Timestamps: &Timestamps{Start: 1000, End: 7600},
		Assets:     &Assets{LargeImage: "plex_logo", SmallImage: "playing_icon", SmallText: "Playing"},
		Buttons:    []Button{{Label: "Get PlexRPC", URL: "https://example.com"}},
	}

	done := make(chan error, 1)
	go func() { done <- c.SetActivity(activity) }()

	opcode, m := readFrame(t, serverConn)
	if opcode != OpFrame {
		t.Fatalf("expected opcode %d (FRAME), got %d", OpFrame, opcode)
	}
	if m["cmd"] != "SET_ACTIVITY" {
		t.Fatalf("expected cmd=SET_ACTIVITY, got %v", m["cmd"])
	}
	if nonce, _ := m["nonce"].(string); nonce == "" {
		t.Fatalf("expected non-empty nonce, got %v", m["nonce"])
	}

	args := m["args"].(map[string]any)
	if pid, _ := args["pid"].(float64); int(pid) != os.Getpid() {
		t.Fatalf("expected pid=%d, got %v", os.Getpid(), args["pid"])
	}
	act := args["activity"].(map[string]any)
	if act["details"] != "Arrival" || act["state"] != "Playing" {
		t.Fatalf("unexpected lines: %v", act)
	}
	if typ, _ := act["type"].(float64); ActivityType(typ) != ActivityWatching {
		t.Fatalf("expected type=%d, got %v", ActivityWatching, act["type"])
	}
	ts := act["timestamps"].(map[string]any)
	if ts["start"] != float64(1000) || ts["end"] != float64(7600) {
		t.Fatalf("unexpected timestamps: %v", ts)
	}
	if buttons, _ := act["buttons"].([]any); len(buttons) != 1 {
		t.Fatalf("expected 1 button, got %v", act["buttons"])
	}

	ack(t, serverConn, m)
	if err := <-done; err != nil {
		t.Fatalf("SetActivity returned error: %v", err)
	}
	if !c.Connected() {
		t.Fatal("connection should survive a successful command")
	}
}

func TestClient_SetActivity_ErrorEvent(t *testing.T) {
	c, serverConn := pipeClient(t)

	done := make(chan error, 1)
	go func() { done <- c.SetActivity(&Activity{Details: "x"}) }()

	_, m := readFrame(t, serverConn)
	writeJSONFrame(t, serverConn, OpFrame, map[string]any{
		"cmd": "SET_ACTIVITY", "evt": "ERROR", "nonce": m["nonce"],
		"data": map[string]any{"code": 4000, "message": "child \"activity\" fails"},
	})

	err := <-done
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %v", err)
	}
	if cmdErr.Code != 4000 {
		t.Errorf("Code = %d, want 4000", cmdErr.Code)
	}
	if !c.Connected() {
		t.Error("a rejected payload should not drop the connection")
	}
}

func TestClient_SetActivity_SkipsUnrelatedFrames(t *testing.T) {
	c, serverConn := pipeClient(t)

	done := make(chan error, 1)
	go func() { done <- c.SetActivity(&Activity{Details: "x"}) }()

	_, m := readFrame(t, serverConn)

	// A ping must be echoed before the client keeps waiting.
	if err := WriteFrame(serverConn, OpPing, []byte(`{"p":1}`)); err != nil {
		t.Fatal(err)
	}
	op, pong := readFrame(t, serverConn)
	if op != OpPong || pong["p"] != float64(1) {
		t.Fatalf("expected pong echo, got op=%d %v", op, pong)
	}

	// A stale response with another nonce is ignored.
	writeJSONFrame(t, serverConn, OpFrame, map[string]any{"cmd": "SET_ACTIVITY", "nonce": "stale", "evt": "ERROR"})
	ack(t, serverConn, m)

	if err := <-done; err != nil {
		t.Fatalf("SetActivity returned error: %v", err)
	}
}

func TestClient_SetActivity_DropsConnection(t *testing.T) {
	tests := []struct {
		name   string
		reply  func(t *testing.T, conn net.Conn)
		wantIs error
	}{
		{"close frame", func(t *testing.T, conn net.Conn) {
			writeJSONFrame(t, conn, OpClose, map[string]any{"code": 1000, "message": "bye"})
		}, ErrClosedByPeer},
		{"hang up", func(t *testing.T, conn net.Conn) { conn.Close() }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, serverConn := pipeClient(t)

			done := make(chan error, 1)
			go func() { done <- c.SetActivity(&Activity{Details: "x"}) }()

			readFrame(t, serverConn)
			tt.reply(t, serverConn)

			err := <-done
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want %v", err, tt.wantIs)
			}
			if c.Connected() {
				t.Error("connection should be dropped")
			}
			if err := c.SetActivity(&Activity{}); !errors.Is(err, ErrNotConnected) {
				t.Errorf("next command = %v, want ErrNotConnected", err)
			}
		})
	}
}

// ///////////////////////////////////////////////
// Client.ClearActivity
// ///////////////////////////////////////////////

func TestClient_ClearActivity(t *testing.T) {
	c, serverConn := pipeClient(t)

	done := make(chan error, 1)
	go func() { done <- c.ClearActivity() }()

	_, m := readFrame(t, serverConn)
	args := m["args"].(map[string]any)
	if act, present := args["activity"]; !present || act != nil {
		t.Fatalf("expected explicit null activity, got %v", args["activity"])
	}
	ack(t, serverConn, m)

	if err := <-done; err != nil {
		t.Fatalf("ClearActivity returned error: %v", err)
	}
}

// ///////////////////////////////////////////////
// Client Nonce Uniqueness
// ///////////////////////////////////////////////

func TestClient_NonceUniqueness(t *testing.T) {
	c, serverConn := pipeClient(t)
	nonces := make(map[string]bool)

	for i := range 5 {
		done := make(chan error, 1)
		go func() { done <- c.SetActivity(&Activity{Details: "test"}) }()

		_, m := readFrame(t, serverConn)
		nonce := m["nonce"].(string)
		if nonces[nonce] {
			t.Fatalf("duplicate nonce on call %d: %s", i, nonce)
		}
		nonces[nonce] = true
		ack(t, serverConn, m)

		if err := <-done; err != nil {
			t.Fatalf("SetActivity call %d returned error: %v", i, err)
		}
	}
}

// ///////////////////////////////////////////////
// Client.Close
// ///////////////////////////////////////////////

func TestClient_Close_NilConnection(t *testing.T) {
	c := NewClient("test-app-id")
	if err := c.Close(); err != nil {
		t.Fatalf("Close on nil connection should return nil, got: %v", err)
	}
}

func TestClient_Close_ClearsFirst(t *testing.T) {
	c, serverConn := pipeClient(t)

	done := make(chan error, 1)
	go func() { done <- c.Close() }()

	_, m := readFrame(t, serverConn)
	args := m["args"].(map[string]any)
	if args["activity"] != nil {
		t.Fatalf("expected clear before close, got %v", args["activity"])
	}
	ack(t, serverConn, m)

	if err := <-done; err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if c.Connected() {
		t.Fatal("expected disconnected after Close")
	}
}

func TestClient_SendCommand_NotConnected(t *testing.T) {
	c := NewClient("test-app-id")
	err := c.sendCommand("SET_ACTIVITY", map[string]any{"pid": 1})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got: %v", err)
	}
}

func TestClient_Disconnect_SendsNothing(t *testing.T) {
	c, server := pipeClient(t)

	c.Disconnect()

	if c.Connected() {
		t.Fatal("expected Connected() false after Disconnect")
	}
	// The pipe is closed without a clear frame being written.
	if _, _, err := DecodeFrame(server); err == nil {
		t.Fatal("expected the server end to observe a closed pipe")
	}
}
