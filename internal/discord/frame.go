package discord

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ///////////////////////////////////////////////
// Wire Format
// ///////////////////////////////////////////////

// Opcode tags every frame on the IPC socket.
type Opcode uint32

const (
	OpHandshake Opcode = iota // first frame, carries client_id
	OpFrame                   // JSON command or event
	OpClose                   // peer is hanging up
	OpPing                    // echo request
	OpPong                    // echo reply
)

const (
	// Header is opcode then payload length, both uint32 little-endian.
	frameHeaderSize = 8

	// MaxPayloadSize bounds a single frame payload in either direction.
	MaxPayloadSize = 1 << 20

	// Discord listens on discord-ipc-0 through discord-ipc-9.
	maxIPCSlots = 10
)

var (
	// ErrPayloadTooLarge reports a frame over MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrIPCNotAvailable is returned when no IPC slot accepts a connection.
	ErrIPCNotAvailable = errors.New("discord IPC not available")
)

func checkSize(n int) error {
	if n > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, n, MaxPayloadSize)
	}
	return nil
}

// ///////////////////////////////////////////////
// Encode / Decode
// ///////////////////////////////////////////////

// EncodeFrame returns the header and payload as one buffer.
func EncodeFrame(op Opcode, payload []byte) ([]byte, error) {
	if err := checkSize(len(payload)); err != nil {
		return nil, err
	}
	buf := make([]byte, frameHeaderSize, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(op))
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(payload)))
	return append(buf, payload...), nil
}

// WriteFrame sends one frame in a single Write.
func WriteFrame(w io.Writer, op Opcode, payload []byte) error {
	buf, err := EncodeFrame(op, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// DecodeFrame reads exactly one frame from r.
func DecodeFrame(r io.Reader) (Opcode, []byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, fmt.Errorf("read frame header: %w", err)
	}
	op := Opcode(binary.LittleEndian.Uint32(hdr[:4]))
	n := binary.LittleEndian.Uint32(hdr[4:])
	if n > MaxPayloadSize {
		return 0, nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, n, MaxPayloadSize)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read frame payload: %w", err)
	}
	return op, payload, nil
}
