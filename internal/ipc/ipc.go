// Package ipc implements the length-prefixed JSON protocol spoken between
// the daemon and the CLI over a Unix domain socket, replacing the
// teacher's Twirp/protobuf-over-HTTP transport.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameSize bounds a single request/response body, guarding a
// misbehaving peer from driving an unbounded allocation.
const maxFrameSize = 16 << 20

// Request is the client->server envelope: a command name plus
// command-specific parameters.
type Request struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response is the server->client envelope. Error is non-empty exactly
// when the command failed; Data carries the command's result otherwise.
type Response struct {
	Command string `json:"command"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WriteFrame marshals v to JSON and writes it prefixed with its length as
// a 32-bit big-endian unsigned integer.
func WriteFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(body))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON frame and unmarshals it into v.
func ReadFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("read frame body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}
	return nil
}
