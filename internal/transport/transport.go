// Package transport carries caller audio in and reply audio out over the
// supported call legs. Every Conn is full duplex PCM16LE mono at 16kHz; the
// codec and rate juggling each leg needs stays inside its implementation.
package transport

import (
	"context"
	"fmt"
)

const (
	KindWebRTC = "webrtc"
	KindDaily  = "daily"
	KindTwilio = "twilio"
)

// Conn is one live caller connection.
type Conn interface {
	// ReadAudio blocks for the next chunk of caller audio. It returns io.EOF
	// once the caller side has disconnected.
	ReadAudio(ctx context.Context) ([]byte, error)
	// WriteAudio sends synthesized reply audio toward the caller.
	WriteAudio(ctx context.Context, pcm []byte) error
	Close() error
}

// Error marks a session-scoped transport failure. It ends the session it
// belongs to and never crashes the process.
type Error struct {
	Transport string
	Op        string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %s: %v", e.Transport, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(transport, op string, err error) *Error {
	return &Error{Transport: transport, Op: op, Err: err}
}

// SampleRate is the PCM rate every Conn speaks on its Go-facing side.
const SampleRate = 16000
