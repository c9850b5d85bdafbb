// Package session tracks the lifecycle of each caller conversation from
// first contact through teardown. A session moves strictly forward through
// its states; the manager enforces the allowed transitions and expires
// sessions that stay silent past the idle timeout.
package session

import (
	"errors"
	"time"
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// Close reasons recorded when a session leaves the active state.
const (
	ReasonCallerHangup = "caller_hangup"
	ReasonIdleTimeout  = "idle_timeout"
	ReasonTransport    = "transport_error"
	ReasonShutdown     = "server_shutdown"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session state transition")
)

type Session struct {
	ID             string    `json:"session_id"`
	Transport      string    `json:"transport"`
	State          State     `json:"state"`
	CloseReason    string    `json:"close_reason,omitempty"`
	TurnCount      int       `json:"turn_count"`
	StartedAt      time.Time `json:"started_at"`
	ConnectedAt    time.Time `json:"connected_at"`
	ClosedAt       time.Time `json:"closed_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// validNext holds the only transitions the state machine permits. Closing
// from any live state is allowed so hangups and errors can interrupt setup.
var validNext = map[State][]State{
	StateIdle:       {StateConnecting, StateClosing},
	StateConnecting: {StateActive, StateClosing},
	StateActive:     {StateClosing},
	StateClosing:    {StateClosed},
	StateClosed:     {},
}

func canTransition(from, to State) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}
