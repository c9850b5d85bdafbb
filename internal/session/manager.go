package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	onIdle      func(*Session)
}

func NewManager(idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
	}
}

// SetIdleHook registers the callback invoked when the janitor moves an
// active session to closing. The hook runs outside the manager lock.
func (m *Manager) SetIdleHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onIdle = hook
}

func (m *Manager) Create(transport string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		Transport:      transport,
		State:          StateIdle,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Touch resets the idle clock. Called for every recognized caller or
// assistant event so silence is measured from the last real activity.
func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) MarkConnecting(sessionID string) error {
	return m.transition(sessionID, StateConnecting, "")
}

func (m *Manager) Activate(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if !canTransition(s.State, StateActive) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, StateActive)
	}
	now := time.Now().UTC()
	s.State = StateActive
	s.ConnectedAt = now
	s.LastActivityAt = now
	return nil
}

// BeginClose moves a live session to closing and records why. Calling it
// on a session already closing or closed is a no-op so concurrent hangup
// and timeout paths do not race each other.
func (m *Manager) BeginClose(sessionID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.State == StateClosing || s.State == StateClosed {
		return nil
	}
	if !canTransition(s.State, StateClosing) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, StateClosing)
	}
	s.State = StateClosing
	s.CloseReason = reason
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) MarkClosed(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.State == StateClosed {
		return clone(s), nil
	}
	if !canTransition(s.State, StateClosed) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, StateClosed)
	}
	now := time.Now().UTC()
	s.State = StateClosed
	s.ClosedAt = now
	s.LastActivityAt = now
	return clone(s), nil
}

func (m *Manager) RecordTurn(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.TurnCount++
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// Remove drops a closed session from the registry.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// IDs lists every registered session.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.State == StateActive {
			count++
		}
	}
	return count
}

// StartJanitor expires silent sessions in the background until ctx ends.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireIdle()
			}
		}
	}()
}

func (m *Manager) expireIdle() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.State != StateActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.idleTimeout {
			continue
		}
		s.State = StateClosing
		s.CloseReason = ReasonIdleTimeout
		s.LastActivityAt = now
		expired = append(expired, clone(s))
	}
	hook := m.onIdle
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func (m *Manager) transition(sessionID string, to State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if !canTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	s.State = to
	if reason != "" {
		s.CloseReason = reason
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
