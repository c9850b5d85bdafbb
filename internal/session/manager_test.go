package session

import (
	"errors"
	"testing"
	"time"
)

func TestManagerLifecycle(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("webrtc")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}
	if s.State != StateIdle {
		t.Fatalf("new session state = %q, want %q", s.State, StateIdle)
	}

	if err := m.MarkConnecting(s.ID); err != nil {
		t.Fatalf("MarkConnecting() error = %v", err)
	}
	if err := m.Activate(s.ID); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State != StateActive || got.ConnectedAt.IsZero() {
		t.Fatalf("unexpected session state: %+v", got)
	}

	if err := m.BeginClose(s.ID, ReasonCallerHangup); err != nil {
		t.Fatalf("BeginClose() error = %v", err)
	}
	closed, err := m.MarkClosed(s.ID)
	if err != nil {
		t.Fatalf("MarkClosed() error = %v", err)
	}
	if closed.State != StateClosed || closed.CloseReason != ReasonCallerHangup {
		t.Fatalf("closed session = %+v", closed)
	}
}

func TestManagerRejectsSkippedStates(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("webrtc")

	if err := m.Activate(s.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Activate() from idle error = %v, want ErrInvalidTransition", err)
	}
	if _, err := m.MarkClosed(s.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("MarkClosed() from idle error = %v, want ErrInvalidTransition", err)
	}
}

func TestManagerBeginCloseIdempotent(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("twilio")
	if err := m.MarkConnecting(s.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.Activate(s.ID); err != nil {
		t.Fatal(err)
	}

	if err := m.BeginClose(s.ID, ReasonTransport); err != nil {
		t.Fatalf("BeginClose() error = %v", err)
	}
	// Second close keeps the first reason.
	if err := m.BeginClose(s.ID, ReasonCallerHangup); err != nil {
		t.Fatalf("second BeginClose() error = %v", err)
	}
	got, _ := m.Get(s.ID)
	if got.CloseReason != ReasonTransport {
		t.Fatalf("close reason = %q, want %q", got.CloseReason, ReasonTransport)
	}
}

func TestManagerJanitorExpiresIdleSessions(t *testing.T) {
	m := NewManager(20 * time.Millisecond)
	s := m.Create("daily")
	if err := m.MarkConnecting(s.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.Activate(s.ID); err != nil {
		t.Fatal(err)
	}

	expired := make(chan *Session, 1)
	m.SetIdleHook(func(sess *Session) {
		expired <- sess
	})

	time.Sleep(40 * time.Millisecond)
	m.expireIdle()

	select {
	case sess := <-expired:
		if sess.State != StateClosing || sess.CloseReason != ReasonIdleTimeout {
			t.Fatalf("expired session = %+v", sess)
		}
	default:
		t.Fatal("expected idle hook to fire")
	}
}

func TestManagerTouchResetsIdleClock(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create("webrtc")
	if err := m.MarkConnecting(s.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.Activate(s.ID); err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := m.Touch(s.ID); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	m.expireIdle()

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State != StateActive {
		t.Fatalf("touched session state = %q, want active", got.State)
	}
}

func TestManagerActiveCount(t *testing.T) {
	m := NewManager(time.Minute)
	a := m.Create("webrtc")
	b := m.Create("twilio")
	for _, id := range []string{a.ID, b.ID} {
		if err := m.MarkConnecting(id); err != nil {
			t.Fatal(err)
		}
		if err := m.Activate(id); err != nil {
			t.Fatal(err)
		}
	}
	if got := m.ActiveCount(); got != 2 {
		t.Fatalf("ActiveCount() = %d, want 2", got)
	}
	if err := m.BeginClose(a.ID, ReasonShutdown); err != nil {
		t.Fatal(err)
	}
	if got := m.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() after close = %d, want 1", got)
	}
}
