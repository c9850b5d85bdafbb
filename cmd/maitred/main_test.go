package main

import (
	"testing"
	"time"
)

// The documented invocation passes the idle timeout as bare seconds.
func TestIdleTimeoutFlagAcceptsSeconds(t *testing.T) {
	if err := rootCmd.ParseFlags([]string{
		"--transport", "webrtc",
		"--port", "8080",
		"--idle-timeout", "300",
	}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	if flagIdleTimeout != 300 {
		t.Fatalf("idle-timeout = %d, want 300", flagIdleTimeout)
	}
	if got := time.Duration(flagIdleTimeout) * time.Second; got != 5*time.Minute {
		t.Fatalf("idle timeout duration = %v, want 5m", got)
	}
	if flagTransport != "webrtc" {
		t.Fatalf("transport = %q, want webrtc", flagTransport)
	}
	if flagPort != 8080 {
		t.Fatalf("port = %d, want 8080", flagPort)
	}
}
