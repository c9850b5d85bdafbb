package voice

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Closing a stream whose events channel nobody drains must not panic the
// read loop, even when the server floods audio past the channel buffer.
func TestElevenLabsCloseWhileEventsUndrained(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil { // priming message
			return
		}
		chunk := base64.StdEncoding.EncodeToString(make([]byte, 320))
		for i := 0; i < 600; i++ {
			_ = conn.WriteJSON(map[string]any{"audio": chunk})
		}
		_ = conn.WriteJSON(map[string]any{"isFinal": true})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "test", WSBaseURL: wsURL(srv.URL)})
	stream, err := p.StartStream(context.Background(), "voice-1", "", TTSSettings{})
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}

	// Let the read loop fill the buffer and block on a send.
	time.Sleep(100 * time.Millisecond)
	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-stream.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed after Close")
		}
	}
}
