package transport

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ymansouri/maitred/internal/audio"
)

func TestStreamTwiML(t *testing.T) {
	out, err := StreamTwiML("wss://example.com/twilio/media")
	if err != nil {
		t.Fatalf("StreamTwiML() error = %v", err)
	}
	if !strings.Contains(out, "<Connect>") {
		t.Errorf("missing Connect verb: %s", out)
	}
	if !strings.Contains(out, "wss://example.com/twilio/media") {
		t.Errorf("missing stream url: %s", out)
	}
}

func TestValidateTwilioSignature(t *testing.T) {
	authToken := "secret-token"
	fullURL := "https://bot.example.com/twilio/voice"
	params := map[string]string{
		"CallSid": "CA123",
		"From":    "+15551234567",
	}

	data := fullURL + "CallSidCA123From+15551234567"
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(data))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !ValidateTwilioSignature(authToken, signature, fullURL, params) {
		t.Fatal("valid signature rejected")
	}
	if ValidateTwilioSignature(authToken, "bogus", fullURL, params) {
		t.Fatal("bogus signature accepted")
	}
	if ValidateTwilioSignature("", signature, fullURL, params) {
		t.Fatal("empty auth token accepted")
	}
}

func TestTwilioConnMediaRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan twilioMessage, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()

		mulaw := audio.PCM16ToMulaw(make([]int16, 160))
		start := twilioMessage{
			Event: "start",
			Start: &twilioStart{StreamSid: "MZ123", CallSid: "CA123"},
		}
		media := twilioMessage{
			Event: "media",
			Media: &twilioMedia{Payload: base64.StdEncoding.EncodeToString(mulaw)},
		}
		if err := ws.WriteJSON(start); err != nil {
			return
		}
		if err := ws.WriteJSON(media); err != nil {
			return
		}

		var out twilioMessage
		if err := ws.ReadJSON(&out); err != nil {
			return
		}
		received <- out

		stop := twilioMessage{Event: "stop"}
		_ = ws.WriteJSON(stop)
	}))
	defer srv.Close()

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1)
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn := NewTwilioConn(ws)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pcm, err := conn.ReadAudio(ctx)
	if err != nil {
		t.Fatalf("ReadAudio() error = %v", err)
	}
	// 160 mu-law samples at 8kHz upsample to 320 16-bit samples.
	if len(pcm) != 640 {
		t.Fatalf("caller audio length = %d, want 640", len(pcm))
	}
	if conn.CallSid() != "CA123" {
		t.Fatalf("call sid = %q", conn.CallSid())
	}

	if err := conn.WriteAudio(ctx, make([]byte, 640)); err != nil {
		t.Fatalf("WriteAudio() error = %v", err)
	}
	select {
	case msg := <-received:
		if msg.Event != "media" || msg.StreamSid != "MZ123" {
			t.Fatalf("outbound message = %+v", msg)
		}
		payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if len(payload) != 160 {
			t.Fatalf("mu-law payload length = %d, want 160", len(payload))
		}
	case <-ctx.Done():
		t.Fatal("server never received media")
	}

	if _, err := conn.ReadAudio(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadAudio() after stop = %v, want io.EOF", err)
	}
}

func TestMockConnLifecycle(t *testing.T) {
	conn := NewMockConn()
	conn.PushCallerAudio([]byte{1, 2, 3, 4})

	ctx := context.Background()
	pcm, err := conn.ReadAudio(ctx)
	if err != nil {
		t.Fatalf("ReadAudio() error = %v", err)
	}
	if len(pcm) != 4 {
		t.Fatalf("audio length = %d", len(pcm))
	}

	if err := conn.WriteAudio(ctx, []byte{9, 9}); err != nil {
		t.Fatalf("WriteAudio() error = %v", err)
	}
	select {
	case out := <-conn.ReplyAudio():
		if len(out) != 2 {
			t.Fatalf("reply length = %d", len(out))
		}
	default:
		t.Fatal("reply audio missing")
	}

	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.ReadAudio(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadAudio() after close = %v, want io.EOF", err)
	}
}
