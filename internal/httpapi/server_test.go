package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ymansouri/maitred/internal/config"
	"github.com/ymansouri/maitred/internal/session"
	"github.com/ymansouri/maitred/internal/transcript"
	"github.com/ymansouri/maitred/internal/transport"
)

type nopRunner struct{}

func (nopRunner) RunConn(ctx context.Context, conn transport.Conn) error {
	<-ctx.Done()
	return nil
}

func newTestServer(cfg config.Config) (*Server, *session.Manager, transcript.Store) {
	sessions := session.NewManager(time.Minute)
	store := transcript.NewInMemoryStore()
	return New(cfg, sessions, store, nopRunner{}), sessions, store
}

func TestHealthAndReady(t *testing.T) {
	srv, _, _ := newTestServer(config.Config{Transport: "webrtc"})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, res.StatusCode)
		}
		res.Body.Close()
	}
}

func TestGetSession(t *testing.T) {
	srv, sessions, _ := newTestServer(config.Config{Transport: "webrtc"})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/sessions/unknown")
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session status = %d", res.StatusCode)
	}
	res.Body.Close()

	s := sessions.Create("webrtc")
	res, err = http.Get(ts.URL + "/v1/sessions/" + s.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("session status = %d", res.StatusCode)
	}
	var got session.Session
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID != s.ID || got.State != session.StateIdle {
		t.Fatalf("session = %+v", got)
	}
}

func TestGetTranscript(t *testing.T) {
	srv, sessions, store := newTestServer(config.Config{Transport: "webrtc"})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	s := sessions.Create("webrtc")
	err := store.SaveExchange(context.Background(), transcript.ExchangeRecord{
		SessionID:     s.ID,
		UserText:      "أريد برجر",
		AssistantText: "تمام",
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := http.Get(ts.URL + "/v1/sessions/" + s.ID + "/transcript")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transcript status = %d", res.StatusCode)
	}
	var body struct {
		SessionID string                      `json:"session_id"`
		Exchanges []transcript.ExchangeRecord `json:"exchanges"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Exchanges) != 1 || body.Exchanges[0].UserText != "أريد برجر" {
		t.Fatalf("exchanges = %+v", body.Exchanges)
	}
}

func TestTwilioVoiceRejectsUnsigned(t *testing.T) {
	srv, _, _ := newTestServer(config.Config{
		Transport:       "twilio",
		TwilioAuthToken: "secret",
	})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/twilio/voice", "application/x-www-form-urlencoded",
		strings.NewReader("CallSid=CA1&From=%2B15551234567"))
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unsigned webhook status = %d", res.StatusCode)
	}
}

func TestTwilioVoiceSignedReturnsStreamTwiML(t *testing.T) {
	authToken := "secret"
	srv, _, _ := newTestServer(config.Config{
		Transport:       "twilio",
		TwilioAuthToken: authToken,
	})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	form := url.Values{}
	form.Set("CallSid", "CA1")
	form.Set("From", "+15551234567")

	host := strings.TrimPrefix(ts.URL, "http://")
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/twilio/voice", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", signTwilio(authToken, "https://"+host+"/twilio/voice", form))

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("signed webhook status = %d", res.StatusCode)
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, res.Body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sb.String(), "<Connect>") || !strings.Contains(sb.String(), "/twilio/media") {
		t.Fatalf("twiml = %s", sb.String())
	}
}

func TestWebRTCOfferRejectsInvalid(t *testing.T) {
	srv, _, _ := newTestServer(config.Config{Transport: "webrtc"})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/v1/webrtc/offer", "application/json",
		strings.NewReader(`{"type":"answer","sdp":""}`))
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid offer status = %d", res.StatusCode)
	}
}

func signTwilio(authToken, fullURL string, form url.Values) string {
	data := fullURL
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
