// Package httpapi exposes the service surface: health probes, metrics, the
// WebRTC signaling endpoint, and the Twilio voice webhook plus media stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ymansouri/maitred/internal/config"
	"github.com/ymansouri/maitred/internal/observability"
	"github.com/ymansouri/maitred/internal/session"
	"github.com/ymansouri/maitred/internal/transcript"
	"github.com/ymansouri/maitred/internal/transport"
)

// ConnRunner drives one caller connection through the turn pipeline.
type ConnRunner interface {
	RunConn(ctx context.Context, conn transport.Conn) error
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	store    transcript.Store
	runner   ConnRunner
	webrtc   *transport.WebRTC
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, store transcript.Store, runner ConnRunner) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		store:    store,
		runner:   runner,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections may open a media
				// websocket unless explicitly configured otherwise. Telephony
				// backends omit Origin and pass.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	s.webrtc = transport.NewWebRTC(nil, func(conn transport.Conn) {
		go func() { _ = runner.RunConn(context.Background(), conn) }()
	})
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Get("/v1/sessions/{id}/transcript", s.handleGetTranscript)

	switch s.cfg.Transport {
	case transport.KindWebRTC:
		r.Post("/v1/webrtc/offer", s.handleWebRTCOffer)
	case transport.KindTwilio:
		r.Post("/twilio/voice", s.handleTwilioVoice)
		r.Get("/twilio/media", s.handleTwilioMedia)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"transport": s.cfg.Transport,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"transport":       s.cfg.Transport,
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	recs, err := s.store.SessionExchanges(r.Context(), id, 200)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "transcript_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"exchanges":  recs,
	})
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	var offer transport.SessionDescription
	if err := decodeJSON(r, &offer); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	answer, err := s.webrtc.HandleOffer(r.Context(), offer)
	if err != nil {
		respondError(w, http.StatusBadRequest, "offer_rejected", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, answer)
}

func (s *Server) handleTwilioVoice(w http.ResponseWriter, r *http.Request) {
	params, ok := s.verifiedTwilioParams(w, r)
	if !ok {
		return
	}

	log.Printf("twilio call %s from %s", params["CallSid"], params["From"])

	wsURL := fmt.Sprintf("wss://%s/twilio/media", r.Host)
	out, err := transport.StreamTwiML(wsURL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "twiml_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

func (s *Server) handleTwilioMedia(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := transport.NewTwilioConn(ws)
	go func() { _ = s.runner.RunConn(context.Background(), conn) }()
}

func (s *Server) verifiedTwilioParams(w http.ResponseWriter, r *http.Request) (map[string]string, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "unreadable body")
		return nil, false
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "malformed form data")
		return nil, false
	}
	params := make(map[string]string, len(form))
	for key, values := range form {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	signature := r.Header.Get("X-Twilio-Signature")
	requestURL := fmt.Sprintf("https://%s%s", r.Host, r.URL.Path)
	if !transport.ValidateTwilioSignature(s.cfg.TwilioAuthToken, signature, requestURL, params) {
		respondError(w, http.StatusUnauthorized, "invalid_signature", "twilio signature check failed")
		return nil, false
	}
	return params, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
