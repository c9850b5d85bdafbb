package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ymansouri/maitred/internal/reliability"
)

type ElevenLabsConfig struct {
	APIKey       string
	WSBaseURL    string
	OutputFormat string
}

// ElevenLabsProvider streams synthesis over the stream-input websocket.
type ElevenLabsProvider struct {
	cfg ElevenLabsConfig
}

func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "pcm_16000"
	}
	return &ElevenLabsProvider{cfg: cfg}
}

func (p *ElevenLabsProvider) StartStream(ctx context.Context, voiceID, modelID string, settings TTSSettings) (TTSStream, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, fmt.Errorf("voice_id is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "eleven_multilingual_v2"
	}

	stability := clamp01(settings.Stability, 0.65)
	similarity := clamp01(settings.SimilarityBoost, 0.60)

	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", modelID)
	q.Set("output_format", p.cfg.OutputFormat)
	q.Set("auto_mode", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, reliability.NewProviderError("tts", "connect_failed", true, err)
	}

	s := &elevenTTSStream{
		conn:   conn,
		format: p.cfg.OutputFormat,
		events: make(chan TTSEvent, 512),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	// Prime the stream as documented for TTS websocket flows.
	_ = s.writeJSON(map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        stability,
			"similarity_boost": similarity,
		},
	})
	return s, nil
}

func clamp01(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	if v > 1 {
		return 1
	}
	return v
}

type elevenTTSStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	format    string

	// events is closed by readLoop alone, after it has stopped sending.
	// done unblocks an emit in flight when Close races the read loop.
	events chan TTSEvent
	done   chan struct{}
}

func (s *elevenTTSStream) SendText(_ context.Context, text string, tryTrigger bool) error {
	return s.writeJSON(map[string]any{
		"text":                   text,
		"try_trigger_generation": tryTrigger,
	})
}

func (s *elevenTTSStream) CloseInput(_ context.Context) error {
	return s.writeJSON(map[string]any{"text": ""})
}

func (s *elevenTTSStream) Events() <-chan TTSEvent { return s.events }

func (s *elevenTTSStream) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		retErr = s.conn.Close()
	})
	return retErr
}

// emit delivers an event unless the stream is being torn down.
func (s *elevenTTSStream) emit(ev TTSEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *elevenTTSStream) writeJSON(payload map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

func (s *elevenTTSStream) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}

		if audioB64, _ := raw["audio"].(string); audioB64 != "" {
			chunk, err := base64.StdEncoding.DecodeString(audioB64)
			if err == nil && len(chunk) > 0 {
				s.emit(TTSEvent{Type: TTSEventAudio, Audio: chunk, Format: s.format})
			}
		}
		if isFinal(raw) {
			s.emit(TTSEvent{Type: TTSEventFinal})
		}
		if errMsg, _ := raw["error"].(string); errMsg != "" {
			code, _ := raw["message_type"].(string)
			s.emit(TTSEvent{
				Type:      TTSEventError,
				Code:      code,
				Detail:    errMsg,
				Retryable: reliability.IsRetryableRealtimeMessageType(code),
			})
		}
	}
}

func isFinal(raw map[string]any) bool {
	if b, ok := raw["isFinal"].(bool); ok && b {
		return true
	}
	if b, ok := raw["is_final"].(bool); ok && b {
		return true
	}
	return false
}

var _ TTSProvider = (*ElevenLabsProvider)(nil)
