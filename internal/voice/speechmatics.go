package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ymansouri/maitred/internal/reliability"
)

// SpeechmaticsConfig carries the account-level settings; per-session
// recognition settings arrive through STTConfig.
type SpeechmaticsConfig struct {
	APIKey    string
	WSBaseURL string
}

// SpeechmaticsProvider speaks the Speechmatics realtime v2 websocket
// protocol. Each session is one recognition stream; the provider performs
// end-of-utterance segmentation server-side and we aggregate final results
// between EndOfUtterance boundaries into committed utterances.
type SpeechmaticsProvider struct {
	cfg SpeechmaticsConfig
}

func NewSpeechmaticsProvider(cfg SpeechmaticsConfig) *SpeechmaticsProvider {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://eu2.rt.speechmatics.com"
	}
	return &SpeechmaticsProvider{cfg: cfg}
}

func (p *SpeechmaticsProvider) StartSession(ctx context.Context, _ string, cfg STTConfig) (STTSession, <-chan STTEvent, error) {
	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v2")
	if err != nil {
		return nil, nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, nil, reliability.NewProviderError("stt", "connect_failed", true, err)
	}

	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "ar"
	}
	if cfg.EndOfUtteranceSilence <= 0 {
		cfg.EndOfUtteranceSilence = 500 * time.Millisecond
	}

	start := map[string]any{
		"message": "StartRecognition",
		"audio_format": map[string]any{
			"type":        "raw",
			"encoding":    "pcm_s16le",
			"sample_rate": cfg.SampleRate,
		},
		"transcription_config": buildTranscriptionConfig(cfg),
	}

	s := &speechmaticsSession{
		conn:   conn,
		events: make(chan STTEvent, 256),
		done:   make(chan struct{}),
	}
	if err := s.writeJSON(start); err != nil {
		_ = conn.Close()
		return nil, nil, reliability.NewProviderError("stt", "start_recognition_failed", true, err)
	}

	go s.readLoop()
	return s, s.events, nil
}

func buildTranscriptionConfig(cfg STTConfig) map[string]any {
	tc := map[string]any{
		"language":        cfg.Language,
		"enable_partials": true,
		"conversation_config": map[string]any{
			"end_of_utterance_silence_trigger": cfg.EndOfUtteranceSilence.Seconds(),
		},
	}
	if strings.TrimSpace(cfg.OperatingPoint) != "" {
		tc["operating_point"] = cfg.OperatingPoint
	}
	if cfg.EnableDiarization {
		tc["diarization"] = "speaker"
		tc["speaker_diarization_config"] = map[string]any{
			"speaker_sensitivity": cfg.SpeakerSensitivity,
		}
	}
	return tc
}

type speechmaticsSession struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once

	// events is closed by readLoop alone, after it has stopped sending.
	// done unblocks an emit in flight when Close races the read loop.
	events chan STTEvent
	done   chan struct{}

	seqNo int

	// Utterance accumulation between EndOfUtterance boundaries.
	pendingText    []string
	pendingSpeaker string
}

func (s *speechmaticsSession) SendAudio(_ context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.seqNo++
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

func (s *speechmaticsSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// emit delivers an event unless the session is being torn down.
func (s *speechmaticsSession) emit(ev STTEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *speechmaticsSession) readLoop() {
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

		switch msgString(raw, "message") {
		case "RecognitionStarted", "AudioAdded", "Info":
			// control traffic
		case "AddPartialTranscript":
			text, speaker := transcriptOf(raw)
			if text == "" {
				continue
			}
			full := strings.TrimSpace(strings.Join(append(append([]string(nil), s.pendingText...), text), " "))
			s.emit(STTEvent{
				Type:      STTEventPartial,
				Text:      full,
				Speaker:   firstNonEmpty(speaker, s.pendingSpeaker),
				Timestamp: time.Now().UnixMilli(),
			})
		case "AddTranscript":
			text, speaker := transcriptOf(raw)
			if text != "" {
				s.pendingText = append(s.pendingText, text)
			}
			if speaker != "" {
				s.pendingSpeaker = speaker
			}
		case "EndOfUtterance":
			text := strings.TrimSpace(strings.Join(s.pendingText, " "))
			speaker := s.pendingSpeaker
			s.pendingText = s.pendingText[:0]
			s.pendingSpeaker = ""
			if text == "" {
				continue
			}
			s.emit(STTEvent{
				Type:      STTEventFinal,
				Text:      text,
				Speaker:   speaker,
				Timestamp: time.Now().UnixMilli(),
			})
		case "EndOfTranscript":
			return
		case "Error":
			code := msgString(raw, "type")
			s.emit(STTEvent{
				Type:      STTEventError,
				Code:      code,
				Detail:    msgString(raw, "reason"),
				Retryable: reliability.IsRetryableRealtimeMessageType(code),
				Timestamp: time.Now().UnixMilli(),
			})
		case "Warning":
			// non-fatal, ignore
		}
	}
}

func (s *speechmaticsSession) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.writeJSON(map[string]any{"message": "EndOfStream", "last_seq_no": s.seqNo})
		retErr = s.conn.Close()
	})
	return retErr
}

// transcriptOf extracts the transcript text and the dominant speaker label
// of one Add(Partial)Transcript payload.
func transcriptOf(raw map[string]any) (string, string) {
	text := ""
	if md, ok := raw["metadata"].(map[string]any); ok {
		text = strings.TrimSpace(msgString(md, "transcript"))
	}

	speaker := ""
	var parts []string
	results, _ := raw["results"].([]any)
	for _, r := range results {
		rm, ok := r.(map[string]any)
		if !ok {
			continue
		}
		alts, _ := rm["alternatives"].([]any)
		if len(alts) == 0 {
			continue
		}
		alt, ok := alts[0].(map[string]any)
		if !ok {
			continue
		}
		if sp := msgString(alt, "speaker"); sp != "" && sp != "UU" {
			speaker = sp
		}
		if c := msgString(alt, "content"); c != "" {
			parts = append(parts, c)
		}
	}
	if text == "" {
		text = strings.Join(parts, " ")
	}
	return text, speaker
}

func msgString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

var _ STTProvider = (*SpeechmaticsProvider)(nil)

func (p *SpeechmaticsProvider) String() string {
	return fmt.Sprintf("speechmatics(%s)", p.cfg.WSBaseURL)
}
