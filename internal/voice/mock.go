package voice

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockProvider is a keyless local provider used by PROVIDER_MODE=mock and by
// tests: the STT side commits a canned utterance every few chunks, the TTS
// side emits the text bytes back as "audio".
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) StartSession(_ context.Context, _ string, cfg STTConfig) (STTSession, <-chan STTEvent, error) {
	events := make(chan STTEvent, 64)
	s := &mockSTTSession{events: events, diarize: cfg.EnableDiarization}
	return s, events, nil
}

func (p *MockProvider) StartStream(_ context.Context, _ string, _ string, _ TTSSettings) (TTSStream, error) {
	return &mockTTSStream{events: make(chan TTSEvent, 128)}, nil
}

type mockSTTSession struct {
	mu      sync.Mutex
	events  chan STTEvent
	chunks  int
	closed  bool
	diarize bool
}

func (s *mockSTTSession) SendAudio(_ context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(pcm) == 0 {
		return nil
	}
	s.chunks++
	s.events <- STTEvent{Type: STTEventPartial, Text: "...", Confidence: 0.5, Timestamp: time.Now().UnixMilli()}
	if s.chunks%8 == 0 {
		speaker := ""
		if s.diarize {
			speaker = "S1"
		}
		s.events <- STTEvent{
			Type:       STTEventFinal,
			Text:       "أريد برجر كلاسيك",
			Speaker:    speaker,
			Confidence: 0.7,
			Timestamp:  time.Now().UnixMilli(),
		}
	}
	return nil
}

func (s *mockSTTSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

type mockTTSStream struct {
	mu     sync.Mutex
	events chan TTSEvent
	closed bool
}

func (s *mockTTSStream) SendText(_ context.Context, text string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || strings.TrimSpace(text) == "" {
		return nil
	}
	s.events <- TTSEvent{Type: TTSEventAudio, Audio: []byte(text), Format: "mock_text_bytes"}
	return nil
}

func (s *mockTTSStream) CloseInput(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.events <- TTSEvent{Type: TTSEventFinal}
	return nil
}

func (s *mockTTSStream) Events() <-chan TTSEvent { return s.events }

func (s *mockTTSStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

var (
	_ STTProvider = (*MockProvider)(nil)
	_ TTSProvider = (*MockProvider)(nil)
)
