package voice

import (
	"context"
	"strings"
	"time"
)

type STTEventType string

const (
	STTEventPartial STTEventType = "partial"
	STTEventFinal   STTEventType = "final"
	STTEventError   STTEventType = "error"
)

// STTEvent is one transcript event from the recognizer. Final events mark an
// end-of-utterance boundary; Speaker carries the diarization label when the
// provider produced one.
type STTEvent struct {
	Type       STTEventType
	Text       string
	Speaker    string
	Confidence float64
	Code       string
	Detail     string
	Retryable  bool
	Timestamp  int64
}

// STTConfig mirrors the recognizer operating point of the original agent.
type STTConfig struct {
	Language              string
	SampleRate            int
	EnableDiarization     bool
	SpeakerTagFormat      string
	OperatingPoint        string
	SpeakerSensitivity    float64
	EndOfUtteranceSilence time.Duration
}

// STTSession is one live recognition stream. Audio is raw PCM16LE mono.
type STTSession interface {
	SendAudio(ctx context.Context, pcm []byte) error
	Close() error
}

type STTProvider interface {
	StartSession(ctx context.Context, sessionID string, cfg STTConfig) (STTSession, <-chan STTEvent, error)
}

type TTSEventType string

const (
	TTSEventAudio TTSEventType = "audio"
	TTSEventFinal TTSEventType = "final"
	TTSEventError TTSEventType = "error"
)

type TTSEvent struct {
	Type      TTSEventType
	Audio     []byte
	Format    string
	Code      string
	Detail    string
	Retryable bool
}

type TTSSettings struct {
	Stability       float64
	SimilarityBoost float64
}

type TTSStream interface {
	SendText(ctx context.Context, text string, tryTrigger bool) error
	CloseInput(ctx context.Context) error
	Events() <-chan TTSEvent
	Close() error
}

type TTSProvider interface {
	StartStream(ctx context.Context, voiceID, modelID string, settings TTSSettings) (TTSStream, error)
}

// FormatSpeakerTag renders a diarization template like
// "<{speaker_id}>{text}</{speaker_id}>" for one labeled utterance. With no
// speaker or template the text passes through untouched.
func FormatSpeakerTag(template, speaker, text string) string {
	if speaker == "" || template == "" {
		return text
	}
	out := strings.ReplaceAll(template, "{speaker_id}", speaker)
	return strings.ReplaceAll(out, "{text}", text)
}
