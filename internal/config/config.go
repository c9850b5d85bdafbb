package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the voice ordering service.
// It is constructed once at startup and passed by value; nothing mutates it
// after Load returns.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	IdleTimeout      time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// Transport selects the single transport served by this process.
	Transport string
	// ConfigURL points the daily transport at its room endpoint.
	ConfigURL string

	ProviderMode string

	SpeechmaticsAPIKey    string
	SpeechmaticsWSBaseURL string
	STTLanguage           string
	EnableDiarization     bool
	SpeakerTagFormat      string
	OperatingPoint        string
	SpeakerSensitivity    float64
	EndOfUtteranceSilence time.Duration

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	ElevenLabsAPIKey       string
	ElevenLabsWSBaseURL    string
	ElevenLabsVoiceID      string
	ElevenLabsModelID      string
	ElevenLabsStability    float64
	ElevenLabsSimilarity   float64
	ElevenLabsOutputFormat string

	TwilioAccountSID string
	TwilioAuthToken  string

	DailyAPIKey string

	FallbackPhrase     string
	ContextMaxMessages int
	TurnQueueDepth     int

	DatabaseURL string

	// RecordDir, when set, stores a WAV of each session's caller audio.
	RecordDir string
}

// ConfigError marks a missing or invalid setting. It is the only error kind
// that is fatal to the process; it fires before any session is accepted.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// Load reads environment variables (honoring a local .env file, which wins
// over the inherited environment) and applies defaults. Missing required
// credentials fail Load before any session is accepted.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "maitred"),
		Transport:        strings.ToLower(envOrDefault("TRANSPORT", "webrtc")),
		ConfigURL:        envTrimmed("CONFIG_URL"),
		ProviderMode:     strings.ToLower(envOrDefault("PROVIDER_MODE", "live")),

		SpeechmaticsAPIKey:    envTrimmed("SPEECHMATICS_API_KEY"),
		SpeechmaticsWSBaseURL: envOrDefault("SPEECHMATICS_WS_BASE_URL", "wss://eu2.rt.speechmatics.com"),
		STTLanguage:           envOrDefault("STT_LANGUAGE", "ar"),
		EnableDiarization:     true,
		SpeakerTagFormat:      envOrDefault("STT_SPEAKER_TAG_FORMAT", "<{speaker_id}>{text}</{speaker_id}>"),
		OperatingPoint:        envOrDefault("STT_OPERATING_POINT", "enhanced"),
		SpeakerSensitivity:    0.7,
		EndOfUtteranceSilence: 500 * time.Millisecond,

		OpenAIAPIKey:  envTrimmed("OPENAI_API_KEY"),
		OpenAIBaseURL: envOrDefault("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIModel:   envOrDefault("OPENAI_MODEL", "gpt-4o"),

		ElevenLabsAPIKey:       envTrimmed("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL:    envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsVoiceID:      envOrDefault("ELEVENLABS_VOICE_ID", "tavIIPLplRB883FzWU0V"),
		ElevenLabsModelID:      envOrDefault("ELEVENLABS_MODEL", "eleven_multilingual_v2"),
		ElevenLabsStability:    0.65,
		ElevenLabsSimilarity:   0.60,
		ElevenLabsOutputFormat: envOrDefault("ELEVENLABS_OUTPUT_FORMAT", "pcm_16000"),

		TwilioAccountSID: envTrimmed("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  envTrimmed("TWILIO_AUTH_TOKEN"),

		DailyAPIKey: envTrimmed("DAILY_API_KEY"),

		FallbackPhrase:     envOrDefault("PIPELINE_FALLBACK_PHRASE", "عذرًا، حدث خطأ. هل يمكنك إعادة طلبك؟"),
		ContextMaxMessages: 64,
		TurnQueueDepth:     8,

		DatabaseURL: envTrimmed("DATABASE_URL"),
		RecordDir:   envTrimmed("RECORD_DIR"),

		ShutdownTimeout: 15 * time.Second,
		IdleTimeout:     300 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.IdleTimeout, err = durationFromEnv("APP_IDLE_TIMEOUT", cfg.IdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EndOfUtteranceSilence, err = durationFromEnv("STT_END_OF_UTTERANCE_SILENCE", cfg.EndOfUtteranceSilence)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.EnableDiarization, err = boolFromEnv("STT_ENABLE_DIARIZATION", cfg.EnableDiarization)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeakerSensitivity, err = floatFromEnv("STT_SPEAKER_SENSITIVITY", cfg.SpeakerSensitivity)
	if err != nil {
		return Config{}, err
	}
	cfg.ElevenLabsStability, err = floatFromEnv("ELEVENLABS_STABILITY", cfg.ElevenLabsStability)
	if err != nil {
		return Config{}, err
	}
	cfg.ElevenLabsSimilarity, err = floatFromEnv("ELEVENLABS_SIMILARITY_BOOST", cfg.ElevenLabsSimilarity)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextMaxMessages, err = intFromEnv("CONTEXT_MAX_MESSAGES", cfg.ContextMaxMessages)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnQueueDepth, err = intFromEnv("PIPELINE_TURN_QUEUE_DEPTH", cfg.TurnQueueDepth)
	if err != nil {
		return Config{}, err
	}
	if _, set := os.LookupEnv("PIPELINE_FALLBACK_PHRASE"); set && envTrimmed("PIPELINE_FALLBACK_PHRASE") == "" {
		// An explicitly empty value disables the spoken fallback.
		cfg.FallbackPhrase = ""
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces required credentials and sane tunables. Mock provider
// mode skips credential checks so the service can run keyless in dev.
func (c Config) Validate() error {
	switch c.Transport {
	case "webrtc", "daily", "twilio":
	default:
		return &ConfigError{Key: "TRANSPORT", Reason: fmt.Sprintf("unsupported transport %q (expected webrtc|daily|twilio)", c.Transport)}
	}
	switch c.ProviderMode {
	case "live", "mock":
	default:
		return &ConfigError{Key: "PROVIDER_MODE", Reason: fmt.Sprintf("unsupported mode %q (expected live|mock)", c.ProviderMode)}
	}

	if c.ProviderMode == "live" {
		if c.SpeechmaticsAPIKey == "" {
			return &ConfigError{Key: "SPEECHMATICS_API_KEY", Reason: "required credential is not set"}
		}
		if c.OpenAIAPIKey == "" {
			return &ConfigError{Key: "OPENAI_API_KEY", Reason: "required credential is not set"}
		}
		if c.ElevenLabsAPIKey == "" {
			return &ConfigError{Key: "ELEVENLABS_API_KEY", Reason: "required credential is not set"}
		}
		if c.Transport == "twilio" && (c.TwilioAccountSID == "" || c.TwilioAuthToken == "") {
			return &ConfigError{Key: "TWILIO_ACCOUNT_SID", Reason: "twilio transport requires TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN"}
		}
	}
	if c.Transport == "daily" && c.ConfigURL == "" {
		return &ConfigError{Key: "CONFIG_URL", Reason: "daily transport requires a room url"}
	}

	if c.IdleTimeout < time.Second {
		return &ConfigError{Key: "APP_IDLE_TIMEOUT", Reason: "must be at least 1s"}
	}
	if c.ContextMaxMessages < 0 {
		return &ConfigError{Key: "CONTEXT_MAX_MESSAGES", Reason: "must be >= 0 (0 disables the window)"}
	}
	if c.TurnQueueDepth <= 0 {
		return &ConfigError{Key: "PIPELINE_TURN_QUEUE_DEPTH", Reason: "must be positive"}
	}
	if c.SpeakerSensitivity < 0 || c.SpeakerSensitivity > 1 {
		return &ConfigError{Key: "STT_SPEAKER_SENSITIVITY", Reason: "must be within [0, 1]"}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, &ConfigError{Key: key, Reason: err.Error()}
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigError{Key: key, Reason: err.Error()}
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &ConfigError{Key: key, Reason: err.Error()}
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, &ConfigError{Key: key, Reason: "expected bool"}
	}
}
