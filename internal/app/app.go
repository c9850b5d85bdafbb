// Package app wires configuration, providers, and the session registry into
// a runnable assistant, and drives one pipeline per caller connection.
package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/ymansouri/maitred/internal/brain"
	"github.com/ymansouri/maitred/internal/config"
	"github.com/ymansouri/maitred/internal/convo"
	"github.com/ymansouri/maitred/internal/menu"
	"github.com/ymansouri/maitred/internal/observability"
	"github.com/ymansouri/maitred/internal/pipeline"
	"github.com/ymansouri/maitred/internal/session"
	"github.com/ymansouri/maitred/internal/transcript"
	"github.com/ymansouri/maitred/internal/transport"
	"github.com/ymansouri/maitred/internal/voice"
)

type App struct {
	Cfg      config.Config
	Sessions *session.Manager
	Metrics  *observability.Metrics
	STT      voice.STTProvider
	TTS      voice.TTSProvider
	Brain    brain.Adapter
	Store    transcript.Store

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// Build assembles the application from config. The returned cleanup releases
// provider and storage resources.
func Build(ctx context.Context, cfg config.Config) (*App, func(), error) {
	store, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("transcript store: %w", err)
	}

	a := &App{
		Cfg:      cfg,
		Sessions: session.NewManager(cfg.IdleTimeout),
		Metrics:  observability.NewMetrics(cfg.MetricsNamespace),
		Store:    store,
		cancels:  make(map[string]context.CancelFunc),
	}

	switch strings.ToLower(strings.TrimSpace(cfg.ProviderMode)) {
	case "mock":
		p := voice.NewMockProvider()
		a.STT = p
		a.TTS = p
		a.Brain = brain.NewMockAdapter()
		log.Printf("providers: mock")
	default:
		a.STT = voice.NewSpeechmaticsProvider(voice.SpeechmaticsConfig{
			APIKey:    cfg.SpeechmaticsAPIKey,
			WSBaseURL: cfg.SpeechmaticsWSBaseURL,
		})
		a.TTS = voice.NewElevenLabsProvider(voice.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			WSBaseURL:    cfg.ElevenLabsWSBaseURL,
			OutputFormat: cfg.ElevenLabsOutputFormat,
		})
		a.Brain = brain.NewOpenAIAdapter(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey)
		log.Printf("providers: speechmatics stt, %s llm, elevenlabs tts", cfg.OpenAIModel)
	}

	a.Sessions.SetIdleHook(func(s *session.Session) {
		log.Printf("session %s idle for %s, closing", s.ID, cfg.IdleTimeout)
		a.Metrics.SessionEvents.WithLabelValues("idle_timeout").Inc()
		a.cancelSession(s.ID)
	})

	cleanup := func() {
		_ = store.Close()
	}
	return a, cleanup, nil
}

// RunConn owns one caller connection end to end: session registration, the
// recognizer stream, the turn pipeline, and ordered teardown.
func (a *App) RunConn(ctx context.Context, conn transport.Conn) error {
	sess := a.Sessions.Create(a.Cfg.Transport)
	a.Metrics.SessionEvents.WithLabelValues("created").Inc()
	log.Printf("session %s: created on %s", sess.ID, a.Cfg.Transport)

	ctx, cancel := context.WithCancel(ctx)
	a.registerCancel(sess.ID, cancel)
	defer func() {
		a.unregisterCancel(sess.ID)
		cancel()
	}()

	if err := a.Sessions.MarkConnecting(sess.ID); err != nil {
		return err
	}

	sttSess, events, err := a.STT.StartSession(ctx, sess.ID, voice.STTConfig{
		Language:              a.Cfg.STTLanguage,
		SampleRate:            transport.SampleRate,
		EnableDiarization:     a.Cfg.EnableDiarization,
		SpeakerTagFormat:      a.Cfg.SpeakerTagFormat,
		OperatingPoint:        a.Cfg.OperatingPoint,
		SpeakerSensitivity:    a.Cfg.SpeakerSensitivity,
		EndOfUtteranceSilence: a.Cfg.EndOfUtteranceSilence,
	})
	if err != nil {
		_ = a.Sessions.BeginClose(sess.ID, session.ReasonTransport)
		_, _ = a.Sessions.MarkClosed(sess.ID)
		a.Metrics.ProviderErrors.WithLabelValues("stt", "start_failed").Inc()
		return fmt.Errorf("start recognition: %w", err)
	}

	if err := a.Sessions.Activate(sess.ID); err != nil {
		_ = sttSess.Close()
		return err
	}
	a.Metrics.ActiveSessions.Inc()
	defer a.Metrics.ActiveSessions.Dec()
	log.Printf("session %s: active", sess.ID)

	history, err := convo.NewContext(menu.SystemPrompt(), a.Cfg.ContextMaxMessages)
	if err != nil {
		_ = sttSess.Close()
		return err
	}

	recorder := newCallRecorder(a.Cfg.RecordDir, sess.ID)

	// Caller audio feeds the recognizer until the caller disconnects.
	go func() {
		defer cancel()
		for {
			pcm, rerr := conn.ReadAudio(ctx)
			if rerr != nil {
				_ = a.Sessions.BeginClose(sess.ID, session.ReasonCallerHangup)
				_ = sttSess.Close()
				return
			}
			a.Metrics.TransportFrames.WithLabelValues(a.Cfg.Transport, "in").Inc()
			recorder.append(pcm)
			if serr := sttSess.SendAudio(ctx, pcm); serr != nil {
				_ = a.Sessions.BeginClose(sess.ID, session.ReasonTransport)
				return
			}
		}
	}()

	pl := pipeline.New(history, a.Brain, a.TTS, a.Store, a.Metrics, pipeline.Options{
		SessionID:        sess.ID,
		ChatModel:        a.Cfg.OpenAIModel,
		VoiceID:          a.Cfg.ElevenLabsVoiceID,
		TTSModelID:       a.Cfg.ElevenLabsModelID,
		TTSSettings:      voice.TTSSettings{Stability: a.Cfg.ElevenLabsStability, SimilarityBoost: a.Cfg.ElevenLabsSimilarity},
		SpeakerTagFormat: speakerTagFormat(a.Cfg),
		FallbackPhrase:   a.Cfg.FallbackPhrase,
		QueueDepth:       a.Cfg.TurnQueueDepth,
		OnActivity:       func() { _ = a.Sessions.Touch(sess.ID) },
		OnTurnDone:       func() { _ = a.Sessions.RecordTurn(sess.ID) },
	})

	runErr := pl.Run(ctx, events, &countingSink{conn: conn, app: a})
	if runErr != nil && ctx.Err() == nil {
		log.Printf("session %s: pipeline error: %v", sess.ID, runErr)
	}

	_ = a.Sessions.BeginClose(sess.ID, session.ReasonShutdown)
	_ = sttSess.Close()
	_ = conn.Close()
	recorder.flush()
	closed, _ := a.Sessions.MarkClosed(sess.ID)
	if closed != nil {
		a.Metrics.SessionEvents.WithLabelValues("closed").Inc()
		log.Printf("session %s: closed (%s) after %d turns", sess.ID, closed.CloseReason, closed.TurnCount)
	}
	return nil
}

// countingSink forwards reply audio to the caller and counts outbound frames.
type countingSink struct {
	conn transport.Conn
	app  *App
}

func (s *countingSink) WriteAudio(ctx context.Context, pcm []byte) error {
	s.app.Metrics.TransportFrames.WithLabelValues(s.app.Cfg.Transport, "out").Inc()
	return s.conn.WriteAudio(ctx, pcm)
}

func speakerTagFormat(cfg config.Config) string {
	if !cfg.EnableDiarization {
		return ""
	}
	return cfg.SpeakerTagFormat
}

func (a *App) registerCancel(id string, cancel context.CancelFunc) {
	a.cancelMu.Lock()
	defer a.cancelMu.Unlock()
	a.cancels[id] = cancel
}

func (a *App) unregisterCancel(id string) {
	a.cancelMu.Lock()
	defer a.cancelMu.Unlock()
	delete(a.cancels, id)
}

func (a *App) cancelSession(id string) {
	a.cancelMu.Lock()
	cancel := a.cancels[id]
	a.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}
