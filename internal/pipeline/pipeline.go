// Package pipeline runs the conversational turn loop of one ordering
// session: committed transcripts in, synthesized reply audio out. Turns are
// strictly sequential; utterances that arrive while a turn is in flight wait
// in a bounded queue and are answered in arrival order.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ymansouri/maitred/internal/brain"
	"github.com/ymansouri/maitred/internal/convo"
	"github.com/ymansouri/maitred/internal/observability"
	"github.com/ymansouri/maitred/internal/reliability"
	"github.com/ymansouri/maitred/internal/transcript"
	"github.com/ymansouri/maitred/internal/voice"
)

const (
	ttsFinalizeTimeout    = 10 * time.Second
	transcriptSaveTimeout = 2 * time.Second
	defaultQueueDepth     = 8
)

// AudioSink receives synthesized reply audio, PCM16LE mono.
type AudioSink interface {
	WriteAudio(ctx context.Context, pcm []byte) error
}

// Options configures one session's pipeline.
type Options struct {
	SessionID        string
	ChatModel        string
	VoiceID          string
	TTSModelID       string
	TTSSettings      voice.TTSSettings
	SpeakerTagFormat string
	FallbackPhrase   string
	QueueDepth       int

	// OnActivity fires for every recognized caller or assistant event so the
	// session's idle clock can be reset.
	OnActivity func()
	// OnTurnDone fires after each completed turn, successful or not.
	OnTurnDone func()
}

type Pipeline struct {
	history *convo.Context
	adapter brain.Adapter
	tts     voice.TTSProvider
	store   transcript.Store
	metrics *observability.Metrics
	opts    Options
}

type utterance struct {
	text     string
	speaker  string
	fallback bool
}

func New(history *convo.Context, adapter brain.Adapter, tts voice.TTSProvider, store transcript.Store, metrics *observability.Metrics, opts Options) *Pipeline {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = defaultQueueDepth
	}
	return &Pipeline{
		history: history,
		adapter: adapter,
		tts:     tts,
		store:   store,
		metrics: metrics,
		opts:    opts,
	}
}

// Run consumes recognizer events until the channel closes or ctx is
// cancelled. Cancellation takes effect at the next turn boundary; queued
// utterances are discarded.
func (p *Pipeline) Run(ctx context.Context, events <-chan voice.STTEvent, sink AudioSink) error {
	queue := make(chan utterance, p.opts.QueueDepth)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for utt := range queue {
			if ctx.Err() != nil {
				continue
			}
			p.runTurn(ctx, utt, sink)
		}
	}()

	drain := func() {
		close(queue)
		<-done
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				drain()
				return nil
			}
			p.handleEvent(ev, queue)
		}
	}
}

func (p *Pipeline) handleEvent(ev voice.STTEvent, queue chan<- utterance) {
	switch ev.Type {
	case voice.STTEventPartial:
		p.touch()
	case voice.STTEventFinal:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return
		}
		p.touch()
		p.enqueue(queue, utterance{text: text, speaker: ev.Speaker})
	case voice.STTEventError:
		p.countProviderError("stt", ev.Code)
		if !ev.Retryable {
			p.enqueue(queue, utterance{fallback: true})
		}
	}
}

func (p *Pipeline) enqueue(queue chan<- utterance, utt utterance) {
	select {
	case queue <- utt:
	default:
		// Queue full. Dropping the newest keeps already-accepted utterances
		// answered in order instead of silently reshuffling the backlog.
		p.countTurn("dropped")
	}
}

func (p *Pipeline) runTurn(ctx context.Context, utt utterance, sink AudioSink) {
	if utt.fallback {
		p.speakFallback(ctx, sink)
		p.turnDone()
		return
	}

	start := time.Now()
	userContent := voice.FormatSpeakerTag(p.opts.SpeakerTagFormat, utt.speaker, utt.text)
	prompt := p.history.PromptWith(userContent, utt.speaker)

	stream, err := p.tts.StartStream(ctx, p.opts.VoiceID, p.opts.TTSModelID, p.opts.TTSSettings)
	if err != nil {
		p.recordProviderFailure(ctx, "tts", err, sink)
		p.turnDone()
		return
	}

	res, genErr := p.adapter.StreamResponse(ctx, brain.ChatRequest{
		Model:    p.opts.ChatModel,
		Messages: toBrainMessages(prompt),
	}, func(delta string) error {
		if strings.TrimSpace(delta) == "" {
			return nil
		}
		return stream.SendText(ctx, delta, true)
	})
	if genErr != nil {
		stream.Close()
		p.recordProviderFailure(ctx, "llm", genErr, sink)
		p.turnDone()
		return
	}

	// Generation succeeded: the exchange is committed regardless of how
	// synthesis playback goes from here.
	p.history.AppendExchange(userContent, utt.speaker, res.Text)
	p.touch()

	synthErr := finishSynthesis(ctx, stream, sink)
	stream.Close()

	latency := time.Since(start)
	p.saveExchange(utt, res.Text, latency)

	if synthErr != nil {
		p.recordProviderFailure(ctx, "tts", synthErr, sink)
		p.countTurn("tts_error")
	} else {
		p.countTurn("ok")
		if p.metrics != nil {
			p.metrics.ObserveTurnLatency(latency)
		}
	}
	p.turnDone()
}

// finishSynthesis closes the text input and forwards audio to the sink until
// the provider signals completion.
func finishSynthesis(ctx context.Context, stream voice.TTSStream, sink AudioSink) error {
	ctx, cancel := context.WithTimeout(ctx, ttsFinalizeTimeout)
	defer cancel()

	if err := stream.CloseInput(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-stream.Events():
			if !ok {
				return nil
			}
			switch ev.Type {
			case voice.TTSEventAudio:
				if len(ev.Audio) == 0 {
					continue
				}
				if err := sink.WriteAudio(ctx, ev.Audio); err != nil {
					return err
				}
			case voice.TTSEventFinal:
				return nil
			case voice.TTSEventError:
				return reliability.NewProviderError("tts", ev.Code, ev.Retryable, errors.New(ev.Detail))
			}
		}
	}
}

// speakFallback synthesizes the canned apology so the caller is never left
// with silence after a provider failure.
func (p *Pipeline) speakFallback(ctx context.Context, sink AudioSink) {
	phrase := strings.TrimSpace(p.opts.FallbackPhrase)
	if phrase == "" {
		return
	}
	stream, err := p.tts.StartStream(ctx, p.opts.VoiceID, p.opts.TTSModelID, p.opts.TTSSettings)
	if err != nil {
		p.countProviderError("tts", "fallback_start_failed")
		return
	}
	defer stream.Close()

	if err := stream.SendText(ctx, phrase, true); err != nil {
		p.countProviderError("tts", "fallback_send_failed")
		return
	}
	if err := finishSynthesis(ctx, stream, sink); err != nil {
		p.countProviderError("tts", "fallback_synth_failed")
	}
}

func (p *Pipeline) recordProviderFailure(ctx context.Context, provider string, err error, sink AudioSink) {
	code := "error"
	var pe *reliability.ProviderError
	if errors.As(err, &pe) {
		provider = pe.Provider
		code = pe.Code
	}
	p.countProviderError(provider, code)
	p.countTurn("provider_error")
	if ctx.Err() == nil {
		p.speakFallback(ctx, sink)
	}
}

func (p *Pipeline) saveExchange(utt utterance, reply string, latency time.Duration) {
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), transcriptSaveTimeout)
	defer cancel()
	// Best effort: a transcript write failure never blocks the conversation.
	_ = p.store.SaveExchange(ctx, transcript.ExchangeRecord{
		SessionID:     p.opts.SessionID,
		Speaker:       utt.speaker,
		UserText:      utt.text,
		AssistantText: reply,
		TurnLatency:   latency,
	})
}

func (p *Pipeline) touch() {
	if p.opts.OnActivity != nil {
		p.opts.OnActivity()
	}
}

func (p *Pipeline) turnDone() {
	if p.opts.OnTurnDone != nil {
		p.opts.OnTurnDone()
	}
}

func (p *Pipeline) countTurn(outcome string) {
	if p.metrics != nil {
		p.metrics.TurnsCompleted.WithLabelValues(outcome).Inc()
	}
}

func (p *Pipeline) countProviderError(provider, code string) {
	if p.metrics != nil {
		if code == "" {
			code = "error"
		}
		p.metrics.ProviderErrors.WithLabelValues(provider, code).Inc()
	}
}

func toBrainMessages(msgs []convo.Message) []brain.Message {
	out := make([]brain.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, brain.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
