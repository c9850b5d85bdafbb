package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/ymansouri/maitred/internal/audio"
)

// SessionDescription keeps webrtc types out of the HTTP layer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// WebRTC negotiates browser peer connections. Each accepted offer yields one
// Conn handed to the onConn callback once the remote audio track arrives.
type WebRTC struct {
	stunServers []string
	onConn      func(Conn)
}

func NewWebRTC(stunServers []string, onConn func(Conn)) *WebRTC {
	if len(stunServers) == 0 {
		stunServers = []string{"stun:stun.l.google.com:19302"}
	}
	return &WebRTC{stunServers: stunServers, onConn: onConn}
}

// HandleOffer accepts an SDP offer and returns the SDP answer after ICE
// gathering completes.
func (t *WebRTC) HandleOffer(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, NewError(KindWebRTC, "offer", errors.New("invalid session description"))
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return SessionDescription{}, NewError(KindWebRTC, "codecs", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return SessionDescription{}, NewError(KindWebRTC, "interceptors", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(registry))

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: t.stunServers}},
	})
	if err != nil {
		return SessionDescription{}, NewError(KindWebRTC, "peer_connection", err)
	}

	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"assistant-audio", "assistant",
	)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, NewError(KindWebRTC, "out_track", err)
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return SessionDescription{}, NewError(KindWebRTC, "add_track", err)
	}

	// Registered before negotiation starts so a peer that fails ICE or never
	// attaches its audio track is still torn down. Closing the peer
	// connection errors any in-flight ReadRTP, which surfaces as io.EOF to
	// the session loop.
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			_ = pc.Close()
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		conn, cerr := newWebRTCConn(pc, remote, outTrack)
		if cerr != nil {
			_ = pc.Close()
			return
		}
		if t.onConn != nil {
			t.onConn(conn)
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		_ = pc.Close()
		return SessionDescription{}, NewError(KindWebRTC, "remote_description", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, NewError(KindWebRTC, "answer", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, NewError(KindWebRTC, "local_description", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		_ = pc.Close()
		return SessionDescription{}, ctx.Err()
	}

	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return SessionDescription{}, NewError(KindWebRTC, "local_description", errors.New("missing after gathering"))
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

type webrtcConn struct {
	pc      *webrtc.PeerConnection
	remote  *webrtc.TrackRemote
	decoder *opus.Decoder
	writer  *opusPacedWriter

	closeOnce sync.Once
	closed    chan struct{}
}

func newWebRTCConn(pc *webrtc.PeerConnection, remote *webrtc.TrackRemote, out *webrtc.TrackLocalStaticSample) (*webrtcConn, error) {
	dec, err := opus.NewDecoder(SampleRate, 1)
	if err != nil {
		return nil, NewError(KindWebRTC, "opus_decoder", err)
	}
	writer, err := newOpusPacedWriter(out)
	if err != nil {
		return nil, err
	}
	return &webrtcConn{
		pc:      pc,
		remote:  remote,
		decoder: dec,
		writer:  writer,
		closed:  make(chan struct{}),
	}, nil
}

func (c *webrtcConn) ReadAudio(ctx context.Context) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	for {
		pkt, _, err := c.remote.ReadRTP()
		if err != nil {
			return nil, io.EOF
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		samples := make([]int16, 1920)
		n, err := c.decoder.Decode(pkt.Payload, samples)
		if err != nil {
			continue
		}
		return audio.PCM16ToBytes(samples[:n]), nil
	}
}

func (c *webrtcConn) WriteAudio(_ context.Context, pcm []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.writer.WritePCM(pcm)
	return nil
}

func (c *webrtcConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writer.FlushTail()
		time.AfterFunc(400*time.Millisecond, c.writer.Stop)
		_ = c.pc.Close()
	})
	return nil
}

// opusPacedWriter encodes 16kHz PCM mono to opus frames and writes them to
// the outgoing track in real time, 20ms per frame.
type opusPacedWriter struct {
	enc          *opus.Encoder
	track        *webrtc.TrackLocalStaticSample
	pcmBuf       []int16
	frameSamples int
	frames       chan []byte
	stopCh       chan struct{}
	stopped      bool
	mu           sync.Mutex
}

func newOpusPacedWriter(track *webrtc.TrackLocalStaticSample) (*opusPacedWriter, error) {
	enc, err := opus.NewEncoder(SampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, NewError(KindWebRTC, "opus_encoder", err)
	}
	w := &opusPacedWriter{
		enc:          enc,
		track:        track,
		frameSamples: SampleRate / 50, // 20ms
		frames:       make(chan []byte, 512),
		stopCh:       make(chan struct{}),
	}
	go w.pace()
	return w, nil
}

func (w *opusPacedWriter) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pcmBuf = append(w.pcmBuf, audio.BytesToPCM16(pcmBytes)...)

	encoded := make([]byte, 4000)
	for len(w.pcmBuf) >= w.frameSamples {
		n, err := w.enc.Encode(w.pcmBuf[:w.frameSamples], encoded)
		if err == nil && n > 0 {
			frame := make([]byte, n)
			copy(frame, encoded[:n])
			w.pushFrame(frame)
		}
		w.pcmBuf = append(w.pcmBuf[:0], w.pcmBuf[w.frameSamples:]...)
	}
}

// FlushTail pads the remaining PCM to a full frame and appends a short
// silence tail so the last syllable is not clipped.
func (w *opusPacedWriter) FlushTail() {
	w.mu.Lock()
	encoded := make([]byte, 4000)
	if len(w.pcmBuf) > 0 {
		pad := make([]int16, w.frameSamples)
		copy(pad, w.pcmBuf)
		if n, err := w.enc.Encode(pad, encoded); err == nil && n > 0 {
			frame := make([]byte, n)
			copy(frame, encoded[:n])
			w.pushFrame(frame)
		}
		w.pcmBuf = w.pcmBuf[:0]
	}
	silence := make([]int16, w.frameSamples)
	for i := 0; i < 10; i++ {
		if n, err := w.enc.Encode(silence, encoded); err == nil && n > 0 {
			frame := make([]byte, n)
			copy(frame, encoded[:n])
			w.pushFrame(frame)
		}
	}
	w.mu.Unlock()
}

func (w *opusPacedWriter) Stop() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	w.mu.Unlock()
}

func (w *opusPacedWriter) pace() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				_ = w.track.WriteSample(media.Sample{Data: frame, Duration: 20 * time.Millisecond})
			default:
			}
		}
	}
}

func (w *opusPacedWriter) pushFrame(frame []byte) {
	select {
	case <-w.stopCh:
	case w.frames <- frame:
	}
}
