package transport

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/twilio/twilio-go/twiml"

	"github.com/ymansouri/maitred/internal/audio"
)

// StreamTwiML renders the voice webhook response that connects the call to
// our media stream endpoint.
func StreamTwiML(wsURL string) (string, error) {
	stream := &twiml.VoiceStream{Url: wsURL}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	return twiml.Voice([]twiml.Element{connect})
}

// ValidateTwilioSignature checks the X-Twilio-Signature header value against
// the request URL and form parameters.
func ValidateTwilioSignature(authToken, signature, fullURL string, params map[string]string) bool {
	if authToken == "" || signature == "" {
		return false
	}

	data := fullURL
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data += k + params[k]
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(data))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// Twilio Media Streams wire messages. Audio rides base64 mu-law at 8kHz.
type twilioMessage struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid,omitempty"`
	Media     *twilioMedia `json:"media,omitempty"`
	Start     *twilioStart `json:"start,omitempty"`
}

type twilioMedia struct {
	Payload string `json:"payload"`
}

type twilioStart struct {
	StreamSid string `json:"streamSid"`
	CallSid   string `json:"callSid"`
}

// TwilioConn adapts one Media Streams websocket. The phone leg is mu-law
// 8kHz; both directions are resampled so callers of Conn see 16kHz PCM.
type TwilioConn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	streamSid string
	callSid   string
	sidReady  chan struct{}
	sidOnce   sync.Once

	closeOnce sync.Once
	closed    chan struct{}
}

func NewTwilioConn(ws *websocket.Conn) *TwilioConn {
	return &TwilioConn{
		ws:       ws,
		sidReady: make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

func (c *TwilioConn) CallSid() string { return c.callSid }

func (c *TwilioConn) ReadAudio(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-c.closed:
			return nil, io.EOF
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var msg twilioMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			_ = c.Close()
			return nil, io.EOF
		}
		switch msg.Event {
		case "start":
			c.sidOnce.Do(func() {
				if msg.Start != nil {
					c.streamSid = msg.Start.StreamSid
					c.callSid = msg.Start.CallSid
				} else {
					c.streamSid = msg.StreamSid
				}
				close(c.sidReady)
			})
		case "media":
			if msg.Media == nil {
				continue
			}
			mulaw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil || len(mulaw) == 0 {
				continue
			}
			pcm8k := audio.MulawToPCM16(mulaw)
			return audio.PCM16ToBytes(audio.Upsample2x(pcm8k)), nil
		case "stop":
			_ = c.Close()
			return nil, io.EOF
		}
	}
}

func (c *TwilioConn) WriteAudio(ctx context.Context, pcm []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	case <-c.sidReady:
	}

	samples := audio.BytesToPCM16(pcm)
	mulaw := audio.PCM16ToMulaw(audio.Downsample2x(samples))
	msg := twilioMessage{
		Event:     "media",
		StreamSid: c.streamSid,
		Media:     &twilioMedia{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(msg); err != nil {
		return NewError(KindTwilio, "write_media", err)
	}
	return nil
}

func (c *TwilioConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
	return nil
}
