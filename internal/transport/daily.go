package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RoomConfig is fetched from the --config-url endpoint before joining.
type RoomConfig struct {
	RoomURL string `json:"room_url"`
	Token   string `json:"token"`
}

// FetchRoomConfig asks the configured endpoint for the room to join.
func FetchRoomConfig(ctx context.Context, configURL string) (RoomConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, configURL, nil)
	if err != nil {
		return RoomConfig{}, NewError(KindDaily, "config_request", err)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	res, err := client.Do(req)
	if err != nil {
		return RoomConfig{}, NewError(KindDaily, "config_fetch", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return RoomConfig{}, NewError(KindDaily, "config_fetch", fmt.Errorf("status %d", res.StatusCode))
	}
	var cfg RoomConfig
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&cfg); err != nil {
		return RoomConfig{}, NewError(KindDaily, "config_decode", err)
	}
	if strings.TrimSpace(cfg.RoomURL) == "" {
		return RoomConfig{}, NewError(KindDaily, "config_decode", fmt.Errorf("room_url missing"))
	}
	return cfg, nil
}

// Daily room audio frames, base64 PCM16LE mono at 16kHz.
type dailyFrame struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
}

// DailyConn is a websocket client on a Daily room's audio stream.
type DailyConn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// DialDaily fetches the room config and joins the room.
func DialDaily(ctx context.Context, configURL, apiKey string) (*DailyConn, error) {
	cfg, err := FetchRoomConfig(ctx, configURL)
	if err != nil {
		return nil, err
	}

	wsURL := strings.Replace(strings.Replace(cfg.RoomURL, "https://", "wss://", 1), "http://", "ws://", 1)
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	} else if apiKey != "" {
		header.Set("Authorization", "Bearer "+apiKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, NewError(KindDaily, "dial", err)
	}

	c := &DailyConn{ws: ws, closed: make(chan struct{})}
	if err := c.send(dailyFrame{Type: "join"}); err != nil {
		_ = ws.Close()
		return nil, err
	}
	return c, nil
}

func (c *DailyConn) ReadAudio(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-c.closed:
			return nil, io.EOF
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var frame dailyFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			_ = c.Close()
			return nil, io.EOF
		}
		switch frame.Type {
		case "audio":
			pcm, err := base64.StdEncoding.DecodeString(frame.Payload)
			if err != nil || len(pcm) == 0 {
				continue
			}
			return pcm, nil
		case "leave":
			_ = c.Close()
			return nil, io.EOF
		}
	}
}

func (c *DailyConn) WriteAudio(ctx context.Context, pcm []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return c.send(dailyFrame{
		Type:    "audio",
		Payload: base64.StdEncoding.EncodeToString(pcm),
	})
}

func (c *DailyConn) send(frame dailyFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(frame); err != nil {
		return NewError(KindDaily, "write", err)
	}
	return nil
}

func (c *DailyConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.send(dailyFrame{Type: "leave"})
		_ = c.ws.Close()
	})
	return nil
}
