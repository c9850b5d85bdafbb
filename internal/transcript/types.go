package transcript

import (
	"context"
	"time"
)

// ExchangeRecord stores one completed caller/assistant exchange.
type ExchangeRecord struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"session_id"`
	Speaker       string        `json:"speaker"`
	UserText      string        `json:"user_text"`
	AssistantText string        `json:"assistant_text"`
	TurnLatency   time.Duration `json:"turn_latency"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Store persists and retrieves order-conversation transcripts.
type Store interface {
	SaveExchange(ctx context.Context, record ExchangeRecord) error
	SessionExchanges(ctx context.Context, sessionID string, limit int) ([]ExchangeRecord, error)
	Close() error
}
