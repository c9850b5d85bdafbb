package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies for keyless dev runs.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamResponse(ctx context.Context, req ChatRequest, onDelta DeltaHandler) (ChatResponse, error) {
	select {
	case <-ctx.Done():
		return ChatResponse{}, ctx.Err()
	default:
	}

	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = strings.TrimSpace(req.Messages[i].Content)
			break
		}
	}
	text := "تفضل، ما هو طلبك؟"
	if last != "" {
		text = fmt.Sprintf("حسنًا، سجلت: %s. هل تريد إضافات؟", last)
	}
	if onDelta != nil {
		if err := onDelta(text); err != nil {
			return ChatResponse{}, err
		}
	}
	return ChatResponse{Text: text}, nil
}

var _ Adapter = (*MockAdapter)(nil)
