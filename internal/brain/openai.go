package brain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ymansouri/maitred/internal/reliability"
)

// OpenAIAdapter streams chat completions from an OpenAI-compatible endpoint.
type OpenAIAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewOpenAIAdapter(baseURL, apiKey string) *OpenAIAdapter {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAIAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type chatCompletionsRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatDelta struct {
	Content string `json:"content"`
}

type chatStreamChoice struct {
	Delta        chatDelta `json:"delta"`
	FinishReason string    `json:"finish_reason"`
}

type chatStreamChunk struct {
	Choices []chatStreamChoice `json:"choices"`
}

func (a *OpenAIAdapter) StreamResponse(ctx context.Context, req ChatRequest, onDelta DeltaHandler) (ChatResponse, error) {
	if len(req.Messages) == 0 {
		return ChatResponse{}, fmt.Errorf("chat request has no messages")
	}
	payload, err := json.Marshal(chatCompletionsRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
	})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, reliability.NewProviderError("llm", "request_failed", true, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return ChatResponse{}, reliability.NewProviderError(
			"llm",
			fmt.Sprintf("status_%d", res.StatusCode),
			reliability.IsRetryableHTTPStatus(res.StatusCode),
			fmt.Errorf("chat completions status %d: %s", res.StatusCode, string(body)),
		)
	}

	return consumeSSE(res.Body, onDelta)
}

func consumeSSE(body io.Reader, onDelta DeltaHandler) (ChatResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	done := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "[DONE]" {
			done = true
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			out.WriteString(choice.Delta.Content)
			if onDelta != nil {
				if err := onDelta(choice.Delta.Content); err != nil {
					return ChatResponse{}, err
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return ChatResponse{}, reliability.NewProviderError("llm", "stream_read_failed", true, err)
	}
	if !done && out.Len() == 0 {
		return ChatResponse{}, reliability.NewProviderError("llm", "empty_stream", true, fmt.Errorf("stream ended without content"))
	}
	return ChatResponse{Text: strings.TrimSpace(out.String())}, nil
}

var _ Adapter = (*OpenAIAdapter)(nil)
