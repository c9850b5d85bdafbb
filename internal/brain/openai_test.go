package brain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ymansouri/maitred/internal/reliability"
)

func TestStreamResponseCollectsDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"أهلاً \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"وسهلاً\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter(srv.URL, "test-key")

	var deltas []string
	res, err := adapter.StreamResponse(context.Background(), ChatRequest{
		Model:    "gpt-4o",
		Messages: []Message{{Role: "user", Content: "مرحبا"}},
	}, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResponse: %v", err)
	}
	if res.Text != "أهلاً وسهلاً" {
		t.Errorf("text = %q", res.Text)
	}
	if len(deltas) != 2 {
		t.Errorf("deltas = %v", deltas)
	}
}

func TestStreamResponseErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter(srv.URL, "test-key")
	_, err := adapter.StreamResponse(context.Background(), ChatRequest{
		Model:    "gpt-4o",
		Messages: []Message{{Role: "user", Content: "مرحبا"}},
	}, nil)
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	var pe *reliability.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error type = %T", err)
	}
	if pe.Provider != "llm" {
		t.Errorf("provider = %q", pe.Provider)
	}
	if !pe.Retryable {
		t.Error("429 should be retryable")
	}
}

func TestStreamResponseEmptyStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter(srv.URL, "test-key")
	_, err := adapter.StreamResponse(context.Background(), ChatRequest{
		Model:    "gpt-4o",
		Messages: []Message{{Role: "user", Content: "مرحبا"}},
	}, nil)
	if err == nil {
		t.Fatal("expected error for empty stream")
	}
}

func TestConsumeSSESkipsMalformedChunks(t *testing.T) {
	body := strings.NewReader(strings.Join([]string{
		"data: not-json",
		"data: {\"choices\":[{\"delta\":{\"content\":\"نعم\"}}]}",
		"data: [DONE]",
	}, "\n"))
	res, err := consumeSSE(body, nil)
	if err != nil {
		t.Fatalf("consumeSSE: %v", err)
	}
	if res.Text != "نعم" {
		t.Errorf("text = %q", res.Text)
	}
}

func TestMockAdapterEchoesLastUserMessage(t *testing.T) {
	adapter := NewMockAdapter()
	res, err := adapter.StreamResponse(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "prompt"},
			{Role: "user", Content: "برجر دجاج"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("StreamResponse: %v", err)
	}
	if !strings.Contains(res.Text, "برجر دجاج") {
		t.Errorf("text = %q", res.Text)
	}
}
