// Package brain bridges the turn pipeline to the response-generation
// provider. The adapter receives the full ordered conversation and streams
// text fragments back until the provider's completion marker.
package brain

import "context"

// Message is one role-tagged entry of the prompt, oldest first.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the normalized request for one generation call.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// ChatResponse is the final response after streaming deltas.
type ChatResponse struct {
	Text string `json:"text"`
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Adapter produces one assistant reply per call from the full conversation.
type Adapter interface {
	StreamResponse(ctx context.Context, req ChatRequest, onDelta DeltaHandler) (ChatResponse, error)
}
