// Package convo holds the per-session conversation state: an append-only,
// role-tagged message sequence anchored by a fixed system instruction.
package convo

import (
	"errors"
	"sync"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry in the conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Speaker carries the diarization label for user messages, e.g. "S1".
	Speaker   string    `json:"speaker,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn pairs one recognized utterance with the assistant reply derived from
// it. A Turn exists only while it is being processed; completed turns live on
// as two context messages.
type Turn struct {
	ID       string
	Speaker  string
	UserText string
	Reply    string
}

var ErrEmptySystemPrompt = errors.New("convo: system prompt must not be empty")

// Context is the ordered message history for one session. The first message
// is always the system instruction and is never removed or reordered. All
// growth happens through AppendExchange, which adds a user/assistant pair
// atomically so a failed turn can never leave a dangling user message.
//
// When maxMessages > 0 the history is bounded by a sliding window: the system
// message is always kept and the oldest whole exchanges are dropped first.
type Context struct {
	mu          sync.RWMutex
	messages    []Message
	maxMessages int
}

// NewContext builds a context seeded with the system instruction.
func NewContext(systemPrompt string, maxMessages int) (*Context, error) {
	if systemPrompt == "" {
		return nil, ErrEmptySystemPrompt
	}
	if maxMessages < 0 {
		maxMessages = 0
	}
	if maxMessages > 0 && maxMessages < 3 {
		// A window smaller than system + one exchange is useless.
		maxMessages = 3
	}
	return &Context{
		messages: []Message{{
			Role:      RoleSystem,
			Content:   systemPrompt,
			CreatedAt: time.Now().UTC(),
		}},
		maxMessages: maxMessages,
	}, nil
}

// AppendExchange appends the user utterance and the assistant reply as one
// atomic unit, then applies the sliding window.
func (c *Context) AppendExchange(userText, speaker, reply string) {
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages,
		Message{Role: RoleUser, Content: userText, Speaker: speaker, CreatedAt: now},
		Message{Role: RoleAssistant, Content: reply, CreatedAt: now},
	)
	c.trimLocked()
}

func (c *Context) trimLocked() {
	if c.maxMessages <= 0 || len(c.messages) <= c.maxMessages {
		return
	}
	drop := len(c.messages) - c.maxMessages
	// Drop whole exchanges only, so the window never starts mid-pair.
	if drop%2 != 0 {
		drop++
	}
	kept := make([]Message, 0, len(c.messages)-drop)
	kept = append(kept, c.messages[0])
	kept = append(kept, c.messages[1+drop:]...)
	c.messages = kept
}

// Messages returns a snapshot of the history in chronological order.
func (c *Context) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// PromptWith returns a snapshot of the history with a candidate user message
// appended. The candidate is NOT committed; callers commit it together with
// the assistant reply via AppendExchange once generation succeeds.
func (c *Context) PromptWith(userText, speaker string) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, 0, len(c.messages)+1)
	out = append(out, c.messages...)
	out = append(out, Message{
		Role:      RoleUser,
		Content:   userText,
		Speaker:   speaker,
		CreatedAt: time.Now().UTC(),
	})
	return out
}

// Len reports the number of committed messages, system instruction included.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// System returns the fixed system instruction.
func (c *Context) System() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.messages[0].Content
}
