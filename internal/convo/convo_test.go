package convo

import (
	"fmt"
	"testing"
)

func TestNewContextRequiresSystemPrompt(t *testing.T) {
	if _, err := NewContext("", 0); err == nil {
		t.Fatalf("NewContext accepted empty system prompt")
	}
}

func TestSystemMessageIsAlwaysFirst(t *testing.T) {
	c, err := NewContext("answer in Arabic", 0)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	for i := 0; i < 20; i++ {
		c.AppendExchange(fmt.Sprintf("order %d", i), "S1", fmt.Sprintf("reply %d", i))
	}
	msgs := c.Messages()
	if msgs[0].Role != RoleSystem || msgs[0].Content != "answer in Arabic" {
		t.Fatalf("first message = %+v, want system instruction", msgs[0])
	}
}

func TestCleanExchangesYieldTwoNPlusOneMessages(t *testing.T) {
	c, _ := NewContext("sys", 0)
	const n = 7
	for i := 0; i < n; i++ {
		c.AppendExchange(fmt.Sprintf("u%d", i), "", fmt.Sprintf("a%d", i))
	}
	msgs := c.Messages()
	if len(msgs) != 2*n+1 {
		t.Fatalf("len = %d, want %d", len(msgs), 2*n+1)
	}
	for i := 0; i < n; i++ {
		u, a := msgs[1+2*i], msgs[2+2*i]
		if u.Role != RoleUser || u.Content != fmt.Sprintf("u%d", i) {
			t.Fatalf("message %d = %+v, want user u%d", 1+2*i, u, i)
		}
		if a.Role != RoleAssistant || a.Content != fmt.Sprintf("a%d", i) {
			t.Fatalf("message %d = %+v, want assistant a%d", 2+2*i, a, i)
		}
	}
}

func TestPromptWithDoesNotCommit(t *testing.T) {
	c, _ := NewContext("sys", 0)
	before := c.Len()

	prompt := c.PromptWith("أريد برجر كلاسيك", "S1")
	if got := prompt[len(prompt)-1]; got.Role != RoleUser || got.Speaker != "S1" || got.Content != "أريد برجر كلاسيك" {
		t.Fatalf("prompt tail = %+v, want tagged user message", got)
	}
	if c.Len() != before {
		t.Fatalf("Len = %d after PromptWith, want %d (no partial append)", c.Len(), before)
	}
}

func TestSlidingWindowKeepsSystemAndWholeExchanges(t *testing.T) {
	c, _ := NewContext("sys", 7) // system + 3 exchanges
	for i := 0; i < 10; i++ {
		c.AppendExchange(fmt.Sprintf("u%d", i), "", fmt.Sprintf("a%d", i))
	}
	msgs := c.Messages()
	if len(msgs) != 7 {
		t.Fatalf("len = %d, want 7", len(msgs))
	}
	if msgs[0].Role != RoleSystem {
		t.Fatalf("window dropped the system message")
	}
	if msgs[1].Role != RoleUser || msgs[1].Content != "u7" {
		t.Fatalf("window start = %+v, want user u7", msgs[1])
	}
	if msgs[len(msgs)-1].Content != "a9" {
		t.Fatalf("window end = %+v, want assistant a9", msgs[len(msgs)-1])
	}
}

func TestUnboundedWhenWindowDisabled(t *testing.T) {
	c, _ := NewContext("sys", 0)
	for i := 0; i < 100; i++ {
		c.AppendExchange("u", "", "a")
	}
	if c.Len() != 201 {
		t.Fatalf("Len = %d, want 201", c.Len())
	}
}

func TestSpeakerLabelPreserved(t *testing.T) {
	c, _ := NewContext("sys", 0)
	c.AppendExchange("أريد برجر كلاسيك", "S1", "حسنًا")
	msgs := c.Messages()
	if msgs[1].Speaker != "S1" {
		t.Fatalf("Speaker = %q, want S1", msgs[1].Speaker)
	}
	if msgs[2].Speaker != "" {
		t.Fatalf("assistant Speaker = %q, want empty", msgs[2].Speaker)
	}
}
