package menu

import (
	"strings"
	"testing"
)

func TestSystemPromptContainsMenuAndRules(t *testing.T) {
	p := SystemPrompt()
	for _, want := range []string{
		"Modern Standard Arabic",
		"برجر كلاسيك",
		"قائمة الطعام",
		"المجموع النهائي",
		"<S1/>",
	} {
		if !strings.Contains(p, want) {
			t.Fatalf("SystemPrompt missing %q", want)
		}
	}
}

func TestMenuItems(t *testing.T) {
	got := MenuItems()
	if len(got) != 7 {
		t.Fatalf("MenuItems len = %d, want 7", len(got))
	}
	for _, item := range got {
		if strings.HasPrefix(item, "- ") {
			t.Fatalf("item %q still carries a bullet", item)
		}
	}
}
