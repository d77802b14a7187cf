package ask_test

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/MegaGrindStone/ask-stream/internal/ask"
	goopenai "github.com/sashabaranov/go-openai"
)

func TestFormatHistory(t *testing.T) {
	var long []string
	for i := range 35 {
		long = append(long, fmt.Sprintf("turn %d", i))
	}

	tests := []struct {
		name  string
		turns []string
		want  string
	}{
		{name: "Empty", turns: nil, want: "No conversation history available."},
		{name: "Short", turns: []string{"me: hi", "them: hello"}, want: "me: hi\nthem: hello"},
		{name: "Capped", turns: long, want: strings.Join(long[5:], "\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ask.FormatHistory(tt.turns); got != tt.want {
				t.Errorf("FormatHistory() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	t.Run("Without image", func(t *testing.T) {
		msgs := ask.BuildPrompt("what is this?", []string{"speaker: hello"}, "")
		if len(msgs) != 2 {
			t.Fatalf("got %d messages, want 2", len(msgs))
		}
		if msgs[0].Role != goopenai.ChatMessageRoleSystem {
			t.Errorf("first role = %q, want system", msgs[0].Role)
		}
		if !strings.Contains(msgs[0].Content, "speaker: hello") {
			t.Errorf("system prompt does not contain history: %q", msgs[0].Content)
		}
		if msgs[1].Role != goopenai.ChatMessageRoleUser {
			t.Errorf("second role = %q, want user", msgs[1].Role)
		}
		parts := msgs[1].MultiContent
		if len(parts) != 1 {
			t.Fatalf("got %d parts, want 1", len(parts))
		}
		if parts[0].Type != goopenai.ChatMessagePartTypeText || !strings.Contains(parts[0].Text, "what is this?") {
			t.Errorf("unexpected text part: %+v", parts[0])
		}
	})

	t.Run("With image", func(t *testing.T) {
		msgs := ask.BuildPrompt("q", nil, "QUJD")
		parts := msgs[1].MultiContent
		if len(parts) != 2 {
			t.Fatalf("got %d parts, want 2", len(parts))
		}
		if parts[1].Type != goopenai.ChatMessagePartTypeImageURL {
			t.Fatalf("second part type = %q", parts[1].Type)
		}
		if parts[1].ImageURL == nil || parts[1].ImageURL.URL != "data:image/jpeg;base64,QUJD" {
			t.Errorf("unexpected image part: %+v", parts[1].ImageURL)
		}
		if !strings.Contains(msgs[0].Content, "No conversation history available.") {
			t.Error("system prompt does not contain the empty history placeholder")
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		a := ask.BuildPrompt("q", []string{"x"}, "img")
		b := ask.BuildPrompt("q", []string{"x"}, "img")
		if !reflect.DeepEqual(a, b) {
			t.Error("same inputs produced different prompts")
		}
	})
}
