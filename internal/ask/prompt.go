package ask

import (
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
)

// MaxHistoryTurns caps how many transcript turns are rendered into the system prompt.
const MaxHistoryTurns = 30

const noHistory = "No conversation history available."

const systemTemplate = `You are a screen-aware assistant. The user is in the middle of a live conversation or task
and asks you short questions about it. Answer directly and concisely using markdown.

When a screenshot is attached, treat it as the user's current screen: read any visible text,
code, questions or error messages and use them to answer. Do not describe the screenshot
unless you are asked to.

Use the recent conversation transcript below as context. If it does not help with the
question, ignore it and answer from general knowledge.

<transcript>
%s
</transcript>`

// FormatHistory renders the most recent transcript turns, oldest first, one per line.
func FormatHistory(turns []string) string {
	if len(turns) == 0 {
		return noHistory
	}
	if len(turns) > MaxHistoryTurns {
		turns = turns[len(turns)-MaxHistoryTurns:]
	}
	return strings.Join(turns, "\n")
}

// BuildPrompt assembles the outbound chat messages: a system message carrying the instruction
// template and the formatted history, and a user message made of a text part and, when
// imageBase64 is not empty, an inline JPEG image part.
func BuildPrompt(question string, history []string, imageBase64 string) []goopenai.ChatCompletionMessage {
	parts := []goopenai.ChatMessagePart{
		{
			Type: goopenai.ChatMessagePartTypeText,
			Text: "User Request: " + question,
		},
	}
	if imageBase64 != "" {
		parts = append(parts, goopenai.ChatMessagePart{
			Type: goopenai.ChatMessagePartTypeImageURL,
			ImageURL: &goopenai.ChatMessageImageURL{
				URL: "data:image/jpeg;base64," + imageBase64,
			},
		})
	}

	return []goopenai.ChatCompletionMessage{
		{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: fmt.Sprintf(systemTemplate, FormatHistory(history)),
		},
		{
			Role:         goopenai.ChatMessageRoleUser,
			MultiContent: parts,
		},
	}
}
