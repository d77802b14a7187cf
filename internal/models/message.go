package models

import "time"

// Session groups the messages exchanged while one kind of conversation is active. Sessions are
// created on demand and are never deleted by the ask core.
type Session struct {
	ID        string
	Kind      string
	Active    bool
	CreatedAt time.Time
}

// Message is a single persisted turn. Once stored it is never modified.
type Message struct {
	ID        string
	SessionID string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser marks a question typed by the user.
	RoleUser Role = "user"
	// RoleAssistant marks text produced by the model, possibly partial.
	RoleAssistant Role = "assistant"
)

// SessionKindAsk is the session kind the ask flow stores its turns under.
const SessionKindAsk = "ask"

// ModelInfo is the model configuration currently selected by the user.
type ModelInfo struct {
	Provider string
	Model    string
	APIKey   string

	// BaseURL overrides the provider's default endpoint when set.
	BaseURL string

	Temperature float32
	MaxTokens   int
}

// Quality is the requested fidelity of a screen capture.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// ScreenshotResult is the outcome of a best-effort screen capture.
type ScreenshotResult struct {
	Success bool
	Base64  string
}
