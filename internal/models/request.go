package models

// Phase is one discrete state of a request's lifecycle.
type Phase string

const (
	// PhaseIdle is the state before any question has been submitted.
	PhaseIdle Phase = "idle"
	// PhaseLoading covers everything between acceptance of a question and the first byte of the
	// provider stream: session resolution, configuration lookup, screenshot and history capture.
	PhaseLoading Phase = "loading"
	// PhaseStreaming is active while tokens are being read from the provider.
	PhaseStreaming Phase = "streaming"
	// PhaseCompleted means the provider signalled end-of-stream.
	PhaseCompleted Phase = "completed"
	// PhaseCancelled means the request was superseded or cancelled explicitly.
	PhaseCancelled Phase = "cancelled"
	// PhaseFailed means the request could not finish because of a non-cancellation error.
	PhaseFailed Phase = "failed"
)

// Terminal reports whether p ends a request's lifecycle.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseCancelled, PhaseFailed:
		return true
	default:
		return false
	}
}

// RequestState is an immutable snapshot of the ask lifecycle. A new value is produced on every
// transition; holders of an older value never observe later changes.
type RequestState struct {
	Phase        Phase  `json:"phase"`
	Question     string `json:"question"`
	ResponseText string `json:"responseText"`
	InputVisible bool   `json:"inputVisible"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// IdleState returns the state a fresh coordinator starts in.
func IdleState() RequestState {
	return RequestState{
		Phase:        PhaseIdle,
		InputVisible: true,
	}
}

// Loading reports whether the request is still preparing its provider stream.
func (s RequestState) Loading() bool { return s.Phase == PhaseLoading }

// Streaming reports whether tokens are currently being received.
func (s RequestState) Streaming() bool { return s.Phase == PhaseStreaming }

// HasContent reports whether there is an answer on screen, either complete or in progress.
func (s RequestState) HasContent() bool {
	return s.Streaming() || s.ResponseText != ""
}

// Result is what a submission resolves to once its stream loop has returned.
type Result struct {
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`

	// Err carries the classified cause for Go callers. It is nil on success.
	Err error `json:"-"`
}
