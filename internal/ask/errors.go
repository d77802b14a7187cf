package ask

import "errors"

// Error classes reported by the coordinator. Causes are wrapped with these so callers can
// classify a Result.Err with errors.Is.
var (
	// ErrValidation is returned for an empty or whitespace-only question.
	ErrValidation = errors.New("validation error")
	// ErrConfig is returned when no usable model credentials are configured.
	ErrConfig = errors.New("config error")
	// ErrTransport wraps network and stream failures not caused by cancellation.
	ErrTransport = errors.New("transport error")
	// ErrCancelled is the cause attached to a superseded or explicitly cancelled request.
	ErrCancelled = errors.New("request cancelled")
	// ErrPersistence wraps session store failures. These are logged only.
	ErrPersistence = errors.New("persistence error")
	// ErrClosed is returned for questions submitted after the coordinator was closed.
	ErrClosed = errors.New("coordinator closed")
)

const (
	emptyMessage     = "Empty message"
	notConfigured    = "AI model or API key not configured."
	cancelledMessage = "Cancelled"
	closedMessage    = "Shutting down."

	reasonSuperseded = "New request received."
	reasonUser       = "Request cancelled by user."
)
