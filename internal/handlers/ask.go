package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/ask-stream/internal/ask"
)

// HandleAsk submits the "question" form field and responds once the answer stream has ended.
// Progress is delivered over SSE in the meantime. A client that disconnects early does not
// cancel the request; POST /ask/cancel does.
//
// The body is the submission result as JSON. Validation failures answer 400, a missing model
// configuration 412, a provider that cannot be reached 502 and a server shutting down 503.
func (m *Main) HandleAsk(w http.ResponseWriter, r *http.Request) {
	question := r.FormValue("question")

	res := m.asker.Submit(context.WithoutCancel(r.Context()), question)

	status := http.StatusOK
	switch {
	case errors.Is(res.Err, ask.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(res.Err, ask.ErrConfig):
		status = http.StatusPreconditionFailed
	case errors.Is(res.Err, ask.ErrTransport):
		status = http.StatusBadGateway
	case errors.Is(res.Err, ask.ErrClosed):
		status = http.StatusServiceUnavailable
	case res.Err != nil:
		status = http.StatusInternalServerError
	}
	if res.Err != nil {
		m.logger.Warn("Ask failed",
			slog.Int("status", status),
			slog.String(errLoggerKey, res.Err.Error()))
	}

	writeJSON(w, status, res)
}

// HandleCancel cancels the in-flight request, if any.
func (m *Main) HandleCancel(w http.ResponseWriter, _ *http.Request) {
	m.asker.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

// HandleToggle shows or hides the question input.
func (m *Main) HandleToggle(w http.ResponseWriter, _ *http.Request) {
	m.asker.ToggleInput()
	writeJSON(w, http.StatusOK, m.asker.State())
}

// HandleState returns the current snapshot, for clients that connect mid-request.
func (m *Main) HandleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.asker.State())
}

// HandleTranscript records one conversation turn from the "speaker" and "text" form fields.
func (m *Main) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	if m.transcript == nil {
		http.Error(w, "Transcript is not enabled", http.StatusNotFound)
		return
	}

	text := r.FormValue("text")
	if strings.TrimSpace(text) == "" {
		http.Error(w, "Text is required", http.StatusBadRequest)
		return
	}

	if err := m.transcript.Append(r.Context(), r.FormValue("speaker"), text); err != nil {
		m.logger.Error("Failed to append transcript", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionResponse struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"createdAt"`
}

type messageResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

// HandleSessions lists stored sessions, newest first.
func (m *Main) HandleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := m.store.Sessions(r.Context())
	if err != nil {
		m.logger.Error("Failed to get sessions", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	res := make([]sessionResponse, len(sessions))
	for i, s := range sessions {
		res[i] = sessionResponse{
			ID:        s.ID,
			Kind:      s.Kind,
			Active:    s.Active,
			CreatedAt: s.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleMessages returns the messages of one session in the order they were written.
func (m *Main) HandleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	messages, err := m.store.Messages(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to get messages",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	res := make([]messageResponse, len(messages))
	for i, msg := range messages {
		res[i] = messageResponse{
			ID:        msg.ID,
			Role:      string(msg.Role),
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, res)
}

var _ ask.StateSink = (*Main)(nil)

var _ Asker = (*ask.Coordinator)(nil)
