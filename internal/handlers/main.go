package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/MegaGrindStone/ask-stream/internal/models"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

// Asker is the ask lifecycle the HTTP front end drives.
type Asker interface {
	Submit(ctx context.Context, question string) models.Result
	Cancel()
	ToggleInput()
	State() models.RequestState
}

// TranscriptWriter records conversation turns that later ask requests use as history.
type TranscriptWriter interface {
	Append(ctx context.Context, speaker, text string) error
}

// Store defines read access to persisted sessions and their messages.
type Store interface {
	Sessions(ctx context.Context) ([]models.Session, error)
	Messages(ctx context.Context, sessionID string) ([]models.Message, error)
}

// Main serves the HTTP API and pushes every ask state snapshot to connected browsers over
// server-sent events. It implements the state sink the ask broadcaster delivers to.
type Main struct {
	sseSrv   *sse.Server
	markdown goldmark.Markdown

	asker      Asker
	transcript TranscriptWriter
	store      Store

	closed atomic.Bool

	logger *slog.Logger
}

type askEvent struct {
	models.RequestState
	ResponseHTML string `json:"responseHtml,omitempty"`
}

const (
	askSSETopic = "ask"

	errLoggerKey = "error"
)

var askSSEType = sse.Type("ask")

// NewMain creates a new Main instance. transcript may be nil, in which case turns posted to the
// transcript endpoint are rejected.
func NewMain(asker Asker, transcript TranscriptWriter, store Store, logger *slog.Logger) *Main {
	return &Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic, askSSETopic},
				}, true
			},
		},
		markdown: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(highlighting.WithStyle("monokai")),
			),
		),
		asker:      asker,
		transcript: transcript,
		store:      store,
		logger:     logger.With(slog.String("module", "handlers")),
	}
}

// Register adds the API routes to mux.
func (m *Main) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /ask", m.HandleAsk)
	mux.HandleFunc("POST /ask/cancel", m.HandleCancel)
	mux.HandleFunc("POST /ask/toggle", m.HandleToggle)
	mux.HandleFunc("GET /ask/state", m.HandleState)
	mux.HandleFunc("POST /transcript", m.HandleTranscript)
	mux.HandleFunc("GET /sessions", m.HandleSessions)
	mux.HandleFunc("GET /sessions/{id}/messages", m.HandleMessages)
	mux.Handle("GET /sse", m.sseSrv)
}

// OnUpdate publishes a snapshot to every subscriber. Once the request has ended, the response is
// also rendered from markdown to HTML; streaming snapshots carry the raw text only.
func (m *Main) OnUpdate(state models.RequestState) {
	ev := askEvent{RequestState: state}
	if state.Phase.Terminal() && state.ResponseText != "" {
		var buf bytes.Buffer
		if err := m.markdown.Convert([]byte(state.ResponseText), &buf); err != nil {
			m.logger.Warn("Failed to render response", slog.String(errLoggerKey, err.Error()))
		} else {
			ev.ResponseHTML = buf.String()
		}
	}

	data, err := json.Marshal(ev)
	if err != nil {
		m.logger.Error("Failed to marshal state", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{Type: askSSEType}
	msg.AppendData(string(data))
	if err := m.sseSrv.Publish(&msg, askSSETopic); err != nil {
		m.logger.Error("Failed to publish state", slog.String(errLoggerKey, err.Error()))
	}
}

// Alive reports whether the SSE server still accepts events.
func (m *Main) Alive() bool {
	return !m.closed.Load()
}

// Shutdown gracefully terminates the SSE server. It broadcasts a close message to all connected
// clients and waits up to 5 seconds for connections to terminate.
func (m *Main) Shutdown(ctx context.Context) error {
	m.closed.Store(true)

	e := &sse.Message{Type: sse.Type("close")}
	e.AppendData("bye")
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
