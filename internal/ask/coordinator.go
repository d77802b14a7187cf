// Package ask implements the request lifecycle of the ask flow: it accepts a question, keeps at
// most one request in flight, streams the provider's answer and publishes a snapshot of the
// lifecycle after every change.
package ask

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MegaGrindStone/ask-stream/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// ModelConfigProvider returns the model the user currently has selected. ok is false when no
// model is configured at all.
type ModelConfigProvider interface {
	Current(ctx context.Context) (info models.ModelInfo, ok bool)
}

// ScreenshotProvider captures the user's screen. Failures are reported through the result, never
// as an error.
type ScreenshotProvider interface {
	Capture(ctx context.Context, quality models.Quality) models.ScreenshotResult
}

// HistoryProvider returns recent plain-text conversation turns, oldest first.
type HistoryProvider interface {
	RecentTurns(ctx context.Context) ([]string, error)
}

// Stream is an open provider response body.
type Stream interface {
	io.Reader
	// Cancel aborts any pending Read. reason is kept for diagnostics.
	Cancel(reason error)
	Close() error
}

// Transport opens a streaming chat completion against the configured provider. The returned
// stream carries the provider's raw `data: ` frames.
type Transport interface {
	OpenStream(ctx context.Context, info models.ModelInfo, messages []goopenai.ChatCompletionMessage) (Stream, error)
}

// Deps are the collaborators a Coordinator is built from. Screenshots and History are optional.
type Deps struct {
	Models      ModelConfigProvider
	Screenshots ScreenshotProvider
	History     HistoryProvider
	Store       SessionStore
	Transport   Transport
}

// Coordinator owns the single in-flight request. Submitting a new question cancels the previous
// one before any new work starts.
type Coordinator struct {
	models      ModelConfigProvider
	screenshots ScreenshotProvider
	history     HistoryProvider
	transport   Transport
	gateway     Gateway
	broadcaster *Broadcaster

	logger *slog.Logger

	// mu guards the fields below and serialises every publish, so a superseded request can
	// never publish after its successor's first snapshot.
	mu     sync.Mutex
	seq    uint64
	live   *requestToken
	state  models.RequestState
	closed bool

	// inflight counts running Submit calls. Add only happens under mu while not closed.
	inflight sync.WaitGroup
}

type requestToken struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelCauseFunc
}

const errLoggerKey = "error"

// NewCoordinator creates a Coordinator in the idle state.
func NewCoordinator(deps Deps, broadcaster *Broadcaster, logger *slog.Logger) (*Coordinator, error) {
	if deps.Models == nil {
		return nil, errors.New("model config provider is required")
	}
	if deps.Store == nil {
		return nil, errors.New("session store is required")
	}
	if deps.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if broadcaster == nil {
		broadcaster = NewBroadcaster(nil)
	}

	return &Coordinator{
		models:      deps.Models,
		screenshots: deps.Screenshots,
		history:     deps.History,
		transport:   deps.Transport,
		gateway:     NewGateway(deps.Store, logger),
		broadcaster: broadcaster,
		logger:      logger.With(slog.String("module", "ask")),
		state:       models.IdleState(),
	}, nil
}

// State returns the latest snapshot.
func (c *Coordinator) State() models.RequestState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit asks question and returns once the answer stream has ended, however it ended. Failures
// while streaming are reported through the published state; the result is then still a success.
// Cancellation before streaming starts resolves to a successful "Cancelled" result.
func (c *Coordinator) Submit(ctx context.Context, question string) models.Result {
	question = strings.TrimSpace(question)
	if question == "" {
		c.logger.Warn("Cannot process empty message")
		return models.Result{
			Error: emptyMessage,
			Err:   fmt.Errorf("%w: question is empty", ErrValidation),
		}
	}

	tok, ok := c.begin(ctx, question)
	if !ok {
		c.logger.Warn("Rejected message after close")
		return models.Result{
			Error: closedMessage,
			Err:   ErrClosed,
		}
	}
	defer c.inflight.Done()
	defer c.finish(tok)

	c.logger.Info("Processing message",
		slog.Uint64("request", tok.id),
		slog.String("question", truncate(question, 50)))

	// The session and the user turn are written regardless of what happens next.
	sessionID, _ := c.gateway.ActiveSession(tok.ctx)
	if err := c.gateway.AppendMessage(tok.ctx, sessionID, models.RoleUser, question); err == nil {
		c.logger.Debug("Saved user prompt", slog.String("sessionID", sessionID))
	}

	if res, stop := c.aborted(tok); stop {
		return res
	}

	info, ok := c.models.Current(tok.ctx)
	if res, stop := c.aborted(tok); stop {
		return res
	}
	if !ok || strings.TrimSpace(info.APIKey) == "" {
		return c.fail(tok, notConfigured, fmt.Errorf("%w: %s", ErrConfig, notConfigured))
	}
	c.logger.Info("Using model",
		slog.String("provider", info.Provider),
		slog.String("model", info.Model))

	image := c.capture(tok.ctx)
	turns := c.recentTurns(tok.ctx)
	if res, stop := c.aborted(tok); stop {
		return res
	}

	messages := BuildPrompt(question, turns, image)

	stream, err := c.transport.OpenStream(tok.ctx, info, messages)
	if err != nil {
		if res, stop := c.aborted(tok); stop {
			return res
		}
		err = fmt.Errorf("%w: %w", ErrTransport, err)
		return c.fail(tok, err.Error(), err)
	}

	c.stream(tok, sessionID, stream)

	return models.Result{Success: true}
}

// Cancel cancels the in-flight request, if any. Calling it again, or with nothing in flight, does
// nothing.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live == nil {
		return
	}
	tok := c.live
	c.live = nil
	tok.cancel(fmt.Errorf("%w: %s", ErrCancelled, reasonUser))
	c.logger.Info("Cancelled request", slog.Uint64("request", tok.id))
}

// ToggleInput shows or hides the question input. While an answer is on screen the input is
// flipped; otherwise it is forced visible.
func (c *Coordinator) ToggleInput() {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.state
	if next.HasContent() {
		next.InputVisible = !next.InputVisible
	} else {
		next.InputVisible = true
	}
	c.state = next
	c.broadcaster.Publish(next)
}

// Close cancels the in-flight request and waits until every running Submit has returned, so a
// partial answer is persisted before the caller releases the store. Later submissions are
// rejected with ErrClosed. It returns ctx's error if the wait is cut short.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Cancel()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight request: %w", ctx.Err())
	}
}

func (c *Coordinator) begin(parent context.Context, question string) (*requestToken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false
	}
	c.inflight.Add(1)

	ctx, cancel := context.WithCancelCause(parent)

	c.seq++
	tok := &requestToken{
		id:     c.seq,
		ctx:    ctx,
		cancel: cancel,
	}
	prev := c.live
	c.live = tok
	if prev != nil {
		prev.cancel(fmt.Errorf("%w: %s", ErrCancelled, reasonSuperseded))
		c.logger.Info("Superseded request",
			slog.Uint64("request", prev.id),
			slog.Uint64("by", tok.id))
	}

	c.state = models.RequestState{
		Phase:        models.PhaseLoading,
		Question:     question,
		InputVisible: false,
	}
	c.broadcaster.Publish(c.state)

	return tok, true
}

func (c *Coordinator) finish(tok *requestToken) {
	c.mu.Lock()
	if c.live == tok {
		c.live = nil
	}
	c.mu.Unlock()

	tok.cancel(nil)
}

// update applies mutate to the current snapshot and publishes the result, unless tok has been
// superseded by a newer request.
func (c *Coordinator) update(tok *requestToken, mutate func(*models.RequestState)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tok.id != c.seq {
		return
	}
	next := c.state
	mutate(&next)
	c.state = next
	c.broadcaster.Publish(next)
}

func (c *Coordinator) aborted(tok *requestToken) (models.Result, bool) {
	if tok.ctx.Err() == nil {
		return models.Result{}, false
	}

	c.logger.Info("SendMessage operation was aborted",
		slog.Uint64("request", tok.id),
		slog.String("reason", context.Cause(tok.ctx).Error()))
	c.update(tok, func(s *models.RequestState) {
		s.Phase = models.PhaseCancelled
	})
	return models.Result{
		Success:  true,
		Response: cancelledMessage,
	}, true
}

func (c *Coordinator) fail(tok *requestToken, message string, err error) models.Result {
	c.logger.Error("Error processing message",
		slog.Uint64("request", tok.id),
		slog.String(errLoggerKey, err.Error()))
	c.update(tok, func(s *models.RequestState) {
		s.Phase = models.PhaseFailed
		s.ErrorMessage = message
	})
	return models.Result{
		Error: message,
		Err:   err,
	}
}

func (c *Coordinator) capture(ctx context.Context) string {
	if c.screenshots == nil {
		return ""
	}
	res := c.screenshots.Capture(ctx, models.QualityMedium)
	if !res.Success {
		c.logger.Debug("No screenshot attached")
		return ""
	}
	return res.Base64
}

func (c *Coordinator) recentTurns(ctx context.Context) []string {
	if c.history == nil {
		return nil
	}
	turns, err := c.history.RecentTurns(ctx)
	if err != nil {
		c.logger.Error("Failed to get conversation history", slog.String(errLoggerKey, err.Error()))
		return nil
	}
	if len(turns) == 0 {
		c.logger.Debug("No active conversation history found")
		return nil
	}
	c.logger.Debug("Using conversation history", slog.Int("turns", len(turns)))
	return turns
}

// stream runs the streaming state machine: Loading → Streaming → Completed, Cancelled or
// Failed. The final snapshot is always published before the assistant turn is persisted.
func (c *Coordinator) stream(tok *requestToken, sessionID string, stream Stream) {
	stop := context.AfterFunc(tok.ctx, func() {
		cause := context.Cause(tok.ctx)
		c.logger.Info("Aborting stream reader",
			slog.Uint64("request", tok.id),
			slog.String("reason", cause.Error()))
		stream.Cancel(cause)
	})
	defer func() {
		stop()
		if err := stream.Close(); err != nil {
			c.logger.Debug("Failed to close stream", slog.String(errLoggerKey, err.Error()))
		}
	}()

	c.update(tok, func(s *models.RequestState) {
		s.Phase = models.PhaseStreaming
	})

	dec := NewStreamDecoder()
	var response strings.Builder
	var readErr error
	for token, err := range dec.Stream(stream) {
		if err != nil {
			readErr = err
			break
		}
		if tok.ctx.Err() != nil {
			break
		}
		response.WriteString(token)
		text := response.String()
		c.update(tok, func(s *models.RequestState) {
			s.ResponseText = text
		})
	}

	phase := models.PhaseCompleted
	var errMessage string
	switch {
	case dec.Done():
	case tok.ctx.Err() != nil:
		phase = models.PhaseCancelled
		c.logger.Info("Stream reading was intentionally cancelled",
			slog.Uint64("request", tok.id),
			slog.String("reason", context.Cause(tok.ctx).Error()))
	case readErr != nil:
		phase = models.PhaseFailed
		err := fmt.Errorf("%w: error reading stream: %w", ErrTransport, readErr)
		errMessage = err.Error()
		c.logger.Error("Error while processing stream",
			slog.Uint64("request", tok.id),
			slog.String(errLoggerKey, errMessage))
	}

	text := response.String()
	c.update(tok, func(s *models.RequestState) {
		s.Phase = phase
		s.ResponseText = text
		s.ErrorMessage = errMessage
	})

	if text == "" {
		return
	}
	if err := c.gateway.AppendMessage(tok.ctx, sessionID, models.RoleAssistant, text); err == nil {
		c.logger.Debug("Saved assistant response",
			slog.String("sessionID", sessionID),
			slog.String("phase", string(phase)))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
