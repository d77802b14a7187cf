package ask

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MegaGrindStone/ask-stream/internal/models"
	"github.com/google/uuid"
)

// SessionStore persists sessions and their messages.
type SessionStore interface {
	// GetOrCreateActive returns the ID of the active session of the given kind, creating one if
	// there is none.
	GetOrCreateActive(ctx context.Context, kind string) (string, error)
	// AddMessage appends message to the session's log and returns the stored message ID.
	AddMessage(ctx context.Context, sessionID string, message models.Message) (string, error)
}

// Gateway appends ask turns to the session store. Every failure is logged here; callers may
// ignore the returned error.
type Gateway struct {
	store  SessionStore
	logger *slog.Logger
}

// NewGateway creates a Gateway writing to store.
func NewGateway(store SessionStore, logger *slog.Logger) Gateway {
	return Gateway{
		store:  store,
		logger: logger.With(slog.String("module", "persistence")),
	}
}

// ActiveSession resolves the active ask session, creating it when needed. Like AppendMessage it
// ignores ctx's cancellation.
func (g Gateway) ActiveSession(ctx context.Context) (string, error) {
	id, err := g.store.GetOrCreateActive(context.WithoutCancel(ctx), models.SessionKindAsk)
	if err != nil {
		err = fmt.Errorf("%w: failed to resolve active session: %w", ErrPersistence, err)
		g.logger.Error("Failed to resolve session", slog.String(errLoggerKey, err.Error()))
		return "", err
	}
	return id, nil
}

// AppendMessage stores one immutable message. It detaches from ctx's cancellation so that a
// partial answer can still be written after its request was cancelled.
func (g Gateway) AppendMessage(ctx context.Context, sessionID string, role models.Role, content string) error {
	if sessionID == "" {
		err := fmt.Errorf("%w: no session to append %s message to", ErrPersistence, role)
		g.logger.Error("Skipping message", slog.String(errLoggerKey, err.Error()))
		return err
	}

	msg := models.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	id, err := g.store.AddMessage(context.WithoutCancel(ctx), sessionID, msg)
	if err != nil {
		err = fmt.Errorf("%w: failed to add %s message: %w", ErrPersistence, role, err)
		g.logger.Error("Failed to persist message",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		return err
	}

	g.logger.Debug("Persisted message",
		slog.String("sessionID", sessionID),
		slog.String("messageID", id),
		slog.String("role", string(role)))
	return nil
}
