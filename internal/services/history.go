package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultTranscriptSize is how many turns a transcript keeps when no size is given.
const DefaultTranscriptSize = 30

// Transcript is an in-memory history of recent conversation turns. Once full, every append drops
// the oldest turn.
type Transcript struct {
	mu      sync.RWMutex
	turns   []string
	maxSize int
}

// NewTranscript creates a Transcript keeping at most size turns.
func NewTranscript(size int) *Transcript {
	if size <= 0 {
		size = DefaultTranscriptSize
	}
	return &Transcript{maxSize: size}
}

// Append records a turn spoken by speaker. Blank turns are ignored. It never fails.
func (t *Transcript) Append(_ context.Context, speaker, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.turns = append(t.turns, formatTurn(speaker, text))
	if len(t.turns) > t.maxSize {
		trimmed := make([]string, t.maxSize)
		copy(trimmed, t.turns[len(t.turns)-t.maxSize:])
		t.turns = trimmed
	}
	return nil
}

// Reset drops every recorded turn.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = nil
}

// RecentTurns returns a copy of the recorded turns, oldest first.
func (t *Transcript) RecentTurns(context.Context) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]string, len(t.turns))
	copy(result, t.turns)
	return result, nil
}

// RedisClient is the subset of the go-redis client RedisHistory uses.
type RedisClient interface {
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
}

// RedisHistory keeps conversation turns in a Redis list, so that a transcriber running in another
// process can feed the ask flow.
type RedisHistory struct {
	client  RedisClient
	key     string
	maxSize int
}

// NewRedisHistory creates a RedisHistory on the list at key, capped at size turns.
func NewRedisHistory(client RedisClient, key string, size int) RedisHistory {
	if size <= 0 {
		size = DefaultTranscriptSize
	}
	return RedisHistory{
		client:  client,
		key:     key,
		maxSize: size,
	}
}

// Append pushes a turn and trims the list to its cap.
func (r RedisHistory) Append(ctx context.Context, speaker, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if err := r.client.RPush(ctx, r.key, formatTurn(speaker, text)).Err(); err != nil {
		return fmt.Errorf("error pushing turn: %w", err)
	}
	if err := r.client.LTrim(ctx, r.key, int64(-r.maxSize), -1).Err(); err != nil {
		return fmt.Errorf("error trimming history: %w", err)
	}
	return nil
}

// RecentTurns returns the newest turns, oldest first. A missing list is an empty history.
func (r RedisHistory) RecentTurns(ctx context.Context) ([]string, error) {
	turns, err := r.client.LRange(ctx, r.key, int64(-r.maxSize), -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading history: %w", err)
	}
	return turns, nil
}

// Close closes the client when it owns a connection pool.
func (r RedisHistory) Close() error {
	if c, ok := r.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func formatTurn(speaker, text string) string {
	speaker = strings.TrimSpace(speaker)
	if speaker == "" {
		return text
	}
	return speaker + ": " + text
}
