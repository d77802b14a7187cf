package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MegaGrindStone/ask-stream/internal/services"
	"github.com/redis/go-redis/v9"
)

type mockRedis struct {
	lists   map[string][]string
	readErr error
	closed  int
}

func TestTranscript(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		appends [][2]string
		want    []string
	}{
		{
			name: "Empty",
			size: 3,
			want: []string{},
		},
		{
			name:    "Speakers and blanks",
			size:    3,
			appends: [][2]string{{"me", "hello"}, {"them", "  "}, {"", "no speaker"}},
			want:    []string{"me: hello", "no speaker"},
		},
		{
			name:    "Oldest dropped",
			size:    2,
			appends: [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}},
			want:    []string{"b: 2", "c: 3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := services.NewTranscript(tt.size)
			for _, a := range tt.appends {
				_ = tr.Append(context.Background(), a[0], a[1])
			}

			got, err := tr.RecentTurns(context.Background())
			if err != nil {
				t.Fatalf("RecentTurns() error = %v", err)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("RecentTurns() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTranscriptReturnsCopy(t *testing.T) {
	tr := services.NewTranscript(0)
	_ = tr.Append(context.Background(), "me", "first")

	got, _ := tr.RecentTurns(context.Background())
	got[0] = "changed"

	again, _ := tr.RecentTurns(context.Background())
	if again[0] != "me: first" {
		t.Errorf("RecentTurns() = %q, caller mutated the transcript", again)
	}

	tr.Reset()
	if got, _ := tr.RecentTurns(context.Background()); len(got) != 0 {
		t.Errorf("RecentTurns() after Reset = %q", got)
	}
}

func TestRedisHistory(t *testing.T) {
	ctx := context.Background()
	client := &mockRedis{lists: map[string][]string{}}
	h := services.NewRedisHistory(client, "ask:history", 2)

	if got, err := h.RecentTurns(ctx); err != nil || len(got) != 0 {
		t.Fatalf("RecentTurns() on empty list = %q, %v", got, err)
	}

	for _, turn := range []string{"one", "two", "", "three"} {
		if err := h.Append(ctx, "them", turn); err != nil {
			t.Fatalf("Append(%q) error = %v", turn, err)
		}
	}

	got, err := h.RecentTurns(ctx)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	want := []string{"them: two", "them: three"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("RecentTurns() = %q, want %q", got, want)
	}
	if n := len(client.lists["ask:history"]); n != 2 {
		t.Errorf("list holds %d entries after trim, want 2", n)
	}
}

func TestRedisHistoryError(t *testing.T) {
	client := &mockRedis{lists: map[string][]string{}, readErr: errors.New("connection refused")}
	h := services.NewRedisHistory(client, "ask:history", 0)

	if _, err := h.RecentTurns(context.Background()); err == nil {
		t.Error("RecentTurns() should surface the read error")
	}
}

func TestRedisHistoryClose(t *testing.T) {
	client := &mockRedis{lists: map[string][]string{}}
	h := services.NewRedisHistory(client, "ask:history", 0)

	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.closed != 1 {
		t.Errorf("client closed %d times, want 1", client.closed)
	}
}

func (m *mockRedis) Close() error {
	m.closed++
	return nil
}

func (m *mockRedis) LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	if m.readErr != nil {
		cmd := redis.NewStringSliceCmd(ctx)
		cmd.SetErr(m.readErr)
		return cmd
	}
	list := m.lists[key]
	s, e := bounds(len(list), start, stop)
	return redis.NewStringSliceResult(append([]string(nil), list[s:e]...), nil)
}

func (m *mockRedis) RPush(_ context.Context, key string, values ...any) *redis.IntCmd {
	for _, v := range values {
		m.lists[key] = append(m.lists[key], fmt.Sprint(v))
	}
	return redis.NewIntResult(int64(len(m.lists[key])), nil)
}

func (m *mockRedis) LTrim(_ context.Context, key string, start, stop int64) *redis.StatusCmd {
	list := m.lists[key]
	s, e := bounds(len(list), start, stop)
	m.lists[key] = append([]string(nil), list[s:e]...)
	return redis.NewStatusResult("OK", nil)
}

// bounds converts inclusive Redis list indexes, which may be negative, to a slice range.
func bounds(n int, start, stop int64) (int, int) {
	if start < 0 {
		start += int64(n)
	}
	if stop < 0 {
		stop += int64(n)
	}
	if start < 0 {
		start = 0
	}
	if stop >= int64(n) {
		stop = int64(n) - 1
	}
	if start > stop {
		return 0, 0
	}
	return int(start), int(stop) + 1
}
