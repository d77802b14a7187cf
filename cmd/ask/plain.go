package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/MegaGrindStone/ask-stream/internal/models"
)

// plainSink writes the growing answer to w as it streams in.
type plainSink struct {
	mu      sync.Mutex
	w       io.Writer
	printed int
	failure string
}

func newPlainSink(w io.Writer) *plainSink {
	return &plainSink{w: w}
}

func (s *plainSink) OnUpdate(state models.RequestState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch state.Phase {
	case models.PhaseLoading:
		s.printed = 0
		s.failure = ""
		return
	case models.PhaseFailed:
		s.failure = state.ErrorMessage
	}

	text := state.ResponseText
	if len(text) > s.printed {
		fmt.Fprint(s.w, text[s.printed:])
		s.printed = len(text)
	}
}

// finish terminates the answer line and reports a failure, if the request ended with one.
func (s *plainSink) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.printed > 0 {
		fmt.Fprintln(s.w)
	}
	if s.failure != "" {
		fmt.Fprintln(s.w, s.failure)
	}
}
