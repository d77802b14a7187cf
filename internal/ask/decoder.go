package ask

import (
	"bytes"
	"errors"
	"io"
	"iter"

	"github.com/tidwall/gjson"
)

const (
	framePrefix = "data: "
	frameDone   = "[DONE]"

	tokenPath = "choices.0.delta.content"

	readBufferSize = 4 * 1024
)

// StreamDecoder turns the provider's newline-delimited `data: ` frames into text tokens. Bytes
// are buffered across Feed calls so a frame may straddle chunk boundaries.
//
// A StreamDecoder is not safe for concurrent use.
type StreamDecoder struct {
	pending []byte
	done    bool
}

// NewStreamDecoder returns a decoder with an empty buffer.
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{}
}

// Done reports whether the end-of-stream frame has been seen.
func (d *StreamDecoder) Done() bool {
	return d.done
}

// Feed consumes one chunk and returns the tokens of every frame it completes, in frame order.
// Input after the end-of-stream frame is ignored.
func (d *StreamDecoder) Feed(chunk []byte) []string {
	if d.done {
		return nil
	}
	d.pending = append(d.pending, chunk...)

	var tokens []string
	for !d.done {
		idx := bytes.IndexByte(d.pending, '\n')
		if idx < 0 {
			break
		}
		line := d.pending[:idx]
		d.pending = d.pending[idx+1:]
		if token, ok := d.frame(line); ok {
			tokens = append(tokens, token)
		}
	}
	if d.done {
		d.pending = nil
	}
	return tokens
}

// Flush decodes a trailing record that was never newline-terminated. It is meant to be called
// once the underlying reader reports EOF.
func (d *StreamDecoder) Flush() []string {
	if d.done || len(d.pending) == 0 {
		return nil
	}
	line := d.pending
	d.pending = nil
	if token, ok := d.frame(line); ok {
		return []string{token}
	}
	return nil
}

func (d *StreamDecoder) frame(line []byte) (string, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, []byte(framePrefix)) {
		return "", false
	}
	payload := line[len(framePrefix):]
	if string(payload) == frameDone {
		d.done = true
		return "", false
	}
	// Malformed payloads are dropped; the next frame may be fine.
	if !gjson.ValidBytes(payload) {
		return "", false
	}
	content := gjson.GetBytes(payload, tokenPath)
	if content.Type != gjson.String || content.Str == "" {
		return "", false
	}
	return content.Str, true
}

// Stream reads r to exhaustion and yields tokens as their frames complete. The sequence stops
// at the end-of-stream frame or EOF; any other read error is yielded once and ends the
// sequence. The sequence consumes r and cannot be restarted.
func (d *StreamDecoder) Stream(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		buf := make([]byte, readBufferSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, token := range d.Feed(buf[:n]) {
					if !yield(token, nil) {
						return
					}
				}
				if d.done {
					return
				}
			}
			if err == nil {
				continue
			}
			if errors.Is(err, io.EOF) {
				for _, token := range d.Flush() {
					if !yield(token, nil) {
						return
					}
				}
				return
			}
			yield("", err)
			return
		}
	}
}
