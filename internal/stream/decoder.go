// Package stream decodes incremental chat-completion responses into ordered
// text deltas, and batches those deltas behind a debounce window so
// rendering cost does not grow with transcript length.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"sidekick/internal/errdefs"
	"sidekick/internal/provider"
)

// maxLineBytes bounds a single response line. Delta records are tiny; a
// line this large means the stream is garbage.
const maxLineBytes = 1 << 20

const eventStreamPrefix = "data: "

// doneMarker ends an event stream.
const doneMarker = "[DONE]"

// Deltas returns the ordered text-delta sequence decoded from r in the
// given wire format. The sequence ends on the format's terminal signal
// (done:true or [DONE]) or on end of input.
//
// A chunk boundary may split a line anywhere; the trailing partial line of
// each read is held and re-joined before splitting, so the emitted sequence
// is identical for every chunking of the same bytes. Malformed JSON lines
// are skipped silently — one bad line never corrupts the stream.
//
// Cancelling ctx ends the sequence with errdefs.ErrAborted, never with a
// silent completion. Errors are yielded as the final element.
func Deltas(ctx context.Context, r io.Reader, format provider.WireFormat) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

		for scanner.Scan() {
			if ctx.Err() != nil {
				yield("", fmt.Errorf("%w: %v", errdefs.ErrAborted, ctx.Err()))
				return
			}

			delta, done, ok := decodeLine(scanner.Text(), format)
			if !ok {
				continue
			}
			if delta != "" && !yield(delta, nil) {
				return
			}
			// The delta of a terminal line is emitted before the stream
			// ends, even if further bytes are buffered.
			if done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				yield("", fmt.Errorf("%w: %v", errdefs.ErrAborted, err))
				return
			}
			yield("", fmt.Errorf("%w: reading stream: %v", errdefs.ErrTransient, err))
		}
	}
}

// decodeLine parses one line of the stream. ok is false for lines that
// carry nothing: blanks, comments, and malformed JSON.
func decodeLine(line string, format provider.WireFormat) (delta string, done, ok bool) {
	switch format {
	case provider.WireNativeChat:
		return decodeJSONLine(line)
	default:
		return decodeEventLine(line)
	}
}

// decodeEventLine handles the event-stream format: "data: <json>" records
// terminated by a literal [DONE]; every other line is ignored.
func decodeEventLine(line string) (string, bool, bool) {
	payload, found := strings.CutPrefix(line, eventStreamPrefix)
	if !found {
		return "", false, false
	}
	if strings.TrimSpace(payload) == doneMarker {
		return "", true, true
	}

	var record struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return "", false, false // parse errors never escape
	}
	if len(record.Choices) == 0 {
		return "", false, false
	}
	return record.Choices[0].Delta.Content, false, true
}

// decodeJSONLine handles line-delimited JSON: every non-blank line is one
// object carrying optional content and a done flag.
func decodeJSONLine(line string) (string, bool, bool) {
	if strings.TrimSpace(line) == "" {
		return "", false, false
	}

	var record struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Done bool `json:"done"`
	}
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return "", false, false // parse errors never escape
	}
	return record.Message.Content, record.Done, true
}

// Collect drains a delta sequence into the final text. Convenience for
// non-interactive consumers and tests.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for delta, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(delta)
	}
	return b.String(), nil
}
