// Package sse splits a Server-Sent Events byte stream into frame payloads.
//
// A frame ends at a blank line. Its payload is the text after the "data: "
// prefix of each data line; other fields and comments are ignored. Bytes
// after the last complete frame are held until more input arrives.
package sse

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"strings"
)

// DefaultBufferSize is the read size used by Frames when none is given.
const DefaultBufferSize = 4096

const dataPrefix = "data: "

var (
	delimiter = []byte("\n\n")
	crlf      = []byte("\r\n")
	lf        = []byte("\n")
)

// Decoder accumulates chunks and emits complete frame payloads. It is not
// safe for concurrent use; use one Decoder per stream.
type Decoder struct {
	pending []byte
	closed  bool
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the pending buffer and returns the payloads of every
// frame whose delimiter has now been seen, in order.
func (d *Decoder) Feed(chunk []byte) []string {
	if d.closed || len(chunk) == 0 {
		return nil
	}
	d.pending = append(d.pending, chunk...)

	// A lone trailing '\r' may be the first half of a CRLF split across
	// chunks, so only complete pairs are normalized.
	if bytes.Contains(d.pending, crlf) {
		d.pending = bytes.ReplaceAll(d.pending, crlf, lf)
	}

	var payloads []string
	for {
		i := bytes.Index(d.pending, delimiter)
		if i < 0 {
			break
		}
		frame := d.pending[:i]
		d.pending = d.pending[i+len(delimiter):]
		if p, ok := payload(frame); ok {
			payloads = append(payloads, p)
		}
	}

	// Reclaim the consumed prefix once the buffer is drained.
	if len(d.pending) == 0 {
		d.pending = d.pending[:0:0]
	}
	return payloads
}

// Pending reports the number of buffered bytes not yet part of a frame.
func (d *Decoder) Pending() int {
	return len(d.pending)
}

// Close ends the stream. Any incomplete trailing frame is discarded and the
// number of dropped bytes is returned. Feed is a no-op after Close.
func (d *Decoder) Close() (dropped int) {
	dropped = len(bytes.TrimRight(d.pending, "\n"))
	d.pending = nil
	d.closed = true
	return dropped
}

// payload extracts the data of one frame. Multiple data lines are joined
// with a newline. A frame without data lines has no payload.
func payload(frame []byte) (string, bool) {
	var (
		lines []string
		found bool
	)
	for line := range strings.SplitSeq(string(frame), "\n") {
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, dataPrefix); ok {
			lines = append(lines, rest)
			found = true
		}
	}
	if !found {
		return "", false
	}
	return strings.Join(lines, "\n"), true
}

// ErrIncompleteFrame is reported when a stream ends in the middle of a frame.
var ErrIncompleteFrame = errors.New("stream ended with an incomplete frame")

// Frames lazily reads r and yields frame payloads. Iteration ends when r
// returns io.EOF, when the consumer stops, or when ctx is cancelled. A read
// failure or cancellation is yielded once as ("", err) and ends iteration.
// An incomplete trailing frame at EOF is dropped and yielded as
// ("", ErrIncompleteFrame) so callers can report it; it is not fatal.
func Frames(ctx context.Context, r io.Reader, bufSize int) iter.Seq2[string, error] {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return func(yield func(string, error) bool) {
		dec := NewDecoder()
		buf := make([]byte, bufSize)
		for {
			if err := ctx.Err(); err != nil {
				dec.Close()
				yield("", err)
				return
			}

			n, err := r.Read(buf)
			if n > 0 {
				for _, p := range dec.Feed(buf[:n]) {
					if !yield(p, nil) {
						return
					}
				}
			}

			if errors.Is(err, io.EOF) {
				if dec.Close() > 0 {
					yield("", ErrIncompleteFrame)
				}
				return
			}
			if err != nil {
				dec.Close()
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				yield("", err)
				return
			}
		}
	}
}
