// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package wrw implements the scatter-gather socket writer referenced in
// spec.md §4.6: a worker accumulates several byte ranges against a
// connection and flushes them as one writev, instead of issuing a
// syscall per header line or chunk. Included as a reference pattern —
// it shares the same "reserve, append, flush" shape as the log ring in
// internal/vslring, but against a net.Conn instead of shared memory.
//
// Grounded on the teacher's transport.HTTPTransport response writing
// and biglog.Streamer's buffer/flush split, generalized from a single
// io.Writer call per response into a bounded iovec batch with partial
// write retry.
package wrw

import (
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/vanaheim-cache/vsl/internal/obs"
)

// ErrWriterReleased is returned by Write/Flush once a prior flush has
// failed: spec.md §7 requires "further writes on the same writer become
// no-ops until it is released."
var ErrWriterReleased = errors.New("wrw: writer released after failed flush")

// Writer gathers byte slices for one connection and flushes them with a
// single writev-equivalent call. Not safe for concurrent use — exactly
// like vslring.Log, it is owned by one worker goroutine at a time.
type Writer struct {
	conn net.Conn

	siov int // max iovecs per flush, spec.md §4.6's "at most siov iovecs"
	iov  net.Buffers

	sendTimeout time.Duration

	chunked   bool
	ciov      int // slot index reserved for the chunk-length header
	chunkSize int

	werr bool // spec.md §7: sticky failure flag
}

// Option configures a Writer at New time.
type Option func(*Writer)

// SendTimeout sets the wall-clock deadline for a Flush to make forward
// progress once it starts retrying a partial write.
func SendTimeout(d time.Duration) Option {
	return func(w *Writer) { w.sendTimeout = d }
}

// MaxIOVecs bounds how many pending byte ranges Write accumulates
// before auto-flushing.
func MaxIOVecs(n int) Option {
	return func(w *Writer) { w.siov = n }
}

// New returns a Writer over conn with the given default send_timeout.
func New(conn net.Conn, sendTimeout time.Duration, opts ...Option) *Writer {
	w := &Writer{conn: conn, siov: 64, sendTimeout: sendTimeout}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Released reports whether a prior flush failure has permanently
// disabled this writer.
func (w *Writer) Released() bool { return w.werr }

// Write appends p as one gathered range, auto-flushing first if the
// iovec array is already at capacity.
func (w *Writer) Write(p []byte) (int, error) {
	if w.werr {
		return 0, ErrWriterReleased
	}
	if len(w.iov) >= w.siov {
		if err := w.Flush(); err != nil {
			return 0, err
		}
	}
	w.iov = append(w.iov, p)
	return len(p), nil
}

// Chunked reserves a slot for an HTTP chunk-size header (written from a
// stack buffer at flush time, once the chunk's total size is known) and
// marks the writer as being inside a chunk.
func (w *Writer) Chunked() error {
	if w.werr {
		return ErrWriterReleased
	}
	w.chunked = true
	w.ciov = len(w.iov)
	w.iov = append(w.iov, nil) // placeholder for the size header
	w.chunkSize = 0
	return nil
}

// WriteChunk appends p to the chunk body opened by Chunked, tracking
// its total size for the deferred header.
func (w *Writer) WriteChunk(p []byte) (int, error) {
	if !w.chunked {
		return 0, errors.New("wrw: WriteChunk without a preceding Chunked")
	}
	n, err := w.Write(p)
	w.chunkSize += n
	return n, err
}

// EndChunk closes the chunk: backfills the reserved header slot and
// appends the trailing CRLF, per spec.md §4.6 ("one slot is reserved at
// ciov for the chunk length header, another slot is appended as the
// CRLF tail").
func (w *Writer) EndChunk() error {
	if !w.chunked {
		return errors.New("wrw: EndChunk without a preceding Chunked")
	}
	if w.ciov >= len(w.iov) {
		return errors.New("wrw: chunk header slot lost to an intervening flush")
	}
	w.iov[w.ciov] = []byte(fmt.Sprintf("%x\r\n", w.chunkSize))
	w.iov = append(w.iov, []byte("\r\n"))
	w.chunked = false
	return nil
}

// Flush issues the gathered writes as one writev-equivalent call
// (net.Buffers.WriteTo uses writev under the hood on platforms that
// support it), retrying on a partial write until either everything is
// sent or sendTimeout elapses. On failure the writer is permanently
// released: a Debug record would be emitted by the caller's log buffer
// (spec.md §7), so Flush's error is meant to be surfaced there.
func (w *Writer) Flush() error {
	if w.werr {
		return ErrWriterReleased
	}
	if len(w.iov) == 0 {
		return nil
	}

	deadline := time.Now().Add(w.sendTimeout)
	buf := w.iov
	w.iov = nil

	for len(buf) > 0 {
		if w.sendTimeout > 0 {
			if err := w.conn.SetWriteDeadline(deadline); err != nil {
				w.release(err)
				return err
			}
		}

		n, err := buf.WriteTo(w.conn)
		_ = n
		if err == nil {
			return nil
		}

		if w.sendTimeout > 0 && time.Now().After(deadline) {
			w.release(err)
			return fmt.Errorf("wrw: send_timeout exceeded with data still pending: %w", err)
		}

		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			continue // remaining iovecs in buf are retried as-is
		}

		w.release(err)
		return err
	}
	return nil
}

func (w *Writer) release(err error) {
	w.werr = true
	obs.L.Debug("wrw: flush failed, writer released", zap.Error(err))
}
