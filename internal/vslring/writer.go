// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vslring

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Log is a per-writer (per-worker-goroutine) accumulation buffer, the
// vsl_log from spec.md §4.4. Individual tagged sub-records are framed
// locally and only flushed to the shared Ring as a single TagBatch
// record, amortizing the ring's mutex over a whole transaction's worth
// of log lines. Grounded on the teacher's message_buffer.go, which
// accumulates framed messages into one buffer before a single writev.
//
// Not safe for concurrent use: one Log per goroutine, matching the
// teacher's per-connection buffer ownership.
type Log struct {
	ring *Ring
	mask *Mask

	vxid uint32
	buf  []byte
	recs uint32

	bufCap int // vsl_buffer: flush before a new record would overflow it

	// sync forces an immediate Flush after every Append, the spec.md §7
	// debug knob (SYNCVSL-equivalent) useful for tests and post-mortem
	// debugging where batching would otherwise hide the failing line.
	sync bool
}

// NewLog returns a writer buffer bound to ring, starting a transaction
// for vxid. mask may be nil (nothing suppressed). The buffer starts
// unbounded (only an explicit Flush/End drains it); WithBufferCap sets
// the vsl_buffer per-writer size from spec.md §6.
func NewLog(ring *Ring, mask *Mask, vxid uint32) *Log {
	return &Log{ring: ring, mask: mask, vxid: vxid}
}

// WithBufferCap sets the vsl_buffer ceiling: appendRaw flushes the
// buffer before a record would push it past this many bytes.
func (l *Log) WithBufferCap(n int) *Log {
	l.bufCap = n
	return l
}

// SetSync toggles immediate per-record flushing.
func (l *Log) SetSync(v bool) { l.sync = v }

// VXID returns the transaction id this buffer is currently tagged with.
func (l *Log) VXID() uint32 { return l.vxid }

func (l *Log) suppressed(tag Tag) bool {
	return l.mask != nil && l.mask.IsSet(tag)
}

// AppendText appends a NUL-terminated text record, truncated to
// reclen-1 if it runs over (spec.md §4.4). Returns ErrTruncated when
// truncation happened; the record is still appended.
func (l *Log) AppendText(tag Tag, text string) error {
	if l.suppressed(tag) {
		return nil
	}

	payload := append([]byte(text), 0)
	var truncErr error
	if max := l.ring.MaxRecLen(); max > 1 && len(payload) > max-1 {
		payload = payload[:max-1]
		payload[len(payload)-1] = 0
		truncErr = ErrTruncated
	}

	l.appendRaw(tag, payload)
	return truncErr
}

// AppendFmt is AppendText with fmt.Sprintf-style formatting. A format
// with no verbs degenerates straight to AppendText on the literal,
// matching spec.md §4.4's fast path for callers that pass pre-built
// strings through the fmt entry point.
func (l *Log) AppendFmt(tag Tag, format string, args ...any) error {
	if l.suppressed(tag) {
		return nil
	}
	if !strings.Contains(format, "%") {
		return l.AppendText(tag, format)
	}
	return l.AppendText(tag, fmt.Sprintf(format, args...))
}

// AppendBin hex-encodes payload (two ASCII chars per byte) into a
// NUL-terminated record, for tags marked Binary in the tag table such
// as TagReqAcct. If the encoded form would exceed half of reclen-1, it
// is truncated and a trailing '-' marks the cut (spec.md §4.4).
func (l *Log) AppendBin(tag Tag, payload []byte) error {
	if l.suppressed(tag) {
		return nil
	}

	encoded := hex.EncodeToString(payload)
	var truncErr error
	if max := l.ring.MaxRecLen(); max > 0 {
		limit := (max - 1) / 2
		if len(encoded) > limit {
			// keep the cut on a whole-byte (two hex chars) boundary
			cut := limit
			if cut%2 != 0 {
				cut--
			}
			encoded = encoded[:cut] + "-"
			truncErr = ErrTruncated
		}
	}

	l.appendRaw(tag, append([]byte(encoded), 0))
	return truncErr
}

// AppendTS appends a Timestamp record in "<event>: <now> <now-first>
// <now-prev>" form (spec.md §4.4/§8 scenario 5) and returns the value
// callers should pass as prevInOut on the next call.
func (l *Log) AppendTS(event string, first, prevInOut, now float64) (newPrev float64, err error) {
	err = l.AppendFmt(TagTimestamp, "%s: %f %f %f", event, now, now-first, now-prevInOut)
	return now, err
}

// Begin opens a transaction record linking this vxid to its parent
// (typ names the transaction type, e.g. "sess", "req", "bereq"; why
// gives the reason).
func (l *Log) Begin(typ string, parentVXID uint32, why string) error {
	return l.AppendFmt(TagBegin, "%s %d %s", typ, parentVXID, why)
}

// End closes out the transaction with an empty End record and flushes
// the buffer unconditionally. Post-condition: VXID() reads 0.
func (l *Log) End() error {
	err := l.AppendText(TagEnd, "")
	flushErr := l.Flush()
	l.vxid = 0
	if err != nil {
		return err
	}
	return flushErr
}

// Link records a parent/child relationship between two transactions
// without closing the current one (e.g. a request linking to a spawned
// ESI sub-request).
func (l *Log) Link(childType string, childVXID uint32, reason string) error {
	return l.AppendFmt(TagLink, "%s %d %s", childType, childVXID, reason)
}

// ChangeID implements spec.md §4.4's change_id: link the old
// transaction to newVXID under why, end it (flushing and clearing
// VXID), then rebind and open a fresh Begin record under the new id.
func (l *Log) ChangeID(typ string, why string, newVXID uint32) error {
	oldVXID := l.vxid

	if err := l.Link(typ, newVXID, why); err != nil {
		return err
	}
	if err := l.End(); err != nil {
		return err
	}

	l.vxid = newVXID
	return l.Begin(typ, oldVXID, why)
}

func (l *Log) appendRaw(tag Tag, payload []byte) {
	need := recordBytes(len(payload))
	if l.bufCap > 0 && l.recs > 0 && len(l.buf)+need > l.bufCap {
		_ = l.flush()
	}

	word0 := headerWord(tag, uint32(len(payload)))
	start := len(l.buf)
	l.buf = append(l.buf, make([]byte, 8)...)
	enc.PutUint32(l.buf[start:], word0)
	enc.PutUint32(l.buf[start+4:], l.vxid)
	l.buf = append(l.buf, payload...)
	if pad := wordsFor(len(payload))*4 - len(payload); pad > 0 {
		l.buf = append(l.buf, make([]byte, pad)...)
	}
	l.recs++

	if l.sync {
		_ = l.flush()
	}
}

// Flush publishes any buffered records to the ring as a single batch
// record and resets the buffer. A no-op when nothing is buffered.
func (l *Log) Flush() error {
	return l.flush()
}

func (l *Log) flush() error {
	if l.recs == 0 {
		return nil
	}
	l.ring.PublishBatch(l.buf, l.recs)
	l.buf = l.buf[:0]
	l.recs = 0
	return nil
}
