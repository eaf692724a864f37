// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vslring

import (
	"context"
	"time"
)

// Record is a decoded ring entry as a reader sees it: either an
// ordinary tagged record (VXID set, Batch nil) or a batch record
// (Batch holding the individually-framed sub-records it was built
// from, per spec.md §4.4).
type Record struct {
	Tag     Tag
	VXID    uint32
	Payload []byte
	Batch   []Record
}

// Reader walks a Ring the way an out-of-process consumer would after
// mmap'ing the same arena file read-only: it never takes the writer's
// mutex, relying entirely on the atomic segment_n/offset-table/header
// protocol from spec.md §4.3 and §9 to stay consistent with an
// in-flight writer.
//
// Kept in-process here (rather than as a second mmap handle) because
// the arena is already shared via the same *vsm.Arena in this binary;
// a real external reader would instead open the arena file and re-run
// Attach against its own mapping.
type Reader struct {
	ring *Ring
	pos  int // next word offset to read from, within the current segment walk

	started bool
}

// NewReader begins reading at the ring's current tail: the oldest
// segment still present in the offset table, per spec.md §6 ("a reader
// starting cold finds its place via the offset table, not segment_n
// alone").
func NewReader(ring *Ring) *Reader {
	return &Reader{ring: ring}
}

// Next blocks (polling, like a real mmap reader with no wakeup
// mechanism) until a new record is visible or ctx is done. It returns
// io.EOF-free: ctx.Err() is the only error, matching a log tailer's
// "just keep waiting" semantics.
func (r *Reader) Next(ctx context.Context) (Record, error) {
	if !r.started {
		r.seekToOldest()
		r.started = true
	}

	for {
		word := r.ring.BodyWordLoad(r.pos)
		tag, length := decodeHeader(word)

		switch word {
		case EndMarker:
			if err := r.wait(ctx); err != nil {
				return Record{}, err
			}
			continue
		case WrapMarker:
			r.pos = 0
			continue
		}

		vxidWord := r.ring.BodyWordLoad(r.pos + 1)
		if tag == TagBatch {
			// A batch header carries length 0; word 1 holds the payload length.
			length = vxidWord
		}
		nwords := wordsFor(int(length))
		payload := make([]byte, length)
		if length > 0 {
			copy(payload, r.ring.plainBodyBytes(r.pos+2, int(length)))
		}
		r.pos += 2 + nwords
		if r.pos >= r.ring.RingLen() {
			r.pos = 0
		}

		if tag == TagBatch {
			return r.decodeBatch(vxidWord, payload), nil
		}
		return Record{Tag: tag, VXID: vxidWord, Payload: payload}, nil
	}
}

func (r *Reader) decodeBatch(batchLen uint32, buf []byte) Record {
	out := Record{Tag: TagBatch}
	off := 0
	for off+8 <= len(buf) && off+8 <= int(batchLen) {
		word := enc.Uint32(buf[off:])
		tag, length := decodeHeader(word)
		vxid := enc.Uint32(buf[off+4:])
		start := off + 8
		end := start + int(length)
		if end > len(buf) {
			break
		}
		out.Batch = append(out.Batch, Record{Tag: tag, VXID: vxid, Payload: buf[start:end]})
		off = start + wordsFor(int(length))*4
	}
	return out
}

// seekToOldest positions the reader at the first record of the oldest
// still-present segment. The lowest offset value is not the oldest data
// — it is whichever segment begins at physical position 0. The oldest
// surviving segment is instead the one immediately after the writer's
// current segment: that is the next slot the writer will overwrite, so
// it holds the least-recently-written data still on the ring
// (spec.md §6).
func (r *Reader) seekToOldest() {
	k := r.ring.K()
	currentSlot := int(r.ring.SegmentN() % uint32(k))
	oldestSlot := (currentSlot + 1) % k

	off := r.ring.OffsetLoad(oldestSlot)
	if off < 0 {
		// The writer has not reached that slot yet: nothing has been
		// overwritten, so the ring base holds the oldest data.
		r.pos = 0
		return
	}
	r.pos = int(off)
}

// wait polls segment_n for any change (a new record or a wrap having
// occurred), sleeping briefly between checks. A real external reader
// without a futex channel does the same; it is the polling loop named
// in spec.md §9's accepted tradeoffs.
func (r *Reader) wait(ctx context.Context) error {
	const pollInterval = 2 * time.Millisecond
	start := r.ring.SegmentN()
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if r.ring.SegmentN() != start {
				return nil
			}
			if r.ring.BodyWordLoad(r.pos) != EndMarker {
				return nil
			}
		}
	}
}
