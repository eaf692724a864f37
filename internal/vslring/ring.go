// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vslring

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/vanaheim-cache/vsl/internal/config"
	"github.com/vanaheim-cache/vsl/internal/obs"
	"github.com/vanaheim-cache/vsl/internal/vsm"
)

// vslHeadMarker identifies the ring layout to an attaching reader, the
// way spec.md §6 names VSL_HEAD_MARKER. Fixed width, NUL-padded.
const vslHeadMarker = "VSLHEAD2\x00\x00\x00\x00"

const (
	hdrMagicOff     = 0                    // len(vslHeadMarker) bytes
	hdrSegSizeOff   = len(vslHeadMarker)   // uint32: words per segment
	hdrSegmentNOff  = hdrSegSizeOff + 4    // uint32: segment_n
	hdrOffsetTabOff = hdrSegmentNOff + 4   // K * int32: offset table
)

func headerBytes(k int) int {
	return hdrOffsetTabOff + k*4
}

// ErrNotReady is returned by Attach when the header magic does not match,
// i.e. the segment was never initialized by New.
var ErrNotReady = errors.New("vslring: segment header not initialized")

// Option configures a Ring at New time.
type Option func(*Ring)

// InitialSegmentN overrides the default segment_n seed. Spec.md §9/§5
// seeds segment_n at UINT_MAX-(K-1) specifically so the very first wrap
// exercises 32-bit overflow; tests that want a deterministic near-term
// wrap use this option directly rather than waiting out billions of
// writes.
func InitialSegmentN(n uint32) Option {
	return func(r *Ring) { r.segmentN = n }
}

// Ring is the global, process-wide log ring described in spec.md §4.3.
// All mutation of the write cursor, segment table, and the writer-visible
// totals is serialized on mu (vsl_mtx in spec.md §5) — the only other
// coarse lock in the design besides vsm's arena mutex.
type Ring struct {
	mu sync.Mutex // vsl_mtx

	head []byte // header bytes: magic, segsize, segment_n, offset[K]
	body []byte // ring body: segsize*K words

	k       int // SEGMENTS, fixed per spec.md §6
	segSize int // words per segment
	ringLen int // words in the whole ring body (segSize*k)

	ptr      int    // vsl_ptr, in words from ring body base
	segmentN uint32 // cached; also mirrored into head via atomic store

	maxRecLen int // vsl_reclen: per-record payload cap in bytes

	writes  atomic.Uint64
	flushes atomic.Uint64
	records atomic.Uint64
	shmCont atomic.Uint64
	cycles  atomic.Uint64 // shm_cycles: ring wraps

	seg *vsm.Segment
}

// New allocates a ring segment in arena sized to hold spaceBytes worth of
// ring body (rounded down to a multiple of k words) plus the fixed
// header, and initializes it per spec.md §3/§5.
func New(arena *vsm.Arena, name string, spaceBytes int64, maxRecLen int, opts ...Option) (*Ring, error) {
	k := config.Segments
	hdrSize := headerBytes(k)

	bodyWords := int(spaceBytes) / 4
	segSize := bodyWords / k
	if segSize < 2 {
		return nil, fmt.Errorf("vslring: vsl_space too small for %d segments", k)
	}
	ringLen := segSize * k

	seg, err := arena.Alloc(name, vsm.ClassLog, int64(hdrSize)+int64(ringLen)*4)
	if err != nil {
		return nil, fmt.Errorf("vslring: alloc ring segment: %w", err)
	}

	buf := arena.Bytes(seg)
	r := &Ring{
		head:      buf[:hdrSize],
		body:      buf[hdrSize:],
		k:         k,
		segSize:   segSize,
		ringLen:   ringLen,
		maxRecLen: maxRecLen,
		seg:       seg,
		// spec.md §5: "initialization sets segment_n = UINT_MAX-(K-1)",
		// a precondition that requires UINT_MAX mod K == K-1 (true for
		// any power-of-two K, in particular K=8).
		segmentN: math.MaxUint32 - uint32(k-1),
	}

	for _, opt := range opts {
		opt(r)
	}

	copy(r.head[hdrMagicOff:], vslHeadMarker)
	enc.PutUint32(r.head[hdrSegSizeOff:], uint32(segSize))
	for i := 0; i < k; i++ {
		r.setOffset(i, -1)
	}
	r.setOffset(int(r.segmentN%uint32(k)), 0)
	r.setSegmentNRelease(r.segmentN)
	r.setBodyWordRelease(0, EndMarker)

	return r, nil
}

// Attach validates an existing ring header without performing New's
// initialization, the in-process analogue of an external reader mmap'ing
// the arena file and checking VSL_HEAD_MARKER before trusting segsize or
// the offset table (spec.md §6).
func Attach(arena *vsm.Arena, seg *vsm.Segment) (*Ring, error) {
	k := config.Segments
	hdrSize := headerBytes(k)
	buf := arena.Bytes(seg)
	if len(buf) < hdrSize {
		return nil, ErrNotReady
	}
	if string(buf[hdrMagicOff:hdrMagicOff+len(vslHeadMarker)]) != vslHeadMarker {
		return nil, ErrNotReady
	}

	segSize := int(enc.Uint32(buf[hdrSegSizeOff:]))
	r := &Ring{
		head:      buf[:hdrSize],
		body:      buf[hdrSize:],
		k:         k,
		segSize:   segSize,
		ringLen:   segSize * k,
		maxRecLen: 0,
		seg:       seg,
	}
	r.segmentN = r.loadSegmentNAcquire()
	return r, nil
}

func (r *Ring) setOffset(slot int, wordOffset int32) {
	off := hdrOffsetTabOff + slot*4
	enc.PutUint32(r.head[off:], uint32(wordOffset))
}

// OffsetLoad reads the offset table entry for slot, the word offset
// within the ring body at which that segment's first record begins, or
// -1 if never populated. Safe for concurrent readers: paired with the
// segment_n acquire load per spec.md §5.
func (r *Ring) OffsetLoad(slot int) int32 {
	off := hdrOffsetTabOff + slot*4
	return int32(enc.Uint32(r.head[off:]))
}

func (r *Ring) setSegmentNRelease(n uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&r.head[hdrSegmentNOff])), n)
}

// SegmentN returns the writer's current segment counter using an acquire
// load, the value readers compare (with unsigned modular arithmetic, per
// spec.md §5) to detect segment transitions.
func (r *Ring) SegmentN() uint32 {
	return r.loadSegmentNAcquire()
}

func (r *Ring) loadSegmentNAcquire() uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&r.head[hdrSegmentNOff])))
}

func (r *Ring) bodyWordPtr(wordOff int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.body[wordOff*4]))
}

func (r *Ring) setBodyWordRelease(wordOff int, v uint32) {
	atomic.StoreUint32(r.bodyWordPtr(wordOff), v)
}

func (r *Ring) setBodyWordPlain(wordOff int, v uint32) {
	enc.PutUint32(r.body[wordOff*4:], v)
}

// BodyWordLoad reads a ring-body word with an acquire load, the
// operation a reader uses to test whether a slot still holds ENDMARKER.
func (r *Ring) BodyWordLoad(wordOff int) uint32 {
	return atomic.LoadUint32(r.bodyWordPtr(wordOff))
}

// plainBodyBytes returns a view of nbytes starting at wordOff, read
// without an atomic barrier: safe to call only after the caller has
// already synchronized via BodyWordLoad on the record's header word,
// which happens-before the payload bytes beneath it (spec.md §4.3
// step 6).
func (r *Ring) plainBodyBytes(wordOff, nbytes int) []byte {
	start := wordOff * 4
	return r.body[start : start+nbytes]
}

// SegSize returns segsize, the word count per segment (constant after
// init).
func (r *Ring) SegSize() int { return r.segSize }

// K returns SEGMENTS, the fixed offset-table slot count.
func (r *Ring) K() int { return r.k }

// RingLen returns the ring body length in words.
func (r *Ring) RingLen() int { return r.ringLen }

// MaxRecLen returns vsl_reclen, the per-record payload cap.
func (r *Ring) MaxRecLen() int { return r.maxRecLen }

// Stats reports the writer-visible totals from spec.md §5/§7: writes,
// flushes, records, and vsl_mtx contention count. Readers may observe
// these without locking, tolerating slight skew.
type Stats struct {
	Writes    uint64
	Flushes   uint64
	Records   uint64
	Contended uint64
	Cycles    uint64
}

func (r *Ring) Stats() Stats {
	return Stats{
		Writes:    r.writes.Load(),
		Flushes:   r.flushes.Load(),
		Records:   r.records.Load(),
		Contended: r.shmCont.Load(),
		Cycles:    r.cycles.Load(),
	}
}

// reserve implements spec.md §4.3's Reserve algorithm: returns the word
// offset within the ring body at which len(bytes) bytes (header +
// payload, already rounded to whole words by the caller) may be written.
func (r *Ring) reserve(totalBytes int, recordCount, flushCount uint32) int {
	if !r.mu.TryLock() {
		r.shmCont.Add(1)
		r.mu.Lock()
	}

	r.writes.Add(1)
	r.flushes.Add(uint64(flushCount))
	r.records.Add(uint64(recordCount))

	lenWords := totalBytes / 4
	if r.ptr+lenWords >= r.ringLen {
		r.wrapLocked()
	}

	p := r.ptr
	r.ptr += lenWords
	r.setBodyWordRelease(r.ptr, EndMarker) // invariant 1: restore ENDMARKER at the new cursor

	for r.ptr/r.segSize > int(r.segmentN%uint32(r.k)) {
		r.segmentN++
		r.setOffset(int(r.segmentN%uint32(r.k)), int32(r.ptr))
	}

	segN := r.segmentN
	r.mu.Unlock() // mutex release acts as the release barrier for the offset table

	// Published after the mutex releases, per spec.md §4.3 step 7 and
	// the open question in §9: there is a narrow window here where a
	// reader can observe a fresh offset[] entry but a stale segment_n.
	// Readers are documented to tolerate this because they key off
	// segment_n *transitions*, not off any single observed pair.
	r.setSegmentNRelease(segN)

	return p
}

// PublishRecord reserves space for one record of tag carrying payload,
// writes it into the ring, and makes it visible to readers. vxid is
// word 1 for ordinary tags; for TagBatch it is instead the encoded
// batch byte length (spec.md §3: "word 1 holds the batch's total
// payload length").
//
// Write order matters: the payload and word 1 are plain stores, the
// header word is an atomic release store written last, so a reader that
// observes a non-EndMarker header is guaranteed to see a fully formed
// record underneath it (spec.md §4.3 step 6 / §9).
func (r *Ring) PublishRecord(tag Tag, vxid uint32, payload []byte) {
	total := recordBytes(len(payload))
	wordOff := r.reserve(total, 1, 0)

	enc.PutUint32(r.body[(wordOff+1)*4:], vxid)
	if len(payload) > 0 {
		copy(r.body[(wordOff+2)*4:], payload)
	}

	r.setBodyWordRelease(wordOff, headerWord(tag, uint32(len(payload))))
}

// PublishBatch writes a pre-framed batch buffer (spec.md §4.4: a
// writer's own accumulated sub-records) as a single TagBatch record,
// amortizing vsl_mtx acquisition over many logical records in one
// reserve/release pair.
func (r *Ring) PublishBatch(buf []byte, recordCount uint32) {
	total := recordBytes(len(buf))
	wordOff := r.reserve(total, recordCount, 1)

	enc.PutUint32(r.body[(wordOff+1)*4:], uint32(len(buf)))
	if len(buf) > 0 {
		copy(r.body[(wordOff+2)*4:], buf)
	}

	r.setBodyWordRelease(wordOff, headerWord(TagBatch, 0))
}

// wrapLocked implements spec.md §4.3's Wrap algorithm. Caller holds mu.
func (r *Ring) wrapLocked() {
	rem := r.segmentN % uint32(r.k)
	r.segmentN += uint32(r.k) - rem // strictly increases; lands on a multiple of k, including on uint32 overflow

	r.setOffset(0, 0)
	r.setBodyWordRelease(0, EndMarker)

	if r.ptr != 0 {
		r.setBodyWordRelease(r.ptr, WrapMarker)
	}

	r.ptr = 0
	r.cycles.Add(1)
	obs.ShmCycles.Inc()
}
