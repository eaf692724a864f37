// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package vsm implements the shared-memory arena manager described in
// spec.md §4.1: a single mmap'd file holding named, classified byte
// ranges, allocated and logically freed under one coarse mutex, with a
// background cleaner that physically reclaims freed ranges once readers
// have had a chance to observe the removal.
//
// Grounded on the teacher's biglog/segment.go mmap lifecycle
// (launchpad.net/gommap, MS_SYNC) and biglog.go's mutex-guarded segment
// slice, generalized from "one index+data file pair per segment" to
// "many named ranges inside one arena file".
package vsm

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"launchpad.net/gommap"
	"go.uber.org/zap"

	"github.com/vanaheim-cache/vsl/internal/obs"
)

// Class tags an allocation the way external readers enumerate it.
type Class string

// Classes named by spec.md §6.
const (
	ClassLog     Class = "Log"
	ClassStat    Class = "Stat"
	ClassStatDoc Class = "StatDoc"
)

// ErrExhausted is returned when the arena has no contiguous free range
// (reclaimed or virgin) large enough to satisfy an allocation. Per
// spec.md §7 this is a startup-time fatal condition for VSC/VSL callers,
// not a runtime failure to retry.
var ErrExhausted = errors.New("vsm: arena exhausted")

// DefaultGraceInterval is how long a logically-freed segment is kept
// around before the cleaner physically reclaims its range, long enough
// that an attached reader has either observed the removal or detached.
const DefaultGraceInterval = 2 * time.Second

// cleanerPeriod matches spec.md §5's "arena cleaner's sleep(1.1s) between
// sweeps".
const cleanerPeriod = 1100 * time.Millisecond

// Segment is a named, classified byte range inside the arena.
type Segment struct {
	Name  string
	Class Class
	Off   int64
	Size  int64

	removed   atomic.Bool
	removedAt atomic.Int64 // UnixNano, valid once removed is true
}

// Removed reports whether Free has been called on this segment.
func (s *Segment) Removed() bool { return s.removed.Load() }

type freeRange struct {
	off, size int64
}

// Arena owns one mmap'd file and serializes all allocation/free
// operations on a single mutex (vsm_mtx in spec.md §5). It is the only
// coarse lock in the design; the cleaner holds the same mutex during its
// sweep.
type Arena struct {
	mu sync.Mutex // vsm_mtx

	path string
	file *os.File
	mm   gommap.MMap
	cap  int64
	next int64 // bump pointer past all ranges ever handed out

	segs  []*Segment
	free  []freeRange
	gen   atomic.Uint64 // reader-visible generation/epoch
	grace time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures an Arena at Open time.
type Option func(*Arena)

// GraceInterval overrides DefaultGraceInterval, mainly for tests that
// want the cleaner to run faster than production.
func GraceInterval(d time.Duration) Option {
	return func(a *Arena) { a.grace = d }
}

// Open creates (or truncates) the backing file at path to capacity bytes,
// maps it MAP_SHARED, and starts the background cleaner.
func Open(path string, capacity int64, opts ...Option) (*Arena, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("vsm: open %q: %w", path, err)
	}

	if err := f.Truncate(capacity); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("vsm: truncate %q: %w", path, err)
	}

	mm, err := gommap.Map(f.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("vsm: mmap %q: %w", path, err)
	}

	a := &Arena{
		path:   path,
		file:   f,
		mm:     mm,
		cap:    capacity,
		grace:  DefaultGraceInterval,
		stopCh: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(a)
	}

	a.wg.Add(1)
	go a.cleaner()

	return a, nil
}

// Alloc reserves size bytes tagged with class/name and returns the
// segment handle. First-fit over the reclaimed freelist, falling back to
// a bump allocation past everything ever handed out. Returns ErrExhausted
// if neither fits.
func (a *Arena) Alloc(name string, class Class, size int64) (*Segment, error) {
	if size <= 0 {
		panic("vsm: alloc size must be positive")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	off, ok := a.takeFree(size)
	if !ok {
		if a.next+size > a.cap {
			return nil, ErrExhausted
		}
		off = a.next
		a.next += size
	}

	seg := &Segment{Name: name, Class: class, Off: off, Size: size}
	a.segs = append(a.segs, seg)
	a.gen.Add(1)

	obs.ArenaSegments.Set(float64(len(a.segs)))
	obs.ArenaBytesAllocated.Add(float64(size))

	return seg, nil
}

// takeFree pops the first reclaimed range that fits size, splitting off
// any remainder back into the freelist. Caller holds a.mu.
func (a *Arena) takeFree(size int64) (off int64, ok bool) {
	for i, r := range a.free {
		if r.size < size {
			continue
		}

		off = r.off
		if r.size > size {
			a.free[i] = freeRange{off: r.off + size, size: r.size - size}
		} else {
			a.free = append(a.free[:i], a.free[i+1:]...)
		}
		return off, true
	}
	return 0, false
}

// Free logically removes seg. Physical reclamation happens later, in the
// cleaner, once the grace interval has elapsed.
func (a *Arena) Free(seg *Segment) {
	if seg.removed.Swap(true) {
		return // already freed
	}
	seg.removedAt.Store(time.Now().UnixNano())

	a.mu.Lock()
	a.gen.Add(1)
	a.mu.Unlock()
}

// Bytes returns a slice view into the arena's mapped memory for seg. The
// slice aliases shared memory: writes are visible to any other process
// with the same file mapped, subject to the memory-barrier discipline
// documented in spec.md §5.
func (a *Arena) Bytes(seg *Segment) []byte {
	return a.mm[seg.Off : seg.Off+seg.Size]
}

// Generation returns the reader-visible epoch, incremented on every
// allocation, free, and physical reclamation. External readers poll this
// to detect that the segment list changed between two scans.
func (a *Arena) Generation() uint64 {
	return a.gen.Load()
}

// Segments returns a snapshot of all segments not yet physically
// reclaimed (including ones logically freed but still within their grace
// window). Callers must not retain the slice across a Generation change.
func (a *Arena) Segments() []*Segment {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*Segment, len(a.segs))
	copy(out, a.segs)
	return out
}

// Stats reports current arena occupancy for the admin CLI and Prometheus
// wiring.
type Stats struct {
	Capacity        int64
	BytesAllocated  int64
	SegmentCount    int
	ReclaimedRanges int
	Generation      uint64
}

func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	var allocated int64
	for _, s := range a.segs {
		if !s.Removed() {
			allocated += s.Size
		}
	}

	return Stats{
		Capacity:        a.cap,
		BytesAllocated:  allocated,
		SegmentCount:    len(a.segs),
		ReclaimedRanges: len(a.free),
		Generation:      a.gen.Load(),
	}
}

// cleaner periodically sweeps the segment list, physically reclaiming
// ranges whose grace period has elapsed. Grounded on segment_monitor.go's
// ticker-goroutine-over-shared-state shape.
func (a *Arena) cleaner() {
	defer a.wg.Done()

	ticker := time.NewTicker(cleanerPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.sweep()
		case <-a.stopCh:
			return
		}
	}
}

func (a *Arena) sweep() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UnixNano()
	kept := a.segs[:0]
	reclaimed := 0

	for _, s := range a.segs {
		if s.Removed() && now-s.removedAt.Load() >= a.grace.Nanoseconds() {
			a.free = append(a.free, freeRange{off: s.Off, size: s.Size})
			obs.ArenaBytesAllocated.Add(-float64(s.Size))
			reclaimed++
			continue
		}
		kept = append(kept, s)
	}

	a.segs = kept
	if reclaimed > 0 {
		a.coalesceFreeLocked()
		a.gen.Add(1)
		obs.ArenaSegments.Set(float64(len(a.segs)))
		obs.L.Debug("vsm: reclaimed segments", zap.Int("count", reclaimed))
	}
}

// coalesceFreeLocked merges adjacent free ranges to keep the freelist
// from fragmenting under steady churn. Caller holds a.mu.
func (a *Arena) coalesceFreeLocked() {
	if len(a.free) < 2 {
		return
	}

	sortFreeRanges(a.free)

	out := a.free[:1]
	for _, r := range a.free[1:] {
		last := &out[len(out)-1]
		if last.off+last.size == r.off {
			last.size += r.size
			continue
		}
		out = append(out, r)
	}
	a.free = out
}

// Close stops the cleaner and unmaps/closes the backing file. Allocated
// segments become invalid after Close.
func (a *Arena) Close() error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()

	if err := a.mm.Sync(gommap.MS_SYNC); err != nil {
		return err
	}
	if err := a.mm.UnsafeUnmap(); err != nil {
		return err
	}
	return a.file.Close()
}
