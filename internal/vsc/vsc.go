// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package vsc implements the shared-memory counter segment manager from
// spec.md §4.2: published counter-payload segments paired with
// reference-counted documentation segments, so that readers attached to
// the arena can discover, describe, and sample counters without RPC.
//
// Grounded structurally on the teacher's topic_atomicmap.go copy-on-write
// registry pattern (generalized here to a doc-identity-keyed registry per
// Design Notes §9 of the original spec) and on message.go's fixed binary
// head-then-payload layout for the per-segment metadata head.
package vsc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/vanaheim-cache/vsl/internal/vsm"
)

var enc = binary.BigEndian

// ErrNameMismatch is the defensive check from spec.md §4.2's Destroy
// precondition: the handle's recorded name must equal the name passed to
// destroy.
var ErrNameMismatch = errors.New("vsc: handle name does not match")

// headSize is the fixed head written at the start of every data segment:
// 8 bytes doc_id, 4 bytes body_offset, 4 bytes ready.
const headSize = 16

const (
	offDocID      = 0
	offBodyOffset = 8
	offReady      = 12
)

// Doc is a reference-counted documentation segment: a JSON schema blob
// shared by every data segment that was allocated with the same
// doc_blob identity.
type Doc struct {
	id   uint64 // doc_id: the identity key, stable for the blob's lifetime
	seg  *vsm.Segment
	refs atomic.Int32
}

// ID returns the doc_id referenced by data segments sharing this doc.
func (d *Doc) ID() uint64 { return d.id }

// Handle is returned from Alloc and must be presented back to Destroy.
type Handle struct {
	Name string
	data *vsm.Segment
	doc  *Doc
}

// Manager owns the doc/data segment registry for one arena. All mutation
// is serialized on mu, which stands in for the "optional external
// vsc_lock installed by host" spec.md §4.2 describes — a caller embedding
// Manager in a larger daemon may instead pass this Manager's Lock/Unlock
// around as that external lock.
type Manager struct {
	mu sync.Mutex

	arena *vsm.Arena

	docsByIdentity map[uintptr]*Doc
	docs           []*Doc // insertion order, most-recent first (spec: "prepend")
	data           []*Handle
}

// New creates a counter segment manager backed by arena.
func New(arena *vsm.Arena) *Manager {
	return &Manager{
		arena:          arena,
		docsByIdentity: make(map[uintptr]*Doc),
	}
}

// Lock/Unlock expose Manager's internal mutex as the external vsc_lock
// spec.md §4.2 allows a host to install, so a daemon that also needs to
// serialize against its own config-reload path can share this lock.
func (m *Manager) Lock()   { m.mu.Lock() }
func (m *Manager) Unlock() { m.mu.Unlock() }

// identity returns the pointer-identity of a doc blob, the key spec.md
// §4.2 step 1 describes: "the blob pointer serves as identity". Two
// calls with different byte slices holding equal content but distinct
// backing arrays are, by design, treated as different docs — callers
// that want sharing must pass the same backing slice.
func identity(docBlob []byte) uintptr {
	if len(docBlob) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&docBlob[0]))
}

// Alloc implements spec.md §4.2's Alloc: finds or creates the doc segment
// for docBlob, increments its refcount, allocates a data segment named
// name (or "name.suffix" when suffixFmt is given), and returns the
// payload bytes the caller can start writing counter values into.
func (m *Manager) Alloc(name string, dataSize int64, docBlob []byte, suffixFmt string, suffixArgs ...any) ([]byte, *Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.findOrCreateDocLocked(docBlob)
	if err != nil {
		return nil, nil, err
	}
	doc.refs.Add(1)

	fullName := name
	if suffixFmt != "" {
		fullName = fmt.Sprintf("%s.%s", name, fmt.Sprintf(suffixFmt, suffixArgs...))
	}

	seg, err := m.arena.Alloc(fullName, vsm.ClassStat, headSize+dataSize)
	if err != nil {
		if doc.refs.Add(-1) == 0 {
			m.freeDocLocked(doc)
		}
		return nil, nil, fmt.Errorf("vsc: alloc data segment %q: %w", fullName, err)
	}

	buf := m.arena.Bytes(seg)
	enc.PutUint64(buf[offDocID:], doc.id)
	enc.PutUint32(buf[offBodyOffset:], uint32(headSize))
	// release barrier: body_offset/doc_id must be visible to any reader
	// before ready flips, per spec.md §4.2's rationale. Go's atomic store
	// below is the release half of that pair; readers must use an
	// atomic/acquire load on the ready word, not a plain read.
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&buf[offReady])), 1)

	h := &Handle{Name: fullName, data: seg, doc: doc}
	m.data = append(m.data, h)

	return buf[headSize:], h, nil
}

func (m *Manager) findOrCreateDocLocked(docBlob []byte) (*Doc, error) {
	key := identity(docBlob)
	if doc, ok := m.docsByIdentity[key]; ok {
		return doc, nil
	}

	seg, err := m.arena.Alloc(fmt.Sprintf("doc.%x", key), vsm.ClassStatDoc, int64(len(docBlob)))
	if err != nil {
		return nil, fmt.Errorf("vsc: alloc doc segment: %w", err)
	}

	copy(m.arena.Bytes(seg), docBlob)

	doc := &Doc{id: key, seg: seg}
	m.docsByIdentity[key] = doc
	m.docs = append([]*Doc{doc}, m.docs...) // prepend, per spec.md §4.2 step 2

	return doc, nil
}

// Destroy implements spec.md §4.2's Destroy: frees the data segment,
// decrements the doc's refcount, and frees the doc segment once the
// refcount reaches zero.
func (m *Manager) Destroy(name string, h *Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h.Name != name {
		return ErrNameMismatch
	}

	m.arena.Free(h.data)
	m.removeDataLocked(h)

	if h.doc.refs.Add(-1) == 0 {
		m.freeDocLocked(h.doc)
	}

	return nil
}

func (m *Manager) removeDataLocked(h *Handle) {
	for i, cur := range m.data {
		if cur == h {
			m.data = append(m.data[:i], m.data[i+1:]...)
			return
		}
	}
}

func (m *Manager) freeDocLocked(doc *Doc) {
	m.arena.Free(doc.seg)
	delete(m.docsByIdentity, doc.id)
	for i, d := range m.docs {
		if d == doc {
			m.docs = append(m.docs[:i], m.docs[i+1:]...)
			break
		}
	}
}

// CounterEntry is one published counter as seen by a reader scanning the
// arena: name, documentation JSON, and the live payload bytes.
type CounterEntry struct {
	Name string
	Doc  []byte
	Body []byte
}

// Snapshot decodes every currently published, fully-initialized (ready)
// counter. It never blocks a concurrent Alloc/Destroy for longer
// than copying the registry snapshot.
func (m *Manager) Snapshot() []CounterEntry {
	m.mu.Lock()
	handles := make([]*Handle, len(m.data))
	copy(handles, m.data)
	m.mu.Unlock()

	out := make([]CounterEntry, 0, len(handles))
	for _, h := range handles {
		buf := m.arena.Bytes(h.data)
		if atomic.LoadUint32((*uint32)(unsafe.Pointer(&buf[offReady]))) == 0 {
			continue // half-initialized, not yet visible
		}

		bodyOff := enc.Uint32(buf[offBodyOffset:])
		docBuf := m.arena.Bytes(h.doc.seg)

		out = append(out, CounterEntry{
			Name: h.Name,
			Doc:  docBuf,
			Body: buf[bodyOff:],
		})
	}

	return out
}

// DocRefCount returns the live refcount of the doc shared by h, exposed
// for tests validating spec.md §8's property P7.
func (h *Handle) DocRefCount() int32 { return h.doc.refs.Load() }
