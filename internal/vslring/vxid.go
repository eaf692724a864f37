// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vslring

import "sync/atomic"

// VXIDAllocator hands out monotonically increasing transaction ids, the
// vxid space described in spec.md §4.4. Kept as a standalone type (not a
// Ring method) since the original's equivalent counter is itself stored
// in the client-facing VSM space, addressable independent of the log
// ring proper — and so a "debug.xid" control command can reseed it for
// reproducible test fixtures without touching ring state.
type VXIDAllocator struct {
	next atomic.Uint32
}

// NewVXIDAllocator starts the counter at seed. Zero is reserved (no
// transaction), so a seed of 0 is bumped to 1.
func NewVXIDAllocator(seed uint32) *VXIDAllocator {
	a := &VXIDAllocator{}
	if seed == 0 {
		seed = 1
	}
	a.next.Store(seed)
	return a
}

// Next returns the next vxid and advances the counter.
func (a *VXIDAllocator) Next() uint32 {
	return a.next.Add(1) - 1
}

// Seed overrides the counter, the effect of the "debug.xid" CLI command
// (spec.md's supplemented feature, original_source/vtc_varnish.c's
// vxid-seeding helper) used to make integration tests deterministic.
func (a *VXIDAllocator) Seed(v uint32) {
	a.next.Store(v)
}

// Peek reports the next value that Next would return, without
// consuming it.
func (a *VXIDAllocator) Peek() uint32 {
	return a.next.Load()
}
