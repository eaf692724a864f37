// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package vslring implements the global log ring (spec.md §4.3, "C" in
// the system overview), the per-writer gather buffer (§4.4, "D"), and
// the record formatting API (§4.5, "E").
//
// Grounded on the teacher's biglog.BigLog (ring/segment/offset-table
// shape, biglog.go + watcher.go), message_buffer.go (batch-then-flush
// pattern for D), and message/message.go (fixed binary header layout for
// E), generalized from netlog's disk-segmented log to a single fixed-size
// in-memory ring with a compile-time-fixed segment count.
package vslring

import (
	"encoding/binary"
	"errors"
)

// enc is little-endian per spec.md §3 ("on the wire, little-endian
// fixed layout"), unlike the teacher's big-endian message/index framing.
var enc = binary.LittleEndian

// Sentinel ring-body word values (spec.md §3/§6). Both use tag bytes
// (0 and 255) that a real record can never carry, per spec.md §9's open
// question: "implementers must choose values that cannot collide with
// any valid (tag<<24)|len encoding".
const (
	EndMarker  uint32 = 0x00000000 // tag=0,  len=0: "no record here yet"
	WrapMarker uint32 = 0xFF000000 // tag=255,len=0: "ring wrapped, seek to 0"
)

// ErrTruncated marks a payload that was clamped to the configured
// per-record maximum (spec.md §7: silent at the API boundary, but
// reported here so callers/tests can observe it without relying on
// side effects).
var ErrTruncated = errors.New("vslring: payload truncated to reclen")

// headerWord encodes a record's first header word: bits 31..24 the tag,
// bits 23..0 the payload length in bytes.
func headerWord(tag Tag, length uint32) uint32 {
	return uint32(tag)<<24 | (length & 0x00FFFFFF)
}

// decodeHeader splits a header word back into tag and length.
func decodeHeader(word uint32) (tag Tag, length uint32) {
	return Tag(word >> 24), word & 0x00FFFFFF
}

// wordsFor rounds a byte length up to whole 4-byte words.
func wordsFor(nbytes int) int {
	return (nbytes + 3) / 4
}

// recordBytes is the total ring-body footprint (header + payload rounded
// to whole words) of a record carrying payloadLen bytes.
func recordBytes(payloadLen int) int {
	return 8 + wordsFor(payloadLen)*4
}
