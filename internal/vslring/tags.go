// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vslring

// Tag is the 8-bit record-type identifier from spec.md §3/§6: bits
// 31..24 of a record's header word. Values 0 and 255 are reserved
// sentinels (spec.md §6) and are never assigned to a real record.
type Tag uint8

// Tags required for transaction framing by spec.md §2/§6, plus a small
// set of general-purpose tags a worker would use to narrate a request,
// mirroring the companion tag table the original Varnish vsl_tags table
// provides (common_vsc.c / cache_shmlog.c in original_source/).
const (
	tagReservedLow Tag = 0 // never assigned; also used as ENDMARKER's tag byte

	TagDebug     Tag = 1
	TagBegin     Tag = 2
	TagEnd       Tag = 3
	TagLink      Tag = 4
	TagTimestamp Tag = 5
	TagError     Tag = 6
	TagVCLLog    Tag = 7
	TagFetchHdr  Tag = 8
	TagReqAcct   Tag = 9

	// TagBatch marks a batch record: length in the header word is always
	// 0, word 1 holds the batch's total payload length (spec.md §3).
	TagBatch Tag = 10

	tagReservedHigh Tag = 255 // never assigned; also used as WRAPMARKER's tag byte
)

// TagInfo is the companion table entry spec.md §6 describes: tag name
// plus per-tag flags such as BINARY (payload is not NUL-terminated
// text).
type TagInfo struct {
	Name   string
	Binary bool
}

var tagTable = map[Tag]TagInfo{
	TagDebug:     {Name: "Debug"},
	TagBegin:     {Name: "Begin"},
	TagEnd:       {Name: "End"},
	TagLink:      {Name: "Link"},
	TagTimestamp: {Name: "Timestamp"},
	TagError:     {Name: "Error"},
	TagVCLLog:    {Name: "VCL_Log"},
	TagFetchHdr:  {Name: "FetchError"},
	TagReqAcct:   {Name: "ReqAcct", Binary: true},
	TagBatch:     {Name: "Batch"},
}

// Name returns the tag's registered name, or "unknown" if it was never
// registered in tagTable.
func (t Tag) Name() string {
	if info, ok := tagTable[t]; ok {
		return info.Name
	}
	return "unknown"
}

// Binary reports whether payloads of this tag are raw bytes rather than
// NUL-terminated text.
func (t Tag) Binary() bool {
	return tagTable[t].Binary
}

// Valid enforces spec.md §4.5's precondition: 0 < tag < Reserved.
func (t Tag) Valid() bool {
	return t > tagReservedLow && t < tagReservedHigh
}
