// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vslring

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vanaheim-cache/vsl/internal/vsm"
)

func TestAppendBuffersUntilFlush(t *testing.T) {
	_, r := openTestRing(t)

	l := NewLog(r, nil, 7)
	require.NoError(t, l.AppendText(TagDebug, "hello"))
	require.NoError(t, l.AppendFmt(TagError, "boom %d", 1))

	require.Equal(t, EndMarker, r.BodyWordLoad(0)) // nothing published yet

	require.NoError(t, l.Flush())

	tag, _ := decodeHeader(r.BodyWordLoad(0))
	require.Equal(t, TagBatch, tag)
	require.EqualValues(t, 1, r.Stats().Writes)
	require.EqualValues(t, 2, r.Stats().Records)
}

func TestSyncFlushesEveryAppend(t *testing.T) {
	_, r := openTestRing(t)

	l := NewLog(r, nil, 1)
	l.SetSync(true)

	require.NoError(t, l.AppendText(TagDebug, "a"))
	require.EqualValues(t, 1, r.Stats().Writes)

	require.NoError(t, l.AppendText(TagDebug, "b"))
	require.EqualValues(t, 2, r.Stats().Writes)
}

func TestMaskSuppressesAppend(t *testing.T) {
	_, r := openTestRing(t)

	m := NewMask()
	m.Set(TagDebug)

	l := NewLog(r, m, 1)
	require.NoError(t, l.AppendText(TagDebug, "suppressed"))
	require.Zero(t, l.recs)

	require.NoError(t, l.AppendText(TagError, "not suppressed"))
	require.EqualValues(t, 1, l.recs)
}

func TestAppendTextTruncatesToMaxRecLen(t *testing.T) {
	path := t.TempDir() + "/arena"
	a, err := vsm.Open(path, 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	r, err := New(a, "vsl", 4096, 4)
	require.NoError(t, err)

	l := NewLog(r, nil, 1)
	err = l.AppendText(TagDebug, "way too long for the cap")
	require.ErrorIs(t, err, ErrTruncated)
	require.EqualValues(t, 1, l.recs)
}

func TestEndFlushesUnconditionally(t *testing.T) {
	_, r := openTestRing(t)

	l := NewLog(r, nil, 9)
	require.NoError(t, l.Begin("req", 0, "rxreq"))
	require.NoError(t, l.End())
	require.Zero(t, l.VXID())

	require.EqualValues(t, 1, r.Stats().Writes)
	require.EqualValues(t, 2, r.Stats().Records) // Begin + End
}

func TestAppendBinHexEncodesAndMarksTruncation(t *testing.T) {
	path := t.TempDir() + "/arena"
	a, err := vsm.Open(path, 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	r, err := New(a, "vsl", 4096, 9) // reclen=9 -> half-of-(reclen-1) == 4 hex chars
	require.NoError(t, err)

	l := NewLog(r, nil, 1)
	l.SetSync(true)

	err = l.AppendBin(TagReqAcct, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	require.ErrorIs(t, err, ErrTruncated)

	tag, length := decodeHeader(r.BodyWordLoad(0))
	require.Equal(t, TagReqAcct, tag)
	payload := r.plainBodyBytes(2, int(length))
	require.Equal(t, "dead-\x00", string(payload))
}

func TestChangeIDLinksEndsAndReopens(t *testing.T) {
	_, r := openTestRing(t)

	l := NewLog(r, nil, 100)
	require.NoError(t, l.Begin("sess", 0, "start"))
	require.NoError(t, l.Flush())

	require.NoError(t, l.ChangeID("req", "upgrade", 200))
	require.EqualValues(t, 200, l.VXID())

	require.NoError(t, l.Flush())
	require.GreaterOrEqual(t, r.Stats().Writes, uint64(2))
}
