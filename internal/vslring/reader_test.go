// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vslring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReaderDecodesOrdinaryRecord(t *testing.T) {
	_, r := openTestRing(t)
	r.PublishRecord(TagDebug, 5, []byte("hi"))

	rd := NewReader(r)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rec, err := rd.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, TagDebug, rec.Tag)
	require.EqualValues(t, 5, rec.VXID)
	require.Equal(t, "hi", string(rec.Payload))
}

func TestReaderDecodesBatchRecord(t *testing.T) {
	_, r := openTestRing(t)

	l := NewLog(r, nil, 3)
	require.NoError(t, l.AppendText(TagDebug, "one"))
	require.NoError(t, l.AppendText(TagError, "two"))
	require.NoError(t, l.Flush())

	rd := NewReader(r)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rec, err := rd.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, TagBatch, rec.Tag)
	require.Len(t, rec.Batch, 2)
	require.Equal(t, "one\x00", string(rec.Batch[0].Payload))
	require.Equal(t, "two\x00", string(rec.Batch[1].Payload))
}

func TestReaderBlocksUntilNewRecordArrives(t *testing.T) {
	_, r := openTestRing(t)
	rd := NewReader(r)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := rd.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
