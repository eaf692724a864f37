// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wrw

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	client, server = net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

func TestFlushSendsAllGatheredWrites(t *testing.T) {
	client, server := pipePair(t)
	w := New(client, time.Second)

	_, err := w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)

	done := make(chan []byte, 1)
	go func() {
		// net.Pipe delivers each gathered buffer as its own Write.
		buf := make([]byte, len("hello world"))
		n, _ := io.ReadFull(server, buf)
		done <- buf[:n]
	}()

	require.NoError(t, w.Flush())
	require.Equal(t, "hello world", string(<-done))
}

func TestChunkedWritesHeaderAndTrailer(t *testing.T) {
	client, server := pipePair(t)
	w := New(client, time.Second)

	require.NoError(t, w.Chunked())
	_, err := w.WriteChunk([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.EndChunk())

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, len("7\r\npayload\r\n"))
		n, _ := io.ReadFull(server, buf)
		done <- buf[:n]
	}()

	require.NoError(t, w.Flush())
	require.Equal(t, "7\r\npayload\r\n", string(<-done))
}

func TestAutoFlushWhenIOVecsFull(t *testing.T) {
	client, server := pipePair(t)
	w := New(client, time.Second, MaxIOVecs(2))

	recv := make(chan byte, 4)
	go func() {
		buf := make([]byte, 1)
		for i := 0; i < 3; i++ {
			n, err := server.Read(buf)
			if err != nil || n == 0 {
				return
			}
			recv <- buf[0]
		}
	}()

	_, err := w.Write([]byte("a"))
	require.NoError(t, err)
	_, err = w.Write([]byte("b"))
	require.NoError(t, err)
	_, err = w.Write([]byte("c")) // pushes the writer past siov=2, auto-flushing a+b
	require.NoError(t, err)

	require.Equal(t, byte('a'), <-recv)
	require.Equal(t, byte('b'), <-recv)

	require.NoError(t, w.Flush())
	require.Equal(t, byte('c'), <-recv)
}

func TestFlushReleasesWriterOnError(t *testing.T) {
	client, server := pipePair(t)
	require.NoError(t, server.Close())

	w := New(client, 50*time.Millisecond)
	_, err := w.Write([]byte("x"))
	require.NoError(t, err)

	err = w.Flush()
	require.Error(t, err)
	require.True(t, w.Released())

	_, err = w.Write([]byte("y"))
	require.ErrorIs(t, err, ErrWriterReleased)
}
