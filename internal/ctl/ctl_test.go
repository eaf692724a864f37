// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package ctl

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vanaheim-cache/vsl/internal/vslring"
)

func TestHandleXIDGetReportsNext(t *testing.T) {
	alloc := vslring.NewVXIDAllocator(5)
	h := New(alloc, "127.0.0.1:9999")
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/xid")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out xidResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.EqualValues(t, 5, out.Next)
}

func TestHandleXIDPostReseeds(t *testing.T) {
	alloc := vslring.NewVXIDAllocator(5)
	h := New(alloc, "127.0.0.1:9999")
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/debug/xid", "application/json", strings.NewReader(`{"seed":1000}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.EqualValues(t, 1000, alloc.Peek())
}

func TestHandleXIDPostRejectsMalformedBody(t *testing.T) {
	alloc := vslring.NewVXIDAllocator(5)
	h := New(alloc, "127.0.0.1:9999")
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/debug/xid", "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleListenAddress(t *testing.T) {
	alloc := vslring.NewVXIDAllocator(1)
	h := New(alloc, "10.0.0.1:7200")
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/listen_address")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out listenAddressResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "10.0.0.1:7200", out.Address)
}
