// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package ctl exposes the small HTTP control plane the spec names as
// "external admin tool" commands: debug.xid (reseed the VXID
// allocator) and debug.listen_address (report the bound address). Both
// cross the daemon's core over a trivial JSON API rather than the
// shared-memory machinery everything else in this module talks over.
//
// Grounded on the teacher's transport.HTTPTransport: a thin handler
// struct wrapping the domain object, one method per route, JSON in/out
// with the same error-response helper shape.
package ctl

import (
	"encoding/json"
	"net/http"

	"github.com/vanaheim-cache/vsl/internal/vslring"
)

// Handler serves the debug control endpoints over HTTP.
type Handler struct {
	vxid       *vslring.VXIDAllocator
	listenAddr string
}

// New returns a Handler reporting listenAddr and reseeding vxid on
// request.
func New(vxid *vslring.VXIDAllocator, listenAddr string) *Handler {
	return &Handler{vxid: vxid, listenAddr: listenAddr}
}

// Register wires the handler's routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/debug/xid", h.handleXID)
	mux.HandleFunc("/debug/listen_address", h.handleListenAddress)
}

type xidRequest struct {
	Seed uint32 `json:"seed"`
}

type xidResponse struct {
	Next uint32 `json:"next"`
}

// handleXID implements debug.xid: GET reports the next value that would
// be handed out, POST reseeds the allocator.
func (h *Handler) handleXID(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, xidResponse{Next: h.vxid.Peek()})
	case http.MethodPost:
		var req xidRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.vxid.Seed(req.Seed)
		writeJSON(w, http.StatusOK, xidResponse{Next: h.vxid.Peek()})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type listenAddressResponse struct {
	Address string `json:"address"`
}

// handleListenAddress implements debug.listen_address.
func (h *Handler) handleListenAddress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listenAddressResponse{Address: h.listenAddr})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
