// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package ctl

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vanaheim-cache/vsl/internal/obs"
)

// writeError answers a control-plane request with a JSON error body,
// the same shape the teacher's JSONErrorResponse gives HTTP clients.
// Anything reaching here is a malformed request against this small
// control API (decode failures); it is logged at warn rather than the
// teacher's "alert" escalation since nothing here is a core logging
// subsystem failure.
func writeError(w http.ResponseWriter, status int, err error) {
	obs.L.Warn("ctl: request rejected", zap.Int("status", status), zap.Error(err))
	writeJSON(w, status, struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}{OK: false, Error: err.Error()})
}
