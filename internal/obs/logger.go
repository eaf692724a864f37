// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package obs holds the process-wide logger and the metrics exported
// alongside the native VSC counter segments.
package obs

import "go.uber.org/zap"

// L is the logger instance used by vsm, wrw, ctl and cmd/vsl-agent,
// mirroring the package-level logger the teacher exposes as
// biglog.Logger: set once at process start, safe to use before that
// with a sane fallback.
var L = zap.NewNop()

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewExample()
	}
	L = l
}

// SetLogger replaces the package logger, e.g. with a development config
// from cmd/vsl-agent.
func SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	L = l
}
