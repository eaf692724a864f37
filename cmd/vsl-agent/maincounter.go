// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/vanaheim-cache/vsl/internal/obs"
	"github.com/vanaheim-cache/vsl/internal/vsc"
	"github.com/vanaheim-cache/vsl/internal/vslring"
)

// mainCounterDoc documents the layout runMainCounter writes into its VSC
// payload, the equivalent of VSC_C_main's field list in the original
// design: writes, flushes, records, shm_cont, shm_cycles, each an
// 8-byte little-endian counter.
var mainCounterDoc = []byte(`{"fields":["writes","flushes","records","shm_cont","shm_cycles"]}`)

// runMainCounter allocates the agent-wide "main" counter segment and
// keeps it in sync with the ring's writer-visible totals until ctx is
// canceled, giving external VSC readers the same aggregate view
// VSC_C_main exposes in the original design.
func runMainCounter(ctx context.Context, counters *vsc.Manager, ring *vslring.Ring) error {
	payload, _, err := counters.Alloc("main", 40, mainCounterDoc, "")
	if err != nil {
		return err
	}

	t := time.NewTicker(time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s := ring.Stats()
			binary.LittleEndian.PutUint64(payload[0:], s.Writes)
			binary.LittleEndian.PutUint64(payload[8:], s.Flushes)
			binary.LittleEndian.PutUint64(payload[16:], s.Records)
			binary.LittleEndian.PutUint64(payload[24:], s.Contended)
			binary.LittleEndian.PutUint64(payload[32:], s.Cycles)

			obs.ShmCont.Set(float64(s.Contended))
			obs.ShmFlushes.Set(float64(s.Flushes))
			obs.ShmRecords.Set(float64(s.Records))
		}
	}
}
