// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package obs

import "github.com/prometheus/client_golang/prometheus"

// These mirror the writer-visible ring totals from spec.md §5/§7
// (shm_cont, shm_cycles, shm_flushes, shm_records) as a Prometheus
// collector, additive to the native VSC segment that already exposes
// them to mmap readers. Of these, vslring itself touches only ShmCycles:
// it is incremented inline at the one place a wrap actually
// happens (vslring.wrapLocked); the rest are cumulative totals synced
// from ring.Stats() on a timer by cmd/vsl-agent's runMainCounter,
// hence gauges rather than counters.
var (
	ShmCont = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vsl",
		Name:      "shm_cont_total",
		Help:      "Number of times a writer found vsl_mtx contended before acquiring it.",
	})

	ShmCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vsl",
		Name:      "shm_cycles_total",
		Help:      "Number of times the log ring wrapped.",
	})

	ShmFlushes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vsl",
		Name:      "shm_flushes_total",
		Help:      "Number of per-writer batch flushes published to the ring.",
	})

	ShmRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vsl",
		Name:      "shm_records_total",
		Help:      "Number of individual log records published to the ring.",
	})

	ArenaBytesAllocated = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vsl",
		Name:      "arena_bytes_allocated",
		Help:      "Bytes currently allocated (live, not yet reclaimed) in the shared arena.",
	})

	ArenaSegments = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vsl",
		Name:      "arena_segments",
		Help:      "Number of live named segments in the shared arena.",
	})
)

func init() {
	prometheus.MustRegister(ShmCont, ShmCycles, ShmFlushes, ShmRecords, ArenaBytesAllocated, ArenaSegments)
}
