// Package metering buffers usage events, profiles hot paths, and ages
// telemetry into aggregates.
//
// The collector accepts events under a single mutex and flushes them to a
// pluggable sink when the buffer fills or a timer fires; flush swaps the
// buffer out under lock so record latency never includes sink I/O. Event
// metadata is scrubbed before anything is written. A failed flush drops
// the batch with a warning; metering is advisory and must never block or
// fail the operation that produced the event.
//
// The profiler keeps a bounded ring of durations per named operation and
// reports p50/p95/p99. Hot paths wrap themselves at the call site:
//
//	defer metering.Track(metering.OpDagBuild)()
//
// The retention job rolls raw telemetry into hourly and daily
// (tenant, model) aggregates, then prunes raw rows past the raw window,
// hourly aggregates past a year, and usage events past their own window.
// Daily aggregates are kept indefinitely.
package metering
