// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package crashtracker

import (
	"encoding/json"
	"io"
	"os"
	"sync/atomic"

	"github.com/DataDog/libdatadog-sub002/internal/log"
)

// Process-global collector state. Every entry point here carries the
// same contract: not reentrant, not concurrent. Nothing below is guarded
// by a mutex; callers are responsible for the single-writer discipline
// spec.md section 5 documents for the crash-tracker subsystem as a
// whole. A real signal handler cannot take a lock anyway.
var (
	globalConfig   Config
	globalMetadata Metadata
	globalPipe     io.Writer
	globalCounters = map[string]*int64{}
	globalSpanIDs  = map[uint64]struct{}{}
	globalTraceIDs = map[uint64]struct{}{}
	initialized    int32
)

// Init validates cfg, records it and md as the process-global state, and
// points the collector at w (a pipe connected to a receiver, see C7).
// Init is not reentrant and must not race with a crash.
func Init(cfg Config, md Metadata, w io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	globalConfig = cfg
	globalMetadata = md
	globalPipe = w
	for _, name := range []string{"not_profiling", "in_segv_handler"} {
		v := int64(0)
		globalCounters[name] = &v
	}
	atomic.StoreInt32(&initialized, 1)
	return installHandlers(cfg)
}

// UpdateCounter adjusts a named counter by delta. Counters not already
// present at Init are ignored, since the handler must never allocate a
// new map entry while running on the alternate signal stack.
func UpdateCounter(name string, delta int64) {
	if p, ok := globalCounters[name]; ok {
		atomic.AddInt64(p, delta)
	}
}

// TrackSpan/UntrackSpan and TrackTrace/UntrackTrace maintain the
// process-global span/trace id sets reported inside a crash. These use a
// plain map because mutation only ever happens off the signal stack
// (application code registering/deregistering active spans); the
// handler itself only reads a pre-copied snapshot (see snapshotIDs).
func TrackSpan(id uint64)  { globalSpanIDs[id] = struct{}{} }
func UntrackSpan(id uint64) { delete(globalSpanIDs, id) }

func TrackTrace(id uint64)  { globalTraceIDs[id] = struct{}{} }
func UntrackTrace(id uint64) { delete(globalTraceIDs, id) }

// snapshotIDs copies the current span/trace id sets into freshly
// allocated slices; emitReport calls it once, after the CONFIG,
// METADATA, SIGINFO, PROCINFO and COUNTERS blocks have been written.
func snapshotIDs() (spans []uint64, traces []uint64) {
	spans = make([]uint64, 0, len(globalSpanIDs))
	for id := range globalSpanIDs {
		spans = append(spans, id)
	}
	traces = make([]uint64, 0, len(globalTraceIDs))
	for id := range globalTraceIDs {
		traces = append(traces, id)
	}
	return spans, traces
}

// ResetAfterFork clears per-process counters and span/trace state after
// a fork; signal dispositions themselves survive fork and need not be
// re-installed (spec.md section 4.6).
func ResetAfterFork() {
	for k := range globalCounters {
		v := int64(0)
		globalCounters[k] = &v
	}
	globalSpanIDs = map[uint64]struct{}{}
	globalTraceIDs = map[uint64]struct{}{}
}

// emitBlock writes one fenced block: BEGIN_<name>, one JSON value per
// line, END_<name>. Every fallible step is swallowed: a signal handler
// must never panic, so partial output is preferred over no output.
func emitBlock(w io.Writer, name string, lines ...interface{}) {
	mustWriteLine(w, "BEGIN_"+name)
	for _, l := range lines {
		b, err := json.Marshal(l)
		if err != nil {
			continue
		}
		mustWriteLine(w, string(b))
	}
	mustWriteLine(w, "END_"+name)
	if f, ok := w.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
}

func mustWriteLine(w io.Writer, s string) {
	_, _ = io.WriteString(w, s)
	_, _ = io.WriteString(w, "\n")
}

// emitDone writes the terminator line that marks a report complete.
func emitDone(w io.Writer) {
	mustWriteLine(w, "DONE")
}

// emitReport is the shared tail of both the POSIX and Windows collector
// paths once a fault has been detected: it writes the fenced stream
// described in spec.md section 4.6 in the documented order.
func emitReport(w io.Writer, sig *SigInfo, kind string) {
	emitBlock(w, "CONFIG", globalConfig)
	emitBlock(w, "METADATA", globalMetadata)
	if sig != nil {
		emitBlock(w, "SIGINFO", sig)
	}
	emitBlock(w, "PROCINFO", ProcInfo{Pid: os.Getpid()})

	counters := make([]interface{}, 0, len(globalCounters))
	for name, p := range globalCounters {
		counters = append(counters, struct {
			Name  string `json:"name"`
			Value int64  `json:"value"`
		}{name, atomic.LoadInt64(p)})
	}
	emitBlock(w, "COUNTERS", counters...)

	spanIDs, traceIDs := snapshotIDs()
	spanLines := make([]interface{}, len(spanIDs))
	for i, id := range spanIDs {
		spanLines[i] = id
	}
	emitBlock(w, "SPAN_IDS", spanLines...)

	traceLines := make([]interface{}, len(traceIDs))
	for i, id := range traceIDs {
		traceLines[i] = id
	}
	emitBlock(w, "TRACE_IDS", traceLines...)

	if kind != "" {
		emitBlock(w, "KIND", kind)
	}

	// Already off the hard real-time path (the fenced stream is fully
	// written by this point), so a best-effort statsd counter is no
	// riskier than the os.Getpid/json.Marshal calls above; errors are
	// swallowed for the same reason they are throughout this function.
	_ = log.Statsd().Incr("crashtracker.flushed", []string{"kind:" + kind}, 1)
}
