// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package crashtracker

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitBlockFencesContent(t *testing.T) {
	var buf bytes.Buffer
	emitBlock(&buf, "SIGINFO", SigInfo{SignalNumber: 11, SignalName: "SIGSEGV"})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "BEGIN_SIGINFO", lines[0])
	assert.Equal(t, "END_SIGINFO", lines[2])

	var got SigInfo
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &got))
	assert.Equal(t, 11, got.SignalNumber)
}

func TestEmitReportOrdersBlocksAndTerminatesWithDone(t *testing.T) {
	globalConfig = Config{Endpoint: "https://example/"}
	globalMetadata = Metadata{LibraryName: "dd-trace-go"}
	globalCounters = map[string]*int64{}
	globalSpanIDs = map[uint64]struct{}{}
	globalTraceIDs = map[uint64]struct{}{}

	var buf bytes.Buffer
	emitReport(&buf, &SigInfo{SignalNumber: 11, SignalName: "SIGSEGV"}, "SIGSEGV")
	emitDone(&buf)

	out := buf.String()
	configIdx := strings.Index(out, "BEGIN_CONFIG")
	metaIdx := strings.Index(out, "BEGIN_METADATA")
	sigIdx := strings.Index(out, "BEGIN_SIGINFO")
	procIdx := strings.Index(out, "BEGIN_PROCINFO")
	doneIdx := strings.Index(out, "DONE")

	require.True(t, configIdx >= 0 && metaIdx > configIdx && sigIdx > metaIdx && procIdx > sigIdx)
	assert.True(t, doneIdx > procIdx)
}

func TestTrackSpanAndTraceSnapshot(t *testing.T) {
	globalSpanIDs = map[uint64]struct{}{}
	globalTraceIDs = map[uint64]struct{}{}

	TrackSpan(42)
	TrackTrace(7)
	spans, traces := snapshotIDs()
	assert.Contains(t, spans, uint64(42))
	assert.Contains(t, traces, uint64(7))

	UntrackSpan(42)
	spans, _ = snapshotIDs()
	assert.NotContains(t, spans, uint64(42))
}

func TestResetAfterForkClearsState(t *testing.T) {
	v := int64(3)
	globalCounters = map[string]*int64{"in_segv_handler": &v}
	TrackSpan(1)
	TrackTrace(1)

	ResetAfterFork()

	spans, traces := snapshotIDs()
	assert.Empty(t, spans)
	assert.Empty(t, traces)
	assert.Equal(t, int64(0), *globalCounters["in_segv_handler"])
}
