// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package receiver

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DataDog/libdatadog-sub002/crashtracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ calls int32 }

func (f *fakePinger) SendPing(payload []byte) error {
	atomic.AddInt32(&f.calls, 1)
	return nil
}

type fakeUploader struct {
	info *crashtracker.CrashInfo
}

func (f *fakeUploader) Upload(info *crashtracker.CrashInfo) error {
	f.info = info
	return nil
}

func waitForPing(t *testing.T, p *fakePinger) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if atomic.LoadInt32(&p.calls) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestReceiverHappyPathProducesCompleteReport(t *testing.T) {
	stream := strings.Join([]string{
		"BEGIN_CONFIG",
		`{"endpoint":"https://x"}`,
		"END_CONFIG",
		"BEGIN_METADATA",
		`{"library_name":"dd-trace-go","library_version":"1.0"}`,
		"END_METADATA",
		"BEGIN_KIND",
		`"SIGSEGV"`,
		"END_KIND",
		"BEGIN_SIGINFO",
		`{"signum":11,"signame":"SIGSEGV"}`,
		"END_SIGINFO",
		"BEGIN_STACKTRACE",
		`{"ip":"0x1","sp":"0x2"}`,
		"END_STACKTRACE",
		"DONE",
	}, "\n")

	pinger := &fakePinger{}
	uploader := &fakeUploader{}
	rv := New(pinger, uploader)
	info := rv.Run(strings.NewReader(stream), time.Second)

	require.NotNil(t, info)
	assert.False(t, info.Incomplete)
	assert.Equal(t, "SIGSEGV", info.Kind)
	assert.Equal(t, "dd-trace-go", info.Metadata.LibraryName)
	require.Len(t, info.StackTrace, 1)
	assert.Equal(t, "0x1", info.StackTrace[0].IP)

	waitForPing(t, pinger)
	assert.Equal(t, int32(1), atomic.LoadInt32(&pinger.calls))
	require.NotNil(t, uploader.info)
}

func TestReceiverTruncatedStreamStillUploadsBestEffort(t *testing.T) {
	stream := strings.Join([]string{
		"BEGIN_METADATA",
		`{"library_name":"dd-trace-go"}`,
		"END_METADATA",
	}, "\n")

	uploader := &fakeUploader{}
	rv := New(nil, uploader)
	info := rv.Run(strings.NewReader(stream), time.Second)

	assert.True(t, info.Incomplete)
	assert.NotEmpty(t, info.Logs)
	require.NotNil(t, uploader.info)
}

func TestReceiverEmptyStackTraceSectionIsNotNilStack(t *testing.T) {
	stream := strings.Join([]string{
		"BEGIN_STACKTRACE",
		"END_STACKTRACE",
		"DONE",
	}, "\n")

	rv := New(nil, &fakeUploader{})
	info := rv.Run(strings.NewReader(stream), time.Second)
	assert.False(t, info.Incomplete)
	assert.NotNil(t, info.StackTrace)
	assert.Empty(t, info.StackTrace)
}

func TestReceiverParsesRuntimeStackString(t *testing.T) {
	stream := strings.Join([]string{
		"BEGIN_RUNTIME_STACK_STRING",
		"goroutine 1 [running]:",
		"main.main()",
		"\t/src/main.go:42 +0x10",
		"END_RUNTIME_STACK_STRING",
		"DONE",
	}, "\n")

	rv := New(nil, &fakeUploader{})
	info := rv.Run(strings.NewReader(stream), time.Second)
	require.NotEmpty(t, info.StackTrace)
	assert.Equal(t, "main.main", info.StackTrace[0].Function)
	assert.Equal(t, "/src/main.go", info.StackTrace[0].File)
	assert.Equal(t, uint32(42), info.StackTrace[0].Line)
}

func TestReceiverNoPingWithoutConfig(t *testing.T) {
	stream := strings.Join([]string{
		"BEGIN_METADATA",
		`{"library_name":"dd-trace-go"}`,
		"END_METADATA",
		"BEGIN_KIND",
		`"SIGSEGV"`,
		"END_KIND",
		"DONE",
	}, "\n")

	pinger := &fakePinger{}
	rv := New(pinger, &fakeUploader{})
	rv.Run(strings.NewReader(stream), time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&pinger.calls))
}

func TestReceiverNoPingWithoutKind(t *testing.T) {
	stream := strings.Join([]string{
		"BEGIN_CONFIG",
		`{}`,
		"END_CONFIG",
		"BEGIN_METADATA",
		`{"library_name":"dd-trace-go"}`,
		"END_METADATA",
		"DONE",
	}, "\n")

	pinger := &fakePinger{}
	rv := New(pinger, &fakeUploader{})
	rv.Run(strings.NewReader(stream), time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&pinger.calls))
}
