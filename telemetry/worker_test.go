// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package telemetry

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPoster struct {
	mu    sync.Mutex
	calls []string
	bodies [][]byte
}

func (p *recordingPoster) Post(ctx context.Context, requestType string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, requestType)
	p.bodies = append(p.bodies, body)
	return nil
}

func (p *recordingPoster) count(requestType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == requestType {
			n++
		}
	}
	return n
}

func runWorker(t *testing.T, w *Worker) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func TestWorkerStartThenStopPostsAppStartedAndClosing(t *testing.T) {
	poster := &recordingPoster{}
	w := NewWorker(poster)
	stop := runWorker(t, w)
	defer stop()

	w.Enqueue(Action{Kind: ActionStart})
	done := make(chan struct{})
	w.Enqueue(Action{Kind: ActionStop, Done: done})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop did not complete")
	}

	assert.Equal(t, 1, poster.count("app-started"))
	assert.Equal(t, 1, poster.count("app-closing"))
	assert.Equal(t, 1, poster.count("app-dependencies-loaded"))
	assert.Equal(t, 1, poster.count("app-integrations-change"))
}

func TestWorkerDedupsLogsByID(t *testing.T) {
	poster := &recordingPoster{}
	w := NewWorker(poster)
	stop := runWorker(t, w)
	defer stop()

	w.Enqueue(Action{Kind: ActionStart})
	w.Enqueue(Action{Kind: ActionAddLog, Log: LogEntry{ID: 7, Level: "WARN", Message: "boom"}})
	w.Enqueue(Action{Kind: ActionAddLog, Log: LogEntry{ID: 7, Level: "WARN", Message: "boom"}})
	w.Enqueue(Action{Kind: ActionAddLog, Log: LogEntry{ID: 7, Level: "WARN", Message: "boom"}})
	w.Enqueue(Action{Kind: ActionSendLogs})

	require.Eventually(t, func() bool { return poster.count("logs") == 1 }, time.Second, time.Millisecond)

	poster.mu.Lock()
	var body []byte
	for i, c := range poster.calls {
		if c == "logs" {
			body = poster.bodies[i]
		}
	}
	poster.mu.Unlock()

	require.NotNil(t, body)
	assert.Contains(t, string(body), "Skipped 2 messages")

	done := make(chan struct{})
	w.Enqueue(Action{Kind: ActionStop, Done: done})
	<-done
}

func TestWorkerCancelTokenAbortsInFlightRequest(t *testing.T) {
	var started int32
	poster := blockingPosterFunc(func(ctx context.Context) error {
		atomic.AddInt32(&started, 1)
		<-ctx.Done()
		return ctx.Err()
	})
	w := NewWorker(poster)
	stop := runWorker(t, w)
	defer stop()

	w.Enqueue(Action{Kind: ActionStart})
	require.Eventually(t, func() bool { return atomic.LoadInt32(&started) > 0 }, time.Second, time.Millisecond)

	w.Cancel()

	done := make(chan struct{})
	w.Enqueue(Action{Kind: ActionStop, Done: done})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop should not block forever once cancelled")
	}
}

type blockingPosterFunc func(ctx context.Context) error

func (f blockingPosterFunc) Post(ctx context.Context, requestType string, body []byte) error {
	return f(ctx)
}

func TestEnqueueDropsWhenMailboxFull(t *testing.T) {
	w := &Worker{mailbox: make(chan Action, 1), cancel: make(chan struct{}), logs: map[uint64]*LogEntry{}}
	w.Enqueue(Action{Kind: ActionHeartbeat})
	w.Enqueue(Action{Kind: ActionHeartbeat})
	assert.Len(t, w.mailbox, 1)
}

func TestBuildLogsPayloadOmitsSuffixWhenNoSkips(t *testing.T) {
	w := NewWorker(&recordingPoster{})
	w.addLog(LogEntry{ID: 1, Level: "INFO", Message: "hello"})
	body := w.buildLogsPayload()
	assert.NotContains(t, string(body), "Skipped")
	assert.True(t, strings.Contains(string(body), "hello"))
}
