// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/DataDog/libdatadog-sub002/internal/log"
	"github.com/google/uuid"
)

const mailboxCapacity = 5000

// Poster delivers one telemetry payload. Implementations race the
// request against ctx per spec.md section 5's cancellation model.
type Poster interface {
	Post(ctx context.Context, requestType string, body []byte) error
}

// errRequestCancelled is what post logs when the cancellation token
// fires before the underlying request completes.
var errRequestCancelled = errors.New("Request cancelled")

// Worker runs the single-threaded cooperative loop described in
// spec.md section 4.8. It is not safe to call Run from more than one
// goroutine, but Enqueue is safe to call concurrently (it only performs
// a channel send).
type Worker struct {
	Poster    Poster
	RuntimeID string

	mailbox   chan Action
	scheduler Scheduler
	cancel    chan struct{}
	started   bool

	deps         []Dependency
	integrations []Integration
	logOrder     []uint64
	logs         map[uint64]*LogEntry
}

// NewWorker builds a Worker with an empty mailbox of the spec-mandated
// capacity.
func NewWorker(poster Poster) *Worker {
	return &Worker{
		Poster:    poster,
		RuntimeID: uuid.NewString(),
		mailbox:   make(chan Action, mailboxCapacity),
		cancel:    make(chan struct{}),
		logs:      make(map[uint64]*LogEntry),
	}
}

// Enqueue submits act without blocking; if the mailbox is full the
// action is dropped and a warning is logged, since a blocking send
// here would deadlock the caller against the very worker meant to
// drain it.
func (w *Worker) Enqueue(act Action) {
	select {
	case w.mailbox <- act:
	default:
		log.Warn("telemetry: mailbox full, dropping action kind=%d", act.Kind)
	}
}

// Cancel fires the cancellation token; any request racing against it
// stops waiting for a response and logs errRequestCancelled.
func (w *Worker) Cancel() { close(w.cancel) }

// Run drains the mailbox until a Stop action is processed or ctx is
// cancelled. recv_next_action from spec.md section 4.8 is the select
// below: the earliest of a mailbox message or an armed deadline.
func (w *Worker) Run(ctx context.Context) {
	for {
		var timer *time.Timer
		if when, _, ok := w.scheduler.Next(); ok {
			timer = time.NewTimer(time.Until(when))
		} else {
			timer = time.NewTimer(24 * time.Hour)
		}

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case act := <-w.mailbox:
			timer.Stop()
			if !w.handle(ctx, act) {
				return
			}
		case <-timer.C:
			_, kind, ok := w.scheduler.Next()
			if ok {
				w.handle(ctx, Action{Kind: kind})
			}
		}
	}
}

// handle processes one action. It returns false when the loop should
// stop (i.e. after a Stop action).
func (w *Worker) handle(ctx context.Context, act Action) bool {
	now := time.Now()
	switch act.Kind {
	case ActionStart:
		w.started = true
		w.post(ctx, "app-started", w.buildStartPayload())
		w.scheduler.ArmHeartbeat(now)

	case ActionAddDependency:
		w.deps = append(w.deps, act.Dependency)
		if w.started {
			w.scheduler.ArmDependencyFlush(now)
		}

	case ActionAddIntegration:
		w.integrations = append(w.integrations, act.Integration)
		if w.started {
			w.scheduler.ArmIntegrationFlush(now)
		}

	case ActionAddLog:
		w.addLog(act.Log)
		if w.started {
			w.scheduler.ArmLogsFlush(now)
		}

	case ActionSendDependencies:
		w.post(ctx, "app-dependencies-loaded", w.buildDependenciesPayload())
		w.deps = nil
		w.scheduler.clearDependencyFlush()

	case ActionSendIntegrations:
		w.post(ctx, "app-integrations-change", w.buildIntegrationsPayload())
		w.integrations = nil
		w.scheduler.clearIntegrationFlush()

	case ActionSendLogs:
		w.post(ctx, "logs", w.buildLogsPayload())
		w.logs = make(map[uint64]*LogEntry)
		w.logOrder = nil
		w.scheduler.clearLogsFlush()

	case ActionHeartbeat:
		if w.started {
			w.post(ctx, "app-heartbeat", nil)
			_ = log.Statsd().Incr("telemetry.heartbeat", nil, 1)
		}
		w.scheduler.ArmHeartbeat(now)

	case ActionStop:
		w.flushOnStop(ctx)
		if act.Done != nil {
			close(act.Done)
		}
		return false
	}
	return true
}

// addLog implements the dedup rule from spec.md section 4.8: a
// duplicate (by caller-supplied id) increments number_skipped on the
// entry already held, rather than being appended again.
func (w *Worker) addLog(entry LogEntry) {
	if existing, ok := w.logs[entry.ID]; ok {
		existing.numberSkipped++
		return
	}
	e := entry
	w.logs[entry.ID] = &e
	w.logOrder = append(w.logOrder, entry.ID)
}

// flushOnStop sends the final dependencies/integrations/closing
// messages concurrently and joins on all three, per spec.md section
// 4.8's "POST final deps/integrations/closing concurrently (join)".
func (w *Worker) flushOnStop(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); w.post(ctx, "app-dependencies-loaded", w.buildDependenciesPayload()) }()
	go func() { defer wg.Done(); w.post(ctx, "app-integrations-change", w.buildIntegrationsPayload()) }()
	go func() { defer wg.Done(); w.post(ctx, "app-closing", nil) }()
	wg.Wait()
}

// post races the underlying Poster call against the worker's
// cancellation token.
func (w *Worker) post(ctx context.Context, requestType string, body []byte) {
	if w.Poster == nil {
		return
	}
	done := make(chan error, 1)
	go func() { done <- w.Poster.Post(ctx, requestType, body) }()
	select {
	case err := <-done:
		if err != nil {
			log.Warn("telemetry: %s request failed: %v", requestType, err)
		}
	case <-w.cancel:
		log.Warn("telemetry: %s request failed: %v", requestType, errRequestCancelled)
	}
}

func (w *Worker) buildStartPayload() []byte {
	b, _ := json.Marshal(struct {
		RuntimeID    string        `json:"runtime_id"`
		Dependencies []Dependency  `json:"dependencies"`
		Integrations []Integration `json:"integrations"`
	}{w.RuntimeID, w.deps, w.integrations})
	return b
}

func (w *Worker) buildDependenciesPayload() []byte {
	b, _ := json.Marshal(struct {
		RuntimeID    string       `json:"runtime_id"`
		Dependencies []Dependency `json:"dependencies"`
	}{w.RuntimeID, w.deps})
	return b
}

func (w *Worker) buildIntegrationsPayload() []byte {
	b, _ := json.Marshal(struct {
		RuntimeID    string        `json:"runtime_id"`
		Integrations []Integration `json:"integrations"`
	}{w.RuntimeID, w.integrations})
	return b
}

type wireLog struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// buildLogsPayload suffixes a kept entry's message with
// "\nSkipped N messages" when its number_skipped counter is non-zero.
func (w *Worker) buildLogsPayload() []byte {
	out := make([]wireLog, 0, len(w.logOrder))
	for _, id := range w.logOrder {
		entry := w.logs[id]
		msg := entry.Message
		if entry.numberSkipped > 0 {
			msg += "\nSkipped " + strconv.Itoa(entry.numberSkipped) + " messages"
		}
		out = append(out, wireLog{Level: entry.Level, Message: msg})
	}
	b, _ := json.Marshal(struct {
		RuntimeID string    `json:"runtime_id"`
		Logs      []wireLog `json:"logs"`
	}{w.RuntimeID, out})
	return b
}
