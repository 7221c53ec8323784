// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package telemetry

import "time"

const (
	heartbeatInterval   = 30 * time.Second
	dependencyFlushWait = 2 * time.Second
	integrationFlush    = 2 * time.Second
	logsFlushInterval   = 60 * time.Second
)

// Scheduler tracks the worker's four deadlines. A zero Time means "not
// currently scheduled" (e.g. the dependency flush only starts counting
// down once something has actually been enqueued).
type Scheduler struct {
	heartbeat  time.Time
	depFlush   time.Time
	intFlush   time.Time
	logsFlush  time.Time
}

// ArmHeartbeat (re-)schedules the next heartbeat 30s out.
func (s *Scheduler) ArmHeartbeat(now time.Time) { s.heartbeat = now.Add(heartbeatInterval) }

// ArmDependencyFlush schedules a dependency flush 2s out, unless one is
// already pending.
func (s *Scheduler) ArmDependencyFlush(now time.Time) {
	if s.depFlush.IsZero() {
		s.depFlush = now.Add(dependencyFlushWait)
	}
}

// ArmIntegrationFlush schedules an integrations flush 2s out, unless one
// is already pending.
func (s *Scheduler) ArmIntegrationFlush(now time.Time) {
	if s.intFlush.IsZero() {
		s.intFlush = now.Add(integrationFlush)
	}
}

// ArmLogsFlush schedules the next logs flush 60s out, unless one is
// already pending.
func (s *Scheduler) ArmLogsFlush(now time.Time) {
	if s.logsFlush.IsZero() {
		s.logsFlush = now.Add(logsFlushInterval)
	}
}

func (s *Scheduler) clearDependencyFlush() { s.depFlush = time.Time{} }
func (s *Scheduler) clearIntegrationFlush() { s.intFlush = time.Time{} }
func (s *Scheduler) clearLogsFlush()         { s.logsFlush = time.Time{} }

// Next returns the earliest armed deadline and which action it maps to.
// ok is false when nothing is armed (the loop should then block only on
// the mailbox).
func (s *Scheduler) Next() (when time.Time, kind ActionKind, ok bool) {
	candidates := []struct {
		t time.Time
		k ActionKind
	}{
		{s.heartbeat, ActionHeartbeat},
		{s.depFlush, ActionSendDependencies},
		{s.intFlush, ActionSendIntegrations},
		{s.logsFlush, ActionSendLogs},
	}
	for _, c := range candidates {
		if c.t.IsZero() {
			continue
		}
		if !ok || c.t.Before(when) {
			when, kind, ok = c.t, c.k, true
		}
	}
	return when, kind, ok
}
