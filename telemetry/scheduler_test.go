// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerNextEmptyIsNotOK(t *testing.T) {
	var s Scheduler
	_, _, ok := s.Next()
	assert.False(t, ok)
}

func TestSchedulerPicksEarliestDeadline(t *testing.T) {
	var s Scheduler
	now := time.Now()
	s.ArmHeartbeat(now)
	s.ArmLogsFlush(now)
	s.ArmDependencyFlush(now)

	when, kind, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, ActionSendDependencies, kind)
	assert.True(t, when.Before(now.Add(heartbeatInterval)))
}

func TestSchedulerDependencyFlushDoesNotRearmWhilePending(t *testing.T) {
	var s Scheduler
	now := time.Now()
	s.ArmDependencyFlush(now)
	first := s.depFlush
	s.ArmDependencyFlush(now.Add(time.Second))
	assert.Equal(t, first, s.depFlush)
}
