// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

// Package log provides the leveled logger used across the core
// subsystems, plus an injectable statsd client for internal
// self-observability counters (crashtracker.flushed, telemetry.heartbeat,
// …). The package is not async-signal-safe; the crash-tracker's report
// path calls into it only for the crashtracker.flushed counter, which
// emitReport increments after the report blocks are written.
package log

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"

	"github.com/DataDog/datadog-go/v5/statsd"
)

// Level controls which messages reach the underlying Logger.
type Level int32

const (
	LevelDebug Level = iota
	LevelWarn
	LevelError
)

// Logger is the minimal interface the core subsystems log through.
type Logger interface {
	Log(msg string)
}

type stdLogger struct{ l *log.Logger }

func (s *stdLogger) Log(msg string) { s.l.Print(msg) }

var (
	current atomic.Value // Logger
	level   atomic.Int32
	statsC  atomic.Value // statsd.ClientInterface
)

func init() {
	current.Store(Logger(&stdLogger{l: log.New(os.Stderr, "", log.LstdFlags)}))
	level.Store(int32(LevelWarn))
	statsC.Store(statsd.ClientInterface(&statsd.NoOpClient{}))
}

// UseLogger installs a custom logger, mirroring the teacher's
// internal/log.UseLogger hook.
func UseLogger(l Logger) { current.Store(l) }

// SetLevel adjusts the minimum level that reaches the logger.
func SetLevel(lv Level) { level.Store(int32(lv)) }

// UseStatsd installs a statsd client for internal health counters. Passing
// nil reverts to a no-op client.
func UseStatsd(c statsd.ClientInterface) {
	if c == nil {
		c = &statsd.NoOpClient{}
	}
	statsC.Store(c)
}

func Statsd() statsd.ClientInterface { return statsC.Load().(statsd.ClientInterface) }

func logf(lv Level, format string, args ...interface{}) {
	if Level(level.Load()) > lv {
		return
	}
	current.Load().(Logger).Log(fmt.Sprintf(format, args...))
}

func Debug(format string, args ...interface{}) { logf(LevelDebug, "DEBUG: "+format, args...) }
func Warn(format string, args ...interface{})  { logf(LevelWarn, "WARN: "+format, args...) }
func Error(format string, args ...interface{}) { logf(LevelError, "ERROR: "+format, args...) }
