// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

// Package crashtracker implements the collector half of the crash-tracking
// pipeline described in spec.md section 4.6: it installs signal handlers
// (POSIX) or a WER callback (Windows) and streams a fenced, line-oriented
// report to the receiver in package crashtracker/receiver.
package crashtracker

import (
	"encoding/json"
	"time"
)

// StackFrame is one frame of an unwound stack, emitted in fault order
// (innermost first).
type StackFrame struct {
	IP                string `json:"ip"`
	SP                string `json:"sp"`
	ModuleBaseAddress string `json:"module_base_address,omitempty"`
	SymbolAddress     string `json:"symbol_address,omitempty"`
	Function          string `json:"function,omitempty"`
	File              string `json:"file,omitempty"`
	Line              uint32 `json:"line,omitempty"`
	Column            uint32 `json:"column,omitempty"`
}

// SigInfo carries the faulting signal's number, name and faulting address.
type SigInfo struct {
	SignalNumber int    `json:"signum"`
	SignalName   string `json:"signame"`
	FaultAddress string `json:"faulting_address,omitempty"`
}

// ProcInfo is the minimal process identity attached to every report.
type ProcInfo struct {
	Pid int `json:"pid"`
}

// Metadata is the caller-supplied identity attached at Init time: library
// name/version, family, and arbitrary string tags.
type Metadata struct {
	LibraryName    string            `json:"library_name"`
	LibraryVersion string            `json:"library_version"`
	Family         string            `json:"family"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// CrashInfo is the fully assembled report the receiver (C7) builds from a
// fenced stream and the collector (C6) describes as its wire schema.
type CrashInfo struct {
	UUID          string            `json:"uuid"`
	Timestamp     time.Time         `json:"timestamp"`
	Incomplete    bool              `json:"incomplete"`
	Kind          string            `json:"kind,omitempty"`
	Message       string            `json:"message,omitempty"`
	Metadata      Metadata          `json:"metadata"`
	SigInfo       *SigInfo          `json:"sig_info,omitempty"`
	ProcInfo      *ProcInfo         `json:"proc_info,omitempty"`
	Counters      map[string]int64  `json:"counters,omitempty"`
	SpanIDs       []uint64          `json:"span_ids,omitempty"`
	TraceIDs      []uint64          `json:"trace_ids,omitempty"`
	StackTrace    []StackFrame      `json:"stacktrace,omitempty"`
	ThreadName    string            `json:"thread_name,omitempty"`
	AdditionalTags map[string]string `json:"additional_tags,omitempty"`
	Files         map[string]string `json:"files,omitempty"`
	OSInfo        string            `json:"os_info,omitempty"`
	Logs          []string          `json:"logs,omitempty"`
}

// MarshalPing produces the minimal "crash ping" payload described in
// spec.md section 4.7: uuid, signal info, and selected metadata tags, with
// is_crash_ping:true. Invariant I10: callers must not call this until
// config, metadata, and (on POSIX) kind are all known.
func (c *CrashInfo) MarshalPing() ([]byte, error) {
	ping := struct {
		UUID        string   `json:"uuid"`
		SigInfo     *SigInfo `json:"sig_info,omitempty"`
		Tags        []string `json:"tags,omitempty"`
		IsCrashPing bool     `json:"is_crash_ping"`
	}{
		UUID:        c.UUID,
		SigInfo:     c.SigInfo,
		IsCrashPing: true,
	}
	for k, v := range c.Metadata.Tags {
		ping.Tags = append(ping.Tags, k+":"+v)
	}
	return json.Marshal(ping)
}

// ErrorIntakeBody is the JSON body shape for the errors-intake upload
// described in spec.md section 6.
type ErrorIntakeBody struct {
	Timestamp int64          `json:"timestamp"`
	DDSource  string         `json:"ddsource"`
	DDTags    string         `json:"ddtags"`
	Error     ErrorIntakeErr `json:"error"`
}

// ErrorIntakeErr is the nested "error" object of ErrorIntakeBody.
type ErrorIntakeErr struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Stack      string `json:"stack"`
	IsCrash    bool   `json:"is_crash"`
	Fingerprint string `json:"fingerprint"`
	SourceType string `json:"source_type"`
}

// ToErrorIntakeBody renders the final report into the errors-intake shape.
func (c *CrashInfo) ToErrorIntakeBody(stack string, ddtags string) ErrorIntakeBody {
	return ErrorIntakeBody{
		Timestamp: c.Timestamp.Unix(),
		DDSource:  "crashtracker",
		DDTags:    ddtags,
		Error: ErrorIntakeErr{
			Type:        c.Kind,
			Message:     c.Message,
			Stack:       stack,
			IsCrash:     true,
			Fingerprint: c.UUID,
			SourceType:  "Crashtracking",
		},
	}
}
