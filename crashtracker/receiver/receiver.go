// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

// Package receiver implements the crash-tracker receiver (C7): a line
// state machine reading the fenced protocol a crashtracker collector
// writes to a pipe, described in spec.md sections 4.7 and 6.
package receiver

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/DataDog/gostackparse"
	"github.com/DataDog/libdatadog-sub002/crashtracker"
	"github.com/DataDog/libdatadog-sub002/internal/log"
)

// State names the receiver's position in the fenced protocol.
type State int

const (
	Waiting State = iota
	InConfig
	InMetadata
	InSigInfo
	InProcInfo
	InCounters
	InSpanIDs
	InTraceIDs
	InStackTrace
	InWholeStackTrace
	InRuntimeStackFrame
	InRuntimeStackString
	InUcontext
	InThreadName
	InAdditionalTags
	InFile
	InKind
	InMessage
	Done
)

var blockState = map[string]State{
	"CONFIG":               InConfig,
	"METADATA":             InMetadata,
	"SIGINFO":              InSigInfo,
	"PROCINFO":             InProcInfo,
	"COUNTERS":             InCounters,
	"SPAN_IDS":             InSpanIDs,
	"TRACE_IDS":            InTraceIDs,
	"STACKTRACE":           InStackTrace,
	"WHOLE_STACKTRACE":     InWholeStackTrace,
	"RUNTIME_STACK_FRAME":  InRuntimeStackFrame,
	"RUNTIME_STACK_STRING": InRuntimeStackString,
	"UCONTEXT":             InUcontext,
	"THREAD_NAME":          InThreadName,
	"ADDITIONAL_TAGS":      InAdditionalTags,
	"FILE":                 InFile,
	"KIND":                 InKind,
	"MESSAGE":              InMessage,
}

// Pinger sends the minimal crash-ping payload to the error-tracking
// intake as soon as config, metadata and kind are known (invariant I10).
type Pinger interface {
	SendPing(payload []byte) error
}

// Uploader delivers the final, possibly-incomplete report.
type Uploader interface {
	Upload(info *crashtracker.CrashInfo) error
}

// Receiver runs the C7 state machine over one collector connection.
type Receiver struct {
	Pinger          Pinger
	Uploader        Uploader
	AdditionalFiles []string

	state             State
	info              crashtracker.CrashInfo
	currentCfg        crashtracker.Config
	configReceived    bool
	pinged            bool
	deadline          time.Time
	runtimeStackLines []string
	started           bool
}

// New builds a Receiver ready to process one stream.
func New(pinger Pinger, uploader Uploader) *Receiver {
	return &Receiver{Pinger: pinger, Uploader: uploader, state: Waiting}
}

// Run reads fenced lines from r until DONE, the end of the stream, a
// timeout, an IO error or a parse error (each but DONE is recorded as a
// log line), then always attempts to produce and upload a best-effort
// report — the receiver never surfaces an error to its own caller.
func (rv *Receiver) Run(r io.Reader, timeout time.Duration) *crashtracker.CrashInfo {
	rv.info.Incomplete = true
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for {
		if !rv.started {
			rv.started = true
		} else if !rv.deadline.IsZero() && time.Now().After(rv.deadline) {
			rv.recordLog("receiver: timed out waiting for next line")
			break
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				rv.recordLog("receiver: io error: " + err.Error())
			} else {
				rv.recordLog("receiver: stream ended before DONE")
			}
			break
		}
		if rv.deadline.IsZero() {
			rv.deadline = time.Now().Add(timeout)
		}

		line := scanner.Text()
		if err := rv.handleLine(line); err != nil {
			rv.recordLog("receiver: parse error: " + err.Error())
			break
		}
		if rv.state == Done {
			break
		}
	}

	rv.finalize()
	return &rv.info
}

func (rv *Receiver) handleLine(line string) error {
	if line == "DONE" {
		rv.info.Incomplete = false
		rv.state = Done
		return nil
	}
	if strings.HasPrefix(line, "BEGIN_") {
		name := strings.TrimPrefix(line, "BEGIN_")
		if s, ok := blockState[name]; ok {
			rv.state = s
			if s == InStackTrace && rv.info.StackTrace == nil {
				rv.info.StackTrace = []crashtracker.StackFrame{}
			}
		}
		return nil
	}
	if strings.HasPrefix(line, "END_") {
		name := strings.TrimPrefix(line, "END_")
		if name == "RUNTIME_STACK_STRING" {
			rv.parseRuntimeStackString()
		}
		rv.state = Waiting
		rv.maybeSendPing()
		return nil
	}
	return rv.handleContent(line)
}

// parseRuntimeStackString runs a Go runtime stack dump accumulated from
// a RUNTIME_STACK_STRING block through gostackparse, appending resolved
// frames to the report's stack trace. Parse errors are recorded as log
// lines rather than aborting the receiver, matching the "never surface
// an error" propagation policy.
func (rv *Receiver) parseRuntimeStackString() {
	if len(rv.runtimeStackLines) == 0 {
		return
	}
	dump := strings.NewReader(strings.Join(rv.runtimeStackLines, "\n"))
	goroutines, errs := gostackparse.Parse(dump)
	for _, err := range errs {
		rv.recordLog("receiver: runtime stack parse error: " + err.Error())
	}
	for _, g := range goroutines {
		for _, fr := range g.Stack {
			rv.info.StackTrace = append(rv.info.StackTrace, crashtracker.StackFrame{
				Function: fr.Func,
				File:     fr.File,
				Line:     uint32(fr.Line),
			})
		}
	}
	rv.runtimeStackLines = nil
}

func (rv *Receiver) handleContent(line string) error {
	switch rv.state {
	case InConfig:
		if err := json.Unmarshal([]byte(line), &rv.currentCfg); err != nil {
			return err
		}
		rv.configReceived = true
		return nil
	case InMetadata:
		return json.Unmarshal([]byte(line), &rv.info.Metadata)
	case InSigInfo:
		var sig crashtracker.SigInfo
		if err := json.Unmarshal([]byte(line), &sig); err != nil {
			return err
		}
		rv.info.SigInfo = &sig
	case InProcInfo:
		var p crashtracker.ProcInfo
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			return err
		}
		rv.info.ProcInfo = &p
	case InCounters:
		var c struct {
			Name  string `json:"name"`
			Value int64  `json:"value"`
		}
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return err
		}
		if rv.info.Counters == nil {
			rv.info.Counters = map[string]int64{}
		}
		rv.info.Counters[c.Name] = c.Value
	case InSpanIDs:
		var id uint64
		if err := json.Unmarshal([]byte(line), &id); err != nil {
			return err
		}
		rv.info.SpanIDs = append(rv.info.SpanIDs, id)
	case InTraceIDs:
		var id uint64
		if err := json.Unmarshal([]byte(line), &id); err != nil {
			return err
		}
		rv.info.TraceIDs = append(rv.info.TraceIDs, id)
	case InStackTrace, InWholeStackTrace, InRuntimeStackFrame:
		var f crashtracker.StackFrame
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			return err
		}
		// An empty-but-incomplete stack (zero frames observed before
		// END_STACKTRACE) is distinct from "no stack section at all":
		// the caller must not treat StackTrace == nil as success.
		rv.info.StackTrace = append(rv.info.StackTrace, f)
	case InRuntimeStackString:
		rv.runtimeStackLines = append(rv.runtimeStackLines, line)
	case InThreadName:
		var name string
		if err := json.Unmarshal([]byte(line), &name); err != nil {
			return err
		}
		rv.info.ThreadName = name
	case InAdditionalTags:
		var kv [2]string
		if err := json.Unmarshal([]byte(line), &kv); err != nil {
			return err
		}
		if rv.info.AdditionalTags == nil {
			rv.info.AdditionalTags = map[string]string{}
		}
		rv.info.AdditionalTags[kv[0]] = kv[1]
	case InKind:
		var kind string
		if err := json.Unmarshal([]byte(line), &kind); err != nil {
			return err
		}
		rv.info.Kind = kind
	case InMessage:
		var msg string
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return err
		}
		rv.info.Message = msg
	}
	return nil
}

// maybeSendPing fires the one-shot crash ping as soon as config,
// metadata, and (on POSIX) kind are all known — invariant I10.
func (rv *Receiver) maybeSendPing() {
	if rv.pinged || rv.Pinger == nil {
		return
	}
	if !rv.configReceived || rv.info.Metadata.LibraryName == "" || rv.info.Kind == "" {
		return
	}
	payload, err := rv.info.MarshalPing()
	if err != nil {
		return
	}
	rv.pinged = true
	go func() {
		if err := rv.Pinger.SendPing(payload); err != nil {
			log.Warn("crashtracker: crash ping failed: %v", err)
		}
	}()
}

func (rv *Receiver) recordLog(msg string) {
	rv.info.Logs = append(rv.info.Logs, msg)
}

// finalize attaches additional files, records OS info, ensures a
// thread-name is populated, and uploads the (possibly incomplete)
// report. The receiver never propagates an error from this path.
func (rv *Receiver) finalize() {
	files := append(append([]string{}, rv.AdditionalFiles...), rv.currentCfg.AdditionalFiles...)
	if len(files) > 0 {
		rv.info.Files = map[string]string{}
	}
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			rv.recordLog("receiver: failed to attach " + path + ": " + err.Error())
			continue
		}
		rv.info.Files[path] = string(content)
	}

	rv.info.OSInfo = runtime.GOOS + "/" + runtime.GOARCH

	if rv.info.ThreadName == "" && rv.info.ProcInfo != nil {
		rv.info.ThreadName = threadNameFromProc(rv.info.ProcInfo.Pid)
	}

	if rv.Uploader != nil {
		if err := rv.Uploader.Upload(&rv.info); err != nil {
			log.Warn("crashtracker: upload failed: %v", err)
		}
	}
}

// threadNameFromProc reads /proc/<pid>/comm on Linux, which names the
// process's main thread; the crashing thread's own
// /proc/<pid>/task/<tid>/comm is not read, as ProcInfo carries no thread
// id. It returns "" on other platforms or when the file cannot be read.
func threadNameFromProc(pid int) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/comm")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
