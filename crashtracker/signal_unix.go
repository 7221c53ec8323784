// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

//go:build unix

package crashtracker

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

const altStackSize = 32 * 1024

var signalCh chan os.Signal

func posixSignal(s Signal) syscall.Signal {
	switch s {
	case SIGBUS:
		return syscall.SIGBUS
	case SIGABRT:
		return syscall.SIGABRT
	case SIGSEGV:
		return syscall.SIGSEGV
	case SIGILL:
		return syscall.SIGILL
	default:
		return 0
	}
}

// installHandlers sets up the alternate signal stack (if requested) and
// starts listening for the configured subset of {SIGBUS, SIGABRT,
// SIGSEGV, SIGILL}. Config.Validate has already rejected
// create_alt_stack=true/use_alt_stack=false before this runs.
func installHandlers(cfg Config) error {
	if cfg.CreateAltStack {
		stack := make([]byte, altStackSize)
		ss := &unix.Stack_t{
			Ss_sp:    &stack[0],
			Ss_size:  uint64(altStackSize),
			Ss_flags: 0,
		}
		if err := unix.Sigaltstack(ss, nil); err != nil {
			return err
		}
	}

	if len(cfg.Signals) == 0 {
		return nil
	}
	signalCh = make(chan os.Signal, 1)
	sigset := make([]os.Signal, 0, len(cfg.Signals))
	for _, s := range cfg.Signals {
		if ps := posixSignal(s); ps != 0 {
			sigset = append(sigset, ps)
		}
	}
	signal.Notify(signalCh, sigset...)
	go handlerLoop()
	return nil
}

// handlerLoop is a goroutine fed by os/signal, not a handler running on
// the signal stack. Building the report allocates (JSON encoding of each
// line, the counter and span/trace id snapshots); it takes no lock of its
// own, and emitBlock syncs the writer after every block when the writer
// supports Sync, so partial output survives a crash elsewhere in the
// process.
func handlerLoop() {
	for sig := range signalCh {
		s, _ := sig.(syscall.Signal)
		UpdateCounter("in_segv_handler", 1)
		info := &SigInfo{
			SignalNumber: int(s),
			SignalName:   s.String(),
		}
		if w := globalPipe; w != nil {
			emitReport(w, info, s.String())
			emitDone(w)
		}
		UpdateCounter("in_segv_handler", -1)
	}
}
