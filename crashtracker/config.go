// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package crashtracker

import "github.com/DataDog/libdatadog-sub002/internal/xerrors"

// Signal is one of the POSIX signals the collector may be configured to
// intercept.
type Signal int

const (
	SIGBUS Signal = iota
	SIGABRT
	SIGSEGV
	SIGILL
)

// Config is the collector's init-time configuration, shared by both the
// POSIX and Windows variants.
type Config struct {
	// Endpoint is where the assembled report (or, for the errors-intake
	// proxy, the crash ping) is ultimately uploaded.
	Endpoint string

	// Signals is the subset of {SIGBUS, SIGABRT, SIGSEGV, SIGILL} to
	// install handlers for. Ignored on Windows.
	Signals []Signal

	// UseAltStack is checked only by Validate; installHandlers registers
	// signals through os/signal whatever its value and sets no SA_ONSTACK
	// flag itself.
	UseAltStack bool
	// CreateAltStack requests the collector allocate and install an
	// alternate signal stack via sigaltstack. Requires UseAltStack.
	CreateAltStack bool

	// ResolveFrames enables in-process symbolization of stack frames
	// (function/file/line/column) in addition to raw ip/sp.
	ResolveFrames bool

	// AdditionalFiles are extra files attached to the final report.
	AdditionalFiles []string

	// WaitForReceiver is carried in the CONFIG block sent to the receiver;
	// Init does not read it and does not wait for the receiver.
	WaitForReceiver bool
}

// Validate enforces the one configuration-level invariant named in
// spec.md section 4.6: create_alt_stack=true with use_alt_stack=false is
// refused verbatim.
func (c Config) Validate() error {
	if c.CreateAltStack && !c.UseAltStack {
		return xerrors.New(xerrors.KindConfiguration, "Cannot create an altstack without using it")
	}
	return nil
}

func (s Signal) String() string {
	switch s {
	case SIGBUS:
		return "SIGBUS"
	case SIGABRT:
		return "SIGABRT"
	case SIGSEGV:
		return "SIGSEGV"
	case SIGILL:
		return "SIGILL"
	default:
		return "UNKNOWN"
	}
}
