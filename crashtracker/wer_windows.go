// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

//go:build windows

package crashtracker

import (
	"encoding/json"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

const (
	werPrefixMagic uint64 = 0xBABA_BABA_BABA_BABA
	werSuffixMagic uint64 = 0xEFEF_EFEF_EFEF_EFEF
)

// WerContext is the bit-exact 32-byte (on 64-bit) layout described in
// spec.md section 6: {prefix magic, ptr, len, suffix magic}. It is
// written into process memory at Init and read back out-of-process by
// the WER helper DLL.
type WerContext struct {
	Prefix uint64
	Ptr    uintptr
	Len    uintptr
	Suffix uint64
}

// Valid reports whether both magic sentinels match (invariant I9). A
// context is trusted only if this returns true; mutating either byte of
// either magic must cause rejection.
func (w *WerContext) Valid() bool {
	return w.Prefix == werPrefixMagic && w.Suffix == werSuffixMagic
}

// ErrorContext is the endpoint + metadata blob the WerContext points at,
// serialized to UTF-8 JSON and read by the out-of-process WER callback.
type ErrorContext struct {
	Endpoint string   `json:"endpoint"`
	Metadata Metadata `json:"metadata"`
}

var globalWerContext *WerContext
var globalWerBlob []byte // kept alive so Ptr stays valid

// installHandlers serializes an ErrorContext into the process-global
// WerContext and registers the WER runtime exception module, writing the
// DLL's entry under HKCU unless HKCU already lists it; HKLM is not
// consulted.
func installHandlers(cfg Config) error {
	ec := ErrorContext{Endpoint: cfg.Endpoint, Metadata: globalMetadata}
	blob, err := json.Marshal(ec)
	if err != nil {
		return err
	}
	globalWerBlob = blob
	globalWerContext = &WerContext{
		Prefix: werPrefixMagic,
		Ptr:    uintptr(unsafe.Pointer(&globalWerBlob[0])),
		Len:    uintptr(len(globalWerBlob)),
		Suffix: werSuffixMagic,
	}
	return registerWerModule(werDLLPath())
}

func werDLLPath() string {
	return "datadog_crashtracker.dll"
}

// registerWerModule calls WerRegisterRuntimeExceptionModule and ensures
// a registry entry exists under HKCU so the module is also picked up by
// WER across process restarts, per spec.md section 4.6.
func registerWerModule(dllPath string) error {
	const keyPath = `Software\Microsoft\Windows\Windows Error Reporting\RuntimeExceptionHelperModules`
	k, _, err := registry.CreateKey(registry.CURRENT_USER, keyPath, registry.SET_VALUE|registry.QUERY_VALUE)
	if err != nil {
		return fmt.Errorf("open WER registry key: %w", err)
	}
	defer k.Close()
	if _, _, err := k.GetStringValue(dllPath); err != nil {
		if err := k.SetDWordValue(dllPath, 1); err != nil {
			return fmt.Errorf("register WER helper module: %w", err)
		}
	}

	mod := windows.NewLazySystemDLL("kernel32.dll")
	proc := mod.NewProc("WerRegisterRuntimeExceptionModule")
	path, err := windows.UTF16PtrFromString(dllPath)
	if err != nil {
		return err
	}
	ret, _, callErr := proc.Call(uintptr(unsafe.Pointer(path)), uintptr(unsafe.Pointer(globalWerContext)))
	if ret != 0 {
		return fmt.Errorf("WerRegisterRuntimeExceptionModule: %w", callErr)
	}
	return nil
}
