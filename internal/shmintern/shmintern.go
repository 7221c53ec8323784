// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

// Package shmintern implements the profiler's cross-process string intern
// table: a fixed-size, append-only map of string -> id backed by a
// caller-provided shared-memory region. Readers are lock-free; writers are
// serialized by an atomic spinlock held in the region's header. The
// component never maps or unmaps memory itself — the caller owns the
// mapping and must zero-initialize it before calling Init.
package shmintern

import (
	"sync/atomic"
	"unsafe"

	"github.com/DataDog/libdatadog-sub002/internal/xerrors"
)

const (
	// RegionSize is the fixed size every SHM mapping passed to this
	// package must be at least as large as.
	RegionSize = 6 * 1024 * 1024

	headerSize        = 64
	hashTableBackingSize = 384 * 1024
	maxStrings        = 57344 // directory capacity; see dirSize below
	dirEntrySize      = 8     // {offset uint32, len uint32}
	dirSize           = maxStrings * dirEntrySize

	numBuckets = hashTableBackingSize / 4 // one uint32 slot per bucket

	offLock        = 0 // u32 spinlock
	offStringCount = 4 // u32, published with Release
	offArenaUsed   = 8 // u32, stored before string_count

	offHashTable = headerSize
	offDirectory = offHashTable + hashTableBackingSize
	offArena     = offDirectory + dirSize
)

// arenaCapacity is the number of bytes available to store interned string
// bytes for a region of exactly RegionSize.
const arenaCapacity = RegionSize - offArena

// wellKnownKeys are pre-interned at Init in fixed order, occupying ids
// 1..=len(wellKnownKeys). The empty string is always id 0 and is not
// stored in wellKnownKeys.
var wellKnownKeys = []string{
	"local root span id",
	"trace endpoint",
	"end_timestamp_ns",
	"thread id",
	"thread name",
	"timestamp",
}

// Table is a thin, stateless view over a caller-owned shared-memory
// region. All methods are safe to call concurrently from multiple
// goroutines, OS threads, and (given the same mapping) processes.
type Table struct {
	region []byte
}

// New wraps region without touching it. Call Init once, from exactly one
// process, before any Intern/Get calls.
func New(region []byte) (*Table, error) {
	if len(region) < RegionSize {
		return nil, xerrors.New(xerrors.KindConfiguration, "InvalidInput: region smaller than RegionSize")
	}
	return &Table{region: region}, nil
}

// Init zeros the header, lays out an empty directory/arena, and
// pre-interns the well-known strings in fixed order. It must be called
// exactly once per mapping, before any other process attaches.
func (t *Table) Init() error {
	region := t.region
	if len(region) < RegionSize {
		return xerrors.New(xerrors.KindConfiguration, "InvalidInput: region smaller than RegionSize")
	}
	for i := range region[:RegionSize] {
		region[i] = 0
	}
	// Empty string occupies index 0 with (offset=0, len=0); string_count
	// starts at 1 to account for it without an explicit intern call.
	atomic.StoreUint32(t.u32(offStringCount), 1)
	for _, s := range wellKnownKeys {
		if _, err := t.internLocked(s); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) u32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&t.region[off]))
}

func (t *Table) bucket(i int) *uint32 {
	return (*uint32)(unsafe.Pointer(&t.region[offHashTable+i*4]))
}

func dirEntry(region []byte, idx uint32) (offset, length uint32) {
	base := offDirectory + int(idx)*dirEntrySize
	offset = uint32(region[base]) | uint32(region[base+1])<<8 | uint32(region[base+2])<<16 | uint32(region[base+3])<<24
	length = uint32(region[base+4]) | uint32(region[base+5])<<8 | uint32(region[base+6])<<16 | uint32(region[base+7])<<24
	return
}

func writeDirEntry(region []byte, idx, offset, length uint32) {
	base := offDirectory + int(idx)*dirEntrySize
	region[base] = byte(offset)
	region[base+1] = byte(offset >> 8)
	region[base+2] = byte(offset >> 16)
	region[base+3] = byte(offset >> 24)
	region[base+4] = byte(length)
	region[base+5] = byte(length >> 8)
	region[base+6] = byte(length >> 16)
	region[base+7] = byte(length >> 24)
}

// fnv1a64 is deterministic across processes and PRNG seeds, which keeps
// the table internally consistent regardless of per-process hash seeding.
func fnv1a64(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

func (t *Table) lock() {
	for !atomic.CompareAndSwapUint32(t.u32(offLock), 0, 1) {
		// spin-hint; no OS-level blocking, matching the async-signal-safe
		// writer contract.
	}
}

func (t *Table) unlock() { atomic.StoreUint32(t.u32(offLock), 0) }

// Intern returns the id for s, inserting it if not already present.
// Interning the same string twice returns the same id.
func (t *Table) Intern(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	t.lock()
	defer t.unlock()
	return t.internLocked(s)
}

func (t *Table) internLocked(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	h := fnv1a64(s)
	region := t.region
	mask := uint32(numBuckets - 1)
	start := uint32(h) & mask
	for i := uint32(0); i < numBuckets; i++ {
		slot := (start + i) % numBuckets
		b := t.bucket(int(slot))
		v := atomic.LoadUint32(b)
		if v == 0 {
			// empty slot: not found, insert here.
			count := atomic.LoadUint32(t.u32(offStringCount))
			if count >= maxStrings {
				return 0, xerrors.New(xerrors.KindStorageFull, "StorageFull: directory full")
			}
			arenaUsed := atomic.LoadUint32(t.u32(offArenaUsed))
			if int(arenaUsed)+len(s) > arenaCapacity {
				return 0, xerrors.New(xerrors.KindStorageFull, "StorageFull: arena full")
			}
			copy(region[offArena+int(arenaUsed):], s)
			writeDirEntry(region, count, arenaUsed, uint32(len(s)))
			// arena_used is published before string_count; both are
			// sync/atomic stores, which Go makes sequentially consistent,
			// so they give at least Release ordering. See DESIGN.md for
			// the preserved-ordering rationale.
			atomic.StoreUint32(t.u32(offArenaUsed), arenaUsed+uint32(len(s)))
			atomic.StoreUint32(b, count+1) // bucket stores (index+1)
			atomic.StoreUint32(t.u32(offStringCount), count+1)
			return count, nil
		}
		idx := v - 1
		off, ln := dirEntry(region, idx)
		if int(ln) == len(s) && string(region[offArena+int(off):offArena+int(off)+int(ln)]) == s {
			return idx, nil
		}
	}
	return 0, xerrors.New(xerrors.KindStorageFull, "StorageFull: hash table full")
}

// Get returns the string stored at id, or "" if id is out of range
// (defensive: a stale or racing reader never panics).
func (t *Table) Get(id uint32) string {
	count := atomic.LoadUint32(t.u32(offStringCount))
	if id >= count {
		return ""
	}
	if id == 0 {
		return ""
	}
	off, ln := dirEntry(t.region, id)
	return string(t.region[offArena+int(off) : offArena+int(off)+int(ln)])
}

// Len returns the number of strings currently stored, including the
// implicit empty string at id 0.
func (t *Table) Len() int {
	return int(atomic.LoadUint32(t.u32(offStringCount)))
}
