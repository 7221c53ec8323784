// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

// Package transport implements the retrying HTTP sender (C5): request
// construction for the local agent (MessagePack) and direct intake
// (protobuf), backoff strategies, and result accounting.
package transport

import (
	"math/rand"
	"time"
)

// BackoffType selects the delay curve used between retries.
type BackoffType int

const (
	BackoffConstant BackoffType = iota
	BackoffDouble
	BackoffExponential
)

// RetryStrategy mirrors spec.md section 4.5. MaxRetries=0 means attempt
// once and never retry.
type RetryStrategy struct {
	MaxRetries  int
	BaseDelay   time.Duration
	BackoffType BackoffType
	Jitter      time.Duration // 0 disables jitter
	randSource  *rand.Rand    // overridable in tests; defaults to a fresh source
}

// Delay returns the delay before attempt n (1-indexed), including any
// jitter.
func (r RetryStrategy) Delay(n int) time.Duration {
	var base time.Duration
	switch r.BackoffType {
	case BackoffConstant:
		base = r.BaseDelay
	case BackoffDouble:
		base = r.BaseDelay * time.Duration(1<<uint(n-1))
	case BackoffExponential:
		base = r.BaseDelay * time.Duration(n)
	default:
		base = r.BaseDelay
	}
	if r.Jitter <= 0 {
		return base
	}
	src := r.randSource
	if src == nil {
		src = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return base + time.Duration(src.Int63n(int64(r.Jitter)))
}

// shouldRetry reports whether err (a transport error or non-2xx status)
// warrants another attempt given attempt n has just failed.
func (r RetryStrategy) shouldRetry(n int) bool {
	return n <= r.MaxRetries
}
