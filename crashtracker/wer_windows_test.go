// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

//go:build windows

package crashtracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWerContextValidRequiresBothMagics(t *testing.T) {
	ctx := &WerContext{Prefix: werPrefixMagic, Suffix: werSuffixMagic}
	assert.True(t, ctx.Valid())

	bad := *ctx
	bad.Prefix ^= 0x01
	assert.False(t, bad.Valid())

	bad2 := *ctx
	bad2.Suffix ^= 0x01
	assert.False(t, bad2.Valid())
}
