// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package crashtracker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalPingIsCrashPing(t *testing.T) {
	c := &CrashInfo{
		UUID:     "abc-123",
		SigInfo:  &SigInfo{SignalNumber: 11, SignalName: "SIGSEGV"},
		Metadata: Metadata{Tags: map[string]string{"service": "checkout"}},
	}
	b, err := c.MarshalPing()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, true, decoded["is_crash_ping"])
	assert.Equal(t, "abc-123", decoded["uuid"])
}

func TestToErrorIntakeBodyShape(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	c := &CrashInfo{UUID: "u1", Timestamp: ts, Kind: "SIGSEGV", Message: "bad access"}
	body := c.ToErrorIntakeBody("frame0\nframe1", "env:prod")

	assert.Equal(t, "crashtracker", body.DDSource)
	assert.Equal(t, "env:prod", body.DDTags)
	assert.True(t, body.Error.IsCrash)
	assert.Equal(t, "Crashtracking", body.Error.SourceType)
	assert.Equal(t, "u1", body.Error.Fingerprint)
}
