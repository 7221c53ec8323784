// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package crashtracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidateRejectsAltStackWithoutUsing(t *testing.T) {
	cfg := Config{CreateAltStack: true, UseAltStack: false}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot create an altstack without using it")
}

func TestConfigValidateAllowsUseWithoutCreate(t *testing.T) {
	cfg := Config{CreateAltStack: false, UseAltStack: true}
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidateAllowsBothTrue(t *testing.T) {
	cfg := Config{CreateAltStack: true, UseAltStack: true}
	assert.NoError(t, cfg.Validate())
}
