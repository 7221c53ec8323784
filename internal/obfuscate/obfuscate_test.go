// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package obfuscate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObfuscateSQLLiterals(t *testing.T) {
	in := "SELECT * FROM t WHERE id = 'abc' AND n = 1"
	want := "SELECT * FROM t WHERE id = ? AND n = ?"
	assert.Equal(t, want, ObfuscateSQL(in))
}

func TestObfuscateSQLPreservesComments(t *testing.T) {
	in := "SELECT 1 -- pick a literal\nFROM t"
	out := ObfuscateSQL(in)
	assert.Contains(t, out, "-- pick a literal")
}

func TestObfuscateSQLHexLiteral(t *testing.T) {
	in := "WHERE id = x'deadbeef'"
	assert.Equal(t, "WHERE id = ?", ObfuscateSQL(in))
}

func TestObfuscateRedisSet(t *testing.T) {
	assert.Equal(t, "SET key ?", ObfuscateRedis("SET key value"))
}

func TestObfuscateRedisHSet(t *testing.T) {
	assert.Equal(t, "HSET key field ?", ObfuscateRedis("HSET key field value"))
}

func TestObfuscateRedisAuth(t *testing.T) {
	assert.Equal(t, "AUTH ?", ObfuscateRedis("AUTH user secret"))
}

func TestObfuscateRedisZadd(t *testing.T) {
	assert.Equal(t, "ZADD key ? a ? b", ObfuscateRedis("ZADD key 1 a 2 b"))
}

func TestObfuscateRedisHMSet(t *testing.T) {
	assert.Equal(t, "HMSET key ? f2 ?", ObfuscateRedis("HMSET key v1 f2 v2"))
}
