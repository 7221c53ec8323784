// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package obfuscate

import "strings"

// ObfuscateRedis replaces the designated argument positions of known
// Redis commands with ?, per spec.md section 6.
func ObfuscateRedis(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return cmd
	}
	name := strings.ToUpper(fields[0])
	args := fields[1:]

	switch name {
	case "AUTH":
		// AUTH [username] password: the whole argument list collapses to
		// a single "?", not one "?" per argument, since any of them may
		// be the password.
		if len(args) > 0 {
			args = []string{"?"}
		}
	case "SET":
		if len(args) >= 2 {
			args[1] = "?"
		}
	case "HSET":
		if len(args) >= 3 {
			args[2] = "?"
		}
	case "GEOADD":
		// every third argument starting at position 3 (1-indexed within
		// args: positions 3, 6, 9, ... i.e. index 2,5,8,... 0-indexed)
		for i := 2; i < len(args); i += 3 {
			args[i] = "?"
		}
	case "HMSET":
		// every second argument starting at position 1 (0-indexed: 1,3,5,...)
		for i := 1; i < len(args); i += 2 {
			args[i] = "?"
		}
	case "ZADD":
		i := 1 // args[0] is the key
		for i < len(args) {
			switch strings.ToUpper(args[i]) {
			case "NX", "XX", "CH", "INCR", "GT", "LT":
				i++
			default:
				goto pairs
			}
		}
	pairs:
		for i < len(args) {
			args[i] = "?"
			i += 2
		}
	}

	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
