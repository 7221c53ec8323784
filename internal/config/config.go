// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

// Package config resolves the DD_* environment variables consumed by the
// core subsystems (spec.md section 6), following the teacher's
// internal/env fallback-table pattern: each setting has a default and
// one env var that overrides it.
package config

import (
	"os"
	"strconv"
)

const (
	defaultSite       = "datadoghq.com"
	defaultAgentHost  = "localhost"
	defaultAgentPort  = "8126"
	unixSocketDefault = "/var/run/datadog/apm.socket"
)

// Agent holds the resolved agent connection settings.
type Agent struct {
	URL        string // DD_TRACE_AGENT_URL, else derived from host:port
	Host       string // DD_AGENT_HOST
	Port       string // DD_TRACE_AGENT_PORT
	PipeName   string // DD_TRACE_PIPE_NAME (Windows named pipe)
	UnixSocket string // auto-discovered /var/run/datadog/apm.socket
}

// Submission holds settings governing where observability payloads go.
type Submission struct {
	APIKey                  string // DD_API_KEY
	Site                    string // DD_SITE
	ErrorsIntakeURL         string // DD_ERRORS_INTAKE_DD_URL
	DirectSubmissionEnabled bool   // _DD_DIRECT_SUBMISSION_ENABLED
	ErrorsIntakeEnabled     bool   // _DD_ERRORS_INTAKE_ENABLED, default true
	SharedLibDebug          bool   // _DD_SHARED_LIB_DEBUG
}

// AgentFromEnv resolves Agent settings from the process environment.
func AgentFromEnv() Agent {
	a := Agent{
		Host:       getenv("DD_AGENT_HOST", defaultAgentHost),
		Port:       getenv("DD_TRACE_AGENT_PORT", defaultAgentPort),
		PipeName:   os.Getenv("DD_TRACE_PIPE_NAME"),
		UnixSocket: unixSocketDefault,
	}
	if u := os.Getenv("DD_TRACE_AGENT_URL"); u != "" {
		a.URL = u
	} else {
		a.URL = "http://" + a.Host + ":" + a.Port
	}
	if _, err := os.Stat(a.UnixSocket); err != nil {
		a.UnixSocket = ""
	}
	return a
}

// SubmissionFromEnv resolves Submission settings from the process
// environment.
func SubmissionFromEnv() Submission {
	return Submission{
		APIKey:                  os.Getenv("DD_API_KEY"),
		Site:                    getenv("DD_SITE", defaultSite),
		ErrorsIntakeURL:         os.Getenv("DD_ERRORS_INTAKE_DD_URL"),
		DirectSubmissionEnabled: getboolenv("_DD_DIRECT_SUBMISSION_ENABLED", false),
		ErrorsIntakeEnabled:     getboolenv("_DD_ERRORS_INTAKE_ENABLED", true),
		SharedLibDebug:          getboolenv("_DD_SHARED_LIB_DEBUG", false),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getboolenv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
