// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

// Package remoteconfig implements the remote-config fetcher (C9)
// described in spec.md section 4.9: path parsing, fetch_once, targets
// validation, and a pluggable file storage interface.
package remoteconfig

import "strings"

// source identifies where a config path originates: the Datadog
// backend (scoped by org id) or a locally-injected employee config.
type source interface {
	String() string
}

// DatadogSource is a path rooted at datadog/<org_id>/...
type DatadogSource struct {
	OrgID string
}

func (s DatadogSource) String() string { return "datadog/" + s.OrgID }

// EmployeeSource is a path rooted at employee/...
type EmployeeSource struct{}

func (s EmployeeSource) String() string { return "employee" }

// Path is a parsed remote-config target path:
// <source>/<product>/<config_id>/<name>.
type Path struct {
	Source   source
	Product  string
	ConfigID string
	Name     string
}

// String reconstructs the original path string.
func (p Path) String() string {
	return p.Source.String() + "/" + p.Product + "/" + p.ConfigID + "/" + p.Name
}

// ParsePath parses filename into (source, product, config_id, name);
// ok is false for any malformed path, per spec.md section 4.9.
func ParsePath(filename string) (Path, bool) {
	parts := strings.Split(filename, "/")

	if len(parts) == 4 && parts[0] == "employee" {
		product, configID, name := parts[1], parts[2], parts[3]
		if product == "" || configID == "" || name == "" {
			return Path{}, false
		}
		return Path{Source: EmployeeSource{}, Product: product, ConfigID: configID, Name: name}, true
	}

	if len(parts) == 5 && parts[0] == "datadog" {
		orgID := parts[1]
		if !isDigits(orgID) {
			return Path{}, false
		}
		product, configID, name := parts[2], parts[3], parts[4]
		if product == "" || configID == "" || name == "" {
			return Path{}, false
		}
		return Path{Source: DatadogSource{OrgID: orgID}, Product: product, ConfigID: configID, Name: name}, true
	}

	return Path{}, false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
