// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/DataDog/libdatadog-sub002/internal/xerrors"
)

// HTTPPoster posts telemetry payloads to a single endpoint (the local
// agent's telemetry proxy or direct intake), tagging every request with
// the DD-Telemetry-Request-Type header the intake dispatches on.
type HTTPPoster struct {
	Client        *http.Client
	Endpoint      string
	APIKey        string
	TracerVersion string
}

// NewHTTPPoster builds an HTTPPoster with a default client.
func NewHTTPPoster(endpoint, apiKey, tracerVersion string) *HTTPPoster {
	return &HTTPPoster{Client: &http.Client{}, Endpoint: endpoint, APIKey: apiKey, TracerVersion: tracerVersion}
}

func (p *HTTPPoster) Post(ctx context.Context, requestType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(xerrors.KindTransport, "build telemetry request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("DD-Telemetry-Request-Type", requestType)
	req.Header.Set("DD-Telemetry-API-Version", "v2")
	req.Header.Set("User-Agent", fmt.Sprintf("Tracer/%s", p.TracerVersion))
	if p.APIKey != "" {
		req.Header.Set("DD-API-KEY", p.APIKey)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.KindTransport, "telemetry network error", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return xerrors.New(xerrors.KindTransport, fmt.Sprintf("telemetry status %d", resp.StatusCode))
	}
	return nil
}
