// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package transport

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/DataDog/libdatadog-sub002/internal/log"
	"github.com/DataDog/libdatadog-sub002/internal/xerrors"
)

// WireFormat selects how a SendData's payloads are encoded on the wire.
type WireFormat int

const (
	WireMsgpack WireFormat = iota
	WireProtobuf
)

// Endpoint is a submission target: the local agent (no API key, msgpack)
// or direct intake (API key present, protobuf).
type Endpoint struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

func (e Endpoint) wireFormat() WireFormat {
	if e.APIKey != "" {
		return WireProtobuf
	}
	return WireMsgpack
}

// SendData carries one or more tracer payloads bound for a single
// endpoint.
type SendData struct {
	Payloads []TracerPayload
	Endpoint Endpoint
}

// TracerPayload is one MessagePack-encoded trace batch, or one protobuf
// sub-message depending on wire format; to this package it is opaque
// bytes plus the trace count used for X-Datadog-Trace-Count.
type TracerPayload struct {
	Body       []byte
	TraceCount int
}

// SendDataResult is the aggregated result of one Send call.
type SendDataResult struct {
	RequestsCount    int
	ResponsesByCode  map[int]int
	Timeouts         int
	NetworkErrors    int
	StatusCodeErrors int
	LastError        error
	LastStatusCode   int
}

func newResult() *SendDataResult {
	return &SendDataResult{ResponsesByCode: make(map[int]int)}
}

// Sender is a retrying HTTP client for trace/stats/telemetry payload
// delivery, mirroring spec.md section 4.5.
type Sender struct {
	Client        *http.Client
	Strategy      RetryStrategy
	TracerVersion string
}

// NewSender builds a Sender with sane defaults mirroring the teacher's
// transport construction (an http.Client with no client-wide timeout,
// each attempt being bounded by its Endpoint's Timeout instead, and a
// Tracer/<version> user-agent).
func NewSender(tracerVersion string, strategy RetryStrategy) *Sender {
	return &Sender{
		Client:        &http.Client{},
		Strategy:      strategy,
		TracerVersion: tracerVersion,
	}
}

// Send delivers data, choosing MessagePack (parallel per-payload
// requests) or protobuf (one framed request) based on whether an API key
// is present.
func (s *Sender) Send(ctx context.Context, data SendData) *SendDataResult {
	var result *SendDataResult
	if data.Endpoint.wireFormat() == WireProtobuf {
		result = s.sendProtobuf(ctx, data)
	} else {
		result = s.sendMsgpack(ctx, data)
	}
	logTransportFailure(result)
	return result
}

func (s *Sender) sendMsgpack(ctx context.Context, data SendData) *SendDataResult {
	result := newResult()
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	for _, p := range data.Payloads {
		wg.Add(1)
		go func(p TracerPayload) {
			defer wg.Done()
			headers := map[string]string{
				"Content-Type":             "application/msgpack",
				"X-Datadog-Trace-Count":    strconv.Itoa(p.TraceCount),
			}
			status, reqErr := s.doWithRetry(ctx, data.Endpoint, p.Body, headers, result, &mu)
			mu.Lock()
			if reqErr != nil && firstErr == nil {
				firstErr = reqErr
			}
			_ = status
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	result.LastError = firstErr
	return result
}

func (s *Sender) sendProtobuf(ctx context.Context, data SendData) *SendDataResult {
	result := newResult()
	var buf bytes.Buffer
	for _, p := range data.Payloads {
		buf.Write(p.Body)
	}
	headers := map[string]string{
		"Content-Type": "application/x-protobuf",
		"DD-API-KEY":   data.Endpoint.APIKey,
	}
	var mu sync.Mutex
	_, err := s.doWithRetry(ctx, data.Endpoint, buf.Bytes(), headers, result, &mu)
	result.LastError = err
	return result
}

// doWithRetry performs one logical send, retrying on transport error or
// 4xx/5xx per s.Strategy, and folds the outcome into result.
func (s *Sender) doWithRetry(ctx context.Context, ep Endpoint, body []byte, headers map[string]string, result *SendDataResult, mu *sync.Mutex) (int, error) {
	var lastErr error
	attempts := s.Strategy.MaxRetries + 1
	for n := 1; n <= attempts; n++ {
		reqCtx := ctx
		if ep.Timeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, ep.Timeout)
			defer cancel()
		}
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, ep.URL, bytes.NewReader(body))
		if err != nil {
			return 0, xerrors.Wrap(xerrors.KindTransport, "build request", err)
		}
		req.Header.Set("User-Agent", fmt.Sprintf("Tracer/%s", s.TracerVersion))
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		mu.Lock()
		result.RequestsCount++
		mu.Unlock()

		resp, err := s.Client.Do(req)
		if err != nil {
			mu.Lock()
			if reqCtx.Err() == context.DeadlineExceeded {
				result.Timeouts++
			} else {
				result.NetworkErrors++
			}
			mu.Unlock()
			lastErr = xerrors.Wrap(xerrors.KindTransport, "network error", err)
			if n < attempts {
				s.sleep(n)
				continue
			}
			return 0, lastErr
		}
		resp.Body.Close()

		mu.Lock()
		result.ResponsesByCode[resp.StatusCode]++
		result.LastStatusCode = resp.StatusCode
		mu.Unlock()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp.StatusCode, nil
		}

		mu.Lock()
		result.StatusCodeErrors++
		mu.Unlock()
		lastErr = xerrors.New(xerrors.KindTransport, fmt.Sprintf("status %d", resp.StatusCode))
		if n < attempts {
			s.sleep(n)
			continue
		}
		return resp.StatusCode, lastErr
	}
	return 0, lastErr
}

func (s *Sender) sleep(attempt int) {
	d := s.Strategy.Delay(attempt)
	if d > 0 {
		time.Sleep(d)
	}
}

// logTransportFailure surfaces a final, exhausted-retry failure to the
// ambient logger without ever panicking; the sender never surfaces a
// TransportError until retries are exhausted, per spec.md section 7.
func logTransportFailure(result *SendDataResult) {
	if result.LastError != nil {
		log.Warn("transport: send failed after retries: %v", result.LastError)
	}
}
