// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2025 Datadog, Inc.

package remoteconfig

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/DataDog/libdatadog-sub002/internal/xerrors"
	"golang.org/x/time/rate"
)

// ConfigInvariants is the fixed identity a Fetcher presents on every
// call: language/version, the remote-config endpoint, the product list,
// and the client's capability bitset.
type ConfigInvariants struct {
	Language      string
	TracerVersion string
	Endpoint      string
	Products      []string
	Capabilities  []byte
}

// TracerInfo is the per-target identity attached to a fetch_once call.
type TracerInfo struct {
	Service    string
	Env        string
	AppVersion string
	RuntimeID  string
}

// StoredTargetFile is one entry of the fetcher's cache: the path, the
// hash it was last stored/updated with, its version, and the opaque
// FileStorage handle backing its contents.
type StoredTargetFile struct {
	Path    Path
	Hash    string
	Version uint64
	Handle  any
}

// ConfigFetcherState is the mutable state shared across fetch_once
// calls: the path->file cache plus the opaque backend state and refresh
// interval the backend asks to have echoed back verbatim.
type ConfigFetcherState struct {
	mu              sync.Mutex
	Cached          map[string]StoredTargetFile
	BackendState    []byte
	RefreshInterval time.Duration
}

// NewConfigFetcherState builds an empty ConfigFetcherState.
func NewConfigFetcherState() *ConfigFetcherState {
	return &ConfigFetcherState{Cached: make(map[string]StoredTargetFile)}
}

// Poster performs the ClientGetConfigsRequest POST and returns the raw
// response body. Kept as a narrow interface so tests can stub the
// backend without standing up an HTTP server.
type Poster interface {
	Post(ctx context.Context, body []byte) ([]byte, error)
}

// Fetcher implements fetch_once (spec.md section 4.9).
type Fetcher struct {
	Invariants        ConfigInvariants
	State             *ConfigFetcherState
	Storage           FileStorage
	Poster            Poster
	ExpireUnusedFiles bool

	// Limiter, if set, paces FetchOnce calls to the backend-advertised
	// refresh interval (ConfigFetcherState.RefreshInterval); callers
	// that poll on their own schedule can leave this nil.
	Limiter *rate.Limiter
}

type clientGetConfigsRequest struct {
	Client struct {
		State struct {
			RootVersion                    int               `json:"root_version"`
			TargetsVersion                 int               `json:"targets_version"`
			ConfigStates                   []json.RawMessage `json:"config_states"`
			HasError                       bool              `json:"has_error"`
			Error                          string            `json:"error,omitempty"`
			BackendClientState             string            `json:"backend_client_state,omitempty"`
		} `json:"state"`
		ID          string   `json:"id"`
		Products    []string `json:"products"`
		IsTracer    bool     `json:"is_tracer"`
		ClientTracer struct {
			RuntimeID  string `json:"runtime_id"`
			Language   string `json:"language"`
			AppVersion string `json:"tracer_version"`
			Service    string `json:"service"`
			Env        string `json:"env"`
			TagsAppVersion string `json:"app_version"`
		} `json:"client_tracer"`
		Capabilities string `json:"capabilities"`
	} `json:"client"`
	CachedTargetFiles []cachedTargetFileWire `json:"cached_target_files"`
}

type cachedTargetFileWire struct {
	Path   string            `json:"path"`
	Length int               `json:"length"`
	Hashes map[string]string `json:"hashes"`
}

type getConfigsResponse struct {
	Targets             string               `json:"targets"`
	TargetFiles         []targetFileResponse `json:"target_files"`
	ClientConfigs       []string             `json:"client_configs"`
	RefreshIntervalSecs *int                 `json:"refresh_interval_seconds,omitempty"`
}

type targetFileResponse struct {
	Path string `json:"path"`
	Raw  string `json:"raw"`
}

type targetsSignedDoc struct {
	Signed struct {
		Targets map[string]struct {
			Length int               `json:"length"`
			Hashes map[string]string `json:"hashes"`
		} `json:"targets"`
		Custom struct {
			OpaqueBackendState string `json:"opaque_backend_state"`
		} `json:"custom"`
	} `json:"signed"`
}

// FetchResult is what fetch_once returns on success: one handle per
// currently-active path. When the response was effectively empty
// (Ok(None) in spec.md's vocabulary) FetchOnce returns a nil
// *FetchResult and a nil error instead.
type FetchResult struct {
	Handles []any
}

// FetchOnce performs one ClientGetConfigsRequest/response round trip,
// validating and storing any new or changed target files.
func (f *Fetcher) FetchOnce(ctx context.Context, runtimeID string, target TracerInfo, configID string, lastErr error) (*FetchResult, error) {
	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return nil, xerrors.Wrap(xerrors.KindTransport, "remote config rate limit", err)
		}
	}

	f.State.mu.Lock()
	reqBody, err := f.buildRequest(runtimeID, target, configID, lastErr)
	f.State.mu.Unlock()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindDecode, "build remote config request", err)
	}

	respBody, err := f.Poster.Post(ctx, reqBody)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindTransport, "remote config request", err)
	}

	var resp getConfigsResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, xerrors.NewDecode(xerrors.DecodeInvalidFormat, "remote config response: "+err.Error())
	}

	if resp.Targets == "" && len(resp.TargetFiles) == 0 && len(resp.ClientConfigs) == 0 {
		return nil, nil
	}

	targetsRaw, err := base64.StdEncoding.DecodeString(resp.Targets)
	if err != nil {
		return nil, xerrors.NewDecode(xerrors.DecodeInvalidFormat, "targets not valid base64: "+err.Error())
	}
	var doc targetsSignedDoc
	if err := json.Unmarshal(targetsRaw, &doc); err != nil {
		return nil, xerrors.NewDecode(xerrors.DecodeInvalidFormat, "targets document: "+err.Error())
	}

	f.State.mu.Lock()
	defer f.State.mu.Unlock()

	if f.ExpireUnusedFiles {
		active := make(map[string]struct{}, len(resp.ClientConfigs))
		for _, p := range resp.ClientConfigs {
			active[p] = struct{}{}
		}
		for path := range f.State.Cached {
			if _, ok := active[path]; !ok {
				delete(f.State.Cached, path)
			}
		}
	}

	for _, tf := range resp.TargetFiles {
		meta, ok := doc.Signed.Targets[tf.Path]
		if !ok {
			return nil, xerrors.NewDecode(xerrors.DecodeInvalidFormat, "target file not present in signed targets: "+tf.Path)
		}
		path, ok := ParsePath(tf.Path)
		if !ok {
			return nil, xerrors.NewDecode(xerrors.DecodeInvalidFormat, "invalid target path: "+tf.Path)
		}
		contents, err := base64.StdEncoding.DecodeString(tf.Raw)
		if err != nil {
			return nil, xerrors.NewDecode(xerrors.DecodeInvalidFormat, "target file not valid base64: "+tf.Path)
		}
		hash, err := validateHash(meta.Hashes, contents)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.KindDecode, "hash validation: "+tf.Path, err)
		}

		existing, known := f.State.Cached[tf.Path]
		if known && existing.Hash == hash {
			continue
		}

		version := uint64(meta.Length)
		if known {
			if err := f.Storage.Update(existing.Handle, version, contents); err != nil {
				return nil, xerrors.Wrap(xerrors.KindDecode, "update stored file: "+tf.Path, err)
			}
			existing.Hash = hash
			existing.Version = version
			f.State.Cached[tf.Path] = existing
		} else {
			handle, err := f.Storage.Store(version, path, contents)
			if err != nil {
				return nil, xerrors.Wrap(xerrors.KindDecode, "store file: "+tf.Path, err)
			}
			f.State.Cached[tf.Path] = StoredTargetFile{Path: path, Hash: hash, Version: version, Handle: handle}
		}
	}

	if doc.Signed.Custom.OpaqueBackendState != "" {
		if decoded, err := base64.StdEncoding.DecodeString(doc.Signed.Custom.OpaqueBackendState); err == nil {
			f.State.BackendState = decoded
		}
	}
	if resp.RefreshIntervalSecs != nil {
		f.State.RefreshInterval = time.Duration(*resp.RefreshIntervalSecs) * time.Second
		if f.Limiter != nil && f.State.RefreshInterval > 0 {
			f.Limiter.SetLimit(rate.Every(f.State.RefreshInterval))
		}
	}

	handles := make([]any, 0, len(resp.ClientConfigs))
	for _, p := range resp.ClientConfigs {
		if stored, ok := f.State.Cached[p]; ok {
			handles = append(handles, stored.Handle)
		}
	}
	return &FetchResult{Handles: handles}, nil
}

// validateHash requires at least one of sha256/sha512 to be present and
// to match the decoded contents, per spec.md section 4.9.
func validateHash(hashes map[string]string, contents []byte) (string, error) {
	if want, ok := hashes["sha512"]; ok {
		got := sha512.Sum512(contents)
		if hex.EncodeToString(got[:]) != want {
			return "", fmt.Errorf("sha512 mismatch")
		}
		return "sha512:" + want, nil
	}
	if want, ok := hashes["sha256"]; ok {
		got := sha256.Sum256(contents)
		if hex.EncodeToString(got[:]) != want {
			return "", fmt.Errorf("sha256 mismatch")
		}
		return "sha256:" + want, nil
	}
	return "", fmt.Errorf("no sha256 or sha512 hash present")
}

func (f *Fetcher) buildRequest(runtimeID string, target TracerInfo, configID string, lastErr error) ([]byte, error) {
	var req clientGetConfigsRequest
	req.Client.ID = configID
	req.Client.Products = f.Invariants.Products
	req.Client.IsTracer = true
	req.Client.ClientTracer.RuntimeID = runtimeID
	req.Client.ClientTracer.Language = f.Invariants.Language
	req.Client.ClientTracer.AppVersion = f.Invariants.TracerVersion
	req.Client.ClientTracer.Service = target.Service
	req.Client.ClientTracer.Env = target.Env
	req.Client.ClientTracer.TagsAppVersion = target.AppVersion
	req.Client.Capabilities = base64.StdEncoding.EncodeToString(f.Invariants.Capabilities)
	req.Client.State.BackendClientState = base64.StdEncoding.EncodeToString(f.State.BackendState)
	if lastErr != nil {
		req.Client.State.HasError = true
		req.Client.State.Error = lastErr.Error()
	}

	for path, stored := range f.State.Cached {
		algo, hexHash, _ := splitHash(stored.Hash)
		req.CachedTargetFiles = append(req.CachedTargetFiles, cachedTargetFileWire{
			Path:   path,
			Length: int(stored.Version),
			Hashes: map[string]string{algo: hexHash},
		})
	}
	return json.Marshal(req)
}

func splitHash(tagged string) (algo, hexHash string, ok bool) {
	for i := 0; i < len(tagged); i++ {
		if tagged[i] == ':' {
			return tagged[:i], tagged[i+1:], true
		}
	}
	return "", "", false
}
