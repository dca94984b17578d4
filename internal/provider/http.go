// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pdiddy/fusion-engine/internal/httputil"
	"github.com/pdiddy/fusion-engine/pkg/types"
)

const maxBodyBytes = 4 << 20

// HTTPProvider is a generic JSON-over-HTTP adapter. Each tool maps to a path
// template whose {param} placeholders are filled from the request params;
// unused params become query parameters.
type HTTPProvider struct {
	cfg    types.ProviderConfig
	client *http.Client
	apiKey string
}

// NewHTTP creates an HTTP adapter. client may be nil.
func NewHTTP(cfg types.ProviderConfig, client *http.Client, apiKey string) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider %s: base_url is required", cfg.ID)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("provider %s: parsing base_url: %w", cfg.ID, err)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProvider{cfg: cfg, client: client, apiKey: apiKey}, nil
}

// Name returns the provider ID.
func (p *HTTPProvider) Name() string { return p.cfg.ID }

// Execute fetches and normalizes the payload for tool.
func (p *HTTPProvider) Execute(ctx context.Context, tool string, params types.Params) (Response, error) {
	tmpl, ok := p.cfg.Endpoints[tool]
	if !ok {
		return Response{}, fmt.Errorf("no endpoint for tool %s", tool)
	}
	target, err := p.buildURL(tmpl, params)
	if err != nil {
		return Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	p.decorate(req)

	resp, err := httputil.DoWithRetry(ctx, p.client, req, p.cfg.RetryAttempts)
	if err != nil {
		return Response{}, fmt.Errorf("requesting %s: %w", tool, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return Response{}, fmt.Errorf("%s returned HTTP %d", tool, resp.StatusCode)
	}

	var body any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return Response{}, fmt.Errorf("decoding %s response: %w", tool, err)
	}
	return p.normalize(body)
}

// Ping requests the configured health path.
func (p *HTTPProvider) Ping(ctx context.Context) error {
	if p.cfg.HealthPath == "" {
		return ErrProbeUnsupported
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.cfg.BaseURL, "/")+p.cfg.HealthPath, nil)
	if err != nil {
		return fmt.Errorf("creating probe: %w", err)
	}
	p.decorate(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (p *HTTPProvider) decorate(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" && p.cfg.APIKeyHeader != "" {
		req.Header.Set(p.cfg.APIKeyHeader, p.apiKey)
	}
}

func (p *HTTPProvider) buildURL(tmpl string, params types.Params) (string, error) {
	used := map[string]bool{}
	path := tmpl
	for k, v := range params {
		ph := "{" + k + "}"
		if strings.Contains(path, ph) {
			path = strings.ReplaceAll(path, ph, url.PathEscape(v))
			used[k] = true
		}
	}
	if strings.Contains(path, "{") {
		return "", fmt.Errorf("endpoint %q: unfilled placeholder", tmpl)
	}

	u, err := url.Parse(strings.TrimRight(p.cfg.BaseURL, "/") + path)
	if err != nil {
		return "", fmt.Errorf("building url: %w", err)
	}
	q := u.Query()
	keys := make([]string, 0, len(params))
	for k := range params {
		if !used[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, params[k])
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// normalize walks DataPath, takes the first element of an array payload,
// renames fields per FieldMap, and extracts the as-of timestamp.
func (p *HTTPProvider) normalize(body any) (Response, error) {
	node := body
	if p.cfg.DataPath != "" {
		for _, seg := range strings.Split(p.cfg.DataPath, ".") {
			m, ok := node.(map[string]any)
			if !ok {
				return Response{}, fmt.Errorf("malformed payload: %q is not an object", seg)
			}
			if node, ok = m[seg]; !ok {
				return Response{}, fmt.Errorf("malformed payload: missing %q", seg)
			}
		}
	}
	if arr, ok := node.([]any); ok {
		if len(arr) == 0 {
			return Response{}, errors.New("malformed payload: empty array")
		}
		node = arr[0]
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return Response{}, fmt.Errorf("malformed payload: expected object, got %T", node)
	}

	data := make(types.Record, len(obj))
	for k, v := range obj {
		if canon, ok := p.cfg.FieldMap[k]; ok {
			k = canon
		}
		data[k] = v
	}

	var ts time.Time
	if p.cfg.TimestampField != "" {
		ts = parseTimestamp(data[p.cfg.TimestampField])
	}
	return Response{Data: data, Timestamp: ts}, nil
}

// parseTimestamp accepts RFC 3339 strings, date-only strings, and unix
// seconds or milliseconds.
func parseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts
			}
		}
	case float64:
		if t > 1e12 {
			return time.UnixMilli(int64(t))
		}
		return time.Unix(int64(t), 0)
	}
	return time.Time{}
}
