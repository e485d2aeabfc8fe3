// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tomtom215/trackgate/internal/apierr"
	"github.com/tomtom215/trackgate/internal/transport"
)

// maxResponseBytes caps how much of an upstream body is read. Position and
// report queries can be large but never legitimately this large.
const maxResponseBytes = 32 << 20

// HTTPClient is the terminal transport.Doer: it performs the actual HTTP
// exchange against the upstream server.
type HTTPClient struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPClient creates the raw HTTP transport. The http.Client is shared
// with the push channel so the session cookie jar covers both.
func NewHTTPClient(baseURL string, client *http.Client) (*HTTPClient, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", base.Scheme)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{base: base, client: client}, nil
}

// Do implements transport.Doer. Transport-level failures are classified
// into the error taxonomy; any HTTP response, error status included, is
// returned without an error so upper layers decide how to treat the status.
func (h *HTTPClient) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	u := *h.base
	u.Path = strings.TrimRight(h.base.Path, "/") + req.Path
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		httpReq.Header[k] = vs
	}
	httpReq.Header.Set("Accept", "application/json")
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, apierr.FromTransport(err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, apierr.FromTransport(err)
	}

	return &transport.Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   data,
	}, nil
}

// BaseURL returns the configured upstream base URL.
func (h *HTTPClient) BaseURL() *url.URL {
	return h.base
}
