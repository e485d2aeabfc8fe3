// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

// Package transport defines the request/response abstraction shared by the
// rate limiter, batcher, cache, retry layer and pipeline.
package transport

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Request is one logical outbound API call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
	Header http.Header

	// TTL overrides the cache TTL for this call; zero means resolve from
	// endpoint configuration.
	TTL time.Duration

	// SkipCache bypasses the read-through cache entirely.
	SkipCache bool
}

// Batchable reports whether the request may be coalesced with equivalent
// concurrent requests. Only bodiless GETs qualify; mutating or
// parameterized-body requests always execute individually because their
// side effects are not idempotent.
func (r *Request) Batchable() bool {
	return r.Method == http.MethodGet && len(r.Body) == 0
}

// Response is the outcome of one logical call.
type Response struct {
	Status int
	Header http.Header
	Body   []byte

	// FromCache marks responses served from the cache store rather than
	// the network, so callers can distinguish live from cached data.
	FromCache bool
}

// Success reports whether the response carries a 2xx status.
func (r *Response) Success() bool {
	return r.Status >= 200 && r.Status < 300
}

// Doer executes one outbound call. Implementations are layered: the raw
// HTTP transport, the circuit breaker, the retry layer and the pipeline all
// satisfy Doer.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// DoerFunc adapts a function to the Doer interface.
type DoerFunc func(ctx context.Context, req *Request) (*Response, error)

// Do implements Doer.
func (f DoerFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
