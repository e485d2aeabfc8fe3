// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

// Package pipeline composes the resilience layers into one request path:
//
//	cache read -> rate limit -> batch -> retry -> circuit breaker -> HTTP
//
// Every layer is an explicit transport.Doer decorator injected at
// construction, so each can be tested alone and none holds package-level
// state. Cache writes happen on the way back out; in offline mode a
// connectivity failure falls back to a stale entry when one exists.
package pipeline

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/trackgate/internal/apierr"
	"github.com/tomtom215/trackgate/internal/batch"
	"github.com/tomtom215/trackgate/internal/cache"
	"github.com/tomtom215/trackgate/internal/logging"
	"github.com/tomtom215/trackgate/internal/metrics"
	"github.com/tomtom215/trackgate/internal/ratelimit"
	"github.com/tomtom215/trackgate/internal/transport"
)

// correlationHeader carries the per-request correlation ID to the upstream
// and through the logs.
const correlationHeader = "X-Correlation-Id"

// OnlineProbe reports whether the upstream is believed reachable. A nil
// probe means always online. The push channel supplies one so offline mode
// reacts to lost connections immediately.
type OnlineProbe func() bool

// Options assembles a Pipeline from its layers. Limiter and Transport are
// required; Batcher, Cache and Online are optional.
type Options struct {
	Limiter     *ratelimit.Limiter
	Batcher     *batch.Batcher
	Cache       cache.Store
	CacheConfig cache.Config
	Transport   transport.Doer
	Online      OnlineProbe
}

// Pipeline is the composed request path. It satisfies transport.Doer so
// callers treat the whole stack as one transport.
type Pipeline struct {
	limiter  *ratelimit.Limiter
	batcher  *batch.Batcher
	cache    cache.Store
	cacheCfg cache.Config
	next     transport.Doer
	online   OnlineProbe
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	return &Pipeline{
		limiter:  opts.Limiter,
		batcher:  opts.Batcher,
		cache:    opts.Cache,
		cacheCfg: opts.CacheConfig,
		next:     opts.Transport,
		online:   opts.Online,
	}
}

// Do implements transport.Doer: the full resilient request path.
func (p *Pipeline) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	start := time.Now()

	if req.Header == nil {
		req.Header = http.Header{}
	}
	if req.Header.Get(correlationHeader) == "" {
		req.Header.Set(correlationHeader, uuid.NewString())
	}

	resp, err := p.execute(ctx, req)

	outcome := "success"
	switch {
	case err != nil:
		outcome = apierr.KindOf(err).String()
	case resp.FromCache:
		outcome = "cached"
	}
	metrics.RequestsTotal.WithLabelValues(req.Method, req.Path, outcome).Inc()
	metrics.RequestDuration.WithLabelValues(req.Method, req.Path).Observe(time.Since(start).Seconds())

	if err != nil {
		logging.Debug().
			Err(err).
			Str("method", req.Method).
			Str("path", req.Path).
			Str("correlation_id", req.Header.Get(correlationHeader)).
			Dur("duration", time.Since(start)).
			Msg("Request failed")
	}
	return resp, err
}

func (p *Pipeline) execute(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	cacheable := p.cache != nil && req.Method == http.MethodGet && !req.SkipCache
	key := cache.Key(req.Method, req.Path, req.Query)

	// Read-through: fresh entries short-circuit the network entirely.
	// An expired entry is kept aside as the stale fallback.
	var stale *cache.Entry
	if cacheable {
		entry, err := p.cache.Get(ctx, key)
		if err == nil {
			if !entry.Expired() {
				metrics.CacheHits.Inc()
				return cachedResponse(entry), nil
			}
			stale = entry
			if p.cacheCfg.OfflineMode && !p.isOnline() {
				metrics.CacheStaleServed.Inc()
				return cachedResponse(entry), nil
			}
		}
		metrics.CacheMisses.Inc()
	}

	if err := p.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	resp, err := p.send(ctx, req)
	if err != nil {
		if stale != nil && p.cacheCfg.OfflineMode && apierr.IsConnectivity(err) {
			logging.Info().
				Str("path", req.Path).
				Time("cached_at", stale.CreatedAt).
				Msg("Serving stale cache entry after connectivity failure")
			metrics.CacheStaleServed.Inc()
			return cachedResponse(stale), nil
		}
		return nil, err
	}

	if cacheable && resp.Success() && !cacheProhibited(resp.Header) {
		ttl := req.TTL
		if ttl == 0 {
			ttl = p.cacheCfg.TTLFor(req.Path)
		}
		entry := &cache.Entry{
			Key:       key,
			Status:    resp.Status,
			Header:    resp.Header,
			ETag:      resp.Header.Get("Etag"),
			Payload:   resp.Body,
			CreatedAt: time.Now(),
			TTL:       ttl,
		}
		if serr := p.cache.Set(ctx, entry); serr != nil {
			// Cache write failures degrade to uncached operation.
			logging.Warn().Err(serr).Str("key", key).Msg("Cache write failed")
		}
	}
	return resp, nil
}

// send routes the admitted request through the batcher when it qualifies,
// or straight to the decorated transport.
func (p *Pipeline) send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if p.batcher != nil && p.batcher.Accepts(req) {
		return p.batcher.Submit(ctx, req, p.next.Do)
	}
	return p.next.Do(ctx, req)
}

// Invalidate removes cached GET responses under the given path prefix.
// Called after mutations so subsequent reads see fresh data.
func (p *Pipeline) Invalidate(ctx context.Context, pathPrefix string) (int, error) {
	if p.cache == nil {
		return 0, nil
	}
	return p.cache.DeletePrefix(ctx, http.MethodGet+" "+pathPrefix)
}

// Close shuts the pipeline down: the batcher drains, the limiter stops its
// dispatcher, and the cache store releases its backend.
func (p *Pipeline) Close() error {
	if p.batcher != nil {
		p.batcher.Close()
	}
	if p.limiter != nil {
		p.limiter.Close()
	}
	if p.cache != nil {
		return p.cache.Close()
	}
	return nil
}

func (p *Pipeline) isOnline() bool {
	if p.online == nil {
		return true
	}
	return p.online()
}

// cacheProhibited reports whether the response forbids storing it.
func cacheProhibited(h http.Header) bool {
	cc := strings.ToLower(h.Get("Cache-Control"))
	return strings.Contains(cc, "no-store") || strings.Contains(cc, "no-cache")
}

func cachedResponse(e *cache.Entry) *transport.Response {
	return &transport.Response{
		Status:    e.Status,
		Header:    e.Header,
		Body:      e.Payload,
		FromCache: true,
	}
}
