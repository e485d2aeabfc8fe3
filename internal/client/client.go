// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

// Package client is the typed facade over the resilient request pipeline
// and the push channel. It assembles the whole stack from configuration:
// rate limiter, batcher, cache store, retry layer, circuit breaker, HTTP
// transport and WebSocket channel, all sharing one cookie jar so the
// bootstrapped session covers both transports.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/trackgate/internal/apierr"
	"github.com/tomtom215/trackgate/internal/batch"
	"github.com/tomtom215/trackgate/internal/cache"
	"github.com/tomtom215/trackgate/internal/config"
	"github.com/tomtom215/trackgate/internal/models"
	"github.com/tomtom215/trackgate/internal/pipeline"
	"github.com/tomtom215/trackgate/internal/push"
	"github.com/tomtom215/trackgate/internal/ratelimit"
	"github.com/tomtom215/trackgate/internal/retry"
	"github.com/tomtom215/trackgate/internal/transport"
)

// cacheSweepInterval is how often the cache store prunes expired entries.
const cacheSweepInterval = time.Minute

// Client is the access layer facade. All methods are safe for concurrent
// use.
type Client struct {
	cfg  *config.Config
	pipe *pipeline.Pipeline
	push *push.Channel
}

// New assembles a Client from validated configuration.
func New(cfg *config.Config) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	httpClient := &http.Client{
		Timeout: cfg.Server.Timeout,
		Jar:     jar,
	}

	httpDoer, err := pipeline.NewHTTPClient(cfg.Server.URL, httpClient)
	if err != nil {
		return nil, err
	}

	var chain transport.Doer = httpDoer
	if cfg.Breaker.Enabled {
		chain = pipeline.NewBreaker(pipeline.BreakerConfig{
			MaxRequests: cfg.Breaker.MaxRequests,
			Interval:    cfg.Breaker.Interval,
			Timeout:     cfg.Breaker.Timeout,
		}, chain)
	}
	chain = retry.New(retry.Config{
		MaxRetries:       cfg.Retry.MaxRetries,
		RetryDelay:       cfg.Retry.RetryDelay,
		RetryStatusCodes: cfg.RetryStatusSet(),
	}, chain)

	limiter, err := ratelimit.New(ratelimit.Config{
		MaxRequests:   cfg.RateLimit.MaxRequests,
		TimeWindow:    cfg.RateLimit.TimeWindow,
		QueueRequests: cfg.RateLimit.QueueRequests,
		MaxQueueSize:  cfg.RateLimit.MaxQueueSize,
		RetryDelay:    cfg.RateLimit.RetryDelay,
	})
	if err != nil {
		return nil, err
	}

	var batcher *batch.Batcher
	if cfg.Batch.Enabled {
		batcher = batch.New(batch.Config{
			MaxBatchSize:       cfg.Batch.MaxBatchSize,
			MaxWaitTime:        cfg.Batch.MaxWaitTime,
			BatchableEndpoints: cfg.Batch.BatchableEndpoints,
		})
	}

	cacheCfg := cache.Config{
		Backend:       cache.Backend(cfg.Cache.Backend),
		Path:          cfg.Cache.Path,
		DefaultTTL:    cfg.Cache.DefaultTTL,
		MaxSize:       cfg.Cache.MaxSize,
		OfflineMode:   cfg.Cache.OfflineMode,
		EndpointTTLs:  cfg.Cache.EndpointTTLs,
		SweepInterval: cacheSweepInterval,
	}
	store, err := cache.New(cacheCfg)
	if err != nil {
		limiter.Close()
		return nil, err
	}

	c := &Client{cfg: cfg}

	pushCh, err := push.New(push.Config{
		AutoReconnect:        cfg.Push.AutoReconnect,
		MaxReconnectAttempts: cfg.Push.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Push.ReconnectDelay,
		HeartbeatInterval:    cfg.Push.HeartbeatInterval,
	}, cfg.Server.URL, jar, c.bootstrapSession)
	if err != nil {
		limiter.Close()
		_ = store.Close()
		return nil, err
	}
	c.push = pushCh

	c.pipe = pipeline.New(pipeline.Options{
		Limiter:     limiter,
		Batcher:     batcher,
		Cache:       store,
		CacheConfig: cacheCfg,
		Transport:   chain,
		Online:      c.online,
	})
	return c, nil
}

// online is the pipeline's probe: the upstream counts as offline only when
// the push channel has demonstrably lost it. A channel that was never
// started gives no signal either way.
func (c *Client) online() bool {
	switch c.push.State() {
	case push.StateReconnecting, push.StateError:
		return false
	default:
		return true
	}
}

// Login establishes a server session. With a token configured it binds the
// token to a session cookie; otherwise it posts the account credentials.
// The resulting cookie lives in the shared jar, so the push channel and all
// subsequent requests ride the same session.
func (c *Client) Login(ctx context.Context) (*models.User, error) {
	var req *transport.Request
	if c.cfg.Server.Token != "" {
		q := url.Values{}
		q.Set("token", c.cfg.Server.Token)
		req = &transport.Request{
			Method:    http.MethodGet,
			Path:      "/api/session",
			Query:     q,
			SkipCache: true,
		}
	} else {
		form := url.Values{}
		form.Set("email", c.cfg.Server.Username)
		form.Set("password", c.cfg.Server.Password)
		req = &transport.Request{
			Method: http.MethodPost,
			Path:   "/api/session",
			Body:   []byte(form.Encode()),
			Header: http.Header{
				"Content-Type": {"application/x-www-form-urlencoded"},
			},
		}
	}

	resp, err := c.pipe.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	var user models.User
	if err := json.Unmarshal(resp.Body, &user); err != nil {
		return nil, fmt.Errorf("decode session user: %w", err)
	}
	return &user, nil
}

// Logout tears the server session down.
func (c *Client) Logout(ctx context.Context) error {
	req := &transport.Request{Method: http.MethodDelete, Path: "/api/session"}
	if _, err := c.pipe.Do(ctx, req); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// bootstrapSession is the push channel's pre-handshake hook.
func (c *Client) bootstrapSession(ctx context.Context) error {
	_, err := c.Login(ctx)
	return err
}

// Session returns the currently authenticated user.
func (c *Client) Session(ctx context.Context) (*models.User, error) {
	var user models.User
	req := &transport.Request{Method: http.MethodGet, Path: "/api/session", SkipCache: true}
	if err := c.get(ctx, req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Server returns the upstream server's configuration and version.
func (c *Client) Server(ctx context.Context) (*models.ServerInfo, error) {
	var info models.ServerInfo
	req := &transport.Request{Method: http.MethodGet, Path: "/api/server"}
	if err := c.get(ctx, req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Devices lists every device visible to the session.
func (c *Client) Devices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	req := &transport.Request{Method: http.MethodGet, Path: "/api/devices"}
	if err := c.get(ctx, req, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Device fetches one device by ID.
func (c *Client) Device(ctx context.Context, id int) (*models.Device, error) {
	q := url.Values{}
	q.Set("id", strconv.Itoa(id))
	var devices []models.Device
	req := &transport.Request{Method: http.MethodGet, Path: "/api/devices", Query: q}
	if err := c.get(ctx, req, &devices); err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, apierr.New(apierr.KindNotFound, fmt.Sprintf("device %d not found", id), nil)
	}
	return &devices[0], nil
}

// CreateDevice registers a device and invalidates the device cache.
func (c *Client) CreateDevice(ctx context.Context, d *models.Device) (*models.Device, error) {
	var created models.Device
	if err := c.mutate(ctx, http.MethodPost, "/api/devices", d, &created, "/api/devices"); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateDevice replaces a device and invalidates the device cache.
func (c *Client) UpdateDevice(ctx context.Context, d *models.Device) (*models.Device, error) {
	var updated models.Device
	path := "/api/devices/" + strconv.Itoa(d.ID)
	if err := c.mutate(ctx, http.MethodPut, path, d, &updated, "/api/devices"); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteDevice removes a device and invalidates the device cache.
func (c *Client) DeleteDevice(ctx context.Context, id int) error {
	path := "/api/devices/" + strconv.Itoa(id)
	return c.mutate(ctx, http.MethodDelete, path, nil, nil, "/api/devices")
}

// Positions fetches historical positions for a device in a time range.
// Zero deviceID queries the session's latest known positions.
func (c *Client) Positions(ctx context.Context, deviceID int, from, to time.Time) ([]models.Position, error) {
	q := url.Values{}
	if deviceID > 0 {
		q.Set("deviceId", strconv.Itoa(deviceID))
	}
	if !from.IsZero() {
		q.Set("from", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		q.Set("to", to.UTC().Format(time.RFC3339))
	}

	var positions []models.Position
	req := &transport.Request{Method: http.MethodGet, Path: "/api/positions", Query: q}
	if err := c.get(ctx, req, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// Geofences lists the session's geofences.
func (c *Client) Geofences(ctx context.Context) ([]models.Geofence, error) {
	var geofences []models.Geofence
	req := &transport.Request{Method: http.MethodGet, Path: "/api/geofences"}
	if err := c.get(ctx, req, &geofences); err != nil {
		return nil, err
	}
	return geofences, nil
}

// CreateGeofence adds a geofence and invalidates the geofence cache.
func (c *Client) CreateGeofence(ctx context.Context, g *models.Geofence) (*models.Geofence, error) {
	var created models.Geofence
	if err := c.mutate(ctx, http.MethodPost, "/api/geofences", g, &created, "/api/geofences"); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateGeofence replaces a geofence and invalidates the geofence cache.
func (c *Client) UpdateGeofence(ctx context.Context, g *models.Geofence) (*models.Geofence, error) {
	var updated models.Geofence
	path := "/api/geofences/" + strconv.Itoa(g.ID)
	if err := c.mutate(ctx, http.MethodPut, path, g, &updated, "/api/geofences"); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteGeofence removes a geofence and invalidates the geofence cache.
func (c *Client) DeleteGeofence(ctx context.Context, id int) error {
	path := "/api/geofences/" + strconv.Itoa(id)
	return c.mutate(ctx, http.MethodDelete, path, nil, nil, "/api/geofences")
}

// Event fetches one event by ID.
func (c *Client) Event(ctx context.Context, id int) (*models.Event, error) {
	var ev models.Event
	req := &transport.Request{Method: http.MethodGet, Path: "/api/events/" + strconv.Itoa(id)}
	if err := c.get(ctx, req, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Stream returns the push channel for typed real-time subscriptions.
// Call StartStream first.
func (c *Client) Stream() *push.Channel {
	return c.push
}

// StartStream connects the push channel.
func (c *Client) StartStream(ctx context.Context) error {
	return c.push.Connect(ctx)
}

// Close shuts the whole stack down: push channel first so no frames arrive
// mid-teardown, then the pipeline with its batcher, limiter and cache.
func (c *Client) Close() error {
	_ = c.push.Close()
	return c.pipe.Close()
}

// get runs a GET through the pipeline and decodes the JSON body.
func (c *Client) get(ctx context.Context, req *transport.Request, out any) error {
	c.authorize(req)
	resp, err := c.pipe.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.Path, err)
	}
	return nil
}

// mutate runs a write through the pipeline, bypassing cache and batching,
// then invalidates the affected cached reads.
func (c *Client) mutate(ctx context.Context, method, path string, body, out any, invalidate ...string) error {
	req := &transport.Request{
		Method:    method,
		Path:      path,
		SkipCache: true,
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		req.Body = data
	}
	c.authorize(req)

	resp, err := c.pipe.Do(ctx, req)
	if err != nil {
		return err
	}

	for _, prefix := range invalidate {
		if _, ierr := c.pipe.Invalidate(ctx, prefix); ierr != nil {
			return fmt.Errorf("invalidate %s: %w", prefix, ierr)
		}
	}

	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

// authorize attaches bearer authentication when a token is configured.
// Cookie-based sessions need nothing here; the jar handles them.
func (c *Client) authorize(req *transport.Request) {
	if c.cfg.Server.Token == "" {
		return
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Server.Token)
	}
}
