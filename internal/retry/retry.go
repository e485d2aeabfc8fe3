// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

// Package retry wraps a transport with bounded, linearly backed-off retries.
//
// A call is attempted at most MaxRetries+1 times. Only transient failures
// are retried: connectivity errors always, and error statuses only when they
// appear in the configured retry set. Backoff is linear (delay, 2*delay,
// 3*delay) with cancellable waits, and a server-provided wait hint such as a
// Retry-After value takes precedence when it is longer.
package retry

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/trackgate/internal/apierr"
	"github.com/tomtom215/trackgate/internal/logging"
	"github.com/tomtom215/trackgate/internal/metrics"
	"github.com/tomtom215/trackgate/internal/transport"
)

// Config controls a Retryer.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Zero disables retrying.
	MaxRetries int

	// RetryDelay is the base backoff. Attempt n waits n*RetryDelay.
	RetryDelay time.Duration

	// RetryStatusCodes is the set of HTTP statuses considered transient.
	RetryStatusCodes map[int]bool
}

type attemptKey struct{}

// AttemptFromContext returns the 1-based attempt number the retry layer
// recorded for the in-flight call, or 1 when called outside a retried call.
func AttemptFromContext(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok {
		return n
	}
	return 1
}

// Retryer is a transport.Doer decorator that retries transient failures.
type Retryer struct {
	cfg  Config
	next transport.Doer
}

// New wraps next with retry behavior.
func New(cfg Config, next transport.Doer) *Retryer {
	return &Retryer{cfg: cfg, next: next}
}

// Do executes the request, retrying transient failures up to the configured
// budget. The context is checked before each attempt and during backoff
// waits, so cancellation is never delayed by a sleeping retry.
func (r *Retryer) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	var lastErr error
	var lastResp *transport.Response

	attempts := r.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, apierr.FromTransport(ctx.Err())
		}

		resp, err := r.next.Do(context.WithValue(ctx, attemptKey{}, attempt), req)
		if err == nil && resp.Success() {
			return resp, nil
		}

		lastResp, lastErr = resp, err
		if err == nil {
			lastErr = apierr.FromStatus(resp.Status, "upstream returned error status")
		}

		if !r.retryable(resp, err) {
			return lastResp, lastErr
		}
		if attempt == attempts {
			break
		}

		delay := r.backoff(attempt, resp, lastErr)
		metrics.RetryAttempts.WithLabelValues(req.Path).Inc()
		logging.Warn().
			Err(lastErr).
			Str("method", req.Method).
			Str("path", req.Path).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("delay", delay).
			Msg("Retrying request")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, apierr.FromTransport(ctx.Err())
		}
	}

	// The budget is spent; the last error surfaces unchanged.
	return lastResp, lastErr
}

// retryable classifies one attempt's outcome.
func (r *Retryer) retryable(resp *transport.Response, err error) bool {
	if err != nil {
		return apierr.Retryable(err, r.cfg.RetryStatusCodes)
	}
	return r.cfg.RetryStatusCodes[resp.Status]
}

// backoff computes the wait before the next attempt: linear in the attempt
// number, overridden by a longer server-provided hint when one exists.
func (r *Retryer) backoff(attempt int, resp *transport.Response, err error) time.Duration {
	delay := time.Duration(attempt) * r.cfg.RetryDelay

	if hint := serverWait(resp, err); hint > delay {
		delay = hint
	}
	return delay
}

// serverWait extracts an explicit wait from a rate-limit error or a
// Retry-After response header. Zero means no hint.
func serverWait(resp *transport.Response, err error) time.Duration {
	if ae := apierr.AsError(err); ae != nil && ae.Wait > 0 {
		return ae.Wait
	}
	if resp == nil {
		return 0
	}
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, perr := strconv.Atoi(raw); perr == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, perr := http.ParseTime(raw); perr == nil {
		if wait := time.Until(t); wait > 0 {
			return wait
		}
	}
	return 0
}
