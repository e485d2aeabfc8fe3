// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

package pipeline

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/trackgate/internal/apierr"
	"github.com/tomtom215/trackgate/internal/logging"
	"github.com/tomtom215/trackgate/internal/metrics"
	"github.com/tomtom215/trackgate/internal/transport"
)

// errUpstreamStatus marks a delivered response with a 5xx status so the
// breaker counts it as a failure without discarding the response.
var errUpstreamStatus = errors.New("upstream server error status")

// BreakerConfig controls the circuit breaker decorator.
type BreakerConfig struct {
	// MaxRequests is the number of probe requests allowed in half-open
	// state.
	MaxRequests uint32

	// Interval resets the failure counts while closed.
	Interval time.Duration

	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
}

// Breaker is a transport.Doer decorator that stops hammering an unhealthy
// upstream. Transport errors and 5xx statuses count as failures; an open
// circuit rejects calls as network failures so the offline cache fallback
// applies.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[*transport.Response]
	next transport.Doer
}

// NewBreaker wraps next with circuit breaker protection.
func NewBreaker(cfg BreakerConfig, next transport.Doer) *Breaker {
	metrics.CircuitBreakerState.Set(0) // closed

	cb := gobreaker.NewCircuitBreaker[*transport.Response](gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,

		// Open at a 60% failure rate once enough requests have been seen
		// for the ratio to mean something.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.Set(stateToFloat(to))
		},
	})

	return &Breaker{cb: cb, next: next}
}

// Do implements transport.Doer.
func (b *Breaker) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	resp, err := b.cb.Execute(func() (*transport.Response, error) {
		resp, err := b.next.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.Status >= 500 {
			return resp, errUpstreamStatus
		}
		return resp, nil
	})

	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues("success").Inc()
		return resp, nil
	case errors.Is(err, errUpstreamStatus):
		// The 5xx counted against the breaker; the caller still gets the
		// response so the retry layer can classify the status.
		metrics.CircuitBreakerRequests.WithLabelValues("failure").Inc()
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues("rejected").Inc()
		logging.Warn().Err(err).Str("path", req.Path).Msg("Circuit breaker rejected request")
		return nil, apierr.New(apierr.KindNetwork, "upstream circuit open", err)
	default:
		metrics.CircuitBreakerRequests.WithLabelValues("failure").Inc()
		return nil, err
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
