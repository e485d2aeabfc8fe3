// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

// Package apierr defines the error taxonomy shared by the request pipeline.
//
// Every failure that crosses a component boundary is classified into a Kind
// so the retry layer, the cache fallback and callers can react uniformly:
//
//   - Network        connectivity or timeout failure (retryable)
//   - Server         5xx response (retryable per configured status set)
//   - RateLimited    local limiter rejection or remote 429 (retryable after delay)
//   - Authentication 401 (not retryable - surface to trigger re-login)
//   - Authorization  403 (not retryable)
//   - Validation     400 or malformed input (not retryable)
//   - NotFound       404 (not retryable)
//   - Canceled       context cancellation (never retryable)
//   - Unknown        unclassifiable (not retryable)
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindServer
	KindRateLimited
	KindAuthentication
	KindAuthorization
	KindValidation
	KindNotFound
	KindCanceled
)

// String returns the lowercase name of the kind for logs and metrics labels.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is a classified pipeline failure.
type Error struct {
	Kind    Kind
	Status  int           // HTTP status if the failure came from a response, else 0
	Message string        // human-readable summary
	Wait    time.Duration // for KindRateLimited: suggested delay before retrying
	Err     error         // wrapped cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s (HTTP %d): %s: %v", e.Kind, e.Status, e.Message, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with no HTTP status.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// RateLimited creates a KindRateLimited error carrying the suggested wait.
func RateLimited(message string, wait time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: message, Wait: wait}
}

// FromStatus maps an HTTP status code to a classified error.
// Success codes map to nil; the caller should not invoke this on 2xx.
func FromStatus(status int, message string) *Error {
	kind := KindUnknown
	switch {
	case status == http.StatusUnauthorized:
		kind = KindAuthentication
	case status == http.StatusForbidden:
		kind = KindAuthorization
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusBadRequest:
		kind = KindValidation
	case status >= 500:
		kind = KindServer
	case status == http.StatusRequestTimeout:
		kind = KindNetwork
	}
	return &Error{Kind: kind, Status: status, Message: message}
}

// FromTransport classifies a transport-level failure (no HTTP response).
func FromTransport(err error) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindCanceled, Message: "request canceled", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		msg := "connection failed"
		if netErr.Timeout() {
			msg = "connection timed out"
		}
		return &Error{Kind: KindNetwork, Message: msg, Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &Error{Kind: KindNetwork, Message: "connection failed", Err: err}
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return &Error{Kind: KindNetwork, Message: "connection failed", Err: err}
	}

	return &Error{Kind: KindUnknown, Message: "request failed", Err: err}
}

// AsError extracts the *Error from an error chain, or nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// KindOf extracts the Kind from any error, returning KindUnknown for
// unclassified errors and KindCanceled for raw context errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindUnknown
}

// StatusOf extracts the HTTP status from a classified error, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// IsConnectivity reports whether the error represents a network-level
// failure, i.e. the server was never reached or never answered. The cache's
// offline fallback only applies to these.
func IsConnectivity(err error) bool {
	return KindOf(err) == KindNetwork
}

// Retryable reports whether the error may be retried. Network failures are
// always retryable; response failures are retryable when their status is in
// retryStatuses. Cancellation and unclassifiable errors never are.
func Retryable(err error, retryStatuses map[int]bool) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindNetwork:
		return true
	case KindServer, KindRateLimited:
		return e.Status == 0 || retryStatuses[e.Status]
	default:
		return false
	}
}
