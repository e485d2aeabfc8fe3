// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestFromStatus_Classification(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{400, KindValidation},
		{401, KindAuthentication},
		{403, KindAuthorization},
		{404, KindNotFound},
		{408, KindNetwork},
		{429, KindRateLimited},
		{500, KindServer},
		{502, KindServer},
		{503, KindServer},
		{504, KindServer},
		{418, KindUnknown},
	}

	for _, tt := range tests {
		got := FromStatus(tt.status, "test")
		if got.Kind != tt.want {
			t.Errorf("FromStatus(%d) kind = %v, want %v", tt.status, got.Kind, tt.want)
		}
		if got.Status != tt.status {
			t.Errorf("FromStatus(%d) status = %d", tt.status, got.Status)
		}
	}
}

func TestFromTransport_ContextCancellation(t *testing.T) {
	e := FromTransport(context.Canceled)
	if e.Kind != KindCanceled {
		t.Errorf("expected KindCanceled, got %v", e.Kind)
	}
	if !errors.Is(e, context.Canceled) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
}

func TestFromTransport_NetworkError(t *testing.T) {
	cause := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	e := FromTransport(cause)
	if e.Kind != KindNetwork {
		t.Errorf("expected KindNetwork, got %v", e.Kind)
	}
}

func TestFromTransport_Unclassifiable(t *testing.T) {
	e := FromTransport(errors.New("something odd"))
	if e.Kind != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", e.Kind)
	}
}

func TestRetryable(t *testing.T) {
	retrySet := map[int]bool{502: true, 503: true, 504: true, 408: true, 429: true}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", New(KindNetwork, "down", nil), true},
		{"server in set", FromStatus(503, "unavailable"), true},
		{"server not in set", FromStatus(500, "boom"), false},
		{"remote 429", FromStatus(429, "slow down"), true},
		{"local rate limit", RateLimited("window full", time.Second), true},
		{"auth", FromStatus(401, "denied"), false},
		{"canceled", New(KindCanceled, "canceled", context.Canceled), false},
		{"plain error", errors.New("opaque"), false},
		{"wrapped classified", fmt.Errorf("outer: %w", FromStatus(502, "bad gateway")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err, retrySet); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(FromStatus(404, "gone")) != KindNotFound {
		t.Error("KindOf failed on classified error")
	}
	if KindOf(context.DeadlineExceeded) != KindCanceled {
		t.Error("KindOf failed on raw context error")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("KindOf failed on plain error")
	}
}

func TestRateLimited_CarriesWait(t *testing.T) {
	e := RateLimited("window full", 1500*time.Millisecond)
	if e.Wait != 1500*time.Millisecond {
		t.Errorf("Wait = %v, want 1.5s", e.Wait)
	}
	if e.Kind != KindRateLimited {
		t.Errorf("Kind = %v", e.Kind)
	}
}
