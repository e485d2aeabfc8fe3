// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

package batch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/trackgate/internal/transport"
)

func getRequest(path string) *transport.Request {
	return &transport.Request{Method: http.MethodGet, Path: path}
}

func okExec(calls *int32) transport.DoerFunc {
	return func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		atomic.AddInt32(calls, 1)
		return &transport.Response{Status: http.StatusOK, Body: []byte(`[]`)}, nil
	}
}

func TestAccepts(t *testing.T) {
	b := New(Config{MaxBatchSize: 5, MaxWaitTime: time.Second})

	if !b.Accepts(getRequest("/api/devices")) {
		t.Error("bodiless GET should be batchable")
	}
	if b.Accepts(&transport.Request{Method: http.MethodPost, Path: "/api/devices"}) {
		t.Error("POST should not be batchable")
	}
	if b.Accepts(&transport.Request{Method: http.MethodGet, Path: "/api/devices", Body: []byte(`{}`)}) {
		t.Error("GET with body should not be batchable")
	}

	restricted := New(Config{
		MaxBatchSize:       5,
		MaxWaitTime:        time.Second,
		BatchableEndpoints: []string{"/api/devices"},
	})
	if !restricted.Accepts(getRequest("/api/devices")) {
		t.Error("whitelisted path should be batchable")
	}
	if restricted.Accepts(getRequest("/api/geofences")) {
		t.Error("non-whitelisted path should not be batchable")
	}
}

func TestSubmit_SizeTriggeredFlush(t *testing.T) {
	b := New(Config{MaxBatchSize: 3, MaxWaitTime: time.Hour}) // timer never fires
	defer b.Close()

	var calls int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := b.Submit(context.Background(), getRequest("/api/devices"), okExec(&calls))
			if err != nil {
				t.Errorf("submit failed: %v", err)
				return
			}
			if resp.Status != http.StatusOK {
				t.Errorf("status = %d", resp.Status)
			}
		}()
	}

	wg.Wait()

	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("size-triggered flush waited too long: %v", elapsed)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("exec calls = %d, want 3 (fan-out, not merging)", got)
	}
}

func TestSubmit_TimerTriggeredFlush(t *testing.T) {
	b := New(Config{MaxBatchSize: 10, MaxWaitTime: 30 * time.Millisecond})
	defer b.Close()

	var calls int32
	resp, err := b.Submit(context.Background(), getRequest("/api/devices"), okExec(&calls))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("status = %d", resp.Status)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("exec calls = %d, want 1", got)
	}
}

func TestSubmit_FailureIsolation(t *testing.T) {
	b := New(Config{MaxBatchSize: 2, MaxWaitTime: time.Hour})
	defer b.Close()

	boom := errors.New("member failure")
	results := make(chan error, 2)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		_, err := b.Submit(context.Background(), getRequest("/api/devices"),
			func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
				return nil, boom
			})
		results <- err
	}()
	// Ensure deterministic member order
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer wg.Done()
		_, err := b.Submit(context.Background(), getRequest("/api/devices"),
			func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
				return &transport.Response{Status: http.StatusOK}, nil
			})
		results <- err
	}()

	wg.Wait()
	close(results)

	var failures, successes int
	for err := range results {
		if err != nil {
			failures++
			if !errors.Is(err, boom) {
				t.Errorf("unexpected failure: %v", err)
			}
		} else {
			successes++
		}
	}
	if failures != 1 || successes != 1 {
		t.Errorf("failures=%d successes=%d, want 1 and 1 (isolation)", failures, successes)
	}
}

func TestSubmit_DistinctKeysDoNotCoalesce(t *testing.T) {
	b := New(Config{MaxBatchSize: 2, MaxWaitTime: 30 * time.Millisecond})
	defer b.Close()

	var calls int32
	var wg sync.WaitGroup
	for _, path := range []string{"/api/devices", "/api/geofences"} {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			if _, err := b.Submit(context.Background(), getRequest(p), okExec(&calls)); err != nil {
				t.Errorf("submit %s failed: %v", p, err)
			}
		}(path)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("exec calls = %d, want 2", got)
	}
}

func TestClear_RejectsPendingFutures(t *testing.T) {
	b := New(Config{MaxBatchSize: 10, MaxWaitTime: time.Hour})

	done := make(chan error, 1)
	go func() {
		_, err := b.Submit(context.Background(), getRequest("/api/devices"),
			func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
				return &transport.Response{Status: http.StatusOK}, nil
			})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	b.Clear()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCanceled) {
			t.Errorf("pending future error = %v, want ErrCanceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Clear did not reject the pending future")
	}
}

func TestFlushAll_DrainsImmediately(t *testing.T) {
	b := New(Config{MaxBatchSize: 10, MaxWaitTime: time.Hour})

	var calls int32
	done := make(chan error, 1)
	go func() {
		_, err := b.Submit(context.Background(), getRequest("/api/devices"), okExec(&calls))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	b.FlushAll()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("drained submit failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("FlushAll did not resolve the pending future")
	}

	if b.Pending() != 0 {
		t.Errorf("pending groups = %d after FlushAll", b.Pending())
	}
}

func TestSubmit_AfterCloseRejected(t *testing.T) {
	b := New(Config{MaxBatchSize: 2, MaxWaitTime: time.Millisecond})
	b.Close()

	_, err := b.Submit(context.Background(), getRequest("/api/devices"),
		func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			return &transport.Response{Status: http.StatusOK}, nil
		})
	if !errors.Is(err, ErrCanceled) {
		t.Errorf("submit after close = %v, want ErrCanceled", err)
	}
}
