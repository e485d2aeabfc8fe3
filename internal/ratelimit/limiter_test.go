// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/trackgate/internal/apierr"
)

func TestNew_RejectsZeroWindow(t *testing.T) {
	_, err := New(Config{MaxRequests: 10, TimeWindow: 0})
	if err == nil {
		t.Fatal("expected constructor error for zero time window")
	}
}

func TestNew_RejectsQueueWithoutRetryDelay(t *testing.T) {
	_, err := New(Config{MaxRequests: 10, TimeWindow: time.Second, QueueRequests: true})
	if err == nil {
		t.Fatal("expected constructor error for queuing without retry delay")
	}
}

func TestTryAcquire_WindowLimit(t *testing.T) {
	l, err := New(Config{MaxRequests: 3, TimeWindow: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	for i := 0; i < 3; i++ {
		if !l.TryAcquire() {
			t.Fatalf("acquisition %d should succeed", i+1)
		}
	}
	if l.TryAcquire() {
		t.Error("4th acquisition within window should fail")
	}
}

func TestTryAcquire_ZeroMaxRejectsEverything(t *testing.T) {
	l, err := New(Config{MaxRequests: 0, TimeWindow: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if l.TryAcquire() {
		t.Error("MaxRequests=0 must reject every acquisition")
	}
}

func TestTryAcquire_WindowSlides(t *testing.T) {
	l, err := New(Config{MaxRequests: 2, TimeWindow: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if !l.TryAcquire() || !l.TryAcquire() {
		t.Fatal("initial acquisitions should succeed")
	}
	if l.TryAcquire() {
		t.Fatal("window should be full")
	}

	time.Sleep(60 * time.Millisecond)

	if !l.TryAcquire() {
		t.Error("acquisition should succeed after window slides")
	}
}

func TestAcquire_ImmediateRejectionCarriesWait(t *testing.T) {
	l, err := New(Config{MaxRequests: 1, TimeWindow: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	err = l.Acquire(context.Background())
	if err == nil {
		t.Fatal("second acquire should be rejected")
	}

	var ae *apierr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *apierr.Error, got %T", err)
	}
	if ae.Kind != apierr.KindRateLimited {
		t.Errorf("kind = %v, want KindRateLimited", ae.Kind)
	}
	if ae.Wait <= 0 || ae.Wait > time.Minute {
		t.Errorf("wait = %v, want within (0, 1m]", ae.Wait)
	}
}

func TestAcquire_QueuedGrantFIFO(t *testing.T) {
	l, err := New(Config{
		MaxRequests:   1,
		TimeWindow:    50 * time.Millisecond,
		QueueRequests: true,
		MaxQueueSize:  10,
		RetryDelay:    10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	// Fill the window
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	// Stagger submissions so queue order is deterministic
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("queued acquire %d failed: %v", n, err)
				return
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}(i)
		time.Sleep(5 * time.Millisecond)
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("expected 3 grants, got %d", len(order))
	}
	for i, n := range order {
		if n != i+1 {
			t.Errorf("grant order = %v, want [1 2 3]", order)
			break
		}
	}
}

func TestAcquire_QueueFullRejectsImmediately(t *testing.T) {
	l, err := New(Config{
		MaxRequests:   1,
		TimeWindow:    time.Minute,
		QueueRequests: true,
		MaxQueueSize:  1,
		RetryDelay:    10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	// One caller occupies the single queue slot
	go func() {
		_ = l.Acquire(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)

	err = l.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected immediate rejection with full queue")
	}
	if apierr.KindOf(err) != apierr.KindRateLimited {
		t.Errorf("kind = %v, want KindRateLimited", apierr.KindOf(err))
	}
}

func TestAcquire_ContextCancellation(t *testing.T) {
	l, err := New(Config{
		MaxRequests:   1,
		TimeWindow:    time.Minute,
		QueueRequests: true,
		RetryDelay:    10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if apierr.KindOf(err) != apierr.KindCanceled {
			t.Errorf("kind = %v, want KindCanceled", apierr.KindOf(err))
		}
	case <-time.After(time.Second):
		t.Fatal("canceled acquire did not return")
	}
}

func TestReset_FailsOutstandingTickets(t *testing.T) {
	l, err := New(Config{
		MaxRequests:   1,
		TimeWindow:    time.Minute,
		QueueRequests: true,
		RetryDelay:    10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)

	l.Reset()

	select {
	case err := <-done:
		if !errors.Is(err, ErrReset) {
			t.Errorf("queued ticket error = %v, want ErrReset", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reset did not fail the queued ticket")
	}

	// Window cleared: acquisition succeeds again
	if !l.TryAcquire() {
		t.Error("acquisition after reset should succeed")
	}
}

func TestClose_RejectsFurtherAcquisitions(t *testing.T) {
	l, err := New(Config{MaxRequests: 5, TimeWindow: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	l.Close()

	if l.TryAcquire() {
		t.Error("TryAcquire after Close should fail")
	}
	if err := l.Acquire(context.Background()); !errors.Is(err, ErrReset) {
		t.Errorf("Acquire after Close = %v, want ErrReset", err)
	}
}
