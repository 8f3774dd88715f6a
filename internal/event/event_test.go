package event

import (
	"context"
	"testing"
	"time"
)

func TestWaitUnblocksOnSet(t *testing.T) {
	e := New()
	done := make(chan error, 1)
	go func() {
		done <- e.Wait(context.Background(), 0)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Set was called")
	case <-time.After(20 * time.Millisecond):
	}

	e.Set()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after Set")
	}
}

func TestWaitTimesOut(t *testing.T) {
	e := New()
	err := e.Wait(context.Background(), 10*time.Millisecond)
	if err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestWaitRespectsParentContext(t *testing.T) {
	e := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Wait(ctx, 0); err != context.Canceled {
		t.Errorf("expected Canceled, got %v", err)
	}
}

func TestSetDoesNotLoseConcurrentWaiters(t *testing.T) {
	e := New()
	const n = 10
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() { done <- e.Wait(context.Background(), time.Second) }()
	}
	time.Sleep(10 * time.Millisecond)
	e.Set()
	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			t.Errorf("waiter %d got error %v", i, err)
		}
	}
}

func TestOrFiresOnEitherEvent(t *testing.T) {
	a, b := New(), New()
	ctx, cancel := Or(context.Background(), a, b)
	defer cancel()

	b.Set()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Or-context not canceled after b.Set()")
	}
}

func TestOrDoesNotFireSpuriously(t *testing.T) {
	a, b := New(), New()
	ctx, cancel := Or(context.Background(), a, b)
	defer cancel()

	select {
	case <-ctx.Done():
		t.Fatal("Or-context canceled before either event fired")
	case <-time.After(20 * time.Millisecond):
	}
}
