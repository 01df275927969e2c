package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestStopReportsErrStopped(t *testing.T) {
	tk := New("loop")
	results := make(chan error, 1)
	tk.Start(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, func(err error) { results <- err })

	tk.Stop()
	select {
	case err := <-results:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("expected ErrStopped, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("onResult not invoked after Stop")
	}
}

func TestRunFailureReported(t *testing.T) {
	boom := errors.New("boom")
	tk := New("failing")
	results := make(chan error, 1)
	tk.Start(context.Background(), func(ctx context.Context) error {
		return boom
	}, func(err error) { results <- err })

	select {
	case err := <-results:
		if !errors.Is(err, boom) {
			t.Fatalf("expected run error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("onResult not invoked")
	}
	// joining a finished task must not hang
	tk.Stop()
}

func TestOnResultExactlyOnce(t *testing.T) {
	tk := New("once")
	var calls atomic.Int32
	tk.Start(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}, func(error) { calls.Add(1) })

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() { tk.Stop(); done <- struct{}{} }()
	}
	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("concurrent Stop did not return")
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("onResult called %d times, want 1", n)
	}
}

func TestStopBeforeStart(t *testing.T) {
	tk := New("unstarted")
	finished := make(chan struct{})
	go func() { tk.Stop(); close(finished) }()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Stop on unstarted task hung")
	}
}
