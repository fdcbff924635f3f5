package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fatalErr struct{ msg string }

func (e *fatalErr) Error() string   { return e.msg }
func (e *fatalErr) Retryable() bool { return false }

func captureDelays(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	orig := sleep
	sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	t.Cleanup(func() { sleep = orig })
	return &delays
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	delays := captureDelays(t)

	calls := 0
	err := Do(context.Background(), 3, 100*time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 invocations, got %d", calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("expected %d waits, got %d", len(want), len(*delays))
	}
	for i, d := range want {
		if (*delays)[i] != d {
			t.Errorf("delay %d = %v, want %v", i, (*delays)[i], d)
		}
	}
}

func TestDoSurfacesLastFailure(t *testing.T) {
	captureDelays(t)

	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func(context.Context) error {
		calls++
		return errors.New("still broken")
	})

	if err == nil || err.Error() != "still broken" {
		t.Fatalf("expected last failure, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 invocations, got %d", calls)
	}
}

func TestDoDoesNotRetryNonRetryable(t *testing.T) {
	captureDelays(t)

	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, func(context.Context) error {
		calls++
		return &fatalErr{msg: "no credentials configured"}
	})

	var fe *fatalErr
	if !errors.As(err, &fe) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("non-retryable error should stop after 1 invocation, got %d", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	orig := sleep
	sleep = func(ctx context.Context, _ time.Duration) error { return context.Canceled }
	t.Cleanup(func() { sleep = orig })

	calls := 0
	err := Do(context.Background(), 3, time.Second, func(context.Context) error {
		calls++
		return errors.New("transient")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 invocation before cancellation, got %d", calls)
	}
}
