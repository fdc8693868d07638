package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// failNTimes returns an op that fails n times before succeeding, and a
// pointer to its call counter.
func failNTimes(n int) (func() error, *int) {
	calls := 0
	return func() error {
		calls++
		if calls <= n {
			return errors.New("transient")
		}
		return nil
	}, &calls
}

func fastConfig(maxAttempts int) Config {
	return Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Factor:       2.0,
	}
}

func TestDo(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		maxAttempts  int
		wantAttempts int
		wantErr      bool
	}{
		{name: "first try succeeds", failures: 0, maxAttempts: 3, wantAttempts: 1},
		{name: "succeeds after two failures", failures: 2, maxAttempts: 5, wantAttempts: 3},
		{name: "budget exhausted", failures: 10, maxAttempts: 3, wantAttempts: 3, wantErr: true},
		{name: "single attempt budget", failures: 10, maxAttempts: 1, wantAttempts: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, calls := failNTimes(tt.failures)

			result := Do(context.Background(), fastConfig(tt.maxAttempts), op)

			if (result.Err != nil) != tt.wantErr {
				t.Errorf("Err = %v, wantErr %v", result.Err, tt.wantErr)
			}
			if result.Attempts != tt.wantAttempts {
				t.Errorf("Attempts = %d, want %d", result.Attempts, tt.wantAttempts)
			}
			if *calls != tt.wantAttempts {
				t.Errorf("op ran %d times, want %d", *calls, tt.wantAttempts)
			}
		})
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return Permanent(errors.New("bad request"))
	})

	if calls != 1 {
		t.Errorf("op ran %d times, want 1", calls)
	}
	if !IsPermanent(result.Err) {
		t.Errorf("Err = %v, want a permanent error", result.Err)
	}
}

func TestDoCancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := Do(ctx, fastConfig(3), func() error {
		t.Fatal("op must not run on a cancelled context")
		return nil
	})

	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", result.Err)
	}
}

func TestDoCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	config := Config{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, Factor: 1}
	ran := make(chan struct{})
	done := make(chan Result, 1)
	go func() {
		done <- Do(ctx, config, func() error {
			close(ran)
			return errors.New("transient")
		})
	}()

	<-ran
	cancel()
	select {
	case result := <-done:
		if !errors.Is(result.Err, context.Canceled) {
			t.Errorf("Err = %v, want context.Canceled", result.Err)
		}
		if result.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", result.Attempts)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation during backoff")
	}
}

func TestDoWithValue(t *testing.T) {
	calls := 0
	value, result := DoWithValue(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("not yet")
		}
		return "done", nil
	})

	if result.Err != nil {
		t.Fatalf("Err = %v", result.Err)
	}
	if value != "done" {
		t.Errorf("value = %q, want %q", value, "done")
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	config := Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     350 * time.Millisecond,
		Factor:       2.0,
	}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		350 * time.Millisecond,
		350 * time.Millisecond,
	}
	for i, expected := range want {
		if got := config.backoff(i + 1); got != expected {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, expected)
		}
	}
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	config := Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Factor:       2.0,
		Jitter:       true,
	}

	for i := 0; i < 50; i++ {
		got := config.backoff(1)
		if got < 50*time.Millisecond || got > 150*time.Millisecond {
			t.Fatalf("backoff(1) with jitter = %v, want within [50ms, 150ms]", got)
		}
	}
}

func TestWithDefaults(t *testing.T) {
	config := Config{}.withDefaults()

	if config.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", config.MaxAttempts)
	}
	if config.InitialDelay <= 0 || config.MaxDelay <= 0 || config.Factor <= 0 {
		t.Errorf("defaults not applied: %+v", config)
	}
}

func TestPermanentNilPassthrough(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should stay nil")
	}
	if IsPermanent(errors.New("plain")) {
		t.Error("plain errors are not permanent")
	}

	wrapped := Permanent(errors.New("root"))
	outer := errors.Join(errors.New("context"), wrapped)
	if !IsPermanent(outer) {
		t.Error("IsPermanent should see through wrapping")
	}
}
