package retry

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"
)

// recorder captures requested delays instead of sleeping.
type recorder struct {
	delays []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func testOptions(rec *recorder) Options {
	opts := DefaultOptions()
	opts.sleep = rec.sleep
	return opts
}

// failN returns an operation that fails n times with err, then succeeds.
func failN(n int, err error, calls *int) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		*calls++
		if *calls <= n {
			return "", err
		}
		return "ok", nil
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	for k := 0; k <= 3; k++ {
		t.Run(fmt.Sprintf("%d failures", k), func(t *testing.T) {
			rec := &recorder{}
			var calls int
			var retried []int
			opts := testOptions(rec)
			opts.OnRetry = func(attempt int, err error) { retried = append(retried, attempt) }

			got, err := Do(context.Background(), opts, failN(k, errors.New("boom"), &calls))
			if err != nil {
				t.Fatalf("Do: %v", err)
			}
			if got != "ok" {
				t.Errorf("got %q, want %q", got, "ok")
			}
			if calls != k+1 {
				t.Errorf("calls = %d, want %d", calls, k+1)
			}
			if len(rec.delays) != k {
				t.Errorf("delays = %d, want %d", len(rec.delays), k)
			}
			for i, attempt := range retried {
				if attempt != i+1 {
					t.Errorf("OnRetry attempt[%d] = %d, want %d", i, attempt, i+1)
				}
			}
		})
	}
}

func TestDoReturnsLastErrorUnchanged(t *testing.T) {
	rec := &recorder{}
	var calls int
	sentinel := errors.New("permanent")

	_, err := Do(context.Background(), testOptions(rec), failN(100, sentinel, &calls))
	if err != sentinel {
		t.Errorf("got %v, want the sentinel error itself", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want MaxRetries+1 = 4", calls)
	}
}

func TestDoBackoffSchedule(t *testing.T) {
	rec := &recorder{}
	var calls int
	opts := testOptions(rec)
	opts.MaxRetries = 8

	Do(context.Background(), opts, failN(100, errors.New("boom"), &calls))

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
		3200 * time.Millisecond,
		5 * time.Second, // capped
		5 * time.Second,
	}
	if len(rec.delays) != len(want) {
		t.Fatalf("got %d delays, want %d", len(rec.delays), len(want))
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, rec.delays[i], want[i])
		}
	}
}

func TestDoWithJitterBounds(t *testing.T) {
	rec := &recorder{}
	var calls int

	DoWithJitter(context.Background(), testOptions(rec), failN(100, errors.New("boom"), &calls))

	opts := DefaultOptions()
	for i, d := range rec.delays {
		base := opts.Delay(i)
		if d < base || d > 2*base {
			t.Errorf("delay[%d] = %v, want within [%v, %v]", i, d, base, 2*base)
		}
	}
}

func TestDoSmartStopsOnTerminalError(t *testing.T) {
	rec := &recorder{}
	var calls int
	terminal := errors.New("validation failed")

	_, err := DoSmart(context.Background(), testOptions(rec), failN(100, terminal, &calls))
	if err != terminal {
		t.Errorf("got %v, want terminal error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(rec.delays) != 0 {
		t.Errorf("delays = %d, want 0", len(rec.delays))
	}
}

func TestDoSmartRetriesTransientError(t *testing.T) {
	rec := &recorder{}
	var calls int

	got, err := DoSmart(context.Background(), testOptions(rec), failN(2, syscall.ECONNRESET, &calls))
	if err != nil {
		t.Fatalf("DoSmart: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls, want ok after 3", got, calls)
	}
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	opts := DefaultOptions()
	opts.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := Do(ctx, opts, failN(100, errors.New("boom"), &calls))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"conn reset", syscall.ECONNRESET, true},
		{"conn refused wrapped", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"timed out", syscall.ETIMEDOUT, true},
		{"host unreachable", syscall.EHOSTUNREACH, true},
		{"net timeout", timeoutErr{}, true},
		{"status 503", &StatusError{Code: 503}, true},
		{"status 429", &StatusError{Code: 429}, true},
		{"status 404", &StatusError{Code: 404}, false},
		{"status 599", &StatusError{Code: 599}, true},
		{"status 600", &StatusError{Code: 600}, false},
		{"message connection", errors.New("lost connection to server"), true},
		{"message timeout", errors.New("query timeout exceeded"), true},
		{"message capitalized", errors.New("Connection pool exhausted"), false},
		{"plain error", errors.New("constraint violated"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
