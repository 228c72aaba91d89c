package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
)

func retryingExecutor(attempts int, waits *[]time.Duration) *Executor {
	p := DefaultPolicy()
	p.Retry = RetryPolicy{MaxAttempts: attempts, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 25 * time.Millisecond, Multiplier: 2}
	p.Breaker.Enabled = false
	e := NewExecutor(p)
	e.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return e
}

func TestExecuteRetriesTransientFailuresWithCappedBackoff(t *testing.T) {
	var waits []time.Duration
	exec := retryingExecutor(4, &waits)

	attempts := 0
	err := exec.Execute(context.Background(), "ollama.embed", func(context.Context) error {
		attempts++
		if attempts < 4 {
			return &StatusError{Backend: "ollama", Operation: "embed", StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	}, ClassifyHTTP)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", attempts)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}
	if fmt.Sprint(waits) != fmt.Sprint(want) {
		t.Fatalf("backoffs = %v, want %v", waits, want)
	}
}

func TestExecuteDoesNotRetryRejectedRequest(t *testing.T) {
	var waits []time.Duration
	exec := retryingExecutor(3, &waits)

	attempts := 0
	rejected := &StatusError{Backend: "qdrant", Operation: "search", StatusCode: http.StatusBadRequest, Status: "400 Bad Request"}
	err := exec.Execute(context.Background(), "qdrant.search", func(context.Context) error {
		attempts++
		return rejected
	}, ClassifyHTTP)
	if !errors.Is(err, rejected) {
		t.Fatalf("expected the status error back, got %v", err)
	}
	if attempts != 1 || len(waits) != 0 {
		t.Fatalf("expected a single attempt without backoff, got %d attempts %v", attempts, waits)
	}
}

func TestExecuteStopsWhenContextEnds(t *testing.T) {
	p := SingleAttempt()
	p.Retry.MaxAttempts = 5
	exec := NewExecutor(p)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	errDown := errors.New("connection refused")
	err := exec.Execute(ctx, "nats.publish", func(context.Context) error {
		attempts++
		cancel()
		return errDown
	}, func(error) Verdict { return Verdict{Retryable: true, RecordFailure: true} })
	if !errors.Is(err, errDown) {
		t.Fatalf("expected last attempt error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestBreakerOpensAfterRecordedFailures(t *testing.T) {
	p := SingleAttempt()
	p.Breaker = BreakerPolicy{Enabled: true, MinRequests: 2, FailureRatio: 0.5, OpenTimeout: time.Minute, HalfOpenMaxCalls: 1}
	exec := NewExecutor(p)

	errDown := errors.New("backend down")
	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "llamaparse.upload", func(context.Context) error {
			return errDown
		}, nil)
		if !errors.Is(err, errDown) {
			t.Fatalf("iteration %d: expected backend error, got %v", i, err)
		}
	}
	if got := exec.State("llamaparse.upload"); got != gobreaker.StateOpen.String() {
		t.Fatalf("expected open breaker, got %s", got)
	}

	err := exec.Execute(context.Background(), "llamaparse.upload", func(context.Context) error {
		t.Fatalf("open breaker must not call the backend")
		return nil
	}, nil)
	if !IsCircuitOpen(err) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if got := exec.State("llamaparse.status"); got != gobreaker.StateClosed.String() {
		t.Fatalf("unrelated operation should stay closed, got %s", got)
	}
}

func TestBreakerIgnoresRejectedRequests(t *testing.T) {
	p := SingleAttempt()
	p.Breaker = BreakerPolicy{Enabled: true, MinRequests: 1, FailureRatio: 0.1, OpenTimeout: time.Minute, HalfOpenMaxCalls: 1}
	exec := NewExecutor(p)

	for i := 0; i < 3; i++ {
		_ = exec.Execute(context.Background(), "qdrant.get", func(context.Context) error {
			return &StatusError{Backend: "qdrant", Operation: "get", StatusCode: http.StatusNotFound}
		}, ClassifyHTTP)
	}
	if got := exec.State("qdrant.get"); got != gobreaker.StateClosed.String() {
		t.Fatalf("404s must not trip the breaker, got %s", got)
	}
}

func TestCallReturnsValue(t *testing.T) {
	exec := NewExecutor(SingleAttempt())
	got, err := Call(context.Background(), exec, "ollama.embed", func(context.Context) ([]int, error) {
		return []int{1, 2}, nil
	}, ClassifyHTTP)
	if err != nil || len(got) != 2 {
		t.Fatalf("Call = %v, %v", got, err)
	}
}

func TestClassifyHTTP(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Verdict
	}{
		{"throttled", &StatusError{StatusCode: http.StatusTooManyRequests}, verdictTransient},
		{"gateway", fmt.Errorf("wrapped: %w", &StatusError{StatusCode: http.StatusBadGateway}), verdictTransient},
		{"bad request", &StatusError{StatusCode: http.StatusUnprocessableEntity}, verdictRejected},
		{"cancelled", context.Canceled, verdictCancelled},
		{"breaker open", gobreaker.ErrOpenState, verdictTransient},
		{"other", errors.New("decode response"), verdictBroken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyHTTP(tc.err); got != tc.want {
				t.Fatalf("ClassifyHTTP(%v) = %+v, want %+v", tc.err, got, tc.want)
			}
		})
	}
}

func TestMarkTemporary(t *testing.T) {
	outage := &StatusError{Backend: "ollama", Operation: "embed", StatusCode: http.StatusServiceUnavailable}
	if err := MarkTemporary("ollama embed", outage, nil); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	rejected := &StatusError{Backend: "ollama", Operation: "embed", StatusCode: http.StatusBadRequest}
	if err := MarkTemporary("ollama embed", rejected, nil); domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("400 must stay permanent, got %v", err)
	}
	if !HasStatus(rejected, http.StatusNotFound, http.StatusBadRequest) {
		t.Fatalf("HasStatus should match 400")
	}
}
