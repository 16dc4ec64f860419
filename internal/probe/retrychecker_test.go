package probe

import (
	"context"
	"strings"
	"testing"
	"time"
)

// fake checker you can control
type fakeChecker struct {
	results []CheckResult
	i       int
}

func (f *fakeChecker) Check(ctx context.Context, target string) CheckResult {
	if f.i >= len(f.results) {
		return CheckResult{Success: false, Message: "no more"}
	}
	r := f.results[f.i]
	f.i++
	return r
}

func TestRetryChecker_SucceedsAfterRetry(t *testing.T) {
	f := &fakeChecker{
		results: []CheckResult{
			{Success: false, Message: "first fail"},
			{Success: true, Message: "ok"},
		},
	}
	rc := &RetryChecker{
		Inner:    f,
		Attempts: 3,
		Backoff:  10 * time.Millisecond,
	}
	out := rc.Check(context.Background(), "https://example.com")
	if !out.Success {
		t.Fatalf("expected success after retry, got %+v", out)
	}
	if f.i != 2 {
		t.Fatalf("expected 2 attempts, got %d", f.i)
	}
}

func TestRetryChecker_AllFailAnnotates(t *testing.T) {
	f := &fakeChecker{
		results: []CheckResult{
			{Success: false, Message: "fail1"},
			{Success: false, Message: "fail2"},
		},
	}
	rc := &RetryChecker{Inner: f, Attempts: 2, Backoff: 0}
	out := rc.Check(context.Background(), "https://example.com")
	if out.Success {
		t.Fatalf("expected failure, got success")
	}
	if out.Message != "fail2 (after retries)" {
		t.Fatalf("unexpected annotation: %q", out.Message)
	}
}

func TestRetryChecker_StopsWhenContextEnds(t *testing.T) {
	f := &fakeChecker{
		results: []CheckResult{
			{Success: false, Message: "fail1"},
			{Success: true, Message: "never reached"},
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc := &RetryChecker{Inner: f, Attempts: 5, Backoff: time.Hour}
	out := rc.Check(ctx, "https://example.com")
	if out.Success {
		t.Fatalf("expected failure after cancellation")
	}
	if f.i != 1 {
		t.Fatalf("expected a single attempt, got %d", f.i)
	}
	if !strings.Contains(out.Message, "retry aborted") {
		t.Fatalf("expected abort annotation, got %q", out.Message)
	}
}

// hangOnce blocks the first call until its context ends, then succeeds.
type hangOnce struct{ calls int }

func (h *hangOnce) Check(ctx context.Context, target string) CheckResult {
	h.calls++
	if h.calls == 1 {
		<-ctx.Done()
		return CheckResult{Success: false, Message: ctx.Err().Error()}
	}
	return CheckResult{Success: true, Message: "ok"}
}

func TestRetryChecker_TimedOutAttemptIsRetried(t *testing.T) {
	h := &hangOnce{}
	rc := &RetryChecker{Inner: h, Attempts: 2, Timeout: 20 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), rc.Budget()+time.Second)
	defer cancel()
	out := rc.Check(ctx, "https://example.com")
	if !out.Success {
		t.Fatalf("expected the second attempt to succeed, got %+v", out)
	}
	if h.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", h.calls)
	}
}

func TestValidatorConfig_CandidateBudgetCoversEveryAttempt(t *testing.T) {
	cfg := ValidatorConfig{Timeout: time.Second, Attempts: 3, Backoff: 100 * time.Millisecond}
	if got, want := cfg.CandidateBudget(), 3*time.Second+200*time.Millisecond; got != want {
		t.Fatalf("budget = %s, want %s", got, want)
	}
	if got := (ValidatorConfig{Timeout: time.Second}).CandidateBudget(); got != time.Second {
		t.Fatalf("single attempt budget = %s", got)
	}
}
