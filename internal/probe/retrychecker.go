package probe

import (
	"context"
	"time"
)

// RetryChecker re-runs Inner until it succeeds, Attempts is exhausted, or ctx ends.
// A positive Timeout bounds each attempt on its own, so a hung attempt is retried.
type RetryChecker struct {
	Inner    Checker
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

// Budget is the longest a full series can take when every attempt times out.
func (r *RetryChecker) Budget() time.Duration {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(attempts)*r.Timeout + time.Duration(attempts-1)*r.Backoff
}

func (r *RetryChecker) attempt(ctx context.Context, target string) CheckResult {
	if r.Timeout <= 0 {
		return r.Inner.Check(ctx, target)
	}
	actx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	return r.Inner.Check(actx, target)
}

func (r *RetryChecker) Check(ctx context.Context, target string) CheckResult {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var last CheckResult
	for i := 0; i < attempts; i++ {
		last = r.attempt(ctx, target)
		if last.Success || attempts == 1 {
			return last
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			last.Message = last.Message + " (retry aborted: " + ctx.Err().Error() + ")"
			return last
		case <-time.After(r.Backoff):
		}
	}
	last.Message = last.Message + " (after retries)"
	return last
}
