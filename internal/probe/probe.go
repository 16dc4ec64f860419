package probe

import "context"

// CheckResult is the unified result of a single probe.
//
// StatusCode is the HTTP status when one was received and 0 for transport or DNS errors.
// Name labels which checker produced the result ("DNS", "HTTP", "PROXY").
type CheckResult struct {
	Name       string  `json:"name"`
	Success    bool    `json:"success"`
	Message    string  `json:"message"`
	StatusCode int     `json:"status_code,omitempty"`
	LatencyMS  float64 `json:"latency_ms,omitempty"`
}

// Checker performs a single check for a given target URL.
type Checker interface {
	Check(ctx context.Context, target string) CheckResult
}

// CheckerFunc adapts a plain function to Checker.
type CheckerFunc func(ctx context.Context, target string) CheckResult

func (f CheckerFunc) Check(ctx context.Context, target string) CheckResult { return f(ctx, target) }
