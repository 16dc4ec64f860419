package probe

import (
	"context"
	"io"
	"net/http"
	"time"
)

// HTTPChecker validates a target by issuing a GET and accepting 2xx/3xx.
type HTTPChecker struct {
	Client *http.Client
	Name   string
}

// NewHTTPCheckerWithTransport builds a checker that goes over rt (direct-only, or
// through a proxy seed). A nil rt uses the default transport.
func NewHTTPCheckerWithTransport(timeout time.Duration, rt http.RoundTripper) *HTTPChecker {
	return &HTTPChecker{
		Client: &http.Client{Timeout: timeout, Transport: rt},
		Name:   "HTTP",
	}
}

func (h *HTTPChecker) Check(ctx context.Context, target string) CheckResult {
	name := h.Name
	if name == "" {
		name = "HTTP"
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return CheckResult{Name: name, Success: false, Message: err.Error()}
	}

	resp, err := h.Client.Do(req)
	latency := time.Since(start).Seconds() * 1000 // ms
	if err != nil {
		return CheckResult{Name: name, Success: false, Message: err.Error(), LatencyMS: latency}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	success := resp.StatusCode >= 200 && resp.StatusCode < 400
	return CheckResult{
		Name:       name,
		Success:    success,
		Message:    resp.Status,
		StatusCode: resp.StatusCode,
		LatencyMS:  latency,
	}
}
