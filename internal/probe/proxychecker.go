package probe

import (
	"context"
	"time"
)

// DefaultProbeTarget is fetched through a proxy seed to prove it can carry traffic.
const DefaultProbeTarget = "https://www.google.com/generate_204"

// ProxyChecker validates a proxy seed by fetching ProbeTarget through it.
// The target passed to Check is the seed URL, not the page fetched.
type ProxyChecker struct {
	ProbeTarget string
	Timeout     time.Duration
	Options     TransportOptions
}

func NewProxyChecker(probeTarget string, timeout time.Duration, opts TransportOptions) *ProxyChecker {
	if probeTarget == "" {
		probeTarget = DefaultProbeTarget
	}
	return &ProxyChecker{ProbeTarget: probeTarget, Timeout: timeout, Options: opts}
}

func (p *ProxyChecker) Check(ctx context.Context, seed string) CheckResult {
	tr, err := NewProxyTransport(seed, p.Options)
	if err != nil {
		return CheckResult{Name: "PROXY", Success: false, Message: err.Error()}
	}
	defer tr.CloseIdleConnections()

	hc := NewHTTPCheckerWithTransport(p.Timeout, tr)
	hc.Name = "PROXY"
	return hc.Check(ctx, p.ProbeTarget)
}
