package probe

import (
	"context"

	"github.com/hamed0406/egressgate/internal/domain"
)

// Validator picks the checker matching a candidate's kind.
type Validator struct {
	Direct    Checker
	ProxySeed Checker
}

// NewValidator builds the default validation pipeline: a DNS pre-check and a GET
// for direct URLs, a GET of probeTarget through the seed for proxy seeds, both
// wrapped in a RetryChecker when attempts > 1. cfg.Timeout applies per attempt.
func NewValidator(cfg ValidatorConfig) *Validator {
	direct := Checker(NewChain(
		NewDNSChecker(),
		NewHTTPCheckerWithTransport(cfg.Timeout, NewDirectTransport(cfg.Transport)),
	))
	proxy := Checker(NewProxyChecker(cfg.ProbeTarget, cfg.Timeout, cfg.Transport))
	if cfg.Attempts > 1 {
		direct = &RetryChecker{Inner: direct, Attempts: cfg.Attempts, Backoff: cfg.Backoff, Timeout: cfg.Timeout}
		proxy = &RetryChecker{Inner: proxy, Attempts: cfg.Attempts, Backoff: cfg.Backoff, Timeout: cfg.Timeout}
	}
	return &Validator{Direct: direct, ProxySeed: proxy}
}

func (v *Validator) Validate(ctx context.Context, c domain.Candidate) CheckResult {
	switch c.Kind {
	case domain.KindDirect:
		return v.Direct.Check(ctx, c.URL)
	case domain.KindProxySeed:
		return v.ProxySeed.Check(ctx, c.URL)
	default:
		return CheckResult{Name: "KIND", Success: false, Message: "unknown candidate kind " + string(c.Kind)}
	}
}
