package probe

import "time"

// ValidatorConfig tunes NewValidator.
type ValidatorConfig struct {
	Timeout     time.Duration
	ProbeTarget string
	Attempts    int
	Backoff     time.Duration
	Transport   TransportOptions
}

// CandidateBudget is how long one candidate's validation may take across all
// attempts. Callers bounding a whole candidate should use it rather than Timeout.
func (cfg ValidatorConfig) CandidateBudget() time.Duration {
	r := RetryChecker{Attempts: cfg.Attempts, Backoff: cfg.Backoff, Timeout: cfg.Timeout}
	return r.Budget()
}
