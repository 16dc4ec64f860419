package probe

import "context"

// Chain runs checkers in order and stops at the first failure. On success the
// result of the last checker is returned with the summed latency.
type Chain struct {
	Checkers []Checker
}

func NewChain(checkers ...Checker) *Chain {
	return &Chain{Checkers: checkers}
}

func (c *Chain) Check(ctx context.Context, target string) CheckResult {
	var (
		last  CheckResult
		total float64
	)
	for _, chk := range c.Checkers {
		if chk == nil {
			continue
		}
		last = chk.Check(ctx, target)
		total += last.LatencyMS
		if !last.Success {
			last.LatencyMS = total
			return last
		}
	}
	last.LatencyMS = total
	return last
}
