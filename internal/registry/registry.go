// Package registry holds the ordered set of egress candidates probed each round.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hamed0406/egressgate/internal/domain"
	"github.com/hamed0406/egressgate/internal/probe"
)

var (
	ErrNoCandidates = errors.New("no egress candidates configured")
	ErrDuplicate    = errors.New("duplicate candidate")
)

// Registry is immutable after New and safe for concurrent reads.
type Registry struct {
	ordered []domain.Candidate
	byURL   map[string]domain.Candidate
}

// New validates, normalizes and de-duplicates candidates, keeping their order.
func New(candidates []domain.Candidate) (*Registry, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	r := &Registry{
		ordered: make([]domain.Candidate, 0, len(candidates)),
		byURL:   make(map[string]domain.Candidate, len(candidates)),
	}
	for i, c := range candidates {
		norm, err := normalize(c)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i, err)
		}
		if _, dup := r.byURL[norm.URL]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, norm.URL)
		}
		r.byURL[norm.URL] = norm
		r.ordered = append(r.ordered, norm)
	}
	return r, nil
}

// FromLists builds a registry with direct URLs first, then proxy seeds.
func FromLists(direct, seeds []string) (*Registry, error) {
	cs := make([]domain.Candidate, 0, len(direct)+len(seeds))
	for _, u := range direct {
		cs = append(cs, domain.Candidate{URL: u, Kind: domain.KindDirect})
	}
	for _, u := range seeds {
		cs = append(cs, domain.Candidate{URL: u, Kind: domain.KindProxySeed})
	}
	return New(cs)
}

func normalize(c domain.Candidate) (domain.Candidate, error) {
	switch c.Kind {
	case domain.KindDirect:
		u, err := NormalizeHTTPURL(c.URL)
		if err != nil {
			return c, err
		}
		return domain.Candidate{URL: u, Kind: c.Kind}, nil
	case domain.KindProxySeed:
		u, err := probe.ParseProxySeed(c.URL)
		if err != nil {
			return c, err
		}
		return domain.Candidate{URL: canonicalSeed(u), Kind: c.Kind}, nil
	default:
		return c, fmt.Errorf("unknown kind %q for %s", c.Kind, c.URL)
	}
}

func canonicalSeed(u *url.URL) string {
	cp := *u
	cp.Scheme = strings.ToLower(cp.Scheme)
	cp.Host = strings.ToLower(cp.Host)
	return cp.String()
}

// Candidates returns a copy in registration order.
func (r *Registry) Candidates() []domain.Candidate {
	out := make([]domain.Candidate, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func (r *Registry) Len() int { return len(r.ordered) }

// IsDirect reports whether u was registered as a Direct candidate.
func (r *Registry) IsDirect(u string) bool {
	c, ok := r.byURL[u]
	return ok && c.Kind == domain.KindDirect
}

// Direct and Seeds return the candidates of one kind in registration order.
func (r *Registry) Direct() []domain.Candidate { return r.filter(domain.KindDirect) }

func (r *Registry) Seeds() []domain.Candidate { return r.filter(domain.KindProxySeed) }

func (r *Registry) filter(k domain.CandidateKind) []domain.Candidate {
	var out []domain.Candidate
	for _, c := range r.ordered {
		if c.Kind == k {
			out = append(out, c)
		}
	}
	return out
}
