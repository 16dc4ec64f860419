package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hamed0406/egressgate/internal/domain"
	"github.com/hamed0406/egressgate/internal/repo"
)

const maxOutcomes = 10000

type Store struct {
	mu       sync.RWMutex
	outcomes []domain.ProbeOutcome
	rounds   map[domain.RoundID]domain.RoundResult
	latest   domain.RoundID
	fetches  map[string]domain.FetchResult
	alerts   map[string]repo.AlertRecord
}

var _ repo.Journal = (*Store)(nil)

func New() *Store {
	return &Store{
		outcomes: make([]domain.ProbeOutcome, 0, 128),
		rounds:   make(map[domain.RoundID]domain.RoundResult),
		fetches:  make(map[string]domain.FetchResult),
		alerts:   make(map[string]repo.AlertRecord),
	}
}

// ---- OutcomeStore ----

func (m *Store) AppendOutcome(ctx context.Context, o *domain.ProbeOutcome) error {
	if o.CheckedAt.IsZero() {
		o.CheckedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.outcomes) >= maxOutcomes {
		m.outcomes = append(m.outcomes[:0], m.outcomes[len(m.outcomes)/2:]...)
	}
	m.outcomes = append(m.outcomes, *o)
	return nil
}

func (m *Store) Outcomes(ctx context.Context, round domain.RoundID, limit int) ([]domain.ProbeOutcome, error) {
	limit = repo.ClampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.ProbeOutcome, 0, limit)
	for i := len(m.outcomes) - 1; i >= 0 && len(out) < limit; i-- {
		if round == "" || m.outcomes[i].RoundID == round {
			out = append(out, m.outcomes[i])
		}
	}
	return out, nil
}

// ---- RoundStore ----

func (m *Store) SaveRound(ctx context.Context, r *domain.RoundResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.rounds[r.RoundID]; ok && r.StartedAt.IsZero() {
		r.StartedAt = prev.StartedAt
	}
	m.rounds[r.RoundID] = *r
	if cur, ok := m.rounds[m.latest]; !ok || !r.StartedAt.Before(cur.StartedAt) {
		m.latest = r.RoundID
	}
	return nil
}

func (m *Store) LatestRound(ctx context.Context) (*domain.RoundResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rounds[m.latest]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// ---- FetchStore ----

func (m *Store) AppendFetch(ctx context.Context, f *domain.FetchResult) error {
	if f.FetchedAt.IsZero() {
		f.FetchedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.fetches[f.URL]; !ok || !f.FetchedAt.Before(cur.FetchedAt) {
		m.fetches[f.URL] = *f
	}
	return nil
}

func (m *Store) LatestFetches(ctx context.Context) ([]domain.FetchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.FetchResult, 0, len(m.fetches))
	for _, f := range m.fetches {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// ---- AlertStore ----

func (m *Store) GetAlert(ctx context.Context, key string) (*repo.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.alerts[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Store) PutAlert(ctx context.Context, u repo.AlertUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.alerts[u.Key]
	r.Key = u.Key
	r.LastHealthy = u.Healthy
	r.RoundID = u.RoundID
	r.UpdatedAt = time.Now().UTC()
	if !u.SentAt.IsZero() {
		ts := u.SentAt
		r.LastSentAt = &ts
	}
	m.alerts[u.Key] = r
	return nil
}
