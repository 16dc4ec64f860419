package repo

import (
	"context"

	"github.com/hamed0406/egressgate/internal/domain"
)

// Ports (interfaces) for the egress journal; memory and postgres implement all of them.
type OutcomeStore interface {
	AppendOutcome(ctx context.Context, o *domain.ProbeOutcome) error
	// Outcomes returns the outcomes of round, or of the most recent rounds when round
	// is empty, newest first, at most limit rows.
	Outcomes(ctx context.Context, round domain.RoundID, limit int) ([]domain.ProbeOutcome, error)
}

type RoundStore interface {
	// SaveRound upserts by RoundID.
	SaveRound(ctx context.Context, r *domain.RoundResult) error
	// LatestRound returns nil, nil when no round was recorded yet.
	LatestRound(ctx context.Context) (*domain.RoundResult, error)
}

type FetchStore interface {
	AppendFetch(ctx context.Context, f *domain.FetchResult) error
	// LatestFetches returns the newest fetch per feed URL.
	LatestFetches(ctx context.Context) ([]domain.FetchResult, error)
}

// Journal is everything the service persists.
type Journal interface {
	OutcomeStore
	RoundStore
	FetchStore
	AlertStore
}

const DefaultLimit = 100

// ClampLimit maps non-positive or oversized limits to DefaultLimit.
func ClampLimit(n int) int {
	if n <= 0 || n > 1000 {
		return DefaultLimit
	}
	return n
}
