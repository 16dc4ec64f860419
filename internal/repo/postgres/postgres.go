package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/egressgate/internal/domain"
	"github.com/hamed0406/egressgate/internal/repo"
)

var _ repo.Journal = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{pool: pool, log: log.With(zap.String("component", "postgres"))}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping is used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// ---- OutcomeStore ----

func (s *Store) AppendOutcome(ctx context.Context, o *domain.ProbeOutcome) error {
	if o.CheckedAt.IsZero() {
		o.CheckedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO probe_outcomes
		   (round_id, url, kind, result, cause, latency_ms, checked_at)
		 VALUES
		   ($1, $2, $3, $4, $5, $6, $7)`,
		string(o.RoundID), o.URL, string(o.Kind), string(o.Result), o.Cause, o.LatencyMS, o.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func (s *Store) Outcomes(ctx context.Context, round domain.RoundID, limit int) ([]domain.ProbeOutcome, error) {
	limit = repo.ClampLimit(limit)
	var (
		rows pgx.Rows
		err  error
	)
	if round == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT round_id, url, kind, result, cause, latency_ms, checked_at
			   FROM probe_outcomes
			  ORDER BY checked_at DESC, id DESC
			  LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT round_id, url, kind, result, cause, latency_ms, checked_at
			   FROM probe_outcomes
			  WHERE round_id = $1
			  ORDER BY checked_at DESC, id DESC
			  LIMIT $2`, string(round), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.ProbeOutcome
	for rows.Next() {
		var (
			o                domain.ProbeOutcome
			id, kind, result string
		)
		if err := rows.Scan(&id, &o.URL, &kind, &result, &o.Cause, &o.LatencyMS, &o.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.RoundID = domain.RoundID(id)
		o.Kind = domain.CandidateKind(kind)
		o.Result = domain.ProbeResult(result)
		out = append(out, o)
	}
	return out, rows.Err()
}

// ---- RoundStore ----

func (s *Store) SaveRound(ctx context.Context, r *domain.RoundResult) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	var finished *time.Time
	if !r.FinishedAt.IsZero() {
		finished = &r.FinishedAt
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rounds (round_id, phase, winning_url, cause, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (round_id) DO UPDATE
		    SET phase = EXCLUDED.phase,
		        winning_url = EXCLUDED.winning_url,
		        cause = EXCLUDED.cause,
		        finished_at = EXCLUDED.finished_at`,
		string(r.RoundID), string(r.Phase), r.WinningURL, r.Cause, r.StartedAt, finished,
	)
	if err != nil {
		return fmt.Errorf("upsert round: %w", err)
	}
	return nil
}

func (s *Store) LatestRound(ctx context.Context) (*domain.RoundResult, error) {
	var (
		r        domain.RoundResult
		id       string
		phase    string
		finished sql.NullTime
	)
	err := s.pool.QueryRow(ctx,
		`SELECT round_id, phase, winning_url, cause, started_at, finished_at
		   FROM rounds
		  ORDER BY started_at DESC
		  LIMIT 1`).Scan(&id, &phase, &r.WinningURL, &r.Cause, &r.StartedAt, &finished)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest round: %w", err)
	}
	r.RoundID = domain.RoundID(id)
	r.Phase = domain.Phase(phase)
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	return &r, nil
}

// ---- FetchStore ----

func (s *Store) AppendFetch(ctx context.Context, f *domain.FetchResult) error {
	if f.FetchedAt.IsZero() {
		f.FetchedAt = time.Now().UTC()
	}
	var statusPtr *int
	if f.HTTPStatus != 0 {
		statusPtr = &f.HTTPStatus
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fetches
		   (url, ok, deferred, http_status, latency_ms, reason, fetched_at)
		 VALUES
		   ($1, $2, $3, $4, $5, $6, $7)`,
		f.URL, f.OK, f.Deferred, statusPtr, f.LatencyMS, f.Reason, f.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("insert fetch: %w", err)
	}
	return nil
}

func (s *Store) LatestFetches(ctx context.Context) ([]domain.FetchResult, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT ON (url)
       url, ok, deferred, http_status, latency_ms, reason, fetched_at
  FROM fetches
 ORDER BY url, fetched_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("latest fetches: %w", err)
	}
	defer rows.Close()

	var out []domain.FetchResult
	for rows.Next() {
		var (
			f        domain.FetchResult
			httpNull sql.NullInt32
		)
		if err := rows.Scan(&f.URL, &f.OK, &f.Deferred, &httpNull, &f.LatencyMS, &f.Reason, &f.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan fetch: %w", err)
		}
		if httpNull.Valid {
			f.HTTPStatus = int(httpNull.Int32)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
