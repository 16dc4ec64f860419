package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hamed0406/egressgate/internal/domain"
	"github.com/hamed0406/egressgate/internal/repo"
)

func (s *Store) GetAlert(ctx context.Context, key string) (*repo.AlertRecord, error) {
	const q = `SELECT last_healthy, round_id, last_sent_at, updated_at FROM alerts WHERE key=$1`
	r := repo.AlertRecord{Key: key}
	var round string
	err := s.pool.QueryRow(ctx, q, key).Scan(&r.LastHealthy, &round, &r.LastSentAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", key, err)
	}
	r.RoundID = domain.RoundID(round)
	return &r, nil
}

// PutAlert upserts; a NULL send time keeps the stored one.
func (s *Store) PutAlert(ctx context.Context, u repo.AlertUpdate) error {
	const q = `
		INSERT INTO alerts (key, last_healthy, round_id, last_sent_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (key)
		DO UPDATE SET last_healthy = EXCLUDED.last_healthy,
		              round_id     = EXCLUDED.round_id,
		              last_sent_at = COALESCE(EXCLUDED.last_sent_at, alerts.last_sent_at),
		              updated_at   = now()
	`
	var sent any
	if !u.SentAt.IsZero() {
		sent = u.SentAt
	}
	if _, err := s.pool.Exec(ctx, q, u.Key, u.Healthy, string(u.RoundID), sent); err != nil {
		return fmt.Errorf("put alert %s: %w", u.Key, err)
	}
	return nil
}
