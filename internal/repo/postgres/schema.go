package postgres

import (
	"context"
	"fmt"
)

// Schema is applied by Migrate; every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS probe_outcomes (
  id         BIGSERIAL PRIMARY KEY,
  round_id   TEXT NOT NULL,
  url        TEXT NOT NULL,
  kind       TEXT NOT NULL,
  result     TEXT NOT NULL,
  cause      TEXT NOT NULL DEFAULT '',
  latency_ms DOUBLE PRECISION NOT NULL,
  checked_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_round ON probe_outcomes (round_id, checked_at DESC);
CREATE INDEX IF NOT EXISTS idx_outcomes_time  ON probe_outcomes (checked_at DESC);

CREATE TABLE IF NOT EXISTS rounds (
  round_id    TEXT PRIMARY KEY,
  phase       TEXT NOT NULL,
  winning_url TEXT NOT NULL DEFAULT '',
  cause       TEXT NOT NULL DEFAULT '',
  started_at  TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NULL
);
CREATE INDEX IF NOT EXISTS idx_rounds_started ON rounds (started_at DESC);

CREATE TABLE IF NOT EXISTS fetches (
  id          BIGSERIAL PRIMARY KEY,
  url         TEXT NOT NULL,
  ok          BOOLEAN NOT NULL,
  deferred    BOOLEAN NOT NULL,
  http_status INTEGER NULL,
  latency_ms  DOUBLE PRECISION NOT NULL,
  reason      TEXT NOT NULL DEFAULT '',
  fetched_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetches_url_time ON fetches (url, fetched_at DESC);

CREATE TABLE IF NOT EXISTS alerts (
  key          TEXT PRIMARY KEY,
  last_healthy BOOLEAN NOT NULL,
  round_id     TEXT NOT NULL DEFAULT '',
  last_sent_at TIMESTAMPTZ NULL,
  updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
