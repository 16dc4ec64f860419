//go:build integration

package postgres

// DATABASE_URL=... go test -tags=integration ./internal/repo/postgres -run Alerts -count=1

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/egressgate/internal/repo"
)

func TestAlerts_PutKeepsSendTime(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	key := "egress-" + uuid.NewString()

	rec, err := store.GetAlert(ctx, key)
	require.NoError(t, err)
	require.Nil(t, rec)

	require.NoError(t, store.PutAlert(ctx, repo.AlertUpdate{Key: key, Healthy: true, RoundID: "r1"}))
	rec, err = store.GetAlert(ctx, key)
	require.NoError(t, err)
	require.True(t, rec.LastHealthy)
	require.Nil(t, rec.LastSentAt)
	require.Equal(t, "r1", string(rec.RoundID))

	sent := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.PutAlert(ctx, repo.AlertUpdate{Key: key, RoundID: "r2", SentAt: sent}))
	require.NoError(t, store.PutAlert(ctx, repo.AlertUpdate{Key: key, RoundID: "r3"}))

	rec, err = store.GetAlert(ctx, key)
	require.NoError(t, err)
	require.False(t, rec.LastHealthy)
	require.Equal(t, "r3", string(rec.RoundID))
	require.NotNil(t, rec.LastSentAt)
	require.WithinDuration(t, sent, *rec.LastSentAt, time.Millisecond)
}
