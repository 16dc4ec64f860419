package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/egressgate/internal/domain"
	"github.com/hamed0406/egressgate/internal/events"
	"github.com/hamed0406/egressgate/internal/repo/memory"
)

func TestRecorder_JournalsOutcomesAndRounds(t *testing.T) {
	store := memory.New()
	bus := events.NewBus()
	rec := &Recorder{Outcomes: store, Rounds: store, Logger: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Run(ctx, bus.Subscribe(false))
	}()
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now().UTC()
	rec.ObserveDecision(domain.Decision{Phase: domain.PhaseProbing, RoundID: "r1", StartedAt: start})
	bus.Publish(events.FromOutcome(domain.ProbeOutcome{RoundID: "r1", URL: "https://d1.test", Kind: domain.KindDirect, Result: domain.ResultInvalid, Cause: "refused"}))
	bus.Publish(events.FromOutcome(domain.ProbeOutcome{RoundID: "r1", URL: "http://p1.test:8080", Kind: domain.KindProxySeed, Result: domain.ResultValid}))
	bus.Publish(events.FromEnded(domain.ProbeRoundEnded{RoundID: "r1", Cause: domain.CauseDecided}))
	rec.ObserveDecision(domain.Decision{
		Phase: domain.PhaseCommittedEngine, RoundID: "r1", WinningURL: "http://p1.test:8080",
		StartedAt: start, DecidedAt: start.Add(time.Second), EngineErr: "handshake refused",
	})

	require.Eventually(t, func() bool {
		got, _ := store.Outcomes(context.Background(), "r1", 10)
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)

	r, err := store.LatestRound(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.PhaseCommittedEngine, r.Phase)
	require.Equal(t, "engine: handshake refused", r.Cause)

	rec.ObserveDecision(domain.Decision{Phase: domain.PhaseIdle})
	cancel()
	<-done
	require.Zero(t, bus.Subscribers())
}
