package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/egressgate/internal/domain"
	"github.com/hamed0406/egressgate/internal/events"
	"github.com/hamed0406/egressgate/internal/repo"
)

// Recorder writes every probe outcome and round transition to the journal. It keeps its
// own bus subscription, independent of host visibility.
type Recorder struct {
	Outcomes repo.OutcomeStore
	Rounds   repo.RoundStore
	Logger   *zap.Logger
}

// Run consumes sub until it is closed or ctx ends.
func (r *Recorder) Run(ctx context.Context, sub *events.Subscription) {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.Kind == events.ValidationEnded {
				continue
			}
			o := ev.Outcome
			if err := r.Outcomes.AppendOutcome(ctx, &o); err != nil {
				r.Logger.Warn("journal_outcome_error", zap.String("round_id", string(o.RoundID)), zap.Error(err))
			}
		}
	}
}

// ObserveDecision is registered on the decision state.
func (r *Recorder) ObserveDecision(d domain.Decision) {
	if d.Phase == domain.PhaseIdle || d.RoundID == "" {
		return
	}
	rr := &domain.RoundResult{
		RoundID:    d.RoundID,
		Phase:      d.Phase,
		WinningURL: d.WinningURL,
		Cause:      d.Cause,
		StartedAt:  d.StartedAt,
		FinishedAt: d.DecidedAt,
	}
	if d.EngineErr != "" {
		rr.Cause = "engine: " + d.EngineErr
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Rounds.SaveRound(ctx, rr); err != nil {
		r.Logger.Warn("journal_round_error", zap.String("round_id", string(d.RoundID)), zap.Error(err))
	}
}
