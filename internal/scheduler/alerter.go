package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/egressgate/internal/domain"
	"github.com/hamed0406/egressgate/internal/engine"
	"github.com/hamed0406/egressgate/internal/repo"
)

// AlertKey is the alert-state row for the egress route.
const AlertKey = "egress"

type AlerterConfig struct {
	AlertOnRecovery bool
	Cooldown        time.Duration
}

// Alerter notifies when the egress route becomes unusable and when it recovers.
type Alerter struct {
	alertDB  repo.AlertStore
	notifier interface {
		Send(context.Context, string, string) error
	}
	cfg   AlerterConfig
	log   *zap.Logger
	queue chan domain.Decision
	nowFn func() time.Time
}

func NewAlerter(
	alertDB repo.AlertStore,
	notifier interface {
		Send(context.Context, string, string) error
	},
	cfg AlerterConfig,
	log *zap.Logger,
) *Alerter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Alerter{
		alertDB:  alertDB,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With(zap.String("component", "alerter")),
		queue:    make(chan domain.Decision, 32),
		nowFn:    time.Now,
	}
}

// ObserveDecision is registered on the decision state; it never blocks.
func (a *Alerter) ObserveDecision(d domain.Decision) {
	select {
	case a.queue <- d:
	default:
		a.log.Warn("alerter_queue_full", zap.String("round_id", string(d.RoundID)))
	}
}

func (a *Alerter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-a.queue:
			if err := a.evaluate(ctx, d); err != nil {
				a.log.Warn("alerter_evaluate_error", zap.Error(err))
			}
		}
	}
}

// healthOf maps a snapshot to healthy/unhealthy; ok is false while undecided.
func healthOf(d domain.Decision) (healthy, ok bool) {
	switch {
	case d.Usable():
		return true, true
	case d.Phase == domain.PhaseEndedWithoutSuccess:
		return false, true
	case d.Phase == domain.PhaseCommittedEngine && d.EngineErr != "":
		return false, true
	default:
		return false, false
	}
}

func (a *Alerter) evaluate(ctx context.Context, d domain.Decision) error {
	healthy, ok := healthOf(d)
	if !ok {
		return nil
	}
	rec, err := a.alertDB.GetAlert(ctx, AlertKey)
	if err != nil {
		return fmt.Errorf("get alert state: %w", err)
	}
	now := a.nowFn()

	// Has the state changed compared to what we last recorded?
	stateChanged := rec == nil || rec.LastHealthy != healthy

	// Cooldown only matters for DOWN alerts (suppresses noisy repeats).
	cooled := true
	if rec != nil && rec.LastSentAt != nil {
		cooled = now.Sub(*rec.LastSentAt) >= a.cfg.Cooldown
	}

	downAlert := stateChanged && !healthy && cooled
	recoveryAlert := rec != nil && stateChanged && healthy && a.cfg.AlertOnRecovery // bypass cooldown

	if downAlert || recoveryAlert {
		title := "🔴 Egress UNAVAILABLE"
		if healthy {
			title = "🟢 Egress RECOVERED"
		}
		if err := a.notifier.Send(ctx, title, describe(d)); err != nil {
			a.log.Warn("alerter_send_error", zap.Error(err))
		}
		return a.alertDB.PutAlert(ctx, repo.AlertUpdate{Key: AlertKey, Healthy: healthy, RoundID: d.RoundID, SentAt: now})
	}

	// State changed but nothing was sent (cooldown, recovery alerts off, first healthy
	// state): still record it without a send time.
	if stateChanged {
		return a.alertDB.PutAlert(ctx, repo.AlertUpdate{Key: AlertKey, Healthy: healthy, RoundID: d.RoundID})
	}
	return nil
}

func describe(d domain.Decision) string {
	route := "none"
	switch d.Phase {
	case domain.PhaseCommittedDirect:
		route = "direct"
	case domain.PhaseCommittedEngine:
		route = "engine"
	}
	text := fmt.Sprintf("Round: %s\nPhase: %s\nRoute: %s", d.RoundID, d.Phase, route)
	if d.WinningURL != "" {
		text += "\nURL: " + engine.Redact(d.WinningURL)
	}
	if d.Cause != "" {
		text += "\nCause: " + d.Cause
	}
	if d.EngineErr != "" {
		text += "\nEngine: " + d.EngineErr
	}
	if !d.DecidedAt.IsZero() {
		text += "\nDecided: " + d.DecidedAt.Format(time.RFC3339)
	}
	return text
}
