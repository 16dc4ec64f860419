// Package decision holds the single-writer state machine that turns probe events into
// one committed egress route.
package decision

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/egressgate/internal/domain"
	"github.com/hamed0406/egressgate/internal/events"
	"github.com/hamed0406/egressgate/internal/metrics"
)

// Engine is initialized with the winning non-direct URL. *engine.Service satisfies it.
type Engine interface {
	Initialize(ctx context.Context, url string) error
}

// Directory classifies candidate URLs. *registry.Registry satisfies it.
type Directory interface {
	IsDirect(url string) bool
}

// Observer is called with a snapshot after every transition, outside the lock.
type Observer func(domain.Decision)

type Options struct {
	Directory Directory
	Engine    Engine
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	// InitTimeout bounds one engine initialization; 0 means no bound.
	InitTimeout time.Duration
}

type State struct {
	opts Options
	log  *zap.Logger

	mu        sync.Mutex
	dec       domain.Decision
	observers []Observer

	ctx    context.Context
	cancel context.CancelFunc
	inits  sync.WaitGroup
}

func New(opts Options) *State {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &State{
		opts:   opts,
		log:    log.With(zap.String("component", "decision")),
		dec:    domain.Decision{Phase: domain.PhaseIdle},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Observe registers fn for every later transition.
func (s *State) Observe(fn Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *State) Snapshot() domain.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dec
}

func (s *State) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dec.Phase
}

// Begin enters Probing for id. It is a no-op returning false while a round is probing
// and once a direct route has been committed; direct stays for the process lifetime.
func (s *State) Begin(id domain.RoundID) bool {
	s.mu.Lock()
	if p := s.dec.Phase; p == domain.PhaseProbing || p == domain.PhaseCommittedDirect {
		current := s.dec.RoundID
		s.mu.Unlock()
		s.log.Debug("round_begin_ignored",
			zap.String("round_id", string(id)),
			zap.String("phase", string(p)),
			zap.String("current", string(current)))
		return false
	}
	s.dec = domain.Decision{
		Phase:     domain.PhaseProbing,
		RoundID:   id,
		StartedAt: time.Now().UTC(),
	}
	snap, obs := s.dec, s.observersLocked()
	s.mu.Unlock()

	s.opts.Metrics.SetPhase(snap.Phase)
	s.log.Info("decision_probing", zap.String("round_id", string(id)))
	notify(obs, snap)
	return true
}

// Handle routes a bus event to OnOutcome or OnRoundEnded.
func (s *State) Handle(ev events.Event) {
	switch ev.Kind {
	case events.ValidationSucceeded, events.ValidationFailed:
		s.OnOutcome(ev.Outcome)
	case events.ValidationEnded:
		s.OnRoundEnded(ev.Ended)
	default:
		s.log.Warn("event_unknown", zap.String("kind", string(ev.Kind)))
	}
}

func (s *State) OnOutcome(o domain.ProbeOutcome) {
	s.mu.Lock()
	if !s.acceptLocked(o.RoundID, "outcome", o.URL) {
		s.mu.Unlock()
		return
	}
	if !o.Valid() {
		s.mu.Unlock()
		s.log.Info("probe_invalid",
			zap.String("round_id", string(o.RoundID)),
			zap.String("url", o.URL),
			zap.String("cause", o.Cause),
		)
		return
	}

	direct := o.Kind == domain.KindDirect
	if s.opts.Directory != nil {
		direct = s.opts.Directory.IsDirect(o.URL)
	}
	s.dec.WinningURL = o.URL
	s.dec.DecidedAt = time.Now().UTC()
	if direct {
		s.dec.Phase = domain.PhaseCommittedDirect
	} else {
		s.dec.Phase = domain.PhaseCommittedEngine
		s.startInitLocked(o.RoundID, o.URL)
	}
	snap, obs := s.dec, s.observersLocked()
	s.mu.Unlock()

	s.opts.Metrics.SetPhase(snap.Phase)
	s.opts.Metrics.RecordRound(snap.Phase, snap.DecidedAt.Sub(snap.StartedAt))
	s.log.Info("decision_committed",
		zap.String("round_id", string(snap.RoundID)),
		zap.String("phase", string(snap.Phase)),
		zap.String("url", snap.WinningURL),
		zap.Float64("latency_ms", o.LatencyMS),
	)
	notify(obs, snap)
}

func (s *State) OnRoundEnded(e domain.ProbeRoundEnded) {
	s.mu.Lock()
	if !s.acceptLocked(e.RoundID, "round_ended", e.Cause) {
		s.mu.Unlock()
		return
	}
	s.dec.Phase = domain.PhaseEndedWithoutSuccess
	s.dec.Cause = e.Cause
	s.dec.DecidedAt = time.Now().UTC()
	snap, obs := s.dec, s.observersLocked()
	s.mu.Unlock()

	s.opts.Metrics.SetPhase(snap.Phase)
	s.opts.Metrics.RecordRound(snap.Phase, snap.DecidedAt.Sub(snap.StartedAt))
	s.log.Warn("decision_ended_without_success",
		zap.String("round_id", string(snap.RoundID)),
		zap.String("cause", snap.Cause),
	)
	notify(obs, snap)
}

// Wait blocks until pending engine initializations have finished.
func (s *State) Wait() { s.inits.Wait() }

// Close cancels pending engine initializations and waits for them. A committed
// decision is kept.
func (s *State) Close() {
	s.cancel()
	s.inits.Wait()
}

// acceptLocked reports whether an event of round id may change the state.
func (s *State) acceptLocked(id domain.RoundID, what, detail string) bool {
	switch {
	case s.dec.Phase == domain.PhaseIdle:
		s.log.Debug("event_ignored_idle", zap.String("event", what), zap.String("round_id", string(id)), zap.String("detail", detail))
		return false
	case id != s.dec.RoundID:
		s.log.Debug("event_ignored_stale_round", zap.String("event", what), zap.String("round_id", string(id)),
			zap.String("current", string(s.dec.RoundID)), zap.String("detail", detail))
		return false
	case s.dec.Phase != domain.PhaseProbing:
		s.log.Debug("event_ignored_already_decided", zap.String("event", what), zap.String("round_id", string(id)),
			zap.String("phase", string(s.dec.Phase)), zap.String("detail", detail))
		return false
	}
	return true
}

func (s *State) startInitLocked(id domain.RoundID, url string) {
	if s.opts.Engine == nil {
		return
	}
	s.inits.Add(1)
	go func() {
		defer s.inits.Done()
		ctx := s.ctx
		if s.opts.InitTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.InitTimeout)
			defer cancel()
		}
		err := s.opts.Engine.Initialize(ctx, url)
		s.opts.Metrics.RecordEngineInit(err)
		if err == nil {
			s.log.Info("engine_initialized", zap.String("round_id", string(id)), zap.String("url", url))
		} else {
			s.log.Error("engine_init_failed", zap.String("round_id", string(id)), zap.String("url", url), zap.Error(err))
		}

		s.mu.Lock()
		if s.dec.RoundID != id || s.dec.Phase != domain.PhaseCommittedEngine {
			s.mu.Unlock()
			return
		}
		if err != nil {
			s.dec.EngineErr = err.Error()
		} else {
			s.dec.EngineReady = true
		}
		snap, obs := s.dec, s.observersLocked()
		s.mu.Unlock()
		notify(obs, snap)
	}()
}

func (s *State) observersLocked() []Observer {
	if len(s.observers) == 0 {
		return nil
	}
	out := make([]Observer, len(s.observers))
	copy(out, s.observers)
	return out
}

func notify(obs []Observer, d domain.Decision) {
	for _, fn := range obs {
		fn(d)
	}
}
