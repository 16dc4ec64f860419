// Package dispatch races one validation per candidate and reports every result on
// the event bus, followed by exactly one round-ended event.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/egressgate/internal/domain"
	"github.com/hamed0406/egressgate/internal/events"
	"github.com/hamed0406/egressgate/internal/metrics"
	"github.com/hamed0406/egressgate/internal/probe"
	"github.com/hamed0406/egressgate/internal/registry"
)

var (
	ErrRoundActive = errors.New("dispatch: round already running")
	ErrClosed      = errors.New("dispatch: dispatcher closed")

	errDecided   = errors.New(domain.CauseDecided)
	errTimeout   = errors.New(domain.CauseTimeout)
	errCancelled = errors.New(domain.CauseCancelled)
)

// Validator checks a single candidate. *probe.Validator satisfies it.
type Validator interface {
	Validate(ctx context.Context, c domain.Candidate) probe.CheckResult
}

// Publisher receives the round's events. *events.Bus satisfies it.
type Publisher interface {
	Publish(ev events.Event)
}

type Options struct {
	// ProbeTimeout bounds each candidate; 0 means only the round timeout applies.
	ProbeTimeout time.Duration
	// RoundTimeout bounds the whole round; 0 disables it.
	RoundTimeout time.Duration
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

type Dispatcher struct {
	validator Validator
	pub       Publisher
	opts      Options
	log       *zap.Logger

	mu     sync.Mutex
	rounds map[domain.RoundID]*round
	closed bool
	wg     sync.WaitGroup
}

type round struct {
	id       domain.RoundID
	cancel   context.CancelCauseFunc
	sawValid atomic.Bool
}

type probeResult struct {
	idx     int
	res     probe.CheckResult
	elapsed time.Duration
	at      time.Time
}

func New(v Validator, pub Publisher, opts Options) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		validator: v,
		pub:       pub,
		opts:      opts,
		log:       log.With(zap.String("component", "dispatch")),
		rounds:    make(map[domain.RoundID]*round),
	}
}

// Start launches the round and returns immediately. Events arrive on the publisher.
func (d *Dispatcher) Start(ctx context.Context, id domain.RoundID, candidates []domain.Candidate) error {
	if len(candidates) == 0 {
		return registry.ErrNoCandidates
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if _, ok := d.rounds[id]; ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRoundActive, id)
	}
	rctx, cancel := context.WithCancelCause(ctx)
	r := &round{id: id, cancel: cancel}
	d.rounds[id] = r
	d.wg.Add(1)
	d.mu.Unlock()

	cs := make([]domain.Candidate, len(candidates))
	copy(cs, candidates)

	d.log.Info("round_started", zap.String("round_id", string(id)), zap.Int("candidates", len(cs)))
	go d.run(ctx, rctx, r, cs)
	return nil
}

// MarkDecided cancels the probes still running for id. It reports whether the round was active.
func (d *Dispatcher) MarkDecided(id domain.RoundID) bool {
	d.mu.Lock()
	r, ok := d.rounds[id]
	d.mu.Unlock()
	if !ok {
		return false
	}
	r.cancel(errDecided)
	return true
}

// Active reports whether id is still running.
func (d *Dispatcher) Active(id domain.RoundID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.rounds[id]
	return ok
}

// Close cancels every running round and waits for their round-ended events.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	for _, r := range d.rounds {
		r.cancel(errCancelled)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run(host, rctx context.Context, r *round, cs []domain.Candidate) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.rounds, r.id)
		d.mu.Unlock()
		r.cancel(nil)
	}()

	var stop context.CancelFunc = func() {}
	if d.opts.RoundTimeout > 0 {
		rctx, stop = context.WithTimeoutCause(rctx, d.opts.RoundTimeout, errTimeout)
	}
	defer stop()

	started := time.Now()
	results := make(chan probeResult, len(cs))
	for i, c := range cs {
		go d.probeOne(rctx, i, c, results)
	}

	reported := make([]bool, len(cs))
	pending := len(cs)
	take := func(pr probeResult) {
		reported[pr.idx] = true
		pending--
		d.publishOutcome(r, cs[pr.idx], pr)
	}
collect:
	for pending > 0 {
		select {
		case pr := <-results:
			take(pr)
		case <-rctx.Done():
			break collect
		}
	}
	// results already buffered when the round context ended are real outcomes
drain:
	for pending > 0 {
		select {
		case pr := <-results:
			take(pr)
		default:
			break drain
		}
	}

	// Probes that did not report before the round context ended still get exactly one outcome.
	if pending > 0 {
		cause := causeOf(host, rctx)
		now := time.Now().UTC()
		for i, c := range cs {
			if reported[i] {
				continue
			}
			d.publishOutcome(r, c, probeResult{
				idx:     i,
				res:     probe.CheckResult{Name: "ROUND", Message: cause},
				elapsed: now.Sub(started),
				at:      now,
			})
		}
	}

	ended := domain.ProbeRoundEnded{RoundID: r.id, Cause: d.endCause(host, rctx, r), EndedAt: time.Now().UTC()}
	d.log.Info("round_ended",
		zap.String("round_id", string(r.id)),
		zap.String("cause", ended.Cause),
		zap.Duration("elapsed", time.Since(started)),
	)
	d.pub.Publish(events.FromEnded(ended))
}

func (d *Dispatcher) probeOne(rctx context.Context, idx int, c domain.Candidate, out chan<- probeResult) {
	pctx := rctx
	if d.opts.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(rctx, d.opts.ProbeTimeout)
		defer cancel()
	}
	start := time.Now()
	res := d.safeValidate(pctx, c)
	out <- probeResult{idx: idx, res: res, elapsed: time.Since(start), at: time.Now().UTC()}
}

func (d *Dispatcher) safeValidate(ctx context.Context, c domain.Candidate) (res probe.CheckResult) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("probe_panic", zap.String("url", c.URL), zap.Any("panic", p))
			res = probe.CheckResult{Name: "PANIC", Message: fmt.Sprintf("probe panic: %v", p)}
		}
	}()
	return d.validator.Validate(ctx, c)
}

func (d *Dispatcher) publishOutcome(r *round, c domain.Candidate, pr probeResult) {
	o := domain.ProbeOutcome{
		RoundID:   r.id,
		URL:       c.URL,
		Kind:      c.Kind,
		Result:    domain.ResultInvalid,
		LatencyMS: float64(pr.elapsed.Microseconds()) / 1000,
		CheckedAt: pr.at,
	}
	if pr.res.Success {
		o.Result = domain.ResultValid
		r.sawValid.Store(true)
	} else {
		o.Cause = pr.res.Message
		if o.Cause == "" {
			o.Cause = "probe failed"
		}
	}
	d.opts.Metrics.RecordProbe(o)
	d.log.Debug("probe_outcome",
		zap.String("round_id", string(r.id)),
		zap.String("url", o.URL),
		zap.String("kind", string(o.Kind)),
		zap.String("result", string(o.Result)),
		zap.String("cause", o.Cause),
		zap.Float64("latency_ms", o.LatencyMS),
	)
	d.pub.Publish(events.FromOutcome(o))
}

func (d *Dispatcher) endCause(host, rctx context.Context, r *round) string {
	if r.sawValid.Load() {
		return domain.CauseDecided
	}
	if rctx.Err() == nil {
		return domain.CauseAllInvalid
	}
	return causeOf(host, rctx)
}

func causeOf(host, rctx context.Context) string {
	if host.Err() != nil {
		return domain.CauseCancelled
	}
	switch c := context.Cause(rctx); {
	case errors.Is(c, errDecided):
		return domain.CauseDecided
	case errors.Is(c, errTimeout):
		return domain.CauseTimeout
	default:
		return domain.CauseCancelled
	}
}
