// Package lifecycle ties the probe rounds to host visibility. The host calls OnVisible
// when it comes to the foreground and OnHidden when it leaves; the coordinator decides
// whether a new round is needed and keeps the decision state fed with bus events.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamed0406/egressgate/internal/decision"
	"github.com/hamed0406/egressgate/internal/domain"
	"github.com/hamed0406/egressgate/internal/events"
)

var ErrClosed = errors.New("lifecycle: coordinator closed")

// Dispatcher runs rounds. *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Start(ctx context.Context, id domain.RoundID, candidates []domain.Candidate) error
	MarkDecided(id domain.RoundID) bool
	Close()
}

// EngineStatus reports whether a proxy engine is running. *engine.Service satisfies it.
type EngineStatus interface {
	Running() bool
}

// Candidates supplies the candidates of each new round. *registry.Registry satisfies it.
type Candidates interface {
	Candidates() []domain.Candidate
}

type Options struct {
	Bus        *events.Bus
	State      *decision.State
	Dispatcher Dispatcher
	Engine     EngineStatus
	Candidates Candidates
	Logger     *zap.Logger
	// NewRoundID defaults to a random UUID.
	NewRoundID func() domain.RoundID
}

type Coordinator struct {
	opts Options
	log  *zap.Logger

	directWorked atomic.Bool

	mu       sync.Mutex
	sub      *events.Subscription
	consumed chan struct{}
	closed   bool
}

func New(opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.NewRoundID == nil {
		opts.NewRoundID = func() domain.RoundID { return domain.RoundID(uuid.NewString()) }
	}
	c := &Coordinator{opts: opts, log: log.With(zap.String("component", "lifecycle"))}
	opts.State.Observe(c.onDecision)
	return c
}

// OnVisible subscribes to the bus if needed and starts a round unless direct already
// won in this process, an engine is running, or a round is probing. It returns the id
// of the round it started, or "" when none was needed.
func (c *Coordinator) OnVisible(ctx context.Context) (domain.RoundID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}
	if c.sub == nil {
		c.subscribeLocked()
	}

	snap := c.opts.State.Snapshot()
	switch {
	case c.directWorked.Load():
		c.log.Debug("round_skipped", zap.String("reason", "direct_won"))
		return "", nil
	case snap.Phase == domain.PhaseCommittedDirect:
		// committed, observer not run yet
		c.directWorked.Store(true)
		c.log.Debug("round_skipped", zap.String("reason", "direct_won"))
		return "", nil
	case c.opts.Engine != nil && c.opts.Engine.Running():
		c.log.Debug("round_skipped", zap.String("reason", "engine_running"))
		return "", nil
	case snap.Phase == domain.PhaseCommittedEngine && snap.EngineErr == "":
		c.log.Debug("round_skipped", zap.String("reason", "engine_starting"))
		return "", nil
	}

	id := c.opts.NewRoundID()
	if !c.opts.State.Begin(id) {
		c.log.Debug("round_skipped", zap.String("reason", "probing"))
		return "", nil
	}
	if err := c.opts.Dispatcher.Start(ctx, id, c.opts.Candidates.Candidates()); err != nil {
		c.opts.State.OnRoundEnded(domain.ProbeRoundEnded{RoundID: id, Cause: "start failed"})
		return "", fmt.Errorf("start round %s: %w", id, err)
	}
	return id, nil
}

// OnHidden stops listening without cancelling the running round; its events are
// applied on the next OnVisible.
func (c *Coordinator) OnHidden() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribeLocked()
}

// Close unsubscribes and cancels outstanding probes. A committed decision is kept.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.unsubscribeLocked()
	c.mu.Unlock()

	c.opts.Dispatcher.Close()
}

// Subscribed reports whether the coordinator is listening to the bus.
func (c *Coordinator) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub != nil
}

// DirectWorked reports whether a direct candidate has won during this process.
func (c *Coordinator) DirectWorked() bool { return c.directWorked.Load() }

// subscribeLocked applies the events the current round published while nobody was
// listening before handing the subscription to the consumer goroutine.
func (c *Coordinator) subscribeLocked() {
	sub, backlog := c.opts.Bus.SubscribeWithBacklog()
	for _, ev := range backlog {
		c.opts.State.Handle(ev)
	}
	done := make(chan struct{})
	c.sub, c.consumed = sub, done
	go func() {
		defer close(done)
		for ev := range sub.C() {
			c.opts.State.Handle(ev)
		}
	}()
	c.log.Debug("bus_subscribed")
}

func (c *Coordinator) unsubscribeLocked() {
	if c.sub == nil {
		return
	}
	c.sub.Unsubscribe()
	<-c.consumed
	c.sub, c.consumed = nil, nil
	c.log.Debug("bus_unsubscribed")
}

func (c *Coordinator) onDecision(d domain.Decision) {
	if !d.Phase.IsCommitted() || d.EngineErr != "" {
		return
	}
	if d.Phase == domain.PhaseCommittedDirect {
		c.directWorked.Store(true)
	}
	c.opts.Dispatcher.MarkDecided(d.RoundID)
}
