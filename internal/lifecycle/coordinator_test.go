package lifecycle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hamed0406/egressgate/internal/decision"
	"github.com/hamed0406/egressgate/internal/dispatch"
	"github.com/hamed0406/egressgate/internal/domain"
	"github.com/hamed0406/egressgate/internal/engine"
	"github.com/hamed0406/egressgate/internal/events"
	"github.com/hamed0406/egressgate/internal/gate"
	"github.com/hamed0406/egressgate/internal/probe"
	"github.com/hamed0406/egressgate/internal/registry"
)

// scripted answers each candidate from a table; missing entries fail.
type scripted struct {
	mu      sync.Mutex
	results map[string]bool
	hold    map[string]chan struct{}
}

func (s *scripted) Validate(ctx context.Context, c domain.Candidate) probe.CheckResult {
	s.mu.Lock()
	ok := s.results[c.URL]
	h := s.hold[c.URL]
	s.mu.Unlock()
	if h != nil {
		select {
		case <-h:
		case <-ctx.Done():
			return probe.CheckResult{Message: ctx.Err().Error()}
		}
	}
	if ok {
		return probe.CheckResult{Success: true, Message: "200 OK"}
	}
	return probe.CheckResult{Message: "connection refused"}
}

type countingDispatcher struct {
	*dispatch.Dispatcher
	starts atomic.Int32
}

func (d *countingDispatcher) Start(ctx context.Context, id domain.RoundID, cs []domain.Candidate) error {
	d.starts.Add(1)
	return d.Dispatcher.Start(ctx, id, cs)
}

type spyTransport struct{ calls atomic.Int32 }

func (s *spyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	s.calls.Add(1)
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("<rss/>")), Request: r}, nil
}

type harness struct {
	bus      *events.Bus
	state    *decision.State
	eng      *engine.Service
	disp     *countingDispatcher
	coord    *Coordinator
	client   *http.Client
	direct   *spyTransport
	proxied  *spyTransport
	seedURLs chan string
	val      *scripted
}

func newHarness(t *testing.T, direct, seeds []string, results map[string]bool) *harness {
	t.Helper()
	return newHarnessObserved(t, direct, seeds, results, nil)
}

// newHarnessObserved registers observe on the state before the coordinator's own observer.
func newHarnessObserved(t *testing.T, direct, seeds []string, results map[string]bool, observe decision.Observer) *harness {
	t.Helper()
	reg, err := registry.FromLists(direct, seeds)
	require.NoError(t, err)

	h := &harness{
		bus:      events.NewBus(),
		direct:   &spyTransport{},
		proxied:  &spyTransport{},
		seedURLs: make(chan string, 8),
		val:      &scripted{results: results, hold: map[string]chan struct{}{}},
	}
	h.eng = engine.New(func(_ context.Context, seed string) (http.RoundTripper, error) {
		h.seedURLs <- seed
		return h.proxied, nil
	}, nil)
	h.state = decision.New(decision.Options{Directory: reg, Engine: h.eng})
	if observe != nil {
		h.state.Observe(observe)
	}
	h.disp = &countingDispatcher{Dispatcher: dispatch.New(h.val, h.bus, dispatch.Options{RoundTimeout: 2 * time.Second})}

	n := 0
	h.coord = New(Options{
		Bus:        h.bus,
		State:      h.state,
		Dispatcher: h.disp,
		Engine:     h.eng,
		Candidates: reg,
		NewRoundID: func() domain.RoundID {
			n++
			return domain.RoundID(fmt.Sprintf("round-%d", n))
		},
	})
	h.client = gate.NewClient(gate.Options{Phase: h.state, Engine: h.eng, Direct: h.direct}, time.Second)
	t.Cleanup(func() {
		h.coord.Close()
		h.state.Close()
		h.bus.Close()
	})
	return h
}

func (h *harness) waitPhase(t *testing.T, p domain.Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return h.state.Phase() == p }, 2*time.Second, 5*time.Millisecond,
		"want phase %s, have %s", p, h.state.Phase())
}

func (h *harness) get(url string) error {
	resp, err := h.client.Get(url)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func TestScenario_EngineWinsWhenDirectFails(t *testing.T) {
	h := newHarness(t,
		[]string{"https://d1.test"},
		[]string{"http://p1.test:8080", "http://p2.test:8080"},
		map[string]bool{"http://p1.test:8080": true},
	)

	id, err := h.coord.OnVisible(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.RoundID("round-1"), id)

	h.waitPhase(t, domain.PhaseCommittedEngine)
	h.state.Wait()
	require.Equal(t, "http://p1.test:8080", <-h.seedURLs)
	require.Equal(t, "http://p1.test:8080", h.state.Snapshot().WinningURL)
	require.NotNil(t, h.eng.Current())

	require.NoError(t, h.get("http://feed.test/rss"))
	require.Equal(t, int32(1), h.proxied.calls.Load())
	require.Zero(t, h.direct.calls.Load())

	// Engine running: no new round.
	id, err = h.coord.OnVisible(context.Background())
	require.NoError(t, err)
	require.Empty(t, id)
	require.Equal(t, int32(1), h.disp.starts.Load())
}

func TestScenario_AllInvalidStaysNotReady(t *testing.T) {
	h := newHarness(t,
		[]string{"https://d1.test"},
		[]string{"http://p1.test:8080"},
		map[string]bool{},
	)

	_, err := h.coord.OnVisible(context.Background())
	require.NoError(t, err)
	h.waitPhase(t, domain.PhaseEndedWithoutSuccess)
	require.Equal(t, domain.CauseAllInvalid, h.state.Snapshot().Cause)

	require.ErrorIs(t, h.get("http://feed.test/rss"), gate.ErrNotReady)
	require.Zero(t, h.direct.calls.Load())
	require.Zero(t, h.proxied.calls.Load())
	require.Nil(t, h.eng.Current())

	// A later visibility change retries.
	id, err := h.coord.OnVisible(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.RoundID("round-2"), id)
	h.waitPhase(t, domain.PhaseEndedWithoutSuccess)
}

func TestScenario_DirectWinSuppressesLaterRounds(t *testing.T) {
	h := newHarness(t,
		[]string{"https://d1.test"},
		[]string{"http://p1.test:8080"},
		map[string]bool{"https://d1.test": true},
	)
	h.val.hold["http://p1.test:8080"] = make(chan struct{})

	_, err := h.coord.OnVisible(context.Background())
	require.NoError(t, err)
	h.waitPhase(t, domain.PhaseCommittedDirect)
	require.True(t, h.coord.DirectWorked())

	require.NoError(t, h.get("http://feed.test/rss"))
	require.Equal(t, int32(1), h.direct.calls.Load())
	require.Nil(t, h.eng.Current())

	for i := 0; i < 3; i++ {
		h.coord.OnHidden()
		id, err := h.coord.OnVisible(context.Background())
		require.NoError(t, err)
		require.Empty(t, id)
	}
	require.Equal(t, int32(1), h.disp.starts.Load())
	require.Nil(t, h.eng.Current())
	require.Len(t, h.seedURLs, 0)
}

func TestOnVisible_DirectCommitBeforeObserversRan(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	slow := func(d domain.Decision) {
		if d.Phase == domain.PhaseCommittedDirect {
			<-release
		}
	}
	h := newHarnessObserved(t, []string{"https://d1.test"}, nil, map[string]bool{"https://d1.test": true}, slow)
	t.Cleanup(func() { once.Do(func() { close(release) }) })

	first, err := h.coord.OnVisible(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, first)
	h.waitPhase(t, domain.PhaseCommittedDirect)
	require.False(t, h.coord.DirectWorked(), "coordinator observer must still be pending")

	id, err := h.coord.OnVisible(context.Background())
	require.NoError(t, err)
	require.Empty(t, id)
	require.Equal(t, int32(1), h.disp.starts.Load())
	require.Equal(t, domain.PhaseCommittedDirect, h.state.Phase())
	require.True(t, h.coord.DirectWorked())

	once.Do(func() { close(release) })
	require.NoError(t, h.get("http://feed.test/rss"))
	require.Equal(t, int32(1), h.direct.calls.Load())
}

func TestOnVisible_Idempotent(t *testing.T) {
	h := newHarness(t, []string{"https://d1.test"}, nil, map[string]bool{"https://d1.test": true})
	hold := make(chan struct{})
	h.val.hold["https://d1.test"] = hold

	first, err := h.coord.OnVisible(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, first)
	for i := 0; i < 5; i++ {
		id, err := h.coord.OnVisible(context.Background())
		require.NoError(t, err)
		require.Empty(t, id)
	}
	require.Equal(t, int32(1), h.disp.starts.Load())
	require.Equal(t, 1, h.bus.Subscribers())
	require.Equal(t, domain.PhaseProbing, h.state.Phase())

	close(hold)
	h.waitPhase(t, domain.PhaseCommittedDirect)
}

func TestOnHidden_ResultHonouredOnReturn(t *testing.T) {
	h := newHarness(t, nil, []string{"http://p1.test:8080"}, map[string]bool{"http://p1.test:8080": true})
	hold := make(chan struct{})
	h.val.hold["http://p1.test:8080"] = hold

	_, err := h.coord.OnVisible(context.Background())
	require.NoError(t, err)
	h.coord.OnHidden()
	require.False(t, h.coord.Subscribed())
	require.Zero(t, h.bus.Subscribers())

	close(hold)
	require.Eventually(t, func() bool { return !h.disp.Active("round-1") }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, domain.PhaseProbing, h.state.Phase())

	id, err := h.coord.OnVisible(context.Background())
	require.NoError(t, err)
	require.Empty(t, id)
	h.waitPhase(t, domain.PhaseCommittedEngine)
	require.Equal(t, "http://p1.test:8080", h.state.Snapshot().WinningURL)
}

func TestClose_KeepsCommittedDecision(t *testing.T) {
	h := newHarness(t, []string{"https://d1.test"}, []string{"http://p1.test:8080"},
		map[string]bool{"https://d1.test": true})
	h.val.hold["http://p1.test:8080"] = make(chan struct{})

	_, err := h.coord.OnVisible(context.Background())
	require.NoError(t, err)
	h.waitPhase(t, domain.PhaseCommittedDirect)

	h.coord.Close()
	require.False(t, h.coord.Subscribed())
	require.False(t, h.disp.Active("round-1"))
	require.Equal(t, domain.PhaseCommittedDirect, h.state.Phase())

	_, err = h.coord.OnVisible(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestOnVisible_StartFailureEndsRound(t *testing.T) {
	h := newHarness(t, []string{"https://d1.test"}, nil, map[string]bool{})
	h.disp.Close()

	_, err := h.coord.OnVisible(context.Background())
	require.ErrorIs(t, err, dispatch.ErrClosed)
	require.Equal(t, domain.PhaseEndedWithoutSuccess, h.state.Phase())
}
