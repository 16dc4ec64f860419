// Package gate provides the HTTP client the rest of the application uses. No request
// leaves the process until an egress route has been committed.
package gate

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/egressgate/internal/domain"
	"github.com/hamed0406/egressgate/internal/engine"
	"github.com/hamed0406/egressgate/internal/metrics"
)

// ErrNotReady is returned, wrapped, for every request made before a usable route exists.
var ErrNotReady = errors.New("egress not ready")

// PhaseSource reports the current decision phase. *decision.State satisfies it.
type PhaseSource interface {
	Phase() domain.Phase
}

// EngineSource returns the running engine or nil. *engine.Service satisfies it.
type EngineSource interface {
	Current() *engine.Ref
}

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Middleware wraps a transport.
type Middleware func(next http.RoundTripper) http.RoundTripper

// Chain applies mws around base; the first middleware sees the request first.
func Chain(base http.RoundTripper, mws ...Middleware) http.RoundTripper {
	rt := base
	for i := len(mws) - 1; i >= 0; i-- {
		rt = mws[i](rt)
	}
	return rt
}

type Options struct {
	Phase  PhaseSource
	Engine EngineSource
	// Direct carries CommittedDirect traffic; defaults to http.DefaultTransport.
	Direct  http.RoundTripper
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// NewTransport builds the readiness -> route chain over opts.Direct.
func NewTransport(opts Options) http.RoundTripper {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "gate"))
	direct := opts.Direct
	if direct == nil {
		direct = http.DefaultTransport
	}
	return Chain(direct,
		Readiness(opts.Phase, log, opts.Metrics),
		Route(opts.Phase, opts.Engine, log, opts.Metrics),
	)
}

// NewClient returns an *http.Client over NewTransport. It may be built before any
// decision exists; the route is chosen per request.
func NewClient(opts Options, timeout time.Duration) *http.Client {
	return &http.Client{Transport: NewTransport(opts), Timeout: timeout}
}

// Readiness fails requests without I/O unless a route has been committed.
func Readiness(ps PhaseSource, log *zap.Logger, m *metrics.Metrics) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			p := ps.Phase()
			if !p.IsCommitted() {
				return notReady(r, log, m, "phase "+p.String())
			}
			return next.RoundTrip(r)
		})
	}
}

// Route sends CommittedDirect traffic to next and CommittedEngine traffic through the engine.
func Route(ps PhaseSource, es EngineSource, log *zap.Logger, m *metrics.Metrics) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			switch p := ps.Phase(); p {
			case domain.PhaseCommittedDirect:
				m.RecordGate("direct")
				return next.RoundTrip(r)
			case domain.PhaseCommittedEngine:
				var ref *engine.Ref
				if es != nil {
					ref = es.Current()
				}
				if ref == nil || ref.Transport == nil {
					return notReady(r, log, m, "engine not running")
				}
				m.RecordGate("engine")
				return ref.Transport.RoundTrip(r)
			default:
				return notReady(r, log, m, "phase "+p.String())
			}
		})
	}
}

func notReady(r *http.Request, log *zap.Logger, m *metrics.Metrics, why string) (*http.Response, error) {
	if r.Body != nil {
		_ = r.Body.Close()
	}
	m.RecordGate("not_ready")
	log.Debug("gate_not_ready", zap.String("host", r.URL.Host), zap.String("reason", why))
	return nil, fmt.Errorf("%w: %s", ErrNotReady, why)
}
