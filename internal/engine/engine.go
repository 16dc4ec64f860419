// Package engine owns the process-wide proxy engine. The reference is nil until a
// winning proxy seed has been committed and initialized.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/egressgate/internal/probe"
)

var (
	ErrUnsupportedScheme = probe.ErrUnsupportedScheme
	ErrClosed            = errors.New("engine: closed")
)

// Factory builds the transport that carries traffic through seedURL.
type Factory func(ctx context.Context, seedURL string) (http.RoundTripper, error)

// DefaultFactory dials http, https, socks5 and socks5h seeds with a proxy http.Transport.
func DefaultFactory(opts probe.TransportOptions) Factory {
	return func(ctx context.Context, seedURL string) (http.RoundTripper, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return probe.NewProxyTransport(seedURL, opts)
	}
}

// Ref is an initialized engine.
type Ref struct {
	URL       string
	Transport http.RoundTripper
	StartedAt time.Time
}

type Service struct {
	factory Factory
	log     *zap.Logger

	mu     sync.Mutex // serializes Initialize and Close
	closed bool
	cur    atomic.Pointer[Ref]
}

func New(f Factory, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{factory: f, log: log.With(zap.String("component", "engine"))}
}

// Initialize builds the engine for seedURL. Once an engine is running further calls
// return nil and keep the running one.
func (s *Service) Initialize(ctx context.Context, seedURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if cur := s.cur.Load(); cur != nil {
		if cur.URL != seedURL {
			s.log.Warn("engine_already_running", zap.String("running", Redact(cur.URL)), zap.String("requested", Redact(seedURL)))
		}
		return nil
	}
	if s.factory == nil {
		return fmt.Errorf("engine: no factory configured")
	}
	rt, err := s.factory(ctx, seedURL)
	if err != nil {
		return fmt.Errorf("engine: initialize %s: %w", Redact(seedURL), err)
	}
	s.cur.Store(&Ref{URL: seedURL, Transport: rt, StartedAt: time.Now().UTC()})
	s.log.Info("engine_started", zap.String("url", Redact(seedURL)))
	return nil
}

// Current returns the running engine or nil. Safe for concurrent use.
func (s *Service) Current() *Ref { return s.cur.Load() }

func (s *Service) Running() bool { return s.cur.Load() != nil }

// Close drops the engine and releases its connections.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	ref := s.cur.Swap(nil)
	if ref == nil {
		return nil
	}
	s.log.Info("engine_stopped", zap.String("url", Redact(ref.URL)))
	if c, ok := ref.Transport.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
	if c, ok := ref.Transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Redact hides seed credentials for logs and API output.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
