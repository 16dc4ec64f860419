package scheduler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/egressgate/internal/domain"
	"github.com/hamed0406/egressgate/internal/gate"
	"github.com/hamed0406/egressgate/internal/metrics"
	"github.com/hamed0406/egressgate/internal/repo"
)

const maxDrain = 4 << 20

// Syncer fetches the configured feeds through the gated client, on an interval and
// whenever RequestSync is called. Requests refused by the gate are recorded as deferred.
type Syncer struct {
	Logger      *zap.Logger
	Client      *http.Client
	Feeds       []string
	Fetches     repo.FetchStore
	Metrics     *metrics.Metrics
	Interval    time.Duration
	Timeout     time.Duration
	Concurrency int
	// OnCommit requests a sync as soon as a usable route is committed.
	OnCommit bool

	trigger chan struct{}
}

// SyncSummary counts one pass.
type SyncSummary struct {
	OK       int
	Failed   int
	Deferred int
}

func NewSyncer(
	logger *zap.Logger,
	client *http.Client,
	feeds []string,
	fetches repo.FetchStore,
	interval time.Duration,
	timeout time.Duration,
	concurrency int,
) *Syncer {
	if concurrency < 1 {
		concurrency = 1
	}
	if interval < 0 {
		interval = 0
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Syncer{
		Logger:      logger,
		Client:      client,
		Feeds:       feeds,
		Fetches:     fetches,
		Interval:    interval,
		Timeout:     timeout,
		Concurrency: concurrency,
		trigger:     make(chan struct{}, 1),
	}
}

// RequestSync asks for a pass without blocking; requests made while one is pending coalesce.
func (s *Syncer) RequestSync() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// ObserveDecision is registered on the decision state.
func (s *Syncer) ObserveDecision(d domain.Decision) {
	if s.OnCommit && d.Usable() {
		s.RequestSync()
	}
}

// Run serves sync requests and, when Interval > 0, ticks. Stops when ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	var tick <-chan time.Time
	if s.Interval > 0 {
		t := time.NewTicker(s.Interval)
		defer t.Stop()
		tick = t.C
	} else {
		s.Logger.Info("syncer_interval_disabled")
	}

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("syncer_stopped")
			return
		case <-tick:
			s.RunOnce(ctx)
		case <-s.trigger:
			s.RunOnce(ctx)
		}
	}
}

func (s *Syncer) RunOnce(ctx context.Context) SyncSummary {
	var (
		mu  sync.Mutex
		sum SyncSummary
	)
	if len(s.Feeds) == 0 {
		return sum
	}

	sem := make(chan struct{}, s.Concurrency)
	var wg sync.WaitGroup

	for _, feed := range s.Feeds {
		u := feed
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() { <-sem }()
			defer wg.Done()

			fr := s.fetch(ctx, u)
			result := "failed"
			switch {
			case fr.OK:
				result = "ok"
			case fr.Deferred:
				result = "deferred"
			}
			s.Metrics.RecordFetch(result)

			mu.Lock()
			switch result {
			case "ok":
				sum.OK++
			case "deferred":
				sum.Deferred++
			default:
				sum.Failed++
			}
			mu.Unlock()

			if err := s.Fetches.AppendFetch(ctx, fr); err != nil {
				s.Logger.Warn("syncer_append_error", zap.String("url", u), zap.Error(err))
				return
			}
			s.Logger.Debug("syncer_fetched",
				zap.String("url", u),
				zap.String("result", result),
				zap.Int("status", fr.HTTPStatus),
				zap.Float64("latency_ms", fr.LatencyMS),
				zap.String("reason", fr.Reason),
			)
		}()
	}

	wg.Wait()
	s.Logger.Info("syncer_pass",
		zap.Int("ok", sum.OK),
		zap.Int("failed", sum.Failed),
		zap.Int("deferred", sum.Deferred),
	)
	return sum
}

func (s *Syncer) fetch(ctx context.Context, u string) *domain.FetchResult {
	cctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	fr := &domain.FetchResult{URL: u}
	start := time.Now()
	defer func() {
		fr.LatencyMS = float64(time.Since(start).Microseconds()) / 1000
		fr.FetchedAt = time.Now().UTC()
	}()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, u, nil)
	if err != nil {
		fr.Reason = err.Error()
		return fr
	}
	req.Header.Set("User-Agent", "egressgate-sync/1.0")

	resp, err := s.Client.Do(req)
	if err != nil {
		fr.Deferred = errors.Is(err, gate.ErrNotReady)
		fr.Reason = err.Error()
		return fr
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))

	fr.HTTPStatus = resp.StatusCode
	fr.Reason = resp.Status
	fr.OK = resp.StatusCode >= 200 && resp.StatusCode < 400
	return fr
}
