package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/hamed0406/egressgate/internal/config"
	"github.com/hamed0406/egressgate/internal/decision"
	"github.com/hamed0406/egressgate/internal/dispatch"
	"github.com/hamed0406/egressgate/internal/engine"
	"github.com/hamed0406/egressgate/internal/events"
	"github.com/hamed0406/egressgate/internal/gate"
	"github.com/hamed0406/egressgate/internal/lifecycle"
	"github.com/hamed0406/egressgate/internal/logging"
	"github.com/hamed0406/egressgate/internal/metrics"
	"github.com/hamed0406/egressgate/internal/probe"
	"github.com/hamed0406/egressgate/internal/registry"
	"github.com/hamed0406/egressgate/internal/repo"
	"github.com/hamed0406/egressgate/internal/repo/memory"
	"github.com/hamed0406/egressgate/internal/repo/postgres"
)

// app holds the wired egress components shared by serve and probe.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics

	registry   *registry.Registry
	bus        *events.Bus
	engine     *engine.Service
	state      *decision.State
	dispatcher *dispatch.Dispatcher
	coord      *lifecycle.Coordinator
	// client is the gated client handed to everything that talks to the network.
	client *http.Client

	journal repo.Journal
	pg      *postgres.Store
}

func loadConfig(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.NewLogger(logging.Options{Dir: cfg.Log.Dir, Level: cfg.Log.Level, Console: cfg.Log.Console})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, log, nil
}

func transportOptions(cfg *config.Config) probe.TransportOptions {
	return probe.TransportOptions{
		ConnectTimeout:     cfg.Transport.ConnectTimeout(),
		ReadTimeout:        cfg.Transport.ReadTimeout(),
		InsecureSkipVerify: cfg.Transport.TrustAllCerts,
	}
}

// newApp wires registry -> dispatcher -> decision state -> engine -> gate. With
// useDatabase and a configured database URL the journal is postgres, otherwise memory.
func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger, useDatabase bool) (*app, error) {
	reg, err := registry.FromLists(cfg.Candidates.Direct, cfg.Candidates.ProxySeeds)
	if err != nil {
		return nil, fmt.Errorf("candidates: %w", err)
	}

	a := &app{cfg: cfg, log: log, metrics: metrics.New(), registry: reg, bus: events.NewBus()}

	if useDatabase && cfg.Database.URL != "" {
		pg, err := postgres.New(ctx, cfg.Database.URL, log)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		a.pg, a.journal = pg, pg
	} else {
		a.journal = memory.New()
	}

	topts := transportOptions(cfg)
	vcfg := probe.ValidatorConfig{
		Timeout:     cfg.Probe.Timeout(),
		ProbeTarget: cfg.Probe.Target,
		Attempts:    cfg.Probe.RetryAttempts,
		Backoff:     cfg.Probe.RetryBackoff(),
		Transport:   topts,
	}
	validator := probe.NewValidator(vcfg)

	a.engine = engine.New(engine.DefaultFactory(topts), log)
	a.state = decision.New(decision.Options{
		Directory:   reg,
		Engine:      a.engine,
		Logger:      log,
		Metrics:     a.metrics,
		InitTimeout: cfg.Engine.InitTimeout(),
	})
	a.dispatcher = dispatch.New(validator, a.bus, dispatch.Options{
		ProbeTimeout: vcfg.CandidateBudget(),
		RoundTimeout: cfg.Probe.RoundTimeout(),
		Logger:       log,
		Metrics:      a.metrics,
	})
	a.coord = lifecycle.New(lifecycle.Options{
		Bus:        a.bus,
		State:      a.state,
		Dispatcher: a.dispatcher,
		Engine:     a.engine,
		Candidates: reg,
		Logger:     log,
	})
	a.client = gate.NewClient(gate.Options{
		Phase:   a.state,
		Engine:  a.engine,
		Direct:  probe.NewDirectTransport(topts),
		Logger:  log,
		Metrics: a.metrics,
	}, cfg.Sync.Timeout())
	return a, nil
}

// Close stops probing and releases the engine. A committed decision is left as is.
func (a *app) Close() error {
	a.coord.Close()
	a.state.Close()
	a.bus.Close()
	err := a.engine.Close()
	if a.pg != nil {
		a.pg.Close()
	}
	_ = a.log.Sync()
	return err
}
