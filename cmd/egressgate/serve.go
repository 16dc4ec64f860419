package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/egressgate/internal/httpapi"
	apimw "github.com/hamed0406/egressgate/internal/httpapi/middleware"
	"github.com/hamed0406/egressgate/internal/notify"
	"github.com/hamed0406/egressgate/internal/scheduler"
)

func newServeCmd(configPath *string) *cobra.Command {
	var hidden bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the egress service with its status API, feed sync and alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath, !hidden)
		},
	}
	cmd.Flags().BoolVar(&hidden, "start-hidden", false, "do not start a round until POST /api/lifecycle/visible")
	return cmd
}

func serve(ctx context.Context, configPath string, visible bool) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log, true)
	if err != nil {
		_ = log.Sync()
		return err
	}

	syncer := scheduler.NewSyncer(log.With(zap.String("component", "syncer")), a.client, cfg.Sync.FeedURLs, a.journal,
		cfg.Sync.Interval(), cfg.Sync.Timeout(), cfg.Sync.MaxInFlight)
	syncer.Metrics = a.metrics
	syncer.OnCommit = cfg.Sync.OnCommit

	alerter := scheduler.NewAlerter(a.journal,
		notify.NewMulti(notify.NewSlack(cfg.Alerts.SlackWebhook), notify.Log{Logger: log}),
		scheduler.AlerterConfig{AlertOnRecovery: true, Cooldown: cfg.Alerts.Cooldown()},
		log)

	recorder := &scheduler.Recorder{Outcomes: a.journal, Rounds: a.journal, Logger: log.With(zap.String("component", "journal"))}

	a.state.Observe(recorder.ObserveDecision)
	a.state.Observe(alerter.ObserveDecision)
	a.state.Observe(syncer.ObserveDecision)

	// workers stop with runCtx; the recorder subscribes before any round can publish
	runCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	recSub := a.bus.Subscribe(true)
	wg.Add(3)
	go func() { defer wg.Done(); recorder.Run(runCtx, recSub) }()
	go func() { defer wg.Done(); _ = alerter.Run(runCtx) }()
	go func() { defer wg.Done(); syncer.Run(runCtx) }()

	api := httpapi.NewServer(log, a.state, a.engine, a.registry, a.coord, a.journal)
	api.Metrics = a.metrics
	if a.pg != nil {
		api.Ping = a.pg.Ping
	}
	keys := apimw.Keys{Public: cfg.Auth.PublicAPIKeys, Admin: cfg.Auth.AdminAPIKeys}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Router(keys, cfg.Auth.PublicRPM, cfg.Auth.PublicBurst, cfg.Auth.AdminRPM, cfg.Auth.AdminBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if len(keys.Public) == 0 && len(keys.Admin) == 0 {
		log.Warn("api_auth_disabled")
	}
	log.Info("api_listen",
		zap.String("addr", cfg.Server.Addr),
		zap.Int("candidates", a.registry.Len()),
		zap.Int("feeds", len(cfg.Sync.FeedURLs)),
		zap.Bool("postgres", a.pg != nil),
	)

	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	if visible {
		if _, err := a.coord.OnVisible(context.WithoutCancel(ctx)); err != nil {
			log.Error("initial_round", zap.Error(err))
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown_signal")
	case runErr = <-srvErr:
		log.Error("api_server", zap.Error(runErr))
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	err = multierr.Combine(runErr, srv.Shutdown(shutCtx))
	cancel()
	wg.Wait()
	err = multierr.Append(err, a.Close())
	log.Info("shutdown_complete", zap.Error(err))
	return err
}
