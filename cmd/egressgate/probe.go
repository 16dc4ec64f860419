package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/egressgate/internal/domain"
	"github.com/hamed0406/egressgate/internal/engine"
)

var errNoRoute = errors.New("no usable egress route")

func newProbeCmd(configPath *string) *cobra.Command {
	var fetch string
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run one probing round, print the winner and optionally fetch a URL through it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			return closeAfter(a, func() error {
				return runProbe(cmd.Context(), a, fetch, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&fetch, "fetch", "", "URL to GET through the gated client once a route is committed")
	return cmd
}

// closeAfter runs fn and then closes a, keeping both errors.
func closeAfter(a *app, fn func() error) (err error) {
	defer func() { err = multierr.Append(err, a.Close()) }()
	return fn()
}

// runProbe starts one round and waits until the route is usable or known to be unusable.
func runProbe(ctx context.Context, a *app, fetch string, out io.Writer) error {
	// a fresh process runs a single round, so any settled snapshot belongs to it
	final := make(chan domain.Decision, 1)
	a.state.Observe(func(d domain.Decision) {
		if d.Usable() || d.Phase == domain.PhaseEndedWithoutSuccess || d.EngineErr != "" {
			select {
			case final <- d:
			default:
			}
		}
	})

	id, err := a.coord.OnVisible(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "round %s: probing %d candidates\n", id, a.registry.Len())

	wait := a.cfg.Probe.RoundTimeout() + a.cfg.Engine.InitTimeout() + 5*time.Second
	var d domain.Decision
	select {
	case d = <-final:
	case <-time.After(wait):
		d = a.state.Snapshot()
	case <-ctx.Done():
		return ctx.Err()
	}

	fmt.Fprintf(out, "phase:  %s\n", d.Phase)
	if d.WinningURL != "" {
		fmt.Fprintf(out, "winner: %s\n", engine.Redact(d.WinningURL))
	}
	if d.Cause != "" {
		fmt.Fprintf(out, "cause:  %s\n", d.Cause)
	}
	if d.EngineErr != "" {
		fmt.Fprintf(out, "engine: %s\n", d.EngineErr)
	}
	if !d.Usable() {
		return errNoRoute
	}
	if fetch == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetch, nil)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", fetch, err)
	}
	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", fetch, err)
	}
	defer resp.Body.Close()
	n, _ := io.Copy(io.Discard, resp.Body)
	a.log.Info("probe_fetch", zap.String("url", fetch), zap.Int("status", resp.StatusCode), zap.Int64("bytes", n))
	fmt.Fprintf(out, "fetch:  %s %d (%d bytes, %s)\n", fetch, resp.StatusCode, n, time.Since(start).Round(time.Millisecond))
	return nil
}
