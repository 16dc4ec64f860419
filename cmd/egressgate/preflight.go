package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamed0406/egressgate/internal/config"
	"github.com/hamed0406/egressgate/internal/engine"
	"github.com/hamed0406/egressgate/internal/registry"
	"github.com/hamed0406/egressgate/internal/repo/postgres"
)

type severity int

const (
	sevOK severity = iota
	sevWarn
	sevFail
)

type finding struct {
	sev severity
	msg string
}

func (f finding) String() string {
	switch f.sev {
	case sevFail:
		return "✖ " + f.msg
	case sevWarn:
		return "⚠ " + f.msg
	default:
		return "✔ " + f.msg
	}
}

func newPreflightCmd(configPath *string) *cobra.Command {
	var pingDB bool
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Validate configuration and environment before deploying",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			cfg, err := config.Load(*configPath)
			if err != nil {
				fmt.Fprintln(out, finding{sevFail, err.Error()})
				return fmt.Errorf("preflight failed")
			}
			fs := preflight(cfg)
			if pingDB && cfg.Database.URL != "" {
				fs = append(fs, pingDatabase(cmd.Context(), cfg.Database.URL))
			}
			return report(out, fs)
		},
	}
	cmd.Flags().BoolVar(&pingDB, "ping-db", false, "connect to DATABASE_URL")
	return cmd
}

// preflight inspects an already validated config for deployment problems.
func preflight(cfg *config.Config) []finding {
	var fs []finding
	add := func(s severity, format string, args ...any) {
		fs = append(fs, finding{s, fmt.Sprintf(format, args...)})
	}

	add(sevOK, "server.addr=%s", cfg.Server.Addr)
	if reg, err := registry.FromLists(cfg.Candidates.Direct, cfg.Candidates.ProxySeeds); err != nil {
		add(sevFail, "candidates: %v", err)
	} else {
		add(sevOK, "%d direct candidate(s), %d proxy seed(s)", len(reg.Direct()), len(reg.Seeds()))
		for _, c := range reg.Seeds() {
			if strings.HasPrefix(c.URL, "http://") {
				add(sevWarn, "proxy seed %s is plain http; traffic to the proxy is unencrypted", engine.Redact(c.URL))
			}
		}
	}

	if len(cfg.Auth.AdminAPIKeys) == 0 {
		add(sevFail, "ADMIN_API_KEYS is empty (lifecycle routes are open).")
	}
	if len(cfg.Auth.PublicAPIKeys) == 0 {
		add(sevWarn, "PUBLIC_API_KEYS is empty; status routes accept admin keys only.")
	}
	for _, k := range append(append([]string{}, cfg.Auth.AdminAPIKeys...), cfg.Auth.PublicAPIKeys...) {
		if len(k) < 16 {
			add(sevWarn, "an API key is shorter than 16 characters")
			break
		}
	}

	if cfg.Database.URL == "" {
		add(sevWarn, "DATABASE_URL empty, journal is in-memory and lost on restart.")
	} else {
		add(sevOK, "DATABASE_URL present")
	}

	if len(cfg.Sync.FeedURLs) == 0 {
		add(sevWarn, "FEED_URLS empty, nothing will be synced after a commit.")
	} else {
		add(sevOK, "%d feed(s), sync every %s", len(cfg.Sync.FeedURLs), cfg.Sync.Interval())
	}
	for _, f := range cfg.Sync.FeedURLs {
		if !registry.IsValidHTTPURL(f) {
			add(sevFail, "feed %q is not an absolute http(s) url", f)
		}
	}

	if cfg.Alerts.SlackWebhook == "" {
		add(sevWarn, "SLACK_WEBHOOK empty, alerts go to the log only.")
	} else {
		add(sevOK, "Slack alerts enabled")
	}

	if cfg.Transport.TrustAllCerts {
		add(sevWarn, "TRUST_ALL_CERTS is on; certificate verification is disabled")
	}

	if err := checkWritable(cfg.Log.Dir); err != nil {
		add(sevFail, "log dir %s not writable: %v", cfg.Log.Dir, err)
	} else {
		add(sevOK, "log dir %s writable", cfg.Log.Dir)
	}
	return fs
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(filepath.Clean(name))
}

func pingDatabase(ctx context.Context, dsn string) finding {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := postgres.New(ctx, dsn, nil)
	if err != nil {
		return finding{sevFail, fmt.Sprintf("database unreachable: %v", err)}
	}
	st.Close()
	return finding{sevOK, "database reachable"}
}

func report(out io.Writer, fs []finding) error {
	failed := false
	for _, f := range fs {
		fmt.Fprintln(out, f)
		failed = failed || f.sev == sevFail
	}
	if failed {
		return fmt.Errorf("preflight failed")
	}
	fmt.Fprintln(out, finding{sevOK, "preflight passed"})
	return nil
}
