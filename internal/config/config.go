package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"     yaml:"server"`
	Log        LogConfig        `mapstructure:"log"        yaml:"log"`
	Database   DatabaseConfig   `mapstructure:"database"   yaml:"database"`
	Candidates CandidatesConfig `mapstructure:"candidates" yaml:"candidates"`
	Probe      ProbeConfig      `mapstructure:"probe"      yaml:"probe"`
	Transport  TransportConfig  `mapstructure:"transport"  yaml:"transport"`
	Engine     EngineConfig     `mapstructure:"engine"     yaml:"engine"`
	Sync       SyncConfig       `mapstructure:"sync"       yaml:"sync"`
	Alerts     AlertsConfig     `mapstructure:"alerts"     yaml:"alerts"`
	Auth       AuthConfig       `mapstructure:"auth"       yaml:"auth"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"` // e.g. "127.0.0.1:8080" or ":8080" in Docker
}

type LogConfig struct {
	Dir     string `mapstructure:"dir"     yaml:"dir"`
	Level   string `mapstructure:"level"   yaml:"level"`
	Console bool   `mapstructure:"console" yaml:"console"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"` // empty means in-memory store
}

// CandidatesConfig lists egress candidates; direct URLs are probed before proxy seeds.
type CandidatesConfig struct {
	Direct     []string `mapstructure:"direct"      yaml:"direct"`
	ProxySeeds []string `mapstructure:"proxy_seeds" yaml:"proxy_seeds"`
}

type ProbeConfig struct {
	TimeoutMS      int    `mapstructure:"timeout_ms"       yaml:"timeout_ms"`
	RoundTimeoutMS int    `mapstructure:"round_timeout_ms" yaml:"round_timeout_ms"`
	Target         string `mapstructure:"target"           yaml:"target"`
	RetryAttempts  int    `mapstructure:"retry_attempts"   yaml:"retry_attempts"`
	RetryBackoffMS int    `mapstructure:"retry_backoff_ms" yaml:"retry_backoff_ms"`
}

type TransportConfig struct {
	ConnectTimeoutMS int  `mapstructure:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	ReadTimeoutMS    int  `mapstructure:"read_timeout_ms"    yaml:"read_timeout_ms"`
	TrustAllCerts    bool `mapstructure:"trust_all_certs"    yaml:"trust_all_certs"`
}

type EngineConfig struct {
	InitTimeoutMS int `mapstructure:"init_timeout_ms" yaml:"init_timeout_ms"`
}

type SyncConfig struct {
	FeedURLs    []string `mapstructure:"feed_urls"     yaml:"feed_urls"`
	IntervalMS  int      `mapstructure:"interval_ms"   yaml:"interval_ms"` // 0 disables the periodic sync
	OnCommit    bool     `mapstructure:"on_commit"     yaml:"on_commit"`
	TimeoutMS   int      `mapstructure:"timeout_ms"    yaml:"timeout_ms"`
	MaxInFlight int      `mapstructure:"max_in_flight" yaml:"max_in_flight"`
}

type AlertsConfig struct {
	SlackWebhook string `mapstructure:"slack_webhook" yaml:"slack_webhook"`
	CooldownMS   int    `mapstructure:"cooldown_ms"   yaml:"cooldown_ms"`
}

type AuthConfig struct {
	PublicAPIKeys []string `mapstructure:"public_api_keys" yaml:"public_api_keys"`
	AdminAPIKeys  []string `mapstructure:"admin_api_keys"  yaml:"admin_api_keys"`
	PublicRPM     int      `mapstructure:"public_rpm"      yaml:"public_rpm"`
	PublicBurst   int      `mapstructure:"public_burst"    yaml:"public_burst"`
	AdminRPM      int      `mapstructure:"admin_rpm"       yaml:"admin_rpm"`
	AdminBurst    int      `mapstructure:"admin_burst"     yaml:"admin_burst"`
}

// envAliases keeps the short environment names working next to the nested keys.
var envAliases = map[string]string{
	"server.addr":                  "API_ADDR",
	"log.dir":                      "LOG_DIR",
	"log.level":                    "LOG_LEVEL",
	"log.console":                  "LOG_CONSOLE",
	"database.url":                 "DATABASE_URL",
	"candidates.direct":            "DIRECT_URLS",
	"candidates.proxy_seeds":       "PROXY_SEEDS",
	"probe.timeout_ms":             "PROBE_TIMEOUT_MS",
	"probe.round_timeout_ms":       "ROUND_TIMEOUT_MS",
	"probe.target":                 "PROBE_TARGET",
	"probe.retry_attempts":         "RETRY_ATTEMPTS",
	"probe.retry_backoff_ms":       "RETRY_BACKOFF_MS",
	"transport.connect_timeout_ms": "CONNECT_TIMEOUT_MS",
	"transport.read_timeout_ms":    "READ_TIMEOUT_MS",
	"transport.trust_all_certs":    "TRUST_ALL_CERTS",
	"engine.init_timeout_ms":       "ENGINE_INIT_TIMEOUT_MS",
	"sync.feed_urls":               "FEED_URLS",
	"sync.interval_ms":             "SYNC_INTERVAL_MS",
	"sync.on_commit":               "SYNC_ON_COMMIT",
	"sync.timeout_ms":              "SYNC_TIMEOUT_MS",
	"sync.max_in_flight":           "MAX_CONCURRENT_FETCHES",
	"alerts.slack_webhook":         "SLACK_WEBHOOK",
	"alerts.cooldown_ms":           "ALERT_COOLDOWN_MS",
	"auth.public_api_keys":         "PUBLIC_API_KEYS",
	"auth.admin_api_keys":          "ADMIN_API_KEYS",
	"auth.public_rpm":              "PUBLIC_RPM",
	"auth.public_burst":            "PUBLIC_BURST",
	"auth.admin_rpm":               "ADMIN_RPM",
	"auth.admin_burst":             "ADMIN_BURST",
}

// Load reads configPath when it is non-empty, then applies environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EGRESSGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, "EGRESSGATE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8080")

	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", false)

	v.SetDefault("database.url", "")

	v.SetDefault("candidates.direct", []string{})
	v.SetDefault("candidates.proxy_seeds", []string{})

	v.SetDefault("probe.timeout_ms", 10000)
	v.SetDefault("probe.round_timeout_ms", 30000)
	v.SetDefault("probe.target", "https://www.google.com/generate_204")
	v.SetDefault("probe.retry_attempts", 2)
	v.SetDefault("probe.retry_backoff_ms", 300)

	v.SetDefault("transport.connect_timeout_ms", 30000)
	v.SetDefault("transport.read_timeout_ms", 30000)
	v.SetDefault("transport.trust_all_certs", false)

	v.SetDefault("engine.init_timeout_ms", 60000)

	v.SetDefault("sync.feed_urls", []string{})
	v.SetDefault("sync.interval_ms", 15*60*1000)
	v.SetDefault("sync.on_commit", true)
	v.SetDefault("sync.timeout_ms", 20000)
	v.SetDefault("sync.max_in_flight", 4)

	v.SetDefault("alerts.slack_webhook", "")
	v.SetDefault("alerts.cooldown_ms", 30*60*1000)

	v.SetDefault("auth.public_api_keys", []string{})
	v.SetDefault("auth.admin_api_keys", []string{})
	v.SetDefault("auth.public_rpm", 120)
	v.SetDefault("auth.public_burst", 60)
	v.SetDefault("auth.admin_rpm", 60)
	v.SetDefault("auth.admin_burst", 30)
}

func (c *Config) normalize() {
	c.Candidates.Direct = cleanList(c.Candidates.Direct)
	c.Candidates.ProxySeeds = cleanList(c.Candidates.ProxySeeds)
	c.Sync.FeedURLs = cleanList(c.Sync.FeedURLs)
	c.Auth.PublicAPIKeys = cleanList(c.Auth.PublicAPIKeys)
	c.Auth.AdminAPIKeys = cleanList(c.Auth.AdminAPIKeys)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
}

// cleanList splits comma-joined entries, trims them and drops empties.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	if strings.TrimSpace(c.Server.Addr) == "" {
		err = multierr.Append(err, errors.New("server.addr must not be empty"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	if len(c.Candidates.Direct)+len(c.Candidates.ProxySeeds) == 0 {
		err = multierr.Append(err, errors.New("at least one of candidates.direct or candidates.proxy_seeds is required"))
	}
	if c.Probe.TimeoutMS <= 0 {
		err = multierr.Append(err, fmt.Errorf("probe.timeout_ms must be positive, got %d", c.Probe.TimeoutMS))
	}
	if c.Probe.RoundTimeoutMS < c.Probe.TimeoutMS {
		err = multierr.Append(err, fmt.Errorf("probe.round_timeout_ms (%d) must be >= probe.timeout_ms (%d)",
			c.Probe.RoundTimeoutMS, c.Probe.TimeoutMS))
	}
	if c.Probe.RetryAttempts < 1 {
		err = multierr.Append(err, fmt.Errorf("probe.retry_attempts must be >= 1, got %d", c.Probe.RetryAttempts))
	}
	if c.Probe.RetryBackoffMS < 0 {
		err = multierr.Append(err, fmt.Errorf("probe.retry_backoff_ms must be >= 0, got %d", c.Probe.RetryBackoffMS))
	}
	if u, perr := url.Parse(c.Probe.Target); perr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		err = multierr.Append(err, fmt.Errorf("probe.target must be an absolute http(s) url, got %q", c.Probe.Target))
	}
	if c.Sync.IntervalMS < 0 {
		err = multierr.Append(err, fmt.Errorf("sync.interval_ms must be >= 0, got %d", c.Sync.IntervalMS))
	}
	if c.Sync.MaxInFlight <= 0 {
		err = multierr.Append(err, fmt.Errorf("sync.max_in_flight must be positive, got %d", c.Sync.MaxInFlight))
	}
	if c.Alerts.SlackWebhook != "" && !strings.HasPrefix(c.Alerts.SlackWebhook, "https://") {
		err = multierr.Append(err, errors.New("alerts.slack_webhook must be an https url"))
	}
	return err
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (p ProbeConfig) Timeout() time.Duration      { return ms(p.TimeoutMS) }
func (p ProbeConfig) RoundTimeout() time.Duration { return ms(p.RoundTimeoutMS) }
func (p ProbeConfig) RetryBackoff() time.Duration { return ms(p.RetryBackoffMS) }

func (t TransportConfig) ConnectTimeout() time.Duration { return ms(t.ConnectTimeoutMS) }
func (t TransportConfig) ReadTimeout() time.Duration    { return ms(t.ReadTimeoutMS) }

func (e EngineConfig) InitTimeout() time.Duration { return ms(e.InitTimeoutMS) }

func (s SyncConfig) Interval() time.Duration { return ms(s.IntervalMS) }
func (s SyncConfig) Timeout() time.Duration  { return ms(s.TimeoutMS) }

func (a AlertsConfig) Cooldown() time.Duration { return ms(a.CooldownMS) }

// YAML renders the effective configuration with secrets masked.
func (c Config) YAML() ([]byte, error) {
	c.Database.URL = maskURL(c.Database.URL)
	if c.Alerts.SlackWebhook != "" {
		c.Alerts.SlackWebhook = "***"
	}
	c.Auth.PublicAPIKeys = maskAll(c.Auth.PublicAPIKeys)
	c.Auth.AdminAPIKeys = maskAll(c.Auth.AdminAPIKeys)
	seeds := make([]string, len(c.Candidates.ProxySeeds))
	for i, s := range c.Candidates.ProxySeeds {
		seeds[i] = maskURL(s)
	}
	c.Candidates.ProxySeeds = seeds
	return yaml.Marshal(c)
}

func maskURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}

func maskAll(keys []string) []string {
	out := make([]string, len(keys))
	for i := range keys {
		out[i] = "***"
	}
	return out
}
