// Package config holds the validated engine configuration.
// Values come from defaults, an optional YAML file, environment variables and
// command-line flags, in that order of precedence (flags win).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"copytrade-engine/internal/domain"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendKafka    = "kafka"
)

// Config is the root engine configuration.
type Config struct {
	Mode      domain.ExecutionMode `yaml:"mode"`
	Storage   StorageConfig        `yaml:"storage"`
	Queue     QueueConfig          `yaml:"queue"`
	Gateway   GatewayConfig        `yaml:"gateway"`
	Monitor   MonitorConfig        `yaml:"monitor"`
	RateLimit RateLimitConfig      `yaml:"rate_limit"`
	Filter    FilterConfig         `yaml:"filter"`
	Execution ExecutionConfig      `yaml:"execution"`
	Ranking   RankingConfig        `yaml:"ranking"`
	HTTP      HTTPConfig           `yaml:"http"`
	Logging   LoggingConfig        `yaml:"logging"`
}

// StorageConfig selects persistence backends.
type StorageConfig struct {
	Backend       string `yaml:"backend"`  // memory | postgres
	Counters      string `yaml:"counters"` // memory | redis (rate limits, checkpoints)
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"` // optional analytics store
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Migrate       bool   `yaml:"migrate"`
}

// QueueConfig selects the copy request queue.
type QueueConfig struct {
	Backend    string   `yaml:"backend"` // memory | kafka
	Brokers    []string `yaml:"brokers"`
	Topic      string   `yaml:"topic"`
	GroupID    string   `yaml:"group_id"`
	BufferSize int      `yaml:"buffer_size"`
}

// GatewayConfig points at the external collaborators.
type GatewayConfig struct {
	BaseURL       string        `yaml:"base_url"`     // empty = stub collaborators
	PriceWSURL    string        `yaml:"price_ws_url"` // optional streaming prices
	PricePairs    []string      `yaml:"price_pairs"`  // empty = every pair
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	StubEquity    float64       `yaml:"stub_equity"`
	NotifyHookURL string        `yaml:"notify_hook_url"`
}

// MonitorConfig tunes the leader activity monitor.
type MonitorConfig struct {
	Interval     time.Duration `yaml:"interval"`
	Concurrency  int           `yaml:"concurrency"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// RateLimitConfig bounds copies per (copytrader, pair).
type RateLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// FilterConfig tunes the trade filter.
type FilterConfig struct {
	RejectRedRegime bool `yaml:"reject_red_regime"`
}

// ExecutionConfig tunes workers and reconciliation.
type ExecutionConfig struct {
	Workers           int           `yaml:"workers"`
	PriceTimeout      time.Duration `yaml:"price_timeout"`
	SubmitTimeout     time.Duration `yaml:"submit_timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// RankingConfig tunes stats refresh and leaderboard scoring.
type RankingConfig struct {
	RefreshInterval time.Duration      `yaml:"refresh_interval"`
	CacheTTL        time.Duration      `yaml:"cache_ttl"`
	StatsWindow     time.Duration      `yaml:"stats_window"`
	VolumeCeiling   float64            `yaml:"volume_ceiling"` // 0 = e^20 - 1
	MinTrades       int                `yaml:"min_trades"`
	MinVolumeUsd    float64            `yaml:"min_volume_usd"`
	MinSymbols      int                `yaml:"min_symbols"`
	MaxMakerRatio   float64            `yaml:"max_maker_ratio"`
	RecencyWindow   time.Duration      `yaml:"recency_window"`
	ArchetypeBonus  map[string]float64 `yaml:"archetype_bonus"`
}

// HTTPConfig configures listeners.
type HTTPConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	AdminToken  string `yaml:"admin_token"` // empty disables admin routes
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Mode: domain.ExecutionModeDryRun,
		Storage: StorageConfig{
			Backend:  BackendMemory,
			Counters: BackendMemory,
			Migrate:  true,
		},
		Queue: QueueConfig{
			Backend:    BackendMemory,
			Topic:      "copytrade.requests",
			GroupID:    "copytrade-workers",
			BufferSize: 1024,
		},
		Gateway: GatewayConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 2,
			StubEquity: 1000,
		},
		Monitor: MonitorConfig{
			Interval:     5 * time.Second,
			Concurrency:  16,
			FetchTimeout: 4 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Limit:  10,
			Window: time.Hour,
		},
		Filter: FilterConfig{
			RejectRedRegime: true,
		},
		Execution: ExecutionConfig{
			Workers:           4,
			PriceTimeout:      3 * time.Second,
			SubmitTimeout:     15 * time.Second,
			MaxAttempts:       3,
			RetryDelay:        500 * time.Millisecond,
			MaxRetryDelay:     5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			ReconcileInterval: time.Minute,
		},
		Ranking: RankingConfig{
			RefreshInterval: 10 * time.Minute,
			CacheTTL:        3 * time.Minute,
			StatsWindow:     30 * 24 * time.Hour,
			MinTrades:       300,
			MinVolumeUsd:    10_000_000,
			MinSymbols:      3,
			MaxMakerRatio:   0.95,
			RecencyWindow:   7 * 24 * time.Hour,
		},
		HTTP: HTTPConfig{
			Addr:        ":8080",
			MetricsAddr: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML file on top of Default. A missing path returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables when set.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("COPYTRADE_MODE"); v != "" {
		c.Mode = domain.ExecutionMode(strings.ToUpper(v))
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Storage.PostgresDSN = v
		c.Storage.Backend = BackendPostgres
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		c.Storage.ClickhouseDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Storage.RedisAddr = v
		c.Storage.Counters = BackendRedis
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Storage.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		c.Storage.RedisDB = db
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Queue.Brokers = splitCSV(v)
		c.Queue.Backend = BackendKafka
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Queue.Topic = v
	}
	if v := os.Getenv("KAFKA_GROUP_ID"); v != "" {
		c.Queue.GroupID = v
	}
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		c.Gateway.BaseURL = v
	}
	if v := os.Getenv("GATEWAY_PRICE_WS_URL"); v != "" {
		c.Gateway.PriceWSURL = v
	}
	if v := os.Getenv("GATEWAY_API_KEY"); v != "" {
		c.Gateway.APIKey = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.HTTP.AdminToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	var errs []error

	if !c.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("mode must be LIVE or DRY_RUN, got %q", c.Mode))
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	switch c.Storage.Counters {
	case BackendMemory:
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("storage.redis_addr is required for redis counters"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.counters %q", c.Storage.Counters))
	}

	switch c.Queue.Backend {
	case BackendMemory:
		if c.Queue.BufferSize <= 0 {
			errs = append(errs, errors.New("queue.buffer_size must be positive"))
		}
	case BackendKafka:
		if len(c.Queue.Brokers) == 0 || c.Queue.Topic == "" || c.Queue.GroupID == "" {
			errs = append(errs, errors.New("queue.brokers, queue.topic and queue.group_id are required for kafka"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue.backend %q", c.Queue.Backend))
	}

	if c.Mode == domain.ExecutionModeLive && c.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("gateway.base_url is required in LIVE mode"))
	}
	if c.Monitor.Interval <= 0 || c.Monitor.Concurrency <= 0 || c.Monitor.FetchTimeout <= 0 {
		errs = append(errs, errors.New("monitor interval, concurrency and fetch_timeout must be positive"))
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.limit and rate_limit.window must be positive"))
	}
	if c.Execution.Workers <= 0 || c.Execution.MaxAttempts <= 0 {
		errs = append(errs, errors.New("execution.workers and execution.max_attempts must be positive"))
	}
	if c.Execution.PriceTimeout <= 0 || c.Execution.SubmitTimeout <= 0 {
		errs = append(errs, errors.New("execution timeouts must be positive"))
	}
	if c.Ranking.CacheTTL <= 0 || c.Ranking.RefreshInterval <= 0 {
		errs = append(errs, errors.New("ranking.cache_ttl and ranking.refresh_interval must be positive"))
	}
	if c.Ranking.MaxMakerRatio < 0 || c.Ranking.MaxMakerRatio > 1 {
		errs = append(errs, errors.New("ranking.max_maker_ratio must be within [0, 1]"))
	}

	return errors.Join(errs...)
}

// LoadEnvFile loads KEY=VALUE lines from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
