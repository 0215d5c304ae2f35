package models

import (
	"fmt"
	"time"
)

// Store type constants
const (
	StoreTypeMemory   = "memory"
	StoreTypeRedis    = "redis"
	StoreTypePostgres = "postgres"
	StoreTypeSQLite   = "sqlite"
)

// Config is the root configuration structure for the service.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Store         StoreConfig         `yaml:"store" json:"store"`
	Governance    GovernanceConfig    `yaml:"governance" json:"governance"`
	Suspicion     SuspicionConfig     `yaml:"suspicion" json:"suspicion"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// StoreConfig selects and configures the counter store backend.
type StoreConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn" json:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns" json:"max_idle_conns"`
}

// GovernanceConfig holds the admission-control knobs and seed rules.
type GovernanceConfig struct {
	// BlockDuration is the fixed penalty applied when a quota is exceeded.
	// Deliberately independent of any rule's window.
	BlockDuration time.Duration `yaml:"block_duration" json:"block_duration"`

	// CleanupInterval is how often expired counter entries are swept.
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`

	// StoreTimeout bounds each counter-store call; on timeout the engine
	// fails open.
	StoreTimeout time.Duration `yaml:"store_timeout" json:"store_timeout"`

	// Rules are installed at startup. Operators add and remove further
	// rules through the admin API.
	Rules []Rule `yaml:"rules" json:"rules"`
}

// SuspicionConfig holds the heuristic scoring tables. They are data, not
// code, so operators can tune them without touching the decision logic.
type SuspicionConfig struct {
	// HighFrequencyThreshold is the per-window count above which the
	// high-frequency signal fires. Independent of any rule's own limit.
	HighFrequencyThreshold int64 `yaml:"high_frequency_threshold" json:"high_frequency_threshold"`

	// BotMarkers are lowercase substrings of client agent strings that
	// indicate automation.
	BotMarkers []string `yaml:"bot_markers" json:"bot_markers"`

	// ExpectedHeaders are headers ordinary clients send. Missing more
	// than one of them fires the bot-behavior signal.
	ExpectedHeaders []string `yaml:"expected_headers" json:"expected_headers"`

	// BotScore is the fixed score of one bot-behavior finding.
	BotScore int `yaml:"bot_score" json:"bot_score"`

	// FlagThreshold is the summed score above which a source is flagged.
	FlagThreshold int `yaml:"flag_threshold" json:"flag_threshold"`

	// MaxFlaggedSources bounds the flagged set. 0 disables the valve.
	MaxFlaggedSources int `yaml:"max_flagged_sources" json:"max_flagged_sources"`

	// AttackStaleAfter deactivates attack records idle this long.
	AttackStaleAfter time.Duration `yaml:"attack_stale_after" json:"attack_stale_after"`

	// SweepInterval is how often the staleness sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

type SecurityConfig struct {
	EnableAuth bool   `yaml:"enable_auth" json:"enable_auth"`
	AdminToken string `yaml:"admin_token" json:"admin_token"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration that works out of the box: an
// in-memory store, no admin auth, conservative sweep intervals and the
// stock heuristic tables.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Store: StoreConfig{
			Type: StoreTypeMemory,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				PoolSize:  10,
				KeyPrefix: "reqguard",
			},
			Database: DatabaseConfig{
				MaxOpenConns: 10,
				MaxIdleConns: 5,
			},
		},
		Governance: GovernanceConfig{
			BlockDuration:   5 * time.Minute,
			CleanupInterval: 2 * time.Minute,
			StoreTimeout:    250 * time.Millisecond,
		},
		Suspicion: SuspicionConfig{
			HighFrequencyThreshold: 120,
			BotMarkers: []string{
				"bot", "crawler", "spider", "scraper",
				"curl", "wget", "python-requests", "headless",
			},
			ExpectedHeaders:   []string{"Accept", "Accept-Language", "Accept-Encoding"},
			BotScore:          30,
			FlagThreshold:     80,
			MaxFlaggedSources: 10000,
			AttackStaleAfter:  30 * time.Minute,
			SweepInterval:     5 * time.Minute,
		},
		Security: SecurityConfig{
			EnableAuth: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "reqguard",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

// Validate catches misconfigurations before the service starts. Rule
// errors surface here for seed rules and at AddRule time for runtime
// additions.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Store.Type {
	case StoreTypeMemory:
	case StoreTypeRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for redis store")
		}
	case StoreTypePostgres, StoreTypeSQLite:
		if c.Store.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s store", c.Store.Type)
		}
	default:
		return fmt.Errorf("unsupported store type: %s", c.Store.Type)
	}

	if c.Governance.BlockDuration <= 0 {
		return fmt.Errorf("block_duration must be positive")
	}
	if c.Governance.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive")
	}
	seen := make(map[string]bool, len(c.Governance.Rules))
	for i := range c.Governance.Rules {
		rule := &c.Governance.Rules[i]
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("governance rule %d: %w", i, err)
		}
		if seen[rule.ID] {
			return fmt.Errorf("governance rule %d: duplicate id %q", i, rule.ID)
		}
		seen[rule.ID] = true
	}

	if c.Suspicion.HighFrequencyThreshold <= 0 {
		return fmt.Errorf("high_frequency_threshold must be positive")
	}
	if c.Suspicion.BotScore <= 0 {
		return fmt.Errorf("bot_score must be positive")
	}
	if c.Suspicion.FlagThreshold <= 0 {
		return fmt.Errorf("flag_threshold must be positive")
	}
	if c.Suspicion.AttackStaleAfter <= 0 {
		return fmt.Errorf("attack_stale_after must be positive")
	}

	if c.Security.EnableAuth && c.Security.AdminToken == "" {
		return fmt.Errorf("admin_token is required when auth is enabled")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", c.Logging.Level)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics port must be between 1 and 65535, got %d", c.Metrics.Port)
		}
		if c.Metrics.Path == "" {
			return fmt.Errorf("metrics path is required when metrics are enabled")
		}
	}

	return nil
}
