package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the full daemon configuration. Values are layered: built-in
// defaults, then the YAML file, then IRONLAYER_* environment overrides.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Storage    StorageConfig    `yaml:"storage"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Security   SecurityConfig   `yaml:"security"`
	LLM        LLMConfig        `yaml:"llm"`
	Git        GitConfig        `yaml:"git"`
	Warehouse  WarehouseConfig  `yaml:"warehouse"`
	Planner    PlannerConfig    `yaml:"planner"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Governance GovernanceConfig `yaml:"governance"`
	Metering   MeteringConfig   `yaml:"metering"`
	Cache      CacheConfig      `yaml:"cache"`
	Webhooks   WebhookConfig    `yaml:"webhooks"`
}

// ServerConfig configures the daemon listeners and the platform environment.
// Env gates the relaxed dev behaviours: ephemeral secrets, loopback HTTP
// webhooks, auto-generated encryption keys.
type ServerConfig struct {
	Env         string `yaml:"env" validate:"oneof=dev staging prod"`
	ListenAddr  string `yaml:"listen_addr" validate:"required"`
	MetricsAddr string `yaml:"metrics_addr"`
	DataDir     string `yaml:"data_dir" validate:"required"`
}

// IsDev reports whether the daemon runs with dev-mode relaxations.
func (s ServerConfig) IsDev() bool { return s.Env == "dev" }

// LogConfig configures the global logger.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// StorageConfig selects the state backend. Local single-binary installs use
// bolt; multi-tenant installs use postgres.
type StorageConfig struct {
	Backend  string `yaml:"backend" validate:"oneof=bolt postgres"`
	BoltPath string `yaml:"bolt_path"`
}

// PostgresConfig configures the postgres backend.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	MaxConns       int32  `yaml:"max_conns" validate:"min=1"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

// RedisConfig configures the optional shared response cache. When disabled
// the cache falls back to the in-process store.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig configures session tokens, API keys and the login surface.
// Mode dev accepts password logins against the local user table; mode oidc
// additionally verifies externally-issued tokens.
type AuthConfig struct {
	Mode               string        `yaml:"mode" validate:"oneof=dev oidc"`
	JWTSecret          string        `yaml:"jwt_secret"`
	TokenTTL           time.Duration `yaml:"token_ttl" validate:"min=1m"`
	BcryptCost         int           `yaml:"bcrypt_cost" validate:"min=4,max=31"`
	CookieName         string        `yaml:"cookie_name"`
	CSRFEnabled        bool          `yaml:"csrf_enabled"`
	CSRFMaxAge         time.Duration `yaml:"csrf_max_age" validate:"min=1m"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute" validate:"min=1"`
}

// SecurityConfig holds key material for sealing stored secrets. The key is
// env-only (IRONLAYER_ENCRYPTION_KEY); in dev mode an absent key is generated
// on first boot and persisted under the data dir.
type SecurityConfig struct {
	EncryptionKey string `yaml:"-"`
}

// LLMConfig configures the advisory collaborator. The API key is read from
// the environment only, never from the file, so configs stay shareable.
// Budget caps bound what any tenant subscription may grant.
type LLMConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Model               string        `yaml:"model"`
	APIKeyEnv           string        `yaml:"api_key_env"`
	MaxTokens           int           `yaml:"max_tokens" validate:"min=1"`
	Timeout             time.Duration `yaml:"timeout" validate:"min=1s"`
	InitialTPM          float64       `yaml:"initial_tpm" validate:"min=1"`
	MaxTPM              float64       `yaml:"max_tpm" validate:"min=1"`
	InputUSDPerMillion  float64       `yaml:"input_usd_per_million" validate:"min=0"`
	OutputUSDPerMillion float64       `yaml:"output_usd_per_million" validate:"min=0"`
	DailyBudgetCapUSD   float64       `yaml:"daily_budget_cap_usd" validate:"min=0"`
	MonthlyBudgetCapUSD float64       `yaml:"monthly_budget_cap_usd" validate:"min=0"`
}

// GitConfig configures the repository collaborator.
type GitConfig struct {
	BinPath      string        `yaml:"bin_path"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" validate:"min=1s"`
}

// WarehouseConfig configures execution targets keyed by dialect.
type WarehouseConfig struct {
	Dialect string `yaml:"dialect" validate:"oneof=databricks redshift"`
	DSN     string `yaml:"dsn"`
	DryRun  bool   `yaml:"dry_run"`
}

// PlannerConfig holds plan generation defaults a model header can override.
type PlannerConfig struct {
	DefaultClusterSize string `yaml:"default_cluster_size" validate:"oneof=small medium large"`
	MaxRetries         int    `yaml:"max_retries" validate:"min=0,max=10"`
	LookbackDays       int    `yaml:"lookback_days" validate:"min=1"`
}

// SchedulerConfig configures the background schedule loop.
type SchedulerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=1s"`
}

// GovernanceConfig holds tenant-independent governance defaults. Per-tenant
// quotas live on subscriptions; these bound what any subscription may grant.
type GovernanceConfig struct {
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute" validate:"min=1"`
	RateLimitWindow    time.Duration `yaml:"rate_limit_window" validate:"min=1s"`
	BurstMultiplier    float64       `yaml:"burst_multiplier" validate:"min=1"`
	LockTTL            time.Duration `yaml:"lock_ttl" validate:"min=1s"`
	AuditVerifyOnStart bool          `yaml:"audit_verify_on_start"`
}

// MeteringConfig configures usage buffering, rollups and retention. The
// export endpoint, when set, receives flushed usage batches over HTTPS and
// must not point into private address space.
type MeteringConfig struct {
	FlushInterval       time.Duration `yaml:"flush_interval" validate:"min=1s"`
	BufferSize          int           `yaml:"buffer_size" validate:"min=1"`
	JSONLPath           string        `yaml:"jsonl_path"`
	ExportEndpoint      string        `yaml:"export_endpoint"`
	RawRetentionDays    int           `yaml:"raw_retention_days" validate:"min=1"`
	HourlyRetentionDays int           `yaml:"hourly_retention_days" validate:"min=1"`
	UsageRetentionDays  int           `yaml:"usage_retention_days" validate:"min=1"`
}

// CacheConfig bounds the advisory response cache. Zero TTLs keep the
// per-type defaults.
type CacheConfig struct {
	Capacity    int           `yaml:"capacity" validate:"min=1"`
	ClassifyTTL time.Duration `yaml:"classify_ttl"`
	CostTTL     time.Duration `yaml:"cost_ttl"`
	OptimizeTTL time.Duration `yaml:"optimize_ttl"`
}

// WebhookConfig tunes outbound event delivery.
type WebhookConfig struct {
	Timeout     time.Duration `yaml:"timeout" validate:"min=1s"`
	MaxAttempts int           `yaml:"max_attempts" validate:"min=1,max=10"`
	BackoffBase time.Duration `yaml:"backoff_base" validate:"min=1ms"`
}

// Default returns the built-in configuration, suitable for a local
// single-binary install with no config file at all.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Env:         "dev",
			ListenAddr:  "127.0.0.1:8334",
			MetricsAddr: "127.0.0.1:9334",
			DataDir:     "/var/lib/ironlayer",
		},
		Log: LogConfig{Level: "info", JSON: true},
		Storage: StorageConfig{
			Backend:  "bolt",
			BoltPath: "/var/lib/ironlayer/state.db",
		},
		Postgres: PostgresConfig{MaxConns: 8, MigrateOnStart: true},
		Redis:    RedisConfig{Addr: "127.0.0.1:6379"},
		Auth: AuthConfig{
			Mode:               "dev",
			TokenTTL:           8 * time.Hour,
			BcryptCost:         12,
			CookieName:         "ironlayer_session",
			CSRFEnabled:        true,
			CSRFMaxAge:         12 * time.Hour,
			RateLimitPerMinute: 10,
		},
		LLM: LLMConfig{
			Model:               "claude-sonnet-4-5",
			APIKeyEnv:           "ANTHROPIC_API_KEY",
			MaxTokens:           2048,
			Timeout:             30 * time.Second,
			InitialTPM:          60000,
			MaxTPM:              120000,
			InputUSDPerMillion:  3.0,
			OutputUSDPerMillion: 15.0,
			DailyBudgetCapUSD:   100,
			MonthlyBudgetCapUSD: 2000,
		},
		Git: GitConfig{
			BinPath:      "git",
			FetchTimeout: 30 * time.Second,
		},
		Warehouse: WarehouseConfig{Dialect: "databricks", DryRun: true},
		Planner: PlannerConfig{
			DefaultClusterSize: "small",
			MaxRetries:         2,
			LookbackDays:       14,
		},
		Scheduler: SchedulerConfig{Enabled: true, PollInterval: 60 * time.Second},
		Governance: GovernanceConfig{
			RateLimitPerMinute: 120,
			RateLimitWindow:    time.Minute,
			BurstMultiplier:    2.0,
			LockTTL:            5 * time.Minute,
			AuditVerifyOnStart: false,
		},
		Metering: MeteringConfig{
			FlushInterval:       30 * time.Second,
			BufferSize:          4096,
			JSONLPath:           "/var/lib/ironlayer/usage.jsonl",
			RawRetentionDays:    30,
			HourlyRetentionDays: 365,
			UsageRetentionDays:  90,
		},
		Cache: CacheConfig{Capacity: 1024},
		Webhooks: WebhookConfig{
			Timeout:     10 * time.Second,
			MaxAttempts: 4,
			BackoffBase: time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides and validates the result. An empty path skips the
// file layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays IRONLAYER_* environment variables. Secrets are
// env-only on purpose.
func applyEnv(cfg *Config) {
	if v := os.Getenv("IRONLAYER_ENV"); v != "" {
		cfg.Server.Env = v
	}
	if v := os.Getenv("IRONLAYER_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("IRONLAYER_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("IRONLAYER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("IRONLAYER_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("IRONLAYER_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("IRONLAYER_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("IRONLAYER_AUTH_MODE"); v != "" {
		cfg.Auth.Mode = v
	}
	if v := os.Getenv("IRONLAYER_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("IRONLAYER_ENCRYPTION_KEY"); v != "" {
		cfg.Security.EncryptionKey = v
	}
	if v := os.Getenv("IRONLAYER_LLM_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LLM.Enabled = b
		}
	}
	if v := os.Getenv("IRONLAYER_WAREHOUSE_DSN"); v != "" {
		cfg.Warehouse.DSN = v
	}
	if v := os.Getenv("IRONLAYER_METERING_EXPORT_ENDPOINT"); v != "" {
		cfg.Metering.ExportEndpoint = v
	}
}

// Validate checks structural constraints plus the cross-field rules the
// struct tags cannot express. Secret requirements relax in dev mode, where
// the daemon generates ephemeral material instead of refusing to start.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Storage.Backend == "bolt" && c.Storage.BoltPath == "" {
		return fmt.Errorf("invalid config: storage.bolt_path required for bolt backend")
	}
	if c.Storage.Backend == "postgres" && c.Postgres.DSN == "" {
		return fmt.Errorf("invalid config: postgres.dsn required for postgres backend")
	}
	if !c.Server.IsDev() {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("invalid config: auth jwt secret required outside dev (set IRONLAYER_JWT_SECRET)")
		}
		if c.Security.EncryptionKey == "" {
			return fmt.Errorf("invalid config: encryption key required outside dev (set IRONLAYER_ENCRYPTION_KEY)")
		}
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("invalid config: auth jwt secret must be at least 32 bytes")
	}
	if c.LLM.MaxTPM < c.LLM.InitialTPM {
		return fmt.Errorf("invalid config: llm.max_tpm must be at least llm.initial_tpm")
	}
	if c.Metering.ExportEndpoint != "" {
		if err := validateExportEndpoint(c.Metering.ExportEndpoint, c.Server.IsDev()); err != nil {
			return fmt.Errorf("invalid config: metering.export_endpoint: %w", err)
		}
	}
	return nil
}

// validateExportEndpoint performs the static half of the private-address
// check: scheme and literal-IP screening. Hostnames are re-resolved and
// re-checked at startup, where DNS is available.
func validateExportEndpoint(endpoint string, dev bool) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !dev {
			return fmt.Errorf("https required outside dev")
		}
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	ip := net.ParseIP(u.Hostname())
	if ip == nil {
		return nil
	}
	if dev && ip.IsLoopback() {
		return nil
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return fmt.Errorf("endpoint resolves to a private address %s", ip)
	}
	return nil
}
