package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	// AutoMigrate applies embedded schema migrations at API startup.
	AutoMigrate bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SecurityConfig struct {
	JWTAccessSecret string
	JWTAccessTTL    time.Duration
	JWTRefreshTTL   time.Duration
	MaxSessions     int
}

// WorkflowConfig holds the permission policy knobs.
type WorkflowConfig struct {
	// GrantTTL is how long an approved permission stays usable.
	GrantTTL time.Duration
	// PendingTTL expires unanswered requests; zero keeps them pending forever.
	PendingTTL time.Duration
	// BlockWhileGranted rejects a new request while an unexpired grant for the
	// same resource and type exists.
	BlockWhileGranted bool
	MaxBulkSize       int
	RequestRate       float64
	RequestBurst      int
}

type HousekeepingConfig struct {
	Schedule      string
	Stream        string
	Group         string
	Consumer      string
	ClaimInterval time.Duration
	// MetricsAddr is where the worker serves /metrics; empty disables it.
	MetricsAddr string
}

type LoggingConfig struct {
	Level string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Security         SecurityConfig
	Workflow         WorkflowConfig
	Housekeeping     HousekeepingConfig
	Logging          LoggingConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("PENGADAAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	var errs []error
	if c.Security.JWTAccessSecret == "" {
		errs = append(errs, errors.New("security.jwtaccesssecret is required"))
	}
	if c.Security.JWTAccessTTL <= 0 || c.Security.JWTRefreshTTL <= 0 {
		errs = append(errs, errors.New("security token TTLs must be positive"))
	}
	if c.Workflow.GrantTTL <= 0 {
		errs = append(errs, errors.New("workflow.grantttl must be positive"))
	}
	if c.Workflow.PendingTTL < 0 {
		errs = append(errs, errors.New("workflow.pendingttl must not be negative"))
	}
	if c.Workflow.MaxBulkSize <= 0 {
		errs = append(errs, errors.New("workflow.maxbulksize must be positive"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")
	v.SetDefault("postgres.automigrate", true)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("security.jwtaccesssecret", "")
	v.SetDefault("security.jwtaccessttl", "15m")
	v.SetDefault("security.jwtrefreshttl", "720h") // 30 days
	v.SetDefault("security.maxsessions", 10)

	v.SetDefault("workflow.grantttl", "72h")
	v.SetDefault("workflow.pendingttl", "720h")
	v.SetDefault("workflow.blockwhilegranted", false)
	v.SetDefault("workflow.maxbulksize", 200)
	v.SetDefault("workflow.requestrate", 1.0)
	v.SetDefault("workflow.requestburst", 5)

	v.SetDefault("housekeeping.schedule", "0 */15 * * * *")
	v.SetDefault("housekeeping.stream", "permissions:housekeeping")
	v.SetDefault("housekeeping.group", "permission-workers")
	v.SetDefault("housekeeping.consumer", "worker-1")
	v.SetDefault("housekeeping.claiminterval", "30s")
	v.SetDefault("housekeeping.metricsaddr", ":9091")

	v.SetDefault("logging.level", "info")
	v.SetDefault("allowcorsorigins", []string{})
}
