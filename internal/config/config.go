package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App        AppConfig
	Store      StoreConfig
	Postgres   PostgresConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	Slack      SlackConfig
	Scheduler  SchedulerConfig
	Transcript TranscriptConfig
	Telemetry  TelemetryConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// StoreConfig selects the ticket store backend.
type StoreConfig struct {
	Driver        string
	RunMigrations bool
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// SQLiteConfig holds the database file location.
type SQLiteConfig struct {
	Path string
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	EventStream  string
	StreamMaxLen int64
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines gateway token parameters.
type AuthConfig struct {
	JWTSecret       string
	TokenTTLMinutes int
}

// SlackConfig holds Socket Mode credentials. Both tokens are required to
// start the Slack gateway.
type SlackConfig struct {
	BotToken string
	AppToken string
	Debug    bool
}

// Enabled reports whether the Slack gateway should start.
func (s SlackConfig) Enabled() bool {
	return s.BotToken != "" && s.AppToken != ""
}

// SchedulerConfig sets the periodic sweep cadence.
type SchedulerConfig struct {
	Enabled            bool
	InactivityInterval time.Duration
	StalenessInterval  time.Duration
	CloseGraceDelay    time.Duration
}

// TranscriptConfig locates transcript artifacts.
type TranscriptConfig struct {
	Dir string
}

// TelemetryConfig controls OTLP trace export.
type TelemetryConfig struct {
	OTLPEndpoint string
	Insecure     bool
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	driver := strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite))
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("invalid STORE_DRIVER %q", driver)
	}

	inactivity, err := getEnvAsDuration("SWEEP_INACTIVITY_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	staleness, err := getEnvAsDuration("SWEEP_STALENESS_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}
	grace, err := getEnvAsDuration("CLOSE_GRACE_DELAY", 10*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticketbot"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Store: StoreConfig{
			Driver:        driver,
			RunMigrations: getEnvAsBool("STORE_RUN_MIGRATIONS", true),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		SQLite: SQLiteConfig{
			Path: getEnv("SQLITE_PATH", "tickets.db"),
		},
		Redis: RedisConfig{
			Addr:         os.Getenv("REDIS_ADDR"),
			Password:     os.Getenv("REDIS_PASSWORD"),
			DB:           redisDB,
			EventStream:  getEnv("REDIS_EVENT_STREAM", "ticketbot:events"),
			StreamMaxLen: int64(getEnvAsInt("REDIS_EVENT_STREAM_MAXLEN", 10000)),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("AUTH_JWT_SECRET", "dev-secret"),
			TokenTTLMinutes: getEnvAsInt("AUTH_TOKEN_TTL_MINUTES", 60),
		},
		Slack: SlackConfig{
			BotToken: os.Getenv("SLACK_BOT_TOKEN"),
			AppToken: os.Getenv("SLACK_APP_TOKEN"),
			Debug:    getEnvAsBool("SLACK_DEBUG", false),
		},
		Scheduler: SchedulerConfig{
			Enabled:            getEnvAsBool("SWEEP_ENABLED", true),
			InactivityInterval: inactivity,
			StalenessInterval:  staleness,
			CloseGraceDelay:    grace,
		},
		Transcript: TranscriptConfig{
			Dir: getEnv("TRANSCRIPT_DIR", "transcripts"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure:     getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		},
	}

	if cfg.Store.Driver == DriverPostgres && cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required when STORE_DRIVER=postgres")
	}
	if cfg.Scheduler.InactivityInterval <= 0 || cfg.Scheduler.StalenessInterval <= 0 {
		return nil, fmt.Errorf("sweep intervals must be positive")
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvAsDuration accepts Go duration syntax ("5m") or bare seconds.
func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
