package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Store        StoreConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Mailbox      MailboxConfig
	Ingest       IngestConfig
	Lifecycle    LifecycleConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	HTTPEnabled           bool
}

// StoreConfig selects the ticket store backend.
type StoreConfig struct {
	Driver     string
	SQLitePath string
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	RunMigrations   bool
	ConnMaxIdleSec  int32
	ConnMaxLifeSec  int32
	ConnectAttempts int
	ConnectTimeout  time.Duration
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addrs       []string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level    string
	Encoding string
	Service  string
}

// AuthConfig defines bearer token parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// NotificationConfig controls where ticket events are handed off.
type NotificationConfig struct {
	RedisChannel string
	QueueSize    int
}

// MailboxMode selects how the connector learns about new mail.
type MailboxMode string

const (
	MailboxModeIdle MailboxMode = "idle"
	MailboxModePoll MailboxMode = "poll"
)

// MailboxConfig holds IMAP connection values.
type MailboxConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Username       string
	Password       string
	Mailbox        string
	TLS            bool
	StartTLS       bool
	Mode           MailboxMode
	PollInterval   time.Duration
	CommandTimeout time.Duration
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
}

// IngestConfig controls how inbound mail maps onto tickets.
type IngestConfig struct {
	FallbackUserID    string
	DefaultCategoryID string
	DefaultFunctionID string
	ResyncInterval    time.Duration
	ClaimTTL          time.Duration
}

// LifecycleConfig holds expiry policy and sweep settings.
type LifecycleConfig struct {
	ExpiryLow        time.Duration
	ExpiryMedium     time.Duration
	ExpiryHigh       time.Duration
	CategoryExpiry   map[string]time.Duration
	SweepInterval    time.Duration
	SweepBatchSize   int
	SweepConcurrency int
	SweepEnabled     bool
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	categoryExpiry, err := parseDurationMap(os.Getenv("TICKET_EXPIRY_CATEGORY_OVERRIDES"))
	if err != nil {
		return nil, fmt.Errorf("invalid TICKET_EXPIRY_CATEGORY_OVERRIDES: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "mail-ticket-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			HTTPEnabled:           getEnvAsBool("HTTP_ENABLED", true),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
			SQLitePath: getEnv("SQLITE_PATH", "tickets.db"),
		},
		Postgres: PostgresConfig{
			DSN:             os.Getenv("POSTGRES_DSN"),
			MaxConns:        maxConns,
			MinConns:        minConns,
			RunMigrations:   runMigrations,
			ConnMaxIdleSec:  connMaxIdle,
			ConnMaxLifeSec:  connMaxLife,
			ConnectAttempts: getEnvAsInt("POSTGRES_CONNECT_ATTEMPTS", 5),
			ConnectTimeout:  getEnvAsSeconds("POSTGRES_CONNECT_TIMEOUT_SECONDS", 5),
		},
		Redis: RedisConfig{
			Addrs:       splitList(getEnv("REDIS_ADDR", "127.0.0.1:6379")),
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          redisDB,
			DialTimeout: getEnvAsSeconds("REDIS_DIAL_TIMEOUT_SECONDS", 3),
		},
		Logger: LoggerConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: strings.ToLower(getEnv("LOG_ENCODING", "json")),
			Service:  getEnv("APP_NAME", "mail-ticket-service"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Notification: NotificationConfig{
			RedisChannel: getEnv("NOTIFY_REDIS_CHANNEL", "tickets.events"),
			QueueSize:    getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
		},
		Mailbox: MailboxConfig{
			Enabled:        getEnvAsBool("IMAP_ENABLED", false),
			Host:           os.Getenv("IMAP_HOST"),
			Port:           getEnv("IMAP_PORT", "993"),
			Username:       os.Getenv("IMAP_USERNAME"),
			Password:       os.Getenv("IMAP_PASSWORD"),
			Mailbox:        getEnv("IMAP_MAILBOX", "INBOX"),
			TLS:            getEnvAsBool("IMAP_TLS", true),
			StartTLS:       getEnvAsBool("IMAP_STARTTLS", false),
			Mode:           MailboxMode(strings.ToLower(getEnv("IMAP_MODE", string(MailboxModeIdle)))),
			PollInterval:   getEnvAsSeconds("IMAP_POLL_SECONDS", 60),
			CommandTimeout: getEnvAsSeconds("IMAP_COMMAND_TIMEOUT_SECONDS", 30),
			ReconnectMin:   getEnvAsSeconds("IMAP_RECONNECT_MIN_SECONDS", 1),
			ReconnectMax:   getEnvAsSeconds("IMAP_RECONNECT_MAX_SECONDS", 60),
		},
		Ingest: IngestConfig{
			FallbackUserID:    getEnv("INGEST_FALLBACK_USER_ID", "1"),
			DefaultCategoryID: getEnv("INGEST_DEFAULT_CATEGORY_ID", "1"),
			DefaultFunctionID: getEnv("INGEST_DEFAULT_FUNCTION_ID", "1"),
			ResyncInterval:    getEnvAsSeconds("INGEST_RESYNC_SECONDS", 300),
			ClaimTTL:          getEnvAsSeconds("INGEST_CLAIM_TTL_SECONDS", 120),
		},
		Lifecycle: LifecycleConfig{
			ExpiryLow:        getEnvAsHours("TICKET_EXPIRY_LOW_HOURS", 72),
			ExpiryMedium:     getEnvAsHours("TICKET_EXPIRY_MEDIUM_HOURS", 48),
			ExpiryHigh:       getEnvAsHours("TICKET_EXPIRY_HIGH_HOURS", 24),
			CategoryExpiry:   categoryExpiry,
			SweepInterval:    getEnvAsSeconds("SWEEP_INTERVAL_SECONDS", 60),
			SweepBatchSize:   getEnvAsInt("SWEEP_BATCH_SIZE", 200),
			SweepConcurrency: getEnvAsInt("SWEEP_CONCURRENCY", 8),
			SweepEnabled:     getEnvAsBool("SWEEP_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required when STORE_DRIVER=postgres"))
		}
	case StoreDriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required when STORE_DRIVER=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORE_DRIVER %q", c.Store.Driver))
	}
	if c.Mailbox.Enabled {
		if c.Mailbox.Host == "" {
			errs = append(errs, errors.New("IMAP_HOST is required when IMAP_ENABLED=true"))
		}
		if c.Mailbox.TLS && c.Mailbox.StartTLS {
			errs = append(errs, errors.New("IMAP_TLS and IMAP_STARTTLS are mutually exclusive"))
		}
		if c.Mailbox.Mode != MailboxModeIdle && c.Mailbox.Mode != MailboxModePoll {
			errs = append(errs, fmt.Errorf("unsupported IMAP_MODE %q", c.Mailbox.Mode))
		}
		if c.Ingest.FallbackUserID == "" {
			errs = append(errs, errors.New("INGEST_FALLBACK_USER_ID is required when IMAP_ENABLED=true"))
		}
	}
	if c.Logger.Encoding != "json" && c.Logger.Encoding != "console" {
		errs = append(errs, fmt.Errorf("unsupported LOG_ENCODING %q", c.Logger.Encoding))
	}
	if len(c.Redis.Addrs) == 0 {
		errs = append(errs, errors.New("REDIS_ADDR must name at least one address"))
	}
	if c.Lifecycle.SweepConcurrency <= 0 {
		errs = append(errs, errors.New("SWEEP_CONCURRENCY must be positive"))
	}
	return errors.Join(errs...)
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

// Addr returns the IMAP dial address.
func (m MailboxConfig) Addr() string {
	return m.Host + ":" + m.Port
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

func getEnvAsSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * time.Second
}

func getEnvAsHours(key string, fallback int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * time.Hour
}

// splitList reads a comma separated list, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseDurationMap reads "key:duration,key:duration" pairs, e.g. "network:96h,hardware:24h".
func parseDurationMap(raw string) (map[string]time.Duration, error) {
	result := map[string]time.Duration{}
	if strings.TrimSpace(raw) == "" {
		return result, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("malformed entry %q", pair)
		}
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", pair, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("entry %q: duration must be positive", pair)
		}
		result[strings.TrimSpace(key)] = d
	}
	return result, nil
}
