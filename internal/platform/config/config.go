package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendSheets   = "sheets"
	BackendMemory   = "memory"
)

// Config is the whole process configuration, read from the environment.
type Config struct {
	Server      Server
	Database    DatabaseConfig
	Records     RecordsConfig
	Sheets      SheetsConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Provider    ProviderConfig
	AuditBuffer int `env:"KYC_AUDIT_BUFFER" envDefault:"0"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr      string `env:"KYC_ADDR" envDefault:":8080"`
	LogLevel  string `env:"KYC_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"KYC_LOG_FORMAT" envDefault:"json"`
}

type DatabaseConfig struct {
	Backend      string `env:"KYC_STORAGE_BACKEND" envDefault:"sqlite"`
	Enabled      bool   `env:"KYC_DATABASE_ENABLED" envDefault:"true"`
	URL          string `env:"KYC_DATABASE_URL" envDefault:"file:kyc.db?_busy_timeout=5000"`
	MaxOpenConns int    `env:"KYC_DATABASE_MAX_OPEN_CONNS" envDefault:"10"`
}

// RecordsConfig bounds the record engine.
type RecordsConfig struct {
	MaxSearchResults    int           `env:"KYC_MAX_SEARCH_RESULTS" envDefault:"100"`
	MaxHistory          int           `env:"KYC_MAX_HISTORY" envDefault:"100"`
	StoreConcurrency    int           `env:"KYC_STORE_CONCURRENCY" envDefault:"8"`
	StoreTimeout        time.Duration `env:"KYC_STORE_TIMEOUT" envDefault:"10s"`
	UpstreamConcurrency int           `env:"KYC_UPSTREAM_CONCURRENCY" envDefault:"16"`
	UpstreamTimeout     time.Duration `env:"KYC_UPSTREAM_TIMEOUT" envDefault:"60s"`
	LockTimeout         time.Duration `env:"KYC_LOCK_TIMEOUT" envDefault:"5s"`
	IdempotencyTTL      time.Duration `env:"KYC_IDEMPOTENCY_TTL" envDefault:"24h"`
	AlignmentRetryDelay time.Duration `env:"KYC_ALIGNMENT_RETRY_DELAY" envDefault:"500ms"`
}

type SheetsConfig struct {
	SpreadsheetID   string `env:"KYC_SPREADSHEET_ID"`
	SpreadsheetName string `env:"KYC_SPREADSHEET_NAME" envDefault:"KYC_Verification_Records"`
	CredentialsPath string `env:"GOOGLE_CREDENTIALS_PATH"`
	DriveFolderID   string `env:"GOOGLE_DRIVE_FOLDER_ID"`
}

// RedisConfig is optional. An empty URL disables the distributed lock and
// the shared idempotency store.
type RedisConfig struct {
	URL          string        `env:"KYC_REDIS_URL"`
	PoolSize     int           `env:"KYC_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"KYC_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"KYC_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"KYC_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"KYC_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// KafkaConfig is optional. No brokers means no audit stream.
type KafkaConfig struct {
	Brokers    []string `env:"KYC_KAFKA_BROKERS" envSeparator:","`
	AuditTopic string   `env:"KYC_KAFKA_AUDIT_TOPIC" envDefault:"kyc.audit"`
}

type ProviderConfig struct {
	BaseURL  string `env:"SUREPASS_BASE_URL" envDefault:"https://kyc-api.surepass.io/api/v1"`
	APIToken string `env:"SUREPASS_API_TOKEN"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Database.Backend = strings.ToLower(strings.TrimSpace(cfg.Database.Backend))
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Database.Backend {
	case BackendSQLite, BackendPostgres, BackendMemory:
	case BackendSheets:
		if c.Database.Enabled && c.Sheets.CredentialsPath == "" {
			return fmt.Errorf("GOOGLE_CREDENTIALS_PATH is required for the sheets backend")
		}
	default:
		return fmt.Errorf("unknown KYC_STORAGE_BACKEND %q", c.Database.Backend)
	}
	if c.Records.MaxSearchResults <= 0 {
		return fmt.Errorf("KYC_MAX_SEARCH_RESULTS must be positive")
	}
	if c.Records.MaxHistory <= 0 {
		return fmt.Errorf("KYC_MAX_HISTORY must be positive")
	}
	if c.Records.StoreConcurrency <= 0 || c.Records.UpstreamConcurrency <= 0 {
		return fmt.Errorf("concurrency limits must be positive")
	}
	return nil
}
