package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates runtime configuration for the Ciphare API.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Postgres PostgresConfig
	MinIO    MinIOConfig
	S3       S3Config
	Bolt     BoltConfig
	Share    ShareConfig
	Janitor  JanitorConfig
	Admin    AdminConfig
	Metrics  MetricsConfig
	Log      LogConfig
}

// ServerConfig parameterizes the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int `validate:"min=1,max=65535"`
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects the metadata and blob backends.
type StorageConfig struct {
	MetadataBackend string        `validate:"oneof=postgres bolt"`
	BlobBackend     string        `validate:"oneof=minio s3"`
	BlobPrefix      string        `validate:"required"`
	OpTimeout       time.Duration `validate:"gt=0"`
}

// PostgresConfig contains PostgreSQL connection details.
type PostgresConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Database      string
	SSLMode       string
	MaxConns      int32
	RunMigrations bool
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// MigrationURL returns the DSN in the form expected by the golang-migrate pgx/v5 driver.
func (p PostgresConfig) MigrationURL() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// MinIOConfig carries MinIO connection and bucket information.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
}

// S3Config carries settings for AWS S3 or an S3-compatible service such as Cloudflare R2.
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UsePathStyle    bool
}

// BoltConfig locates the embedded metadata database.
type BoltConfig struct {
	Path        string
	OpenTimeout time.Duration
}

// ShareConfig bounds what a single upload may request.
type ShareConfig struct {
	MaxPayloadBytes     int64         `validate:"gt=0"`
	MinTTL              time.Duration `validate:"gt=0"`
	MaxTTL              time.Duration `validate:"gtfield=MinTTL"`
	MaxReads            int           `validate:"gt=0"`
	PublicBaseURL       string        `validate:"required,url"`
	CompensationTimeout time.Duration `validate:"gt=0"`
}

// JanitorConfig drives the expiry sweeper and the orphan collector.
type JanitorConfig struct {
	SweepEnabled  bool
	SweepInterval time.Duration `validate:"gt=0"`
	GCEnabled     bool
	GCInterval    time.Duration `validate:"gt=0"`
	Grace         time.Duration `validate:"gte=0"`
	BatchSize     int           `validate:"gt=0,lte=1000"`
	DryRun        bool
}

// AdminConfig configures the operator API. An empty secret disables it.
type AdminConfig struct {
	TokenSecret string `validate:"omitempty,min=32"`
	TokenTTL    time.Duration
}

// Enabled reports whether operator routes should be mounted.
func (a AdminConfig) Enabled() bool {
	return a.TokenSecret != ""
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string `validate:"startswith=/"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level       string `validate:"oneof=debug info warn error"`
	Development bool
}

// Load reads configuration values from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:         getString("CIPHARE_API_HOST", "0.0.0.0"),
			Port:         getInt("CIPHARE_API_PORT", 8080),
			ReadTimeout:  getDuration("CIPHARE_API_READ_TIMEOUT", 60*time.Second),
			WriteTimeout: getDuration("CIPHARE_API_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getDuration("CIPHARE_API_IDLE_TIMEOUT", 60*time.Second),
		},
		Storage: StorageConfig{
			MetadataBackend: strings.ToLower(getString("CIPHARE_METADATA_BACKEND", "postgres")),
			BlobBackend:     strings.ToLower(getString("CIPHARE_BLOB_BACKEND", "minio")),
			BlobPrefix:      getString("CIPHARE_BLOB_PREFIX", "encrypted/"),
			OpTimeout:       getDuration("CIPHARE_STORAGE_TIMEOUT", 30*time.Second),
		},
		Postgres: PostgresConfig{
			Host:          getString("POSTGRES_HOST", "localhost"),
			Port:          getInt("POSTGRES_PORT", 5432),
			User:          getString("POSTGRES_USER", "ciphare_app"),
			Password:      getString("POSTGRES_PASSWORD", "change-me"),
			Database:      getString("POSTGRES_DB", "ciphare"),
			SSLMode:       strings.ToLower(getString("POSTGRES_SSL_MODE", "disable")),
			MaxConns:      int32(getInt("POSTGRES_MAX_CONNS", 0)),
			RunMigrations: getBool("POSTGRES_RUN_MIGRATIONS", true),
		},
		MinIO: MinIOConfig{
			Endpoint:        getString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getString("MINIO_ROOT_USER", "ciphare"),
			SecretAccessKey: getString("MINIO_ROOT_PASSWORD", "change-me-strong-password"),
			Bucket:          getString("MINIO_BUCKET", "ciphare"),
			UseSSL:          getBool("MINIO_USE_SSL", false),
			Region:          getString("MINIO_REGION", ""),
		},
		S3: loadS3Config(),
		Bolt: BoltConfig{
			Path:        getString("CIPHARE_BOLT_PATH", "data/ciphare.db"),
			OpenTimeout: getDuration("CIPHARE_BOLT_OPEN_TIMEOUT", 5*time.Second),
		},
		Share: ShareConfig{
			MaxPayloadBytes:     getInt64("CIPHARE_MAX_PAYLOAD_BYTES", 100*1024*1024),
			MinTTL:              getDuration("CIPHARE_MIN_TTL", time.Minute),
			MaxTTL:              getDuration("CIPHARE_MAX_TTL", 90*24*time.Hour),
			MaxReads:            getInt("CIPHARE_MAX_READS", 100),
			PublicBaseURL:       strings.TrimRight(getString("CIPHARE_PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
			CompensationTimeout: getDuration("CIPHARE_COMPENSATION_TIMEOUT", 10*time.Second),
		},
		Janitor: JanitorConfig{
			SweepEnabled:  getBool("CIPHARE_SWEEP_ENABLED", true),
			SweepInterval: getDuration("CIPHARE_SWEEP_INTERVAL", time.Minute),
			GCEnabled:     getBool("CIPHARE_GC_ENABLED", true),
			GCInterval:    getDuration("CIPHARE_GC_INTERVAL", 6*time.Hour),
			Grace:         getDuration("CIPHARE_JANITOR_GRACE", 5*time.Minute),
			BatchSize:     getInt("CIPHARE_JANITOR_BATCH_SIZE", 500),
			DryRun:        getBool("CIPHARE_GC_DRY_RUN", false),
		},
		Admin: AdminConfig{
			TokenSecret: getString("CIPHARE_ADMIN_TOKEN_SECRET", ""),
			TokenTTL:    getDuration("CIPHARE_ADMIN_TOKEN_TTL", time.Hour),
		},
		Metrics: MetricsConfig{
			PrometheusPath: getString("CIPHARE_METRICS_PATH", "/metrics"),
		},
		Log: LogConfig{
			Level:       strings.ToLower(getString("LOG_LEVEL", "info")),
			Development: getBool("LOG_DEVELOPMENT", false),
		},
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.ToLower(strings.TrimSpace(val))
		switch val {
		case "1", "true", "t", "yes", "y":
			return true
		case "0", "false", "f", "no", "n":
			return false
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func loadS3Config() S3Config {
	cfg := S3Config{
		Endpoint:        getString("S3_ENDPOINT", ""),
		Region:          getString("S3_REGION", "auto"),
		AccessKeyID:     getString("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getString("S3_SECRET_ACCESS_KEY", ""),
		Bucket:          getString("S3_BUCKET", "ciphare"),
		UsePathStyle:    getBool("S3_USE_PATH_STYLE", false),
	}

	// Cloudflare R2 endpoints are derived from the account id.
	if cfg.Endpoint == "" {
		if account := getString("R2_ACCOUNT_ID", ""); account != "" {
			cfg.Endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", account)
		}
	}
	return cfg
}
