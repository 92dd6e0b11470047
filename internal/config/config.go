package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the environment driven configuration for the capsule service.
type Config struct {
	// Service Configuration
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"capsule-api"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort        int           `env:"CAPSULE_API_PORT" envDefault:"8290"`
	LogLevel        string        `env:"CAPSULE_LOG_LEVEL" envDefault:"info"`
	EnableTracing   bool          `env:"ENABLE_TRACING" envDefault:"false"`
	OTLPEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Database - Read/Write Split (required, no defaults)
	DBPostgresqlWriteDSN string `env:"DB_POSTGRESQL_WRITE_DSN,notEmpty"`
	DBPostgresqlRead1DSN string `env:"DB_POSTGRESQL_READ1_DSN"` // Optional read replica

	// Database Connection Pool
	DBMaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBMaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"15"`
	DBConnLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// Redis cache (runtime manifests + safety blocklist). Optional.
	RedisURL string `env:"CAPSULE_REDIS_URL"`

	// Storage Backend Selection
	StorageBackend string `env:"CAPSULE_STORAGE_BACKEND" envDefault:"s3"` // Options: "s3" or "local"

	// Local Storage Configuration
	LocalStoragePath string `env:"CAPSULE_LOCAL_STORAGE_PATH"`

	// S3 Storage Configuration
	S3Endpoint     string `env:"CAPSULE_S3_ENDPOINT"`
	S3Region       string `env:"CAPSULE_S3_REGION" envDefault:"us-west-2"`
	S3Bucket       string `env:"CAPSULE_S3_BUCKET"`
	S3AccessKeyID  string `env:"CAPSULE_S3_ACCESS_KEY_ID"`
	S3SecretKey    string `env:"CAPSULE_S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle bool   `env:"CAPSULE_S3_USE_PATH_STYLE" envDefault:"true"`

	// Publish Pipeline Configuration
	MaxBundleFiles    int           `env:"CAPSULE_MAX_BUNDLE_FILES" envDefault:"64"`
	ClassifierTimeout time.Duration `env:"CAPSULE_CLASSIFIER_TIMEOUT" envDefault:"5s"`
	CompileTimeout    time.Duration `env:"CAPSULE_COMPILE_TIMEOUT" envDefault:"15s"`
	QuotaRetryLimit   int           `env:"CAPSULE_QUOTA_RETRY_LIMIT" envDefault:"4"`
	ScorerURL         string        `env:"CAPSULE_SAFETY_SCORER_URL"` // optional external scorer
	BlockedHashes     []string      `env:"CAPSULE_BLOCKED_HASHES" envSeparator:","`

	// Sandbox runtime assets served to the execution frame.
	RuntimeVersion   string `env:"CAPSULE_RUNTIME_VERSION" envDefault:"2"`
	BridgeURL        string `env:"CAPSULE_BRIDGE_URL" envDefault:"/runtime/bridge.js"`
	GuardURL         string `env:"CAPSULE_GUARD_URL" envDefault:"/runtime/guard.js"`
	RuntimeScriptURL string `env:"CAPSULE_RUNTIME_SCRIPT_URL" envDefault:"/runtime/loader.js"`
	BundleOrigin     string `env:"CAPSULE_BUNDLE_ORIGIN"`

	// NetworkPolicy controls the sandbox connect-src directive.
	// "restricted" limits egress to the bundle origin; "https-egress" allows
	// general HTTPS calls.
	NetworkPolicy string `env:"CAPSULE_NETWORK_POLICY" envDefault:"restricted"`

	// Authentication
	AuthEnabled bool   `env:"AUTH_ENABLED" envDefault:"false"`
	AuthIssuer  string `env:"AUTH_ISSUER"`
	AuthJWKSURL string `env:"AUTH_JWKS_URL"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.S3Bucket = strings.TrimSpace(cfg.S3Bucket)
	cfg.S3AccessKeyID = strings.TrimSpace(cfg.S3AccessKeyID)
	cfg.S3SecretKey = strings.TrimSpace(cfg.S3SecretKey)
	cfg.S3Endpoint = strings.TrimSpace(cfg.S3Endpoint)

	switch strings.ToLower(strings.TrimSpace(cfg.NetworkPolicy)) {
	case "", "restricted":
		cfg.NetworkPolicy = "restricted"
	case "https-egress":
		cfg.NetworkPolicy = "https-egress"
	default:
		return nil, fmt.Errorf("unknown CAPSULE_NETWORK_POLICY %q", cfg.NetworkPolicy)
	}

	if cfg.QuotaRetryLimit <= 0 {
		cfg.QuotaRetryLimit = 4
	}
	if cfg.AuthEnabled {
		if strings.TrimSpace(cfg.AuthIssuer) == "" {
			return nil, fmt.Errorf("AUTH_ISSUER is required when AUTH_ENABLED is true")
		}
		if strings.TrimSpace(cfg.AuthJWKSURL) == "" {
			return nil, fmt.Errorf("AUTH_JWKS_URL is required when AUTH_ENABLED is true")
		}
	}
	return cfg, nil
}

// GetDatabaseWriteDSN returns the write database connection string.
func (c *Config) GetDatabaseWriteDSN() string {
	return c.DBPostgresqlWriteDSN
}

// GetDatabaseReadDSN returns the read database connection string.
// If DB_POSTGRESQL_READ1_DSN is set, it returns that.
// Otherwise, falls back to write DSN (no replica configured).
func (c *Config) GetDatabaseReadDSN() string {
	if c.DBPostgresqlRead1DSN != "" {
		return c.DBPostgresqlRead1DSN
	}
	return c.GetDatabaseWriteDSN()
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// IsLocalStorage returns true if local storage backend is configured.
func (c *Config) IsLocalStorage() bool {
	return strings.ToLower(strings.TrimSpace(c.StorageBackend)) == "local"
}

// IsS3Storage returns true if S3 storage backend is configured.
func (c *Config) IsS3Storage() bool {
	backend := strings.ToLower(strings.TrimSpace(c.StorageBackend))
	return backend == "" || backend == "s3"
}

// AllowsHTTPSEgress reports whether sandboxed capsules may reach arbitrary
// HTTPS origins.
func (c *Config) AllowsHTTPSEgress() bool {
	return c.NetworkPolicy == "https-egress"
}
