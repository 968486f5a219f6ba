package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/simple-assets/pkg/simpleassets"
)

// MinSecretLength is the shortest accepted HS256 signing key
const MinSecretLength = 32

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// ServerConfig represents server configuration for the simple-assets service
type ServerConfig struct {
	Port        string `env:"PORT" env-default:"8080" yaml:"port"`
	Environment string `env:"ENVIRONMENT" env-default:"development" yaml:"environment"` // development, production, testing
	LogLevel    string `env:"LOG_LEVEL" env-default:"info" yaml:"log_level"`

	// Database configuration
	DatabaseURL string `env:"DATABASE_URL" env-default:"memory" yaml:"database_url"` // "memory" or postgres://...
	DBSchema    string `env:"DB_SCHEMA" env-default:"assets" yaml:"db_schema"`

	// Chunk storage: memory://, file:///dir, s3://bucket, badger:///dir, database://
	StorageURL    string `env:"STORAGE_URL" env-default:"memory://" yaml:"storage_url"`
	StorageLayout string `env:"STORAGE_LAYOUT" env-default:"flat" yaml:"storage_layout"`
	S3            S3Config `yaml:"s3"`

	JWT JWTConfig `yaml:"jwt"`

	ChunkSize             int           `env:"CHUNK_SIZE" env-default:"261120" yaml:"chunk_size"`
	LockoutThreshold      int           `env:"LOCKOUT_THRESHOLD" env-default:"5" yaml:"lockout_threshold"`
	LockoutWindow         time.Duration `env:"LOCKOUT_WINDOW" env-default:"5m" yaml:"lockout_window"`
	AllocationMaxAttempts int           `env:"ALLOCATION_MAX_ATTEMPTS" env-default:"10" yaml:"allocation_max_attempts"`
	RoleCacheTTL          time.Duration `env:"ROLE_CACHE_TTL" env-default:"5m" yaml:"role_cache_ttl"`

	RequiredFields []string `env:"METADATA_REQUIRED_FIELDS" env-default:"info,address,date,title" env-separator:"," yaml:"required_fields"`
	OptionalFields []string `env:"METADATA_OPTIONAL_FIELDS" env-default:"author,link" env-separator:"," yaml:"optional_fields"`

	// HTTP options
	LoginRatePerMinute int           `env:"LOGIN_RATE_PER_MINUTE" env-default:"30" yaml:"login_rate_per_minute"`
	LoginRateBurst     int           `env:"LOGIN_RATE_BURST" env-default:"10" yaml:"login_rate_burst"`
	MaxUploadMemory    int64         `env:"MAX_UPLOAD_MEMORY" env-default:"33554432" yaml:"max_upload_memory"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" env-default:"*" env-separator:"," yaml:"cors_allowed_origins"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"15s" yaml:"shutdown_timeout"`

	// Maintenance
	OrphanUploadAge    time.Duration `env:"ORPHAN_UPLOAD_AGE" env-default:"24h" yaml:"orphan_upload_age"`
	EnableEventLogging bool          `env:"ENABLE_EVENT_LOGGING" env-default:"true" yaml:"enable_event_logging"`
}

// JWTConfig holds the token signing settings. All three values are required.
type JWTConfig struct {
	Secret        string        `env:"JWT_SECRET" yaml:"secret"`
	ValidIssuer   string        `env:"JWT_VALID_ISSUER" yaml:"valid_issuer"`
	ValidAudience string        `env:"JWT_VALID_AUDIENCE" yaml:"valid_audience"`
	TokenLifetime time.Duration `env:"TOKEN_LIFETIME" env-default:"3h" yaml:"token_lifetime"`
}

// S3Config holds credentials and options for the s3:// chunk backend
type S3Config struct {
	Region                 string `env:"AWS_REGION" env-default:"us-east-1" yaml:"region"`
	AccessKeyID            string `env:"AWS_ACCESS_KEY_ID" yaml:"access_key_id"`
	SecretAccessKey        string `env:"AWS_SECRET_ACCESS_KEY" yaml:"secret_access_key"`
	Endpoint               string `env:"AWS_S3_ENDPOINT" yaml:"endpoint"`
	UsePathStyle           bool   `env:"AWS_S3_USE_PATH_STYLE" env-default:"false" yaml:"use_path_style"`
	EnableSSE              bool   `env:"S3_ENABLE_SSE" env-default:"false" yaml:"enable_sse"`
	SSEAlgorithm           string `env:"S3_SSE_ALGORITHM" env-default:"AES256" yaml:"sse_algorithm"`
	SSEKMSKeyID            string `env:"S3_SSE_KMS_KEY_ID" yaml:"sse_kms_key_id"`
	CreateBucketIfNotExist bool   `env:"S3_CREATE_BUCKET_IF_NOT_EXIST" env-default:"false" yaml:"create_bucket_if_not_exist"`
}

// Load reads the configuration from the environment, or from the file named
// by CONFIG_FILE with environment overrides, applies the options and validates
// the result.
func Load(opts ...Option) (*ServerConfig, error) {
	var cfg ServerConfig

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate validates the server configuration. Every failure is a
// *simpleassets.ConfigurationError naming the offending variable.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return &simpleassets.ConfigurationError{Field: "PORT"}
	}

	if c.JWT.Secret == "" {
		return &simpleassets.ConfigurationError{Field: "JWT_SECRET"}
	}
	if len(c.JWT.Secret) < MinSecretLength {
		return &simpleassets.ConfigurationError{Field: "JWT_SECRET", Reason: fmt.Sprintf("must be at least %d bytes", MinSecretLength)}
	}
	if c.JWT.ValidIssuer == "" {
		return &simpleassets.ConfigurationError{Field: "JWT_VALID_ISSUER"}
	}
	if c.JWT.ValidAudience == "" {
		return &simpleassets.ConfigurationError{Field: "JWT_VALID_AUDIENCE"}
	}

	if _, err := c.databaseKind(); err != nil {
		return err
	}
	loc, err := ParseStorageURL(c.StorageURL)
	if err != nil {
		return err
	}
	if loc.Kind == StorageDatabase && !c.UsesPostgres() {
		return &simpleassets.ConfigurationError{Field: "STORAGE_URL", Reason: "database:// requires a postgres DATABASE_URL"}
	}

	positive := []struct {
		field string
		value int64
	}{
		{"CHUNK_SIZE", int64(c.ChunkSize)},
		{"LOCKOUT_THRESHOLD", int64(c.LockoutThreshold)},
		{"LOCKOUT_WINDOW", int64(c.LockoutWindow)},
		{"ALLOCATION_MAX_ATTEMPTS", int64(c.AllocationMaxAttempts)},
		{"LOGIN_RATE_PER_MINUTE", int64(c.LoginRatePerMinute)},
		{"LOGIN_RATE_BURST", int64(c.LoginRateBurst)},
		{"MAX_UPLOAD_MEMORY", c.MaxUploadMemory},
		{"ORPHAN_UPLOAD_AGE", int64(c.OrphanUploadAge)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &simpleassets.ConfigurationError{Field: p.field, Reason: "must be positive"}
		}
	}

	if len(c.RequiredFields) == 0 {
		return &simpleassets.ConfigurationError{Field: "METADATA_REQUIRED_FIELDS"}
	}

	return nil
}

// UsesPostgres reports whether DATABASE_URL names a Postgres server
func (c *ServerConfig) UsesPostgres() bool {
	kind, err := c.databaseKind()
	return err == nil && kind == "postgres"
}

// IsProduction reports whether the server runs in the production environment
func (c *ServerConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c *ServerConfig) databaseKind() (string, error) {
	switch {
	case c.DatabaseURL == "" || c.DatabaseURL == "memory":
		return "memory", nil
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return "postgres", nil
	}
	return "", &simpleassets.ConfigurationError{Field: "DATABASE_URL", Reason: "use 'memory' or 'postgres://...'"}
}

// TokenConfig returns the token settings for the service
func (c *ServerConfig) TokenConfig() simpleassets.TokenConfig {
	return simpleassets.TokenConfig{
		SigningKey: []byte(c.JWT.Secret),
		Issuer:     c.JWT.ValidIssuer,
		Audience:   c.JWT.ValidAudience,
		Lifetime:   c.JWT.TokenLifetime,
	}
}
