package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/crypto/bcrypt"
)

// DevelopmentSecret is the signing secret used when none is configured. It is
// only accepted in the development environment.
const DevelopmentSecret = "change-me-in-production"

// Store drivers
const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverDynamoDB = "dynamodb"
)

type Config struct {
	Server        ServerConfig        `envconfig:"SERVER"`
	Store         StoreConfig         `envconfig:"STORE"`
	Mongo         MongoConfig         `envconfig:"MONGO"`
	DynamoDB      DynamoDBConfig      `envconfig:"DYNAMODB"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	JWT           JWTConfig           `envconfig:"JWT"`
	Hashing       HashingConfig       `envconfig:"HASHING"`
	S3            S3Config            `envconfig:"S3"`
	Images        ImagesConfig        `envconfig:"IMAGES"`
	RateLimit     RateLimitConfig     `envconfig:"RATE_LIMIT"`
	Idempotency   IdempotencyConfig   `envconfig:"IDEMPOTENCY"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
	CORS          CORSConfig          `envconfig:"CORS"`
	Log           LogConfig           `envconfig:"LOG"`
	AWS           AWSConfig           `envconfig:"AWS"`
}

type AWSConfig struct {
	Region     string `envconfig:"REGION" default:"us-east-1"`
	Profile    string `envconfig:"PROFILE" default:""`
	SecretName string `envconfig:"SECRET_NAME" default:""`
}

type ServerConfig struct {
	Port         string        `envconfig:"PORT" default:"8000"`
	Environment  string        `envconfig:"ENVIRONMENT" default:"development"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`
	BodyLimit    int           `envconfig:"BODY_LIMIT" default:"10485760"` // multipart image uploads
}

type StoreConfig struct {
	Driver         string        `envconfig:"DRIVER" default:"memory"`
	Timeout        time.Duration `envconfig:"TIMEOUT" default:"5s"`
	EnsureIndexes  bool          `envconfig:"ENSURE_INDEXES" default:"true"`
	MetricsEnabled bool          `envconfig:"METRICS_ENABLED" default:"true"`
}

type MongoConfig struct {
	URI         string        `envconfig:"URI" default:"mongodb://localhost:27017"`
	Database    string        `envconfig:"DATABASE" default:"chillspot"`
	MaxPoolSize uint64        `envconfig:"MAX_POOL_SIZE" default:"100"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"10s"`
}

type DynamoDBConfig struct {
	TablePrefix string `envconfig:"TABLE_PREFIX" default:"chillspot-"`
	Region      string `envconfig:"REGION" default:"us-east-1"`
	Endpoint    string `envconfig:"ENDPOINT" default:""` // local DynamoDB
}

type RedisConfig struct {
	Enabled             bool          `envconfig:"ENABLED" default:"false"`
	Address             string        `envconfig:"ADDRESS" default:"localhost:6379"`
	Password            string        `envconfig:"PASSWORD" default:""`
	Database            int           `envconfig:"DATABASE" default:"0"`
	MaxRetries          int           `envconfig:"MAX_RETRIES" default:"3"`
	PoolSize            int           `envconfig:"POOL_SIZE" default:"100"`
	PoolTimeout         time.Duration `envconfig:"POOL_TIMEOUT" default:"4s"`
	MinIdleConns        int           `envconfig:"MIN_IDLE_CONNS" default:"10"`
	MaxConnAge          time.Duration `envconfig:"MAX_CONN_AGE" default:"30m"`
	TLSEnabled          bool          `envconfig:"TLS_ENABLED" default:"false"`
	PasswordFromSecrets bool          `envconfig:"PASSWORD_FROM_SECRETS" default:"false"`
}

type JWTConfig struct {
	Secret            string        `envconfig:"SECRET" default:"change-me-in-production"`
	TTL               time.Duration `envconfig:"TTL" default:"168h"` // 7 days
	Issuer            string        `envconfig:"ISSUER" default:"chillspot-api"`
	SecretFromSecrets bool          `envconfig:"SECRET_FROM_SECRETS" default:"false"`
}

type HashingConfig struct {
	Cost int `envconfig:"COST" default:"10"`
}

type S3Config struct {
	Enabled         bool   `envconfig:"ENABLED" default:"false"`
	Bucket          string `envconfig:"BUCKET" default:"chillspot-images"`
	Region          string `envconfig:"REGION" default:"us-east-1"`
	Endpoint        string `envconfig:"ENDPOINT" default:""` // S3-compatible storage
	AccessKeyID     string `envconfig:"ACCESS_KEY_ID" default:""`
	SecretAccessKey string `envconfig:"SECRET_ACCESS_KEY" default:""`
	PublicURL       string `envconfig:"PUBLIC_URL" default:""`
	UsePathStyle    bool   `envconfig:"USE_PATH_STYLE" default:"false"`
}

type ImagesConfig struct {
	DefaultAvatars []string `envconfig:"DEFAULT_AVATARS" default:"avatars/default-1.png,avatars/default-2.png,avatars/default-3.png,avatars/default-4.png"`
	MaxSize        int64    `envconfig:"MAX_SIZE" default:"5242880"`
}

type RateLimitConfig struct {
	RPS         int           `envconfig:"RPS" default:"50"`
	Burst       int           `envconfig:"BURST" default:"100"`
	WindowSize  time.Duration `envconfig:"WINDOW_SIZE" default:"1s"`
	Enabled     bool          `envconfig:"ENABLED" default:"true"`
	ExemptPaths []string      `envconfig:"EXEMPT_PATHS" default:"/healthz,/readyz,/metrics"`
}

type IdempotencyConfig struct {
	Required bool          `envconfig:"REQUIRED" default:"false"`
	TTL      time.Duration `envconfig:"TTL" default:"5m"`
}

type ObservabilityConfig struct {
	MetricsPath    string  `envconfig:"METRICS_PATH" default:"/metrics"`
	OTLPEndpoint   string  `envconfig:"OTLP_ENDPOINT" default:"http://localhost:4318"`
	TracingEnabled bool    `envconfig:"TRACING_ENABLED" default:"false"`
	TraceExporter  string  `envconfig:"TRACE_EXPORTER" default:"otlp"` // otlp or stdout
	SampleRate     float64 `envconfig:"SAMPLE_RATE" default:"0.1"`
}

type CORSConfig struct {
	AllowOrigins string `envconfig:"ALLOW_ORIGINS" default:"*"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from environment variables only.
func FromEnv() (*Config, error) {
	var cfg Config

	// Load from environment variables
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	// Additional processing for slice fields that envconfig doesn't handle well
	cfg.RateLimit.ExemptPaths = splitList(cfg.RateLimit.ExemptPaths)
	cfg.Images.DefaultAvatars = splitList(cfg.Images.DefaultAvatars)

	// Validate required fields
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func validateConfig(cfg *Config) error {
	// Validate port
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %s", cfg.Server.Port)
	}

	switch cfg.Store.Driver {
	case DriverMemory, DriverMongo, DriverDynamoDB:
	default:
		return fmt.Errorf("invalid store driver: %s", cfg.Store.Driver)
	}

	if cfg.Hashing.Cost < bcrypt.MinCost || cfg.Hashing.Cost > bcrypt.MaxCost {
		return fmt.Errorf("invalid hashing cost: %d", cfg.Hashing.Cost)
	}

	// The development secret is refused outside development unless the
	// real one is fetched from Secrets Manager at startup.
	if !cfg.JWT.SecretFromSecrets {
		if cfg.JWT.Secret == "" {
			return errors.New("JWT_SECRET is required")
		}
		if cfg.JWT.Secret == DevelopmentSecret && cfg.Server.Environment != "development" {
			return fmt.Errorf("JWT_SECRET must be set in %s", cfg.Server.Environment)
		}
	}

	if cfg.JWT.TTL <= 0 {
		return fmt.Errorf("invalid token ttl: %s", cfg.JWT.TTL)
	}

	// Validate sample rate
	if cfg.Observability.SampleRate < 0 || cfg.Observability.SampleRate > 1 {
		return fmt.Errorf("invalid tracing sample rate: %f", cfg.Observability.SampleRate)
	}

	return nil
}
