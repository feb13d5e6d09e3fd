package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config holds every setting the trip server reads from the environment
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"` // development, production
	Port        string `env:"PORT" envDefault:"8080"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"triptrack"`

	// MongoDB
	MongoURI      string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"triptrack"`

	// Redis
	RedisAddr       string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`
	RedisMaxRetries int           `env:"REDIS_MAX_RETRIES" envDefault:"5"`
	RedisBackoff    time.Duration `env:"REDIS_BACKOFF" envDefault:"200ms"`

	// Auth
	AccessTokenSecret string        `env:"ACCESS_TOKEN_SECRET"`
	GuestTokenSecret  string        `env:"GUEST_TOKEN_SECRET"`
	AccessTokenTTL    time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"24h"`
	LoginCodeTTL      time.Duration `env:"LOGIN_CODE_TTL" envDefault:"10m"`

	// Trip runtime
	RuntimeTTL        time.Duration `env:"RUNTIME_TTL" envDefault:"24h"`
	TripCacheTTL      time.Duration `env:"TRIP_CACHE_TTL" envDefault:"1h"`
	RejoinResetsScore bool          `env:"REJOIN_RESETS_SCORE" envDefault:"true"`
	MessageMaxLen     int           `env:"MESSAGE_MAX_LEN" envDefault:"300"`

	// Reward images (S3 compatible)
	AWSRegion    string `env:"AWS_REGION" envDefault:"eu-central-1"`
	AWSBucket    string `env:"AWS_BUCKET_NAME"`
	AWSAccessKey string `env:"AWS_ACCESS_KEY"`
	AWSSecretKey string `env:"AWS_SECRET_KEY"`
	AWSEndpoint  string `env:"AWS_ENDPOINT"`

	// Trip lifecycle events
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"trip.events"`

	// Mapbox
	MapboxToken   string        `env:"MAPBOX_ACCESS_TOKEN"`
	DirectionsTTL time.Duration `env:"DIRECTIONS_TTL" envDefault:"20m"`

	// Tracing
	OTelEnabled      bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint     string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4318"`
	OTelSamplingRate float64 `env:"OTEL_SAMPLING_RATE" envDefault:"1.0"`

	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:5173"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // json, text
}

var (
	ErrMissingAccessSecret = errors.New("ACCESS_TOKEN_SECRET is required")
	ErrMissingGuestSecret  = errors.New("GUEST_TOKEN_SECRET is required")
	ErrMissingMongoURI     = errors.New("MONGO_URI is required")
)

// Load reads .env files (outside production) and then the process environment
func Load() (*Config, error) {
	envFile := ".env.development"
	if os.Getenv("ENVIRONMENT") == "production" {
		envFile = ".env"
	}
	// Missing files are fine, the environment may already be populated.
	_ = godotenv.Load(envFile)

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	cfg.RedisAddr = strings.TrimPrefix(cfg.RedisAddr, "redis://")
	return cfg, nil
}

// Validate returns every missing required setting
func (c *Config) Validate() []error {
	var errs []error
	if c.AccessTokenSecret == "" {
		errs = append(errs, ErrMissingAccessSecret)
	}
	if c.GuestTokenSecret == "" {
		errs = append(errs, ErrMissingGuestSecret)
	}
	if c.MongoURI == "" {
		errs = append(errs, ErrMissingMongoURI)
	}
	return errs
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// ImagesEnabled reports whether reward images can be stored
func (c *Config) ImagesEnabled() bool {
	return c.AWSBucket != "" && c.AWSAccessKey != "" && c.AWSSecretKey != ""
}
