package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (DELIVERY_ prefix), flags, or YAML config files.
type Config struct {
	Addr            string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage         string `default:"postgres" usage:"Storage backend: postgres or memory"`
	DatabaseURL     string `usage:"PostgreSQL connection URL (DELIVERY_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Database        DatabaseConfig
	APIKeyPepper    string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	StaffAPIKey     string `usage:"Staff API key registered at startup in memory mode" flag:"staff-api-key"`
	CatalogFile     string `default:"db/seed/catalog.json" usage:"Seed file loaded in memory mode (.json or .json.gz)" flag:"catalog-file"`
	ConfirmationURL string `default:"http://localhost:5173/verify" usage:"Payment confirmation page returned after checkout" flag:"confirmation-url"`
	Redis           RedisConfig
	Kafka           KafkaConfig
	WebSocket       WebSocketConfig
	RateLimit       RateLimitConfig
	CORS            CORSConfig
	Graceful        GracefulConfig
}

// DatabaseConfig sizes the connection pool.
type DatabaseConfig struct {
	MaxConns int32 `default:"10" usage:"Maximum pool connections"`
	MinConns int32 `default:"2" usage:"Minimum idle pool connections"`
}

// RedisConfig enables cross-instance notification fan-out when URL is set.
type RedisConfig struct {
	URL     string `usage:"Redis URL (DELIVERY_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	Channel string `default:"delivery.notifications" usage:"Pub/sub channel for notification relay"`
}

// KafkaConfig enables the order event stream when Brokers is set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"orders.lifecycle" usage:"Order lifecycle topic"`
	Buffer  int      `default:"1024" usage:"Queued events before new ones are dropped"`
}

// WebSocketConfig controls notification sessions.
type WebSocketConfig struct {
	SendBuffer   int           `default:"32" usage:"Frames queued per session"`
	WriteTimeout time.Duration `default:"10s" usage:"Deadline for a single frame write"`
	PingInterval time.Duration `default:"30s" usage:"Keepalive ping interval"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "DELIVERY",
		Files:     []string{"config.yaml", "/etc/delivery/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set DELIVERY_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}
	if c.Kafka.Buffer <= 0 {
		return errors.New("kafka buffer must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT onto the DELIVERY_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Redis.URL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.Redis.URL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
