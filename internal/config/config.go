package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName       string
	AppVersion    string
	Environment   string
	HTTPAddr      string
	SnowflakeNode int64

	OTLPEndpoint string

	DBType                   string
	DBHost                   string
	DBPort                   string
	DBName                   string
	DBUser                   string
	DBPassword               string
	DBSSLMode                string
	DBMaxIdleConn            int
	DBMaxOpenConn            int
	DBConnMaxLifetimeSeconds int
	DBMigrateOnStart         bool

	Gateway      GatewayConfig
	Notification NotificationConfig
	Lock         LockConfig

	OutboxConfigPath string
}

type GatewayConfig struct {
	Provider  string
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
}

type NotificationConfig struct {
	Brokers  []string
	ClientID string
	Topic    string
}

type LockConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
	Wait          time.Duration
}

const (
	GatewayIamport = "iamport"
	GatewaySandbox = "sandbox"

	LockBackendLocal = "local"
	LockBackendRedis = "redis"

	DefaultNotificationTopic = "subscription.paymentComplete"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "paymentsvc"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		SnowflakeNode: getenvInt64("SNOWFLAKE_NODE", 1),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:                   strings.ToLower(getenv("DATABASE_TYPE", "postgres")),
		DBHost:                   getenv("DATABASE_HOST", "localhost"),
		DBPort:                   getenv("DATABASE_PORT", "5432"),
		DBName:                   getenv("DATABASE_NAME", "payments"),
		DBUser:                   getenv("DATABASE_USER", "postgres"),
		DBPassword:               getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:                getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:            getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:            getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetimeSeconds: getenvInt("DATABASE_CONN_MAX_LIFETIME_SECONDS", 300),
		DBMigrateOnStart:         getenvBool("DATABASE_MIGRATE_ON_START", true),

		Gateway: GatewayConfig{
			Provider:  strings.ToLower(getenv("GATEWAY_PROVIDER", GatewaySandbox)),
			BaseURL:   strings.TrimRight(getenv("GATEWAY_BASE_URL", "https://api.iamport.kr"), "/"),
			APIKey:    strings.TrimSpace(getenv("GATEWAY_API_KEY", "")),
			APISecret: strings.TrimSpace(getenv("GATEWAY_API_SECRET", "")),
			Timeout:   getenvDuration("GATEWAY_TIMEOUT", 10*time.Second),
			RateLimit: getenvFloat("GATEWAY_RATE_LIMIT", 10),
			RateBurst: getenvInt("GATEWAY_RATE_BURST", 20),
		},
		Notification: NotificationConfig{
			Brokers:  splitList(getenv("KAFKA_BROKERS", "")),
			ClientID: getenv("KAFKA_CLIENT_ID", "paymentsvc"),
			Topic:    getenv("NOTIFICATION_TOPIC", DefaultNotificationTopic),
		},
		Lock: LockConfig{
			Backend:       strings.ToLower(getenv("LOCK_BACKEND", LockBackendLocal)),
			RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			RedisPassword: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			RedisDB:       getenvInt("REDIS_DB", 0),
			TTL:           getenvDuration("LOCK_TTL", 30*time.Second),
			Wait:          getenvDuration("LOCK_WAIT", 5*time.Second),
		},
		OutboxConfigPath: getenv("OUTBOX_CONFIG_PATH", "./config"),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go duration strings ("15s") or plain seconds ("15").
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return def
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
