package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

// Config holds every setting the service reads at start-up.
type Config struct {
	Port     string
	LogLevel slog.Level
	DB       DBConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	Relay    RelayConfig
	Tracing  TracingConfig
	CORS     []string
}

type DBConfig struct {
	Driver string
	DSN    string
}

type RedisConfig struct {
	Addr     string
	Password string
	TTL      time.Duration
}

// Enabled reports whether a Redis address was configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

type RabbitMQConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	VHost    string
}

func (c RabbitMQConfig) Enabled() bool { return c.Host != "" }

// URL builds the AMQP connection string.
func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s%s", c.User, c.Password, c.Host, c.Port, c.VHost)
}

type RelayConfig struct {
	URL       string
	Timeout   time.Duration
	AuthToken string
}

func (c RelayConfig) Enabled() bool { return c.URL != "" }

type TracingConfig struct {
	Endpoint    string
	ServiceName string
	Environment string
}

func (c TracingConfig) Enabled() bool { return c.Endpoint != "" }

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn(".env file not found, using process environment")
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     getEnv("RABBITMQ_HOST", ""),
			Port:     getEnv("RABBITMQ_PORT", "5672"),
			User:     getEnv("RABBITMQ_USER", "guest"),
			Password: getEnv("RABBITMQ_PASSWORD", "guest"),
			VHost:    getEnv("RABBITMQ_VHOST", "/"),
		},
		Relay: RelayConfig{
			URL:       strings.TrimRight(getEnv("RELAY_URL", ""), "/"),
			AuthToken: getEnv("SERVICE_AUTH_TOKEN", ""),
		},
		Tracing: TracingConfig{
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "stock-trading-backend"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		CORS: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
	}

	var err error
	if cfg.LogLevel, err = parseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		return nil, err
	}
	if cfg.Redis.TTL, err = time.ParseDuration(getEnv("CACHE_TTL", "15s")); err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}
	if cfg.Relay.Timeout, err = time.ParseDuration(getEnv("RELAY_TIMEOUT", "10s")); err != nil {
		return nil, fmt.Errorf("invalid RELAY_TIMEOUT: %w", err)
	}
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT %q", cfg.Port)
	}
	if cfg.DB, err = loadDB(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDB() (DBConfig, error) {
	driver := strings.ToLower(getEnv("DB_DRIVER", "postgres"))
	switch driver {
	case "postgres":
		dsn := getEnv("DATABASE_URL", "")
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
				getEnv("DB_HOST", "localhost"),
				getEnv("DB_PORT", "5432"),
				getEnv("DB_USER", "postgres"),
				getEnv("DB_PASSWORD", ""),
				getEnv("DB_NAME", "trading_db"))
		}
		return DBConfig{Driver: driver, DSN: dsn}, nil
	case "mysql":
		dsn, err := MySQLDSN(getEnv("MYSQL_DSN", "root@tcp(localhost:3306)/trading_db"))
		if err != nil {
			return DBConfig{}, err
		}
		return DBConfig{Driver: driver, DSN: dsn}, nil
	case "sqlite":
		return DBConfig{Driver: driver, DSN: getEnv("SQLITE_PATH", "trading.db")}, nil
	default:
		return DBConfig{}, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
}

// MySQLDSN forces the options the store relies on: DATETIME columns
// scanned into time.Time, UTC timestamps and matched (not changed) row
// counts from UPDATE.
func MySQLDSN(raw string) (string, error) {
	mc, err := mysql.ParseDSN(raw)
	if err != nil {
		return "", fmt.Errorf("invalid MYSQL_DSN: %w", err)
	}
	mc.ParseTime = true
	mc.ClientFoundRows = true
	mc.Loc = time.UTC
	return mc.FormatDSN(), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
