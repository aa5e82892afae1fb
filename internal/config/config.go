package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the restaurant system
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Redis    RedisConfig    `yaml:"redis"`
	Stripe   StripeConfig   `yaml:"stripe"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// RabbitMQConfig holds RabbitMQ connection configuration
type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// RedisConfig holds Redis connection and key lifetime configuration
type RedisConfig struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	Password          string `yaml:"password"`
	DB                int    `yaml:"db"`
	CatalogTTLSeconds int    `yaml:"catalog_ttl_seconds"`
	IdempotencyTTLSec int    `yaml:"idempotency_ttl_seconds"`
}

// StripeConfig holds payment provider configuration
type StripeConfig struct {
	SecretKey      string `yaml:"secret_key"`
	WebhookSecret  string `yaml:"webhook_secret"`
	Currency       string `yaml:"currency"`
	MaxRetries     int    `yaml:"max_retries"`
	RetryBackoffMS int    `yaml:"retry_backoff_ms"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
	RateLimitPerMinute    int `yaml:"rate_limit_per_minute"`
}

// AuthConfig holds owner token verification configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Load reads the optional .env file, then configuration from a YAML file,
// then applies environment overrides for secrets
func Load(filename string) (*Config, error) {
	// .env is optional; the process environment is used as is when missing
	_ = godotenv.Load(".env")

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	config := defaults()
	scanner := bufio.NewScanner(file)

	var currentSection string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip comments and empty lines
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Check for section headers
		if strings.HasSuffix(line, ":") && !strings.Contains(line, " ") {
			currentSection = strings.TrimSuffix(line, ":")
			continue
		}

		// Parse key-value pairs
		if strings.Contains(line, ":") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) != 2 {
				continue
			}

			key := strings.TrimSpace(parts[0])
			value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

			if err := config.setValue(currentSection, key, value); err != nil {
				return nil, fmt.Errorf("failed to set config value %s.%s: %w", currentSection, key, err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config.applyEnv()

	return config, nil
}

func defaults() *Config {
	return &Config{
		Redis: RedisConfig{
			CatalogTTLSeconds: 300,
			IdempotencyTTLSec: 86400,
		},
		Stripe: StripeConfig{
			Currency:       "inr",
			MaxRetries:     3,
			RetryBackoffMS: 200,
			TimeoutSeconds: 10,
		},
		Server: ServerConfig{
			RequestTimeoutSeconds: 30,
			RateLimitPerMinute:    200,
		},
	}
}

// applyEnv overrides secrets from the environment
func (c *Config) applyEnv() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"DATABASE_PASSWORD", &c.Database.Password},
		{"RABBITMQ_PASSWORD", &c.RabbitMQ.Password},
		{"REDIS_PASSWORD", &c.Redis.Password},
		{"STRIPE_SECRET_KEY", &c.Stripe.SecretKey},
		{"STRIPE_WEBHOOK_SECRET", &c.Stripe.WebhookSecret},
		{"JWT_SECRET", &c.Auth.JWTSecret},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

// Validate checks the settings the order service cannot start without
func (c *Config) Validate() error {
	var errs []error
	if c.Stripe.SecretKey == "" {
		errs = append(errs, errors.New("stripe.secret_key (STRIPE_SECRET_KEY) is required"))
	}
	if c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("stripe.webhook_secret (STRIPE_WEBHOOK_SECRET) is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret (JWT_SECRET) is required"))
	}
	if c.Stripe.MaxRetries < 1 {
		errs = append(errs, errors.New("stripe.max_retries must be at least 1"))
	}
	return errors.Join(errs...)
}

// setValue sets a configuration value based on section and key
func (c *Config) setValue(section, key, value string) error {
	switch section {
	case "database":
		return c.setDatabaseValue(key, value)
	case "rabbitmq":
		return c.setRabbitMQValue(key, value)
	case "redis":
		return c.setRedisValue(key, value)
	case "stripe":
		return c.setStripeValue(key, value)
	case "server":
		return c.setServerValue(key, value)
	case "auth":
		return c.setAuthValue(key, value)
	default:
		return fmt.Errorf("unknown section: %s", section)
	}
}

// setDatabaseValue sets database configuration values
func (c *Config) setDatabaseValue(key, value string) error {
	switch key {
	case "host":
		c.Database.Host = value
	case "port":
		return setInt(&c.Database.Port, value)
	case "user":
		c.Database.User = value
	case "password":
		c.Database.Password = value
	case "database":
		c.Database.Database = value
	default:
		return fmt.Errorf("unknown database key: %s", key)
	}
	return nil
}

// setRabbitMQValue sets RabbitMQ configuration values
func (c *Config) setRabbitMQValue(key, value string) error {
	switch key {
	case "host":
		c.RabbitMQ.Host = value
	case "port":
		return setInt(&c.RabbitMQ.Port, value)
	case "user":
		c.RabbitMQ.User = value
	case "password":
		c.RabbitMQ.Password = value
	default:
		return fmt.Errorf("unknown rabbitmq key: %s", key)
	}
	return nil
}

func (c *Config) setRedisValue(key, value string) error {
	switch key {
	case "host":
		c.Redis.Host = value
	case "port":
		return setInt(&c.Redis.Port, value)
	case "password":
		c.Redis.Password = value
	case "db":
		return setInt(&c.Redis.DB, value)
	case "catalog_ttl_seconds":
		return setInt(&c.Redis.CatalogTTLSeconds, value)
	case "idempotency_ttl_seconds":
		return setInt(&c.Redis.IdempotencyTTLSec, value)
	default:
		return fmt.Errorf("unknown redis key: %s", key)
	}
	return nil
}

func (c *Config) setStripeValue(key, value string) error {
	switch key {
	case "secret_key":
		c.Stripe.SecretKey = value
	case "webhook_secret":
		c.Stripe.WebhookSecret = value
	case "currency":
		c.Stripe.Currency = strings.ToLower(value)
	case "max_retries":
		return setInt(&c.Stripe.MaxRetries, value)
	case "retry_backoff_ms":
		return setInt(&c.Stripe.RetryBackoffMS, value)
	case "timeout_seconds":
		return setInt(&c.Stripe.TimeoutSeconds, value)
	default:
		return fmt.Errorf("unknown stripe key: %s", key)
	}
	return nil
}

func (c *Config) setServerValue(key, value string) error {
	switch key {
	case "request_timeout_seconds":
		return setInt(&c.Server.RequestTimeoutSeconds, value)
	case "rate_limit_per_minute":
		return setInt(&c.Server.RateLimitPerMinute, value)
	default:
		return fmt.Errorf("unknown server key: %s", key)
	}
}

func (c *Config) setAuthValue(key, value string) error {
	switch key {
	case "jwt_secret":
		c.Auth.JWTSecret = value
	default:
		return fmt.Errorf("unknown auth key: %s", key)
	}
	return nil
}

func setInt(target *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer value: %w", err)
	}
	*target = n
	return nil
}

// DatabaseURL returns a PostgreSQL connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Database)
}

// RabbitMQURL returns an AMQP connection URL
func (c *Config) RabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		c.RabbitMQ.User, c.RabbitMQ.Password, c.RabbitMQ.Host, c.RabbitMQ.Port)
}

// RedisAddr returns the host:port address of the Redis server
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// CatalogTTL returns how long dish lookups stay cached
func (c *Config) CatalogTTL() time.Duration {
	return time.Duration(c.Redis.CatalogTTLSeconds) * time.Second
}

// IdempotencyTTL returns how long an idempotency key is remembered
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.Redis.IdempotencyTTLSec) * time.Second
}

// RequestTimeout returns the per-request processing deadline
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
