package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ConfigYAML(t *testing.T) {
	path := filepath.Join("..", "..", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Database.Host == "" {
		t.Fatalf("expected database.host to be set")
	}
	if cfg.RabbitMQ.Port == 0 {
		t.Fatalf("expected rabbitmq.port to be set")
	}
	if cfg.Redis.Port != 6379 {
		t.Fatalf("expected redis.port to be 6379, got %d", cfg.Redis.Port)
	}
	if cfg.Stripe.Currency != "inr" {
		t.Fatalf("expected stripe.currency to be inr, got %q", cfg.Stripe.Currency)
	}
	if cfg.CatalogTTL() != 5*time.Minute {
		t.Fatalf("unexpected catalog ttl: %v", cfg.CatalogTTL())
	}
}

func TestLoad_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_env")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("JWT_SECRET", "jwt_env")
	t.Setenv("DATABASE_PASSWORD", "db_env")

	path := writeConfig(t, `
database:
  host: db
  port: 5432
  password: from_file
stripe:
  secret_key: sk_from_file
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Stripe.SecretKey != "sk_test_env" {
		t.Errorf("expected env secret key, got %q", cfg.Stripe.SecretKey)
	}
	if cfg.Database.Password != "db_env" {
		t.Errorf("expected env database password, got %q", cfg.Database.Password)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
	if !strings.Contains(cfg.DatabaseURL(), "db_env@db:5432") {
		t.Errorf("unexpected database url: %s", cfg.DatabaseURL())
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown section", "payments:\n  key: value\n"},
		{"unknown key", "database:\n  hostname: x\n"},
		{"bad port", "database:\n  port: abc\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestValidate_MissingSecrets(t *testing.T) {
	cfg := defaults()
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got %v", want, err)
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
