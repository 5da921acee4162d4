package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("SEED_DEMO_DATA", "")
	t.Setenv("ALLOWED_ORIGINS", "")
	t.Setenv("TOKEN_TTL", "")

	cfg := Load()
	if cfg.JWTSecret != devSecret {
		t.Fatal("development should fall back to the dev secret")
	}
	if !cfg.SeedDemoData {
		t.Fatal("development should seed demo data by default")
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("unexpected ttl %v", cfg.TokenTTL)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadLists(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.0/8,127.0.0.1")
	t.Setenv("TOKEN_TTL", "90m")

	cfg := Load()
	if len(cfg.AllowedOrigins) != 2 || len(cfg.RateLimitWhitelist) != 2 {
		t.Fatalf("unexpected lists %v %v", cfg.AllowedOrigins, cfg.RateLimitWhitelist)
	}
	if cfg.TokenTTL != 90*time.Minute {
		t.Fatalf("unexpected ttl %v", cfg.TokenTTL)
	}
}

func TestProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://localhost/deskchat")
	t.Setenv("JWT_SECRET", "")

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic without JWT_SECRET")
		}
	}()
	Load()
}
