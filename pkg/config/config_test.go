package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("expected default cache TTL 5m, got %s", cfg.Cache.TTL)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("expected default cache backend memory, got %s", cfg.Cache.Backend)
	}
	if cfg.Auth.IdentityHeader != "X-Alignex-User" {
		t.Errorf("expected default identity header X-Alignex-User, got %s", cfg.Auth.IdentityHeader)
	}
	if !cfg.RateLimit.Enabled {
		t.Error("expected rate limiting enabled by default")
	}
	if cfg.RateLimit.Requests != 600 {
		t.Errorf("expected default rate limit of 600 requests, got %d", cfg.RateLimit.Requests)
	}
	if cfg.RateLimit.Window != time.Minute {
		t.Errorf("expected default rate limit window 1m, got %s", cfg.RateLimit.Window)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ALIGNEX_PORT", "9999")
	t.Setenv("ALIGNEX_DB_DRIVER", "sqlite3")
	t.Setenv("ALIGNEX_DB_URL", "file:alignex.db")
	t.Setenv("ALIGNEX_CACHE_TTL", "90s")
	t.Setenv("ALIGNEX_JOBS_ENABLED", "false")
	t.Setenv("ALIGNEX_RATE_LIMIT_REQUESTS", "120")
	t.Setenv("ALIGNEX_RATE_LIMIT_WINDOW", "30s")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "9999" {
		t.Errorf("expected port 9999, got %s", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("expected sqlite3 driver, got %s", cfg.Database.Driver)
	}
	if cfg.Cache.TTL != 90*time.Second {
		t.Errorf("expected cache TTL 90s, got %s", cfg.Cache.TTL)
	}
	if cfg.Jobs.Enabled {
		t.Error("expected jobs disabled")
	}
	if cfg.RateLimit.Requests != 120 || cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("expected rate limit 120/30s, got %d/%s", cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing port", func(c *Config) { c.Server.Port = "" }},
		{"port collision", func(c *Config) { c.Server.HealthPort = c.Server.Port }},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"missing db url", func(c *Config) { c.Database.URL = "" }},
		{"bad cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"redis backend without addr", func(c *Config) { c.Cache.Backend = "redis"; c.Redis.Addr = "" }},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"bad auth mode", func(c *Config) { c.Auth.Mode = "saml" }},
		{"oidc without issuer", func(c *Config) { c.Auth.Mode = "oidc"; c.Auth.OIDCIssuer = "" }},
		{"zero rate limit", func(c *Config) { c.RateLimit.Requests = 0 }},
		{"sub-second rate limit window", func(c *Config) { c.RateLimit.Window = 100 * time.Millisecond }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadConfig()
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
