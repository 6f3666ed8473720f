package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feeder.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-feeder
database:
  postgres:
    host: localhost
    port: 5434
    name: mytrader
    user: postgres
    password: password
providers:
  binance:
    enabled: true
    poll_interval: 30s
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-feeder" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-feeder")
	}
	if cfg.Database.Postgres.Port != 5434 {
		t.Errorf("Database.Postgres.Port = %d, want 5434", cfg.Database.Postgres.Port)
	}
	if !cfg.Providers.Binance.Enabled {
		t.Error("Providers.Binance.Enabled = false, want true")
	}
	if cfg.Providers.Binance.PollInterval != 30*time.Second {
		t.Errorf("Providers.Binance.PollInterval = %v, want 30s", cfg.Providers.Binance.PollInterval)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: test-feeder
database:
  postgres:
    host: localhost
    name: mytrader
    user: postgres
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Postgres.Password != "secret123" {
		t.Errorf("Database.Postgres.Password = %q, want %q", cfg.Database.Postgres.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-feeder
database:
  postgres:
    host: localhost
    name: mytrader
    user: postgres
    password: password
providers:
  binance:
    enabled: true
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Providers.Binance.BaseURL != DefaultBinanceURL {
		t.Errorf("Binance.BaseURL = %q, want default %q", cfg.Providers.Binance.BaseURL, DefaultBinanceURL)
	}
	if cfg.Providers.Binance.PollInterval != DefaultPollInterval {
		t.Errorf("Binance.PollInterval = %v, want default %v", cfg.Providers.Binance.PollInterval, DefaultPollInterval)
	}
	if cfg.Providers.Binance.RequestDelay != DefaultRequestDelay {
		t.Errorf("Binance.RequestDelay = %v, want default %v", cfg.Providers.Binance.RequestDelay, DefaultRequestDelay)
	}
	if cfg.Database.Postgres.Port != DefaultDBPort {
		t.Errorf("Postgres.Port = %d, want default %d", cfg.Database.Postgres.Port, DefaultDBPort)
	}
	if cfg.Resilience.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("Resilience.MaxAttempts = %d, want default %d", cfg.Resilience.MaxAttempts, DefaultMaxAttempts)
	}
	if cfg.Resilience.BreakerTimeout != DefaultBreakerTimeout {
		t.Errorf("Resilience.BreakerTimeout = %v, want default %v", cfg.Resilience.BreakerTimeout, DefaultBreakerTimeout)
	}
	if cfg.Catalog.MinBroadcastInterval != DefaultMinBroadcastInterval {
		t.Errorf("Catalog.MinBroadcastInterval = %v, want default %v", cfg.Catalog.MinBroadcastInterval, DefaultMinBroadcastInterval)
	}
	if cfg.SymSync.BatchSize != DefaultSyncBatchSize {
		t.Errorf("SymSync.BatchSize = %d, want default %d", cfg.SymSync.BatchSize, DefaultSyncBatchSize)
	}
	if cfg.Hub.ListenAddr != DefaultListenAddr {
		t.Errorf("Hub.ListenAddr = %q, want default %q", cfg.Hub.ListenAddr, DefaultListenAddr)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *FeederConfig {
		cfg := &FeederConfig{}
		cfg.Instance.ID = "test-feeder"
		cfg.Database.Postgres = DBConfig{
			Host: "localhost", Name: "mytrader", User: "postgres", Password: "pw",
		}
		cfg.Providers.Binance.Enabled = true
		cfg.applyDefaults()
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*FeederConfig)
	}{
		{"missing instance id", func(c *FeederConfig) { c.Instance.ID = "" }},
		{"missing db host", func(c *FeederConfig) { c.Database.Postgres.Host = "" }},
		{"nothing enabled", func(c *FeederConfig) {
			c.Providers.Binance.Enabled = false
			c.Providers.Yahoo.Enabled = false
			c.Stream.Enabled = false
		}},
		{"zero attempts", func(c *FeederConfig) { c.Resilience.MaxAttempts = 0 }},
		{"multiplier below one", func(c *FeederConfig) { c.Resilience.Multiplier = 0.5 }},
		{"min conns above max", func(c *FeederConfig) {
			c.Database.Postgres.MinConns = 20
			c.Database.Postgres.MaxConns = 5
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
