package config

import "time"

// FeederConfig is the root configuration for a feeder instance.
type FeederConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Database   DatabaseConfig   `yaml:"database"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Stream     StreamConfig     `yaml:"stream"`
	Hub        HubConfig        `yaml:"hub"`
	SymSync    SymSyncConfig    `yaml:"symsync"`
	History    HistoryConfig    `yaml:"history"`
}

// InstanceConfig identifies this feeder.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// DatabaseConfig holds the relational store and the snapshot cache.
type DatabaseConfig struct {
	Postgres DBConfig    `yaml:"postgres"`
	Redis    RedisConfig `yaml:"redis"`
}

// DBConfig holds a single PostgreSQL connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig holds the latest-price cache connection.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// ProvidersConfig holds per-venue upstream settings.
type ProvidersConfig struct {
	Binance ProviderConfig `yaml:"binance"`
	Yahoo   ProviderConfig `yaml:"yahoo"`
}

// ProviderConfig holds one upstream venue's settings.
type ProviderConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	RequestDelay time.Duration `yaml:"request_delay"`
}

// ResilienceConfig holds retry and circuit-breaker settings shared by all
// provider call paths.
type ResilienceConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	Multiplier        float64       `yaml:"multiplier"`
	BreakerThreshold  int           `yaml:"breaker_threshold"`
	BreakerTimeout    time.Duration `yaml:"breaker_timeout"`
	BatchConcurrency  int           `yaml:"batch_concurrency"`
	DeadLetterEnabled bool          `yaml:"dead_letter_enabled"`
	DeadLetterCap     int           `yaml:"dead_letter_cap"`
}

// CatalogConfig holds symbol-catalog cache settings.
type CatalogConfig struct {
	CacheTTL             time.Duration `yaml:"cache_ttl"`
	MinBroadcastInterval time.Duration `yaml:"min_broadcast_interval"`
}

// SchedulerConfig holds polling-loop settings.
type SchedulerConfig struct {
	CycleCooldown time.Duration `yaml:"cycle_cooldown"`
}

// StreamConfig holds the push-based ingest connection settings.
type StreamConfig struct {
	Enabled            bool          `yaml:"enabled"`
	URL                string        `yaml:"url"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
}

// HubConfig holds broadcast-hub settings.
type HubConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	OutboxSize int    `yaml:"outbox_size"`
	QueueSize  int    `yaml:"queue_size"`
}

// SymSyncConfig holds batch symbol-sync settings.
type SymSyncConfig struct {
	BatchSize      int           `yaml:"batch_size"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	SkipExisting   bool          `yaml:"skip_existing"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// HistoryConfig holds price-history writer settings.
type HistoryConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}
