package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBinanceURL   = "https://api.binance.com"
	DefaultYahooURL     = "https://query1.finance.yahoo.com"
	DefaultStreamURL    = "wss://stream.binance.com:9443/stream"
	DefaultAPITimeout   = 10 * time.Second
	DefaultPollInterval = 1 * time.Minute
	DefaultRequestDelay = 300 * time.Millisecond

	DefaultDBPort    = 5432
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2
	DefaultRedisAddr = "localhost:6379"
	DefaultRedisTTL  = 2 * time.Minute

	DefaultMaxAttempts      = 3
	DefaultBaseDelay        = 1 * time.Second
	DefaultMaxDelay         = 30 * time.Second
	DefaultMultiplier       = 2.0
	DefaultBreakerThreshold = 5
	DefaultBreakerTimeout   = 1 * time.Minute
	DefaultBatchConcurrency = 10
	DefaultDeadLetterCap    = 1000

	DefaultCacheTTL             = 30 * time.Second
	DefaultMinBroadcastInterval = 5 * time.Second
	DefaultCycleCooldown        = 2 * time.Minute

	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultReadTimeout        = 30 * time.Second

	DefaultListenAddr = ":8090"
	DefaultOutboxSize = 256
	DefaultQueueSize  = 4096

	DefaultSyncBatchSize      = 100
	DefaultSyncMaxConcurrency = 3
	DefaultSweepInterval      = 5 * time.Minute

	DefaultHistoryBatchSize     = 500
	DefaultHistoryFlushInterval = 2 * time.Second
)

func (c *FeederConfig) applyDefaults() {
	applyDBDefaults(&c.Database.Postgres)
	if c.Database.Redis.Addr == "" {
		c.Database.Redis.Addr = DefaultRedisAddr
	}
	if c.Database.Redis.TTL == 0 {
		c.Database.Redis.TTL = DefaultRedisTTL
	}

	applyProviderDefaults(&c.Providers.Binance, DefaultBinanceURL)
	applyProviderDefaults(&c.Providers.Yahoo, DefaultYahooURL)

	if c.Resilience.MaxAttempts == 0 {
		c.Resilience.MaxAttempts = DefaultMaxAttempts
	}
	if c.Resilience.BaseDelay == 0 {
		c.Resilience.BaseDelay = DefaultBaseDelay
	}
	if c.Resilience.MaxDelay == 0 {
		c.Resilience.MaxDelay = DefaultMaxDelay
	}
	if c.Resilience.Multiplier == 0 {
		c.Resilience.Multiplier = DefaultMultiplier
	}
	if c.Resilience.BreakerThreshold == 0 {
		c.Resilience.BreakerThreshold = DefaultBreakerThreshold
	}
	if c.Resilience.BreakerTimeout == 0 {
		c.Resilience.BreakerTimeout = DefaultBreakerTimeout
	}
	if c.Resilience.BatchConcurrency == 0 {
		c.Resilience.BatchConcurrency = DefaultBatchConcurrency
	}
	if c.Resilience.DeadLetterCap == 0 {
		c.Resilience.DeadLetterCap = DefaultDeadLetterCap
	}

	if c.Catalog.CacheTTL == 0 {
		c.Catalog.CacheTTL = DefaultCacheTTL
	}
	if c.Catalog.MinBroadcastInterval == 0 {
		c.Catalog.MinBroadcastInterval = DefaultMinBroadcastInterval
	}

	if c.Scheduler.CycleCooldown == 0 {
		c.Scheduler.CycleCooldown = DefaultCycleCooldown
	}

	if c.Stream.URL == "" {
		c.Stream.URL = DefaultStreamURL
	}
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.ReadTimeout == 0 {
		c.Stream.ReadTimeout = DefaultReadTimeout
	}

	if c.Hub.ListenAddr == "" {
		c.Hub.ListenAddr = DefaultListenAddr
	}
	if c.Hub.OutboxSize == 0 {
		c.Hub.OutboxSize = DefaultOutboxSize
	}
	if c.Hub.QueueSize == 0 {
		c.Hub.QueueSize = DefaultQueueSize
	}

	if c.SymSync.BatchSize == 0 {
		c.SymSync.BatchSize = DefaultSyncBatchSize
	}
	if c.SymSync.MaxConcurrency == 0 {
		c.SymSync.MaxConcurrency = DefaultSyncMaxConcurrency
	}
	if c.SymSync.SweepInterval == 0 {
		c.SymSync.SweepInterval = DefaultSweepInterval
	}

	if c.History.BatchSize == 0 {
		c.History.BatchSize = DefaultHistoryBatchSize
	}
	if c.History.FlushInterval == 0 {
		c.History.FlushInterval = DefaultHistoryFlushInterval
	}
}

func applyProviderDefaults(p *ProviderConfig, baseURL string) {
	if p.BaseURL == "" {
		p.BaseURL = baseURL
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultAPITimeout
	}
	if p.PollInterval == 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.RequestDelay == 0 {
		p.RequestDelay = DefaultRequestDelay
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
