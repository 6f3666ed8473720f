package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *FeederConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Database.Postgres.validate("database.postgres"); err != nil {
		return err
	}

	if !c.Providers.Binance.Enabled && !c.Providers.Yahoo.Enabled && !c.Stream.Enabled {
		return errors.New("at least one provider or the stream must be enabled")
	}

	if c.Resilience.MaxAttempts < 1 {
		return errors.New("resilience.max_attempts must be >= 1")
	}
	if c.Resilience.Multiplier < 1 {
		return fmt.Errorf("resilience.multiplier must be >= 1, got %g", c.Resilience.Multiplier)
	}
	if c.Resilience.BreakerThreshold < 1 {
		return errors.New("resilience.breaker_threshold must be >= 1")
	}

	if c.Hub.OutboxSize < 1 {
		return errors.New("hub.outbox_size must be >= 1")
	}
	if c.Hub.QueueSize < 1 {
		return errors.New("hub.queue_size must be >= 1")
	}

	if c.SymSync.BatchSize < 1 {
		return errors.New("symsync.batch_size must be >= 1")
	}
	if c.SymSync.MaxConcurrency < 1 {
		return errors.New("symsync.max_concurrency must be >= 1")
	}

	if c.History.BatchSize < 1 {
		return errors.New("history.batch_size must be >= 1")
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Port < 1 || db.Port > 65535 {
		return fmt.Errorf("%s.port must be between 1 and 65535, got %d", prefix, db.Port)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) exceeds max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
