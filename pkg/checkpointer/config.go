package checkpointer

import (
	"errors"
	"time"
)

// Config controls how often the state of a stream is persisted and how
// failed writes are retried.
type Config struct {
	Interval time.Duration
	// WriteTimeout bounds one write. Redis and Postgres stores are usually
	// remote, so it covers a network round trip plus a table lock.
	WriteTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultConfig returns the configuration used by the sync and state commands.
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		WriteTimeout: 5 * time.Second,
		MaxRetries:   4,
		RetryBackoff: 500 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("invalid checkpoint interval: must be greater than 0")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("invalid checkpoint write timeout: must be greater than 0")
	}
	if c.MaxRetries < 0 {
		return errors.New("invalid checkpoint max retries: must not be negative")
	}
	if c.RetryBackoff < 0 {
		return errors.New("invalid checkpoint retry backoff: must not be negative")
	}
	return nil
}
