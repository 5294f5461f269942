package observations

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/orrerynet/orrery/shared"
)

func DefaultConfig() Config {
	return Config{
		CacheSize:         64,
		MaxAttempts:       3,
		RetryBackoff:      time.Second,
		BackoffMultiplier: 2,
	}
}

//nolint:lll
type Config struct {
	Endpoints         []string      `long:"observation-endpoint"          description:"URL of an observation data endpoint. Can be used multiple times"`
	CacheSize         int           `long:"observation-cache-size"        description:"The number of observation snapshots to keep in the LRU cache"`
	MaxAttempts       uint          `long:"observation-retry-attempts"    description:"The maximum number of attempts to fetch a snapshot from an endpoint"`
	RetryBackoff      time.Duration `long:"observation-retry-backoff"     description:"The initial delay between fetch attempts"`
	BackoffMultiplier float64       `long:"observation-backoff-multiplier" description:"The factor by which the retry delay grows after each attempt"`
}

// implement zap.ObjectMarshaler interface.
func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("endpoints", len(c.Endpoints))
	enc.AddInt("cache-size", c.CacheSize)
	enc.AddUint("retry-attempts", c.MaxAttempts)
	enc.AddDuration("retry-backoff", c.RetryBackoff)
	enc.AddFloat64("backoff-multiplier", c.BackoffMultiplier)
	return nil
}

// NewStack assembles the provider stack for the configured endpoints:
// an HTTP client per endpoint, round-robin failover across them, retry
// with exponential backoff, and an LRU snapshot cache on top.
func NewStack(cfg Config) (Provider, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("%w: no observation endpoints configured", shared.ErrInvalidConfiguration)
	}
	if cfg.MaxAttempts == 0 {
		return nil, fmt.Errorf("%w: observation retry attempts must be at least 1", shared.ErrInvalidConfiguration)
	}

	providers := make([]Provider, 0, len(cfg.Endpoints))
	for _, endpoint := range cfg.Endpoints {
		providers = append(providers, NewClient(endpoint))
	}
	provider := providers[0]
	if len(providers) > 1 {
		provider = NewRoundRobin(providers)
	}
	provider = NewRetrying(provider, cfg.MaxAttempts, cfg.RetryBackoff, cfg.BackoffMultiplier)
	return NewCaching(cfg.CacheSize, provider)
}
