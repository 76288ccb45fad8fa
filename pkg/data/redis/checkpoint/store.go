package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jg100/airbyte/pkg/checkpointer"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "insightsync:state:"

type Config struct {
	Address  string        `env:"REDIS_ADDRESS" envDefault:"localhost:6379"`
	Password string        `env:"REDIS_PASSWORD" envDefault:""`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	PoolSize int           `env:"REDIS_POOL_SIZE" envDefault:"5"`
	TTL      time.Duration `env:"REDIS_STATE_TTL" envDefault:"0s"` // 0 keeps state forever
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse redis config: %w", err)
	}
	return cfg, nil
}

// NewClient creates a Redis client from cfg.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Store keeps the state of each stream under its own Redis key.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ checkpointer.Checkpointer = (*Store)(nil)

func NewStore(client redis.UniversalClient, ttl time.Duration) (*Store, error) {
	if client == nil {
		return nil, errors.New("invalid redis client: must not be nil")
	}
	if ttl < 0 {
		return nil, errors.New("invalid state ttl: must not be negative")
	}
	return &Store{client: client, ttl: ttl}, nil
}

// Initialize checks that Redis is reachable.
func (s *Store) Initialize(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

func (s *Store) Write(ctx context.Context, stream string, state []byte) error {
	if err := s.client.Set(ctx, key(stream), state, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set state in redis: %w", err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, stream string) ([]byte, bool, error) {
	state, err := s.client.Get(ctx, key(stream)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get state from redis: %w", err)
	}
	return state, true, nil
}

func (s *Store) Delete(ctx context.Context, stream string) error {
	if err := s.client.Del(ctx, key(stream)).Err(); err != nil {
		return fmt.Errorf("failed to delete state from redis: %w", err)
	}
	return nil
}

func key(stream string) string {
	return keyPrefix + stream
}
