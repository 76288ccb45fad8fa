package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jg100/airbyte/pkg/checkpointer"
)

type Config struct {
	DSN        string `env:"POSTGRES_DSN" envDefault:"postgres://localhost:5432/insightsync"`
	Schema     string `env:"POSTGRES_SCHEMA" envDefault:"public"`
	StateTable string `env:"POSTGRES_STATE_TABLE" envDefault:"sync_state"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	return cfg, nil
}

// NewPool connects to Postgres and pings it.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

// DB is the part of a pgx pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store keeps one row per stream and overwrites it on every write.
type Store struct {
	db    DB
	table string
	now   func() time.Time
}

var _ checkpointer.Checkpointer = (*Store)(nil)

func NewStore(db DB, schema, table string) (*Store, error) {
	if db == nil {
		return nil, errors.New("invalid database: must not be nil")
	}
	if schema == "" || table == "" {
		return nil, errors.New("invalid state table: schema and table must be set")
	}
	return &Store{
		db:    db,
		table: pgx.Identifier{schema, table}.Sanitize(),
		now:   time.Now,
	}, nil
}

func (s *Store) Initialize(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	stream     TEXT PRIMARY KEY,
	state      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create state table: %w", err)
	}
	return nil
}

func (s *Store) Write(ctx context.Context, stream string, state []byte) error {
	q := fmt.Sprintf(`INSERT INTO %s (stream, state, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (stream) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.db.Exec(ctx, q, stream, string(state), s.now().UTC()); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, stream string) ([]byte, bool, error) {
	var state string
	q := fmt.Sprintf(`SELECT state::text FROM %s WHERE stream = $1`, s.table)
	err := s.db.QueryRow(ctx, q, stream).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read state: %w", err)
	}
	return []byte(state), true, nil
}

func (s *Store) Delete(ctx context.Context, stream string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE stream = $1`, s.table)
	if _, err := s.db.Exec(ctx, q, stream); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}
