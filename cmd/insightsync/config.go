package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/jg100/airbyte/pkg/checkpointer"
	"github.com/jg100/airbyte/pkg/clickhouse"
	chcheckpoint "github.com/jg100/airbyte/pkg/data/clickhouse/checkpoint"
	pgcheckpoint "github.com/jg100/airbyte/pkg/data/postgres/checkpoint"
	redischeckpoint "github.com/jg100/airbyte/pkg/data/redis/checkpoint"
	"github.com/jg100/airbyte/pkg/kafka"
	"github.com/jg100/airbyte/pkg/slidingwindow"
	"github.com/jg100/airbyte/pkg/streams"
)

const (
	backendClickHouse = "clickhouse"
	backendRedis      = "redis"
	backendPostgres   = "postgres"
)

var backends = []string{backendClickHouse, backendRedis, backendPostgres}

// Config holds all configuration for the run command
type Config struct {
	// Application settings
	Verbose bool

	// Stream settings
	Streams []streams.Definition
	Window  slidingwindow.Config

	// Executor settings
	Concurrency  int64
	MaxFailures  int
	RetryBackoff time.Duration
	PollInterval time.Duration
	JobTimeout   time.Duration

	// Kafka settings
	Kafka kafka.ProducerConfig

	// State settings
	StateBackend          string
	ClickHouse            clickhouse.Config
	Checkpoint            checkpointer.Config
	GapWatchdogInterval   time.Duration
	GapWatchdogMaxLagDays int
	GapWatchdogMaxTracked int

	// Metrics settings
	MetricsHost   string
	MetricsPort   int
	Environment   string
	Region        string
	CloudProvider string
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// StreamNames returns the names of the streams to sync.
func (c *Config) StreamNames() []string {
	names := make([]string, len(c.Streams))
	for i, d := range c.Streams {
		names[i] = d.Name
	}
	return names
}

// buildConfig builds a Config from CLI context flags
func buildConfig(c *cli.Context) (*Config, error) {
	defs, err := loadStreams(c.Path("streams-file"), c.StringSlice("stream"))
	if err != nil {
		return nil, err
	}

	startDate, err := slidingwindow.ParseDate(c.String("start-date"))
	if err != nil {
		return nil, fmt.Errorf("invalid start date: %w", err)
	}
	var endDate time.Time
	if s := c.String("end-date"); s != "" {
		endDate, err = slidingwindow.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("invalid end date: %w", err)
		}
	}
	retention := c.Int("retention-months")
	if retention <= 0 {
		return nil, fmt.Errorf("invalid retention: must be greater than 0 months, got %d", retention)
	}
	lookback := c.Int("lookback-days")
	if lookback < 0 {
		return nil, fmt.Errorf("invalid lookback: must not be negative, got %d days", lookback)
	}

	backend, err := stateBackend(c)
	if err != nil {
		return nil, err
	}
	chCfg, err := buildClickHouseConfig(c)
	if err != nil {
		return nil, fmt.Errorf("failed to build ClickHouse config: %w", err)
	}

	cfg := &Config{
		Verbose: c.Bool("verbose"),
		Streams: defs,
		Window: slidingwindow.Config{
			StartDate: startDate,
			EndDate:   endDate,
			Retention: slidingwindow.Period{Months: retention},
			Lookback:  slidingwindow.Period{Days: lookback},
		},
		Concurrency:  c.Int64("concurrency"),
		MaxFailures:  c.Int("max-failures"),
		RetryBackoff: c.Duration("retry-backoff"),
		PollInterval: c.Duration("poll-interval"),
		JobTimeout:   c.Duration("job-timeout"),
		Kafka: kafka.ProducerConfig{
			Brokers:           c.String("kafka-brokers"),
			ClientID:          c.String("kafka-client-id"),
			Topic:             c.String("kafka-topic"),
			NumPartitions:     c.Int("kafka-topic-num-partitions"),
			ReplicationFactor: c.Int("kafka-topic-replication-factor"),
			EnableLogs:        c.Bool("kafka-enable-logs"),
			SASL: kafka.SASLConfig{
				Username:         c.String("kafka-sasl-username"),
				Password:         c.String("kafka-sasl-password"),
				Mechanism:        c.String("kafka-sasl-mechanism"),
				SecurityProtocol: c.String("kafka-security-protocol"),
			},
		},
		StateBackend: backend,
		ClickHouse:   chCfg,
		Checkpoint: checkpointer.Config{
			Interval:     c.Duration("checkpoint-interval"),
			WriteTimeout: checkpointer.DefaultConfig().WriteTimeout,
			MaxRetries:   checkpointer.DefaultConfig().MaxRetries,
			RetryBackoff: checkpointer.DefaultConfig().RetryBackoff,
		},
		GapWatchdogInterval:   c.Duration("gap-watchdog-interval"),
		GapWatchdogMaxLagDays: c.Int("gap-watchdog-max-lag-days"),
		GapWatchdogMaxTracked: c.Int("gap-watchdog-max-tracked"),
		MetricsHost:           c.String("metrics-host"),
		MetricsPort:           c.Int("metrics-port"),
		Environment:           c.String("environment"),
		Region:                c.String("region"),
		CloudProvider:         c.String("cloud-provider"),
	}
	if err := cfg.Kafka.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Checkpoint.Validate(); err != nil {
		return nil, err
	}
	if cfg.GapWatchdogInterval <= 0 {
		return nil, errors.New("invalid gap watchdog interval: must be greater than 0")
	}
	return cfg, nil
}

// loadStreams returns the stream definitions of file, or the default stream
// when file is empty, restricted to the named streams when any are given.
func loadStreams(file string, names []string) ([]streams.Definition, error) {
	defs := []streams.Definition{streams.Default()}
	if file != "" {
		var err error
		defs, err = streams.Load(file)
		if err != nil {
			return nil, fmt.Errorf("failed to load streams: %w", err)
		}
	}
	if len(names) == 0 {
		return defs, nil
	}

	selected := make([]streams.Definition, 0, len(names))
	for _, name := range names {
		i := slices.IndexFunc(defs, func(d streams.Definition) bool { return d.Name == name })
		if i < 0 {
			return nil, fmt.Errorf("unknown stream: %s", name)
		}
		selected = append(selected, defs[i])
	}
	return selected, nil
}

// findStream returns the definition of the stream named by the --stream flag.
func findStream(c *cli.Context) (streams.Definition, error) {
	defs, err := loadStreams(c.Path("streams-file"), []string{c.String("stream")})
	if err != nil {
		return streams.Definition{}, err
	}
	return defs[0], nil
}

func stateBackend(c *cli.Context) (string, error) {
	backend := strings.ToLower(c.String("state-backend"))
	if !slices.Contains(backends, backend) {
		return "", fmt.Errorf("invalid state backend %q: must be one of %s", backend, strings.Join(backends, ", "))
	}
	return backend, nil
}

// buildClickHouseConfig builds a clickhouse.Config from CLI context flags
func buildClickHouseConfig(c *cli.Context) (clickhouse.Config, error) {
	// Handle hosts - StringSliceFlag returns []string, but we need to handle comma-separated values
	hosts := c.StringSlice("clickhouse-hosts")
	if len(hosts) == 1 && strings.Contains(hosts[0], ",") {
		hosts = strings.Split(hosts[0], ",")
		for i, host := range hosts {
			hosts[i] = strings.TrimSpace(host)
		}
	}

	cfg := clickhouse.Config{
		Hosts:                hosts,
		Cluster:              c.String("clickhouse-cluster"),
		Database:             c.String("clickhouse-database"),
		Username:             c.String("clickhouse-username"),
		Password:             c.String("clickhouse-password"),
		StateTable:           c.String("clickhouse-state-table"),
		Debug:                c.Bool("clickhouse-debug"),
		InsecureSkipVerify:   c.Bool("clickhouse-insecure-skip-verify"),
		MaxExecutionTime:     c.Int("clickhouse-max-execution-time"),
		DialTimeout:          c.Int("clickhouse-dial-timeout"),
		MaxOpenConns:         c.Int("clickhouse-max-open-conns"),
		MaxIdleConns:         c.Int("clickhouse-max-idle-conns"),
		ConnMaxLifetime:      c.Int("clickhouse-conn-max-lifetime"),
		BlockBufferSize:      c.Int("clickhouse-block-buffer-size"),
		MaxBlockSize:         c.Int("clickhouse-max-block-size"),
		MaxCompressionBuffer: c.Int("clickhouse-max-compression-buffer"),
		ClientName:           c.String("clickhouse-client-name"),
		ClientVersion:        c.String("clickhouse-client-version"),
	}
	return cfg, cfg.Validate()
}

// openStore connects to the configured state backend and returns the store
// with a function releasing its connection. Redis and Postgres are configured
// from the environment.
func openStore(
	ctx context.Context,
	backend string,
	chCfg clickhouse.Config,
	log *zap.SugaredLogger,
) (checkpointer.Checkpointer, func(), error) {
	switch backend {
	case backendClickHouse:
		client, err := clickhouse.New(ctx, chCfg, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create ClickHouse client: %w", err)
		}
		repo, err := chcheckpoint.NewRepository(ctx, client.Conn(), chCfg.Cluster, chCfg.Database, chCfg.StateTable)
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to create state repository: %w", err)
		}
		log.Infow("state table ready", "database", chCfg.Database, "table", chCfg.StateTable, "cluster", chCfg.Cluster)
		return repo, func() { _ = client.Close() }, nil

	case backendRedis:
		redisCfg, err := redischeckpoint.LoadConfig()
		if err != nil {
			return nil, nil, err
		}
		client := redischeckpoint.NewClient(redisCfg)
		store, err := redischeckpoint.NewStore(client, redisCfg.TTL)
		if err == nil {
			err = store.Initialize(ctx)
		}
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to create redis state store: %w", err)
		}
		log.Infow("redis state store ready", "address", redisCfg.Address, "db", redisCfg.DB)
		return store, func() { _ = client.Close() }, nil

	case backendPostgres:
		pgCfg, err := pgcheckpoint.LoadConfig()
		if err != nil {
			return nil, nil, err
		}
		pool, err := pgcheckpoint.NewPool(ctx, pgCfg)
		if err != nil {
			return nil, nil, err
		}
		store, err := pgcheckpoint.NewStore(pool, pgCfg.Schema, pgCfg.StateTable)
		if err == nil {
			err = store.Initialize(ctx)
		}
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to create postgres state store: %w", err)
		}
		log.Infow("postgres state store ready", "schema", pgCfg.Schema, "table", pgCfg.StateTable)
		return store, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("invalid state backend: %s", backend)
	}
}
