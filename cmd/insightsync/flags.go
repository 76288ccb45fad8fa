package main

import (
	"slices"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/jg100/airbyte/pkg/streams"
)

// runFlags returns all CLI flags for the run command
func runFlags() []cli.Flag {
	return slices.Concat(commonFlags(), syncFlags(), kafkaFlags(), metricsFlags())
}

// stateFlags returns the flags of the commands that address the state of one stream
func stateFlags() []cli.Flag {
	return append(commonFlags(), &cli.StringFlag{
		Name:    "stream",
		Aliases: []string{"s"},
		Usage:   "The name of the stream",
		EnvVars: []string{"STREAM"},
		Value:   streams.DefaultName,
	})
}

func importFlags() []cli.Flag {
	return append(stateFlags(), &cli.PathFlag{
		Name:     "file",
		Aliases:  []string{"f"},
		Usage:    "The JSON state file to import",
		Required: true,
	})
}

func commonFlags() []cli.Flag {
	return slices.Concat([]cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
			EnvVars: []string{"VERBOSE"},
			Value:   false,
		},
		&cli.PathFlag{
			Name:    "streams-file",
			Usage:   "YAML file with the stream definitions. If not specified, the default ads_insights stream is synced",
			EnvVars: []string{"STREAMS_FILE"},
		},
		&cli.StringFlag{
			Name:    "state-backend",
			Usage:   "Where the state of the streams is persisted (clickhouse, redis or postgres)",
			EnvVars: []string{"STATE_BACKEND"},
			Value:   backendClickHouse,
		},
	}, clickhouseFlags())
}

func syncFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "stream",
			Aliases: []string{"s"},
			Usage:   "Only sync the named streams. If not specified, every defined stream is synced",
			EnvVars: []string{"STREAMS"},
		},
		&cli.StringFlag{
			Name:     "start-date",
			Usage:    "The first date to sync (YYYY-MM-DD)",
			EnvVars:  []string{"START_DATE"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "end-date",
			Usage:   "The last date to sync (YYYY-MM-DD). If not specified, syncs up to yesterday",
			EnvVars: []string{"END_DATE"},
		},
		&cli.IntFlag{
			Name:    "retention-months",
			Usage:   "How far back, in months, the API keeps insights data",
			EnvVars: []string{"RETENTION_MONTHS"},
			Value:   37,
		},
		&cli.IntFlag{
			Name:    "lookback-days",
			Usage:   "Number of recent days that are always fetched again",
			EnvVars: []string{"LOOKBACK_DAYS"},
			Value:   28,
		},
		&cli.Int64Flag{
			Name:    "concurrency",
			Aliases: []string{"c"},
			Usage:   "Maximum number of concurrent report jobs per stream",
			EnvVars: []string{"CONCURRENCY"},
			Value:   4,
		},
		&cli.IntFlag{
			Name:    "max-failures",
			Aliases: []string{"f"},
			Usage:   "Number of attempts of a report job before the sync fails",
			EnvVars: []string{"MAX_FAILURES"},
			Value:   3,
		},
		&cli.DurationFlag{
			Name:    "retry-backoff",
			Usage:   "Delay before a failed report job is retried",
			EnvVars: []string{"RETRY_BACKOFF"},
			Value:   10 * time.Second,
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "Interval between status checks of a running report job",
			EnvVars: []string{"POLL_INTERVAL"},
			Value:   5 * time.Second,
		},
		&cli.DurationFlag{
			Name:    "job-timeout",
			Usage:   "Maximum duration of one report job attempt",
			EnvVars: []string{"JOB_TIMEOUT"},
			Value:   time.Hour,
		},
		&cli.DurationFlag{
			Name:    "checkpoint-interval",
			Usage:   "Interval between state checkpoints",
			EnvVars: []string{"CHECKPOINT_INTERVAL"},
			Value:   30 * time.Second,
		},
		&cli.DurationFlag{
			Name:    "gap-watchdog-interval",
			Usage:   "Interval between checks of the window tracker",
			EnvVars: []string{"GAP_WATCHDOG_INTERVAL"},
			Value:   time.Minute,
		},
		&cli.IntFlag{
			Name:    "gap-watchdog-max-lag-days",
			Usage:   "Warn when the cursor lags the refresh boundary by more days than this (0 disables)",
			EnvVars: []string{"GAP_WATCHDOG_MAX_LAG_DAYS"},
			Value:   90,
		},
		&cli.IntFlag{
			Name:    "gap-watchdog-max-tracked",
			Usage:   "Warn when more windows than this are completed but not folded into the cursor (0 disables)",
			EnvVars: []string{"GAP_WATCHDOG_MAX_TRACKED"},
			Value:   500,
		},
	}
}

func kafkaFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "kafka-brokers",
			Usage:    "The Kafka brokers to publish records to (comma-separated)",
			EnvVars:  []string{"KAFKA_BROKERS"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "kafka-topic",
			Aliases: []string{"t"},
			Usage:   "The Kafka topic to publish records to",
			EnvVars: []string{"KAFKA_TOPIC"},
			Value:   "insights",
		},
		&cli.BoolFlag{
			Name:    "kafka-enable-logs",
			Usage:   "Forward librdkafka logs to the application logger",
			EnvVars: []string{"KAFKA_ENABLE_LOGS"},
		},
		&cli.StringFlag{
			Name:    "kafka-client-id",
			Usage:   "The Kafka client ID",
			EnvVars: []string{"KAFKA_CLIENT_ID"},
			Value:   "insightsync",
		},
		&cli.IntFlag{
			Name:    "kafka-topic-num-partitions",
			Usage:   "The number of partitions of the Kafka topic",
			EnvVars: []string{"KAFKA_TOPIC_NUM_PARTITIONS"},
			Value:   1,
		},
		&cli.IntFlag{
			Name:    "kafka-topic-replication-factor",
			Usage:   "The replication factor of the Kafka topic",
			EnvVars: []string{"KAFKA_TOPIC_REPLICATION_FACTOR"},
			Value:   1,
		},
		&cli.StringFlag{
			Name:    "kafka-sasl-username",
			Usage:   "SASL username. SASL is disabled when empty",
			EnvVars: []string{"KAFKA_SASL_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "kafka-sasl-password",
			Usage:   "SASL password",
			EnvVars: []string{"KAFKA_SASL_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "kafka-sasl-mechanism",
			Usage:   "SASL mechanism (PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512)",
			EnvVars: []string{"KAFKA_SASL_MECHANISM"},
			Value:   "SCRAM-SHA-512",
		},
		&cli.StringFlag{
			Name:    "kafka-security-protocol",
			Usage:   "Kafka security protocol used with SASL",
			EnvVars: []string{"KAFKA_SECURITY_PROTOCOL"},
			Value:   "SASL_SSL",
		},
	}
}

func metricsFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "Host for the Prometheus metrics server (empty for all interfaces)",
			EnvVars: []string{"METRICS_HOST"},
			Value:   "",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Aliases: []string{"m"},
			Usage:   "Port for the Prometheus metrics server",
			EnvVars: []string{"METRICS_PORT"},
			Value:   9090,
		},
		&cli.StringFlag{
			Name:    "environment",
			Usage:   "Deployment environment label for metrics (e.g. production, staging)",
			EnvVars: []string{"ENVIRONMENT"},
		},
		&cli.StringFlag{
			Name:    "region",
			Usage:   "Cloud region label for metrics (e.g. us-east-1)",
			EnvVars: []string{"REGION"},
		},
		&cli.StringFlag{
			Name:    "cloud-provider",
			Usage:   "Cloud provider label for metrics (e.g. aws, gcp)",
			EnvVars: []string{"CLOUD_PROVIDER"},
		},
	}
}

func clickhouseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "clickhouse-hosts",
			Usage:   "ClickHouse server hosts (comma-separated)",
			EnvVars: []string{"CLICKHOUSE_HOSTS"},
			Value:   cli.NewStringSlice("localhost:9000"),
		},
		&cli.StringFlag{
			Name:    "clickhouse-cluster",
			Usage:   "ClickHouse cluster name. When set the state table is distributed across the cluster",
			EnvVars: []string{"CLICKHOUSE_CLUSTER"},
		},
		&cli.StringFlag{
			Name:    "clickhouse-database",
			Usage:   "ClickHouse database name",
			EnvVars: []string{"CLICKHOUSE_DATABASE"},
			Value:   "default",
		},
		&cli.StringFlag{
			Name:    "clickhouse-username",
			Usage:   "ClickHouse username",
			EnvVars: []string{"CLICKHOUSE_USERNAME"},
			Value:   "default",
		},
		&cli.StringFlag{
			Name:    "clickhouse-password",
			Usage:   "ClickHouse password",
			EnvVars: []string{"CLICKHOUSE_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "clickhouse-state-table",
			Usage:   "ClickHouse table the stream states are stored in",
			EnvVars: []string{"CLICKHOUSE_STATE_TABLE"},
			Value:   "sync_state",
		},
		&cli.BoolFlag{
			Name:    "clickhouse-debug",
			Usage:   "Enable ClickHouse debug logging",
			EnvVars: []string{"CLICKHOUSE_DEBUG"},
		},
		&cli.BoolFlag{
			Name:    "clickhouse-insecure-skip-verify",
			Usage:   "Skip TLS certificate verification for ClickHouse",
			EnvVars: []string{"CLICKHOUSE_INSECURE_SKIP_VERIFY"},
			Value:   true,
		},
		&cli.IntFlag{
			Name:    "clickhouse-max-execution-time",
			Usage:   "ClickHouse max execution time in seconds",
			EnvVars: []string{"CLICKHOUSE_MAX_EXECUTION_TIME"},
			Value:   60,
		},
		&cli.IntFlag{
			Name:    "clickhouse-dial-timeout",
			Usage:   "ClickHouse dial timeout in seconds",
			EnvVars: []string{"CLICKHOUSE_DIAL_TIMEOUT"},
			Value:   30,
		},
		&cli.IntFlag{
			Name:    "clickhouse-max-open-conns",
			Usage:   "ClickHouse maximum open connections",
			EnvVars: []string{"CLICKHOUSE_MAX_OPEN_CONNS"},
			Value:   5,
		},
		&cli.IntFlag{
			Name:    "clickhouse-max-idle-conns",
			Usage:   "ClickHouse maximum idle connections",
			EnvVars: []string{"CLICKHOUSE_MAX_IDLE_CONNS"},
			Value:   5,
		},
		&cli.IntFlag{
			Name:    "clickhouse-conn-max-lifetime",
			Usage:   "ClickHouse connection max lifetime in minutes",
			EnvVars: []string{"CLICKHOUSE_CONN_MAX_LIFETIME"},
			Value:   10,
		},
		&cli.IntFlag{
			Name:    "clickhouse-block-buffer-size",
			Usage:   "ClickHouse block buffer size",
			EnvVars: []string{"CLICKHOUSE_BLOCK_BUFFER_SIZE"},
			Value:   10,
		},
		&cli.IntFlag{
			Name:    "clickhouse-max-block-size",
			Usage:   "ClickHouse max block size (recommended maximum number of rows in a single block)",
			EnvVars: []string{"CLICKHOUSE_MAX_BLOCK_SIZE"},
			Value:   1000,
		},
		&cli.IntFlag{
			Name:    "clickhouse-max-compression-buffer",
			Usage:   "ClickHouse max compression buffer in bytes",
			EnvVars: []string{"CLICKHOUSE_MAX_COMPRESSION_BUFFER"},
			Value:   10240,
		},
		&cli.StringFlag{
			Name:    "clickhouse-client-name",
			Usage:   "ClickHouse client name for ClientInfo",
			EnvVars: []string{"CLICKHOUSE_CLIENT_NAME"},
			Value:   "insightsync",
		},
		&cli.StringFlag{
			Name:    "clickhouse-client-version",
			Usage:   "ClickHouse client version for ClientInfo",
			EnvVars: []string{"CLICKHOUSE_CLIENT_VERSION"},
			Value:   "1.0",
		},
	}
}
