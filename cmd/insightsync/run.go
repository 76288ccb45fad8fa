package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	confluentKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/jg100/airbyte/pkg/insightsapi"
	"github.com/jg100/airbyte/pkg/kafka"
	"github.com/jg100/airbyte/pkg/metrics"
	"github.com/jg100/airbyte/pkg/slidingwindow"
	"github.com/jg100/airbyte/pkg/utils"
)

func run(c *cli.Context) error {
	// Build configuration from CLI flags
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	apiCfg, err := insightsapi.Load()
	if err != nil {
		return err
	}

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"streams", cfg.StreamNames(),
		"startDate", slidingwindow.FormatDate(cfg.Window.StartDate),
		"endDate", formatDate(cfg.Window.EndDate),
		"retention", cfg.Window.Retention.String(),
		"lookback", cfg.Window.Lookback.String(),
		"concurrency", cfg.Concurrency,
		"maxFailures", cfg.MaxFailures,
		"retryBackoff", cfg.RetryBackoff,
		"pollInterval", cfg.PollInterval,
		"jobTimeout", cfg.JobTimeout,
		"apiBaseURL", apiCfg.BaseURL,
		"apiVersion", apiCfg.APIVersion,
		"accountID", apiCfg.AccountID,
		"kafkaBrokers", cfg.Kafka.Brokers,
		"kafkaTopic", cfg.Kafka.Topic,
		"stateBackend", cfg.StateBackend,
		"clickhouseCluster", cfg.ClickHouse.Cluster,
		"clickhouseDatabase", cfg.ClickHouse.Database,
		"clickhouseStateTable", cfg.ClickHouse.StateTable,
		"checkpointInterval", cfg.Checkpoint.Interval,
		"metricsHost", cfg.MetricsHost,
		"metricsPort", cfg.MetricsPort,
		"environment", cfg.Environment,
		"region", cfg.Region,
		"cloudProvider", cfg.CloudProvider,
	)

	registry := prometheus.NewRegistry()

	// Start metrics server
	metricsServer := metrics.NewServer(cfg.MetricsAddr(), registry)
	metricsErrCh, err := metricsServer.Start()
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	sugar.Infof("metrics server listening on http://%s/metrics", metricsServer.Addr())
	defer func() {
		sugar.Info("shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			sugar.Warnw("metrics server shutdown error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.StateBackend, cfg.ClickHouse, sugar)
	if err != nil {
		return err
	}
	defer closeStore()

	// Create Kafka admin client to ensure topic exists
	kafkaAdminClient, err := confluentKafka.NewAdminClient(cfg.Kafka.AdminConfigMap())
	if err != nil {
		return fmt.Errorf("failed to create kafka admin client: %w", err)
	}
	defer kafkaAdminClient.Close()

	if err := kafka.EnsureTopic(ctx, kafkaAdminClient, cfg.Kafka.TopicConfig(), sugar); err != nil {
		return fmt.Errorf("failed to ensure kafka topic exists: %w", err)
	}

	producer, err := kafka.NewProducer(ctx, cfg.Kafka.ConfigMap(), sugar)
	if err != nil {
		return fmt.Errorf("failed to create kafka producer: %w", err)
	}
	defer producer.Close(kafka.DefaultFlushTimeout)

	syncs := make([]*streamSync, 0, len(cfg.Streams))
	for _, def := range cfg.Streams {
		s, err := newStreamSync(ctx, cfg, apiCfg, def, store, producer, registry, sugar)
		if err != nil {
			return fmt.Errorf("failed to set up stream %s: %w", def.Name, err)
		}
		syncs = append(syncs, s)
	}

	metricsServer.SetReady(true)
	defer metricsServer.SetReady(false)

	g, gctx := errgroup.WithContext(ctx)
	// The metrics server and the producer are watched until every stream is done.
	auxCtx, stopAux := context.WithCancel(gctx)
	defer stopAux()

	g.Go(func() error {
		select {
		case <-auxCtx.Done():
			return nil
		case err := <-metricsErrCh:
			if err != nil {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		}
	})
	g.Go(func() error {
		select {
		case <-auxCtx.Done():
			return nil
		case err := <-producer.Errors():
			return err
		}
	})
	g.Go(func() error {
		defer stopAux()
		sg, sctx := errgroup.WithContext(gctx)
		for _, s := range syncs {
			sg.Go(func() error {
				return s.run(sctx)
			})
		}
		return sg.Wait()
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		sugar.Infow("exiting due to context cancellation")
		err = nil
	} else if err != nil {
		sugar.Errorw("run failed", "error", err)
	}

	sugar.Info("shutdown complete")
	return err
}
