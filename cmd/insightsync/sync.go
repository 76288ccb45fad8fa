package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jg100/airbyte/pkg/checkpointer"
	"github.com/jg100/airbyte/pkg/executor"
	"github.com/jg100/airbyte/pkg/insightsapi"
	"github.com/jg100/airbyte/pkg/kafka"
	"github.com/jg100/airbyte/pkg/metrics"
	"github.com/jg100/airbyte/pkg/slidingwindow"
	"github.com/jg100/airbyte/pkg/slidingwindow/worker"
	"github.com/jg100/airbyte/pkg/streams"
)

// streamSync runs the sync of one stream and persists its state.
type streamSync struct {
	log     *zap.SugaredLogger
	name    string
	manager *slidingwindow.Manager
	sink    *kafka.Sink
	store   checkpointer.Checkpointer
	metrics *metrics.Metrics

	checkpoint          checkpointer.Config
	gapWatchdogInterval time.Duration
	maxLagDays          int
	maxTracked          int
}

// newStreamSync wires the stream's API client, executor and manager, and
// restores the persisted state of the stream.
func newStreamSync(
	ctx context.Context,
	cfg *Config,
	apiCfg insightsapi.Config,
	def streams.Definition,
	store checkpointer.Checkpointer,
	producer kafka.RecordProducer,
	reg prometheus.Registerer,
	log *zap.SugaredLogger,
) (*streamSync, error) {
	log = log.With("stream", def.Name)

	m, err := metrics.NewWithLabels(reg, metrics.Labels{
		Stream:        def.Name,
		Environment:   cfg.Environment,
		Region:        cfg.Region,
		CloudProvider: cfg.CloudProvider,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	client, err := insightsapi.NewClient(ctx, log, apiCfg, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create insights client: %w", err)
	}
	w, err := worker.NewInsightsWorker(client, log, cfg.PollInterval, cfg.JobTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}
	exec, err := executor.New(log, w, cfg.Concurrency, cfg.MaxFailures, cfg.RetryBackoff, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}
	mgr, err := slidingwindow.NewManager(log, def.Apply(cfg.Window), exec, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create manager: %w", err)
	}
	if err := restoreState(ctx, log, mgr, store); err != nil {
		return nil, err
	}

	sink, err := kafka.NewSink(producer, cfg.Kafka.Topic, def.Name, def.PrimaryKey(), m)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink: %w", err)
	}

	return &streamSync{
		log:                 log,
		name:                def.Name,
		manager:             mgr,
		sink:                sink,
		store:               store,
		metrics:             m,
		checkpoint:          cfg.Checkpoint,
		gapWatchdogInterval: cfg.GapWatchdogInterval,
		maxLagDays:          cfg.GapWatchdogMaxLagDays,
		maxTracked:          cfg.GapWatchdogMaxTracked,
	}, nil
}

func restoreState(ctx context.Context, log *zap.SugaredLogger, mgr *slidingwindow.Manager, store checkpointer.Checkpointer) error {
	stream := mgr.Config().Stream
	blob, exists, err := store.Read(ctx, stream)
	if err != nil {
		return fmt.Errorf("failed to read state of stream %s: %w", stream, err)
	}
	if !exists {
		log.Infow("state not found, starting from the start date", "startDate", slidingwindow.FormatDate(mgr.Config().StartDate))
		return nil
	}
	if err := mgr.Load(blob); err != nil {
		return err
	}
	s := mgr.State()
	cursor, _ := s.Cursor()
	log.Infow("state restored",
		"cursor", formatDate(cursor),
		"trackedWindows", s.Len(),
		"granularityDays", s.Granularity(),
	)
	return nil
}

// run syncs the stream once. The state is checkpointed periodically while the
// sync runs and one last time when it ends, whether it succeeded or not.
func (s *streamSync) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	bgCtx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		return checkpointer.Start(bgCtx, s.manager, s.store, s.checkpoint, s.name, s.metrics)
	})
	g.Go(func() error {
		slidingwindow.StartGapWatchdog(bgCtx, s.log, s.manager, s.gapWatchdogInterval, s.maxLagDays, s.maxTracked)
		return nil
	})

	syncErr := s.sync(bgCtx)
	stop()
	if err := g.Wait(); err != nil {
		return errors.Join(syncErr, err)
	}
	return syncErr
}

func (s *streamSync) sync(ctx context.Context) error {
	start := time.Now()
	published := 0
	for rec, err := range s.manager.Sync(ctx) {
		if err != nil {
			return err
		}
		if err := s.sink.Publish(ctx, rec); err != nil {
			return fmt.Errorf("failed to publish record of stream %s: %w", s.name, err)
		}
		published++
	}

	st := s.manager.State()
	cursor, _ := st.Cursor()
	s.log.Infow("sync finished",
		"runID", s.sink.RunID(),
		"records", published,
		"cursor", formatDate(cursor),
		"resumePointer", formatDate(s.manager.ResumePointer()),
		"trackedWindows", st.Len(),
		"duration", time.Since(start),
	)
	return nil
}

// formatDate formats d, or returns an empty string for the zero time.
func formatDate(d time.Time) string {
	if d.IsZero() {
		return ""
	}
	return slidingwindow.FormatDate(d)
}
