package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jg100/airbyte/pkg/insightsapi"
	"github.com/jg100/airbyte/pkg/slidingwindow"
	"go.uber.org/zap"
)

// ReportClient is the part of the insights API used to run report jobs.
type ReportClient interface {
	SubmitReport(ctx context.Context, w slidingwindow.Window, params slidingwindow.Params) (string, error)
	ReportStatus(ctx context.Context, runID string) (*insightsapi.ReportRun, error)
	ReportResults(ctx context.Context, runID, after string) (*insightsapi.Page, error)
}

// InsightsWorker runs one asynchronous report job per window: it submits the
// job, polls it until it finishes and reads every result page.
type InsightsWorker struct {
	client       ReportClient
	log          *zap.SugaredLogger
	pollInterval time.Duration
	jobTimeout   time.Duration
}

var _ Worker = (*InsightsWorker)(nil)

func NewInsightsWorker(
	client ReportClient,
	log *zap.SugaredLogger,
	pollInterval, jobTimeout time.Duration,
) (*InsightsWorker, error) {
	if client == nil {
		return nil, errors.New("invalid client: must not be nil")
	}
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if pollInterval <= 0 {
		return nil, errors.New("invalid poll interval: must be greater than 0")
	}
	if jobTimeout <= 0 {
		return nil, errors.New("invalid job timeout: must be greater than 0")
	}
	return &InsightsWorker{
		client:       client,
		log:          log,
		pollInterval: pollInterval,
		jobTimeout:   jobTimeout,
	}, nil
}

func (w *InsightsWorker) Process(ctx context.Context, spec slidingwindow.JobSpec) ([]slidingwindow.Record, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	runID, err := w.client.SubmitReport(ctx, spec.Window, spec.Params)
	if err != nil {
		return nil, w.timeoutOr(ctx, err)
	}
	w.log.Debugw("report job submitted", "window", spec.Window.String(), "runID", runID)

	if err := w.wait(ctx, runID); err != nil {
		return nil, fmt.Errorf("window %s run %s: %w", spec.Window, runID, err)
	}

	var records []slidingwindow.Record
	after := ""
	for {
		page, err := w.client.ReportResults(ctx, runID, after)
		if err != nil {
			return nil, w.timeoutOr(ctx, err)
		}
		records = append(records, page.Records...)
		if page.After == "" {
			break
		}
		after = page.After
	}

	w.log.Debugw("report job finished",
		"window", spec.Window.String(),
		"runID", runID,
		"records", len(records),
		"duration", time.Since(start),
	)
	return records, nil
}

// wait polls the report run until it completed, failed or ctx is done.
func (w *InsightsWorker) wait(ctx context.Context, runID string) error {
	t := time.NewTicker(w.pollInterval)
	defer t.Stop()
	for {
		run, err := w.client.ReportStatus(ctx, runID)
		if err != nil {
			return w.timeoutOr(ctx, err)
		}
		switch run.Status {
		case insightsapi.StatusCompleted:
			return nil
		case insightsapi.StatusFailed:
			return ErrJobFailed
		case insightsapi.StatusSkipped:
			return ErrJobSkipped
		}

		select {
		case <-ctx.Done():
			return w.timeoutOr(ctx, ctx.Err())
		case <-t.C:
		}
	}
}

// timeoutOr maps an error caused by the job deadline to ErrJobTimedOut.
func (w *InsightsWorker) timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrJobTimedOut, w.jobTimeout, err)
	}
	return err
}
