package executor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/jg100/airbyte/pkg/metrics"
	"github.com/jg100/airbyte/pkg/slidingwindow"
	"github.com/jg100/airbyte/pkg/slidingwindow/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrMaxFailuresExceeded is returned when a job kept failing after all retries.
var ErrMaxFailuresExceeded = errors.New("max failures exceeded")

// Executor runs extraction jobs with bounded concurrency and hands their
// results back in submission order.
type Executor struct {
	log     *zap.SugaredLogger
	worker  worker.Worker
	metrics *metrics.Metrics

	concurrency int64
	// A job is abandoned once it failed maxFailures times.
	maxFailures  int
	retryBackoff time.Duration
}

var _ slidingwindow.Executor = (*Executor)(nil)

// New creates an Executor and returns an error if arguments are invalid.
// Constraints: concurrency>0; maxFailures>0; retryBackoff>=0.
func New(
	log *zap.SugaredLogger,
	w worker.Worker,
	concurrency int64,
	maxFailures int,
	retryBackoff time.Duration,
	m *metrics.Metrics,
) (*Executor, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if w == nil {
		return nil, errors.New("invalid worker: must not be nil")
	}
	if concurrency <= 0 {
		return nil, errors.New("invalid concurrency: must be greater than 0")
	}
	if maxFailures <= 0 {
		return nil, errors.New("invalid max failures: must be greater than 0")
	}
	if retryBackoff < 0 {
		return nil, errors.New("invalid retry backoff: must not be negative")
	}

	return &Executor{
		log:          log,
		worker:       w,
		metrics:      m,
		concurrency:  concurrency,
		maxFailures:  maxFailures,
		retryBackoff: retryBackoff,
	}, nil
}

// slot holds the outcome of one job. records and err are written before done
// is closed and read only after.
type slot struct {
	done    chan struct{}
	records []slidingwindow.Record
	err     error
}

// Run starts the jobs in submission order, at most concurrency at a time, and
// returns an iterator over their results in the same order. The iterator
// blocks on the next job in order even when later jobs already finished.
// A job that exhausted its attempts is yielded as an error and ends the
// iteration. Stopping the iteration cancels all outstanding jobs.
func (e *Executor) Run(ctx context.Context, specs []slidingwindow.JobSpec) iter.Seq2[slidingwindow.CompletedJob, error] {
	return func(yield func(slidingwindow.CompletedJob, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		defer func() {
			cancel()
			wg.Wait()
		}()

		slots := make([]*slot, len(specs))
		for i := range slots {
			slots[i] = &slot{done: make(chan struct{})}
		}

		sem := semaphore.NewWeighted(e.concurrency)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, spec := range specs {
				if err := sem.Acquire(ctx, 1); err != nil {
					for _, s := range slots[i:] {
						s.err = err
						close(s.done)
					}
					return
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer sem.Release(1)
					e.process(ctx, spec, slots[i])
				}()
			}
		}()

		for i, s := range slots {
			select {
			case <-ctx.Done():
				yield(slidingwindow.CompletedJob{}, ctx.Err())
				return
			case <-s.done:
			}
			if s.err != nil {
				yield(slidingwindow.CompletedJob{}, fmt.Errorf("window %s: %w", specs[i].Window, s.err))
				return
			}
			job := slidingwindow.CompletedJob{Spec: specs[i], Records: s.records}
			s.records = nil
			if !yield(job, nil) {
				return
			}
		}
	}
}

// process runs a job until it succeeds, its attempts are exhausted or ctx is done.
func (e *Executor) process(ctx context.Context, spec slidingwindow.JobSpec, s *slot) {
	defer close(s.done)

	for attempt := 1; ; attempt++ {
		start := time.Now()
		e.metrics.IncJobsInFlight()
		records, err := e.worker.Process(ctx, spec)
		e.metrics.DecJobsInFlight()
		e.metrics.RecordJob(err, time.Since(start).Seconds())

		if err == nil {
			s.records = records
			return
		}
		if ctx.Err() != nil {
			s.err = ctx.Err()
			return
		}
		if attempt >= e.maxFailures {
			e.log.Errorw("giving up on window", "window", spec.Window.String(), "attempts", attempt, "error", err)
			s.err = fmt.Errorf("%w: failed after %d attempts: %w", ErrMaxFailuresExceeded, attempt, err)
			return
		}

		e.log.Warnw("failed processing window, retrying",
			"window", spec.Window.String(),
			"attempt", attempt,
			"error", err,
		)
		e.metrics.IncJobRetries()
		select {
		case <-ctx.Done():
			s.err = ctx.Err()
			return
		case <-time.After(e.retryBackoff):
		}
	}
}
