package slidingwindow

import (
	"context"
	"iter"
	"time"
)

// Record is a single result row returned by an extraction job.
type Record = map[string]any

// Params are request parameters shared by every job of a stream (fields,
// breakdowns, level, ...). They are forwarded to the executor unchanged.
type Params = map[string]any

// JobSpec describes one extraction job: a window and the shared request parameters.
type JobSpec struct {
	Window Window
	Params Params
}

// CompletedJob is a finished extraction job with its result rows.
type CompletedJob struct {
	Spec    JobSpec
	Records []Record
}

// Executor runs extraction jobs concurrently and hands back their results
// strictly in the order the specs were submitted. A failed job surfaces as an
// error at its position, after which iteration stops.
type Executor interface {
	Run(ctx context.Context, specs []JobSpec) iter.Seq2[CompletedJob, error]
}

// Config configures the windowing of one stream.
type Config struct {
	Stream          string
	StartDate       time.Time
	EndDate         time.Time // zero means up to yesterday.
	GranularityDays int
	Retention       Period
	Lookback        Period
	// UpdatedAtField enables freshness filtering of records when set.
	UpdatedAtField string
	Params         Params
}
